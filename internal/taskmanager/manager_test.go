package taskmanager

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func waitForState(t *testing.T, mgr *Manager, taskID string, want TaskState, timeout time.Duration) *TaskRecord {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		rec, err := mgr.Get(taskID)
		if err != nil {
			t.Fatalf("get %s: %v", taskID, err)
		}
		if rec.State == want {
			return rec
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for task %s to reach state %s", taskID, want)
	return nil
}

func TestTaskLifecycle(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HistoryTTL = 0
	mgr := NewManager(cfg, nil, nil)
	defer mgr.Shutdown()

	var mu sync.Mutex
	completions := 0
	mgr.OnTaskComplete(func(*TaskRecord) {
		mu.Lock()
		completions++
		mu.Unlock()
	})

	if err := mgr.Submit("t1", TaskGeneric, func(ctx context.Context, report ProgressFunc) (interface{}, error) {
		time.Sleep(50 * time.Millisecond)
		return map[string]bool{"ok": true}, nil
	}, nil); err != nil {
		t.Fatalf("submit t1: %v", err)
	}
	rec := waitForState(t, mgr, "t1", StateCompleted, time.Second)
	if rec.Result == nil {
		t.Fatal("expected result on completed task")
	}

	if err := mgr.Submit("t2", TaskGeneric, func(ctx context.Context, report ProgressFunc) (interface{}, error) {
		return nil, errors.New("boom")
	}, nil); err != nil {
		t.Fatalf("submit t2: %v", err)
	}
	rec = waitForState(t, mgr, "t2", StateFailed, time.Second)
	if rec.Error == "" {
		t.Fatal("expected error string on failed task")
	}

	block := make(chan struct{})
	if err := mgr.Submit("t3", TaskGeneric, func(ctx context.Context, report ProgressFunc) (interface{}, error) {
		<-ctx.Done()
		close(block)
		return nil, ctx.Err()
	}, nil); err != nil {
		t.Fatalf("submit t3: %v", err)
	}
	// give the worker a moment to move t3 into running before cancelling
	waitForState(t, mgr, "t3", StateRunning, time.Second)
	if !mgr.Cancel("t3") {
		t.Fatal("expected cancel to report a state change")
	}
	select {
	case <-block:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for cancelled task to observe ctx.Done()")
	}

	rec, err := mgr.Get("t3")
	if err != nil {
		t.Fatalf("get t3: %v", err)
	}
	if rec.State != StateCancelled {
		t.Fatalf("expected t3 cancelled, got %s", rec.State)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := completions
		mu.Unlock()
		if n == 3 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	mu.Lock()
	defer mu.Unlock()
	if completions != 3 {
		t.Fatalf("expected completion callback to fire exactly 3 times, got %d", completions)
	}
}

func TestSubmitDuplicateIDFails(t *testing.T) {
	mgr := NewManager(DefaultConfig(), nil, nil)
	defer mgr.Shutdown()

	fn := func(ctx context.Context, report ProgressFunc) (interface{}, error) { return nil, nil }
	if err := mgr.Submit("dup", TaskGeneric, fn, nil); err != nil {
		t.Fatalf("first submit: %v", err)
	}
	if err := mgr.Submit("dup", TaskGeneric, fn, nil); err == nil {
		t.Fatal("expected duplicate id to fail")
	}
}

func TestUpdateProgressClampedAndRunningOnly(t *testing.T) {
	mgr := NewManager(DefaultConfig(), nil, nil)
	defer mgr.Shutdown()

	started := make(chan struct{})
	release := make(chan struct{})
	if err := mgr.Submit("p1", TaskGeneric, func(ctx context.Context, report ProgressFunc) (interface{}, error) {
		close(started)
		report(500)
		<-release
		return nil, nil
	}, nil); err != nil {
		t.Fatalf("submit: %v", err)
	}

	<-started
	time.Sleep(20 * time.Millisecond)
	rec, err := mgr.Get("p1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.Progress != 100 {
		t.Fatalf("expected progress clamped to 100, got %d", rec.Progress)
	}

	close(release)
	waitForState(t, mgr, "p1", StateCompleted, time.Second)

	if err := mgr.UpdateProgress("p1", 42); err != nil {
		t.Fatalf("update progress on completed task should be a no-op, got err: %v", err)
	}
	rec, _ = mgr.Get("p1")
	if rec.Progress != 100 {
		t.Fatalf("expected progress to stay 100 after task completed, got %d", rec.Progress)
	}
}

func TestListSortedByCreationDescending(t *testing.T) {
	mgr := NewManager(DefaultConfig(), nil, nil)
	defer mgr.Shutdown()

	release := make(chan struct{})
	fn := func(ctx context.Context, report ProgressFunc) (interface{}, error) {
		<-release
		return nil, nil
	}
	for _, id := range []string{"a", "b", "c"} {
		if err := mgr.Submit(id, TaskGeneric, fn, nil); err != nil {
			t.Fatalf("submit %s: %v", id, err)
		}
		time.Sleep(5 * time.Millisecond)
	}
	close(release)

	list := mgr.List("", "", 0)
	if len(list) != 3 {
		t.Fatalf("expected 3 records, got %d", len(list))
	}
	for i := 1; i < len(list); i++ {
		if list[i-1].CreatedAt.Before(list[i].CreatedAt) {
			t.Fatal("expected records sorted by creation time descending")
		}
	}
}

func TestClearCompletedRemovesOnlyTerminal(t *testing.T) {
	mgr := NewManager(DefaultConfig(), nil, nil)
	defer mgr.Shutdown()

	if err := mgr.Submit("done", TaskGeneric, func(ctx context.Context, report ProgressFunc) (interface{}, error) {
		return nil, nil
	}, nil); err != nil {
		t.Fatalf("submit: %v", err)
	}
	waitForState(t, mgr, "done", StateCompleted, time.Second)

	release := make(chan struct{})
	defer close(release)
	if err := mgr.Submit("running", TaskGeneric, func(ctx context.Context, report ProgressFunc) (interface{}, error) {
		<-release
		return nil, nil
	}, nil); err != nil {
		t.Fatalf("submit: %v", err)
	}

	removed := mgr.ClearCompleted()
	if removed != 1 {
		t.Fatalf("expected 1 record cleared, got %d", removed)
	}
	if _, err := mgr.Get("running"); err != nil {
		t.Fatal("expected running task to remain")
	}
}
