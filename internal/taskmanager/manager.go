package taskmanager

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/poppopjmp/spiderfoot-sub008/internal/errors"
	"github.com/poppopjmp/spiderfoot-sub008/internal/logging"
	"github.com/poppopjmp/spiderfoot-sub008/internal/metrics"
)

// CompletionCallback is invoked once per terminal transition. Panics inside
// the callback are recovered and logged, never propagated to the worker.
type CompletionCallback func(record *TaskRecord)

// Config controls worker pool size and retention.
type Config struct {
	Workers     int           // number of concurrent task goroutines
	MaxHistory  int           // terminal records kept before LRU pruning
	HistoryTTL  time.Duration // cron sweep drops terminal records older than this; 0 disables
	SweepCron   string        // robfig/cron schedule for the TTL sweep, default "@every 1m"
}

// DefaultConfig returns sane defaults matching the teacher's own
// periodic-cleanup cadence.
func DefaultConfig() Config {
	return Config{
		Workers:    4,
		MaxHistory: 500,
		HistoryTTL: 24 * time.Hour,
		SweepCron:  "@every 1m",
	}
}

type job struct {
	taskID string
	fn     TaskFunc
}

// Manager tracks background jobs through the queued/running/terminal state
// machine, pruning by completion time once the terminal record count exceeds
// MaxHistory.
type Manager struct {
	cfg    Config
	logger *logging.Logger
	m      *metrics.Metrics

	mu      sync.Mutex
	records map[string]*TaskRecord
	cancels map[string]context.CancelFunc

	callbacksMu sync.RWMutex
	callbacks   []CompletionCallback

	jobs chan job

	cron     *cron.Cron
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewManager starts a Manager with cfg.Workers background goroutines pulling
// from an unbuffered job queue, plus a cron-driven TTL sweep.
func NewManager(cfg Config, logger *logging.Logger, m *metrics.Metrics) *Manager {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.MaxHistory <= 0 {
		cfg.MaxHistory = 500
	}
	if cfg.SweepCron == "" {
		cfg.SweepCron = "@every 1m"
	}

	mgr := &Manager{
		cfg:     cfg,
		logger:  logger,
		m:       m,
		records: make(map[string]*TaskRecord),
		cancels: make(map[string]context.CancelFunc),
		jobs:    make(chan job),
	}

	for i := 0; i < cfg.Workers; i++ {
		mgr.wg.Add(1)
		go mgr.worker()
	}

	if cfg.HistoryTTL > 0 {
		c := cron.New()
		if _, err := c.AddFunc(cfg.SweepCron, mgr.sweepExpired); err != nil && logger != nil {
			logger.WithError(err).Warn("task manager sweep schedule invalid, TTL sweep disabled")
		} else {
			c.Start()
			mgr.cron = c
		}
	}

	return mgr
}

// Shutdown stops the cron sweep and closes the job queue, letting in-flight
// workers drain.
func (mgr *Manager) Shutdown() {
	mgr.stopOnce.Do(func() {
		if mgr.cron != nil {
			mgr.cron.Stop()
		}
		close(mgr.jobs)
		mgr.wg.Wait()
	})
}

// Submit registers a new record in StateQueued and schedules fn on the
// worker pool. Duplicate ids fail.
func (mgr *Manager) Submit(taskID string, taskType TaskType, fn TaskFunc, meta map[string]interface{}) error {
	mgr.mu.Lock()
	if _, exists := mgr.records[taskID]; exists {
		mgr.mu.Unlock()
		return fmt.Errorf("task %s already exists", taskID)
	}
	mgr.records[taskID] = &TaskRecord{
		ID:        taskID,
		Type:      taskType,
		State:     StateQueued,
		Metadata:  meta,
		CreatedAt: time.Now().UTC(),
	}
	mgr.mu.Unlock()

	if mgr.m != nil {
		mgr.m.RecordTaskSubmitted(string(taskType))
	}

	mgr.jobs <- job{taskID: taskID, fn: fn}
	return nil
}

// Get returns a defensive copy of the record, or errors.TaskNotFound.
func (mgr *Manager) Get(taskID string) (*TaskRecord, error) {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()
	rec, ok := mgr.records[taskID]
	if !ok {
		return nil, errors.TaskNotFound(taskID)
	}
	return rec.Clone(), nil
}

// List returns records matching the optional state/type filters, sorted by
// creation time descending, capped at limit (0 = unbounded).
func (mgr *Manager) List(state TaskState, taskType TaskType, limit int) []*TaskRecord {
	mgr.mu.Lock()
	matches := make([]*TaskRecord, 0, len(mgr.records))
	for _, rec := range mgr.records {
		if state != "" && rec.State != state {
			continue
		}
		if taskType != "" && rec.Type != taskType {
			continue
		}
		matches = append(matches, rec.Clone())
	}
	mgr.mu.Unlock()

	sort.Slice(matches, func(i, j int) bool {
		return matches[i].CreatedAt.After(matches[j].CreatedAt)
	})

	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches
}

// UpdateProgress clamps pct to [0, 100] and applies it only while the record
// is running.
func (mgr *Manager) UpdateProgress(taskID string, pct int) error {
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}

	mgr.mu.Lock()
	defer mgr.mu.Unlock()
	rec, ok := mgr.records[taskID]
	if !ok {
		return errors.TaskNotFound(taskID)
	}
	if rec.State != StateRunning {
		return nil
	}
	rec.Progress = pct
	return nil
}

// Cancel transitions a non-terminal task to cancelled and cancels its
// context if running. Returns true only on an actual state change.
func (mgr *Manager) Cancel(taskID string) bool {
	mgr.mu.Lock()
	rec, ok := mgr.records[taskID]
	if !ok || rec.State.IsTerminal() {
		mgr.mu.Unlock()
		return false
	}

	from := rec.State
	rec.State = StateCancelled
	rec.CompletedAt = time.Now().UTC()
	cancel := mgr.cancels[taskID]
	delete(mgr.cancels, taskID)
	clone := rec.Clone()
	mgr.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	mgr.logTransition(taskID, from, StateCancelled)
	mgr.afterTerminal(clone)
	return true
}

// ClearCompleted removes every terminal record and returns the count
// removed.
func (mgr *Manager) ClearCompleted() int {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()
	removed := 0
	for id, rec := range mgr.records {
		if rec.State.IsTerminal() {
			delete(mgr.records, id)
			removed++
		}
	}
	return removed
}

// OnTaskComplete registers a listener invoked once per terminal transition.
func (mgr *Manager) OnTaskComplete(cb CompletionCallback) {
	mgr.callbacksMu.Lock()
	mgr.callbacks = append(mgr.callbacks, cb)
	mgr.callbacksMu.Unlock()
}

func (mgr *Manager) worker() {
	defer mgr.wg.Done()
	for j := range mgr.jobs {
		mgr.run(j)
	}
}

func (mgr *Manager) run(j job) {
	ctx, cancel := context.WithCancel(context.Background())

	mgr.mu.Lock()
	rec, ok := mgr.records[j.taskID]
	if !ok {
		mgr.mu.Unlock()
		cancel()
		return
	}
	if rec.State.IsTerminal() {
		// Cancel() won the race against this worker picking up the job off
		// the channel; a terminal state is absorbing and must not be
		// clobbered back to running.
		mgr.mu.Unlock()
		cancel()
		return
	}
	rec.State = StateRunning
	rec.StartedAt = time.Now().UTC()
	mgr.cancels[j.taskID] = cancel
	mgr.mu.Unlock()

	mgr.logTransition(j.taskID, StateQueued, StateRunning)

	report := func(pct int) { _ = mgr.UpdateProgress(j.taskID, pct) }

	result, err := mgr.invoke(ctx, j.fn, report)

	mgr.mu.Lock()
	rec, ok = mgr.records[j.taskID]
	if !ok {
		mgr.mu.Unlock()
		return
	}
	if rec.State.IsTerminal() {
		// already cancelled by a concurrent Cancel call
		mgr.mu.Unlock()
		return
	}
	delete(mgr.cancels, j.taskID)
	from := rec.State
	rec.CompletedAt = time.Now().UTC()
	if err != nil {
		rec.State = StateFailed
		rec.Error = err.Error()
	} else {
		rec.State = StateCompleted
		rec.Result = result
	}
	clone := rec.Clone()
	mgr.mu.Unlock()

	if mgr.m != nil {
		mgr.m.RecordTaskCompleted(string(clone.Type), string(clone.State), clone.CompletedAt.Sub(clone.StartedAt))
	}

	mgr.logTransition(j.taskID, from, clone.State)
	mgr.afterTerminal(clone)
}

// invoke runs fn with panic recovery, turning a panic into the same failure
// path as a returned error.
func (mgr *Manager) invoke(ctx context.Context, fn TaskFunc, report ProgressFunc) (result interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return fn(ctx, report)
}

func (mgr *Manager) afterTerminal(rec *TaskRecord) {
	mgr.callbacksMu.RLock()
	callbacks := append([]CompletionCallback(nil), mgr.callbacks...)
	mgr.callbacksMu.RUnlock()

	for _, cb := range callbacks {
		mgr.safeInvokeCallback(cb, rec)
	}

	mgr.pruneByHistory()
}

func (mgr *Manager) safeInvokeCallback(cb CompletionCallback, rec *TaskRecord) {
	defer func() {
		if r := recover(); r != nil && mgr.logger != nil {
			mgr.logger.WithFields(map[string]interface{}{
				"task_id": rec.ID,
				"panic":   r,
			}).Error("task completion callback panicked")
		}
	}()
	cb(rec)
}

// pruneByHistory drops the oldest terminal records by completion time once
// the terminal count exceeds MaxHistory.
func (mgr *Manager) pruneByHistory() {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()

	terminal := make([]*TaskRecord, 0, len(mgr.records))
	for _, rec := range mgr.records {
		if rec.State.IsTerminal() {
			terminal = append(terminal, rec)
		}
	}
	if len(terminal) <= mgr.cfg.MaxHistory {
		return
	}

	sort.Slice(terminal, func(i, j int) bool {
		return terminal[i].CompletedAt.Before(terminal[j].CompletedAt)
	})

	excess := len(terminal) - mgr.cfg.MaxHistory
	for i := 0; i < excess; i++ {
		delete(mgr.records, terminal[i].ID)
	}
}

// sweepExpired drops terminal records older than HistoryTTL, run periodically
// by cron rather than a count cap.
func (mgr *Manager) sweepExpired() {
	if mgr.cfg.HistoryTTL <= 0 {
		return
	}
	cutoff := time.Now().Add(-mgr.cfg.HistoryTTL)

	mgr.mu.Lock()
	removed := 0
	for id, rec := range mgr.records {
		if rec.State.IsTerminal() && rec.CompletedAt.Before(cutoff) {
			delete(mgr.records, id)
			removed++
		}
	}
	mgr.mu.Unlock()

	if removed > 0 && mgr.logger != nil {
		mgr.logger.WithFields(map[string]interface{}{
			"removed": removed,
		}).Debug("task manager TTL sweep removed expired records")
	}
}

func (mgr *Manager) logTransition(taskID string, from, to TaskState) {
	if mgr.logger != nil {
		mgr.logger.LogTaskTransition(context.Background(), taskID, string(from), string(to))
	}
}

// InProgress returns the current count of queued+running records, suitable
// for a gauge.
func (mgr *Manager) InProgress() int {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()
	count := 0
	for _, rec := range mgr.records {
		if rec.State == StateQueued || rec.State == StateRunning {
			count++
		}
	}
	return count
}
