package persistence

import (
	"testing"
	"time"
)

func TestMemoryStoreSaveGetRoundTrip(t *testing.T) {
	store := NewMemoryStore()
	report := &Report{ID: "r1", ScanID: "scan1", Title: "hello", Status: "running"}

	if err := store.Save(report); err != nil {
		t.Fatalf("save: %v", err)
	}
	if report.UpdatedAt.IsZero() || report.CreatedAt.IsZero() {
		t.Fatal("expected created_at/updated_at to be stamped on save")
	}

	got, err := store.Get("r1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Title != "hello" {
		t.Fatalf("expected title round-trip, got %q", got.Title)
	}
}

func TestMemoryStorePreservesCreatedAtAcrossUpdate(t *testing.T) {
	store := NewMemoryStore()
	report := &Report{ID: "r1", ScanID: "scan1"}
	if err := store.Save(report); err != nil {
		t.Fatalf("save: %v", err)
	}
	firstCreated := report.CreatedAt

	time.Sleep(5 * time.Millisecond)
	update := &Report{ID: "r1", ScanID: "scan1", Status: "completed"}
	if err := store.Save(update); err != nil {
		t.Fatalf("update: %v", err)
	}
	if !update.CreatedAt.Equal(firstCreated) {
		t.Fatal("expected created_at preserved across update")
	}
	if !update.UpdatedAt.After(firstCreated) {
		t.Fatal("expected updated_at to advance")
	}
}

func TestMemoryStoreGetMissingReturnsNotFound(t *testing.T) {
	store := NewMemoryStore()
	if _, err := store.Get("missing"); err == nil {
		t.Fatal("expected error for missing record")
	}
}

func TestMemoryStoreListFiltersAndOrdersByCreatedDescending(t *testing.T) {
	store := NewMemoryStore()
	for i, id := range []string{"a", "b", "c"} {
		scan := "scan1"
		if i == 2 {
			scan = "scan2"
		}
		_ = store.Save(&Report{ID: id, ScanID: scan})
		time.Sleep(2 * time.Millisecond)
	}

	list, err := store.List(Filters{ScanID: "scan1"}, 0, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 results for scan1, got %d", len(list))
	}
	if list[0].ID != "b" || list[1].ID != "a" {
		t.Fatalf("expected descending creation order, got %v", []string{list[0].ID, list[1].ID})
	}
}

func TestMemoryStoreCleanupOld(t *testing.T) {
	store := NewMemoryStore()
	old := &Report{ID: "old", ScanID: "s"}
	_ = store.Save(old)
	store.reports["old"].CreatedAt = time.Now().AddDate(0, 0, -10)

	removed, err := store.CleanupOld(5)
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 removed, got %d", removed)
	}
}

func TestCachedStoreTTLZeroDisablesExpiry(t *testing.T) {
	backend := NewMemoryStore()
	cached, err := NewCachedStore(backend, 10, 0)
	if err != nil {
		t.Fatalf("new cached store: %v", err)
	}

	report := &Report{ID: "r1", ScanID: "s"}
	if err := cached.Save(report); err != nil {
		t.Fatalf("save: %v", err)
	}

	// mutate the backend directly; with TTL=0 the cache should still serve
	// the originally cached value rather than re-checking freshness.
	backend.reports["r1"].Title = "mutated-in-backend"

	got, err := cached.Get("r1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Title == "mutated-in-backend" {
		t.Fatal("expected cache hit to bypass backend when TTL is disabled")
	}
}

func TestCachedStoreExpiresOnRead(t *testing.T) {
	backend := NewMemoryStore()
	cached, err := NewCachedStore(backend, 10, 20*time.Millisecond)
	if err != nil {
		t.Fatalf("new cached store: %v", err)
	}

	report := &Report{ID: "r1", ScanID: "s", Title: "original"}
	if err := cached.Save(report); err != nil {
		t.Fatalf("save: %v", err)
	}

	backend.reports["r1"].Title = "updated-in-backend"
	time.Sleep(30 * time.Millisecond)

	got, err := cached.Get("r1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Title != "updated-in-backend" {
		t.Fatalf("expected expired cache entry to fall through to backend, got %q", got.Title)
	}
}

func TestCachedStoreDeleteInvalidatesCache(t *testing.T) {
	backend := NewMemoryStore()
	cached, err := NewCachedStore(backend, 10, 0)
	if err != nil {
		t.Fatalf("new cached store: %v", err)
	}
	_ = cached.Save(&Report{ID: "r1", ScanID: "s"})

	if err := cached.Delete("r1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := cached.Get("r1"); err == nil {
		t.Fatal("expected deleted record to be gone from both cache and backend")
	}
}
