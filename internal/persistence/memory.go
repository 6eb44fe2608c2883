package persistence

import (
	"sync"
	"time"

	"github.com/poppopjmp/spiderfoot-sub008/internal/errors"
)

// MemoryStore is a lock-guarded in-memory Store backend.
type MemoryStore struct {
	mu      sync.RWMutex
	reports map[string]*Report
}

// NewMemoryStore builds an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{reports: make(map[string]*Report)}
}

func cloneReport(r *Report) *Report {
	clone := *r
	if r.Recommendations != nil {
		clone.Recommendations = append([]string(nil), r.Recommendations...)
	}
	if r.Sections != nil {
		clone.Sections = make(map[string]interface{}, len(r.Sections))
		for k, v := range r.Sections {
			clone.Sections[k] = v
		}
	}
	if r.Metadata != nil {
		clone.Metadata = make(map[string]interface{}, len(r.Metadata))
		for k, v := range r.Metadata {
			clone.Metadata[k] = v
		}
	}
	return &clone
}

// Save inserts or overwrites report, stamping UpdatedAt and preserving the
// original CreatedAt if the record already exists.
func (s *MemoryStore) Save(report *Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	if existing, ok := s.reports[report.ID]; ok {
		report.CreatedAt = existing.CreatedAt
	} else if report.CreatedAt.IsZero() {
		report.CreatedAt = now
	}
	report.UpdatedAt = now
	s.reports[report.ID] = cloneReport(report)
	return nil
}

// Get returns the report by id, or errors.NotFound.
func (s *MemoryStore) Get(id string) (*Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.reports[id]
	if !ok {
		return nil, errors.NotFound("report", id)
	}
	return cloneReport(r), nil
}

// Update is an alias for Save that requires the record to already exist.
func (s *MemoryStore) Update(report *Report) error {
	s.mu.RLock()
	_, ok := s.reports[report.ID]
	s.mu.RUnlock()
	if !ok {
		return errors.NotFound("report", report.ID)
	}
	return s.Save(report)
}

// Delete removes the report by id.
func (s *MemoryStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.reports, id)
	return nil
}

func matches(r *Report, f Filters) bool {
	if f.ScanID != "" && r.ScanID != f.ScanID {
		return false
	}
	if f.Status != "" && r.Status != f.Status {
		return false
	}
	if f.Type != "" && r.Type != f.Type {
		return false
	}
	return true
}

// List returns reports matching filters, sorted by creation time descending.
func (s *MemoryStore) List(f Filters, limit, offset int) ([]*Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := make([]*Report, 0, len(s.reports))
	for _, r := range s.reports {
		if matches(r, f) {
			all = append(all, cloneReport(r))
		}
	}

	for i := 1; i < len(all); i++ {
		for j := i; j > 0 && all[j].CreatedAt.After(all[j-1].CreatedAt); j-- {
			all[j], all[j-1] = all[j-1], all[j]
		}
	}

	if offset > 0 {
		if offset >= len(all) {
			return []*Report{}, nil
		}
		all = all[offset:]
	}
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

// Count returns the number of reports matching filters.
func (s *MemoryStore) Count(f Filters) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, r := range s.reports {
		if matches(r, f) {
			count++
		}
	}
	return count, nil
}

// CleanupOld removes reports created more than maxAgeDays ago.
func (s *MemoryStore) CleanupOld(maxAgeDays int) (int, error) {
	cutoff := time.Now().AddDate(0, 0, -maxAgeDays)
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, r := range s.reports {
		if r.CreatedAt.Before(cutoff) {
			delete(s.reports, id)
			removed++
		}
	}
	return removed, nil
}
