// Package persistence stores report/task records behind a pluggable Store
// interface, fronted by a size- and TTL-bounded cache.
package persistence

import "time"

// Report is a persisted report record. Recommendations, Sections, and
// Metadata are stored as JSON blobs in the SQL backend.
type Report struct {
	ID                string
	ScanID            string
	Title             string
	Status            string
	Type              string
	Progress          int
	Message           string
	ExecutiveSummary  string
	Recommendations   []string
	Sections          map[string]interface{}
	Metadata          map[string]interface{}
	GenerationTimeMS  int64
	TokenCount        int
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Filters narrows List/Count results. Zero values are not applied.
type Filters struct {
	ScanID string
	Status string
	Type   string
}

// Store is the pluggable persistence backend. Implementations must set
// UpdatedAt on every Save and preserve CreatedAt across Update.
type Store interface {
	Save(report *Report) error
	Get(id string) (*Report, error)
	Update(report *Report) error
	Delete(id string) error
	List(filters Filters, limit, offset int) ([]*Report, error)
	Count(filters Filters) (int, error)
	CleanupOld(maxAgeDays int) (int, error)
}
