package persistence

import (
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

type cacheEntry struct {
	report    *Report
	expiresAt time.Time
}

// CachedStore fronts a Store with a size-bounded LRU cache plus a TTL check
// applied on read. A TTL of 0 disables expiry. Reads consult the cache; a
// miss falls through to the backend. Saves update both; deletes invalidate
// the cache entry.
type CachedStore struct {
	backend Store
	cache   *lru.Cache[string, cacheEntry]
	ttl     time.Duration
}

// NewCachedStore wraps backend with an LRU cache of the given size and TTL.
// ttl = 0 disables expiry.
func NewCachedStore(backend Store, size int, ttl time.Duration) (*CachedStore, error) {
	if size <= 0 {
		size = 1000
	}
	cache, err := lru.New[string, cacheEntry](size)
	if err != nil {
		return nil, err
	}
	return &CachedStore{backend: backend, cache: cache, ttl: ttl}, nil
}

func (c *CachedStore) fresh(entry cacheEntry) bool {
	if c.ttl <= 0 {
		return true
	}
	return time.Now().Before(entry.expiresAt)
}

func (c *CachedStore) put(report *Report) {
	entry := cacheEntry{report: cloneReport(report)}
	if c.ttl > 0 {
		entry.expiresAt = time.Now().Add(c.ttl)
	}
	c.cache.Add(report.ID, entry)
}

// Save writes through to the backend then refreshes the cache entry.
func (c *CachedStore) Save(report *Report) error {
	if err := c.backend.Save(report); err != nil {
		return err
	}
	c.put(report)
	return nil
}

// Get consults the cache first, falling through to the backend on a miss or
// an expired entry.
func (c *CachedStore) Get(id string) (*Report, error) {
	if entry, ok := c.cache.Get(id); ok {
		if c.fresh(entry) {
			return cloneReport(entry.report), nil
		}
		c.cache.Remove(id)
	}

	report, err := c.backend.Get(id)
	if err != nil {
		return nil, err
	}
	c.put(report)
	return report, nil
}

// Update writes through to the backend then refreshes the cache entry.
func (c *CachedStore) Update(report *Report) error {
	if err := c.backend.Update(report); err != nil {
		return err
	}
	c.put(report)
	return nil
}

// Delete removes from the backend and invalidates the cache entry.
func (c *CachedStore) Delete(id string) error {
	if err := c.backend.Delete(id); err != nil {
		return err
	}
	c.cache.Remove(id)
	return nil
}

// List always delegates to the backend; list results are not cached.
func (c *CachedStore) List(filters Filters, limit, offset int) ([]*Report, error) {
	return c.backend.List(filters, limit, offset)
}

// Count always delegates to the backend.
func (c *CachedStore) Count(filters Filters) (int, error) {
	return c.backend.Count(filters)
}

// CleanupOld delegates to the backend. Evicted ids are not individually
// purged from the cache; stale cache entries are caught by TTL or naturally
// age out under LRU pressure.
func (c *CachedStore) CleanupOld(maxAgeDays int) (int, error) {
	return c.backend.CleanupOld(maxAgeDays)
}
