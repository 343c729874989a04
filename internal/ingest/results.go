package ingest

import (
	"context"
	"sync"
	"time"
)

// DefaultResultTTL bounds how long a terminal outcome stays queryable after
// the job itself is evicted.
const DefaultResultTTL = time.Hour

// JobResult is the terminal outcome of a job, keyed by request id so callers
// can poll with the id they got back at enqueue time.
type JobResult struct {
	JobID       int64     `json:"jobId"`
	RequestID   string    `json:"requestId"`
	Status      string    `json:"status"`
	Progress    int       `json:"progress"`
	Error       string    `json:"error,omitempty"`
	Outcome     *Outcome  `json:"outcome,omitempty"`
	CompletedAt time.Time `json:"completedAt"`

	expiresAt time.Time
}

// ResultCache is a concurrency-safe in-memory map of terminal job results
// with TTL-based expiration. Once an entry exists it is authoritative for
// status queries; the live queue is only consulted for ids the cache does not
// know.
type ResultCache struct {
	mu      sync.RWMutex
	entries map[string]*JobResult
	ttl     time.Duration
	nowFunc func() time.Time // for testing; defaults to time.Now
}

// NewResultCache creates a ResultCache. A zero or negative ttl falls back to
// DefaultResultTTL.
func NewResultCache(ttl time.Duration) *ResultCache {
	if ttl <= 0 {
		ttl = DefaultResultTTL
	}
	return &ResultCache{
		entries: make(map[string]*JobResult),
		ttl:     ttl,
		nowFunc: time.Now,
	}
}

// Put stores a terminal result and stamps its expiry.
func (c *ResultCache) Put(r JobResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r.expiresAt = c.nowFunc().Add(c.ttl)
	c.entries[r.RequestID] = &r
}

// Get returns the result for a request id. Expired entries are treated as
// absent and dropped.
func (c *ResultCache) Get(requestID string) (JobResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[requestID]
	if !ok {
		return JobResult{}, false
	}
	if c.nowFunc().After(entry.expiresAt) {
		delete(c.entries, requestID)
		return JobResult{}, false
	}
	return *entry, true
}

// Len returns the number of cached entries, expired or not.
func (c *ResultCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// EvictExpired removes all expired entries and reports how many were dropped.
func (c *ResultCache) EvictExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.nowFunc()
	removed := 0
	for key, entry := range c.entries {
		if now.After(entry.expiresAt) {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

// StartCleanup sweeps expired entries on a ticker until ctx is cancelled.
func (c *ResultCache) StartCleanup(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = c.ttl / 4
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.EvictExpired()
			case <-ctx.Done():
				return
			}
		}
	}()
}
