// Package cache provides keyed response stores for the loader cache stage.
//
// Three stores are available:
//   - MemoryStore, a process-local map
//   - RedisStore, shared across processes, with entry expiry mapped to key TTL
//   - SQLStore, a table in any database/sql database through sqlx
//
// All stores are safe for concurrent use. Consistency is per key: a
// concurrent Get never observes a partially written entry.
package cache

import (
	"context"
	"net/http"
	"time"
)

// Entry is a cached response.
type Entry struct {
	StatusCode int         `json:"status_code"`
	Header     http.Header `json:"header,omitempty"`
	Body       []byte      `json:"body"`

	// StoredAt is when the entry was written.
	StoredAt time.Time `json:"stored_at"`

	// ExpiresAt is the instant after which the entry is stale.
	ExpiresAt time.Time `json:"expires_at"`
}

// FreshAt reports whether the entry is still valid at now. Expiry is
// exclusive: an entry expiring exactly at now is stale.
func (e Entry) FreshAt(now time.Time) bool {
	return e.ExpiresAt.After(now)
}

// Store is a keyed response cache.
//
// Get reports a missing key with ok == false and a nil error. Errors are
// reserved for store failures.
type Store interface {
	Get(ctx context.Context, key string) (entry Entry, ok bool, err error)
	Put(ctx context.Context, key string, entry Entry) error
	Remove(ctx context.Context, key string) error
}

func cloneEntry(e Entry) Entry {
	e.Header = e.Header.Clone()
	e.Body = append([]byte(nil), e.Body...)
	return e
}
