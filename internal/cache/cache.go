// File path: internal/cache/cache.go
package cache

import (
	"context"
	"errors"
	"time"

	"github.com/comexa/docverifier/internal/document"
	"github.com/comexa/docverifier/internal/report"
)

// ErrNotInitialised is returned by store methods invoked on a nil or closed
// store.
var ErrNotInitialised = errors.New("cache store not initialised")

// Config is the process-wide cache policy injected into every backend. Both
// caches share it: one switch, one TTL window.
type Config struct {
	// Enabled gates the whole cache. When false every read reports absent
	// and writes and deletes are no-ops, so callers observe a fully
	// transparent cache.
	Enabled bool
	// TTLDays bounds entry age from created_at. Zero means entries never
	// expire.
	TTLDays int
}

// TTL returns the expiry window as a duration, zero when unbounded.
func (c Config) TTL() time.Duration {
	if c.TTLDays <= 0 {
		return 0
	}
	return time.Duration(c.TTLDays) * 24 * time.Hour
}

// expired applies the TTL window to an entry's creation time.
func (c Config) expired(createdAt, now time.Time) bool {
	ttl := c.TTL()
	if ttl == 0 {
		return false
	}
	return now.After(createdAt.Add(ttl))
}

// Store persists extraction results keyed by content hash and comparison
// reports keyed by workflow digest. Implementations must make same-key
// upserts atomic; reads after the TTL window report absent. Values cross the
// boundary by copy, never by shared reference.
type Store interface {
	// GetDocument returns the most recent record cached for the (hash,
	// role) pair, or absent when missing, expired, or the cache is
	// disabled.
	GetDocument(ctx context.Context, hash string, role document.Role) (*document.Record, bool, error)
	// PutDocument upserts the record for (hash, role), replacing any prior
	// entry entirely.
	PutDocument(ctx context.Context, hash string, role document.Role, filename string, record *document.Record) error
	// DeleteDocument removes the exact (hash, role) entry, or every role
	// under the hash when role is empty.
	DeleteDocument(ctx context.Context, hash string, role document.Role) error

	// GetWorkflow returns the cached report for the workflow key. A hit
	// refreshes last_access but never created_at.
	GetWorkflow(ctx context.Context, key string) (*report.Workflow, bool, error)
	// PutWorkflow upserts the report for the workflow key.
	PutWorkflow(ctx context.Context, key, blHash, invoiceHash, packingHash string, wf *report.Workflow) error
	// DeleteWorkflow removes the entry for the workflow key.
	DeleteWorkflow(ctx context.Context, key string) error

	Ping(ctx context.Context) error
	Close() error
}
