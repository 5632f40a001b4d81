package session

import (
	"context"
	"io"
	"time"

	"github.com/tusflow/tusflow/internal/resilience"
)

// KeyPrefix namespaces session records in the metadata store. Records are
// keyed by KeyPrefix + upload id.
const KeyPrefix = "upload:"

// Store is the interface all session store engines implement. Get returns
// (nil, nil) when no record exists. Implementations must be safe for
// concurrent use.
type Store interface {
	io.Closer

	// Ping checks connectivity to the metadata store.
	Ping(ctx context.Context) error

	// Get retrieves the session for the given upload id, or nil if absent.
	Get(ctx context.Context, id string) (*Session, error)

	// Set writes the session with the given TTL, replacing any existing
	// record and refreshing its expiry.
	Set(ctx context.Context, id string, sess *Session, ttl time.Duration) error

	// Delete removes the session record. Deleting a missing record is not an
	// error.
	Delete(ctx context.Context, id string) error

	// ListIDs returns the upload ids of all live session records.
	ListIDs(ctx context.Context) ([]string, error)
}

// Accessor is the typed session-store accessor. Every call is routed
// through the resilience executor, and every write refreshes the record TTL
// so an actively-uploading session never expires mid-transfer.
type Accessor struct {
	store Store
	exec  *resilience.Executor
	ttl   time.Duration
}

// NewAccessor creates an Accessor over the given engine.
func NewAccessor(store Store, exec *resilience.Executor, ttl time.Duration) *Accessor {
	return &Accessor{store: store, exec: exec, ttl: ttl}
}

// TTL returns the incomplete-session lifetime applied on every write.
func (a *Accessor) TTL() time.Duration {
	return a.ttl
}

// Get retrieves the session for the upload id, or nil if no record exists.
func (a *Accessor) Get(ctx context.Context, id string) (*Session, error) {
	return resilience.Execute(ctx, a.exec, "session.get", func(ctx context.Context) (*Session, error) {
		return a.store.Get(ctx, id)
	})
}

// Save persists the session, refreshing its TTL.
func (a *Accessor) Save(ctx context.Context, sess *Session) error {
	return a.exec.Do(ctx, "session.set", func(ctx context.Context) error {
		return a.store.Set(ctx, sess.ID, sess, a.ttl)
	})
}

// Delete removes the session record for the upload id.
func (a *Accessor) Delete(ctx context.Context, id string) error {
	return a.exec.Do(ctx, "session.delete", func(ctx context.Context) error {
		return a.store.Delete(ctx, id)
	})
}

// ListIDs returns the ids of all live sessions.
func (a *Accessor) ListIDs(ctx context.Context) ([]string, error) {
	return resilience.Execute(ctx, a.exec, "session.list", func(ctx context.Context) ([]string, error) {
		return a.store.ListIDs(ctx)
	})
}

// Ping checks store connectivity directly, bypassing retry so health checks
// report promptly.
func (a *Accessor) Ping(ctx context.Context) error {
	return a.store.Ping(ctx)
}

// Close releases the underlying engine's resources.
func (a *Accessor) Close() error {
	return a.store.Close()
}
