package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tusflow/tusflow/internal/config"
	tuserr "github.com/tusflow/tusflow/internal/errors"
	"github.com/tusflow/tusflow/internal/resilience"
)

func newTestExecutor() *resilience.Executor {
	breaker := resilience.NewBreaker(config.BreakerConfig{
		TimeoutMillis:      1000,
		FailureThreshold:   100,
		ResetTimeoutMillis: 60000,
	})
	return resilience.NewExecutor(breaker, config.RetryConfig{MaxAttempts: 3, BaseDelayMillis: 1})
}

func testSession(id string) *Session {
	return &Session{
		ID:             id,
		Length:         1024,
		Metadata:       map[string]string{"filename": "report.pdf"},
		CreatedAt:      time.Now(),
		Parts:          []Part{},
		UploadedChunks: []int32{},
		ChunkSize:      5 * 1024 * 1024,
		NetworkSpeed:   1024 * 1024,
	}
}

func TestMemoryStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	sess := testSession("abc")
	sess.AddPart(1, `"etag-1"`)

	if err := store.Set(ctx, "abc", sess, time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}

	got, err := store.Get(ctx, "abc")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got == nil {
		t.Fatal("Get returned nil for existing session")
	}
	if got.ID != "abc" || got.Length != 1024 {
		t.Fatalf("got %+v, want id abc length 1024", got)
	}
	if got.Metadata["filename"] != "report.pdf" {
		t.Fatalf("metadata lost: %+v", got.Metadata)
	}
	if len(got.Parts) != 1 || got.Parts[0].ETag != `"etag-1"` {
		t.Fatalf("parts lost: %+v", got.Parts)
	}

	// Mutating the copy must not affect the stored record.
	got.Offset = 999
	again, _ := store.Get(ctx, "abc")
	if again.Offset != 0 {
		t.Fatal("store returned a shared reference instead of a copy")
	}
}

func TestMemoryStoreMissingAndDelete(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	got, err := store.Get(ctx, "nope")
	if err != nil || got != nil {
		t.Fatalf("got (%v, %v), want (nil, nil) for missing session", got, err)
	}

	if err := store.Set(ctx, "x", testSession("x"), time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := store.Delete(ctx, "x"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := store.Delete(ctx, "x"); err != nil {
		t.Fatalf("Delete of missing record: %v", err)
	}
	if got, _ := store.Get(ctx, "x"); got != nil {
		t.Fatal("session still present after delete")
	}
}

func TestMemoryStoreExpiry(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	if err := store.Set(ctx, "old", testSession("old"), time.Millisecond); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := store.Set(ctx, "new", testSession("new"), time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}

	time.Sleep(5 * time.Millisecond)

	if got, _ := store.Get(ctx, "old"); got != nil {
		t.Fatal("expired session still readable")
	}

	ids, err := store.ListIDs(ctx)
	if err != nil {
		t.Fatalf("ListIDs: %v", err)
	}
	if len(ids) != 1 || ids[0] != "new" {
		t.Fatalf("got %v, want [new]", ids)
	}
}

func TestAccessorRoundTrip(t *testing.T) {
	ctx := context.Background()
	a := NewAccessor(NewMemoryStore(), newTestExecutor(), time.Minute)

	sess := testSession("id-1")
	if err := a.Save(ctx, sess); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := a.Get(ctx, "id-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got == nil || got.ID != "id-1" {
		t.Fatalf("got %+v, want session id-1", got)
	}

	if a.TTL() != time.Minute {
		t.Fatalf("TTL = %s, want 1m", a.TTL())
	}
}

// failingStore always errors, to exercise the retry surface.
type failingStore struct{}

func (failingStore) Ping(ctx context.Context) error  { return errors.New("down") }
func (failingStore) Close() error                    { return nil }
func (failingStore) Get(ctx context.Context, id string) (*Session, error) {
	return nil, errors.New("down")
}
func (failingStore) Set(ctx context.Context, id string, sess *Session, ttl time.Duration) error {
	return errors.New("down")
}
func (failingStore) Delete(ctx context.Context, id string) error { return errors.New("down") }
func (failingStore) ListIDs(ctx context.Context) ([]string, error) {
	return nil, errors.New("down")
}

func TestAccessorSurfacesStorageFailure(t *testing.T) {
	a := NewAccessor(failingStore{}, newTestExecutor(), time.Minute)

	_, err := a.Get(context.Background(), "id-1")
	if !errors.Is(err, tuserr.ErrStorageFailure) {
		t.Fatalf("got %v, want StorageFailure", err)
	}
}

func TestSessionPartBookkeeping(t *testing.T) {
	sess := testSession("p")

	sess.AddPart(2, "b")
	sess.AddPart(1, "a")
	sess.AddPart(2, "dup")

	if len(sess.Parts) != 2 || len(sess.UploadedChunks) != 2 {
		t.Fatalf("duplicate part recorded: %+v", sess.Parts)
	}
	if !sess.HasChunk(1) || !sess.HasChunk(2) || sess.HasChunk(3) {
		t.Fatalf("HasChunk bookkeeping wrong: %v", sess.UploadedChunks)
	}

	sorted := sess.SortedParts()
	if sorted[0].Number != 1 || sorted[1].Number != 2 {
		t.Fatalf("SortedParts not ascending: %+v", sorted)
	}
	// Original order untouched.
	if sess.Parts[0].Number != 2 {
		t.Fatalf("SortedParts mutated the session: %+v", sess.Parts)
	}
}

func TestSessionStaleness(t *testing.T) {
	sess := testSession("s")
	sess.CreatedAt = time.Now().Add(-25 * time.Hour)

	if !sess.IsStale(24*time.Hour, time.Now()) {
		t.Fatal("25h-old session not stale with 24h TTL")
	}
	sess.CreatedAt = time.Now().Add(-time.Hour)
	if sess.IsStale(24*time.Hour, time.Now()) {
		t.Fatal("1h-old session reported stale")
	}
}

func TestSessionConcatMarkers(t *testing.T) {
	sess := testSession("c")
	if sess.IsPartialConcat() || sess.IsFinalConcat() {
		t.Fatal("plain session reports concat markers")
	}

	sess.Metadata[ConcatMetadataKey] = "partial"
	if !sess.IsPartialConcat() {
		t.Fatal("partial marker not detected")
	}

	sess.Metadata[ConcatMetadataKey] = "final;/files/a /files/b"
	if !sess.IsFinalConcat() {
		t.Fatal("final marker not detected")
	}
}
