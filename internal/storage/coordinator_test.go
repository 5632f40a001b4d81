package storage

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tusflow/tusflow/internal/config"
	tuserr "github.com/tusflow/tusflow/internal/errors"
	"github.com/tusflow/tusflow/internal/resilience"
	"github.com/tusflow/tusflow/internal/session"
)

func newTestExecutor() *resilience.Executor {
	breaker := resilience.NewBreaker(config.BreakerConfig{
		TimeoutMillis:      1000,
		FailureThreshold:   100,
		ResetTimeoutMillis: 60000,
	})
	return resilience.NewExecutor(breaker, config.RetryConfig{MaxAttempts: 3, BaseDelayMillis: 1})
}

func newTestCoordinator(minPartSize int64) (*Coordinator, *MemoryBackend) {
	backend := NewMemoryBackend()
	coord := NewCoordinator(backend, newTestExecutor(), config.StorageConfig{MinPartSize: minPartSize})
	return coord, backend
}

func startedSession(t *testing.T, coord *Coordinator, length, chunkSize int64) *session.Session {
	t.Helper()
	uploadID, err := coord.Initiate(context.Background(), "obj-1", "application/octet-stream", nil)
	if err != nil {
		t.Fatalf("Initiate: %v", err)
	}
	return &session.Session{
		ID:              "obj-1",
		Length:          length,
		BackendUploadID: uploadID,
		CreatedAt:       time.Now(),
		ChunkSize:       chunkSize,
	}
}

func TestCompleteAssemblesParts(t *testing.T) {
	ctx := context.Background()
	coord, backend := newTestCoordinator(1)
	sess := startedSession(t, coord, 10, 5)

	for i, body := range [][]byte{[]byte("hello"), []byte("world")} {
		etag, err := coord.UploadPart(ctx, sess.ID, sess.BackendUploadID, int32(i+1), body)
		if err != nil {
			t.Fatalf("UploadPart %d: %v", i+1, err)
		}
		sess.AddPart(int32(i+1), etag)
	}

	if err := coord.Complete(ctx, sess); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	data, ok := backend.Object("obj-1")
	if !ok {
		t.Fatal("assembled object missing")
	}
	if !bytes.Equal(data, []byte("helloworld")) {
		t.Fatalf("got %q, want helloworld", data)
	}
	if backend.HasUpload(sess.BackendUploadID) {
		t.Fatal("multipart upload still pending after completion")
	}
}

func TestCompleteRejectsMissingParts(t *testing.T) {
	ctx := context.Background()
	coord, _ := newTestCoordinator(1)
	sess := startedSession(t, coord, 10, 5)

	etag, err := coord.UploadPart(ctx, sess.ID, sess.BackendUploadID, 1, []byte("hello"))
	if err != nil {
		t.Fatalf("UploadPart: %v", err)
	}
	sess.AddPart(1, etag)

	if err := coord.Complete(ctx, sess); !errors.Is(err, tuserr.ErrIncompleteUpload) {
		t.Fatalf("got %v, want IncompleteUpload", err)
	}
}

func TestCompleteRejectsUndersizedPart(t *testing.T) {
	ctx := context.Background()
	coord, _ := newTestCoordinator(3)
	sess := startedSession(t, coord, 5, 3)

	// Part 1 is non-final and smaller than the 3-byte minimum.
	for i, body := range [][]byte{[]byte("ab"), []byte("cde")} {
		etag, err := coord.UploadPart(ctx, sess.ID, sess.BackendUploadID, int32(i+1), body)
		if err != nil {
			t.Fatalf("UploadPart %d: %v", i+1, err)
		}
		sess.AddPart(int32(i+1), etag)
	}

	if err := coord.Complete(ctx, sess); !errors.Is(err, tuserr.ErrPartTooSmall) {
		t.Fatalf("got %v, want PartTooSmall", err)
	}
}

func TestCompleteAllowsShortFinalPart(t *testing.T) {
	ctx := context.Background()
	coord, backend := newTestCoordinator(3)
	sess := startedSession(t, coord, 5, 3)

	for i, body := range [][]byte{[]byte("abc"), []byte("de")} {
		etag, err := coord.UploadPart(ctx, sess.ID, sess.BackendUploadID, int32(i+1), body)
		if err != nil {
			t.Fatalf("UploadPart %d: %v", i+1, err)
		}
		sess.AddPart(int32(i+1), etag)
	}

	if err := coord.Complete(ctx, sess); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if data, _ := backend.Object("obj-1"); !bytes.Equal(data, []byte("abcde")) {
		t.Fatalf("got %q, want abcde", data)
	}
}

// emptyETagBackend accepts parts but returns no tag.
type emptyETagBackend struct {
	*MemoryBackend
}

func (b emptyETagBackend) UploadPart(ctx context.Context, key, uploadID string, partNumber int32, body []byte) (string, error) {
	return "", nil
}

func TestUploadPartRequiresETag(t *testing.T) {
	exec := newTestExecutor()
	coord := NewCoordinator(emptyETagBackend{NewMemoryBackend()}, exec, config.StorageConfig{MinPartSize: 1})

	_, err := coord.UploadPart(context.Background(), "obj", "up", 1, []byte("x"))
	if !errors.Is(err, tuserr.ErrPartUploadFailure) {
		t.Fatalf("got %v, want PartUploadFailure", err)
	}
}

// countingBackend records Abort calls.
type countingBackend struct {
	*MemoryBackend
	aborts int
}

func (b *countingBackend) Abort(ctx context.Context, key, uploadID string) error {
	b.aborts++
	return errors.New("abort failed")
}

func TestAbortIsBestEffort(t *testing.T) {
	backend := &countingBackend{MemoryBackend: NewMemoryBackend()}
	coord := NewCoordinator(backend, newTestExecutor(), config.StorageConfig{MinPartSize: 1})

	// Abort swallows backend failures.
	coord.Abort(context.Background(), "obj", "up")
	if backend.aborts == 0 {
		t.Fatal("backend abort never called")
	}

	// No backend upload id means nothing to abort.
	before := backend.aborts
	coord.AbortIfPresent(context.Background(), &session.Session{ID: "obj"})
	if backend.aborts != before {
		t.Fatal("AbortIfPresent called backend without an upload id")
	}
}
