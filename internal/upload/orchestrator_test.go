package upload

import (
	"bytes"
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/tusflow/tusflow/internal/config"
	"github.com/tusflow/tusflow/internal/resilience"
	"github.com/tusflow/tusflow/internal/session"
	"github.com/tusflow/tusflow/internal/storage"
)

// testChunkConfig forces an 8-byte part size regardless of measured speed,
// so tests can work with small payloads.
var testChunkConfig = config.ChunkConfig{
	MinSize:         4,
	MaxSize:         8,
	MemoryLimit:     1 << 20,
	NetworkOverhead: 1.0,
}

func newTestExecutor() *resilience.Executor {
	breaker := resilience.NewBreaker(config.BreakerConfig{
		TimeoutMillis:      1000,
		FailureThreshold:   100,
		ResetTimeoutMillis: 60000,
	})
	return resilience.NewExecutor(breaker, config.RetryConfig{MaxAttempts: 3, BaseDelayMillis: 1})
}

type testRig struct {
	sessions *session.Accessor
	backend  *storage.MemoryBackend
	coord    *storage.Coordinator
	orch     *Orchestrator
}

func newTestRig(t *testing.T, backend storage.Backend) *testRig {
	t.Helper()
	exec := newTestExecutor()

	memBackend, _ := backend.(*storage.MemoryBackend)
	sessions := session.NewAccessor(session.NewMemoryStore(), exec, time.Hour)
	coord := storage.NewCoordinator(backend, exec, config.StorageConfig{MinPartSize: 1})
	chunker := NewChunker(testChunkConfig, config.Default().Upload)
	orch := NewOrchestrator(sessions, coord, chunker, config.ParallelConfig{BatchSize: 5})

	return &testRig{sessions: sessions, backend: memBackend, coord: coord, orch: orch}
}

func (r *testRig) newSession(t *testing.T, length int64) *session.Session {
	t.Helper()
	ctx := context.Background()

	uploadID, err := r.coord.Initiate(ctx, "up-1", "application/octet-stream", nil)
	if err != nil {
		t.Fatalf("Initiate: %v", err)
	}
	sess := &session.Session{
		ID:              "up-1",
		Length:          length,
		CreatedAt:       time.Now(),
		BackendUploadID: uploadID,
		Parts:           []session.Part{},
		UploadedChunks:  []int32{},
		NetworkSpeed:    InitialNetworkSpeed,
	}
	if err := r.sessions.Save(ctx, sess); err != nil {
		t.Fatalf("Save: %v", err)
	}
	return sess
}

func TestUploadChunkSplitsIntoParts(t *testing.T) {
	ctx := context.Background()
	rig := newTestRig(t, storage.NewMemoryBackend())
	sess := rig.newSession(t, 16)

	data := []byte("0123456789abcdef")
	newOffset, err := rig.orch.UploadChunk(ctx, sess, data, 0)
	if err != nil {
		t.Fatalf("UploadChunk: %v", err)
	}
	if newOffset != 16 {
		t.Fatalf("got offset %d, want 16", newOffset)
	}
	if len(sess.Parts) != 2 {
		t.Fatalf("got %d parts, want 2 (8-byte parts)", len(sess.Parts))
	}
	if !sess.HasChunk(1) || !sess.HasChunk(2) {
		t.Fatalf("wrong part numbers: %v", sess.UploadedChunks)
	}

	// Progress persisted.
	stored, err := rig.sessions.Get(ctx, "up-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if stored.Offset != 16 {
		t.Fatalf("stored offset %d, want 16", stored.Offset)
	}
}

func TestUploadChunkContinuesPartNumbering(t *testing.T) {
	ctx := context.Background()
	rig := newTestRig(t, storage.NewMemoryBackend())
	sess := rig.newSession(t, 24)

	if _, err := rig.orch.UploadChunk(ctx, sess, []byte("0123456789abcdef"), 0); err != nil {
		t.Fatalf("first UploadChunk: %v", err)
	}
	newOffset, err := rig.orch.UploadChunk(ctx, sess, []byte("ghijklmn"), 16)
	if err != nil {
		t.Fatalf("second UploadChunk: %v", err)
	}
	if newOffset != 24 {
		t.Fatalf("got offset %d, want 24", newOffset)
	}
	if !sess.HasChunk(3) {
		t.Fatalf("second request did not continue numbering: %v", sess.UploadedChunks)
	}

	if err := rig.coord.Complete(ctx, sess); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	data, _ := rig.backend.Object("up-1")
	if !bytes.Equal(data, []byte("0123456789abcdefghijklmn")) {
		t.Fatalf("assembled %q", data)
	}
}

func TestUploadChunkSkipsAcknowledgedParts(t *testing.T) {
	ctx := context.Background()
	rig := newTestRig(t, storage.NewMemoryBackend())
	sess := rig.newSession(t, 16)

	// Pretend part 1 was acknowledged on a previous attempt.
	sess.AddPart(1, `"stale"`)

	newOffset, err := rig.orch.UploadChunk(ctx, sess, []byte("0123456789abcdef"), 0)
	if err != nil {
		t.Fatalf("UploadChunk: %v", err)
	}
	if newOffset != 16 {
		t.Fatalf("got offset %d, want 16", newOffset)
	}

	// Only part 2 actually reached the backend.
	parts, err := rig.backend.ListParts(ctx, sess.ID, sess.BackendUploadID)
	if err != nil {
		t.Fatalf("ListParts: %v", err)
	}
	if len(parts) != 1 || parts[0].Number != 2 {
		t.Fatalf("backend parts %+v, want only part 2", parts)
	}
}

// failingBackend fails every part upload.
type failingBackend struct {
	*storage.MemoryBackend
}

func (b failingBackend) UploadPart(ctx context.Context, key, uploadID string, partNumber int32, body []byte) (string, error) {
	return "", errors.New("backend down")
}

func TestUploadChunkFailureKeepsOffset(t *testing.T) {
	ctx := context.Background()
	rig := newTestRig(t, failingBackend{storage.NewMemoryBackend()})
	sess := rig.newSession(t, 16)

	_, err := rig.orch.UploadChunk(ctx, sess, []byte("0123456789abcdef"), 0)
	if err == nil {
		t.Fatal("got nil, want part upload failure")
	}
	if sess.Offset != 0 {
		t.Fatalf("offset advanced to %d despite failure", sess.Offset)
	}
}

func TestUploadChunkSmoothsSpeedFromRequestGap(t *testing.T) {
	ctx := context.Background()
	rig := newTestRig(t, storage.NewMemoryBackend())
	sess := rig.newSession(t, 16)
	sess.NetworkSpeed = 2 * 1024 * 1024
	sess.LastUploadTime = time.Now().Add(-10 * time.Second)

	if _, err := rig.orch.UploadChunk(ctx, sess, []byte("0123456789abcdef"), 0); err != nil {
		t.Fatalf("UploadChunk: %v", err)
	}

	// The estimate is smoothed once per request from the inter-request gap:
	// 0.8*previous + 0.2*(16 bytes / ~10s). Per-part upload latencies must
	// not feed it.
	want := 0.8*2*1024*1024 + 0.2*(16.0/10.0)
	if math.Abs(sess.NetworkSpeed-want) > 1 {
		t.Fatalf("speed %.1f, want %.1f (smoothed from the request gap)", sess.NetworkSpeed, want)
	}
}

func TestUploadChunkFirstRequestKeepsInitialSpeed(t *testing.T) {
	ctx := context.Background()
	rig := newTestRig(t, storage.NewMemoryBackend())
	sess := rig.newSession(t, 16)

	if _, err := rig.orch.UploadChunk(ctx, sess, []byte("0123456789abcdef"), 0); err != nil {
		t.Fatalf("UploadChunk: %v", err)
	}
	if sess.NetworkSpeed != InitialNetworkSpeed {
		t.Fatalf("speed %.1f, want untouched initial estimate", sess.NetworkSpeed)
	}
	if sess.LastUploadTime.IsZero() {
		t.Fatal("upload activity not recorded")
	}
}

func TestPartition(t *testing.T) {
	jobs := partition(make([]byte, 10), 16, 8)
	if len(jobs) != 2 {
		t.Fatalf("got %d jobs, want 2", len(jobs))
	}
	// Offset 16 at 8-byte parts means parts 1 and 2 are already done.
	if jobs[0].number != 3 || jobs[0].start != 0 || jobs[0].end != 8 {
		t.Fatalf("job 0 = %+v", jobs[0])
	}
	if jobs[1].number != 4 || jobs[1].start != 8 || jobs[1].end != 10 {
		t.Fatalf("job 1 = %+v", jobs[1])
	}
}

func TestConcurrencyScalesWithSpeed(t *testing.T) {
	if got := concurrency(5, 512*1024); got != 1 {
		t.Fatalf("slow link: got %d, want 1", got)
	}
	if got := concurrency(5, 3*1024*1024); got != 3 {
		t.Fatalf("3MiB/s: got %d, want 3", got)
	}
	if got := concurrency(5, 100*1024*1024); got != 5 {
		t.Fatalf("fast link: got %d, want cap 5", got)
	}
}
