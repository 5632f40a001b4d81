package upload

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/tusflow/tusflow/internal/metrics"
	"github.com/tusflow/tusflow/internal/session"
	"github.com/tusflow/tusflow/internal/storage"
)

// reaperBatchSize bounds how many sessions one sweep inspects concurrently.
const reaperBatchSize = 10

// Reaper reclaims stale upload sessions: it aborts their backend multipart
// uploads and removes their metadata records. Sweeps are idempotent, so the
// in-process ticker and an external trigger can run concurrently without
// double-counting damage.
type Reaper struct {
	sessions *session.Accessor
	coord    *storage.Coordinator
}

// NewReaper creates a Reaper.
func NewReaper(sessions *session.Accessor, coord *storage.Coordinator) *Reaper {
	return &Reaper{sessions: sessions, coord: coord}
}

// Sweep scans all live sessions and reclaims those older than the session
// TTL. It returns the number of sessions cleaned and the number of failures.
func (r *Reaper) Sweep(ctx context.Context) (cleaned, failed int) {
	ids, err := r.sessions.ListIDs(ctx)
	if err != nil {
		slog.Error("reaper failed to list sessions", "error", err)
		return 0, 1
	}

	now := time.Now()
	var mu sync.Mutex

	for batchStart := 0; batchStart < len(ids); batchStart += reaperBatchSize {
		batchEnd := batchStart + reaperBatchSize
		if batchEnd > len(ids) {
			batchEnd = len(ids)
		}

		var wg sync.WaitGroup
		for _, id := range ids[batchStart:batchEnd] {
			wg.Add(1)
			go func(id string) {
				defer wg.Done()

				ok, err := r.reapOne(ctx, id, now)
				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					failed++
				} else if ok {
					cleaned++
				}
			}(id)
		}
		wg.Wait()
	}

	if cleaned > 0 || failed > 0 {
		slog.Info("reaper sweep finished", "cleaned", cleaned, "failed", failed)
	}
	return cleaned, failed
}

// reapOne reclaims a single session if it is stale. Returns true when the
// session was cleaned. A session that disappears mid-sweep counts as neither
// cleaned nor failed.
func (r *Reaper) reapOne(ctx context.Context, id string, now time.Time) (bool, error) {
	sess, err := r.sessions.Get(ctx, id)
	if err != nil {
		return false, err
	}
	if sess == nil || !sess.IsStale(r.sessions.TTL(), now) {
		return false, nil
	}

	r.coord.AbortIfPresent(ctx, sess)

	if err := r.sessions.Delete(ctx, id); err != nil {
		return false, err
	}
	if err := r.coord.DeleteObject(ctx, id); err != nil {
		slog.Warn("reaper failed to delete object", "upload_id", id, "error", err)
	}

	metrics.UploadsReapedTotal.Inc()
	slog.Info("reaped stale upload", "upload_id", id, "age", now.Sub(sess.CreatedAt))
	return true, nil
}

// Run sweeps on the given interval until the context is cancelled.
func (r *Reaper) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	slog.Info("reaper started", "interval", interval)
	for {
		select {
		case <-ctx.Done():
			slog.Info("reaper stopped")
			return
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}
