package upload

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/tusflow/tusflow/internal/config"
	"github.com/tusflow/tusflow/internal/metrics"
	"github.com/tusflow/tusflow/internal/session"
	"github.com/tusflow/tusflow/internal/storage"
)

// progressPersistInterval rate-limits mid-request session writes so a fast
// sequence of part acknowledgements does not hammer the metadata store.
const progressPersistInterval = time.Second

// Orchestrator splits an appended chunk into backend parts and uploads them
// with bounded concurrency, recording progress on the session as each part
// is acknowledged.
type Orchestrator struct {
	sessions *session.Accessor
	coord    *storage.Coordinator
	chunker  *Chunker
	batchCap int
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(sessions *session.Accessor, coord *storage.Coordinator, chunker *Chunker, cfg config.ParallelConfig) *Orchestrator {
	return &Orchestrator{
		sessions: sessions,
		coord:    coord,
		chunker:  chunker,
		batchCap: cfg.BatchSize,
	}
}

// partJob is one backend part carved out of the appended chunk.
type partJob struct {
	number int32
	start  int64
	end    int64
}

// UploadChunk uploads the chunk starting at the given byte offset and
// returns the session's new offset. The speed estimate is smoothed from the
// gap since the session's last upload activity before the part size is
// chosen. Parts are uploaded in batches; each batch completes fully before
// the next begins, and any part failure fails the whole call. Progress made
// before a failure is kept on the session so the client can resume: the
// offset advances to the end of the furthest acknowledged part and never
// moves backward.
func (o *Orchestrator) UploadChunk(ctx context.Context, sess *session.Session, data []byte, offset int64) (int64, error) {
	if !sess.LastUploadTime.IsZero() {
		sess.NetworkSpeed = UpdateNetworkSpeed(sess.NetworkSpeed, int64(len(data)), time.Since(sess.LastUploadTime))
	}
	speed := sess.NetworkSpeed
	if speed <= 0 {
		speed = InitialNetworkSpeed
	}

	chunkSize := o.chunker.OptimalChunkSize(sess.Length, speed)
	sess.ChunkSize = chunkSize
	metrics.ChunkSizeBytes.Observe(float64(chunkSize))

	jobs := partition(data, offset, chunkSize)
	batchSize := concurrency(o.batchCap, speed)

	var mu sync.Mutex

	for batchStart := 0; batchStart < len(jobs); batchStart += batchSize {
		batchEnd := batchStart + batchSize
		if batchEnd > len(jobs) {
			batchEnd = len(jobs)
		}

		var wg sync.WaitGroup
		var batchErr error

		for _, job := range jobs[batchStart:batchEnd] {
			if sess.HasChunk(job.number) {
				// Already acknowledged on a previous attempt; just advance.
				mu.Lock()
				o.advance(sess, offset+job.end)
				mu.Unlock()
				continue
			}

			wg.Add(1)
			go func(job partJob) {
				defer wg.Done()

				etag, err := o.coord.UploadPart(ctx, sess.ID, sess.BackendUploadID, job.number, data[job.start:job.end])
				if err != nil {
					mu.Lock()
					if batchErr == nil {
						batchErr = err
					}
					mu.Unlock()
					return
				}

				mu.Lock()
				sess.AddPart(job.number, etag)
				sess.LastUploadTime = time.Now()
				o.advance(sess, offset+job.end)
				o.persistProgress(ctx, sess)
				mu.Unlock()
			}(job)
		}

		wg.Wait()
		if batchErr != nil {
			return sess.Offset, batchErr
		}
	}

	if err := o.sessions.Save(ctx, sess); err != nil {
		return sess.Offset, err
	}
	return sess.Offset, nil
}

// advance moves the session offset forward, never backward. The caller must
// hold the orchestration mutex.
func (o *Orchestrator) advance(sess *session.Session, newOffset int64) {
	if newOffset > sess.Offset {
		sess.Offset = newOffset
	}
}

// persistProgress writes the session mid-request at most once per
// progressPersistInterval. Failures are logged and swallowed; the
// end-of-request save is authoritative.
func (o *Orchestrator) persistProgress(ctx context.Context, sess *session.Session) {
	now := time.Now()
	if now.Sub(sess.LastProgressUpdate) < progressPersistInterval {
		return
	}
	sess.LastProgressUpdate = now
	if err := o.sessions.Save(ctx, sess); err != nil {
		slog.Warn("failed to persist upload progress",
			"upload_id", sess.ID,
			"offset", sess.Offset,
			"error", err)
	}
}

// partition carves the chunk into backend parts of the adaptive size. Part
// numbers continue from the session's byte offset so resumed requests line
// up with previously uploaded parts.
func partition(data []byte, offset, chunkSize int64) []partJob {
	var jobs []partJob
	base := int32(offset / chunkSize)
	total := int64(len(data))

	i := int32(0)
	for start := int64(0); start < total; start += chunkSize {
		end := start + chunkSize
		if end > total {
			end = total
		}
		jobs = append(jobs, partJob{
			number: base + i + 1,
			start:  start,
			end:    end,
		})
		i++
	}
	return jobs
}

// concurrency returns the per-batch parallelism: one part per MiB/s of
// estimated throughput, at least one, capped by configuration.
func concurrency(limit int, speed float64) int {
	n := int(speed / (1024 * 1024))
	if n < 1 {
		n = 1
	}
	if n > limit {
		n = limit
	}
	return n
}
