package storage

import (
	"context"
	"log/slog"

	"github.com/tusflow/tusflow/internal/config"
	tuserr "github.com/tusflow/tusflow/internal/errors"
	"github.com/tusflow/tusflow/internal/metrics"
	"github.com/tusflow/tusflow/internal/resilience"
	"github.com/tusflow/tusflow/internal/session"
)

// Coordinator drives the multipart backend on behalf of the protocol
// handlers. Every backend call goes through the resilience executor, and
// finalization verifies the backend's recorded parts before assembly.
type Coordinator struct {
	backend     Backend
	exec        *resilience.Executor
	minPartSize int64
}

// NewCoordinator creates a Coordinator over the given backend.
func NewCoordinator(backend Backend, exec *resilience.Executor, cfg config.StorageConfig) *Coordinator {
	return &Coordinator{
		backend:     backend,
		exec:        exec,
		minPartSize: cfg.MinPartSize,
	}
}

// Initiate starts a multipart upload for the object key and returns the
// backend upload id.
func (c *Coordinator) Initiate(ctx context.Context, key, contentType string, metadata map[string]string) (string, error) {
	uploadID, err := resilience.Execute(ctx, c.exec, "backend.initiate", func(ctx context.Context) (string, error) {
		return c.backend.Initiate(ctx, key, contentType, metadata)
	})
	if err != nil {
		return "", tuserr.ErrBackendInitFailure.WithCause(err)
	}
	return uploadID, nil
}

// UploadPart stores one part and returns its ETag. A backend that accepts
// the part but returns no tag is treated as a failure, since finalization
// needs the tag.
func (c *Coordinator) UploadPart(ctx context.Context, key, uploadID string, partNumber int32, body []byte) (string, error) {
	etag, err := resilience.Execute(ctx, c.exec, "backend.upload_part", func(ctx context.Context) (string, error) {
		return c.backend.UploadPart(ctx, key, uploadID, partNumber, body)
	})
	if err != nil {
		metrics.PartUploadsTotal.WithLabelValues("failure").Inc()
		return "", err
	}
	if etag == "" {
		metrics.PartUploadsTotal.WithLabelValues("failure").Inc()
		return "", tuserr.ErrPartUploadFailure
	}
	metrics.PartUploadsTotal.WithLabelValues("success").Inc()
	return etag, nil
}

// Complete verifies and assembles the upload into the final object. The
// backend's recorded part count must match the count implied by the total
// length and chunk size, and every part except the last must meet the
// backend's minimum part size.
func (c *Coordinator) Complete(ctx context.Context, sess *session.Session) error {
	listed, err := resilience.Execute(ctx, c.exec, "backend.list_parts", func(ctx context.Context) ([]PartInfo, error) {
		return c.backend.ListParts(ctx, sess.ID, sess.BackendUploadID)
	})
	if err != nil {
		return err
	}

	expected := expectedParts(sess.Length, sess.ChunkSize)
	if int64(len(listed)) != expected {
		slog.Error("part count mismatch at finalization",
			"upload_id", sess.ID,
			"expected", expected,
			"actual", len(listed))
		return tuserr.ErrIncompleteUpload
	}

	for i, p := range listed {
		if i < len(listed)-1 && p.Size < c.minPartSize {
			return tuserr.ErrPartTooSmall
		}
	}

	return c.exec.Do(ctx, "backend.complete", func(ctx context.Context) error {
		return c.backend.Complete(ctx, sess.ID, sess.BackendUploadID, sess.SortedParts())
	})
}

// Abort discards the backend multipart upload. Failures are logged and
// swallowed; an orphaned upload is reclaimed by the reaper or the backend's
// own lifecycle rules.
func (c *Coordinator) Abort(ctx context.Context, key, uploadID string) {
	err := c.exec.Do(ctx, "backend.abort", func(ctx context.Context) error {
		return c.backend.Abort(ctx, key, uploadID)
	})
	if err != nil {
		slog.Warn("failed to abort multipart upload",
			"upload_id", key,
			"backend_upload_id", uploadID,
			"error", err)
	}
}

// AbortIfPresent aborts the session's backend upload when one was initiated.
func (c *Coordinator) AbortIfPresent(ctx context.Context, sess *session.Session) {
	if sess.BackendUploadID == "" {
		return
	}
	c.Abort(ctx, sess.ID, sess.BackendUploadID)
}

// DeleteObject removes the assembled object for the upload id.
func (c *Coordinator) DeleteObject(ctx context.Context, key string) error {
	return c.exec.Do(ctx, "backend.delete_object", func(ctx context.Context) error {
		return c.backend.DeleteObject(ctx, key)
	})
}

// HealthCheck pings the backend directly, bypassing retry so health checks
// report promptly.
func (c *Coordinator) HealthCheck(ctx context.Context) error {
	return c.backend.HealthCheck(ctx)
}

// expectedParts returns the part count implied by the total length and the
// session's chunk size.
func expectedParts(length, chunkSize int64) int64 {
	if chunkSize <= 0 {
		return 0
	}
	return (length + chunkSize - 1) / chunkSize
}
