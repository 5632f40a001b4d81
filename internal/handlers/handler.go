// Package handlers implements the HTTP request handlers for the resumable
// upload protocol.
package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/tusflow/tusflow/internal/config"
	"github.com/tusflow/tusflow/internal/metrics"
	"github.com/tusflow/tusflow/internal/session"
	"github.com/tusflow/tusflow/internal/storage"
	"github.com/tusflow/tusflow/internal/upload"
)

const (
	// TusVersion is the protocol version this server speaks.
	TusVersion = "1.0.0"

	// offsetContentType is the required content type for chunk appends.
	offsetContentType = "application/offset+octet-stream"

	// TusExtensions lists the protocol extensions this server advertises.
	TusExtensions = "creation,creation-with-upload,creation-defer-length,termination,checksum,expiration,concatenation"

	// ChecksumAlgorithms lists the supported Upload-Checksum algorithms.
	ChecksumAlgorithms = "md5,sha1,sha256,sha512"
)

// Handler contains the handlers for all upload protocol operations.
type Handler struct {
	sessions *session.Accessor
	coord    *storage.Coordinator
	orch     *upload.Orchestrator
	chunker  *upload.Chunker
	cfg      *config.Config
}

// NewHandler creates a Handler with the given dependencies.
func NewHandler(sessions *session.Accessor, coord *storage.Coordinator, orch *upload.Orchestrator, chunker *upload.Chunker, cfg *config.Config) *Handler {
	return &Handler{
		sessions: sessions,
		coord:    coord,
		orch:     orch,
		chunker:  chunker,
		cfg:      cfg,
	}
}

// extractUploadID pulls the upload id out of a /files/{id} or
// /files/{id}/progress request path.
func extractUploadID(r *http.Request) string {
	id := strings.TrimPrefix(r.URL.Path, "/files/")
	id = strings.TrimSuffix(id, "/progress")
	return strings.Trim(id, "/")
}

// expiresHeader formats an upload expiry instant for the Upload-Expires
// header.
func expiresHeader(t time.Time) string {
	return t.UTC().Format(http.TimeFormat)
}

// appendChunk runs the shared append path: orchestrates the chunk's part
// uploads and, when the upload reaches its declared length, finalizes it on
// the backend and removes the session record. It returns the new offset and
// whether the upload completed.
func (h *Handler) appendChunk(ctx context.Context, sess *session.Session, data []byte, offset int64) (int64, bool, error) {
	newOffset, err := h.orch.UploadChunk(ctx, sess, data, offset)
	if err != nil {
		return newOffset, false, err
	}

	if sess.DeferLength || sess.Length == 0 || newOffset < sess.Length {
		return newOffset, false, nil
	}

	if err := h.coord.Complete(ctx, sess); err != nil {
		return newOffset, false, err
	}
	if err := h.sessions.Delete(ctx, sess.ID); err != nil {
		return newOffset, false, err
	}
	metrics.UploadsCompletedTotal.Inc()
	return newOffset, true, nil
}
