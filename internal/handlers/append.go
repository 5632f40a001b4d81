package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	tuserr "github.com/tusflow/tusflow/internal/errors"
)

// Append handles PATCH /files/{id} and appends a chunk at the asserted
// offset. The asserted offset must exactly match the session's current
// offset; on mismatch the response echoes the true offset so the client can
// resync. When the chunk brings the upload to its declared length the upload
// is finalized in the same request.
func (h *Handler) Append(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("Content-Type") != offsetContentType {
		tuserr.WriteError(w, r, tuserr.ErrInvalidContentType)
		return
	}

	id := extractUploadID(r)
	sess, err := h.sessions.Get(r.Context(), id)
	if err != nil {
		tuserr.WriteError(w, r, err)
		return
	}
	if sess == nil {
		tuserr.WriteError(w, r, tuserr.ErrNotFound)
		return
	}

	if sess.IsFinalConcat() {
		tuserr.WriteError(w, r, tuserr.ErrUnsupportedConcat)
		return
	}

	offset, err := strconv.ParseInt(r.Header.Get("Upload-Offset"), 10, 64)
	if err != nil || offset < 0 {
		tuserr.WriteError(w, r, tuserr.ErrInvalidOffset)
		return
	}
	if offset != sess.Offset {
		w.Header().Set("Upload-Offset", strconv.FormatInt(sess.Offset, 10))
		tuserr.WriteError(w, r, tuserr.ErrOffsetConflict)
		return
	}

	// A deferred length may be resolved exactly once, on any append.
	if lengthHeader := r.Header.Get("Upload-Length"); lengthHeader != "" {
		if !sess.DeferLength {
			tuserr.WriteError(w, r, tuserr.ErrInvalidDeferredLength.WithMessage("Upload length is already set"))
			return
		}
		length, err := strconv.ParseInt(lengthHeader, 10, 64)
		if err != nil || length < sess.Offset {
			tuserr.WriteError(w, r, tuserr.ErrInvalidDeferredLength)
			return
		}
		if length > h.cfg.Upload.MaxSize {
			tuserr.WriteError(w, r, tuserr.ErrTooLarge)
			return
		}
		sess.Length = length
		sess.DeferLength = false
	}

	ctx, cancel := appendContext(r.Context(), h.cfg.Upload.AppendTimeout())
	defer cancel()

	limit := h.cfg.Upload.MaxSize - offset
	if !sess.DeferLength && sess.Length > 0 {
		limit = sess.Length - offset
	}
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, limit))
	if err != nil {
		tuserr.WriteError(w, r, tuserr.ErrTooLarge.WithCause(err))
		return
	}
	if len(data) == 0 {
		tuserr.WriteError(w, r, tuserr.ErrEmptyChunk)
		return
	}

	if err := verifyChecksum(r.Header.Get("Upload-Checksum"), data); err != nil {
		tuserr.WriteError(w, r, err)
		return
	}

	newOffset, completed, err := h.appendChunk(ctx, sess, data, offset)
	if err != nil {
		h.coord.AbortIfPresent(ctx, sess)
		tuserr.WriteError(w, r, uploadError(err))
		return
	}

	w.Header().Set("Upload-Offset", strconv.FormatInt(newOffset, 10))
	if !completed {
		w.Header().Set("Upload-Expires", expiresHeader(time.Now().Add(h.sessions.TTL())))
	}
	w.WriteHeader(http.StatusNoContent)
}

// appendContext bounds a whole append request, orchestration and
// finalization included.
func appendContext(parent context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, timeout)
}

// uploadError maps an orchestration failure onto a protocol error,
// preserving an already-classified error such as a circuit-breaker
// rejection.
func uploadError(err error) error {
	var pe *tuserr.Error
	if errors.As(err, &pe) {
		return pe
	}
	return tuserr.ErrUploadFailed.WithCause(err)
}
