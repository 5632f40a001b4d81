package handlers

import (
	"net/http"

	tuserr "github.com/tusflow/tusflow/internal/errors"
	"github.com/tusflow/tusflow/internal/metrics"
)

// Terminate handles DELETE /files/{id} and destroys the upload: the backend
// multipart upload is aborted, any assembled object is removed, and the
// session record is deleted.
func (h *Handler) Terminate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := extractUploadID(r)

	sess, err := h.sessions.Get(ctx, id)
	if err != nil {
		tuserr.WriteError(w, r, err)
		return
	}
	if sess == nil {
		tuserr.WriteError(w, r, tuserr.ErrNotFound)
		return
	}

	h.coord.AbortIfPresent(ctx, sess)

	if err := h.sessions.Delete(ctx, id); err != nil {
		tuserr.WriteError(w, r, err)
		return
	}
	if err := h.coord.DeleteObject(ctx, id); err != nil {
		tuserr.WriteError(w, r, err)
		return
	}

	metrics.UploadsTerminatedTotal.Inc()
	w.WriteHeader(http.StatusNoContent)
}
