package handlers

import (
	"net/http"
	"strconv"

	tuserr "github.com/tusflow/tusflow/internal/errors"
	"github.com/tusflow/tusflow/internal/session"
)

// Status handles HEAD /files/{id} and reports the upload's current offset
// and declared length so a client can resume.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	sess, err := h.sessions.Get(r.Context(), extractUploadID(r))
	if err != nil {
		tuserr.WriteError(w, r, err)
		return
	}
	if sess == nil {
		tuserr.WriteError(w, r, tuserr.ErrNotFound)
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Upload-Offset", strconv.FormatInt(sess.Offset, 10))
	if sess.DeferLength {
		w.Header().Set("Upload-Defer-Length", "1")
	} else {
		w.Header().Set("Upload-Length", strconv.FormatInt(sess.Length, 10))
	}
	if meta := encodeMetadata(withoutConcat(sess.Metadata)); meta != "" {
		w.Header().Set("Upload-Metadata", meta)
	}
	if concat := sess.Metadata[session.ConcatMetadataKey]; concat != "" {
		w.Header().Set("Upload-Concat", concat)
	}
	w.Header().Set("Upload-Expires", expiresHeader(sess.ExpiresAt(h.sessions.TTL())))
	w.WriteHeader(http.StatusOK)
}

// withoutConcat strips the reserved concatenation marker from the metadata
// echoed in Upload-Metadata; it is reported via Upload-Concat instead.
func withoutConcat(meta map[string]string) map[string]string {
	if _, ok := meta[session.ConcatMetadataKey]; !ok {
		return meta
	}
	out := make(map[string]string, len(meta)-1)
	for k, v := range meta {
		if k != session.ConcatMetadataKey {
			out[k] = v
		}
	}
	return out
}
