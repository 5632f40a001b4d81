package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	tuserr "github.com/tusflow/tusflow/internal/errors"
)

// progressResponse is the JSON body of a progress report.
type progressResponse struct {
	ID            string    `json:"id"`
	Offset        int64     `json:"offset"`
	Length        int64     `json:"length"`
	DeferLength   bool      `json:"defer_length,omitempty"`
	Percent       float64   `json:"percent"`
	PartsUploaded int       `json:"parts_uploaded"`
	ChunkSize     int64     `json:"chunk_size"`
	NetworkSpeed  float64   `json:"network_speed"`
	CreatedAt     time.Time `json:"created_at"`
	ExpiresAt     time.Time `json:"expires_at"`
}

// Progress handles GET /files/{id}/progress and reports upload progress as
// JSON for dashboards and polling clients.
func (h *Handler) Progress(w http.ResponseWriter, r *http.Request) {
	sess, err := h.sessions.Get(r.Context(), extractUploadID(r))
	if err != nil {
		tuserr.WriteError(w, r, err)
		return
	}
	if sess == nil {
		tuserr.WriteError(w, r, tuserr.ErrNotFound)
		return
	}

	resp := progressResponse{
		ID:            sess.ID,
		Offset:        sess.Offset,
		Length:        sess.Length,
		DeferLength:   sess.DeferLength,
		PartsUploaded: len(sess.Parts),
		ChunkSize:     sess.ChunkSize,
		NetworkSpeed:  sess.NetworkSpeed,
		CreatedAt:     sess.CreatedAt,
		ExpiresAt:     sess.ExpiresAt(h.sessions.TTL()),
	}
	if sess.Length > 0 {
		resp.Percent = 100 * float64(sess.Offset) / float64(sess.Length)
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	json.NewEncoder(w).Encode(resp)
}
