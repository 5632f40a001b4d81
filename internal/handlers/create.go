package handlers

import (
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	tuserr "github.com/tusflow/tusflow/internal/errors"
	"github.com/tusflow/tusflow/internal/metrics"
	"github.com/tusflow/tusflow/internal/session"
	"github.com/tusflow/tusflow/internal/uid"
	"github.com/tusflow/tusflow/internal/upload"
)

// Create handles POST /files and starts a new upload. The declared length
// must be present unless the client defers it or the upload is a final
// concatenation. When the request body carries chunk data in the offset
// content type, the first chunk is appended in the same request.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	concat := strings.TrimSpace(r.Header.Get("Upload-Concat"))
	isFinal := strings.HasPrefix(concat, "final")

	lengthHeader := r.Header.Get("Upload-Length")
	deferHeader := r.Header.Get("Upload-Defer-Length")

	if deferHeader != "" && deferHeader != "1" {
		tuserr.WriteError(w, r, tuserr.ErrLengthRequired.WithMessage("Upload-Defer-Length must be 1"))
		return
	}
	if lengthHeader != "" && deferHeader != "" {
		tuserr.WriteError(w, r, tuserr.ErrLengthRequired.WithMessage("Upload-Length and Upload-Defer-Length are mutually exclusive"))
		return
	}
	if lengthHeader == "" && deferHeader == "" && !isFinal {
		tuserr.WriteError(w, r, tuserr.ErrLengthRequired)
		return
	}

	var length int64
	if lengthHeader != "" {
		var err error
		length, err = strconv.ParseInt(lengthHeader, 10, 64)
		if err != nil || length < 0 {
			tuserr.WriteError(w, r, tuserr.ErrLengthRequired.WithMessage("Invalid Upload-Length header"))
			return
		}
	}
	if length > h.cfg.Upload.MaxSize {
		tuserr.WriteError(w, r, tuserr.ErrTooLarge)
		return
	}

	metaHeader := r.Header.Get("Upload-Metadata")
	meta := parseMetadata(metaHeader)
	if concat != "" {
		if meta == nil {
			meta = make(map[string]string)
		}
		meta[session.ConcatMetadataKey] = concat
	}

	id := uid.New()
	now := time.Now()

	sess := &session.Session{
		ID:             id,
		Length:         length,
		DeferLength:    deferHeader == "1",
		Metadata:       meta,
		CreatedAt:      now,
		LastUploadTime: now,
		Parts:          []session.Part{},
		UploadedChunks: []int32{},
		ChunkSize:      h.chunker.OptimalChunkSize(length, upload.InitialNetworkSpeed),
		NetworkSpeed:   upload.InitialNetworkSpeed,
	}

	// Final concatenation sessions own no bytes of their own, so there is no
	// backend multipart upload to initiate for them.
	if !isFinal {
		contentType := meta["filetype"]
		if contentType == "" {
			contentType = "application/octet-stream"
		}

		// The backend object records the declared length markers alongside the
		// client metadata, so the object is self-describing even if the
		// session record is lost.
		objectMeta := make(map[string]string, len(meta)+2)
		for k, v := range meta {
			objectMeta[k] = v
		}
		objectMeta["Upload-Length"] = lengthHeader
		if lengthHeader == "" {
			objectMeta["Upload-Length"] = "deferred"
		}
		objectMeta["Upload-Defer-Length"] = strconv.FormatBool(sess.DeferLength)

		uploadID, err := h.coord.Initiate(ctx, id, contentType, objectMeta)
		if err != nil {
			tuserr.WriteError(w, r, err)
			return
		}
		sess.BackendUploadID = uploadID
	}

	if err := h.sessions.Save(ctx, sess); err != nil {
		h.coord.AbortIfPresent(ctx, sess)
		tuserr.WriteError(w, r, err)
		return
	}
	metrics.UploadsCreatedTotal.Inc()

	w.Header().Set("Location", "/files/"+id)
	w.Header().Set("Upload-Expires", expiresHeader(sess.ExpiresAt(h.sessions.TTL())))

	// Echo the creation headers back so clients can confirm what was recorded.
	if lengthHeader != "" {
		w.Header().Set("Upload-Length", lengthHeader)
	}
	if deferHeader != "" {
		w.Header().Set("Upload-Defer-Length", deferHeader)
	}
	if concat != "" {
		w.Header().Set("Upload-Concat", concat)
	}
	if metaHeader != "" {
		w.Header().Set("Upload-Metadata", metaHeader)
	}

	// Creation-with-upload: the request body carries the first chunk.
	if r.Header.Get("Content-Type") == offsetContentType {
		h.createWithUpload(w, r, sess)
		return
	}

	w.WriteHeader(http.StatusCreated)
}

// createWithUpload appends the request body as the upload's first chunk and
// responds 201 with the resulting offset.
func (h *Handler) createWithUpload(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	ctx, cancel := appendContext(r.Context(), h.cfg.Upload.AppendTimeout())
	defer cancel()

	limit := h.cfg.Upload.MaxSize
	if !sess.DeferLength && sess.Length > 0 {
		limit = sess.Length
	}
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, limit))
	if err != nil {
		h.coord.AbortIfPresent(ctx, sess)
		tuserr.WriteError(w, r, tuserr.ErrTooLarge.WithCause(err))
		return
	}

	if len(data) == 0 {
		w.Header().Set("Upload-Offset", "0")
		w.WriteHeader(http.StatusCreated)
		return
	}

	if err := verifyChecksum(r.Header.Get("Upload-Checksum"), data); err != nil {
		tuserr.WriteError(w, r, err)
		return
	}

	newOffset, _, err := h.appendChunk(ctx, sess, data, 0)
	if err != nil {
		h.coord.AbortIfPresent(ctx, sess)
		tuserr.WriteError(w, r, uploadError(err))
		return
	}

	w.Header().Set("Upload-Offset", strconv.FormatInt(newOffset, 10))
	w.WriteHeader(http.StatusCreated)
}
