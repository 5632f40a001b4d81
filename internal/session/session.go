// Package session defines the upload session record and the metadata store
// accessor that persists it.
package session

import (
	"sort"
	"time"
)

// ConcatMetadataKey is the reserved metadata key holding a session's
// concatenation marker ("partial" or "final;<ids>").
const ConcatMetadataKey = "Upload-Concat"

// Part records one successfully acknowledged backend part.
type Part struct {
	// Number is the backend part number (1-based).
	Number int32 `json:"part_number"`
	// ETag is the tag the backend issued for the part.
	ETag string `json:"etag"`
}

// Session is the persisted state of one resumable upload. The upload id is
// both the session key and the backend object key.
type Session struct {
	ID string `json:"id"`
	// Offset is the count of bytes successfully persisted and acknowledged.
	Offset int64 `json:"offset"`
	// Length is the declared total size in bytes; zero while deferred.
	Length int64 `json:"length"`
	// DeferLength marks a session whose length is not yet known. The length
	// must be set exactly once before the session can complete.
	DeferLength bool `json:"defer_length"`
	// Metadata holds decoded client-supplied key/value pairs.
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	// BackendUploadID is the multipart handle issued by the storage backend.
	BackendUploadID string `json:"backend_upload_id,omitempty"`
	// Parts lists acknowledged backend parts in append order.
	Parts []Part `json:"parts"`
	// UploadedChunks is the set of acknowledged part numbers, used to make
	// chunk upload idempotent under retry.
	UploadedChunks []int32 `json:"uploaded_chunks"`
	// ChunkSize is the current adaptive part size in bytes.
	ChunkSize int64 `json:"chunk_size"`
	// NetworkSpeed is the smoothed throughput estimate in bytes/second.
	NetworkSpeed float64 `json:"network_speed"`
	// LastUploadTime is when the last chunk finished uploading.
	LastUploadTime time.Time `json:"last_upload_time"`
	// LastProgressUpdate is when the session was last persisted mid-request.
	LastProgressUpdate time.Time `json:"last_progress_update,omitzero"`
}

// HasChunk reports whether the part number has already been acknowledged.
func (s *Session) HasChunk(partNumber int32) bool {
	for _, n := range s.UploadedChunks {
		if n == partNumber {
			return true
		}
	}
	return false
}

// AddPart records an acknowledged part in both the part list and the
// uploaded-chunk set. The two are kept in agreement: a part number appears
// in one iff it appears in the other.
func (s *Session) AddPart(partNumber int32, etag string) {
	if s.HasChunk(partNumber) {
		return
	}
	s.Parts = append(s.Parts, Part{Number: partNumber, ETag: etag})
	s.UploadedChunks = append(s.UploadedChunks, partNumber)
}

// SortedParts returns a copy of the part list sorted ascending by part
// number, as required for backend finalization.
func (s *Session) SortedParts() []Part {
	parts := make([]Part, len(s.Parts))
	copy(parts, s.Parts)
	sort.Slice(parts, func(i, j int) bool { return parts[i].Number < parts[j].Number })
	return parts
}

// ExpiresAt returns the staleness horizon for the session given the
// incomplete-session TTL.
func (s *Session) ExpiresAt(ttl time.Duration) time.Time {
	return s.CreatedAt.Add(ttl)
}

// IsStale reports whether the session's age exceeds the TTL at the given
// instant.
func (s *Session) IsStale(ttl time.Duration, now time.Time) bool {
	return now.Sub(s.CreatedAt) > ttl
}

// IsPartialConcat reports whether the session is a partial concatenation
// upload.
func (s *Session) IsPartialConcat() bool {
	return s.Metadata[ConcatMetadataKey] == "partial"
}

// IsFinalConcat reports whether the session is a final concatenation upload
// (a view over already-uploaded partial sessions, with no length of its own).
func (s *Session) IsFinalConcat() bool {
	v := s.Metadata[ConcatMetadataKey]
	return len(v) >= 5 && v[:5] == "final"
}
