// Package storage provides the multipart object storage backend and the
// coordinator that drives it for resumable uploads.
package storage

import (
	"context"

	"github.com/tusflow/tusflow/internal/session"
)

// PartInfo describes one part the backend has stored for an in-progress
// multipart upload.
type PartInfo struct {
	Number int32
	Size   int64
}

// Backend defines the interface for multipart object storage. The upload id
// issued by Initiate identifies the multipart transaction on the backend;
// the object key is the resumable upload id. All methods must be safe for
// concurrent use.
type Backend interface {
	// Initiate starts a multipart upload for the given object key and returns
	// the backend upload id.
	Initiate(ctx context.Context, key, contentType string, metadata map[string]string) (string, error)

	// UploadPart stores one part and returns its ETag. Part numbers are
	// 1-based. Re-uploading a part number replaces the previous data.
	UploadPart(ctx context.Context, key, uploadID string, partNumber int32, body []byte) (string, error)

	// ListParts returns the parts stored so far, sorted by part number.
	ListParts(ctx context.Context, key, uploadID string) ([]PartInfo, error)

	// Complete assembles the listed parts into the final object.
	Complete(ctx context.Context, key, uploadID string, parts []session.Part) error

	// Abort discards the multipart upload and any stored parts. Aborting an
	// unknown upload id is not an error.
	Abort(ctx context.Context, key, uploadID string) error

	// DeleteObject removes a completed object. Idempotent.
	DeleteObject(ctx context.Context, key string) error

	// HealthCheck verifies that the backend is reachable.
	HealthCheck(ctx context.Context) error
}
