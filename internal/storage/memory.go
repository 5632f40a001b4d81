package storage

import (
	"context"
	"crypto/md5"
	"fmt"
	"sort"
	"sync"

	"github.com/tusflow/tusflow/internal/session"
	"github.com/tusflow/tusflow/internal/uid"
)

// MemoryBackend is an in-memory Backend implementation for tests and local
// development. Parts are held per upload id; Complete concatenates them into
// an object map.
type MemoryBackend struct {
	mu      sync.Mutex
	uploads map[string]*memoryUpload
	objects map[string][]byte
}

type memoryUpload struct {
	key      string
	metadata map[string]string
	parts    map[int32][]byte
	etags    map[int32]string
}

// NewMemoryBackend creates an empty MemoryBackend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		uploads: make(map[string]*memoryUpload),
		objects: make(map[string][]byte),
	}
}

func (b *MemoryBackend) Initiate(ctx context.Context, key, contentType string, metadata map[string]string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	uploadID := uid.New()
	b.uploads[uploadID] = &memoryUpload{
		key:      key,
		metadata: metadata,
		parts:    make(map[int32][]byte),
		etags:    make(map[int32]string),
	}
	return uploadID, nil
}

func (b *MemoryBackend) UploadPart(ctx context.Context, key, uploadID string, partNumber int32, body []byte) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	up, ok := b.uploads[uploadID]
	if !ok {
		return "", fmt.Errorf("no such upload: %s", uploadID)
	}

	data := make([]byte, len(body))
	copy(data, body)
	etag := fmt.Sprintf(`"%x"`, md5.Sum(data))
	up.parts[partNumber] = data
	up.etags[partNumber] = etag
	return etag, nil
}

func (b *MemoryBackend) ListParts(ctx context.Context, key, uploadID string) ([]PartInfo, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	up, ok := b.uploads[uploadID]
	if !ok {
		return nil, fmt.Errorf("no such upload: %s", uploadID)
	}

	parts := make([]PartInfo, 0, len(up.parts))
	for n, data := range up.parts {
		parts = append(parts, PartInfo{Number: n, Size: int64(len(data))})
	}
	sort.Slice(parts, func(i, j int) bool { return parts[i].Number < parts[j].Number })
	return parts, nil
}

func (b *MemoryBackend) Complete(ctx context.Context, key, uploadID string, parts []session.Part) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	up, ok := b.uploads[uploadID]
	if !ok {
		return fmt.Errorf("no such upload: %s", uploadID)
	}

	var data []byte
	for _, p := range parts {
		body, ok := up.parts[p.Number]
		if !ok {
			return fmt.Errorf("missing part %d for upload %s", p.Number, uploadID)
		}
		if up.etags[p.Number] != p.ETag {
			return fmt.Errorf("etag mismatch for part %d of upload %s", p.Number, uploadID)
		}
		data = append(data, body...)
	}

	b.objects[key] = data
	delete(b.uploads, uploadID)
	return nil
}

func (b *MemoryBackend) Abort(ctx context.Context, key, uploadID string) error {
	b.mu.Lock()
	delete(b.uploads, uploadID)
	b.mu.Unlock()
	return nil
}

func (b *MemoryBackend) DeleteObject(ctx context.Context, key string) error {
	b.mu.Lock()
	delete(b.objects, key)
	b.mu.Unlock()
	return nil
}

func (b *MemoryBackend) HealthCheck(ctx context.Context) error {
	return nil
}

// Object returns the assembled bytes for a completed object, for test
// assertions.
func (b *MemoryBackend) Object(key string) ([]byte, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.objects[key]
	return data, ok
}

// UploadMetadata returns the metadata recorded when a multipart upload was
// initiated, for test assertions.
func (b *MemoryBackend) UploadMetadata(uploadID string) map[string]string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if up, ok := b.uploads[uploadID]; ok {
		return up.metadata
	}
	return nil
}

// HasUpload reports whether a multipart upload is still in progress.
func (b *MemoryBackend) HasUpload(uploadID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.uploads[uploadID]
	return ok
}

var _ Backend = (*MemoryBackend)(nil)
