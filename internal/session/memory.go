package session

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"
)

// MemoryStore is an in-memory session store engine. It serializes records
// through JSON like the real engines do, so callers observe the same
// copy-on-read semantics, and honors TTLs lazily on access. Intended for
// tests and single-process development.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]memoryRecord
}

type memoryRecord struct {
	data      []byte
	expiresAt time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]memoryRecord)}
}

func (m *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

func (m *MemoryStore) Close() error {
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Session, error) {
	m.mu.RLock()
	rec, ok := m.records[KeyPrefix+id]
	m.mu.RUnlock()

	if !ok || time.Now().After(rec.expiresAt) {
		return nil, nil
	}

	var sess Session
	if err := json.Unmarshal(rec.data, &sess); err != nil {
		return nil, fmt.Errorf("decoding session %s: %w", id, err)
	}
	return &sess, nil
}

func (m *MemoryStore) Set(ctx context.Context, id string, sess *Session, ttl time.Duration) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encoding session %s: %w", id, err)
	}

	m.mu.Lock()
	m.records[KeyPrefix+id] = memoryRecord{data: data, expiresAt: time.Now().Add(ttl)}
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	delete(m.records, KeyPrefix+id)
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) ListIDs(ctx context.Context) ([]string, error) {
	now := time.Now()

	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.records))
	for key, rec := range m.records {
		if now.After(rec.expiresAt) {
			continue
		}
		ids = append(ids, strings.TrimPrefix(key, KeyPrefix))
	}
	return ids, nil
}

var _ Store = (*MemoryStore)(nil)
