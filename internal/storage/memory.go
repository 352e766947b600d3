package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"sync"
	"time"
)

// MemoryStore is an in-process Store for tests and local runs.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string][]byte
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string][]byte), now: time.Now}
}

func (m *MemoryStore) Put(ctx context.Context, r io.Reader, size int64, suggestedKey string, opts PutOptions) (PutResult, error) {
	if err := ctx.Err(); err != nil {
		return PutResult{}, err
	}
	src := r
	if opts.Progress != nil {
		src = &countingReader{src: r, progress: newProgressReader(suggestedKey, size, opts.Progress)}
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, src); err != nil {
		return PutResult{}, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	m.mu.Lock()
	m.objects[suggestedKey] = buf.Bytes()
	m.mu.Unlock()

	ttl := ClampHandleTTL(opts.HandleTTL)
	expires := m.now().Add(ttl)
	return PutResult{
		StorageKey:      suggestedKey,
		RetrievalHandle: memoryHandle(suggestedKey, expires),
		HandleExpires:   expires,
	}, nil
}

func (m *MemoryStore) IssueRetrievalHandle(ctx context.Context, key string, ttl time.Duration, displayName string) (string, error) {
	if !m.Has(key) {
		return "", fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return memoryHandle(key, m.now().Add(ClampHandleTTL(ttl))), nil
}

func (m *MemoryStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	delete(m.objects, key)
	m.mu.Unlock()
	return nil
}

// Has reports whether key is currently stored.
func (m *MemoryStore) Has(key string) bool {
	m.mu.RLock()
	_, ok := m.objects[key]
	m.mu.RUnlock()
	return ok
}

// Get returns a copy of the stored bytes.
func (m *MemoryStore) Get(key string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, false
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, true
}

// Len returns the number of stored objects.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}

func memoryHandle(key string, expires time.Time) string {
	return fmt.Sprintf("memory://%s?expires=%d", url.PathEscape(key), expires.UnixMilli())
}
