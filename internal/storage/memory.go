package storage

import (
    "context"
    "strings"
    "sync"
)

// MemoryKV keeps blobs in a map.  It satisfies KV and Batcher and is safe
// for concurrent use.
type MemoryKV struct {
    mu sync.RWMutex
    m  map[string][]byte
}

// NewMemoryKV returns an empty in-memory store.
func NewMemoryKV() *MemoryKV {
    return &MemoryKV{m: map[string][]byte{}}
}

// Get returns a copy of the blob stored under key.
func (s *MemoryKV) Get(_ context.Context, key string) ([]byte, bool, error) {
    if strings.TrimSpace(key) == "" {
        return nil, false, ErrEmptyKey
    }
    s.mu.RLock()
    defer s.mu.RUnlock()
    b, ok := s.m[key]
    if !ok {
        return nil, false, nil
    }
    return append([]byte(nil), b...), true, nil
}

// Put stores a copy of blob under key.
func (s *MemoryKV) Put(_ context.Context, key string, blob []byte) error {
    if strings.TrimSpace(key) == "" {
        return ErrEmptyKey
    }
    s.mu.Lock()
    defer s.mu.Unlock()
    s.m[key] = append([]byte(nil), blob...)
    return nil
}

// PutBatch stores every entry under a single lock.
func (s *MemoryKV) PutBatch(_ context.Context, entries map[string][]byte) error {
    for k := range entries {
        if strings.TrimSpace(k) == "" {
            return ErrEmptyKey
        }
    }
    s.mu.Lock()
    defer s.mu.Unlock()
    for k, v := range entries {
        s.m[k] = append([]byte(nil), v...)
    }
    return nil
}

// Delete removes key and reports whether it was present.
func (s *MemoryKV) Delete(_ context.Context, key string) (bool, error) {
    s.mu.Lock()
    defer s.mu.Unlock()
    _, ok := s.m[key]
    delete(s.m, key)
    return ok, nil
}

// Len returns the number of stored keys.
func (s *MemoryKV) Len() int {
    s.mu.RLock()
    defer s.mu.RUnlock()
    return len(s.m)
}
