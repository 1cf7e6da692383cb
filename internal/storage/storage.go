// Package storage defines the persistent key-value region the purchase
// cache writes to, plus the backends that can hold it: an in-memory map,
// Redis, and a cache_entries table in SQLite or MySQL.
package storage

import (
    "context"
    "errors"
)

// ErrNotConfigured is returned when a backend is used before it has been
// opened or after it was closed.
var ErrNotConfigured = errors.New("storage is not configured")

// ErrEmptyKey is returned when a caller passes a blank key.
var ErrEmptyKey = errors.New("empty cache key")

// KV is an opaque blob store addressed by logical key.  Get reports a miss
// with ok=false and a nil error.  Delete reports whether the key existed.
type KV interface {
    Get(ctx context.Context, key string) (blob []byte, ok bool, err error)
    Put(ctx context.Context, key string, blob []byte) error
    Delete(ctx context.Context, key string) (bool, error)
}

// Batcher is implemented by backends that can replace several keys as one
// atomic unit.  Readers must never see a subset of the batch applied.
type Batcher interface {
    PutBatch(ctx context.Context, entries map[string][]byte) error
}

// PutAll writes entries through PutBatch when kv supports it, falling back
// to individual Puts otherwise.
func PutAll(ctx context.Context, kv KV, entries map[string][]byte) error {
    if b, ok := kv.(Batcher); ok {
        return b.PutBatch(ctx, entries)
    }
    for k, v := range entries {
        if err := kv.Put(ctx, k, v); err != nil {
            return err
        }
    }
    return nil
}
