package storage

import (
    "context"
    "errors"
    "fmt"
    "strings"

    "github.com/redis/go-redis/v9"
)

// RedisKV stores blobs as plain Redis strings under "<prefix>:<key>".
// Entries never expire; staleness is decided by the cache metadata.
type RedisKV struct {
    rdb    *redis.Client
    prefix string
}

// NewRedisKV wraps a connected client.  A nil client yields a store whose
// methods all return ErrNotConfigured.
func NewRedisKV(rdb *redis.Client, prefix string) *RedisKV {
    return &RedisKV{rdb: rdb, prefix: strings.TrimSpace(prefix)}
}

func (s *RedisKV) key(k string) string {
    if s.prefix == "" {
        return k
    }
    return s.prefix + ":" + k
}

// Get loads the blob stored under key.  redis.Nil is reported as a miss.
func (s *RedisKV) Get(ctx context.Context, key string) ([]byte, bool, error) {
    if s == nil || s.rdb == nil {
        return nil, false, ErrNotConfigured
    }
    if strings.TrimSpace(key) == "" {
        return nil, false, ErrEmptyKey
    }
    bs, err := s.rdb.Get(ctx, s.key(key)).Bytes()
    if errors.Is(err, redis.Nil) {
        return nil, false, nil
    }
    if err != nil {
        return nil, false, fmt.Errorf("redis get %s: %w", key, err)
    }
    return bs, true, nil
}

// Put overwrites key with blob.
func (s *RedisKV) Put(ctx context.Context, key string, blob []byte) error {
    if s == nil || s.rdb == nil {
        return ErrNotConfigured
    }
    if strings.TrimSpace(key) == "" {
        return ErrEmptyKey
    }
    if err := s.rdb.Set(ctx, s.key(key), blob, 0).Err(); err != nil {
        return fmt.Errorf("redis set %s: %w", key, err)
    }
    return nil
}

// PutBatch writes all entries inside MULTI/EXEC.
func (s *RedisKV) PutBatch(ctx context.Context, entries map[string][]byte) error {
    if s == nil || s.rdb == nil {
        return ErrNotConfigured
    }
    for k := range entries {
        if strings.TrimSpace(k) == "" {
            return ErrEmptyKey
        }
    }
    _, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
        for k, v := range entries {
            pipe.Set(ctx, s.key(k), v, 0)
        }
        return nil
    })
    if err != nil {
        return fmt.Errorf("redis batch set: %w", err)
    }
    return nil
}

// Delete removes key and reports whether it existed.
func (s *RedisKV) Delete(ctx context.Context, key string) (bool, error) {
    if s == nil || s.rdb == nil {
        return false, ErrNotConfigured
    }
    n, err := s.rdb.Del(ctx, s.key(key)).Result()
    if err != nil {
        return false, fmt.Errorf("redis del %s: %w", key, err)
    }
    return n > 0, nil
}
