package storage

import (
    "context"
    "database/sql"
    "errors"
    "fmt"
    "strings"
    "time"
)

// Dialect selects the SQL flavour of the cache_entries statements.
type Dialect string

const (
    DialectSQLite Dialect = "sqlite"
    DialectMySQL  Dialect = "mysql"
)

// SQLKV persists blobs in a cache_entries table.  Rows are replaced with a
// single upsert statement, and batches run inside one transaction.
type SQLKV struct {
    db      *sql.DB
    dialect Dialect
    upsert  string
}

// NewSQLKV binds the store to db and creates the cache_entries table when
// it does not exist yet.
func NewSQLKV(ctx context.Context, db *sql.DB, dialect Dialect) (*SQLKV, error) {
    if db == nil {
        return nil, ErrNotConfigured
    }
    var ddl, upsert string
    switch dialect {
    case DialectSQLite:
        ddl = `CREATE TABLE IF NOT EXISTS cache_entries (
                 cache_key  TEXT PRIMARY KEY,
                 payload    BLOB NOT NULL,
                 updated_at INTEGER NOT NULL
               )`
        upsert = `INSERT INTO cache_entries (cache_key, payload, updated_at) VALUES (?, ?, ?)
                  ON CONFLICT(cache_key) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at`
    case DialectMySQL:
        ddl = `CREATE TABLE IF NOT EXISTS cache_entries (
                 cache_key  VARCHAR(191) NOT NULL PRIMARY KEY,
                 payload    LONGBLOB NOT NULL,
                 updated_at BIGINT NOT NULL
               ) DEFAULT CHARSET=utf8mb4`
        upsert = `INSERT INTO cache_entries (cache_key, payload, updated_at) VALUES (?, ?, ?)
                  ON DUPLICATE KEY UPDATE payload = VALUES(payload), updated_at = VALUES(updated_at)`
    default:
        return nil, fmt.Errorf("unsupported sql dialect %q", dialect)
    }
    if _, err := db.ExecContext(ctx, ddl); err != nil {
        return nil, fmt.Errorf("create cache_entries: %w", err)
    }
    return &SQLKV{db: db, dialect: dialect, upsert: upsert}, nil
}

// Get loads the payload stored under key.  sql.ErrNoRows is a miss.
func (s *SQLKV) Get(ctx context.Context, key string) ([]byte, bool, error) {
    if s == nil || s.db == nil {
        return nil, false, ErrNotConfigured
    }
    if strings.TrimSpace(key) == "" {
        return nil, false, ErrEmptyKey
    }
    var payload []byte
    err := s.db.QueryRowContext(ctx, `SELECT payload FROM cache_entries WHERE cache_key = ?`, key).Scan(&payload)
    if errors.Is(err, sql.ErrNoRows) {
        return nil, false, nil
    }
    if err != nil {
        return nil, false, fmt.Errorf("get cache entry: %w", err)
    }
    return payload, true, nil
}

// Put upserts a single entry.
func (s *SQLKV) Put(ctx context.Context, key string, blob []byte) error {
    if s == nil || s.db == nil {
        return ErrNotConfigured
    }
    if strings.TrimSpace(key) == "" {
        return ErrEmptyKey
    }
    if blob == nil {
        blob = []byte{}
    }
    if _, err := s.db.ExecContext(ctx, s.upsert, key, blob, time.Now().UTC().UnixMilli()); err != nil {
        return fmt.Errorf("put cache entry: %w", err)
    }
    return nil
}

// PutBatch upserts every entry in one transaction.
func (s *SQLKV) PutBatch(ctx context.Context, entries map[string][]byte) error {
    if s == nil || s.db == nil {
        return ErrNotConfigured
    }
    for k := range entries {
        if strings.TrimSpace(k) == "" {
            return ErrEmptyKey
        }
    }
    tx, err := s.db.BeginTx(ctx, nil)
    if err != nil {
        return fmt.Errorf("begin cache batch: %w", err)
    }
    committed := false
    defer func() {
        if !committed {
            _ = tx.Rollback()
        }
    }()
    now := time.Now().UTC().UnixMilli()
    for k, v := range entries {
        if v == nil {
            v = []byte{}
        }
        if _, err := tx.ExecContext(ctx, s.upsert, k, v, now); err != nil {
            return fmt.Errorf("put cache entry %s: %w", k, err)
        }
    }
    if err := tx.Commit(); err != nil {
        return fmt.Errorf("commit cache batch: %w", err)
    }
    committed = true
    return nil
}

// Delete removes key and reports whether a row was deleted.
func (s *SQLKV) Delete(ctx context.Context, key string) (bool, error) {
    if s == nil || s.db == nil {
        return false, ErrNotConfigured
    }
    res, err := s.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE cache_key = ?`, key)
    if err != nil {
        return false, fmt.Errorf("delete cache entry: %w", err)
    }
    n, err := res.RowsAffected()
    if err != nil {
        return false, err
    }
    return n > 0, nil
}
