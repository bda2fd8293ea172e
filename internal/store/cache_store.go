package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

type cacheRow struct {
	Key        string `db:"key"`
	Value      []byte `db:"value"`
	TTLClass   string `db:"ttl_class"`
	InsertedAt string `db:"inserted_at"`
	ExpiresAt  string `db:"expires_at"`
}

// GetCacheEntry returns the entry stored under key, or nil when absent.
// Expiry is left to the caller.
func (s *SQLiteStore) GetCacheEntry(ctx context.Context, key string) (*CacheEntry, error) {
	var row cacheRow
	err := s.db.GetContext(ctx, &row, `
		SELECT key, value, ttl_class, inserted_at, expires_at
		FROM cache_entries WHERE key = ?`, key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting cache entry: %w", err)
	}

	e := &CacheEntry{Key: row.Key, Value: row.Value, TTLClass: row.TTLClass}
	if e.InsertedAt, err = parseTime(row.InsertedAt); err != nil {
		return nil, err
	}
	if e.ExpiresAt, err = parseTime(row.ExpiresAt); err != nil {
		return nil, err
	}
	return e, nil
}

// PutCacheEntry replaces the entry under e.Key, drops expired entries, and
// evicts the oldest insertions beyond maxEntries (0 means unbounded).
func (s *SQLiteStore) PutCacheEntry(ctx context.Context, e CacheEntry, maxEntries int) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO cache_entries (key, value, ttl_class, inserted_at, expires_at, seq)
		VALUES (?, ?, ?, ?, ?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM cache_entries))
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			ttl_class = excluded.ttl_class,
			inserted_at = excluded.inserted_at,
			expires_at = excluded.expires_at,
			seq = excluded.seq`,
		e.Key, e.Value, e.TTLClass, formatTime(e.InsertedAt), formatTime(e.ExpiresAt),
	)
	if err != nil {
		return fmt.Errorf("storing cache entry: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		"DELETE FROM cache_entries WHERE expires_at <= ?", formatTime(e.InsertedAt),
	); err != nil {
		return fmt.Errorf("purging expired cache entries: %w", err)
	}

	if maxEntries > 0 {
		_, err := tx.ExecContext(ctx, `
			DELETE FROM cache_entries WHERE seq <= (
				SELECT seq FROM cache_entries ORDER BY seq DESC LIMIT 1 OFFSET ?
			)`, maxEntries)
		if err != nil {
			return fmt.Errorf("evicting cache entries: %w", err)
		}
	}

	return tx.Commit()
}

// DeleteCacheEntry removes the entry under key if present.
func (s *SQLiteStore) DeleteCacheEntry(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM cache_entries WHERE key = ?", key); err != nil {
		return fmt.Errorf("deleting cache entry: %w", err)
	}
	return nil
}

// ClearCache removes every cache entry.
func (s *SQLiteStore) ClearCache(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM cache_entries"); err != nil {
		return fmt.Errorf("clearing cache: %w", err)
	}
	return nil
}

// CountCacheEntries reports how many entries are stored, expired or not.
func (s *SQLiteStore) CountCacheEntries(ctx context.Context) (int, error) {
	var n int
	if err := s.db.GetContext(ctx, &n, "SELECT COUNT(*) FROM cache_entries"); err != nil {
		return 0, fmt.Errorf("counting cache entries: %w", err)
	}
	return n, nil
}

