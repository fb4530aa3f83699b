package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
)

// CacheGet returns the live value stored under (namespace, key). Expired
// entries read as misses.
func (s *Store) CacheGet(ctx context.Context, namespace, key string) (string, bool, error) {
	query, args, err := s.sq.Select("value").From("cache_entries").
		Where(sq.Eq{"namespace": namespace, "key": key}).
		Where(sq.Gt{"expires_at": time.Now().UnixMilli()}).
		Limit(1).
		ToSql()
	if err != nil {
		return "", false, fmt.Errorf("building cache query: %w", err)
	}
	var value string
	err = s.db.QueryRowContext(ctx, query, args...).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

// CachePut stores value under (namespace, key) for ttl.
func (s *Store) CachePut(ctx context.Context, namespace, key, value string, ttl time.Duration) error {
	query, args, err := s.sq.Insert("cache_entries").
		Columns("namespace", "key", "value", "expires_at").
		Values(namespace, key, value, time.Now().Add(ttl).UnixMilli()).
		Suffix("ON CONFLICT(namespace, key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at").
		ToSql()
	if err != nil {
		return fmt.Errorf("building cache insert: %w", err)
	}
	_, err = s.db.ExecContext(ctx, query, args...)
	return err
}

// CachePurgeExpired deletes expired entries and returns how many were removed.
func (s *Store) CachePurgeExpired(ctx context.Context) (int64, error) {
	query, args, err := s.sq.Delete("cache_entries").Where(sq.LtOrEq{"expires_at": time.Now().UnixMilli()}).ToSql()
	if err != nil {
		return 0, fmt.Errorf("building cache purge: %w", err)
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
