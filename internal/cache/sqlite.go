package cache

import (
	"context"
	"time"
)

// entryTable is the subset of storage.Store used for cache persistence.
type entryTable interface {
	CacheGet(ctx context.Context, namespace, key string) (string, bool, error)
	CachePut(ctx context.Context, namespace, key, value string, ttl time.Duration) error
}

// SQLiteStore keeps entries in the service database, for deployments
// without Redis.
type SQLiteStore struct {
	table entryTable
}

func NewSQLiteStore(table entryTable) *SQLiteStore {
	return &SQLiteStore{table: table}
}

func (s *SQLiteStore) Get(ctx context.Context, namespace, key string) (string, bool, error) {
	return s.table.CacheGet(ctx, namespace, key)
}

func (s *SQLiteStore) Set(ctx context.Context, namespace, key, value string, ttl time.Duration) error {
	return s.table.CachePut(ctx, namespace, key, value, ttl)
}
