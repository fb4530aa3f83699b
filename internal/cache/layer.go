package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"
)

// Layer wraps a Store with JSON encoding, per-namespace TTLs and a bound on
// how long a single cache operation may take. A nil *Layer is valid and
// always misses.
type Layer struct {
	store     Store
	ttls      map[string]time.Duration
	opTimeout time.Duration
	logger    *slog.Logger
}

// Options configures a Layer.
type Options struct {
	TTLs       map[string]time.Duration
	DefaultTTL time.Duration
	OpTimeout  time.Duration
	Logger     *slog.Logger
}

const defaultTTLKey = ""

func NewLayer(store Store, opts Options) *Layer {
	if store == nil {
		store = Nop{}
	}
	ttls := make(map[string]time.Duration, len(opts.TTLs)+1)
	for ns, ttl := range opts.TTLs {
		ttls[ns] = ttl
	}
	if opts.DefaultTTL <= 0 {
		opts.DefaultTTL = time.Hour
	}
	ttls[defaultTTLKey] = opts.DefaultTTL
	if opts.OpTimeout <= 0 {
		opts.OpTimeout = 500 * time.Millisecond
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Layer{store: store, ttls: ttls, opTimeout: opts.OpTimeout, logger: logger}
}

// TTL returns the expiry used for entries in namespace.
func (l *Layer) TTL(namespace string) time.Duration {
	if ttl, ok := l.ttls[namespace]; ok {
		return ttl
	}
	return l.ttls[defaultTTLKey]
}

// Lookup decodes the entry at (namespace, key) into dst and reports a hit.
// Errors and undecodable entries count as misses.
func (l *Layer) Lookup(ctx context.Context, namespace, key string, dst any) bool {
	if l == nil {
		return false
	}
	opCtx, cancel := context.WithTimeout(ctx, l.opTimeout)
	defer cancel()

	raw, ok, err := l.store.Get(opCtx, namespace, key)
	if err != nil {
		l.logger.Warn("cache: lookup failed", "namespace", namespace, "error", err)
		return false
	}
	if !ok {
		return false
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		l.logger.Warn("cache: discarding undecodable entry", "namespace", namespace, "error", err)
		return false
	}
	return true
}

// Put stores v at (namespace, key) with the namespace TTL. Failures are
// logged and otherwise ignored.
func (l *Layer) Put(ctx context.Context, namespace, key string, v any) {
	if l == nil {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		l.logger.Warn("cache: encoding entry", "namespace", namespace, "error", err)
		return
	}
	opCtx, cancel := context.WithTimeout(ctx, l.opTimeout)
	defer cancel()

	if err := l.store.Set(opCtx, namespace, key, string(data), l.TTL(namespace)); err != nil {
		l.logger.Warn("cache: store failed", "namespace", namespace, "error", err)
	}
}
