package api

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Counter is a fixed-window request counter.
type Counter interface {
	// Incr increments key and returns the new count and the time left in
	// the window. The window starts on the first increment.
	Incr(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error)
}

// RedisCounter counts requests with INCR and EXPIRE.
type RedisCounter struct {
	Client *redis.Client
}

func (c RedisCounter) Incr(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	count, err := c.Client.Incr(ctx, key).Result()
	if err != nil {
		return 0, 0, err
	}
	if count == 1 {
		if err := c.Client.Expire(ctx, key, window).Err(); err != nil {
			return count, window, err
		}
		return count, window, nil
	}
	ttl, err := c.Client.TTL(ctx, key).Result()
	if err != nil {
		return count, 0, err
	}
	if ttl < 0 {
		// A key that lost its expiry would never reset.
		c.Client.Expire(ctx, key, window)
		ttl = window
	}
	return count, ttl, nil
}

// RateLimitConfig configures RateLimit.
type RateLimitConfig struct {
	Counter   Counter
	Limit     int
	Window    time.Duration
	KeyPrefix string
	Timeout   time.Duration
	Logger    *slog.Logger
	// TrustedProxies lists the IPs or CIDRs whose X-Forwarded-For header is
	// believed. Requests from anywhere else are keyed by their peer address.
	TrustedProxies []string
}

// RateLimit limits each client IP to Limit requests per Window. When the
// counter is unreachable requests pass through.
func RateLimit(cfg RateLimitConfig) func(http.Handler) http.Handler {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "intake:rl:"
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 200 * time.Millisecond
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	trusted := parseTrusted(cfg.TrustedProxies, cfg.Logger)

	return func(next http.Handler) http.Handler {
		if cfg.Counter == nil || cfg.Limit <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), cfg.Timeout)
			count, ttl, err := cfg.Counter.Incr(ctx, cfg.KeyPrefix+clientIP(r, trusted), cfg.Window)
			cancel()
			if err != nil {
				cfg.Logger.Warn("rate limit counter unavailable", "error", err)
				next.ServeHTTP(w, r)
				return
			}

			reset := int(ttl.Seconds())
			remaining := max(cfg.Limit-int(count), 0)
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(cfg.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.Itoa(reset))

			if count > int64(cfg.Limit) {
				w.Header().Set("Retry-After", strconv.Itoa(reset))
				httpError(w, http.StatusTooManyRequests, "rate_limit_error",
					"rate limit of %d requests per %s exceeded", cfg.Limit, cfg.Window)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func parseTrusted(entries []string, logger *slog.Logger) []netip.Prefix {
	var out []netip.Prefix
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		if p, err := netip.ParsePrefix(e); err == nil {
			out = append(out, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(e)
		if err != nil {
			logger.Warn("rate limit: ignoring trusted proxy", "entry", e, "error", err)
			continue
		}
		out = append(out, netip.PrefixFrom(addr.Unmap(), addr.Unmap().BitLen()))
	}
	return out
}

func isTrusted(trusted []netip.Prefix, ip string) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, p := range trusted {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// clientIP returns the peer address of r. When the peer is a trusted proxy
// it walks X-Forwarded-For from the right and returns the first address that
// is not a trusted proxy.
func clientIP(r *http.Request, trusted []netip.Prefix) string {
	peer := r.RemoteAddr
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		peer = host
	}
	if peer == "" {
		return "anonymous"
	}
	if !isTrusted(trusted, peer) {
		return peer
	}
	hops := strings.Split(r.Header.Get("X-Forwarded-For"), ",")
	for i := len(hops) - 1; i >= 0; i-- {
		hop := strings.TrimSpace(hops[i])
		if hop == "" {
			continue
		}
		if !isTrusted(trusted, hop) {
			return hop
		}
	}
	return peer
}
