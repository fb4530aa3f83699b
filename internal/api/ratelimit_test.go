package api

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

type memCounter struct {
	mu     sync.Mutex
	counts map[string]int64
	err    error
}

func (c *memCounter) Incr(_ context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return 0, 0, c.err
	}
	if c.counts == nil {
		c.counts = make(map[string]int64)
	}
	c.counts[key]++
	return c.counts[key], window, nil
}

func limited(counter Counter, limit int) http.Handler {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) })
	return RateLimit(RateLimitConfig{Counter: counter, Limit: limit, Window: time.Minute})(ok)
}

func requestFrom(ip string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/v1/providers", nil)
	req.RemoteAddr = ip + ":41234"
	return req
}

func TestRateLimit_BlocksAfterLimit(t *testing.T) {
	h := limited(&memCounter{}, 2)

	for i, want := range []int{http.StatusNoContent, http.StatusNoContent, http.StatusTooManyRequests} {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, requestFrom("10.0.0.1"))
		if rr.Code != want {
			t.Fatalf("request %d status = %d, want %d", i+1, rr.Code, want)
		}
		if i == 2 {
			if rr.Header().Get("X-RateLimit-Remaining") != "0" || rr.Header().Get("Retry-After") != "60" {
				t.Errorf("headers = %v", rr.Header())
			}
		}
	}

	// Another client has its own window.
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, requestFrom("10.0.0.2"))
	if rr.Code != http.StatusNoContent {
		t.Errorf("other client status = %d", rr.Code)
	}
}

func TestRateLimit_HeadersOnSuccess(t *testing.T) {
	h := limited(&memCounter{}, 5)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, requestFrom("10.0.0.1"))
	if rr.Header().Get("X-RateLimit-Limit") != "5" || rr.Header().Get("X-RateLimit-Remaining") != "4" {
		t.Errorf("headers = %v", rr.Header())
	}
}

func TestRateLimit_FailsOpen(t *testing.T) {
	h := limited(&memCounter{err: errors.New("connection refused")}, 1)
	for i := 0; i < 3; i++ {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, requestFrom("10.0.0.1"))
		if rr.Code != http.StatusNoContent {
			t.Fatalf("status = %d, want pass-through", rr.Code)
		}
	}
}

func TestRateLimit_UnreachableRedis(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 50 * time.Millisecond, MaxRetries: -1})
	defer client.Close()

	h := limited(RedisCounter{Client: client}, 1)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, requestFrom("10.0.0.1"))
	if rr.Code != http.StatusNoContent {
		t.Errorf("status = %d, want pass-through", rr.Code)
	}
}

func TestClientIP(t *testing.T) {
	trusted := parseTrusted([]string{"10.0.0.0/8", "192.0.2.1"}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	tests := []struct {
		name   string
		remote string
		xff    string
		want   string
	}{
		{"direct", "192.0.2.7", "", "192.0.2.7"},
		{"untrusted peer ignores header", "192.0.2.7", "203.0.113.9", "192.0.2.7"},
		{"trusted proxy", "192.0.2.1", "203.0.113.9", "203.0.113.9"},
		{"trusted chain", "10.0.0.1", "203.0.113.9, 198.51.100.4, 10.0.0.2", "198.51.100.4"},
		{"trusted proxy without header", "10.0.0.1", "", "10.0.0.1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := requestFrom(tt.remote)
			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}
			if got := clientIP(req, trusted); got != tt.want {
				t.Errorf("clientIP = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRateLimit_SpoofedForwardedForShareLimit(t *testing.T) {
	h := limited(&memCounter{}, 1)

	for i, xff := range []string{"203.0.113.1", "203.0.113.2"} {
		req := requestFrom("192.0.2.50")
		req.Header.Set("X-Forwarded-For", xff)
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		want := http.StatusNoContent
		if i == 1 {
			want = http.StatusTooManyRequests
		}
		if rr.Code != want {
			t.Errorf("request %d: status = %d, want %d", i, rr.Code, want)
		}
	}
}
