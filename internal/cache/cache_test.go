package cache

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/kalambet/intake/internal/storage"
)

// memStore is an in-memory Store that records the TTL of each write.
type memStore struct {
	mu   sync.Mutex
	data map[string]string
	ttls map[string]time.Duration
}

func newMemStore() *memStore {
	return &memStore{data: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (m *memStore) Get(_ context.Context, ns, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[ns+"|"+key]
	return v, ok, nil
}

func (m *memStore) Set(_ context.Context, ns, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[ns+"|"+key] = value
	m.ttls[ns+"|"+key] = ttl
	return nil
}

// failingStore returns err from every operation.
type failingStore struct{ err error }

func (f failingStore) Get(context.Context, string, string) (string, bool, error) {
	return "", false, f.err
}

func (f failingStore) Set(context.Context, string, string, string, time.Duration) error {
	return f.err
}

// slowStore blocks until the context is done.
type slowStore struct{}

func (slowStore) Get(ctx context.Context, _, _ string) (string, bool, error) {
	<-ctx.Done()
	return "", false, ctx.Err()
}

func (slowStore) Set(ctx context.Context, _, _, _ string, _ time.Duration) error {
	<-ctx.Done()
	return ctx.Err()
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type entry struct {
	Language   string  `json:"language"`
	Confidence float64 `json:"confidence"`
}

func TestKeysDeterministic(t *testing.T) {
	if DetectionKey("  hello world ") != DetectionKey("hello world") {
		t.Error("DetectionKey should ignore surrounding whitespace")
	}
	if DetectionKey("hello") == DetectionKey("hullo") {
		t.Error("different text produced the same key")
	}
	if TranslationKey("x", "TE", "en") != TranslationKey("x", "te", "EN") {
		t.Error("TranslationKey should be case-insensitive in language codes")
	}
	if TranslationKey("x", "te", "en") == TranslationKey("x", "hi", "en") {
		t.Error("source language must be part of the key")
	}
	if got := len(TextHash("anything")); got != 32 {
		t.Errorf("len(TextHash) = %d, want 32", got)
	}
}

func TestLayerRoundTripUsesNamespaceTTL(t *testing.T) {
	store := newMemStore()
	l := NewLayer(store, Options{
		TTLs:   map[string]time.Duration{NamespaceDetection: 30 * time.Minute},
		Logger: quietLogger(),
	})
	ctx := context.Background()

	l.Put(ctx, NamespaceDetection, "k", entry{Language: "te", Confidence: 1})
	var got entry
	if !l.Lookup(ctx, NamespaceDetection, "k", &got) {
		t.Fatal("expected hit")
	}
	if got.Language != "te" || got.Confidence != 1 {
		t.Errorf("got %+v", got)
	}
	if ttl := store.ttls[NamespaceDetection+"|k"]; ttl != 30*time.Minute {
		t.Errorf("ttl = %s, want 30m", ttl)
	}

	l.Put(ctx, "other", "k", entry{})
	if ttl := store.ttls["other|k"]; ttl != time.Hour {
		t.Errorf("default ttl = %s, want 1h", ttl)
	}
}

func TestLayerSwallowsStoreErrors(t *testing.T) {
	l := NewLayer(failingStore{err: errors.New("connection refused")}, Options{Logger: quietLogger()})
	ctx := context.Background()

	l.Put(ctx, NamespaceTranslation, "k", entry{Language: "en"})
	var got entry
	if l.Lookup(ctx, NamespaceTranslation, "k", &got) {
		t.Error("failing store must read as a miss")
	}
}

func TestLayerOpTimeout(t *testing.T) {
	l := NewLayer(slowStore{}, Options{OpTimeout: 20 * time.Millisecond, Logger: quietLogger()})

	start := time.Now()
	var got entry
	if l.Lookup(context.Background(), NamespaceDetection, "k", &got) {
		t.Error("slow store must read as a miss")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("lookup took %s, want bounded by op timeout", elapsed)
	}
}

func TestLayerUndecodableEntryIsMiss(t *testing.T) {
	store := newMemStore()
	store.Set(context.Background(), NamespaceDetection, "k", "{not json", time.Minute)
	l := NewLayer(store, Options{Logger: quietLogger()})

	var got entry
	if l.Lookup(context.Background(), NamespaceDetection, "k", &got) {
		t.Error("corrupt entry must read as a miss")
	}
}

func TestNilLayer(t *testing.T) {
	var l *Layer
	l.Put(context.Background(), NamespaceDetection, "k", entry{})
	var got entry
	if l.Lookup(context.Background(), NamespaceDetection, "k", &got) {
		t.Error("nil layer must miss")
	}
}

func TestRedisStoreUnreachableIsMiss(t *testing.T) {
	store := NewRedisStore(RedisOptions{Addr: "127.0.0.1:1"})
	defer store.Close()
	l := NewLayer(store, Options{OpTimeout: 200 * time.Millisecond, Logger: quietLogger()})

	l.Put(context.Background(), NamespaceDetection, "k", entry{Language: "hi"})
	var got entry
	if l.Lookup(context.Background(), NamespaceDetection, "k", &got) {
		t.Error("unreachable redis must read as a miss")
	}
}

func TestSQLiteStore(t *testing.T) {
	db, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	l := NewLayer(NewSQLiteStore(db), Options{Logger: quietLogger()})
	ctx := context.Background()
	key := TranslationKey("నాకు ఎగరాలి అని ఉంది", "te", "en")

	l.Put(ctx, NamespaceTranslation, key, entry{Language: "en", Confidence: 0.9})
	var got entry
	if !l.Lookup(ctx, NamespaceTranslation, key, &got) {
		t.Fatal("expected hit")
	}
	if got.Confidence != 0.9 {
		t.Errorf("Confidence = %v, want 0.9", got.Confidence)
	}
}
