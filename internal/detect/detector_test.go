package detect

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/kalambet/intake/internal/cache"
)

// fakeMethod returns a fixed guess or error and counts calls.
type fakeMethod struct {
	name  string
	guess Guess
	err   error
	calls int
}

func (f *fakeMethod) Name() string { return f.name }

func (f *fakeMethod) Detect(context.Context, string) (Guess, error) {
	f.calls++
	return f.guess, f.err
}

type memStore struct {
	mu   sync.Mutex
	data map[string]string
}

func (m *memStore) Get(_ context.Context, ns, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[ns+"|"+key]
	return v, ok, nil
}

func (m *memStore) Set(_ context.Context, ns, key, value string, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[ns+"|"+key] = value
	return nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestDetector(store *memStore, methods ...Method) *Detector {
	var layer *cache.Layer
	if store != nil {
		layer = cache.NewLayer(store, cache.Options{Logger: quietLogger()})
	}
	return New(methods, Options{
		Threshold:        0.8,
		DefaultLanguage:  "en",
		AllowedLanguages: []string{"en", "hi", "te", "ta"},
		Cache:            layer,
		Logger:           quietLogger(),
	})
}

func TestDetect_PrimaryAcceptedAndCached(t *testing.T) {
	store := &memStore{data: map[string]string{}}
	primary := &fakeMethod{name: "primary", guess: Guess{Language: "te", Confidence: 1}}
	secondary := &fakeMethod{name: "secondary", guess: Guess{Language: "hi", Confidence: 1}}
	d := newTestDetector(store, primary, secondary)
	ctx := context.Background()

	res, err := d.Detect(ctx, "నాకు ఎగరాలి అని ఉంది")
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if res.Language != "te" || res.Confidence != 1 || res.Method != "primary" || res.CacheHit {
		t.Errorf("first result = %+v", res)
	}
	if secondary.calls != 0 {
		t.Error("secondary consulted after an accepted answer")
	}

	again, err := d.Detect(ctx, "  నాకు ఎగరాలి అని ఉంది ")
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if !again.CacheHit || again.Language != res.Language || again.Confidence != res.Confidence {
		t.Errorf("cached result = %+v, want hit equal to %+v", again, res)
	}
	if primary.calls != 1 {
		t.Errorf("primary calls = %d, want 1", primary.calls)
	}
}

func TestDetect_FallbackOrder(t *testing.T) {
	tests := []struct {
		name       string
		methods    []*fakeMethod
		wantLang   string
		wantMethod string
		wantConf   float64
	}{
		{
			name: "low confidence advances",
			methods: []*fakeMethod{
				{name: "a", guess: Guess{Language: "hi", Confidence: 0.5}},
				{name: "b", guess: Guess{Language: "ta", Confidence: 0.95}},
			},
			wantLang: "ta", wantMethod: "b", wantConf: 0.95,
		},
		{
			name: "terminal accepted below threshold",
			methods: []*fakeMethod{
				{name: "a", err: ErrDeclined},
				{name: "b", guess: Guess{Language: "hi", Confidence: 0.4}},
			},
			wantLang: "hi", wantMethod: "b", wantConf: 0.4,
		},
		{
			name: "language outside allow-list is a decline",
			methods: []*fakeMethod{
				{name: "a", guess: Guess{Language: "fr", Confidence: 0.99}},
				{name: "b", guess: Guess{Language: "en", Confidence: 0.9}},
			},
			wantLang: "en", wantMethod: "b", wantConf: 0.9,
		},
		{
			name: "errors are absorbed",
			methods: []*fakeMethod{
				{name: "a", err: errors.New("model unavailable")},
				{name: "b", guess: Guess{Language: "te", Confidence: 0.85}},
			},
			wantLang: "te", wantMethod: "b", wantConf: 0.85,
		},
		{
			name: "confidence is clamped",
			methods: []*fakeMethod{
				{name: "a", guess: Guess{Language: "en", Confidence: 1.7}},
			},
			wantLang: "en", wantMethod: "a", wantConf: 1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			methods := make([]Method, len(tt.methods))
			for i, m := range tt.methods {
				methods[i] = m
			}
			res, err := newTestDetector(nil, methods...).Detect(context.Background(), "some text to detect")
			if err != nil {
				t.Fatalf("Detect: %v", err)
			}
			if res.Language != tt.wantLang || res.Method != tt.wantMethod || res.Confidence != tt.wantConf {
				t.Errorf("got %+v, want %s via %s at %v", res, tt.wantLang, tt.wantMethod, tt.wantConf)
			}
			if res.Degraded {
				t.Error("unexpected degraded result")
			}
			if len(res.Attempts) != len(tt.methods) {
				t.Errorf("attempts = %d, want %d", len(res.Attempts), len(tt.methods))
			}
		})
	}
}

func TestDetect_DegradedFallback(t *testing.T) {
	store := &memStore{data: map[string]string{}}
	d := newTestDetector(store,
		&fakeMethod{name: "a", err: ErrDeclined},
		&fakeMethod{name: "b", err: errors.New("503")},
	)

	res, err := d.Detect(context.Background(), "?!?!")
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if !res.Degraded || res.Language != "en" || res.Confidence != 0 || res.Method != MethodDefault {
		t.Errorf("got %+v, want degraded default", res)
	}
	if len(store.data) != 0 {
		t.Errorf("degraded result was cached: %v", store.data)
	}
}

func TestDetect_LowConfidenceNotCached(t *testing.T) {
	store := &memStore{data: map[string]string{}}
	d := newTestDetector(store, &fakeMethod{name: "a", guess: Guess{Language: "hi", Confidence: 0.3}})

	if _, err := d.Detect(context.Background(), "kuch bhi likho yahan"); err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if len(store.data) != 0 {
		t.Error("result below threshold was cached")
	}
}

func TestDetect_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d := newTestDetector(nil, &fakeMethod{name: "a", guess: Guess{Language: "en", Confidence: 1}})

	if _, err := d.Detect(ctx, "hello there friend"); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestCanonical(t *testing.T) {
	tests := map[string]string{
		"te":    "te",
		"EN":    "en",
		"hi-IN": "hi",
		"tel":   "te",
		"":      "",
		"%%":    "",
	}
	for in, want := range tests {
		if got := Canonical(in); got != want {
			t.Errorf("Canonical(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestGoogle_Detect(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/detect" || r.URL.Query().Get("key") != "k" {
			t.Errorf("unexpected request %s", r.URL)
		}
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		if body["q"] == "" {
			t.Error("missing q")
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data":{"detections":[[{"language":"te","confidence":0.97,"isReliable":false}]]}}`))
	}))
	defer srv.Close()

	g, err := NewGoogle(srv.URL, "k").Detect(context.Background(), "నాకు ఎగరాలి")
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if g.Language != "te" || g.Confidence != 0.97 {
		t.Errorf("got %+v", g)
	}
}

func TestGoogle_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"bad key"}}`, http.StatusForbidden)
	}))
	defer srv.Close()

	if _, err := NewGoogle(srv.URL, "bad").Detect(context.Background(), "hello"); err == nil {
		t.Error("expected error for 403")
	}
}

func TestLingua_DeclinesShortText(t *testing.T) {
	l := NewLingua([]string{"en", "te"})
	if _, err := l.Detect(context.Background(), "hi there"); !errors.Is(err, ErrDeclined) {
		t.Errorf("err = %v, want ErrDeclined", err)
	}
}

func TestLingua_DetectsScript(t *testing.T) {
	l := NewLingua([]string{"en", "te"})
	g, err := l.Detect(context.Background(), "నాకు ఎగరాలి అని ఉంది")
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if g.Language != "te" {
		t.Errorf("Language = %q, want te", g.Language)
	}
	if g.Confidence < 0.8 {
		t.Errorf("Confidence = %v, want high", g.Confidence)
	}
}

func TestWhatlang_Detect(t *testing.T) {
	g, err := Whatlang{}.Detect(context.Background(), "నాకు ఎగరాలి అని ఉంది")
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if g.Language != "te" {
		t.Errorf("Language = %q, want te", g.Language)
	}
	if _, err := (Whatlang{}).Detect(context.Background(), "   "); !errors.Is(err, ErrDeclined) {
		t.Errorf("blank text err = %v, want ErrDeclined", err)
	}
}
