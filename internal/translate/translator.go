// Package translate turns text into the target language by trying an ordered
// list of providers, retrying transient failures with backoff.
package translate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/kalambet/intake/internal/cache"
	"github.com/kalambet/intake/internal/storage"
)

// Provider is one translation backend.
type Provider interface {
	Name() string
	// Available reports whether the provider is configured to be called.
	Available() bool
	Translate(ctx context.Context, text, src, dst string) (string, float64, error)
}

// Attempt outcomes.
const (
	OutcomeAccepted      = "accepted"
	OutcomeCandidate     = "candidate"
	OutcomeNotConfigured = "not_configured"
	OutcomeRetry         = "retry"
	OutcomeFailed        = "failed"
)

const reasonNotConfigured = "not configured"

// Attempt records one call, or skipped call, to a provider.
type Attempt struct {
	Provider   string  `json:"provider"`
	Try        int     `json:"try"`
	Outcome    string  `json:"outcome"`
	Confidence float64 `json:"confidence,omitempty"`
	Error      string  `json:"error,omitempty"`
	DurationMS int64   `json:"duration_ms"`
}

// Result is an accepted translation.
type Result struct {
	Text       string    `json:"text"`
	Confidence float64   `json:"confidence"`
	Provider   string    `json:"provider"`
	CacheHit   bool      `json:"cache_hit"`
	Attempts   []Attempt `json:"attempts,omitempty"`
}

// ProviderFailure is why one provider produced nothing.
type ProviderFailure struct {
	Provider string `json:"provider"`
	Reason   string `json:"reason"`
}

// ExhaustedError is returned when no provider produced a translation.
type ExhaustedError struct {
	Failures []ProviderFailure
}

func (e *ExhaustedError) Error() string {
	if len(e.Failures) == 0 {
		return "translate: no providers configured"
	}
	parts := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		parts[i] = f.Provider + ": " + f.Reason
	}
	return "translate: all providers failed: " + strings.Join(parts, "; ")
}

// StatusError is a non-2xx response from an HTTP provider.
type StatusError struct {
	Provider string
	Code     int
	Body     string
}

func (e *StatusError) Error() string {
	body := e.Body
	if len(body) > 200 {
		body = body[:200]
	}
	return fmt.Sprintf("%s: unexpected status %d: %s", e.Provider, e.Code, body)
}

// Transient reports whether retrying the same request may succeed.
func (e *StatusError) Transient() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= 500
}

// Options configures a Translator.
type Options struct {
	Threshold       float64
	ProviderTimeout time.Duration
	MaxRetries      int
	InitialBackoff  time.Duration
	Cache           *cache.Layer
	Logger          *slog.Logger
}

// Translator runs providers in order.
type Translator struct {
	providers []Provider
	opts      Options
	logger    *slog.Logger
}

// cachedTranslation is the JSON form stored in the translation namespace.
type cachedTranslation struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	Provider   string  `json:"provider"`
}

// New returns a Translator over providers, tried in slice order.
func New(providers []Provider, opts Options) *Translator {
	if opts.ProviderTimeout <= 0 {
		opts.ProviderTimeout = 15 * time.Second
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = 500 * time.Millisecond
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Translator{providers: providers, opts: opts, logger: logger}
}

// ProviderStatus describes a configured provider.
type ProviderStatus struct {
	Name      string `json:"name"`
	Available bool   `json:"available"`
	Position  int    `json:"position"`
}

// Providers lists the chain in order with availability.
func (t *Translator) Providers() []ProviderStatus {
	out := make([]ProviderStatus, len(t.providers))
	for i, p := range t.providers {
		out[i] = ProviderStatus{Name: p.Name(), Available: p.Available(), Position: i + 1}
	}
	return out
}

// Translate translates text from src to dst. It returns *ExhaustedError when
// every provider failed and an error wrapping ctx.Err() when ctx ends first.
func (t *Translator) Translate(ctx context.Context, text, src, dst string) (Result, error) {
	key := cache.TranslationKey(text, src, dst)
	var hit cachedTranslation
	if t.opts.Cache.Lookup(ctx, cache.NamespaceTranslation, key, &hit) && hit.Text != "" {
		return Result{Text: hit.Text, Confidence: storage.ClampConfidence(hit.Confidence), Provider: hit.Provider, CacheHit: true}, nil
	}

	var (
		attempts []Attempt
		failures []ProviderFailure
		best     *Result
	)

	for _, p := range t.providers {
		name := p.Name()
		if !p.Available() {
			attempts = append(attempts, Attempt{Provider: name, Outcome: OutcomeNotConfigured})
			failures = append(failures, ProviderFailure{Provider: name, Reason: reasonNotConfigured})
			continue
		}

		for try := 0; ; try++ {
			start := time.Now()
			callCtx, cancel := context.WithTimeout(ctx, t.opts.ProviderTimeout)
			out, conf, err := p.Translate(callCtx, text, src, dst)
			cancel()
			a := Attempt{Provider: name, Try: try + 1, DurationMS: time.Since(start).Milliseconds()}

			if ctxErr := ctx.Err(); ctxErr != nil {
				return Result{Attempts: attempts}, fmt.Errorf("translating with %s: %w", name, ctxErr)
			}
			if err == nil && strings.TrimSpace(out) == "" {
				err = fmt.Errorf("%s: empty translation", name)
			}

			if err == nil {
				a.Confidence = storage.ClampConfidence(conf)
				if a.Confidence >= t.opts.Threshold {
					a.Outcome = OutcomeAccepted
					attempts = append(attempts, a)
					res := Result{Text: out, Confidence: a.Confidence, Provider: name, Attempts: attempts}
					t.opts.Cache.Put(ctx, cache.NamespaceTranslation, key, cachedTranslation{
						Text: res.Text, Confidence: res.Confidence, Provider: res.Provider,
					})
					return res, nil
				}
				a.Outcome = OutcomeCandidate
				attempts = append(attempts, a)
				if best == nil || a.Confidence > best.Confidence {
					best = &Result{Text: out, Confidence: a.Confidence, Provider: name}
				}
				break
			}

			a.Error = err.Error()
			if isTransient(err) && try < t.opts.MaxRetries {
				a.Outcome = OutcomeRetry
				attempts = append(attempts, a)
				backoff := t.opts.InitialBackoff * time.Duration(math.Pow(2, float64(try)))
				t.logger.Warn("translate: transient failure, retrying",
					"provider", name, "attempt", try+1, "backoff", backoff, "error", err)
				select {
				case <-ctx.Done():
					return Result{Attempts: attempts}, fmt.Errorf("translating with %s: %w", name, ctx.Err())
				case <-time.After(backoff):
				}
				continue
			}

			a.Outcome = OutcomeFailed
			attempts = append(attempts, a)
			failures = append(failures, ProviderFailure{Provider: name, Reason: err.Error()})
			t.logger.Warn("translate: provider failed", "provider", name, "error", err)
			break
		}
	}

	if best != nil {
		best.Attempts = attempts
		return *best, nil
	}
	return Result{Attempts: attempts}, &ExhaustedError{Failures: failures}
}

// isTransient classifies network errors, per-call timeouts, 429 and 5xx as
// worth retrying.
func isTransient(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Transient()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne)
}
