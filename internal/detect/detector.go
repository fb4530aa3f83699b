// Package detect identifies the language of user text through an ordered
// chain of detection methods, falling back to a configured default.
package detect

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/text/language"

	"github.com/kalambet/intake/internal/cache"
	"github.com/kalambet/intake/internal/storage"
)

// ErrDeclined is returned by a Method that has no opinion on the text.
var ErrDeclined = errors.New("detect: method declined")

// MethodDefault names the absolute fallback in Result.Method.
const MethodDefault = "default"

// Attempt outcomes.
const (
	OutcomeAccepted       = "accepted"
	OutcomeDeclined       = "declined"
	OutcomeBelowThreshold = "below_threshold"
	OutcomeNotAllowed     = "not_allowed"
	OutcomeError          = "error"
)

// Guess is a single method's answer.
type Guess struct {
	Language   string
	Confidence float64
}

// Method is one link in the detection chain.
type Method interface {
	Name() string
	Detect(ctx context.Context, text string) (Guess, error)
}

// Attempt records what one method said during a detection.
type Attempt struct {
	Method     string  `json:"method"`
	Language   string  `json:"language,omitempty"`
	Confidence float64 `json:"confidence"`
	Outcome    string  `json:"outcome"`
	Error      string  `json:"error,omitempty"`
}

// Result is the outcome of a detection.
type Result struct {
	Language   string    `json:"language"`
	Confidence float64   `json:"confidence"`
	Method     string    `json:"method"`
	CacheHit   bool      `json:"cache_hit"`
	Degraded   bool      `json:"degraded"`
	Attempts   []Attempt `json:"attempts,omitempty"`
}

// Options configures a Detector.
type Options struct {
	Threshold        float64
	DefaultLanguage  string
	AllowedLanguages []string
	Cache            *cache.Layer
	Logger           *slog.Logger
}

// Detector runs methods in order until one gives an acceptable answer.
type Detector struct {
	methods   []Method
	threshold float64
	fallback  string
	allowed   map[string]bool
	cache     *cache.Layer
	logger    *slog.Logger
}

// cachedDetection is the JSON form stored in the detection namespace.
type cachedDetection struct {
	Language   string  `json:"language"`
	Confidence float64 `json:"confidence"`
	Method     string  `json:"method"`
}

// New returns a Detector over methods. An empty allow-list accepts every
// language.
func New(methods []Method, opts Options) *Detector {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	fallback := Canonical(opts.DefaultLanguage)
	if fallback == "" {
		fallback = "en"
	}
	var allowed map[string]bool
	if len(opts.AllowedLanguages) > 0 {
		allowed = make(map[string]bool, len(opts.AllowedLanguages))
		for _, l := range opts.AllowedLanguages {
			if c := Canonical(l); c != "" {
				allowed[c] = true
			}
		}
	}
	return &Detector{
		methods:   methods,
		threshold: opts.Threshold,
		fallback:  fallback,
		allowed:   allowed,
		cache:     opts.Cache,
		logger:    logger,
	}
}

// Methods returns the names of the configured methods in chain order.
func (d *Detector) Methods() []string {
	names := make([]string, len(d.methods))
	for i, m := range d.methods {
		names[i] = m.Name()
	}
	return names
}

// Detect returns the language of text. Method failures are absorbed; the
// only error is cancellation of ctx.
func (d *Detector) Detect(ctx context.Context, text string) (Result, error) {
	key := cache.DetectionKey(text)
	var hit cachedDetection
	if d.cache.Lookup(ctx, cache.NamespaceDetection, key, &hit) && d.isAllowed(hit.Language) {
		return Result{
			Language:   hit.Language,
			Confidence: storage.ClampConfidence(hit.Confidence),
			Method:     hit.Method,
			CacheHit:   true,
		}, nil
	}

	var attempts []Attempt
	for i, m := range d.methods {
		if err := ctx.Err(); err != nil {
			return Result{Attempts: attempts}, fmt.Errorf("detecting language: %w", err)
		}
		terminal := i == len(d.methods)-1
		a := Attempt{Method: m.Name()}

		g, err := m.Detect(ctx, text)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return Result{Attempts: attempts}, fmt.Errorf("detecting language: %w", ctxErr)
			}
			if errors.Is(err, ErrDeclined) {
				a.Outcome = OutcomeDeclined
			} else {
				a.Outcome = OutcomeError
				a.Error = err.Error()
				d.logger.Warn("detect: method failed", "method", m.Name(), "error", err)
			}
			attempts = append(attempts, a)
			continue
		}

		a.Language = Canonical(g.Language)
		a.Confidence = storage.ClampConfidence(g.Confidence)
		switch {
		case !d.isAllowed(a.Language):
			a.Outcome = OutcomeNotAllowed
		case !terminal && a.Confidence < d.threshold:
			a.Outcome = OutcomeBelowThreshold
		default:
			a.Outcome = OutcomeAccepted
		}
		attempts = append(attempts, a)
		if a.Outcome != OutcomeAccepted {
			continue
		}

		if a.Confidence >= d.threshold {
			d.cache.Put(ctx, cache.NamespaceDetection, key, cachedDetection{
				Language:   a.Language,
				Confidence: a.Confidence,
				Method:     a.Method,
			})
		}
		return Result{
			Language:   a.Language,
			Confidence: a.Confidence,
			Method:     a.Method,
			Attempts:   attempts,
		}, nil
	}

	d.logger.Info("detect: chain exhausted, using default language", "language", d.fallback)
	return Result{
		Language:   d.fallback,
		Confidence: 0,
		Method:     MethodDefault,
		Degraded:   true,
		Attempts:   attempts,
	}, nil
}

func (d *Detector) isAllowed(lang string) bool {
	if lang == "" {
		return false
	}
	return d.allowed == nil || d.allowed[lang]
}

// Canonical returns the ISO 639-1 form of a language code when one exists,
// the ISO 639-3 form otherwise, and "" for codes it cannot parse.
func Canonical(code string) string {
	code = strings.TrimSpace(code)
	if code == "" {
		return ""
	}
	tag, err := language.Parse(code)
	if err != nil {
		return ""
	}
	base, _ := tag.Base()
	return base.String()
}
