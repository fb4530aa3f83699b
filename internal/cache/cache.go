// Package cache is an advisory key/value layer in front of language detection
// and translation. Every lookup has a recompute path, so failures are logged
// and reported as misses rather than returned.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// Namespaces used by the pipeline.
const (
	NamespaceDetection   = "detection"
	NamespaceTranslation = "translation"
)

// Store is a namespaced string store with per-entry expiry.
type Store interface {
	Get(ctx context.Context, namespace, key string) (string, bool, error)
	Set(ctx context.Context, namespace, key, value string, ttl time.Duration) error
}

// TextHash returns a stable digest of text with surrounding whitespace removed.
func TextHash(text string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(text)))
	return hex.EncodeToString(sum[:16])
}

// DetectionKey is the cache key for a language detection of text.
func DetectionKey(text string) string {
	return TextHash(text)
}

// TranslationKey is the cache key for translating text from src to dst.
func TranslationKey(text, src, dst string) string {
	return strings.ToLower(src) + ":" + strings.ToLower(dst) + ":" + TextHash(text)
}

// Nop is a Store that never hits.
type Nop struct{}

func (Nop) Get(context.Context, string, string) (string, bool, error) { return "", false, nil }

func (Nop) Set(context.Context, string, string, string, time.Duration) error { return nil }
