package storage

import (
	"fmt"
	"math"
	"strconv"
)

// FormatConfidence renders a confidence score the way it is persisted and
// exposed: clamped to [0, 1] with exactly two decimal places.
func FormatConfidence(c float64) string {
	return strconv.FormatFloat(ClampConfidence(c), 'f', 2, 64)
}

// ParseConfidence reads a persisted confidence string. The empty string is 0.
func ParseConfidence(s string) (float64, error) {
	if s == "" {
		return 0, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing confidence %q: %w", s, err)
	}
	return ClampConfidence(v), nil
}

// ClampConfidence bounds c to [0, 1]; NaN becomes 0.
func ClampConfidence(c float64) float64 {
	if math.IsNaN(c) || c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}
