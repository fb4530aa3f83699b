package detect

import (
	"context"
	"strings"

	"github.com/abadojack/whatlanggo"
)

// Whatlang is the trigram detector. It covers scripts the primary detector
// has no models for, such as Kannada, Malayalam and Odia.
type Whatlang struct{}

func (Whatlang) Name() string { return "whatlang" }

func (Whatlang) Detect(_ context.Context, text string) (Guess, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Guess{}, ErrDeclined
	}
	info := whatlanggo.Detect(text)
	code := info.Lang.Iso6391()
	if code == "" {
		return Guess{}, ErrDeclined
	}
	return Guess{Language: code, Confidence: info.Confidence}, nil
}
