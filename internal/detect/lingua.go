package detect

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/pemistahl/lingua-go"
)

// minLinguaRunes is the shortest text the statistical detector will judge.
const minLinguaRunes = 10

// Lingua is the primary statistical detector.
type Lingua struct {
	detector lingua.LanguageDetector
}

// NewLingua builds a detector restricted to the given ISO 639-1 codes.
// Codes lingua does not know are ignored; with fewer than two known codes
// it considers every language it supports.
func NewLingua(codes []string) *Lingua {
	want := make(map[string]bool, len(codes))
	for _, c := range codes {
		want[strings.ToLower(strings.TrimSpace(c))] = true
	}
	var langs []lingua.Language
	for _, l := range lingua.AllLanguages() {
		if want[strings.ToLower(l.IsoCode639_1().String())] {
			langs = append(langs, l)
		}
	}

	b := lingua.NewLanguageDetectorBuilder()
	var built lingua.LanguageDetector
	if len(langs) >= 2 {
		built = b.FromLanguages(langs...).Build()
	} else {
		built = b.FromAllLanguages().Build()
	}
	return &Lingua{detector: built}
}

func (l *Lingua) Name() string { return "lingua" }

func (l *Lingua) Detect(_ context.Context, text string) (Guess, error) {
	text = strings.TrimSpace(text)
	if utf8.RuneCountInString(text) < minLinguaRunes {
		return Guess{}, ErrDeclined
	}
	lang, ok := l.detector.DetectLanguageOf(text)
	if !ok {
		return Guess{}, ErrDeclined
	}
	return Guess{
		Language:   strings.ToLower(lang.IsoCode639_1().String()),
		Confidence: l.detector.ComputeLanguageConfidence(text, lang),
	}, nil
}
