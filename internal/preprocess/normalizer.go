// Package preprocess normalizes text for downstream generation. Every
// transformation is scoped so that code points outside ASCII survive
// untouched; only NFC composition may change non-ASCII bytes.
package preprocess

import (
	"errors"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

var (
	// ErrMalformed is returned for input that is not valid UTF-8.
	ErrMalformed = errors.New("preprocess: input is not valid UTF-8")
	// ErrEmpty is returned when nothing is left after normalization.
	ErrEmpty = errors.New("preprocess: text is empty after normalization")
)

// Step names recorded in Result.Steps.
const (
	StepUnicode     = "unicode_normalization"
	StepWhitespace  = "whitespace_collapse"
	StepFilter      = "character_filter"
	StepPunctuation = "punctuation_normalization"
	StepTypos       = "typo_correction"
	StepSentence    = "sentence_boundary"
)

const maxReportedRemovals = 20

// filtered is the full set of characters the filter step may drop.
const filtered = "#*<>@^_|~\\"

// Result is the normalized text and what was done to it.
type Result struct {
	Text         string   `json:"text"`
	RemovedChars []string `json:"removed_chars"`
	RemovedCount int      `json:"removed_count"`
	Steps        []string `json:"steps"`
	Corrections  int      `json:"corrections"`
}

// Normalizer is safe for concurrent use once constructed.
type Normalizer struct {
	typos map[string]string
}

// New returns a Normalizer using typos as its correction dictionary. Keys
// are matched case-insensitively and must be ASCII.
func New(typos map[string]string) *Normalizer {
	dict := make(map[string]string, len(typos))
	for k, v := range typos {
		dict[strings.ToLower(k)] = v
	}
	return &Normalizer{typos: dict}
}

// Normalize runs the normalization steps in order.
func (n *Normalizer) Normalize(text string) (Result, error) {
	if !utf8.ValidString(text) {
		return Result{}, ErrMalformed
	}

	var res Result
	remove := func(r rune) {
		res.RemovedCount++
		if len(res.RemovedChars) < maxReportedRemovals {
			res.RemovedChars = append(res.RemovedChars, string(r))
		}
	}

	s := stripControls(norm.NFC.String(text), remove)
	res.Steps = append(res.Steps, StepUnicode)

	s = collapseWhitespace(s)
	res.Steps = append(res.Steps, StepWhitespace)

	s = collapseWhitespace(filterSymbols(s, remove))
	res.Steps = append(res.Steps, StepFilter)

	s = normalizePunctuation(s)
	res.Steps = append(res.Steps, StepPunctuation)

	s, res.Corrections = n.fixTypos(s)
	res.Steps = append(res.Steps, StepTypos)

	s = ensureTerminal(s)
	res.Steps = append(res.Steps, StepSentence)

	if s == "" {
		return Result{}, ErrEmpty
	}
	if res.RemovedChars == nil {
		res.RemovedChars = []string{}
	}
	res.Text = s
	return res, nil
}

// stripControls drops Cc characters other than whitespace. Format
// characters such as ZWJ and ZWNJ stay, since Indic scripts depend on them.
func stripControls(s string, removed func(rune)) string {
	return strings.Map(func(r rune) rune {
		if unicode.Is(unicode.Cc, r) && !isASCIISpace(r) {
			removed(r)
			return -1
		}
		return r
	}, s)
}

func isASCIISpace(r rune) bool {
	switch r {
	case ' ', '\t', '\n', '\r', '\v', '\f':
		return true
	}
	return false
}

// collapseWhitespace turns runs of ASCII whitespace into one space and
// trims the ends. Non-ASCII spaces are content and are left alone.
func collapseWhitespace(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	pending := false
	for _, r := range s {
		if isASCIISpace(r) {
			pending = b.Len() > 0
			continue
		}
		if pending {
			b.WriteByte(' ')
			pending = false
		}
		b.WriteRune(r)
	}
	return b.String()
}

func filterSymbols(s string, removed func(rune)) string {
	return strings.Map(func(r rune) rune {
		if r < utf8.RuneSelf && strings.ContainsRune(filtered, r) {
			removed(r)
			return -1
		}
		return r
	}, s)
}

// normalizePunctuation collapses repeated ASCII sentence punctuation,
// rewrites backticks as apostrophes and double hyphens as a single one.
func normalizePunctuation(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	var prev rune
	for _, r := range s {
		switch r {
		case '!', '?', '.', ',', '-':
			if r == prev {
				continue
			}
		case '`':
			r = '\''
		}
		b.WriteRune(r)
		prev = r
	}
	return b.String()
}

// fixTypos replaces dictionary words made only of ASCII letters. A word
// touching any other letter, digit or combining mark is left alone, so
// mixed-script tokens are never rewritten.
func (n *Normalizer) fixTypos(s string) (string, int) {
	if len(n.typos) == 0 {
		return s, 0
	}
	runes := []rune(s)
	var b strings.Builder
	b.Grow(len(s))
	fixes := 0

	for i := 0; i < len(runes); {
		if !isASCIILetter(runes[i]) {
			b.WriteRune(runes[i])
			i++
			continue
		}
		j := i
		for j < len(runes) && isASCIILetter(runes[j]) {
			j++
		}
		word := string(runes[i:j])
		if boundary(runes, i-1) && boundary(runes, j) {
			if repl, ok := n.typos[strings.ToLower(word)]; ok {
				word = matchCase(word, repl)
				fixes++
			}
		}
		b.WriteString(word)
		i = j
	}
	return b.String(), fixes
}

func boundary(runes []rune, i int) bool {
	if i < 0 || i >= len(runes) {
		return true
	}
	r := runes[i]
	return !unicode.IsLetter(r) && !unicode.IsDigit(r) && !unicode.IsMark(r) && r != '\''
}

func isASCIILetter(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
}

func matchCase(original, repl string) string {
	switch {
	case repl == "":
		return repl
	case strings.ToUpper(original) == original && len(original) > 1:
		return strings.ToUpper(repl)
	case unicode.IsUpper(rune(original[0])):
		return strings.ToUpper(repl[:1]) + repl[1:]
	default:
		return repl
	}
}

// ensureTerminal appends a period when the text ends in an ASCII letter or
// digit. Text ending in any other script keeps its own conventions.
func ensureTerminal(s string) string {
	last, _ := utf8.DecodeLastRuneInString(s)
	if last < utf8.RuneSelf && (isASCIILetter(last) || (last >= '0' && last <= '9')) {
		return s + "."
	}
	return s
}
