// Package validate checks untrusted input text before it enters the pipeline.
package validate

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Check names reported in Issue.Check.
const (
	CheckLength        = "length"
	CheckFormat        = "format"
	CheckContentPolicy = "content_policy"
	CheckEncoding      = "encoding"
)

const (
	maxLineBreaks     = 10
	maxWhitespaceRun  = 4
	maxRepeatedRune   = 10
	maxCapsRatio      = 0.5
	minLettersForCaps = 8
)

var spamPatterns = []struct {
	what string
	re   *regexp.Regexp
}{
	{"embedded URL", regexp.MustCompile(`(?i)\bhttps?://\S+`)},
	{"email address", regexp.MustCompile(`(?i)\b[a-z0-9._%+-]+@[a-z0-9.-]+\.[a-z]{2,}\b`)},
	{"phone number", regexp.MustCompile(`\b\d{3}[-. ]?\d{3}[-. ]?\d{4}\b`)},
}

// Issue is a single validation finding.
type Issue struct {
	Check   string `json:"check"`
	Message string `json:"message"`
}

// Result reports every finding of a validation run.
type Result struct {
	IsValid  bool    `json:"is_valid"`
	Errors   []Issue `json:"errors"`
	Warnings []Issue `json:"warnings"`
	Length   int     `json:"length"`
}

// Error joins error messages into one line, or returns "" when valid.
func (r Result) Error() string {
	msgs := make([]string, len(r.Errors))
	for i, e := range r.Errors {
		msgs[i] = e.Message
	}
	return strings.Join(msgs, "; ")
}

// Rules configures a Validator.
type Rules struct {
	MinLength      int
	MaxLength      int
	ForbiddenTerms []string
}

type forbiddenTerm struct {
	term string
	re   *regexp.Regexp
}

// Validator is safe for concurrent use.
type Validator struct {
	minLength int
	maxLength int
	forbidden []forbiddenTerm
}

func New(rules Rules) *Validator {
	v := &Validator{minLength: rules.MinLength, maxLength: rules.MaxLength}
	for _, term := range rules.ForbiddenTerms {
		term = strings.ToLower(strings.TrimSpace(term))
		if term == "" {
			continue
		}
		v.forbidden = append(v.forbidden, forbiddenTerm{
			term: term,
			re:   regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(term) + `\b`),
		})
	}
	return v
}

// Validate runs every check against text. It never short-circuits, so the
// caller sees all violations at once.
func (v *Validator) Validate(text string) Result {
	var r Result
	r.Length = utf8.RuneCountInString(strings.TrimSpace(text))

	v.checkLength(&r)
	v.checkFormat(&r, text)
	v.checkContent(&r, text)
	v.checkEncoding(&r, text)

	r.IsValid = len(r.Errors) == 0
	if r.Errors == nil {
		r.Errors = []Issue{}
	}
	if r.Warnings == nil {
		r.Warnings = []Issue{}
	}
	return r
}

func (r *Result) fail(check, format string, args ...any) {
	r.Errors = append(r.Errors, Issue{Check: check, Message: fmt.Sprintf(format, args...)})
}

func (r *Result) warn(check, format string, args ...any) {
	r.Warnings = append(r.Warnings, Issue{Check: check, Message: fmt.Sprintf(format, args...)})
}

func (v *Validator) checkLength(r *Result) {
	if r.Length < v.minLength {
		r.fail(CheckLength, "text too short: %d characters, minimum is %d", r.Length, v.minLength)
	}
	if v.maxLength > 0 && r.Length > v.maxLength {
		r.fail(CheckLength, "text too long: %d characters, maximum is %d", r.Length, v.maxLength)
	}
}

func (v *Validator) checkFormat(r *Result, text string) {
	if n := strings.Count(text, "\n"); n > maxLineBreaks {
		r.fail(CheckFormat, "text contains too many line breaks (%d, maximum %d)", n, maxLineBreaks)
	}

	var prev rune
	run, wsRun := 0, 0
	reportedRepeat, reportedSpace := false, false
	for _, c := range text {
		if unicode.IsSpace(c) {
			wsRun++
			if wsRun > maxWhitespaceRun && !reportedSpace {
				r.fail(CheckFormat, "text contains excessive consecutive whitespace")
				reportedSpace = true
			}
			run, prev = 0, c
			continue
		}
		wsRun = 0
		if c == prev {
			run++
		} else {
			run = 1
		}
		prev = c
		if run > maxRepeatedRune && !reportedRepeat {
			r.fail(CheckFormat, "text contains excessive repeated characters (%q)", c)
			reportedRepeat = true
		}
	}

	if text != strings.TrimSpace(text) {
		r.warn(CheckFormat, "text has leading or trailing whitespace")
	}
}

func (v *Validator) checkContent(r *Result, text string) {
	for _, f := range v.forbidden {
		if f.re.MatchString(text) {
			r.fail(CheckContentPolicy, "content policy violation: %q detected", f.term)
		}
	}

	for _, p := range spamPatterns {
		if p.re.MatchString(text) {
			r.warn(CheckContentPolicy, "possible spam: %s", p.what)
		}
	}

	letters, upper := 0, 0
	for _, c := range text {
		if unicode.IsLetter(c) {
			letters++
			if unicode.IsUpper(c) {
				upper++
			}
		}
	}
	if letters >= minLettersForCaps && float64(upper)/float64(letters) > maxCapsRatio {
		r.warn(CheckContentPolicy, "excessive capitalization")
	}
}

func (v *Validator) checkEncoding(r *Result, text string) {
	if !utf8.ValidString(text) {
		r.fail(CheckEncoding, "text is not valid UTF-8")
	}
	for _, c := range text {
		if c == '\n' || c == '\t' || c == '\r' {
			continue
		}
		if unicode.IsControl(c) {
			r.fail(CheckEncoding, "text contains control character %U", c)
			return
		}
	}
}
