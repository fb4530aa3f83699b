package validate

import (
	"strings"
	"testing"

	"github.com/brianvoe/gofakeit/v6"
)

func newTestValidator() *Validator {
	return New(Rules{
		MinLength:      10,
		MaxLength:      2000,
		ForbiddenTerms: []string{"violence", "explicit", "hate_speech", "spam", "malicious"},
	})
}

func hasCheck(issues []Issue, check string) bool {
	for _, i := range issues {
		if i.Check == check {
			return true
		}
	}
	return false
}

func TestValidate_AcceptsOrdinaryText(t *testing.T) {
	v := newTestValidator()
	inputs := []string{
		"I want to fly over the mountains tomorrow.",
		"నాకు ఎగరాలి అని ఉంది",
		"मुझे उड़ना है और आसमान को छूना है",
	}
	for _, in := range inputs {
		r := v.Validate(in)
		if !r.IsValid {
			t.Errorf("Validate(%q) errors = %v, want valid", in, r.Errors)
		}
	}
}

func TestValidate_RandomSentences(t *testing.T) {
	gofakeit.Seed(42)
	v := newTestValidator()
	for i := 0; i < 50; i++ {
		s := gofakeit.Sentence(8)
		r := v.Validate(s)
		if hasCheck(r.Errors, CheckEncoding) || hasCheck(r.Errors, CheckFormat) {
			t.Errorf("Validate(%q) = %v, want no format/encoding errors", s, r.Errors)
		}
	}
}

func TestValidate_Length(t *testing.T) {
	v := newTestValidator()

	r := v.Validate("hi there")
	if r.IsValid || !hasCheck(r.Errors, CheckLength) {
		t.Errorf("short text: %+v, want length error", r)
	}

	// Length is counted in characters, not bytes: 10 Telugu runes pass.
	r = v.Validate(strings.Repeat("తె", 5))
	if hasCheck(r.Errors, CheckLength) {
		t.Errorf("10-rune text rejected for length: %v", r.Errors)
	}
	if r.Length != 10 {
		t.Errorf("Length = %d, want 10", r.Length)
	}

	long := strings.Repeat("abcdefghij ", 200)
	r = v.Validate(long)
	if !hasCheck(r.Errors, CheckLength) {
		t.Error("text above maximum accepted")
	}

	// Surrounding whitespace is not counted.
	r = v.Validate("    short    ")
	if !hasCheck(r.Errors, CheckLength) {
		t.Error("padded short text accepted")
	}
}

func TestValidate_Format(t *testing.T) {
	v := newTestValidator()

	tests := []struct {
		name string
		in   string
	}{
		{"too many line breaks", strings.Repeat("line of text\n", 12)},
		{"whitespace run", "hello          there my friend"},
		{"repeated characters", "hellooooooooooooooo friend"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := v.Validate(tt.in)
			if !hasCheck(r.Errors, CheckFormat) {
				t.Errorf("Validate(%q) errors = %v, want format error", tt.in, r.Errors)
			}
		})
	}

	r := v.Validate(" leading space is only a warning")
	if !r.IsValid {
		t.Errorf("edge whitespace should not fail: %v", r.Errors)
	}
	if !hasCheck(r.Warnings, CheckFormat) {
		t.Error("expected edge whitespace warning")
	}
}

func TestValidate_ContentPolicy(t *testing.T) {
	v := newTestValidator()

	r := v.Validate("This story contains VIOLENCE and more")
	if !hasCheck(r.Errors, CheckContentPolicy) {
		t.Errorf("forbidden term not detected: %+v", r)
	}

	r = v.Validate("please explicitly describe the scene")
	if hasCheck(r.Errors, CheckContentPolicy) {
		t.Errorf("word containing a forbidden term flagged: %v", r.Errors)
	}

	r = v.Validate("visit https://example.com or mail me@example.com now")
	if !r.IsValid {
		t.Errorf("spam heuristics must only warn: %v", r.Errors)
	}
	if len(r.Warnings) < 2 {
		t.Errorf("warnings = %v, want url and email", r.Warnings)
	}

	r = v.Validate("call me at 555-123-4567 tonight please")
	if !hasCheck(r.Warnings, CheckContentPolicy) {
		t.Error("phone number not flagged")
	}

	r = v.Validate("THIS IS ALL SHOUTING TEXT")
	if !r.IsValid || !hasCheck(r.Warnings, CheckContentPolicy) {
		t.Errorf("caps: %+v, want valid with warning", r)
	}
}

func TestValidate_Encoding(t *testing.T) {
	v := newTestValidator()

	r := v.Validate("hello\x00 world, how are you")
	if !hasCheck(r.Errors, CheckEncoding) {
		t.Error("NUL byte accepted")
	}

	r = v.Validate("hello \xff\xfe world, how are you")
	if !hasCheck(r.Errors, CheckEncoding) {
		t.Error("invalid UTF-8 accepted")
	}

	r = v.Validate("tabs\tand\r\nnewlines are fine here")
	if hasCheck(r.Errors, CheckEncoding) {
		t.Errorf("standard whitespace rejected: %v", r.Errors)
	}
}

func TestValidate_AllChecksRun(t *testing.T) {
	v := newTestValidator()

	// Too short, forbidden and contains a control character.
	r := v.Validate("spam\x07")
	for _, check := range []string{CheckLength, CheckContentPolicy, CheckEncoding} {
		if !hasCheck(r.Errors, check) {
			t.Errorf("missing %s error in %v", check, r.Errors)
		}
	}
	if r.Error() == "" {
		t.Error("Error() should summarize failures")
	}
}
