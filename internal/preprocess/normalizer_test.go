package preprocess

import (
	"errors"
	"strings"
	"testing"

	"github.com/brianvoe/gofakeit/v6"
	"golang.org/x/text/unicode/norm"
)

func newTestNormalizer() *Normalizer {
	return New(map[string]string{"teh": "the", "recieve": "receive", "adn": "and"})
}

func TestNormalize_NonASCIIPassesThrough(t *testing.T) {
	n := newTestNormalizer()
	inputs := []string{
		"నాకు ఎగరాలి అని ఉంది",
		"मुझे आसमान में जाना है।",
		"ਮੈਂ ਉੱਡਣਾ ਚਾਹੁੰਦਾ ਹਾਂ",
		"ನನಗೆ ಹಾರಲು ಇಷ್ಟ",
		"আমি আকাশে যেতে চাই",
		// ZWJ and ZWNJ are meaningful inside Indic words.
		"क्\u200dष और क्\u200cष",
	}
	for _, in := range inputs {
		res, err := n.Normalize("  " + in + "\n")
		if err != nil {
			t.Fatalf("Normalize(%q): %v", in, err)
		}
		if res.Text != in {
			t.Errorf("Normalize(%q) = %q, want unchanged", in, res.Text)
		}
		if res.RemovedCount != 0 {
			t.Errorf("Normalize(%q) removed %v", in, res.RemovedChars)
		}
	}
}

func TestNormalize_StepsInOrder(t *testing.T) {
	res, err := newTestNormalizer().Normalize("hello world")
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	want := []string{StepUnicode, StepWhitespace, StepFilter, StepPunctuation, StepTypos, StepSentence}
	if strings.Join(res.Steps, ",") != strings.Join(want, ",") {
		t.Errorf("Steps = %v, want %v", res.Steps, want)
	}
}

func TestNormalize_Transformations(t *testing.T) {
	n := newTestNormalizer()
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"collapses whitespace", "I  want\n\n to\tfly", "I want to fly."},
		{"drops filtered symbols", "fly #now *please* <ok>", "fly now please ok."},
		{"collapses punctuation", "Really?? Yes!!! Fine... ok,, sure", "Really? Yes! Fine. ok, sure."},
		{"rewrites backticks and dashes", "it`s here -- now", "it's here - now."},
		{"fixes typos preserving case", "Teh cat adn TEH dog", "The cat and THE dog."},
		{"keeps existing terminal punctuation", "are you there?", "are you there?"},
		{"appends period after digits", "room 42", "room 42."},
		{"removes control characters", "bell\x07 rings", "bell rings."},
		{"composes to NFC", "cafe\u0301 au lait", "caf\u00e9 au lait."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := n.Normalize(tt.in)
			if err != nil {
				t.Fatalf("Normalize: %v", err)
			}
			if res.Text != tt.want {
				t.Errorf("Normalize(%q) = %q, want %q", tt.in, res.Text, tt.want)
			}
		})
	}
}

func TestNormalize_TyposLeaveMixedScriptAlone(t *testing.T) {
	n := newTestNormalizer()

	res, err := n.Normalize("tehक and teh2 and teh")
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if res.Text != "tehक and teh2 and the." {
		t.Errorf("Text = %q", res.Text)
	}
	if res.Corrections != 1 {
		t.Errorf("Corrections = %d, want 1", res.Corrections)
	}
}

func TestNormalize_MixedScriptKeepsNonASCII(t *testing.T) {
	n := newTestNormalizer()
	in := "I recieve నాకు ఎగరాలి #gift"

	res, err := n.Normalize(in)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if !strings.Contains(res.Text, "నాకు ఎగరాలి") {
		t.Errorf("Telugu span altered: %q", res.Text)
	}
	if res.Text != "I receive నాకు ఎగరాలి gift." {
		t.Errorf("Text = %q", res.Text)
	}
	if len(res.RemovedChars) != 1 || res.RemovedChars[0] != "#" {
		t.Errorf("RemovedChars = %v, want [#]", res.RemovedChars)
	}
}

func TestNormalize_Errors(t *testing.T) {
	n := newTestNormalizer()

	if _, err := n.Normalize("bad \xff bytes"); !errors.Is(err, ErrMalformed) {
		t.Errorf("err = %v, want ErrMalformed", err)
	}
	if _, err := n.Normalize("  ### \x00 ~~ "); !errors.Is(err, ErrEmpty) {
		t.Errorf("err = %v, want ErrEmpty", err)
	}
}

func TestNormalize_RandomEnglishIsStable(t *testing.T) {
	gofakeit.Seed(7)
	n := newTestNormalizer()
	for i := 0; i < 50; i++ {
		in := gofakeit.Sentence(10)
		first, err := n.Normalize(in)
		if err != nil {
			t.Fatalf("Normalize(%q): %v", in, err)
		}
		second, err := n.Normalize(first.Text)
		if err != nil {
			t.Fatalf("Normalize(%q): %v", first.Text, err)
		}
		if first.Text != second.Text {
			t.Errorf("not idempotent: %q -> %q", first.Text, second.Text)
		}
	}
}

// NFC replaces composition-excluded and singleton code points with their
// canonical equivalents, so those inputs change bytes but not meaning.
func TestNormalize_NFCCanonicalizesExcludedCodePoints(t *testing.T) {
	n := newTestNormalizer()
	tests := []struct {
		name    string
		in      string
		want    string
		changed string
	}{
		{"devanagari qa", "\u0958लम है", "\u0915\u093cलम है", "\u0958"},
		{"ohm sign", "\u2126 मान", "\u03a9 मान", "\u2126"},
		{"already composed", "नाकु ఎగరాలి", "नाकु ఎగరాలి", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := n.Normalize(tt.in)
			if err != nil {
				t.Fatalf("Normalize: %v", err)
			}
			if res.Text != tt.want {
				t.Errorf("Text = %+q, want %+q", res.Text, tt.want)
			}
			if tt.changed != "" && strings.Contains(res.Text, tt.changed) {
				t.Errorf("Text still contains %+q", tt.changed)
			}
			if norm.NFD.String(res.Text) != norm.NFD.String(tt.in) {
				t.Errorf("Text %+q is not canonically equivalent to %+q", res.Text, tt.in)
			}
		})
	}
}
