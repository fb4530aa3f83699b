package translate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"

	"github.com/kalambet/intake/internal/ollama"
)

const ollamaConfidence = 0.7

var translationSchema = &ollama.Schema{
	Type: "object",
	Properties: map[string]ollama.SchemaProperty{
		"translation": {Type: "string", Description: "the translated text only"},
	},
	Required: []string{"translation"},
}

// Ollama translates with a local LLM.
type Ollama struct {
	client *ollama.Client
	model  string
}

// NewOllama returns a provider using model on client. It is unavailable
// when either is missing.
func NewOllama(client *ollama.Client, model string) *Ollama {
	return &Ollama{client: client, model: model}
}

func (o *Ollama) Name() string { return "ollama" }

func (o *Ollama) Available() bool { return o.client != nil && o.model != "" }

func (o *Ollama) Translate(ctx context.Context, text, src, dst string) (string, float64, error) {
	prompt := fmt.Sprintf(
		"Translate the following %s text into %s. Reply with JSON of the form "+
			`{"translation": "..."}`+" and nothing else.\n\n%s",
		languageName(src), languageName(dst), text)

	raw, err := o.client.Chat(ctx, o.model, []ollama.Message{
		{Role: "system", Content: "You are a precise translator. Preserve meaning and tone; do not add commentary."},
		{Role: "user", Content: prompt},
	}, translationSchema)
	if err != nil {
		var ce *ollama.ChatError
		if errors.As(err, &ce) {
			return "", 0, &StatusError{Provider: o.Name(), Code: ce.Code, Body: ce.Body}
		}
		return "", 0, fmt.Errorf("ollama: %w", err)
	}

	var out struct {
		Translation string `json:"translation"`
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &out); err != nil {
		return "", 0, fmt.Errorf("ollama: decoding reply: %w", err)
	}
	return strings.TrimSpace(out.Translation), ollamaConfidence, nil
}

// languageName renders an ISO code as an English language name for prompts.
func languageName(code string) string {
	tag, err := language.Parse(code)
	if err != nil {
		return code
	}
	if name := display.English.Tags().Name(tag); name != "" {
		return name
	}
	return code
}
