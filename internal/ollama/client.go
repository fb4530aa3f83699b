// Package ollama is a small client for the parts of the Ollama HTTP API the
// translation chain needs: model listing and non-streaming chat.
package ollama

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// Message is a chat message in the Ollama API format.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Schema describes the JSON object a structured chat response must match.
type Schema struct {
	Type       string                    `json:"type"`
	Properties map[string]SchemaProperty `json:"properties"`
	Required   []string                  `json:"required,omitempty"`
}

// SchemaProperty describes a single field within a Schema.
type SchemaProperty struct {
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
}

// Client talks to a local Ollama instance.
type Client struct {
	baseURL string
	http    *resty.Client
}

// New creates a Client targeting baseURL. Request deadlines come from the
// caller's context.
func New(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    resty.New(),
	}
}

// BaseURL returns the server address the client targets.
func (c *Client) BaseURL() string { return c.baseURL }

type tagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

// IsRunning reports whether GET /api/tags answers 200 within two seconds.
func (c *Client) IsRunning(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	rr, err := c.http.R().SetContext(ctx).Get(c.baseURL + "/api/tags")
	return err == nil && rr.StatusCode() == 200
}

// ListModels returns the names of the models available locally.
func (c *Client) ListModels(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var tags tagsResponse
	rr, err := c.http.R().SetContext(ctx).SetResult(&tags).Get(c.baseURL + "/api/tags")
	if err != nil {
		return nil, fmt.Errorf("requesting model list: %w", err)
	}
	if rr.IsError() {
		return nil, fmt.Errorf("listing models: unexpected status %d", rr.StatusCode())
	}

	names := make([]string, len(tags.Models))
	for i, m := range tags.Models {
		names[i] = m.Name
	}
	return names, nil
}

// HasModel reports whether name is present locally, with or without a tag
// suffix such as ":latest".
func (c *Client) HasModel(ctx context.Context, name string) bool {
	models, err := c.ListModels(ctx)
	if err != nil {
		return false
	}
	for _, m := range models {
		if m == name || strings.HasPrefix(m, name+":") {
			return true
		}
	}
	return false
}

type chatRequest struct {
	Model    string         `json:"model"`
	Messages []Message      `json:"messages"`
	Stream   bool           `json:"stream"`
	Format   any            `json:"format,omitempty"`
	Options  map[string]any `json:"options,omitempty"`
}

type chatResponse struct {
	Message Message `json:"message"`
}

// ChatError is a non-2xx answer from /api/chat.
type ChatError struct {
	Code int
	Body string
}

func (e *ChatError) Error() string {
	return fmt.Sprintf("chat: unexpected status %d: %.200s", e.Code, e.Body)
}

// Chat sends messages to model and returns the assistant's reply. When
// schema is non-nil the reply is constrained to match it. Sampling runs at
// temperature 0.
func (c *Client) Chat(ctx context.Context, model string, messages []Message, schema *Schema) (string, error) {
	cr := chatRequest{
		Model:    model,
		Messages: messages,
		Options:  map[string]any{"temperature": 0},
	}
	if schema != nil {
		cr.Format = schema
	}

	var result chatResponse
	rr, err := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(cr).
		SetResult(&result).
		Post(c.baseURL + "/api/chat")
	if err != nil {
		return "", fmt.Errorf("chat request: %w", err)
	}
	if rr.IsError() {
		return "", &ChatError{Code: rr.StatusCode(), Body: rr.String()}
	}
	return result.Message.Content, nil
}
