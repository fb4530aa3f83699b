package translate

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// Endpoint is a self-hosted model behind a small JSON API, such as an
// IndicTrans2 or NLLB-200 inference server. It posts
// {"text","source","target"} and accepts either {"translated_text": "..."}
// or a JSON array whose first element is the translation.
type Endpoint struct {
	name       string
	url        string
	apiKey     string
	confidence float64
	http       *resty.Client
}

// NewIndicTrans2 returns the IndicTrans2 provider.
func NewIndicTrans2(url, apiKey string) *Endpoint {
	return NewEndpoint("indictrans2", url, apiKey, 0.8)
}

// NewNLLB returns the NLLB-200 provider.
func NewNLLB(url, apiKey string) *Endpoint {
	return NewEndpoint("nllb", url, apiKey, 0.75)
}

// NewEndpoint returns a provider posting to url. It is unavailable when url
// is empty. A non-empty apiKey is sent as a bearer token.
func NewEndpoint(name, url, apiKey string, confidence float64) *Endpoint {
	return &Endpoint{
		name:       name,
		url:        strings.TrimSpace(url),
		apiKey:     apiKey,
		confidence: confidence,
		http:       resty.New().SetTimeout(30 * time.Second),
	}
}

type endpointRequest struct {
	Text   string `json:"text"`
	Source string `json:"source"`
	Target string `json:"target"`
}

func (e *Endpoint) Name() string { return e.name }

func (e *Endpoint) Available() bool { return e.url != "" }

func (e *Endpoint) Translate(ctx context.Context, text, src, dst string) (string, float64, error) {
	req := e.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(endpointRequest{Text: strings.Join(strings.Fields(text), " "), Source: src, Target: dst})
	if e.apiKey != "" {
		req.SetAuthToken(e.apiKey)
	}
	rr, err := req.Post(e.url)
	if err != nil {
		return "", 0, fmt.Errorf("%s: %w", e.name, err)
	}
	if rr.IsError() {
		return "", 0, &StatusError{Provider: e.name, Code: rr.StatusCode(), Body: rr.String()}
	}
	out, err := parseEndpointBody(rr.Body())
	if err != nil {
		return "", 0, fmt.Errorf("%s: %w", e.name, err)
	}
	return out, e.confidence, nil
}

func parseEndpointBody(body []byte) (string, error) {
	var obj struct {
		TranslatedText *string `json:"translated_text"`
	}
	if err := json.Unmarshal(body, &obj); err == nil && obj.TranslatedText != nil {
		return *obj.TranslatedText, nil
	}
	var list []json.RawMessage
	if err := json.Unmarshal(body, &list); err == nil && len(list) > 0 {
		var s string
		if err := json.Unmarshal(list[0], &s); err == nil {
			return s, nil
		}
		var item struct {
			TranslationText string `json:"translation_text"`
		}
		if err := json.Unmarshal(list[0], &item); err == nil && item.TranslationText != "" {
			return item.TranslationText, nil
		}
	}
	return "", fmt.Errorf("unexpected response format: %.200s", body)
}
