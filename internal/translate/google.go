package translate

import (
	"context"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// DefaultGoogleBaseURL is the Cloud Translation v2 endpoint.
const DefaultGoogleBaseURL = "https://translation.googleapis.com/language/translate/v2"

const googleConfidence = 0.9

// Google calls Cloud Translation v2.
type Google struct {
	http    *resty.Client
	baseURL string
	apiKey  string
}

// NewGoogle returns a Google provider. It is unavailable without an API key.
func NewGoogle(baseURL, apiKey string) *Google {
	if baseURL == "" {
		baseURL = DefaultGoogleBaseURL
	}
	return &Google{
		http:    resty.New().SetTimeout(30 * time.Second),
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
	}
}

type googleRequest struct {
	Q      string `json:"q"`
	Source string `json:"source"`
	Target string `json:"target"`
	Format string `json:"format"`
}

type googleResponse struct {
	Data struct {
		Translations []struct {
			TranslatedText string `json:"translatedText"`
		} `json:"translations"`
	} `json:"data"`
}

func (g *Google) Name() string { return "google" }

func (g *Google) Available() bool { return g.apiKey != "" }

func (g *Google) Translate(ctx context.Context, text, src, dst string) (string, float64, error) {
	var resp googleResponse
	rr, err := g.http.R().
		SetContext(ctx).
		SetQueryParam("key", g.apiKey).
		SetHeader("Content-Type", "application/json").
		SetBody(googleRequest{Q: text, Source: src, Target: dst, Format: "text"}).
		SetResult(&resp).
		Post(g.baseURL)
	if err != nil {
		return "", 0, fmt.Errorf("google: %w", err)
	}
	if rr.IsError() {
		return "", 0, &StatusError{Provider: g.Name(), Code: rr.StatusCode(), Body: rr.String()}
	}
	if len(resp.Data.Translations) == 0 {
		return "", 0, fmt.Errorf("google: response has no translations")
	}
	return html.UnescapeString(resp.Data.Translations[0].TranslatedText), googleConfidence, nil
}
