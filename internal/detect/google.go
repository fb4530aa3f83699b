package detect

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// DefaultGoogleBaseURL is the Cloud Translation v2 endpoint.
const DefaultGoogleBaseURL = "https://translation.googleapis.com/language/translate/v2"

// Google asks the Cloud Translation detect endpoint. It is meant to be the
// last method in a chain.
type Google struct {
	http    *resty.Client
	baseURL string
	apiKey  string
}

// NewGoogle returns a Google method. An empty baseURL uses the public API.
func NewGoogle(baseURL, apiKey string) *Google {
	if baseURL == "" {
		baseURL = DefaultGoogleBaseURL
	}
	return &Google{
		http:    resty.New().SetTimeout(10 * time.Second),
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
	}
}

type googleDetectResponse struct {
	Data struct {
		Detections [][]struct {
			Language   string  `json:"language"`
			Confidence float64 `json:"confidence"`
		} `json:"detections"`
	} `json:"data"`
}

func (g *Google) Name() string { return "google" }

func (g *Google) Detect(ctx context.Context, text string) (Guess, error) {
	var resp googleDetectResponse
	rr, err := g.http.R().
		SetContext(ctx).
		SetQueryParam("key", g.apiKey).
		SetHeader("Content-Type", "application/json").
		SetBody(map[string]string{"q": text}).
		SetResult(&resp).
		Post(g.baseURL + "/detect")
	if err != nil {
		return Guess{}, fmt.Errorf("google detect: %w", err)
	}
	if rr.IsError() {
		return Guess{}, fmt.Errorf("google detect: %s: %s", rr.Status(), rr.String())
	}
	if len(resp.Data.Detections) == 0 || len(resp.Data.Detections[0]) == 0 {
		return Guess{}, ErrDeclined
	}
	d := resp.Data.Detections[0][0]
	if d.Language == "" || d.Language == "und" {
		return Guess{}, ErrDeclined
	}
	return Guess{Language: d.Language, Confidence: d.Confidence}, nil
}
