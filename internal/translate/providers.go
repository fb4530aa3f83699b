package translate

import (
	"fmt"
	"strings"

	"github.com/kalambet/intake/internal/ollama"
)

// Settings carries the endpoints and credentials providers are built from.
type Settings struct {
	GoogleAPIKey  string
	GoogleBaseURL string
	IndicTransURL string
	NLLBURL       string
	HFAPIKey      string
	OllamaBaseURL string
	OllamaModel   string
}

// KnownProviders lists the provider names BuildProviders accepts.
var KnownProviders = []string{"google", "indictrans2", "nllb", "ollama"}

// BuildProviders constructs providers in the order named. Providers missing
// their endpoint or credentials are still built and report themselves as
// unavailable.
func BuildProviders(names []string, s Settings) ([]Provider, error) {
	providers := make([]Provider, 0, len(names))
	seen := make(map[string]bool, len(names))
	for _, raw := range names {
		name := strings.ToLower(strings.TrimSpace(raw))
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true

		switch name {
		case "google":
			providers = append(providers, NewGoogle(s.GoogleBaseURL, s.GoogleAPIKey))
		case "indictrans2":
			providers = append(providers, NewIndicTrans2(s.IndicTransURL, s.HFAPIKey))
		case "nllb":
			providers = append(providers, NewNLLB(s.NLLBURL, s.HFAPIKey))
		case "ollama":
			var client *ollama.Client
			if s.OllamaBaseURL != "" {
				client = ollama.New(s.OllamaBaseURL)
			}
			providers = append(providers, NewOllama(client, s.OllamaModel))
		default:
			return nil, fmt.Errorf("unknown translation provider %q (known: %s)", raw, strings.Join(KnownProviders, ", "))
		}
	}
	return providers, nil
}
