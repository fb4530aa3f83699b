package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Policy holds the content rules shared by validation and preprocessing.
// It is loaded from an optional YAML file:
//
//	forbidden_terms: [violence, spam]
//	typos:
//	  teh: the
//	replace_defaults: false
type Policy struct {
	ForbiddenTerms  []string          `yaml:"forbidden_terms"`
	Typos           map[string]string `yaml:"typos"`
	ReplaceDefaults bool              `yaml:"replace_defaults"`
}

// DefaultPolicy returns the built-in forbidden terms and typo dictionary.
func DefaultPolicy() Policy {
	return Policy{
		ForbiddenTerms: []string{"violence", "explicit", "hate_speech", "spam", "malicious"},
		Typos: map[string]string{
			"teh":        "the",
			"adn":        "and",
			"yuo":        "you",
			"thier":      "their",
			"seperate":   "separate",
			"occured":    "occurred",
			"recieve":    "receive",
			"acheive":    "achieve",
			"definately": "definitely",
		},
	}
}

// LoadPolicy reads the policy file at path and merges it over the defaults,
// unless the file sets replace_defaults. An empty path yields the defaults.
func LoadPolicy(path string) (Policy, error) {
	def := DefaultPolicy()
	if path == "" {
		return def, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, fmt.Errorf("reading policy %s: %w", path, err)
	}
	var p Policy
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Policy{}, fmt.Errorf("parsing policy %s: %w", path, err)
	}

	for i, term := range p.ForbiddenTerms {
		p.ForbiddenTerms[i] = strings.ToLower(strings.TrimSpace(term))
	}
	typos := make(map[string]string, len(p.Typos))
	for k, v := range p.Typos {
		typos[strings.ToLower(k)] = v
	}
	p.Typos = typos

	if p.ReplaceDefaults {
		return p, nil
	}

	merged := def
	seen := make(map[string]bool)
	for _, t := range merged.ForbiddenTerms {
		seen[t] = true
	}
	for _, t := range p.ForbiddenTerms {
		if t != "" && !seen[t] {
			merged.ForbiddenTerms = append(merged.ForbiddenTerms, t)
			seen[t] = true
		}
	}
	for k, v := range p.Typos {
		merged.Typos[k] = v
	}
	return merged, nil
}
