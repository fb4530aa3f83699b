package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server      ServerConfig
	Storage     StorageConfig
	Log         LogConfig
	Cache       CacheConfig
	Validation  ValidationConfig
	Detection   DetectionConfig
	Translation TranslationConfig
	Pipeline    PipelineConfig
	Events      EventsConfig
	Archive     ArchiveConfig
	RateLimit   RateLimitConfig
}

type ServerConfig struct {
	Port     int
	APIToken string
}

type StorageConfig struct {
	DataDir string
}

type LogConfig struct {
	Level  string
	Format string // "text" or "json"
}

type CacheConfig struct {
	Backend        string // "redis", "sqlite" or "none"
	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	DetectionTTL   time.Duration
	TranslationTTL time.Duration
	OpTimeout      time.Duration
}

type ValidationConfig struct {
	MinLength  int
	MaxLength  int
	PolicyFile string
}

type DetectionConfig struct {
	Threshold        float64
	DefaultLanguage  string
	AllowedLanguages []string
}

type TranslationConfig struct {
	TargetLanguage  string
	Threshold       float64
	Providers       []string
	ProviderTimeout time.Duration
	MaxRetries      int
	InitialBackoff  time.Duration
	GoogleAPIKey    string
	GoogleBaseURL   string
	IndicTransURL   string
	NLLBURL         string
	HFAPIKey        string
	OllamaBaseURL   string
	OllamaModel     string
}

type PipelineConfig struct {
	Deadline     time.Duration
	Concurrency  int
	PollInterval time.Duration
}

type EventsConfig struct {
	AMQPURL    string
	Exchange   string
	RoutingKey string
}

type ArchiveConfig struct {
	Endpoint  string
	Bucket    string
	AccessKey string
	SecretKey string
	UseSSL    bool
}

type RateLimitConfig struct {
	PerMinute      int
	TrustedProxies []string // IPs or CIDRs allowed to set X-Forwarded-For
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4100,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Cache: CacheConfig{
			Backend:        "sqlite",
			RedisAddr:      "localhost:6379",
			DetectionTTL:   30 * time.Minute,
			TranslationTTL: time.Hour,
			OpTimeout:      500 * time.Millisecond,
		},
		Validation: ValidationConfig{
			MinLength: 10,
			MaxLength: 2000,
		},
		Detection: DetectionConfig{
			Threshold:        0.8,
			DefaultLanguage:  "en",
			AllowedLanguages: []string{"en", "hi", "te", "ta", "bn", "gu", "mr", "kn", "ml", "or", "pa"},
		},
		Translation: TranslationConfig{
			TargetLanguage:  "en",
			Threshold:       0.8,
			Providers:       []string{"google", "indictrans2", "nllb", "ollama"},
			ProviderTimeout: 15 * time.Second,
			MaxRetries:      2,
			InitialBackoff:  500 * time.Millisecond,
			GoogleBaseURL:   "https://translation.googleapis.com/language/translate/v2",
			OllamaBaseURL:   "http://localhost:11434",
			OllamaModel:     "llama3.2",
		},
		Pipeline: PipelineConfig{
			Deadline:     60 * time.Second,
			Concurrency:  4,
			PollInterval: time.Second,
		},
		Events: EventsConfig{
			Exchange:   "intake.records",
			RoutingKey: "record.updated",
		},
		Archive: ArchiveConfig{
			Bucket: "intake-records",
			UseSSL: true,
		},
		RateLimit: RateLimitConfig{
			PerMinute: 60,
		},
	}
}

// Load reads configuration in increasing order of precedence: built-in
// defaults, the JSON file at $XDG_CONFIG_HOME/intake/config.json, then
// INTAKE_* environment variables. A .env file in the working directory is
// loaded into the environment first, without overriding variables that are
// already set. Secrets are only read from the environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "[WARN] could not load .env: %v\n", err)
	}
	return loadWith(newFileBackend(configFilePath()))
}

func loadWith(b ConfigBackend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}
	applyEnvOverrides(&cfg)

	if err := cfg.normalize(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// normalize lowercases language codes, rejects impossible values and keeps
// the per-provider timeout well inside the overall deadline so at least one
// alternate provider can run before the run is cut off.
func (c *Config) normalize() error {
	if c.Validation.MinLength < 0 || c.Validation.MaxLength < c.Validation.MinLength {
		return fmt.Errorf("invalid length bounds: min=%d max=%d", c.Validation.MinLength, c.Validation.MaxLength)
	}
	for _, th := range []float64{c.Detection.Threshold, c.Translation.Threshold} {
		if th < 0 || th > 1 {
			return fmt.Errorf("confidence threshold %v out of range [0, 1]", th)
		}
	}
	if c.Pipeline.Deadline <= 0 {
		return fmt.Errorf("pipeline deadline must be positive, got %s", c.Pipeline.Deadline)
	}
	if c.Pipeline.Concurrency < 1 {
		c.Pipeline.Concurrency = 1
	}
	if max := c.Pipeline.Deadline / 3; c.Translation.ProviderTimeout <= 0 || c.Translation.ProviderTimeout > max {
		c.Translation.ProviderTimeout = max
	}

	c.Detection.DefaultLanguage = strings.ToLower(c.Detection.DefaultLanguage)
	c.Translation.TargetLanguage = strings.ToLower(c.Translation.TargetLanguage)
	for i, l := range c.Detection.AllowedLanguages {
		c.Detection.AllowedLanguages[i] = strings.ToLower(l)
	}
	switch c.Cache.Backend {
	case "redis", "sqlite", "none":
	default:
		return fmt.Errorf("unknown cache backend %q (want redis, sqlite or none)", c.Cache.Backend)
	}
	return nil
}
