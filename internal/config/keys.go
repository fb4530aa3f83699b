package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
	kFloat
	kDuration
	kList // comma-separated strings
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "INTAKE_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.api_token", typ: kString, env: "INTAKE_API_TOKEN", secret: true,
		apply:   func(cfg *Config, v any) { cfg.Server.APIToken = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.APIToken },
	},
	{
		key: "storage.data_dir", typ: kString, env: "INTAKE_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "log.level", typ: kString, env: "INTAKE_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "log.format", typ: kString, env: "INTAKE_LOG_FORMAT",
		apply:   func(cfg *Config, v any) { cfg.Log.Format = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Format },
	},
	{
		key: "cache.backend", typ: kString, env: "INTAKE_CACHE_BACKEND",
		apply:   func(cfg *Config, v any) { cfg.Cache.Backend = v.(string) },
		extract: func(cfg Config) any { return cfg.Cache.Backend },
	},
	{
		key: "cache.redis_addr", typ: kString, env: "INTAKE_CACHE_REDIS_ADDR",
		apply:   func(cfg *Config, v any) { cfg.Cache.RedisAddr = v.(string) },
		extract: func(cfg Config) any { return cfg.Cache.RedisAddr },
	},
	{
		key: "cache.redis_password", typ: kString, env: "INTAKE_CACHE_REDIS_PASSWORD", secret: true,
		apply:   func(cfg *Config, v any) { cfg.Cache.RedisPassword = v.(string) },
		extract: func(cfg Config) any { return cfg.Cache.RedisPassword },
	},
	{
		key: "cache.redis_db", typ: kInt, env: "INTAKE_CACHE_REDIS_DB",
		apply:   func(cfg *Config, v any) { cfg.Cache.RedisDB = v.(int) },
		extract: func(cfg Config) any { return cfg.Cache.RedisDB },
	},
	{
		key: "cache.detection_ttl", typ: kDuration, env: "INTAKE_CACHE_DETECTION_TTL",
		apply:   func(cfg *Config, v any) { cfg.Cache.DetectionTTL = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Cache.DetectionTTL },
	},
	{
		key: "cache.translation_ttl", typ: kDuration, env: "INTAKE_CACHE_TRANSLATION_TTL",
		apply:   func(cfg *Config, v any) { cfg.Cache.TranslationTTL = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Cache.TranslationTTL },
	},
	{
		key: "cache.op_timeout", typ: kDuration, env: "INTAKE_CACHE_OP_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Cache.OpTimeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Cache.OpTimeout },
	},
	{
		key: "validation.min_length", typ: kInt, env: "INTAKE_VALIDATION_MIN_LENGTH",
		apply:   func(cfg *Config, v any) { cfg.Validation.MinLength = v.(int) },
		extract: func(cfg Config) any { return cfg.Validation.MinLength },
	},
	{
		key: "validation.max_length", typ: kInt, env: "INTAKE_VALIDATION_MAX_LENGTH",
		apply:   func(cfg *Config, v any) { cfg.Validation.MaxLength = v.(int) },
		extract: func(cfg Config) any { return cfg.Validation.MaxLength },
	},
	{
		key: "validation.policy_file", typ: kString, env: "INTAKE_VALIDATION_POLICY_FILE",
		apply:   func(cfg *Config, v any) { cfg.Validation.PolicyFile = v.(string) },
		extract: func(cfg Config) any { return cfg.Validation.PolicyFile },
	},
	{
		key: "detection.threshold", typ: kFloat, env: "INTAKE_DETECTION_THRESHOLD",
		apply:   func(cfg *Config, v any) { cfg.Detection.Threshold = v.(float64) },
		extract: func(cfg Config) any { return cfg.Detection.Threshold },
	},
	{
		key: "detection.default_language", typ: kString, env: "INTAKE_DETECTION_DEFAULT_LANGUAGE",
		apply:   func(cfg *Config, v any) { cfg.Detection.DefaultLanguage = v.(string) },
		extract: func(cfg Config) any { return cfg.Detection.DefaultLanguage },
	},
	{
		key: "detection.allowed_languages", typ: kList, env: "INTAKE_DETECTION_ALLOWED_LANGUAGES",
		apply:   func(cfg *Config, v any) { cfg.Detection.AllowedLanguages = v.([]string) },
		extract: func(cfg Config) any { return cfg.Detection.AllowedLanguages },
	},
	{
		key: "translation.target_language", typ: kString, env: "INTAKE_TRANSLATION_TARGET_LANGUAGE",
		apply:   func(cfg *Config, v any) { cfg.Translation.TargetLanguage = v.(string) },
		extract: func(cfg Config) any { return cfg.Translation.TargetLanguage },
	},
	{
		key: "translation.threshold", typ: kFloat, env: "INTAKE_TRANSLATION_THRESHOLD",
		apply:   func(cfg *Config, v any) { cfg.Translation.Threshold = v.(float64) },
		extract: func(cfg Config) any { return cfg.Translation.Threshold },
	},
	{
		key: "translation.providers", typ: kList, env: "INTAKE_TRANSLATION_PROVIDERS",
		apply:   func(cfg *Config, v any) { cfg.Translation.Providers = v.([]string) },
		extract: func(cfg Config) any { return cfg.Translation.Providers },
	},
	{
		key: "translation.provider_timeout", typ: kDuration, env: "INTAKE_TRANSLATION_PROVIDER_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Translation.ProviderTimeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Translation.ProviderTimeout },
	},
	{
		key: "translation.max_retries", typ: kInt, env: "INTAKE_TRANSLATION_MAX_RETRIES",
		apply:   func(cfg *Config, v any) { cfg.Translation.MaxRetries = v.(int) },
		extract: func(cfg Config) any { return cfg.Translation.MaxRetries },
	},
	{
		key: "translation.initial_backoff", typ: kDuration, env: "INTAKE_TRANSLATION_INITIAL_BACKOFF",
		apply:   func(cfg *Config, v any) { cfg.Translation.InitialBackoff = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Translation.InitialBackoff },
	},
	{
		key: "translation.google_api_key", typ: kString, env: "INTAKE_GOOGLE_API_KEY", secret: true,
		apply:   func(cfg *Config, v any) { cfg.Translation.GoogleAPIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Translation.GoogleAPIKey },
	},
	{
		key: "translation.google_base_url", typ: kString, env: "INTAKE_GOOGLE_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Translation.GoogleBaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Translation.GoogleBaseURL },
	},
	{
		key: "translation.indictrans_url", typ: kString, env: "INTAKE_INDICTRANS_URL",
		apply:   func(cfg *Config, v any) { cfg.Translation.IndicTransURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Translation.IndicTransURL },
	},
	{
		key: "translation.nllb_url", typ: kString, env: "INTAKE_NLLB_URL",
		apply:   func(cfg *Config, v any) { cfg.Translation.NLLBURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Translation.NLLBURL },
	},
	{
		key: "translation.hf_api_key", typ: kString, env: "INTAKE_HF_API_KEY", secret: true,
		apply:   func(cfg *Config, v any) { cfg.Translation.HFAPIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Translation.HFAPIKey },
	},
	{
		key: "translation.ollama_base_url", typ: kString, env: "INTAKE_OLLAMA_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Translation.OllamaBaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Translation.OllamaBaseURL },
	},
	{
		key: "translation.ollama_model", typ: kString, env: "INTAKE_OLLAMA_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Translation.OllamaModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Translation.OllamaModel },
	},
	{
		key: "pipeline.deadline", typ: kDuration, env: "INTAKE_PIPELINE_DEADLINE",
		apply:   func(cfg *Config, v any) { cfg.Pipeline.Deadline = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Pipeline.Deadline },
	},
	{
		key: "pipeline.concurrency", typ: kInt, env: "INTAKE_PIPELINE_CONCURRENCY",
		apply:   func(cfg *Config, v any) { cfg.Pipeline.Concurrency = v.(int) },
		extract: func(cfg Config) any { return cfg.Pipeline.Concurrency },
	},
	{
		key: "pipeline.poll_interval", typ: kDuration, env: "INTAKE_PIPELINE_POLL_INTERVAL",
		apply:   func(cfg *Config, v any) { cfg.Pipeline.PollInterval = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Pipeline.PollInterval },
	},
	{
		key: "events.amqp_url", typ: kString, env: "INTAKE_EVENTS_AMQP_URL", secret: true,
		apply:   func(cfg *Config, v any) { cfg.Events.AMQPURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Events.AMQPURL },
	},
	{
		key: "events.exchange", typ: kString, env: "INTAKE_EVENTS_EXCHANGE",
		apply:   func(cfg *Config, v any) { cfg.Events.Exchange = v.(string) },
		extract: func(cfg Config) any { return cfg.Events.Exchange },
	},
	{
		key: "events.routing_key", typ: kString, env: "INTAKE_EVENTS_ROUTING_KEY",
		apply:   func(cfg *Config, v any) { cfg.Events.RoutingKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Events.RoutingKey },
	},
	{
		key: "archive.endpoint", typ: kString, env: "INTAKE_ARCHIVE_ENDPOINT",
		apply:   func(cfg *Config, v any) { cfg.Archive.Endpoint = v.(string) },
		extract: func(cfg Config) any { return cfg.Archive.Endpoint },
	},
	{
		key: "archive.bucket", typ: kString, env: "INTAKE_ARCHIVE_BUCKET",
		apply:   func(cfg *Config, v any) { cfg.Archive.Bucket = v.(string) },
		extract: func(cfg Config) any { return cfg.Archive.Bucket },
	},
	{
		key: "archive.access_key", typ: kString, env: "INTAKE_ARCHIVE_ACCESS_KEY", secret: true,
		apply:   func(cfg *Config, v any) { cfg.Archive.AccessKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Archive.AccessKey },
	},
	{
		key: "archive.secret_key", typ: kString, env: "INTAKE_ARCHIVE_SECRET_KEY", secret: true,
		apply:   func(cfg *Config, v any) { cfg.Archive.SecretKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Archive.SecretKey },
	},
	{
		key: "archive.use_ssl", typ: kBool, env: "INTAKE_ARCHIVE_USE_SSL",
		apply:   func(cfg *Config, v any) { cfg.Archive.UseSSL = v.(bool) },
		extract: func(cfg Config) any { return cfg.Archive.UseSSL },
	},
	{
		key: "rate_limit.per_minute", typ: kInt, env: "INTAKE_RATE_LIMIT_PER_MINUTE",
		apply:   func(cfg *Config, v any) { cfg.RateLimit.PerMinute = v.(int) },
		extract: func(cfg Config) any { return cfg.RateLimit.PerMinute },
	},
	{
		key: "rate_limit.trusted_proxies", typ: kList, env: "INTAKE_RATE_LIMIT_TRUSTED_PROXIES",
		apply:   func(cfg *Config, v any) { cfg.RateLimit.TrustedProxies = v.([]string) },
		extract: func(cfg Config) any { return cfg.RateLimit.TrustedProxies },
	},
}

// parseValue converts a raw string into the Go type a key expects.
func parseValue(typ keyType, raw string) (any, error) {
	switch typ {
	case kString:
		return raw, nil
	case kInt:
		return strconv.Atoi(raw)
	case kBool:
		return strconv.ParseBool(raw)
	case kFloat:
		return strconv.ParseFloat(raw, 64)
	case kDuration:
		return time.ParseDuration(raw)
	case kList:
		var out []string
		for _, part := range strings.Split(raw, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
		return out, nil
	}
	return nil, fmt.Errorf("unsupported key type %d", typ)
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		if s.typ == kInt {
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
			continue
		}

		raw, ok, err := b.GetString(s.key)
		if err != nil {
			return fmt.Errorf("reading %s: %w", s.key, err)
		}
		if !ok || raw == "" {
			continue
		}
		v, err := parseValue(s.typ, raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] could not parse config key %s=%q: %v. Using default value.\n", s.key, raw, err)
			continue
		}
		s.apply(cfg, v)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		v, err := parseValue(s.typ, raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] could not parse env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			continue
		}
		s.apply(cfg, v)
	}
}

// formatValue renders a key's value the way `config show` prints it.
func formatValue(v any) string {
	switch val := v.(type) {
	case []string:
		return strings.Join(val, ",")
	default:
		return fmt.Sprintf("%v", val)
	}
}
