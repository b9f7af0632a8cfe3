package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

const minPepperLength = 16

// Config holds all configuration for the application.
type Config struct {
	AppEnv                string   `yaml:"app_env"`
	DBPath                string   `yaml:"db_path"`
	DBDriver              string   `yaml:"db_driver"`
	RedisAddr             string   `yaml:"redis_addr"`
	GRPCPort              int      `yaml:"grpc_port"`
	GRPCReflectionEnabled bool     `yaml:"grpc_reflection_enabled"`
	AnthropicAPIKey       string   `yaml:"anthropic_api_key"`
	LLMModel              string   `yaml:"llm_model"`
	LLMTimeoutSeconds     int      `yaml:"llm_timeout_seconds"`
	QualitySchedule       string   `yaml:"quality_schedule"`
	QualityDomains        []string `yaml:"quality_domains"`
	QualityPeriodDays     int      `yaml:"quality_period_days"`
	CacheTTLSeconds       int      `yaml:"cache_ttl_seconds"`
	// AuditPepper keys the hashes of IP addresses and session ids in the
	// audit log. Required in production.
	AuditPepper string `yaml:"audit_pepper"`
	// SimilarityKeywordSearch enables keyword retrieval of similar past
	// interactions. Off, impact analysis sees no similar interactions.
	SimilarityKeywordSearch bool `yaml:"similarity_keyword_search"`
}

// Load reads the YAML file named by CONFIG_PATH, if any, then applies
// environment overrides and defaults.
func Load() (*Config, error) {
	cfg := &Config{}

	if path := os.Getenv("CONFIG_PATH"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	var errs []error
	envOverride(&cfg.AppEnv, "APP_ENV")
	envOverride(&cfg.DBPath, "DB_PATH")
	envOverride(&cfg.DBDriver, "DB_DRIVER")
	envOverride(&cfg.RedisAddr, "REDIS_ADDR")
	errs = append(errs, envOverrideInt(&cfg.GRPCPort, "GRPC_PORT"))
	errs = append(errs, envOverrideBool(&cfg.GRPCReflectionEnabled, "GRPC_REFLECTION_ENABLED"))
	envOverride(&cfg.AnthropicAPIKey, "ANTHROPIC_API_KEY")
	envOverride(&cfg.LLMModel, "LLM_MODEL")
	errs = append(errs, envOverrideInt(&cfg.LLMTimeoutSeconds, "LLM_TIMEOUT_SECONDS"))
	envOverride(&cfg.QualitySchedule, "QUALITY_SCHEDULE")
	errs = append(errs, envOverrideInt(&cfg.QualityPeriodDays, "QUALITY_PERIOD_DAYS"))
	errs = append(errs, envOverrideInt(&cfg.CacheTTLSeconds, "CACHE_TTL_SECONDS"))
	errs = append(errs, envOverrideBool(&cfg.SimilarityKeywordSearch, "SIMILARITY_KEYWORD_SEARCH"))
	envOverride(&cfg.AuditPepper, "AUDIT_PEPPER")
	if domains := os.Getenv("QUALITY_DOMAINS"); domains != "" {
		cfg.QualityDomains = splitList(domains)
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	setDefault(&c.AppEnv, "development")
	setDefault(&c.DBPath, "./data/database.db")
	setDefault(&c.DBDriver, "sqlite3")
	setDefault(&c.RedisAddr, "localhost:6379")
	setDefault(&c.QualitySchedule, "0 3 * * *")
	if c.GRPCPort == 0 {
		c.GRPCPort = 50051
	}
	if c.LLMTimeoutSeconds == 0 {
		c.LLMTimeoutSeconds = 30
	}
	if c.QualityPeriodDays == 0 {
		c.QualityPeriodDays = 30
	}
	if c.CacheTTLSeconds == 0 {
		c.CacheTTLSeconds = 600
	}
}

// Validate rejects values the application cannot start with.
func (c *Config) Validate() error {
	var errs []error
	if c.GRPCPort < 0 || c.GRPCPort > 65535 {
		errs = append(errs, fmt.Errorf("grpc_port %d must be between 0 and 65535", c.GRPCPort))
	}
	if c.LLMTimeoutSeconds < 1 {
		errs = append(errs, fmt.Errorf("llm_timeout_seconds %d must be >= 1", c.LLMTimeoutSeconds))
	}
	if c.QualityPeriodDays < 1 {
		errs = append(errs, fmt.Errorf("quality_period_days %d must be >= 1", c.QualityPeriodDays))
	}
	if c.CacheTTLSeconds < 1 {
		errs = append(errs, fmt.Errorf("cache_ttl_seconds %d must be >= 1", c.CacheTTLSeconds))
	}
	switch {
	case c.AuditPepper == "" && c.AppEnv == "production":
		errs = append(errs, errors.New("audit_pepper is required in production"))
	case c.AuditPepper != "" && len(c.AuditPepper) < minPepperLength:
		errs = append(errs, fmt.Errorf("audit_pepper must be at least %d bytes", minPepperLength))
	}
	return errors.Join(errs...)
}

func (c *Config) LLMTimeout() time.Duration {
	return time.Duration(c.LLMTimeoutSeconds) * time.Second
}

func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLSeconds) * time.Second
}

// LLMEnabled reports whether an Anthropic key is configured. Without one the
// workflow runs on its deterministic fallbacks.
func (c *Config) LLMEnabled() bool {
	return c.AnthropicAPIKey != ""
}

// NewLogger creates a new Zap logger based on the config.
func NewLogger(cfg *Config) (*zap.Logger, error) {
	if cfg.AppEnv == "production" {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}

func envOverride(field *string, key string) {
	if val := os.Getenv(key); val != "" {
		*field = val
	}
}

func envOverrideInt(field *int, key string) error {
	val := os.Getenv(key)
	if val == "" {
		return nil
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fmt.Errorf("%s: invalid integer %q", key, val)
	}
	*field = parsed
	return nil
}

func envOverrideBool(field *bool, key string) error {
	val := os.Getenv(key)
	if val == "" {
		return nil
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return fmt.Errorf("%s: invalid boolean %q", key, val)
	}
	*field = parsed
	return nil
}

func setDefault(field *string, fallback string) {
	if *field == "" {
		*field = fallback
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
