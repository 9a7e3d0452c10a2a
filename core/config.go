package core

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the runtime configuration for the assistant.
// Resolution order: defaults, then config file (when given), then
// environment variables, then explicit options. Later wins.
type Config struct {
	// MaxAutoTier is the highest tier reachable without consent (1-2)
	MaxAutoTier int `yaml:"max_auto_tier"`

	// CircuitFailureThreshold is consecutive failures before a circuit opens
	CircuitFailureThreshold int `yaml:"circuit_failure_threshold"`

	// CircuitResetWindow is how long an open circuit stays open
	CircuitResetWindow time.Duration `yaml:"circuit_reset_window"`

	// DefaultAPITimeout applies to descriptors without an explicit timeout
	DefaultAPITimeout time.Duration `yaml:"default_api_timeout"`

	// HaltTTL is the lifetime of a persisted halt record (consent window)
	HaltTTL time.Duration `yaml:"halt_ttl"`

	// UsageBufferSize is the usage logger channel capacity
	UsageBufferSize int `yaml:"usage_buffer_size"`

	// RedisURL enables the Redis halt store when non-empty
	RedisURL string `yaml:"redis_url"`

	// HTTPAddr is the chat endpoint bind address
	HTTPAddr string `yaml:"http_addr"`

	// LogLevel is one of debug, info, warn, error
	LogLevel string `yaml:"log_level"`

	// RoutingFile optionally replaces the built-in routing table
	RoutingFile string `yaml:"routing_file"`

	// CatalogFile optionally replaces the built-in API catalog
	CatalogFile string `yaml:"catalog_file"`

	// OTLPEndpoint enables the OTLP trace exporter when non-empty
	OTLPEndpoint string `yaml:"otlp_endpoint"`

	// FeatureFlags gates individual API descriptors
	FeatureFlags map[string]bool `yaml:"feature_flags"`
}

// configDoc mirrors Config for YAML decoding. Durations are strings in
// time.ParseDuration syntax ("300s", "5m"); pointer fields distinguish
// absent keys from zero values so a partial file overrides selectively.
type configDoc struct {
	MaxAutoTier             *int            `yaml:"max_auto_tier"`
	CircuitFailureThreshold *int            `yaml:"circuit_failure_threshold"`
	CircuitResetWindow      *string         `yaml:"circuit_reset_window"`
	DefaultAPITimeout       *string         `yaml:"default_api_timeout"`
	HaltTTL                 *string         `yaml:"halt_ttl"`
	UsageBufferSize         *int            `yaml:"usage_buffer_size"`
	RedisURL                *string         `yaml:"redis_url"`
	HTTPAddr                *string         `yaml:"http_addr"`
	LogLevel                *string         `yaml:"log_level"`
	RoutingFile             *string         `yaml:"routing_file"`
	CatalogFile             *string         `yaml:"catalog_file"`
	OTLPEndpoint            *string         `yaml:"otlp_endpoint"`
	FeatureFlags            map[string]bool `yaml:"feature_flags"`
}

// UnmarshalYAML merges a YAML document into the existing config
func (c *Config) UnmarshalYAML(node *yaml.Node) error {
	var doc configDoc
	if err := node.Decode(&doc); err != nil {
		return err
	}

	if doc.MaxAutoTier != nil {
		c.MaxAutoTier = *doc.MaxAutoTier
	}
	if doc.CircuitFailureThreshold != nil {
		c.CircuitFailureThreshold = *doc.CircuitFailureThreshold
	}
	if doc.UsageBufferSize != nil {
		c.UsageBufferSize = *doc.UsageBufferSize
	}
	if doc.RedisURL != nil {
		c.RedisURL = *doc.RedisURL
	}
	if doc.HTTPAddr != nil {
		c.HTTPAddr = *doc.HTTPAddr
	}
	if doc.LogLevel != nil {
		c.LogLevel = *doc.LogLevel
	}
	if doc.RoutingFile != nil {
		c.RoutingFile = *doc.RoutingFile
	}
	if doc.CatalogFile != nil {
		c.CatalogFile = *doc.CatalogFile
	}
	if doc.OTLPEndpoint != nil {
		c.OTLPEndpoint = *doc.OTLPEndpoint
	}

	durations := []struct {
		key string
		raw *string
		dst *time.Duration
	}{
		{"circuit_reset_window", doc.CircuitResetWindow, &c.CircuitResetWindow},
		{"default_api_timeout", doc.DefaultAPITimeout, &c.DefaultAPITimeout},
		{"halt_ttl", doc.HaltTTL, &c.HaltTTL},
	}
	for _, d := range durations {
		if d.raw == nil {
			continue
		}
		parsed, err := time.ParseDuration(*d.raw)
		if err != nil {
			return fmt.Errorf("%s: %q: %w", d.key, *d.raw, ErrInvalidConfiguration)
		}
		*d.dst = parsed
	}

	if doc.FeatureFlags != nil {
		if c.FeatureFlags == nil {
			c.FeatureFlags = make(map[string]bool, len(doc.FeatureFlags))
		}
		for name, enabled := range doc.FeatureFlags {
			c.FeatureFlags[name] = enabled
		}
	}
	return nil
}

// ConfigOption mutates a Config during construction
type ConfigOption func(*Config)

// WithMaxAutoTier sets the auto-escalation ceiling
func WithMaxAutoTier(tier int) ConfigOption {
	return func(c *Config) { c.MaxAutoTier = tier }
}

// WithCircuitBreaker sets breaker threshold and reset window
func WithCircuitBreaker(threshold int, resetWindow time.Duration) ConfigOption {
	return func(c *Config) {
		c.CircuitFailureThreshold = threshold
		c.CircuitResetWindow = resetWindow
	}
}

// WithHaltTTL sets the halt record lifetime
func WithHaltTTL(ttl time.Duration) ConfigOption {
	return func(c *Config) { c.HaltTTL = ttl }
}

// WithFeatureFlag sets a single feature flag
func WithFeatureFlag(name string, enabled bool) ConfigOption {
	return func(c *Config) {
		if c.FeatureFlags == nil {
			c.FeatureFlags = make(map[string]bool)
		}
		c.FeatureFlags[name] = enabled
	}
}

// DefaultConfig returns the built-in defaults
func DefaultConfig() *Config {
	return &Config{
		MaxAutoTier:             2,
		CircuitFailureThreshold: 3,
		CircuitResetWindow:      300 * time.Second,
		DefaultAPITimeout:       5 * time.Second,
		HaltTTL:                 10 * time.Minute,
		UsageBufferSize:         1024,
		HTTPAddr:                ":8080",
		LogLevel:                "info",
		FeatureFlags:            make(map[string]bool),
	}
}

// LoadConfig builds a Config from defaults, an optional YAML file,
// environment variables, and options, in that order.
func LoadConfig(path string, opts ...ConfigOption) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w (%v)", path, ErrInvalidConfiguration, err)
		}
	}

	cfg.applyEnv()

	for _, opt := range opts {
		opt(cfg)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.MaxAutoTier = getEnvIntOrDefault("ASKCART_MAX_AUTO_TIER", c.MaxAutoTier)
	c.CircuitFailureThreshold = getEnvIntOrDefault("ASKCART_CIRCUIT_FAILURE_THRESHOLD", c.CircuitFailureThreshold)
	c.CircuitResetWindow = getEnvDurationOrDefault("ASKCART_CIRCUIT_RESET_WINDOW", c.CircuitResetWindow)
	c.DefaultAPITimeout = getEnvDurationOrDefault("ASKCART_DEFAULT_API_TIMEOUT", c.DefaultAPITimeout)
	c.HaltTTL = getEnvDurationOrDefault("ASKCART_HALT_TTL", c.HaltTTL)
	c.UsageBufferSize = getEnvIntOrDefault("ASKCART_USAGE_BUFFER_SIZE", c.UsageBufferSize)
	c.RedisURL = getEnvOrDefault("REDIS_URL", c.RedisURL)
	c.HTTPAddr = getEnvOrDefault("ASKCART_HTTP_ADDR", c.HTTPAddr)
	c.LogLevel = getEnvOrDefault("ASKCART_LOG_LEVEL", c.LogLevel)
	c.RoutingFile = getEnvOrDefault("ASKCART_ROUTING_FILE", c.RoutingFile)
	c.CatalogFile = getEnvOrDefault("ASKCART_CATALOG_FILE", c.CatalogFile)
	c.OTLPEndpoint = getEnvOrDefault("OTEL_EXPORTER_OTLP_ENDPOINT", c.OTLPEndpoint)

	// ASKCART_FEATURE_FLAGS=premium_catalog=false,web_research=true
	if raw := os.Getenv("ASKCART_FEATURE_FLAGS"); raw != "" {
		if c.FeatureFlags == nil {
			c.FeatureFlags = make(map[string]bool)
		}
		for _, pair := range strings.Split(raw, ",") {
			name, val, ok := strings.Cut(strings.TrimSpace(pair), "=")
			if !ok {
				continue
			}
			enabled, err := strconv.ParseBool(val)
			if err != nil {
				continue
			}
			c.FeatureFlags[name] = enabled
		}
	}
}

// Validate checks and normalizes the configuration.
// MaxAutoTier is clamped to [1, 2]: the consent protocol owns tiers 3-4.
func (c *Config) Validate() error {
	if c.MaxAutoTier < 1 {
		c.MaxAutoTier = 1
	}
	if c.MaxAutoTier > 2 {
		c.MaxAutoTier = 2
	}
	if c.CircuitFailureThreshold < 1 {
		return fmt.Errorf("circuit_failure_threshold must be >= 1: %w", ErrInvalidConfiguration)
	}
	if c.CircuitResetWindow <= 0 {
		return fmt.Errorf("circuit_reset_window must be positive: %w", ErrInvalidConfiguration)
	}
	if c.DefaultAPITimeout <= 0 {
		return fmt.Errorf("default_api_timeout must be positive: %w", ErrInvalidConfiguration)
	}
	if c.HaltTTL < 10*time.Minute {
		// Consent windows require at least one interaction's worth of TTL
		c.HaltTTL = 10 * time.Minute
	}
	if c.UsageBufferSize < 1 {
		c.UsageBufferSize = 1024
	}
	return nil
}

// Environment helpers shared across the module

func getEnvOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvIntOrDefault(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getEnvDurationOrDefault(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
