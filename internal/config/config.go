// Package config handles coachd configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/coachd/config.yaml, /etc/coachd/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "coachd", "config.yaml"))
	}

	paths = append(paths, "/etc/coachd/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all coachd configuration.
type Config struct {
	Listen     ListenConfig     `yaml:"listen"`
	Models     ModelsConfig     `yaml:"models"`
	Anthropic  AnthropicConfig  `yaml:"anthropic"`
	Auth       AuthConfig       `yaml:"auth"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit"`
	Cache      CacheConfig      `yaml:"cache"`
	Pipeline   PipelineConfig   `yaml:"pipeline"`
	Retry      RetryConfig      `yaml:"retry"`
	Background BackgroundConfig `yaml:"background"`
	MQTT       MQTTConfig       `yaml:"mqtt"`
	DataDir    string           `yaml:"data_dir"`
	LogLevel   string           `yaml:"log_level"`
	LogFormat  string           `yaml:"log_format"` // text or json
}

// ListenConfig defines the API server settings.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`
}

// ModelsConfig selects which model serves each pipeline stage. Empty
// per-stage models fall back to Default.
type ModelsConfig struct {
	Default   string        `yaml:"default"`
	Router    string        `yaml:"router"`
	Planner   string        `yaml:"planner"`
	Memory    string        `yaml:"memory"`
	OllamaURL string        `yaml:"ollama_url"`
	Available []ModelConfig `yaml:"available"`
}

// ModelConfig maps a model name to its provider.
type ModelConfig struct {
	Name     string `yaml:"name"`
	Provider string `yaml:"provider"` // ollama, anthropic
}

// AnthropicConfig defines Anthropic API settings.
type AnthropicConfig struct {
	APIKey string `yaml:"api_key"`
}

// Configured reports whether an API key is present.
func (c AnthropicConfig) Configured() bool {
	return c.APIKey != ""
}

// AuthConfig maps bearer tokens to user IDs.
type AuthConfig struct {
	Tokens map[string]string `yaml:"tokens"`
}

// RateLimitConfig controls per-user admission. Rate tokens are
// replenished linearly over Window.
type RateLimitConfig struct {
	Rate   int           `yaml:"rate"`
	Window time.Duration `yaml:"window"`
}

// CacheConfig sets TTLs for read-through lookups.
type CacheConfig struct {
	CoachTTL      time.Duration `yaml:"coach_ttl"`
	PlanTTL       time.Duration `yaml:"plan_ttl"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// PipelineConfig tunes per-turn execution.
type PipelineConfig struct {
	EventBuffer    int           `yaml:"event_buffer"`
	TurnTimeout    time.Duration `yaml:"turn_timeout"`
	DefaultCoachID string        `yaml:"default_coach_id"`
}

// RetryConfig bounds the exponential backoff applied to single-shot
// completion calls.
type RetryConfig struct {
	MaxAttempts  int           `yaml:"max_attempts"`
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
	Multiplier   float64       `yaml:"multiplier"`
}

// BackgroundConfig bounds detached work such as memory consolidation.
type BackgroundConfig struct {
	MaxConcurrent int           `yaml:"max_concurrent"`
	Timeout       time.Duration `yaml:"timeout"`
}

// MQTTConfig configures the optional telemetry publisher.
type MQTTConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Broker          string        `yaml:"broker"` // mqtt://host:1883 or mqtts://host:8883
	Username        string        `yaml:"username"`
	Password        string        `yaml:"password"`
	TopicPrefix     string        `yaml:"topic_prefix"`
	PublishInterval time.Duration `yaml:"publish_interval"`
}

// Load reads configuration from a YAML file, expands environment
// variables, applies defaults, and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Listen.Port == 0 {
		c.Listen.Port = 8080
	}
	if c.DataDir == "" {
		c.DataDir = "./db"
	}
	if c.Models.Default == "" {
		c.Models.Default = "claude-sonnet-4-20250514"
	}
	if c.Models.Router == "" {
		c.Models.Router = c.Models.Default
	}
	if c.Models.Planner == "" {
		c.Models.Planner = c.Models.Default
	}
	if c.Models.Memory == "" {
		c.Models.Memory = c.Models.Default
	}
	if c.Models.OllamaURL == "" {
		c.Models.OllamaURL = "http://localhost:11434"
	}
	for i := range c.Models.Available {
		if c.Models.Available[i].Provider == "" {
			c.Models.Available[i].Provider = "ollama"
		}
	}
	if c.RateLimit.Rate <= 0 {
		c.RateLimit.Rate = 20
	}
	if c.RateLimit.Window <= 0 {
		c.RateLimit.Window = time.Minute
	}
	if c.Cache.CoachTTL <= 0 {
		c.Cache.CoachTTL = 10 * time.Minute
	}
	if c.Cache.PlanTTL <= 0 {
		c.Cache.PlanTTL = time.Minute
	}
	if c.Cache.SweepInterval <= 0 {
		c.Cache.SweepInterval = time.Minute
	}
	if c.Pipeline.EventBuffer <= 0 {
		c.Pipeline.EventBuffer = 64
	}
	if c.Pipeline.TurnTimeout <= 0 {
		c.Pipeline.TurnTimeout = 2 * time.Minute
	}
	if c.Retry.MaxAttempts <= 0 {
		c.Retry.MaxAttempts = 3
	}
	if c.Retry.InitialDelay <= 0 {
		c.Retry.InitialDelay = 250 * time.Millisecond
	}
	if c.Retry.MaxDelay <= 0 {
		c.Retry.MaxDelay = 4 * time.Second
	}
	if c.Retry.Multiplier < 1 {
		c.Retry.Multiplier = 2
	}
	if c.Background.MaxConcurrent <= 0 {
		c.Background.MaxConcurrent = 4
	}
	if c.Background.Timeout <= 0 {
		c.Background.Timeout = 60 * time.Second
	}
	if c.MQTT.TopicPrefix == "" {
		c.MQTT.TopicPrefix = "coachd"
	}
	if c.MQTT.PublishInterval <= 0 {
		c.MQTT.PublishInterval = 60 * time.Second
	}
}

// Validate checks for values that defaults cannot repair.
func (c *Config) Validate() error {
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	switch c.LogFormat {
	case "", "text", "json":
	default:
		return fmt.Errorf("unknown log_format %q (valid: text, json)", c.LogFormat)
	}
	for _, m := range c.Models.Available {
		switch m.Provider {
		case "ollama", "anthropic":
		default:
			return fmt.Errorf("model %q: unknown provider %q", m.Name, m.Provider)
		}
	}
	for token, uid := range c.Auth.Tokens {
		if token == "" || uid == "" {
			return fmt.Errorf("auth.tokens entries must have a non-empty token and user id")
		}
	}
	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		return fmt.Errorf("mqtt.enabled requires mqtt.broker")
	}
	return nil
}
