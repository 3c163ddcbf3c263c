package kestrel

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from YAML strings like "30s".
type Duration time.Duration

// UnmarshalYAML parses a Go duration string or a plain number of seconds.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var text string
	if err := node.Decode(&text); err != nil {
		return fmt.Errorf("kestrel: parse duration: %w", err)
	}
	if parsed, err := time.ParseDuration(text); err == nil {
		*d = Duration(parsed)
		return nil
	}
	seconds, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return fmt.Errorf("kestrel: parse duration %q", text)
	}
	*d = Duration(time.Duration(seconds * float64(time.Second)))
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the file-loadable runtime configuration. Zero fields fall back
// to the package defaults when applied.
type Config struct {
	SystemPrompt string  `yaml:"system_prompt"`
	MaxSteps     int     `yaml:"max_steps"`
	LoopGuard    int     `yaml:"loop_guard"`
	MaxTokens    int     `yaml:"max_tokens"`
	Temperature  float64 `yaml:"temperature"`

	History HistoryConfig `yaml:"history"`
	Retry   RetryFile     `yaml:"retry"`
	Cache   CacheConfig   `yaml:"cache"`
}

// HistoryConfig configures the conversation ceilings.
type HistoryConfig struct {
	MaxMessages int `yaml:"max_messages"`
	MaxTokens   int `yaml:"max_tokens"`
}

// RetryFile is the YAML shape of RetryConfig.
type RetryFile struct {
	MaxAttempts     int      `yaml:"max_attempts"`
	BaseDelay       Duration `yaml:"base_delay"`
	MaxDelay        Duration `yaml:"max_delay"`
	ExponentialBase float64  `yaml:"exponential_base"`
	JitterFactor    float64  `yaml:"jitter_factor"`
}

// CacheConfig configures the tool result cache.
type CacheConfig struct {
	Size int      `yaml:"size"`
	TTL  Duration `yaml:"ttl"`
}

// DefaultConfig returns a Config mirroring the package defaults.
func DefaultConfig() Config {
	retry := DefaultRetryConfig()
	return Config{
		MaxSteps:    DefaultMaxSteps,
		LoopGuard:   DefaultLoopGuard,
		Temperature: -1,
		History: HistoryConfig{
			MaxMessages: DefaultMaxMessages,
			MaxTokens:   DefaultMaxTokens,
		},
		Retry: RetryFile{
			MaxAttempts:     retry.MaxAttempts,
			BaseDelay:       Duration(retry.BaseDelay),
			MaxDelay:        Duration(retry.MaxDelay),
			ExponentialBase: retry.ExponentialBase,
			JitterFactor:    retry.JitterFactor,
		},
		Cache: CacheConfig{
			Size: DefaultCacheSize,
			TTL:  Duration(DefaultCacheTTL),
		},
	}
}

// LoadConfig reads a YAML configuration file. Fields absent from the file
// keep their defaults.
func LoadConfig(path string) (Config, error) {
	config := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return config, fmt.Errorf("kestrel: read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return config, fmt.Errorf("kestrel: parse config %s: %w", path, err)
	}
	return config, nil
}

// RetryConfig converts the file shape to the runtime policy.
func (c Config) RetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:     c.Retry.MaxAttempts,
		BaseDelay:       c.Retry.BaseDelay.Std(),
		MaxDelay:        c.Retry.MaxDelay.Std(),
		ExponentialBase: c.Retry.ExponentialBase,
		JitterFactor:    c.Retry.JitterFactor,
	}
}

// NewHistory builds a History with the configured ceilings.
func (c Config) NewHistory() *History {
	return NewHistory(
		WithMaxMessages(c.History.MaxMessages),
		WithMaxTokens(c.History.MaxTokens),
	)
}

// NewResultCache builds a ResultCache with the configured size.
func (c Config) NewResultCache() *ResultCache {
	return NewResultCache(c.Cache.Size)
}
