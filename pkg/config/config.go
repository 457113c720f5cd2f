// Package config loads application configuration from defaults, an optional
// YAML file and STOCKAGENT_-prefixed environment variables, in that order of
// precedence.
package config

import (
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Log        LogConfig        `koanf:"log"`
	LLM        LLMConfig        `koanf:"llm"`
	MarketData MarketDataConfig `koanf:"marketdata"`
	RateLimit  RateLimitConfig  `koanf:"ratelimit"`
	History    HistoryConfig    `koanf:"history"`
	Telemetry  TelemetryConfig  `koanf:"telemetry"`

	// Aliases extends the built-in ticker alias table (name -> symbol).
	Aliases map[string]string `koanf:"aliases"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"` // json, text
}

type LLMConfig struct {
	BaseURL     string        `koanf:"base_url"`
	APIKey      string        `koanf:"api_key"`
	Model       string        `koanf:"model"`
	Temperature float64       `koanf:"temperature"`
	MaxTokens   int           `koanf:"max_tokens"`
	Timeout     time.Duration `koanf:"timeout"`
	AppURL      string        `koanf:"app_url"`
	AppName     string        `koanf:"app_name"`
}

type MarketDataConfig struct {
	BaseURL string        `koanf:"base_url"`
	Timeout time.Duration `koanf:"timeout"`
}

type RateLimitConfig struct {
	MarketData BucketConfig `koanf:"marketdata"`
	LLM        BucketConfig `koanf:"llm"`
}

type BucketConfig struct {
	Capacity int           `koanf:"capacity"`
	Window   time.Duration `koanf:"window"`
}

type HistoryConfig struct {
	Backend string `koanf:"backend"` // memory, sqlite
	Path    string `koanf:"path"`
}

type TelemetryConfig struct {
	Enabled     bool   `koanf:"enabled"`
	ServiceName string `koanf:"service_name"`
	Exporter    string `koanf:"exporter"` // stdout, otlp
	Endpoint    string `koanf:"endpoint"`
}

// Load reads configuration with file values overriding defaults and
// environment variables overriding both (STOCKAGENT_LLM_MODEL -> llm.model).
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	k.Set("log.level", "info")
	k.Set("log.format", "text")

	k.Set("llm.base_url", "https://openrouter.ai/api/v1")
	k.Set("llm.model", "openai/gpt-4o-mini")
	k.Set("llm.temperature", 0.7)
	k.Set("llm.max_tokens", 1024)
	k.Set("llm.timeout", "60s")
	k.Set("llm.app_name", "stockagent")

	k.Set("marketdata.base_url", "https://query1.finance.yahoo.com")
	k.Set("marketdata.timeout", "15s")

	k.Set("ratelimit.marketdata.capacity", 30)
	k.Set("ratelimit.marketdata.window", "60s")
	k.Set("ratelimit.llm.capacity", 20)
	k.Set("ratelimit.llm.window", "60s")

	k.Set("history.backend", "memory")
	k.Set("history.path", "stockagent.db")

	k.Set("telemetry.enabled", false)
	k.Set("telemetry.service_name", "stockagent")
	k.Set("telemetry.exporter", "stdout")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, err
		}
	}

	if err := k.Load(env.Provider("STOCKAGENT_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(
			strings.TrimPrefix(s, "STOCKAGENT_")), "_", ".", -1)
	}), nil); err != nil {
		return nil, err
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
