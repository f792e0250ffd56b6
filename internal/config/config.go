package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Broker struct {
	BaseURL            string `yaml:"base_url"`
	TokenEnv           string `yaml:"token_env"` // env var holding the API token
	TimeoutMs          int    `yaml:"timeout_ms"`
	MaxRetries         int    `yaml:"max_retries"`
	BackoffBaseMs      int    `yaml:"backoff_base_ms"`
	RateLimitPerMinute int    `yaml:"rate_limit_per_minute"`
}

type Quotes struct {
	Provider           string `yaml:"provider"` // alphavantage | mock
	BaseURL            string `yaml:"base_url"`
	APIKeyEnv          string `yaml:"api_key_env"`
	TimeoutMs          int    `yaml:"timeout_ms"`
	RateLimitPerMinute int    `yaml:"rate_limit_per_minute"`
}

type Engine struct {
	DataFrequency string `yaml:"data_frequency"` // 1m | 1h | 1d
	Timezone      string `yaml:"timezone"`       // engine-local zone, e.g. America/New_York
	TickMs        int    `yaml:"tick_ms"`        // scheduler poll interval
	PnLPolicy     string `yaml:"pnl_policy"`     // equity_change | settlement
	MetricsAddr   string `yaml:"metrics_addr"`   // empty disables the metrics endpoint
}

type Root struct {
	Broker Broker `yaml:"broker"`
	Quotes Quotes `yaml:"quotes"`
	Engine Engine `yaml:"engine"`
}

func Load(path string) (Root, error) {
	var c Root
	b, err := os.ReadFile(path)
	if err != nil {
		return c, err
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return c, err
	}

	// Broker defaults
	if c.Broker.BaseURL == "" {
		c.Broker.BaseURL = "https://api.robinhood.com"
	}
	if c.Broker.TokenEnv == "" {
		c.Broker.TokenEnv = "BROKER_TOKEN"
	}
	if c.Broker.TimeoutMs == 0 {
		c.Broker.TimeoutMs = 10000
	}
	if c.Broker.MaxRetries == 0 {
		c.Broker.MaxRetries = 3
	}
	if c.Broker.BackoffBaseMs == 0 {
		c.Broker.BackoffBaseMs = 250
	}
	if c.Broker.RateLimitPerMinute == 0 {
		c.Broker.RateLimitPerMinute = 60
	}

	// Quotes defaults
	if c.Quotes.Provider == "" {
		c.Quotes.Provider = "alphavantage"
	}
	if c.Quotes.BaseURL == "" {
		c.Quotes.BaseURL = "https://www.alphavantage.co"
	}
	if c.Quotes.APIKeyEnv == "" {
		c.Quotes.APIKeyEnv = "ALPHAVANTAGE_API_KEY"
	}
	if c.Quotes.TimeoutMs == 0 {
		c.Quotes.TimeoutMs = 10000
	}
	if c.Quotes.RateLimitPerMinute == 0 {
		c.Quotes.RateLimitPerMinute = 5
	}

	// Engine defaults
	if c.Engine.DataFrequency == "" {
		c.Engine.DataFrequency = "1h"
	}
	switch c.Engine.DataFrequency {
	case "1m", "1h", "1d":
	default:
		return c, fmt.Errorf("unsupported data_frequency %q", c.Engine.DataFrequency)
	}
	if c.Engine.Timezone == "" {
		c.Engine.Timezone = "America/New_York"
	}
	if c.Engine.TickMs == 0 {
		c.Engine.TickMs = 1000
	}
	if c.Engine.PnLPolicy == "" {
		c.Engine.PnLPolicy = "equity_change"
	}

	return c, nil
}
