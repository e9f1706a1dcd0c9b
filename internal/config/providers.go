package config

import "time"

type ProvidersConfig struct {
	Providers map[string]ProviderConfig `yaml:"providers"`
}

type ProviderConfig struct {
	Type    string `yaml:"type"`
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`

	// Routing profile
	CostPerMTok      float64 `yaml:"cost_per_mtok"`
	MaxContextTokens int     `yaml:"max_context_tokens"`
	SupportsTools    bool    `yaml:"supports_tools"`
	// Capability ranks providers for reasoning-class requests; higher wins.
	Capability     int     `yaml:"capability"`
	DailyBudgetUSD float64 `yaml:"daily_budget_usd"`

	// Transport
	MaxConcurrent int               `yaml:"max_concurrent"`
	Timeout       time.Duration     `yaml:"timeout"`
	Headers       map[string]string `yaml:"headers,omitempty"`
}
