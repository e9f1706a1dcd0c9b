package config

import "time"

type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Database    DatabaseConfig    `yaml:"database"`
	Redis       RedisConfig       `yaml:"redis"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
	Sanitizer   SanitizerConfig   `yaml:"sanitizer"`
	Policy      PolicyConfig      `yaml:"policy"`
	Vetting     VettingConfig     `yaml:"vetting"`
	RateLimit   RateLimitConfig   `yaml:"rate_limit"`
	Concurrency ConcurrencyConfig `yaml:"concurrency"`
	Execution   ExecutionConfig   `yaml:"execution"`
	Routing     RoutingConfig     `yaml:"routing"`
}

type ServerConfig struct {
	Host             string        `yaml:"host"`
	Port             int           `yaml:"port"`
	ReadTimeout      time.Duration `yaml:"read_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	IdleTimeout      time.Duration `yaml:"idle_timeout"`
	GracefulShutdown time.Duration `yaml:"graceful_shutdown"`
}

type DatabaseConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Name            string        `yaml:"name"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

func (d DatabaseConfig) DSN() string {
	return "postgres://" + d.User + ":" + d.Password + "@" + d.Host + ":" + itoa(d.Port) + "/" + d.Name + "?sslmode=disable"
}

func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	s := ""
	for i > 0 {
		s = string(rune('0'+i%10)) + s
		i /= 10
	}
	return s
}

type RedisConfig struct {
	Addresses []string `yaml:"addresses"`
	Password  string   `yaml:"password"`
	DB        int      `yaml:"db"`
	PoolSize  int      `yaml:"pool_size"`
}

type TelemetryConfig struct {
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"`
	MetricsPort int    `yaml:"metrics_port"`
}

// PatternConfig is one runtime-configurable matcher: an ordered rule with an
// associated weight and category, compiled at load time.
type PatternConfig struct {
	Name     string  `yaml:"name"`
	Regex    string  `yaml:"regex"`
	Weight   float64 `yaml:"weight"`
	Category string  `yaml:"category"`
}

type SanitizerConfig struct {
	Enabled        bool    `yaml:"enabled"`
	BlockThreshold float64 `yaml:"block_threshold"`
	WarnThreshold  float64 `yaml:"warn_threshold"`
	// ExtraPatterns supplement the built-in rule table.
	ExtraPatterns []PatternConfig `yaml:"extra_patterns"`
}

// PolicyMode selects how unlisted tools are treated.
type PolicyMode string

const (
	// ModeBlocklist denies only the listed tools; unlisted tools are allowed.
	ModeBlocklist PolicyMode = "blocklist"
	// ModeAllowlist allows only the listed tools; unlisted tools are denied.
	ModeAllowlist PolicyMode = "allowlist"
)

type PolicyConfig struct {
	Mode  PolicyMode       `yaml:"mode"`
	Tools []ToolRuleConfig `yaml:"tools"`
	Rego  RegoConfig       `yaml:"rego"`
}

type ToolRuleConfig struct {
	Name   string `yaml:"name"`
	Reason string `yaml:"reason"`
}

type RegoConfig struct {
	Enabled           bool          `yaml:"enabled"`
	BundlePath        string        `yaml:"bundle_path"`
	EvaluationTimeout time.Duration `yaml:"evaluation_timeout"`
}

type VettingConfig struct {
	SemanticTimeout time.Duration `yaml:"semantic_timeout"`
	// JudgeProvider names the provider used for semantic review. Empty
	// disables semantic review globally.
	JudgeProvider string                       `yaml:"judge_provider"`
	Tools         map[string]ToolVettingConfig `yaml:"tools"`
	ExtraPatterns []PatternConfig              `yaml:"extra_patterns"`
}

type ToolVettingConfig struct {
	SemanticReview bool `yaml:"semantic_review"`
	// FailOpen allows the tool through when the semantic judge times out or
	// errors. The default (false) fails closed.
	FailOpen bool `yaml:"fail_open"`
}

type RateLimitConfig struct {
	Enabled bool                       `yaml:"enabled"`
	Tiers   map[string]TierLimitConfig `yaml:"tiers"`
	Surface SurfaceLimitConfig         `yaml:"surface"`
}

type TierLimitConfig struct {
	Capacity        float64 `yaml:"capacity"`
	RefillPerSecond float64 `yaml:"refill_per_second"`
}

// SurfaceLimitConfig is the coarse per-surface limit applied ahead of any
// other check, to shed raw volume cheaply.
type SurfaceLimitConfig struct {
	Enabled bool          `yaml:"enabled"`
	Limit   int64         `yaml:"limit"`
	Window  time.Duration `yaml:"window"`
}

type ConcurrencyConfig struct {
	MaxPerUser int64 `yaml:"max_per_user"`
}

type ExecutionConfig struct {
	Timeout time.Duration `yaml:"timeout"`
	// Grace bounds how long the supervisor waits for cooperative shutdown
	// after the deadline before detaching the operation.
	Grace time.Duration `yaml:"grace"`
}

type RoutingConfig struct {
	Sticky bool `yaml:"sticky"`
	// TrivialMaxChars is the message-length ceiling below which a request
	// with no trigger match classifies as trivial.
	TrivialMaxChars int             `yaml:"trivial_max_chars"`
	Triggers        []TriggerConfig `yaml:"triggers"`
}

type TriggerConfig struct {
	Class    string   `yaml:"class"`
	Patterns []string `yaml:"patterns"`
}

func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:             "0.0.0.0",
			Port:             8080,
			ReadTimeout:      30 * time.Second,
			WriteTimeout:     120 * time.Second,
			IdleTimeout:      120 * time.Second,
			GracefulShutdown: 30 * time.Second,
		},
		Database: DatabaseConfig{
			Host:            "localhost",
			Port:            5432,
			Name:            "warden",
			User:            "warden",
			MaxOpenConns:    25,
			MaxIdleConns:    10,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Redis: RedisConfig{
			Addresses: []string{"localhost:6379"},
			DB:        0,
			PoolSize:  50,
		},
		Telemetry: TelemetryConfig{
			LogLevel:    "info",
			LogFormat:   "json",
			MetricsPort: 9090,
		},
		Sanitizer: SanitizerConfig{
			Enabled:        true,
			BlockThreshold: 15,
			WarnThreshold:  5,
		},
		Policy: PolicyConfig{
			Mode: ModeBlocklist,
			Tools: []ToolRuleConfig{
				{Name: "web_fetch", Reason: "SSRF risk"},
				{Name: "shell_exec", Reason: "arbitrary command execution"},
			},
			Rego: RegoConfig{
				Enabled:           false,
				BundlePath:        "/etc/warden/policies",
				EvaluationTimeout: 100 * time.Millisecond,
			},
		},
		Vetting: VettingConfig{
			SemanticTimeout: 5 * time.Second,
			Tools:           map[string]ToolVettingConfig{},
		},
		RateLimit: RateLimitConfig{
			Enabled: true,
			Tiers: map[string]TierLimitConfig{
				"standard": {Capacity: 30, RefillPerSecond: 0.5},
				"admin":    {Capacity: 150, RefillPerSecond: 2.5},
			},
			Surface: SurfaceLimitConfig{
				Enabled: false,
				Limit:   600,
				Window:  time.Minute,
			},
		},
		Concurrency: ConcurrencyConfig{
			MaxPerUser: 5,
		},
		Execution: ExecutionConfig{
			Timeout: 30 * time.Second,
			Grace:   2 * time.Second,
		},
		Routing: RoutingConfig{
			Sticky:          true,
			TrivialMaxChars: 80,
			Triggers: []TriggerConfig{
				{Class: "reasoning", Patterns: []string{
					`(?i)\b(prove|derive|step[- ]by[- ]step|analy[sz]e|architect|trade[- ]?offs?)\b`,
					`(?i)\bwhy\b.{20,}`,
				}},
				{Class: "query", Patterns: []string{
					`(?i)^\s*(what|who|when|where|how much|how many)\b`,
				}},
			},
		},
	}
}
