// Package config loads and validates the agent configuration from YAML with
// environment variable overrides for credentials.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for the agent core.
type Config struct {
	Agent     AgentConfig     `yaml:"agent"`
	Providers ProvidersConfig `yaml:"providers"`
	Tools     ToolsConfig     `yaml:"tools"`
	Sessions  SessionsConfig  `yaml:"sessions"`
	Logging   LoggingConfig   `yaml:"logging"`
	Tracing   TracingConfig   `yaml:"tracing"`
}

// AgentConfig holds the per-run limits and feature flags. It is immutable for
// the lifetime of a run: created once from settings and never mutated.
type AgentConfig struct {
	// MaxSteps limits the number of loop iterations. Default: 10.
	MaxSteps int `yaml:"max_steps"`

	// MaxDuration limits total wall time for a run. Default: 5m.
	MaxDuration time.Duration `yaml:"max_duration"`

	// MaxTokens is the max tokens per LLM response. Default: 4096.
	MaxTokens int `yaml:"max_tokens"`

	// MinIterations is the minimum iterations before the completion
	// evaluator will report complete. Default: 1.
	MinIterations int `yaml:"min_iterations"`

	// CompletionThreshold is the confidence required for status complete.
	// Default: 0.8.
	CompletionThreshold float64 `yaml:"completion_threshold"`

	// ThinkingDepth selects reasoning depth: off, low, medium, high.
	ThinkingDepth string `yaml:"thinking_depth"`

	// EnableCaching enables the tool/response caches. Default: true.
	EnableCaching *bool `yaml:"enable_caching"`

	// EnableCompaction enables history compaction. Default: true.
	EnableCompaction *bool `yaml:"enable_compaction"`

	// EnableFallback enables the provider fallback chain. Default: true.
	EnableFallback *bool `yaml:"enable_fallback"`

	// CompactionTokenLimit is the estimated-token ceiling before history
	// compaction triggers. Default: 50000.
	CompactionTokenLimit int `yaml:"compaction_token_limit"`

	// PreserveRecentMessages is how many trailing messages survive
	// compaction verbatim. Default: 5.
	PreserveRecentMessages int `yaml:"preserve_recent_messages"`

	// BudgetUSD raises a budget alert when estimated run cost exceeds it.
	// Zero disables the alert.
	BudgetUSD float64 `yaml:"budget_usd"`
}

// ProvidersConfig configures the LLM provider chain.
type ProvidersConfig struct {
	// Default is the preferred provider name.
	Default string `yaml:"default"`

	// Chain lists providers in priority order for fallback.
	Chain []ProviderConfig `yaml:"chain"`
}

// ProviderConfig configures a single LLM backend.
type ProviderConfig struct {
	// Name identifies the provider: "anthropic" or "openai".
	Name string `yaml:"name"`

	// Model is the default model identifier.
	Model string `yaml:"model"`

	// APIKey authenticates requests. ANTHROPIC_API_KEY or OPENAI_API_KEY
	// overrides it for the matching provider.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's API endpoint.
	BaseURL string `yaml:"base_url"`

	// Priority orders providers in the fallback chain (lower = first).
	Priority int `yaml:"priority"`

	// MaxRetries is retry attempts on transient failures. Default: 3.
	MaxRetries int `yaml:"max_retries"`

	// FailureThreshold opens the circuit after this many consecutive
	// failures. Default: 5.
	FailureThreshold int `yaml:"failure_threshold"`

	// SuccessThreshold closes a half-open circuit after this many
	// consecutive successes. Default: 2.
	SuccessThreshold int `yaml:"success_threshold"`

	// RecoveryTimeout is how long an open circuit rejects calls before
	// allowing a trial. Default: 30s.
	RecoveryTimeout time.Duration `yaml:"recovery_timeout"`
}

// ToolsConfig configures the tool execution pipeline.
type ToolsConfig struct {
	// CacheTTL is the tool cache entry lifetime. Default: 5m.
	CacheTTL time.Duration `yaml:"cache_ttl"`

	// CacheSize bounds the tool cache entry count. Default: 500.
	CacheSize int `yaml:"cache_size"`

	// RateLimitPerMinute caps tool calls per (user, tool). Default: 30.
	RateLimitPerMinute int `yaml:"rate_limit_per_minute"`

	// ExecutionTimeout bounds a single tool body. Default: 30s.
	ExecutionTimeout time.Duration `yaml:"execution_timeout"`

	// HookTimeout bounds a single hook handler. Default: 5s.
	HookTimeout time.Duration `yaml:"hook_timeout"`
}

// SessionsConfig configures session lifecycle.
type SessionsConfig struct {
	// MaxMessages caps messages retained per session. Default: 1000.
	MaxMessages int `yaml:"max_messages"`

	// MaxAge is the inactivity window before a session is swept. Default: 1h.
	MaxAge time.Duration `yaml:"max_age"`

	// SweepInterval is how often the sweeper runs. Default: 60s.
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// TracingConfig configures OpenTelemetry export.
type TracingConfig struct {
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"sampling_rate"`
	Insecure     bool    `yaml:"insecure"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads a YAML config file, applies environment overrides and defaults,
// and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnv()
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	for i := range c.Providers.Chain {
		p := &c.Providers.Chain[i]
		switch p.Name {
		case "anthropic":
			if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
				p.APIKey = v
			}
		case "openai":
			if v := os.Getenv("OPENAI_API_KEY"); v != "" {
				p.APIKey = v
			}
		}
	}
}

func (a *AgentConfig) applyDefaults() {
	if a.MaxSteps <= 0 {
		a.MaxSteps = 10
	}
	if a.MaxDuration <= 0 {
		a.MaxDuration = 5 * time.Minute
	}
	if a.MaxTokens <= 0 {
		a.MaxTokens = 4096
	}
	if a.MinIterations <= 0 {
		a.MinIterations = 1
	}
	if a.CompletionThreshold <= 0 {
		a.CompletionThreshold = 0.8
	}
	if a.ThinkingDepth == "" {
		a.ThinkingDepth = "off"
	}
	if a.EnableCaching == nil {
		a.EnableCaching = boolPtr(true)
	}
	if a.EnableCompaction == nil {
		a.EnableCompaction = boolPtr(true)
	}
	if a.EnableFallback == nil {
		a.EnableFallback = boolPtr(true)
	}
	if a.CompactionTokenLimit <= 0 {
		a.CompactionTokenLimit = 50000
	}
	if a.PreserveRecentMessages <= 0 {
		a.PreserveRecentMessages = 5
	}
}

// WithDefaults returns a copy with zero fields replaced by their defaults,
// for loops built from a literal config rather than through Load.
func (a AgentConfig) WithDefaults() AgentConfig {
	a.applyDefaults()
	return a
}

func (c *Config) applyDefaults() {
	c.Agent.applyDefaults()

	for i := range c.Providers.Chain {
		p := &c.Providers.Chain[i]
		if p.MaxRetries <= 0 {
			p.MaxRetries = 3
		}
		if p.FailureThreshold <= 0 {
			p.FailureThreshold = 5
		}
		if p.SuccessThreshold <= 0 {
			p.SuccessThreshold = 2
		}
		if p.RecoveryTimeout <= 0 {
			p.RecoveryTimeout = 30 * time.Second
		}
	}

	t := &c.Tools
	if t.CacheTTL <= 0 {
		t.CacheTTL = 5 * time.Minute
	}
	if t.CacheSize <= 0 {
		t.CacheSize = 500
	}
	if t.RateLimitPerMinute <= 0 {
		t.RateLimitPerMinute = 30
	}
	if t.ExecutionTimeout <= 0 {
		t.ExecutionTimeout = 30 * time.Second
	}
	if t.HookTimeout <= 0 {
		t.HookTimeout = 5 * time.Second
	}

	s := &c.Sessions
	if s.MaxMessages <= 0 {
		s.MaxMessages = 1000
	}
	if s.MaxAge <= 0 {
		s.MaxAge = time.Hour
	}
	if s.SweepInterval <= 0 {
		s.SweepInterval = 60 * time.Second
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	if c.Agent.CompletionThreshold < 0 || c.Agent.CompletionThreshold > 1 {
		return fmt.Errorf("agent.completion_threshold must be in [0,1], got %v", c.Agent.CompletionThreshold)
	}
	seen := map[string]bool{}
	for _, p := range c.Providers.Chain {
		if p.Name != "anthropic" && p.Name != "openai" {
			return fmt.Errorf("unknown provider %q", p.Name)
		}
		if seen[p.Name] {
			return fmt.Errorf("duplicate provider %q", p.Name)
		}
		seen[p.Name] = true
	}
	if c.Providers.Default != "" && !seen[c.Providers.Default] {
		return fmt.Errorf("default provider %q not in chain", c.Providers.Default)
	}
	return nil
}

// CachingEnabled reports whether the tool/response caches are enabled.
func (a *AgentConfig) CachingEnabled() bool { return a.EnableCaching == nil || *a.EnableCaching }

// CompactionEnabled reports whether history compaction is enabled.
func (a *AgentConfig) CompactionEnabled() bool {
	return a.EnableCompaction == nil || *a.EnableCompaction
}

// FallbackEnabled reports whether the provider fallback chain is enabled.
func (a *AgentConfig) FallbackEnabled() bool { return a.EnableFallback == nil || *a.EnableFallback }

func boolPtr(b bool) *bool { return &b }
