// Package config loads aish configuration: defaults, overlaid by an
// optional YAML file, overlaid by environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/adhocore/gronx"
	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Workspace string            `yaml:"workspace" env:"AISH_WORKSPACE"`
	Provider  ProviderConfig    `yaml:"provider"`
	Execution ExecutionConfig   `yaml:"execution"`
	Cache     CacheConfig       `yaml:"cache"`
	History   HistoryConfig     `yaml:"history"`
	Aliases   map[string]string `yaml:"aliases"`
	Debug     bool              `yaml:"debug" env:"AISH_DEBUG"`
}

type ProviderConfig struct {
	Name      string `yaml:"name" env:"AISH_PROVIDER"`
	Model     string `yaml:"model" env:"AISH_MODEL"`
	APIKey    string `yaml:"api_key" env:"AISH_API_KEY"`
	BaseURL   string `yaml:"base_url" env:"AISH_BASE_URL"`
	MaxTokens int    `yaml:"max_tokens"`
}

type ExecutionConfig struct {
	TimeoutSeconds     int      `yaml:"timeout_seconds"`
	LongTimeoutSeconds int      `yaml:"long_timeout_seconds"`
	ChoiceWaitSeconds  int      `yaml:"choice_wait_seconds"`
	RetryBudget        int      `yaml:"retry_budget"`
	SimulationMode     bool     `yaml:"simulation_mode" env:"AISH_SIMULATE"`
	DenyPatterns       []string `yaml:"deny_patterns"`
}

func (e ExecutionConfig) Timeout() time.Duration {
	return time.Duration(e.TimeoutSeconds) * time.Second
}

func (e ExecutionConfig) LongTimeout() time.Duration {
	return time.Duration(e.LongTimeoutSeconds) * time.Second
}

func (e ExecutionConfig) ChoiceWait() time.Duration {
	return time.Duration(e.ChoiceWaitSeconds) * time.Second
}

type CacheConfig struct {
	Enabled       bool   `yaml:"enabled"`
	TTLSeconds    int    `yaml:"ttl_seconds"`
	MaxEntries    int    `yaml:"max_entries"`
	SweepSchedule string `yaml:"sweep_schedule"`
}

func (c CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

type HistoryConfig struct {
	Path     string `yaml:"path" env:"AISH_HISTORY_FILE"`
	MaxBytes int64  `yaml:"max_bytes"`
}

// DefaultConfig mirrors the documented defaults: two minute step
// timeout, ten minute long-running timeout, three attempts per step.
func DefaultConfig() *Config {
	home, _ := os.UserHomeDir()
	workspace := filepath.Join(home, ".aish")
	return &Config{
		Workspace: workspace,
		Provider: ProviderConfig{
			Name:      "anthropic",
			MaxTokens: 1024,
		},
		Execution: ExecutionConfig{
			TimeoutSeconds:     120,
			LongTimeoutSeconds: 600,
			ChoiceWaitSeconds:  30,
			RetryBudget:        3,
		},
		Cache: CacheConfig{
			Enabled:       true,
			TTLSeconds:    3600,
			MaxEntries:    100,
			SweepSchedule: "0 * * * *",
		},
		History: HistoryConfig{
			Path:     filepath.Join(workspace, "history.jsonl"),
			MaxBytes: 4 << 20,
		},
		Aliases: map[string]string{},
	}
}

// Load builds the effective config: defaults, then the YAML file at
// path (ignored when absent), then environment overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects values the engine cannot run with.
func (c *Config) Validate() error {
	if c.Execution.RetryBudget < 1 {
		return fmt.Errorf("execution.retry_budget must be at least 1, got %d", c.Execution.RetryBudget)
	}
	if c.Execution.TimeoutSeconds < 1 {
		return fmt.Errorf("execution.timeout_seconds must be positive, got %d", c.Execution.TimeoutSeconds)
	}
	if c.Execution.LongTimeoutSeconds < c.Execution.TimeoutSeconds {
		return fmt.Errorf("execution.long_timeout_seconds must be >= timeout_seconds")
	}
	if s := c.Cache.SweepSchedule; s != "" {
		if !gronx.New().IsValid(s) {
			return fmt.Errorf("cache.sweep_schedule %q is not a valid cron expression", s)
		}
	}
	return nil
}

// DefaultPath is where Load looks when no --config flag is given.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.yaml"
	}
	return filepath.Join(home, ".aish", "config.yaml")
}
