// Package config loads daemon configuration from a JSON file or from
// SUPPORTFLOW_* environment variables.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config is the top-level supportflow configuration.
type Config struct {
	Provider ProviderConfig `json:"provider"`
	Store    StoreConfig    `json:"store"`
	Workflow WorkflowConfig `json:"workflow"`
	API      APIConfig      `json:"api"`
	Log      LogConfig      `json:"log"`
}

// ProviderConfig holds LLM provider settings.
type ProviderConfig struct {
	Type    string `json:"type,omitempty"` // "anthropic" (default) or "openai"
	APIKey  string `json:"api_key"`
	BaseURL string `json:"base_url,omitempty"`
	Model   string `json:"model,omitempty"`
}

// StoreConfig holds persistence settings.
type StoreConfig struct {
	Path string `json:"path"` // sqlite database file
}

// WorkflowConfig holds orchestration settings.
type WorkflowConfig struct {
	LLMTimeoutSeconds int    `json:"llm_timeout_seconds,omitempty"` // default 30
	StatsWindowDays   int    `json:"stats_window_days,omitempty"`   // default 7
	StatsSchedule     string `json:"stats_schedule,omitempty"`      // default "@every 1h"
}

// APIConfig holds REST API server settings.
type APIConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
	Key  string `json:"api_key,omitempty"` // Bearer auth; empty disables auth
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level      string `json:"level,omitempty"`       // debug, info, warn, error
	BufferSize int    `json:"buffer_size,omitempty"` // operational log ring size
}

// Load reads configuration from a JSON file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadFromEnv builds a config from SUPPORTFLOW_* environment variables.
func LoadFromEnv() (*Config, error) {
	cfg := &Config{
		Store: StoreConfig{
			Path: getenv("SUPPORTFLOW_DB_PATH", "supportflow.db"),
		},
		API: APIConfig{
			Host: getenv("SUPPORTFLOW_API_HOST", "0.0.0.0"),
			Port: getenvInt("SUPPORTFLOW_API_PORT", 8080),
			Key:  os.Getenv("SUPPORTFLOW_API_KEY"),
		},
		Workflow: WorkflowConfig{
			LLMTimeoutSeconds: getenvInt("SUPPORTFLOW_LLM_TIMEOUT", 0),
		},
		Log: LogConfig{
			Level: os.Getenv("SUPPORTFLOW_LOG_LEVEL"),
		},
	}

	if apiKey := os.Getenv("SUPPORTFLOW_ANTHROPIC_API_KEY"); apiKey != "" {
		cfg.Provider = ProviderConfig{
			Type:   "anthropic",
			APIKey: apiKey,
			Model:  os.Getenv("SUPPORTFLOW_MODEL"),
		}
	} else if apiKey := os.Getenv("SUPPORTFLOW_OPENAI_API_KEY"); apiKey != "" {
		cfg.Provider = ProviderConfig{
			Type:    "openai",
			APIKey:  apiKey,
			BaseURL: os.Getenv("SUPPORTFLOW_OPENAI_BASE_URL"),
			Model:   getenv("SUPPORTFLOW_MODEL", "gpt-4o"),
		}
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Provider.Type == "" {
		c.Provider.Type = "anthropic"
	}
	if c.Store.Path == "" {
		c.Store.Path = "supportflow.db"
	}
	if c.Workflow.LLMTimeoutSeconds <= 0 {
		c.Workflow.LLMTimeoutSeconds = 30
	}
	if c.Workflow.StatsWindowDays <= 0 {
		c.Workflow.StatsWindowDays = 7
	}
	if c.Workflow.StatsSchedule == "" {
		c.Workflow.StatsSchedule = "@every 1h"
	}
	if c.API.Host == "" {
		c.API.Host = "0.0.0.0"
	}
	if c.API.Port == 0 {
		c.API.Port = 8080
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.BufferSize <= 0 {
		c.Log.BufferSize = 1000
	}
}

// Validate checks for required fields, collecting every problem.
func (c *Config) Validate() error {
	var errs []string

	switch c.Provider.Type {
	case "anthropic", "openai":
	default:
		errs = append(errs, fmt.Sprintf("provider.type %q is not supported (anthropic, openai)", c.Provider.Type))
	}
	if c.Provider.APIKey == "" {
		errs = append(errs, "provider.api_key is required")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, fmt.Sprintf("api.port %d is out of range", c.API.Port))
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Sprintf("log.level %q is not valid (debug, info, warn, error)", c.Log.Level))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
