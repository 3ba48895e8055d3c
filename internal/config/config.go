package config

import (
	"encoding/json"
	"fmt"
)

// Config represents the main relay configuration
type Config struct {
	// Server configuration
	Server ServerConfig `json:"server" mapstructure:"server"`

	// Store configuration
	Store StoreConfig `json:"store" mapstructure:"store"`

	// AI configuration
	AI AIConfig `json:"ai" mapstructure:"ai"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// Data directory
	DataDir string `json:"data_dir" mapstructure:"data_dir"`
}

// ServerConfig holds transport server configuration
type ServerConfig struct {
	Port         int    `json:"port" mapstructure:"port"`
	Host         string `json:"host" mapstructure:"host"`
	ClientOrigin string `json:"client_origin" mapstructure:"client_origin"` // empty allows any origin
}

// StoreConfig holds session store configuration
type StoreConfig struct {
	Path             string          `json:"path" mapstructure:"path"`
	QueryTimeout     int             `json:"query_timeout" mapstructure:"query_timeout"` // seconds
	FallbackCapacity int             `json:"fallback_capacity" mapstructure:"fallback_capacity"`
	Retention        RetentionConfig `json:"retention" mapstructure:"retention"`
}

// RetentionConfig holds storage-policy retention settings
type RetentionConfig struct {
	Enabled  bool   `json:"enabled" mapstructure:"enabled"`
	MaxAge   int    `json:"max_age" mapstructure:"max_age"` // days
	Schedule string `json:"schedule" mapstructure:"schedule"`
}

// AIConfig holds completion capability configuration
type AIConfig struct {
	APIKey          string `json:"api_key" mapstructure:"api_key"`
	Model           string `json:"model" mapstructure:"model"`
	FallbackModel   string `json:"fallback_model" mapstructure:"fallback_model"`
	MaxOutputTokens int    `json:"max_output_tokens" mapstructure:"max_output_tokens"`
	MaxRetries      int    `json:"max_retries" mapstructure:"max_retries"`
	HistoryWindow   int    `json:"history_window" mapstructure:"history_window"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `json:"level" mapstructure:"level"`
	File   string `json:"file" mapstructure:"file"`
	Pretty bool   `json:"pretty" mapstructure:"pretty"`
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port: 5000,
			Host: "0.0.0.0",
		},
		Store: StoreConfig{
			QueryTimeout:     5,
			FallbackCapacity: 20,
			Retention: RetentionConfig{
				Enabled:  false,
				MaxAge:   30,
				Schedule: "0 3 * * *",
			},
		},
		AI: AIConfig{
			Model:           "gemini-1.5-flash-latest",
			FallbackModel:   "gemini-1.5-flash-8b",
			MaxOutputTokens: 500,
			MaxRetries:      2,
			HistoryWindow:   20,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Pretty: true,
		},
	}
}

// String returns a JSON representation of the config
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Store.QueryTimeout <= 0 {
		return fmt.Errorf("store query timeout must be positive")
	}
	if c.Store.FallbackCapacity < 20 {
		return fmt.Errorf("fallback capacity must be at least 20")
	}
	if c.Store.Retention.Enabled && c.Store.Retention.MaxAge <= 0 {
		return fmt.Errorf("retention max_age must be positive when retention is enabled")
	}

	if c.AI.Model == "" {
		return fmt.Errorf("ai model is required")
	}
	if c.AI.MaxOutputTokens <= 0 {
		return fmt.Errorf("ai max_output_tokens must be positive")
	}
	if c.AI.MaxRetries < 0 {
		return fmt.Errorf("ai max_retries cannot be negative")
	}
	if c.AI.HistoryWindow <= 0 {
		return fmt.Errorf("ai history_window must be positive")
	}

	return nil
}
