package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// Loader handles configuration loading
type Loader struct {
	configPath string
}

// NewLoader creates a new config loader
func NewLoader(configPath string) *Loader {
	return &Loader{
		configPath: configPath,
	}
}

// Load loads the configuration from file
func (l *Loader) Load() (*Config, error) {
	// Determine config path
	configPath := l.configPath
	if configPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		configPath = filepath.Join(home, ".relaychat", "relaychat.json")
	}

	cfg := DefaultConfig()

	// Check if config file exists
	if _, err := os.Stat(configPath); err == nil {
		// Setup viper
		v := viper.New()
		v.SetConfigFile(configPath)
		v.SetConfigType("json")

		// Read environment variables
		v.SetEnvPrefix("RELAY")
		v.AutomaticEnv()

		// Read config file
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		// Unmarshal into config struct
		if err := v.Unmarshal(cfg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config: %w", err)
		}
	}

	// Set data directory if not specified
	if cfg.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		cfg.DataDir = filepath.Join(home, ".relaychat")
	}

	// Set store path if not specified
	if cfg.Store.Path == "" {
		cfg.Store.Path = filepath.Join(cfg.DataDir, "chat.db")
	}

	// Set logging file path if not specified
	if cfg.Logging.File == "" {
		cfg.Logging.File = filepath.Join(cfg.DataDir, "relaychat.log")
	}

	// The Gemini credential may come from the conventional environment
	// variable instead of the config file.
	if cfg.AI.APIKey == "" {
		cfg.AI.APIKey = os.Getenv("GEMINI_API_KEY")
	}

	return cfg, nil
}

// Save saves the configuration to file
func (l *Loader) Save(cfg *Config) error {
	// Determine config path
	configPath := l.configPath
	if configPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to get home directory: %w", err)
		}
		configPath = filepath.Join(home, ".relaychat", "relaychat.json")
	}

	// Ensure directory exists
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// Setup viper
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("json")

	// Set all config values (use canonical fields only)
	v.Set("server", cfg.Server)
	v.Set("store", cfg.Store)
	v.Set("ai", cfg.AI)
	v.Set("logging", cfg.Logging)
	v.Set("data_dir", cfg.DataDir)

	// Write config file
	if err := v.WriteConfig(); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
