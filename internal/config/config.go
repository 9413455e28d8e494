package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config holds application configuration.
type Config struct {
	Database DatabaseConfig
	Ingest   IngestConfig
	UI       UIConfig
}

// DatabaseConfig holds sqlite settings.
type DatabaseConfig struct {
	Path string
}

// IngestConfig holds import settings.
type IngestConfig struct {
	DefaultAccount string
}

// UIConfig holds presentation settings.
type UIConfig struct {
	DateFormat     string
	CurrencySymbol string
	Timezone       string
}

// Load reads configuration from file and env. Env var overrides use prefix SUBDRIFT_.
func Load() (Config, error) {
	v := viper.New()

	// default values
	v.SetDefault("database.path", filepath.Join(os.Getenv("HOME"), ".local", "share", "subdrift", "subdrift.db"))
	v.SetDefault("ingest.default_account", "Imported")
	v.SetDefault("ui.date_format", "02 Jan 2006")
	v.SetDefault("ui.currency_symbol", "$")
	v.SetDefault("ui.timezone", "UTC")

	v.SetConfigType("toml")

	cfgPath := os.Getenv("SUBDRIFT_CONFIG")
	if cfgPath != "" {
		v.SetConfigFile(cfgPath)
	} else {
		v.AddConfigPath(filepath.Join(os.Getenv("HOME"), ".config", "subdrift"))
		v.SetConfigName("config")
	}

	v.SetEnvPrefix("SUBDRIFT")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// read config file if present
	_ = v.ReadInConfig()

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	return c, nil
}

// Save writes the provided config to disk, creating the config directory if needed.
// Used by the TUI settings view for display preferences.
func Save(cfg Config) error {
	path := os.Getenv("SUBDRIFT_CONFIG")
	if path == "" {
		path = filepath.Join(os.Getenv("HOME"), ".config", "subdrift", "config.toml")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("mkdir config dir: %w", err)
	}

	v := viper.New()
	v.SetConfigType("toml")
	v.Set("database.path", cfg.Database.Path)
	v.Set("ingest.default_account", cfg.Ingest.DefaultAccount)
	v.Set("ui.date_format", cfg.UI.DateFormat)
	v.Set("ui.currency_symbol", cfg.UI.CurrencySymbol)
	v.Set("ui.timezone", cfg.UI.Timezone)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}
