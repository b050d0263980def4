package mcp

import (
	"fmt"

	"github.com/spf13/viper"

	"github.com/jarvis-automation/jarvis/internal/secrets"
)

// Config holds all configuration for the MCP server.
type Config struct {
	Relay    RelayConfig    `mapstructure:"relay"`
	Security SecurityConfig `mapstructure:"security"`
}

// RelayConfig locates the relay.
type RelayConfig struct {
	URL string `mapstructure:"url"`
}

// SecurityConfig holds application-level security settings.
type SecurityConfig struct {
	CommandSecret string `mapstructure:"command_secret"`
}

// LoadConfig reads the MCP server configuration from file, env vars, and defaults.
func LoadConfig(cfgFile string) (Config, error) {
	v := viper.New()

	v.SetDefault("relay.url", "ws://127.0.0.1:8765")

	v.SetConfigType("toml")

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("jarvis-mcp")
		v.AddConfigPath("/etc/jarvis")
		v.AddConfigPath("$HOME/.config/jarvis")
		v.AddConfigPath(".")
	}

	v.BindEnv("relay.url", "JARVIS_RELAY_URL")
	v.BindEnv("security.command_secret", "JARVIS_COMMAND_SECRET")

	// Only an explicitly named file is required.
	if err := v.ReadInConfig(); err != nil && cfgFile != "" {
		return Config{}, fmt.Errorf("read config %s: %w", cfgFile, err)
	}

	if err := secrets.Apply(v); err != nil {
		return Config{}, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}
