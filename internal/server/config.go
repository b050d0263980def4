package server

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/jarvis-automation/jarvis/internal/secrets"
)

// Config is the top-level daemon configuration.
type Config struct {
	Server ServerConfig `mapstructure:"server"`
	Relay  RelayConfig  `mapstructure:"relay"`
	NATS   NATSConfig   `mapstructure:"nats"`
}

// ServerConfig holds listener settings. The relay websocket and the status
// API share one listener.
type ServerConfig struct {
	Listen string `mapstructure:"listen"`
}

// RelayConfig holds command routing settings.
type RelayConfig struct {
	CommandTimeout time.Duration `mapstructure:"command_timeout"`
	MaxMessageSize int64         `mapstructure:"max_message_size"`
}

// NATSConfig selects where lifecycle events are published: an embedded
// server (optionally listening on Host:Port for outside subscribers) or an
// external one at URL.
type NATSConfig struct {
	Embedded bool   `mapstructure:"embedded"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	URL      string `mapstructure:"url"`
	Token    string `mapstructure:"token"`
}

// LoadConfig reads configuration from file, env, and flags.
func LoadConfig(cfgFile string) (Config, error) {
	v := viper.New()

	v.SetDefault("server.listen", "0.0.0.0:8765")
	v.SetDefault("relay.command_timeout", 30*time.Second)
	v.SetDefault("relay.max_message_size", 64<<20)
	v.SetDefault("nats.embedded", true)
	v.SetDefault("nats.host", "127.0.0.1")
	v.SetDefault("nats.port", 4222)

	v.SetConfigType("toml")

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("jarvis")
		v.AddConfigPath("/etc/jarvis")
		v.AddConfigPath("$HOME/.config/jarvis")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("JARVIS")
	v.AutomaticEnv()

	v.BindEnv("server.listen", "JARVIS_LISTEN")
	v.BindEnv("nats.url", "JARVIS_NATS_URL")
	v.BindEnv("nats.token", "JARVIS_NATS_TOKEN")

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
