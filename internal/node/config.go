package node

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"

	"github.com/jarvis-automation/jarvis/internal/secrets"
)

// Config holds all configuration for a node agent.
type Config struct {
	Relay        RelayConfig    `mapstructure:"relay"`
	Node         NodeConfig     `mapstructure:"node"`
	Shell        ShellConfig    `mapstructure:"shell"`
	Ollama       OllamaConfig   `mapstructure:"ollama"`
	Lua          LuaConfig      `mapstructure:"lua"`
	Security     SecurityConfig `mapstructure:"security"`
	Capabilities map[string]any `mapstructure:"capabilities"` // declared extras, merged after probing

	// File is the config file that was read, if any. Watched for changes.
	File string `mapstructure:"-"`
}

// RelayConfig locates the relay.
type RelayConfig struct {
	URL string `mapstructure:"url"`
}

// NodeConfig holds the node's identity and connection loop settings.
type NodeConfig struct {
	Name              string        `mapstructure:"name"`
	ReconnectInterval time.Duration `mapstructure:"reconnect_interval"`
	WatchConfig       bool          `mapstructure:"watch_config"`
}

// ShellConfig holds shell action settings.
type ShellConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

// OllamaConfig locates the local model runtime.
type OllamaConfig struct {
	URL     string        `mapstructure:"url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// LuaConfig holds lua action settings.
type LuaConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

// SecurityConfig holds application-level security settings.
type SecurityConfig struct {
	CommandSecret string `mapstructure:"command_secret"`
}

// withDefaults fills settings a hand-built Config may leave zero.
func (c Config) withDefaults() Config {
	if c.Node.ReconnectInterval <= 0 {
		c.Node.ReconnectInterval = 5 * time.Second
	}
	if c.Shell.Timeout <= 0 {
		c.Shell.Timeout = 30 * time.Second
	}
	if c.Ollama.Timeout <= 0 {
		c.Ollama.Timeout = 120 * time.Second
	}
	if c.Lua.Timeout <= 0 {
		c.Lua.Timeout = 10 * time.Second
	}
	return c
}

// LoadConfig reads the node configuration from file, env vars, and defaults.
func LoadConfig(cfgFile string) (Config, error) {
	v := viper.New()

	hostname, _ := os.Hostname()
	v.SetDefault("relay.url", "ws://127.0.0.1:8765")
	v.SetDefault("node.name", hostname)
	v.SetDefault("node.reconnect_interval", 5*time.Second)
	v.SetDefault("node.watch_config", true)
	v.SetDefault("shell.timeout", 30*time.Second)
	v.SetDefault("ollama.url", "http://127.0.0.1:11434")
	v.SetDefault("ollama.timeout", 120*time.Second)
	v.SetDefault("lua.timeout", 10*time.Second)

	v.SetConfigType("toml")

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("jarvis-node")
		v.AddConfigPath("/etc/jarvis")
		v.AddConfigPath("$HOME/.config/jarvis")
		v.AddConfigPath(".")
	}

	v.BindEnv("relay.url", "JARVIS_RELAY_URL")
	v.BindEnv("node.name", "JARVIS_NODE_NAME")
	v.BindEnv("ollama.url", "JARVIS_OLLAMA_URL")
	v.BindEnv("security.command_secret", "JARVIS_COMMAND_SECRET")

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
	cfg.File = v.ConfigFileUsed()

	if cfg.Node.Name == "" {
		return cfg, fmt.Errorf("node.name is required (set via config file or JARVIS_NODE_NAME env var)")
	}
	if cfg.Relay.URL == "" {
		return cfg, fmt.Errorf("relay.url is required (set via config file or JARVIS_RELAY_URL env var)")
	}
	return cfg, nil
}
