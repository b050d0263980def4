package secrets

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"filippo.io/age"
	"github.com/spf13/viper"
)

const (
	// DefaultKeyFilename is the identity file looked up in ~/.config/jarvis.
	DefaultKeyFilename = "age.key"

	// EnvAgeKey holds a raw AGE-SECRET-KEY-1... string.
	EnvAgeKey = "JARVIS_AGE_KEY"

	// EnvAgeKeyFile holds a path to an age identity file.
	EnvAgeKeyFile = "JARVIS_AGE_KEY_FILE"
)

// GenerateKeyPair creates a new X25519 identity.
func GenerateKeyPair() (*age.X25519Identity, error) {
	return age.GenerateX25519Identity()
}

// LoadIdentity reads identities from an age key file.
func LoadIdentity(keyPath string) ([]age.Identity, error) {
	f, err := os.Open(keyPath)
	if err != nil {
		return nil, fmt.Errorf("open identity file: %w", err)
	}
	defer f.Close()
	identities, err := age.ParseIdentities(f)
	if err != nil {
		return nil, fmt.Errorf("parse identity file: %w", err)
	}
	return identities, nil
}

// IdentityFromString parses a raw AGE-SECRET-KEY-1... string.
func IdentityFromString(key string) (*age.X25519Identity, error) {
	return age.ParseX25519Identity(strings.TrimSpace(key))
}

// DefaultKeyPath returns ~/.config/jarvis/age.key, or "" without a home dir.
func DefaultKeyPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "jarvis", DefaultKeyFilename)
}

// ResolveIdentity finds an age identity, first match wins:
// JARVIS_AGE_KEY, JARVIS_AGE_KEY_FILE, the secrets.identity config key, then
// the default key file. It returns (nil, nil) when none is configured.
func ResolveIdentity(v *viper.Viper) ([]age.Identity, error) {
	if raw := os.Getenv(EnvAgeKey); raw != "" {
		id, err := IdentityFromString(raw)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", EnvAgeKey, err)
		}
		return []age.Identity{id}, nil
	}
	if path := os.Getenv(EnvAgeKeyFile); path != "" {
		return LoadIdentity(path)
	}
	if path := v.GetString("secrets.identity"); path != "" {
		return LoadIdentity(expandHome(path))
	}

	path := DefaultKeyPath()
	if path == "" {
		return nil, nil
	}
	if _, err := os.Stat(path); err != nil {
		return nil, nil
	}
	return LoadIdentity(path)
}

func expandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
