// Package secrets handles age-encrypted config values.
//
// A value written as ENC[<base64 age ciphertext>] in any jarvis TOML file is
// decrypted at load time, so relay NATS tokens and node command secrets can
// live in version-controlled configs.
package secrets

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"filippo.io/age"
	"github.com/spf13/viper"
)

const (
	encPrefix = "ENC["
	encSuffix = "]"
)

// ErrNoIdentity is returned by Apply when a config holds encrypted values
// but no age identity could be found.
var ErrNoIdentity = errors.New("config contains encrypted values but no age identity is configured; set " +
	EnvAgeKey + ", " + EnvAgeKeyFile + " or secrets.identity")

// IsEncrypted reports whether value is a non-empty ENC[...] wrapper.
func IsEncrypted(value string) bool {
	return len(value) > len(encPrefix)+len(encSuffix) &&
		strings.HasPrefix(value, encPrefix) &&
		strings.HasSuffix(value, encSuffix)
}

// Encrypt seals plaintext for recipients and wraps it as ENC[...].
func Encrypt(plaintext string, recipients ...age.Recipient) (string, error) {
	var buf bytes.Buffer
	w, err := age.Encrypt(&buf, recipients...)
	if err != nil {
		return "", fmt.Errorf("create age encryptor: %w", err)
	}
	if _, err := io.WriteString(w, plaintext); err != nil {
		return "", fmt.Errorf("write plaintext: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("finalize encryption: %w", err)
	}
	return encPrefix + base64.StdEncoding.EncodeToString(buf.Bytes()) + encSuffix, nil
}

// Decrypt opens an ENC[...] value with any of identities.
func Decrypt(enc string, identities ...age.Identity) (string, error) {
	if !IsEncrypted(enc) {
		return "", errors.New("value is not encrypted (missing ENC[...] wrapper)")
	}
	ciphertext, err := base64.StdEncoding.DecodeString(enc[len(encPrefix) : len(enc)-len(encSuffix)])
	if err != nil {
		return "", fmt.Errorf("decode base64: %w", err)
	}
	r, err := age.Decrypt(bytes.NewReader(ciphertext), identities...)
	if err != nil {
		return "", fmt.Errorf("age decrypt: %w", err)
	}
	plaintext, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("read decrypted data: %w", err)
	}
	return string(plaintext), nil
}

// EncryptedKeys lists the config keys whose values are ENC[...].
// Non-string values never match.
func EncryptedKeys(v *viper.Viper) []string {
	var keys []string
	for _, key := range v.AllKeys() {
		if IsEncrypted(v.GetString(key)) {
			keys = append(keys, key)
		}
	}
	return keys
}

// HasEncryptedValues reports whether any config value is ENC[...].
func HasEncryptedValues(v *viper.Viper) bool {
	return len(EncryptedKeys(v)) > 0
}

// DecryptViperConfig replaces every ENC[...] value in v with its plaintext.
func DecryptViperConfig(v *viper.Viper, identities []age.Identity) error {
	for _, key := range EncryptedKeys(v) {
		plaintext, err := Decrypt(v.GetString(key), identities...)
		if err != nil {
			return fmt.Errorf("decrypt config key %q: %w", key, err)
		}
		v.Set(key, plaintext)
	}
	return nil
}

// Apply decrypts v in place. Configs without encrypted values load without
// an identity; configs with them fail with ErrNoIdentity when none is found.
func Apply(v *viper.Viper) error {
	if !HasEncryptedValues(v) {
		return nil
	}
	identities, err := ResolveIdentity(v)
	if err != nil {
		return fmt.Errorf("resolve encryption identity: %w", err)
	}
	if identities == nil {
		return ErrNoIdentity
	}
	if err := DecryptViperConfig(v, identities); err != nil {
		return fmt.Errorf("decrypt config: %w", err)
	}
	return nil
}
