package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"filippo.io/age"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jarvis-automation/jarvis/internal/secrets"
)

func newSecretsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "secrets",
		Short: "Manage ENC[...] values in jarvisd, node and MCP config files",
	}

	cmd.AddCommand(newSecretsKeygenCmd())
	cmd.AddCommand(newSecretsEncryptCmd())
	cmd.AddCommand(newSecretsDecryptCmd())
	cmd.AddCommand(newSecretsCheckCmd())

	return cmd
}

// resolveIdentities finds the local age identities or explains how to create one.
func resolveIdentities() ([]age.Identity, error) {
	ids, err := secrets.ResolveIdentity(viper.New())
	if err != nil {
		return nil, fmt.Errorf("resolve identity: %w", err)
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("no age identity found; set %s, %s, or run 'jarvisctl secrets keygen'",
			secrets.EnvAgeKey, secrets.EnvAgeKeyFile)
	}
	return ids, nil
}

func newSecretsKeygenCmd() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate an age keypair for config encryption",
		Long: `Writes a new X25519 identity to the key file and prints its public key,
which 'jarvisctl secrets encrypt --recipient' accepts. Nodes decrypting their
own config need the identity file (or JARVIS_AGE_KEY) on the device.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if output == "" {
				output = secrets.DefaultKeyPath()
			}
			if output == "" {
				return errors.New("no home directory; pass --output")
			}
			if _, err := os.Stat(output); err == nil {
				return fmt.Errorf("key file already exists: %s (remove it first to regenerate)", output)
			}

			identity, err := secrets.GenerateKeyPair()
			if err != nil {
				return fmt.Errorf("generate keypair: %w", err)
			}
			if err := os.MkdirAll(filepath.Dir(output), 0o700); err != nil {
				return fmt.Errorf("create directory: %w", err)
			}
			content := fmt.Sprintf("# created: %s\n# public key: %s\n%s\n",
				time.Now().Format(time.RFC3339), identity.Recipient(), identity)
			if err := os.WriteFile(output, []byte(content), 0o600); err != nil {
				return fmt.Errorf("write key file: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Key file written to: %s\n", output)
			fmt.Fprintf(out, "Public key: %s\n", identity.Recipient())
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "output path (default: ~/.config/jarvis/age.key)")
	return cmd
}

func newSecretsEncryptCmd() *cobra.Command {
	var recipientKey string

	cmd := &cobra.Command{
		Use:   "encrypt <value>",
		Short: "Encrypt a value for use in a TOML config file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var recipient age.Recipient
			if recipientKey != "" {
				r, err := age.ParseX25519Recipient(recipientKey)
				if err != nil {
					return fmt.Errorf("parse recipient: %w", err)
				}
				recipient = r
			} else {
				ids, err := resolveIdentities()
				if err != nil {
					return err
				}
				x25519, ok := ids[0].(*age.X25519Identity)
				if !ok {
					return errors.New("local identity is not X25519; pass --recipient")
				}
				recipient = x25519.Recipient()
			}

			encrypted, err := secrets.Encrypt(args[0], recipient)
			if err != nil {
				return fmt.Errorf("encrypt: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), encrypted)
			return nil
		},
	}

	cmd.Flags().StringVar(&recipientKey, "recipient", "", "age public key (default: the local identity's)")
	return cmd
}

func newSecretsDecryptCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "decrypt <encrypted-value>",
		Short: "Decrypt an ENC[...] value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := resolveIdentities()
			if err != nil {
				return err
			}
			plaintext, err := secrets.Decrypt(args[0], ids...)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), plaintext)
			return nil
		},
	}
}

func newSecretsCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check <config-file>",
		Short: "List encrypted keys in a config file and verify they decrypt",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v := viper.New()
			v.SetConfigFile(args[0])
			if err := v.ReadInConfig(); err != nil {
				return fmt.Errorf("read config: %w", err)
			}

			out := cmd.OutOrStdout()
			keys := secrets.EncryptedKeys(v)
			if len(keys) == 0 {
				fmt.Fprintln(out, "No encrypted values.")
				return nil
			}
			for _, k := range keys {
				fmt.Fprintln(out, k)
			}

			if err := secrets.Apply(v); err != nil {
				return fmt.Errorf("decrypt: %w", err)
			}
			fmt.Fprintf(out, "%d value(s) decrypt with the local identity.\n", len(keys))
			return nil
		},
	}
}
