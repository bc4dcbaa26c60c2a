package cli

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"slackmind/internal/app"
	"slackmind/internal/config"
	"slackmind/internal/security"
)

var secretFields = []string{
	security.FieldBotToken,
	security.FieldSigningSecret,
	security.FieldTelegramToken,
	security.FieldAPIKey,
}

func newSecretCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "secret",
		Short: "Manage secrets kept out of the config file",
		Long: `Secrets are stored in the OS keyring, or in an encrypted vault under the
data directory when SLACKMIND_MASTER_PASSWORD is set. Reference them from the
config file with the value "[keyring]".`,
	}
	cmd.AddCommand(newSecretSetCmd(), newSecretDeleteCmd())
	return cmd
}

func newSecretSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <app_id> <field> [value]",
		Short: "Store a secret; the value is read from stdin when omitted",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkField(args[1]); err != nil {
				return err
			}
			value := ""
			if len(args) == 3 {
				value = args[2]
			} else {
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && line == "" {
					return fmt.Errorf("read secret: %w", err)
				}
				value = strings.TrimSpace(line)
			}
			if value == "" {
				return fmt.Errorf("empty secret")
			}

			ks, err := keyStore(cmd)
			if err != nil {
				return err
			}
			if err := ks.Set(security.SecretName(args[0], args[1]), value); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Stored %s for %s. Set it to %q in the config file.\n", args[1], args[0], config.KeyringPlaceholder)
			return nil
		},
	}
}

func newSecretDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <app_id> <field>",
		Short: "Remove a stored secret",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkField(args[1]); err != nil {
				return err
			}
			ks, err := keyStore(cmd)
			if err != nil {
				return err
			}
			if err := ks.Delete(security.SecretName(args[0], args[1])); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s for %s.\n", args[1], args[0])
			return nil
		},
	}
}

func checkField(field string) error {
	for _, f := range secretFields {
		if f == field {
			return nil
		}
	}
	return fmt.Errorf("unknown field %q (want one of %s)", field, strings.Join(secretFields, ", "))
}

func keyStore(cmd *cobra.Command) (*security.KeyStore, error) {
	path, _ := cmd.Flags().GetString("config")
	// LoadOrEnv always returns a config; only the data dir is needed here.
	cfg, _ := config.NewLoader(path).LoadOrEnv()
	return app.OpenKeyStore(cfg)
}
