package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newSecretCmd(app *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "secret",
		Short: "Manage stored credentials",
		Long:  "secret stores credentials through pass when it is available, falling back to a private file tree under the config directory. The bitable app secret lives at " + bitableSecretKey + ".",
	}

	cmd.AddCommand(
		newSecretSetCmd(app),
		newSecretRemoveCmd(app),
	)

	return cmd
}

func newSecretSetCmd(app *app) *cobra.Command {
	var (
		key   string
		value string
	)

	cmd := &cobra.Command{
		Use:   "set",
		Short: "Store a secret value",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := app.secrets.Put(cmd.Context(), key, value); err != nil {
				return fmt.Errorf("store secret %q: %w", key, err)
			}
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "Stored secret %s\n", key)
			return err
		},
	}

	cmd.Flags().StringVar(&key, "key", bitableSecretKey, "Secret key")
	cmd.Flags().StringVar(&value, "value", "", "Secret value")
	_ = cmd.MarkFlagRequired("value")

	return cmd
}

func newSecretRemoveCmd(app *app) *cobra.Command {
	var key string

	cmd := &cobra.Command{
		Use:   "rm",
		Short: "Remove a stored secret",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := app.secrets.Delete(cmd.Context(), key); err != nil {
				return fmt.Errorf("remove secret %q: %w", key, err)
			}
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "Removed secret %s\n", key)
			return err
		},
	}

	cmd.Flags().StringVar(&key, "key", bitableSecretKey, "Secret key")

	return cmd
}
