package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bnema/redpost/internal/domain"
)

func newAccountsCmd(app *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "accounts",
		Short: "Manage publishing accounts",
	}

	cmd.AddCommand(
		newAccountsListCmd(app),
		newAccountsAddCmd(app),
	)

	return cmd
}

func newAccountsListCmd(app *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List configured accounts",
		RunE: func(cmd *cobra.Command, _ []string) error {
			accounts, err := app.registry.List(cmd.Context())
			if err != nil {
				return fmt.Errorf("list accounts: %w", err)
			}

			if len(accounts) == 0 {
				_, err := fmt.Fprintln(cmd.OutOrStdout(), "No accounts configured.")
				return err
			}

			for _, account := range accounts {
				line := fmt.Sprintf("%s\t%s\t%s", account.Key, account.Name, account.Backend)
				if account.WindowID != "" {
					line += "\twindow=" + account.WindowID
				}
				if _, err := fmt.Fprintln(cmd.OutOrStdout(), line); err != nil {
					return err
				}
			}

			return nil
		},
	}
}

func newAccountsAddCmd(app *app) *cobra.Command {
	var (
		key      string
		name     string
		backend  string
		windowID string
		tableID  string
		group    string
	)

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add or replace an account",
		RunE: func(cmd *cobra.Command, _ []string) error {
			account := domain.Account{
				Key:       domain.AccountKey(key),
				Name:      name,
				Backend:   domain.BackendKind(backend),
				WindowID:  windowID,
				TableID:   tableID,
				GroupName: group,
			}

			if err := app.registry.Save(cmd.Context(), account); err != nil {
				return fmt.Errorf("save account %s: %w", key, err)
			}

			_, err := fmt.Fprintf(cmd.OutOrStdout(), "Saved account %s\n", key)
			return err
		},
	}

	cmd.Flags().StringVar(&key, "key", "", "Account key, unique across the registry")
	cmd.Flags().StringVar(&name, "name", "", "Display name")
	cmd.Flags().StringVar(&backend, "backend", string(domain.BackendLocal), "Session backend: farm or local")
	cmd.Flags().StringVar(&windowID, "window-id", "", "Farm window ID, required for the farm backend")
	cmd.Flags().StringVar(&tableID, "table", "", "Record table this account publishes from")
	cmd.Flags().StringVar(&group, "group", "", "Optional account group")
	_ = cmd.MarkFlagRequired("key")

	return cmd
}
