package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newWindowsCmd(app *app) *cobra.Command {
	return &cobra.Command{
		Use:   "windows",
		Short: "List browser windows managed by the farm",
		RunE: func(cmd *cobra.Command, _ []string) error {
			windows, err := app.farmOpener().ListWindows(cmd.Context())
			if err != nil {
				return fmt.Errorf("list farm windows: %w", err)
			}

			if len(windows) == 0 {
				_, err := fmt.Fprintln(cmd.OutOrStdout(), "No windows registered with the farm.")
				return err
			}

			for _, w := range windows {
				line := fmt.Sprintf("%s  seq=%d  %s", w.ID, w.Seq, w.Name)
				if w.Remark != "" {
					line += "  (" + w.Remark + ")"
				}
				if _, err := fmt.Fprintln(cmd.OutOrStdout(), line); err != nil {
					return err
				}
			}

			return nil
		},
	}
}
