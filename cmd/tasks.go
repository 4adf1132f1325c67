package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	statusadapter "github.com/bnema/redpost/internal/adapters/render/status"
	"github.com/bnema/redpost/internal/application"
)

func newTasksCmd(app *app) *cobra.Command {
	return &cobra.Command{
		Use:   "tasks",
		Short: "Show pending publish tasks grouped by account",
		RunE: func(cmd *cobra.Command, _ []string) error {
			tasks, err := app.records.FetchPending(cmd.Context())
			if err != nil {
				return fmt.Errorf("fetch pending tasks: %w", err)
			}

			view, err := app.statusRenderer(tasks, application.BatchStats{}, statusadapter.RenderOptions{Now: app.now()})
			if err != nil {
				return fmt.Errorf("render task list: %w", err)
			}

			_, err = fmt.Fprint(cmd.OutOrStdout(), view)
			return err
		},
	}
}
