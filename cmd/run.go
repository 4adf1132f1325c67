package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	statusadapter "github.com/bnema/redpost/internal/adapters/render/status"
)

func newRunCmd(app *app) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the publish engine until interrupted",
		Long:  "run syncs tasks from the record store on an interval, dispatches due tasks per account, and writes outcomes back. The first SIGINT or SIGTERM stops at the next task boundary; a second one aborts in-flight work.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			orch, store := app.buildEngine()

			signals := make(chan os.Signal, 2)
			signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
			defer signal.Stop(signals)
			go func() {
				select {
				case <-signals:
					orch.Stop()
				case <-ctx.Done():
					return
				}
				select {
				case <-signals:
					cancel()
				case <-ctx.Done():
				}
			}()

			app.logger.Info("engine starting")
			if err := orch.Run(ctx); err != nil {
				return fmt.Errorf("run engine: %w", err)
			}

			view, err := app.statusRenderer(store.List(), orch.Stats(), statusadapter.RenderOptions{Now: app.now()})
			if err != nil {
				return fmt.Errorf("render final status: %w", err)
			}
			_, err = fmt.Fprint(cmd.OutOrStdout(), view)
			return err
		},
	}
}
