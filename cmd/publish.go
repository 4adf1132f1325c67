package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/bnema/redpost/internal/adapters/browser/farm"
	"github.com/bnema/redpost/internal/adapters/browser/local"
	"github.com/bnema/redpost/internal/application"
	"github.com/bnema/redpost/internal/domain"
	"github.com/bnema/redpost/internal/ports"
)

func newPublishCmd(app *app) *cobra.Command {
	var recordID string

	cmd := &cobra.Command{
		Use:   "publish --record <id>",
		Short: "Publish a single pending record immediately",
		Long:  "publish fetches the pending tasks, runs the publish protocol for the one record given, and writes the outcome back. Schedule times are ignored.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			tasks, err := app.records.FetchPending(ctx)
			if err != nil {
				return fmt.Errorf("fetch pending tasks: %w", err)
			}

			var task domain.Task
			found := false
			for _, t := range tasks {
				if t.ID == recordID {
					task = t
					found = true
					break
				}
			}
			if !found {
				return fmt.Errorf("record %s not found among pending tasks", recordID)
			}

			account, err := app.registry.GetByKey(ctx, task.Account)
			if err != nil {
				return fmt.Errorf("look up account %s: %w", task.Account, err)
			}

			openers := map[domain.BackendKind]ports.SessionOpener{
				domain.BackendFarm: farm.NewOpener(farm.Config{APIURL: app.cfg.Farm.APIURL}, app.httpClient, app.connector, app.logger),
				domain.BackendLocal: local.NewOpener(local.Config{
					ProfileDir: app.cfg.Local.ProfileDir,
					LoginWait:  app.cfg.Local.LoginWait,
				}, app.connector, app.clock, app.logger),
			}
			pool := application.NewSessionPool(openers, app.clock, app.logger)
			defer pool.CloseAll(context.Background())

			resolver := application.NewMediaResolver(afero.NewOsFs(), app.cfg.Media.Dir)
			media, err := resolver.Resolve(task, app.cfg.Media.SourceMode)
			if errors.Is(err, domain.ErrNoAttachments) {
				media, err = resolver.Resolve(task, domain.SourceGeneratedFromText)
			}
			if err != nil {
				return fmt.Errorf("resolve media for record %s: %w", recordID, err)
			}

			session, err := pool.Open(ctx, account)
			if err != nil {
				return fmt.Errorf("open session for account %s: %w", account.Key, err)
			}

			flow := application.NewPublishFlow(app.clock, app.logger, application.DefaultFlowConfig())

			var result domain.AttemptResult
			label := fmt.Sprintf("Publishing %s for account %s...", task.ID, task.Account)
			runErr := runPublishSpinner(ctx, cmd.ErrOrStderr(), label, func(ctx context.Context) error {
				var flowErr error
				result, flowErr = flow.Run(ctx, session, task, media)
				return flowErr
			})

			if runErr != nil || !result.Success {
				if runErr == nil {
					runErr = errors.New("publish attempt failed")
				}
				reason := domain.RedactReason(runErr)
				if result.ErrorReason != "" {
					reason = result.ErrorReason
				}
				if writeErr := app.records.WriteStatus(ctx, task.ID, domain.StatusFailed, ports.ResultDetail{Reason: reason}); writeErr != nil {
					app.logger.Warn("status write-back failed", "task", task.ID, "error", writeErr)
				}
				return fmt.Errorf("publish record %s: %w", recordID, runErr)
			}

			detail := ports.ResultDetail{
				ArtifactRef: result.ArtifactRef,
				PublishedAt: app.now(),
			}
			if result.Confirmation == domain.ConfirmationAmbiguous {
				detail.Reason = "published with low confidence"
			}
			if err := app.records.WriteStatus(ctx, task.ID, domain.StatusPublished, detail); err != nil {
				return fmt.Errorf("write back result for record %s: %w", recordID, err)
			}

			if result.Confirmation == domain.ConfirmationAmbiguous {
				fmt.Fprintf(cmd.OutOrStdout(), "Published %s (confirmation ambiguous)\n", task.ID)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "Published %s\n", task.ID)
			}
			if result.ArtifactRef != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "Result: %s\n", result.ArtifactRef)
			}

			return nil
		},
	}

	cmd.Flags().StringVar(&recordID, "record", "", "Record ID to publish")
	_ = cmd.MarkFlagRequired("record")

	return cmd
}
