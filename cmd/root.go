package cmd

import "github.com/spf13/cobra"

func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "redpost",
		Short:         "redpost: publish orchestration engine for multi-account content posting",
		Long:          "redpost syncs publish tasks from a record store, schedules them per account, and drives browser sessions through the publish protocol with retries and status write-back.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	app, err := wireApp()
	if err != nil {
		rootCmd.RunE = func(_ *cobra.Command, _ []string) error {
			return err
		}
		return rootCmd
	}

	rootCmd.AddCommand(
		newVersionCmd(),
		newAccountsCmd(app),
		newSecretCmd(app),
		newRunCmd(app),
		newPublishCmd(app),
		newTasksCmd(app),
		newWindowsCmd(app),
	)

	return rootCmd
}
