package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newDispatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dispatch",
		Short: "Run one scheduler pass",
		Long: `Finds every project whose scheduled audit is due and hands it to the
configured queue, or audits it inline when no queue is configured. Meant to be
invoked by a system cron.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			res, dispatchErr := app.Dispatch(cmd.Context())
			closeErr := app.Close(cmd.Context())
			if dispatchErr != nil {
				return fmt.Errorf("dispatch failed: %w", dispatchErr)
			}
			app.Logger().Info("dispatch finished",
				zap.Int("dispatched", res.Dispatched),
				zap.Int("failed", res.Failed),
			)
			fmt.Fprintf(cmd.OutOrStdout(), "dispatched %d project(s)\n", res.Dispatched)
			return closeErr
		},
	}
}
