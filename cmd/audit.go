package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func newAuditCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "audit <project-id>",
		Short: "Audit one project now",
		Long: `Runs a full audit cycle for the project, outside plan quotas, and prints
the stored result as JSON.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = app.Close(cmd.Context()) }()

			audit, err := app.Audit(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("audit failed: %w", err)
			}
			audit.LighthouseRaw = nil
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(audit)
		},
	}
}
