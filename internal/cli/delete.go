package cli

import (
	"context"

	"github.com/spf13/cobra"

	"policyrag/internal/app"
)

var deleteCmd = &cobra.Command{
	Use:   "delete [policy-id]",
	Short: "Delete a policy with its chunks, facts and vectors",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			if err := a.Policies.DeletePolicy(ctx, args[0]); err != nil {
				return err
			}
			cmd.Printf("Deleted policy %s\n", args[0])
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(deleteCmd)
}
