package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"policyrag/internal/app"
)

var (
	factsExtract bool
	factsJSON    bool
)

var factsCmd = &cobra.Command{
	Use:   "facts [policy-id]",
	Short: "List or re-extract structured facts for a policy",
	Args:  cobra.ExactArgs(1),
	RunE:  runFacts,
}

func init() {
	factsCmd.Flags().BoolVar(&factsExtract, "extract", false, "run fact extraction before listing")
	factsCmd.Flags().BoolVar(&factsJSON, "json", false, "output facts as JSON")
	rootCmd.AddCommand(factsCmd)
}

func runFacts(cmd *cobra.Command, args []string) error {
	id := args[0]
	return withApp(cmd, func(ctx context.Context, a *app.App) error {
		if factsExtract {
			n, err := a.Policies.ExtractFacts(ctx, id)
			if err != nil {
				return fmt.Errorf("extract facts: %w", err)
			}
			cmd.Printf("Extracted %d facts\n", n)
		}

		facts, err := a.Policies.ListFacts(ctx, id)
		if err != nil {
			return err
		}
		if factsJSON {
			return printJSON(cmd, facts)
		}
		if len(facts) == 0 {
			cmd.Println("No facts found.")
			return nil
		}
		for _, f := range facts {
			page := "-"
			if f.PageNumber != nil {
				page = fmt.Sprint(*f.PageNumber)
			}
			cmd.Printf("  %-20s %-30s %s (p. %s, %.2f)\n", f.Category, f.Field, f.Value, page, f.Confidence)
		}
		return nil
	})
}
