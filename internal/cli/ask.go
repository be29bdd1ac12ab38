package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"policyrag/internal/app"
)

var (
	askStates []string
	askJSON   bool
)

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Answer a question from the policy documents",
	Long: `Retrieves the most relevant passages and asks the configured model to
answer from them only. Sources are listed under the answer as [n].`,
	Args: cobra.ExactArgs(1),
	RunE: runAsk,
}

func init() {
	askCmd.Flags().StringSliceVarP(&askStates, "state", "s", nil, "restrict the answer to these states")
	askCmd.Flags().BoolVar(&askJSON, "json", false, "output the response as JSON")
	rootCmd.AddCommand(askCmd)
}

func runAsk(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, a *app.App) error {
		resp, err := a.Retrieval.RAGQuery(ctx, args[0], askStates, nil)
		if err != nil {
			return fmt.Errorf("ask failed: %w", err)
		}
		if askJSON {
			return printJSON(cmd, resp)
		}

		cmd.Println(resp.Answer)
		cmd.Printf("\nConfidence: %.2f\n", resp.Confidence)
		if len(resp.Citations) > 0 {
			cmd.Println("\nSources:")
			for _, c := range resp.Citations {
				cmd.Printf("  [%d] %s / %s, page %d\n", c.Number, c.StateName, c.PolicyTitle, c.PageNumber)
			}
		}
		for _, q := range resp.SuggestedQueries {
			cmd.Printf("  try: %s\n", q)
		}
		return nil
	})
}
