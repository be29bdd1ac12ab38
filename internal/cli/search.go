package cli

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"policyrag/internal/app"
	"policyrag/internal/retrieval"
)

var (
	searchLimit  int
	searchStates []string
	searchJSON   bool
)

var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Search indexed policy documents",
	Long: `Performs semantic search across all ingested policy documents and prints
the passages scoring at or above the similarity threshold.`,
	Args: cobra.ExactArgs(1),
	RunE: runSearch,
}

func init() {
	searchCmd.Flags().IntVarP(&searchLimit, "limit", "n", 0, "maximum number of results (0 = configured default)")
	searchCmd.Flags().StringSliceVarP(&searchStates, "state", "s", nil, "restrict results to these states")
	searchCmd.Flags().BoolVar(&searchJSON, "json", false, "output results as JSON")
	rootCmd.AddCommand(searchCmd)
}

func runSearch(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, a *app.App) error {
		results, err := a.Retrieval.Search(ctx, args[0], searchStates, searchLimit)
		if err != nil {
			return fmt.Errorf("search failed: %w", err)
		}
		if searchJSON {
			return printJSON(cmd, results)
		}
		printResults(cmd, results)
		return nil
	})
}

func printResults(cmd *cobra.Command, results []retrieval.SearchResult) {
	if len(results) == 0 {
		cmd.Println("No results found.")
		return
	}
	for i, r := range results {
		cmd.Printf("  [%d] %s / %s, page %d (%.2f)\n", i+1, r.StateName, r.PolicyTitle, r.PageNumber, r.Similarity)
		cmd.Printf("      %s\n\n", retrieval.Excerpt(r.Content, 200))
	}
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal output: %w", err)
	}
	cmd.Println(string(data))
	return nil
}
