package cli

import (
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and ingestion worker",
	Long: `Starts the HTTP API (including the MCP endpoint at /mcp), the ingestion
queue, the NSQ ingest consumer when NSQ is enabled and the inbox watcher
when INBOX_DIR is set. Stops gracefully on SIGINT or SIGTERM.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		a, cleanup, err := buildApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer cleanup()
		return a.Run(ctx)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
