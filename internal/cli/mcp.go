package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"policyrag/internal/app"
)

var mcpPort int

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start the MCP server",
	Long: `Start the Model Context Protocol server exposing search_policies,
ask_policies and list_policies to AI assistants.

By default the server talks over stdio. Use --port to serve streamable HTTP
at /mcp instead.

Examples:
  # Stdio mode (for desktop assistants)
  policyrag mcp

  # HTTP mode (for MCP Inspector, remote access)
  policyrag mcp --port 8090`,
	Args: cobra.NoArgs,
	RunE: runMCP,
}

func init() {
	mcpCmd.Flags().IntVarP(&mcpPort, "port", "p", 0, "HTTP port (0 = use stdio)")
	rootCmd.AddCommand(mcpCmd)
}

func runMCP(cmd *cobra.Command, _ []string) error {
	return withApp(cmd, func(ctx context.Context, a *app.App) error {
		if mcpPort <= 0 {
			return a.MCP.Run(ctx)
		}

		mux := http.NewServeMux()
		mux.Handle("/mcp", a.MCP.Handler())
		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", mcpPort),
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()

		fmt.Fprintf(cmd.ErrOrStderr(), "MCP server listening on http://localhost:%d/mcp\n", mcpPort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
}
