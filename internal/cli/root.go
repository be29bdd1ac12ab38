// Package cli is the policyrag command line: the HTTP server, the MCP server
// and one-shot ingestion and retrieval commands.
package cli

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"policyrag/internal/app"
	"policyrag/internal/config"
	"policyrag/internal/logger"
)

var cfg *config.Config

// buildApp wires the application against real infrastructure. Tests swap it.
var buildApp = func(ctx context.Context, cfg *config.Config) (*app.App, func(), error) {
	deps, err := app.Bootstrap(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	a, err := app.New(cfg, deps)
	if err != nil {
		deps.Close()
		return nil, nil, err
	}
	return a, deps.Close, nil
}

var rootCmd = &cobra.Command{
	Use:   "policyrag",
	Short: "Policy document ingestion and retrieval",
	Long: `policyrag ingests insurance policy documents per state, indexes them for
semantic search and answers questions with cited passages.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		if cfg != nil {
			return nil
		}
		loaded, err := config.Load()
		if err != nil {
			return err
		}
		cfg = loaded

		// stdout belongs to command output (and the MCP stdio transport);
		// only the server logs there
		var w io.Writer = os.Stderr
		if cmd == serveCmd {
			w = os.Stdout
		}
		slog.SetDefault(logger.New(w, cfg.LogLevel))
		return nil
	},
}

func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

// withApp builds the application, runs fn and drains the queue afterwards.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) error {
	ctx := cmd.Context()
	a, cleanup, err := buildApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()
	defer func() {
		if err := a.Close(context.WithoutCancel(ctx)); err != nil {
			slog.Warn("failed to close application", "error", err)
		}
	}()
	return fn(ctx, a)
}
