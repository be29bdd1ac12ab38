package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"policyrag/features/policy"
	"policyrag/internal/app"
)

var (
	ingestPolicyID string
	ingestState    string
	ingestTitle    string
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [file]",
	Short: "Ingest a policy document and wait for it to finish",
	Long: `Queues a document for extraction, chunking, embedding and fact extraction,
then waits for the job to complete. Either pass --policy for an existing
policy record or --state and --title to create one. Pass "-" to read the
document from stdin.

Examples:
  policyrag ingest manual.pdf --state Ohio --title "Provider Manual"
  policyrag ingest manual.pdf --policy 3f1c...
  pdftotext manual.pdf - | policyrag ingest - --policy 3f1c...`,
	Args: cobra.ExactArgs(1),
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().StringVar(&ingestPolicyID, "policy", "", "existing policy id")
	ingestCmd.Flags().StringVar(&ingestState, "state", "", "state name for a new policy")
	ingestCmd.Flags().StringVar(&ingestTitle, "title", "", "title for a new policy")
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	if ingestPolicyID == "" && (ingestState == "" || ingestTitle == "") {
		return errors.New("either --policy or both --state and --title are required")
	}

	return withApp(cmd, func(ctx context.Context, a *app.App) error {
		id := ingestPolicyID
		if id == "" {
			p, err := a.Policies.Create(ctx, ingestState, ingestTitle)
			if err != nil {
				return fmt.Errorf("create policy: %w", err)
			}
			id = p.ID
			cmd.Printf("Created policy %s\n", id)
		}

		if err := enqueueDocument(ctx, cmd, a, id, args[0]); err != nil {
			return fmt.Errorf("ingest: %w", err)
		}
		if err := a.Queue.Wait(ctx); err != nil {
			return err
		}

		p, err := a.Policies.Get(ctx, id)
		if err != nil {
			return err
		}
		cmd.Printf("Policy %s: %s\n", id, p.Status)
		if p.Status != policy.StatusCompleted {
			return fmt.Errorf("ingestion of %s did not complete", args[0])
		}
		return nil
	})
}

func enqueueDocument(ctx context.Context, cmd *cobra.Command, a *app.App, policyID, source string) error {
	if source != "-" {
		return a.Policies.Ingest(ctx, policyID, source)
	}
	data, err := io.ReadAll(cmd.InOrStdin())
	if err != nil {
		return fmt.Errorf("read stdin: %w", err)
	}
	return a.Policies.IngestData(ctx, policyID, data)
}
