package commands

// Command to retry the chunks a previous scan skipped
// Replays skipped_chunks.json into ledger.json and rewrites the holder artifacts

import (
	"context"

	"github.com/spf13/cobra"

	"holders-snapshot/internal/config"
	"holders-snapshot/internal/features/pipeline"
)

var rescanCmd = &cobra.Command{
	Use:   "rescan",
	Short: "Rescan the block ranges a previous run skipped",
	Args:  cobra.NoArgs,
	RunE:  runRescan,
}

func runRescan(cmd *cobra.Command, args []string) error {
	return runStage(cmd, args, config.StageRescan, func(ctx context.Context, cfg *config.Config, p *pipeline.Pipeline) error {
		report, err := p.RunRescan(ctx)
		if err != nil {
			return err
		}
		p.Notify(pipeline.BuildSummary("rescan", cfg, report, nil), nil)
		return nil
	})
}
