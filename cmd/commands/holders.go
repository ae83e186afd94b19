package commands

// Command to run the ledger stage only
// Writes ledger.json, skipped_chunks.json, addresses.json and snapshot.csv

import (
	"context"

	"github.com/spf13/cobra"

	"holders-snapshot/internal/config"
	"holders-snapshot/internal/features/pipeline"
)

var holdersCmd = &cobra.Command{
	Use:   "holders",
	Short: "Scan transfers and export the holder list",
	Long:  `Replay Transfer logs over the configured block range and export every address with a positive balance.`,
	Args:  cobra.NoArgs,
	RunE:  runHolders,
}

func runHolders(cmd *cobra.Command, args []string) error {
	return runStage(cmd, args, config.StageHolders, func(ctx context.Context, cfg *config.Config, p *pipeline.Pipeline) error {
		report, err := p.RunHolders(ctx)
		if err != nil {
			return err
		}
		p.Notify(pipeline.BuildSummary("holders", cfg, report, nil), nil)
		return nil
	})
}
