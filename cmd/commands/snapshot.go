package commands

// Command to run the whole pipeline
// Ledger scan, holder export, then voting power for the proposal

import (
	"context"

	"github.com/spf13/cobra"

	"holders-snapshot/internal/config"
	"holders-snapshot/internal/features/pipeline"
)

var snapshotCmd = &cobra.Command{
	Use:   "snapshot [proposalId] [rpcUrl] [startBlock] [endBlock] [tokenAddress]",
	Short: "Build the holder list and fetch voting power",
	Long: `Scan Transfer logs of the token over [startBlock, endBlock], write addresses.json and
snapshot.csv, then fetch every holder's voting power for the proposal into vps.json.
Arguments may also come from flags, environment variables or config.yaml.`,
	Args: cobra.MaximumNArgs(5),
	RunE: runSnapshot,
}

func runSnapshot(cmd *cobra.Command, args []string) error {
	return runStage(cmd, args, config.StageSnapshot, func(ctx context.Context, cfg *config.Config, p *pipeline.Pipeline) error {
		return p.RunSnapshot(ctx)
	})
}
