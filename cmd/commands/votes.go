package commands

// Command to run the voting power stage only
// Reads a previously written addresses.json

import (
	"context"

	"github.com/spf13/cobra"

	"holders-snapshot/internal/config"
	"holders-snapshot/internal/features/pipeline"
)

var votesCmd = &cobra.Command{
	Use:   "votes",
	Short: "Fetch voting power for a saved holder list",
	Long:  `Resolve the proposal's space and fetch the voting power of every address in addresses.json.`,
	Args:  cobra.NoArgs,
	RunE:  runVotes,
}

func runVotes(cmd *cobra.Command, args []string) error {
	return runStage(cmd, args, config.StageVotes, func(ctx context.Context, cfg *config.Config, p *pipeline.Pipeline) error {
		report, err := p.RunVotes(ctx)
		if err != nil {
			return err
		}
		p.Notify(pipeline.BuildSummary("votes", cfg, nil, report), report.Chart)
		return nil
	})
}
