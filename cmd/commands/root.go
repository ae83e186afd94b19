package commands

// Root command for Cobra CLI
// Registers the pipeline subcommands and the shared configuration flags

import (
	"github.com/spf13/cobra"

	"holders-snapshot/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "holders-snapshot",
	Short: "ERC-20 holder snapshot and Snapshot voting power export",
	Long: `holders-snapshot replays ERC-20 Transfer logs over a block range into a balance ledger,
exports the positive-balance holders, and fetches each holder's voting power for a Snapshot proposal.`,
	Version:       "1.0.0",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	config.RegisterFlags(rootCmd.PersistentFlags())

	rootCmd.AddCommand(snapshotCmd)
	rootCmd.AddCommand(holdersCmd)
	rootCmd.AddCommand(votesCmd)
	rootCmd.AddCommand(rescanCmd)
}
