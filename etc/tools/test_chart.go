package main

import (
	"fmt"
	"os"

	"github.com/shopspring/decimal"

	"holders-snapshot/internal/clients_api/snapshot"
	"holders-snapshot/internal/features/pipeline"
	"holders-snapshot/internal/features/votes"
	"holders-snapshot/internal/infra/fs"
)

// go run etc/tools/test_chart.go [data_dir]
// Renders holders_chart.png from an existing vps_ranked.json, or from sample data.
func main() {
	dir := fs.DefaultDataDir
	if len(os.Args) > 1 {
		dir = os.Args[1]
	}
	store := fs.NewStore(dir)

	table, err := store.LoadVotingPower()
	if err != nil {
		fmt.Printf("No saved voting power (%v), using sample data\n", err)
		table = votes.NewTable()
		for i := 1; i <= 12; i++ {
			addr := fmt.Sprintf("0x%040x", i*7919)
			table.Set(addr, decimal.NewFromInt(int64(1000/i)), votes.Resolved)
		}
		table.Set(fmt.Sprintf("0x%040x", 1), decimal.Zero, votes.Fallback)
	}

	chart, err := pipeline.RenderChart(table, snapshot.Space{ID: "sample.eth"}, "0xsample", 20)
	if err != nil {
		fmt.Printf("Error generating chart: %v\n", err)
		os.Exit(1)
	}
	if err := store.SaveFile(fs.HoldersChartFile, chart); err != nil {
		fmt.Printf("Error saving chart: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Chart generated successfully: %s\n", store.Path(fs.HoldersChartFile))
}
