package main

// Main entry point of the application
// Executes Cobra commands and turns any error into exit status 1

import (
	"fmt"
	"os"

	"holders-snapshot/cmd/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
