package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

//nolint:gochecknoglobals // Cobra boilerplate
var rootCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Crypto market-data aggregation gateway",
	Long: `A gateway that maintains upstream WebSocket connections to multiple
crypto exchanges, normalizes their trade feeds into a canonical schema, and
republishes them on a shared message bus.

Subscriptions are driven at runtime by control commands published to each
venue's control channel; an optional archiver tails the bus and writes every
trade to a date-partitioned JSONL tree on disk.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

//nolint:gochecknoinits // Cobra boilerplate
func init() {
	// Flags can be added here if needed
}
