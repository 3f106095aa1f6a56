package commands

import (
	"github.com/spf13/cobra"
)

var (
	// Global flags
	verbose bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "screener",
	Short: "Rule of 40 stock screener",
	Long: `Rule of 40 stock screener

Builds a symbol universe from index and exchange listings, fetches
fundamentals with durable caching, scores every company against the
Rule of 40 and reports the survivors.

Usage:
  go run ./cmd/screener [command]

Examples:
  go run ./cmd/screener screen
  go run ./cmd/screener screen --sources sp500 --threshold 40
  go run ./cmd/screener api
  go run ./cmd/screener cache stats
  go run ./cmd/screener sources`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}
