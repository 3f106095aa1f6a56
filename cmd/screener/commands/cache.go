package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

// cacheCmd represents the cache command
var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and maintain the financial data cache",
	Long: `Inspects and maintains the durable financial data cache.

Example:
  go run ./cmd/screener cache stats
  go run ./cmd/screener cache cleanup
  go run ./cmd/screener cache clear`,
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show cache statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, cleanup, err := buildApp(cmd.Context())
		if err != nil {
			return err
		}
		defer cleanup()

		stats, err := a.store.Stats()
		if err != nil {
			return err
		}

		fmt.Println("=== Cache Statistics ===")
		fmt.Printf("Entries : %d total, %d valid, %d expired\n",
			stats.TotalEntries, stats.ValidEntries, stats.ExpiredEntries)
		fmt.Printf("Size    : %.2f MB\n", float64(stats.SizeBytes)/(1<<20))
		fmt.Printf("Path    : %s\n", a.cfg.Cache.Path)
		return nil
	},
}

var cacheCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove expired cache entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, cleanup, err := buildApp(cmd.Context())
		if err != nil {
			return err
		}
		defer cleanup()

		removed, err := a.store.Cleanup()
		if err != nil {
			return err
		}
		fmt.Printf("Removed %d expired entries\n", removed)
		return nil
	},
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove all cache entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, cleanup, err := buildApp(cmd.Context())
		if err != nil {
			return err
		}
		defer cleanup()

		removed, err := a.store.Clear()
		if err != nil {
			return err
		}
		fmt.Printf("Removed %d entries\n", removed)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(cacheCmd)
	cacheCmd.AddCommand(cacheStatsCmd)
	cacheCmd.AddCommand(cacheCleanupCmd)
	cacheCmd.AddCommand(cacheClearCmd)
}
