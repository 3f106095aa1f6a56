package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

// runsCmd represents the runs command
var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recent screening runs",
	Long: `Lists recent screening runs from the run history database.
Requires DATABASE_URL.

Example:
  go run ./cmd/screener runs
  go run ./cmd/screener runs --limit 5`,
	RunE: runRuns,
}

var runsLimit int

func init() {
	rootCmd.AddCommand(runsCmd)

	runsCmd.Flags().IntVar(&runsLimit, "limit", 20, "max runs to list")
}

func runRuns(cmd *cobra.Command, args []string) error {
	a, cleanup, err := buildApp(cmd.Context())
	if err != nil {
		return err
	}
	defer cleanup()

	if a.repo == nil {
		return fmt.Errorf("run history requires DATABASE_URL")
	}

	runs, err := a.repo.RecentRuns(cmd.Context(), runsLimit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("No runs recorded yet.")
		return nil
	}

	fmt.Println("=== Screening Runs ===")
	for _, run := range runs {
		fmt.Printf("  #%-5d %s  %-6s %-7s threshold %.1f  %d/%d passed\n",
			run.ID,
			run.StartedAt.Format("2006-01-02 15:04"),
			run.Variant, run.Period, run.Threshold,
			run.ResultCount, run.UniverseSize)
	}
	return nil
}
