package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// sourcesCmd represents the sources command
var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "List symbol sources and their availability",
	Long: `Lists the registered symbol sources and probes each one.

Example:
  go run ./cmd/screener sources`,
	RunE: runSources,
}

func init() {
	rootCmd.AddCommand(sourcesCmd)
}

func runSources(cmd *cobra.Command, args []string) error {
	a, cleanup, err := buildApp(cmd.Context())
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
	defer cancel()

	fmt.Println("=== Symbol Sources ===")
	for _, id := range a.registry.IDs() {
		src, _ := a.registry.Get(id)
		status := "unavailable"
		if src.IsAvailable(ctx) {
			status = "available"
		}
		fmt.Printf("  %-8s %-24s %s\n", id, src.Name(), status)
	}
	return nil
}
