package commands

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ymzkio/rule40-screener/internal/domain"
	"github.com/ymzkio/rule40-screener/internal/export"
	"github.com/ymzkio/rule40-screener/internal/screening"
)

// screenCmd represents the screen command
var screenCmd = &cobra.Command{
	Use:   "screen",
	Short: "Run a screening pass",
	Long: `Runs the full screening pipeline: universe, fundamentals, Rule of 40
scores, filters and sorting.

Example:
  go run ./cmd/screener screen
  go run ./cmd/screener screen --sources sp500,nasdaq --threshold 40
  go run ./cmd/screener screen --csv universe.csv --variant ebitda
  go run ./cmd/screener screen --export csv --output results.csv`,
	RunE: runScreen,
}

var (
	// Screen flags
	screenSources      []string
	screenCSVPath      string
	screenExclude      []string
	screenVariant      string
	screenPeriod       string
	screenThreshold    float64
	screenWorkers      int
	screenForce        bool
	screenMinSize      float64
	screenPositiveOnly bool
	screenSortField    string
	screenSortAsc      bool
	screenExport       string
	screenOutput       string
	screenLimit        int
)

func init() {
	rootCmd.AddCommand(screenCmd)

	screenCmd.Flags().StringSliceVar(&screenSources, "sources", nil, "symbol sources (sp500, sp400, nasdaq, other, jpx)")
	screenCmd.Flags().StringVar(&screenCSVPath, "csv", "", "CSV file with additional symbols")
	screenCmd.Flags().StringSliceVar(&screenExclude, "exclude", nil, "symbols to exclude")
	screenCmd.Flags().StringVar(&screenVariant, "variant", "", "score variant (op, ebitda, both)")
	screenCmd.Flags().StringVar(&screenPeriod, "period", "", "calculation period (annual, ttm)")
	screenCmd.Flags().Float64Var(&screenThreshold, "threshold", -1, "Rule of 40 threshold")
	screenCmd.Flags().IntVar(&screenWorkers, "workers", 0, "max fetch workers")
	screenCmd.Flags().BoolVar(&screenForce, "force-refresh", false, "bypass the cache")
	screenCmd.Flags().Float64Var(&screenMinSize, "min-size", -1, "minimum market cap")
	screenCmd.Flags().BoolVar(&screenPositiveOnly, "positive-only", false, "keep only companies with a positive margin")
	screenCmd.Flags().StringVar(&screenSortField, "sort", "", "sort field (r40_op, r40_ebitda, market_cap, symbol, ...)")
	screenCmd.Flags().BoolVar(&screenSortAsc, "asc", false, "sort ascending")
	screenCmd.Flags().StringVar(&screenExport, "export", "", "export format (csv, json)")
	screenCmd.Flags().StringVar(&screenOutput, "output", "", "export file path")
	screenCmd.Flags().IntVar(&screenLimit, "limit", 30, "max rows to print (0 = all)")
}

func runScreen(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, cleanup, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	cfg := screeningDefaults(a.cfg)
	applyScreenFlags(&cfg)

	fmt.Println("=== Rule of 40 Screener ===")
	fmt.Printf("Sources : %v\n", cfg.Sources)
	fmt.Printf("Variant : %s, Period: %s, Threshold: %.1f\n\n", cfg.Variant, cfg.Period, cfg.Threshold)

	started := time.Now()
	universeSize := 0
	onProgress := func(p screening.Progress) {
		if p.Stage == "fetch" && p.Symbol != "" && p.Total > universeSize {
			universeSize = p.Total
		}
		printProgress(p)
	}
	results, err := a.service.Screen(ctx, cfg, onProgress, nil)
	if err != nil {
		return fmt.Errorf("screening failed: %w", err)
	}

	fmt.Println()
	printResults(results, cfg.Variant, screenLimit)
	fmt.Printf("\n%d companies passed in %.1fs\n", len(results), time.Since(started).Seconds())

	if screenExport != "" {
		exportCfg := export.DefaultConfig()
		exportCfg.Format = screenExport
		exportCfg.FilePath = screenOutput
		exportCfg.Dir = a.cfg.ExportDir

		path, err := a.exporter.Export(results, exportCfg)
		if err != nil {
			return fmt.Errorf("export failed: %w", err)
		}
		fmt.Printf("Exported to %s\n", path)
	}

	if a.repo != nil {
		run := screening.Run{
			StartedAt:    started,
			FinishedAt:   time.Now(),
			Variant:      cfg.Variant,
			Period:       cfg.Period,
			Threshold:    cfg.Threshold,
			UniverseSize: universeSize,
			ResultCount:  len(results),
			Results:      results,
		}
		if err := a.repo.SaveRun(ctx, &run); err != nil {
			a.log.WithError(err).Warn("Failed to save run history")
		} else {
			fmt.Printf("Run saved as #%d\n", run.ID)
		}
	}

	return nil
}

// applyScreenFlags overlays explicitly set flags onto the defaults.
func applyScreenFlags(cfg *domain.ScreeningConfig) {
	if len(screenSources) > 0 {
		cfg.Sources = screenSources
	}
	if screenCSVPath != "" {
		cfg.CSVPath = screenCSVPath
	}
	if len(screenExclude) > 0 {
		cfg.ExcludeSymbols = screenExclude
	}
	if screenVariant != "" {
		cfg.Variant = domain.Variant(screenVariant)
	}
	if screenPeriod != "" {
		cfg.Period = domain.CalculationPeriod(screenPeriod)
	}
	if screenThreshold >= 0 {
		cfg.Threshold = screenThreshold
	}
	if screenWorkers > 0 {
		cfg.MaxWorkers = screenWorkers
	}
	if screenForce {
		cfg.ForceRefresh = true
	}
	if screenMinSize >= 0 {
		cfg.MinRevenue = screenMinSize
	}
	if screenPositiveOnly {
		cfg.MarginPositiveOnly = true
	}
	if screenSortField != "" {
		cfg.Sort = &domain.SortSpec{Field: screenSortField, Ascending: screenSortAsc}
	}
}
