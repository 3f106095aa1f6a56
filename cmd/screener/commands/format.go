package commands

import (
	"fmt"
	"strings"

	"github.com/ymzkio/rule40-screener/internal/domain"
	"github.com/ymzkio/rule40-screener/internal/screening"
)

// printProgress renders pipeline progress on the terminal. Stage events get
// their own line; per-symbol events share one updating line.
func printProgress(p screening.Progress) {
	if p.Symbol == "" {
		fmt.Printf("\n[%d/%d] %s\n", p.Current, p.Total, p.Message)
		return
	}
	fmt.Printf("\r  %s (%d/%d)          ", p.Symbol, p.Current, p.Total)
	if p.Current == p.Total {
		fmt.Println()
	}
}

// printResults renders the result table.
func printResults(results []domain.Rule40Result, variant domain.Variant, limit int) {
	if len(results) == 0 {
		fmt.Println("No companies passed the screen.")
		return
	}

	fmt.Println("───────────────────────────────────────────────────────────────────────")
	fmt.Printf("  %-10s %-28s %8s %8s %8s  %s\n",
		"Symbol", "Name", "R40", "Growth%", "Margin%", "Quality")
	fmt.Println("───────────────────────────────────────────────────────────────────────")

	for i, r := range results {
		if limit > 0 && i >= limit {
			fmt.Printf("  ... and %d more\n", len(results)-limit)
			break
		}
		fmt.Printf("  %-10s %-28s %8s %8s %8s  %s\n",
			r.Symbol,
			truncate(r.Name, 28),
			formatScore(r.R40Value(variant), 1),
			formatScore(scaled(r.RevenueGrowthYoY, 100), 1),
			formatScore(scaled(marginOf(&r, variant), 100), 1),
			r.DataQuality)
	}
	fmt.Println("───────────────────────────────────────────────────────────────────────")
}

func marginOf(r *domain.Rule40Result, variant domain.Variant) *float64 {
	if variant == domain.VariantEBITDA {
		return r.EBITDAMargin
	}
	if r.OperatingMargin != nil {
		return r.OperatingMargin
	}
	return r.EBITDAMargin
}

func scaled(v *float64, factor float64) *float64 {
	if v == nil {
		return nil
	}
	return domain.Float(*v * factor)
}

func formatScore(v *float64, places int) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%.*f", places, *v)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return strings.TrimSpace(s[:max-3]) + "..."
}
