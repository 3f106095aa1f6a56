package rule40

import (
	"testing"

	"github.com/ymzkio/rule40-screener/internal/domain"
	"github.com/ymzkio/rule40-screener/pkg/logger"
)

func newTestCalculator() *Calculator {
	return NewCalculator(logger.NewNop())
}

func TestCalculateTTMPrefersInfoFigures(t *testing.T) {
	c := newTestCalculator()

	data := &domain.FinancialData{
		Symbol: "AAPL",
		// Series values would give different numbers; the summary wins.
		RevenueTTM:         domain.Series{200, 100},
		OperatingIncomeTTM: domain.Series{10},
		Info: map[string]interface{}{
			"revenueGrowth":    0.25,
			"operatingMargins": 0.15,
		},
	}

	r, err := c.Calculate(data, domain.PeriodTTM, domain.VariantOP)
	if err != nil {
		t.Fatalf("Calculate failed: %v", err)
	}

	if r.RevenueGrowthYoY == nil || *r.RevenueGrowthYoY != 0.25 {
		t.Errorf("growth = %v, want 0.25 from summary", r.RevenueGrowthYoY)
	}
	if r.OperatingMargin == nil || *r.OperatingMargin != 0.15 {
		t.Errorf("margin = %v, want 0.15 from summary", r.OperatingMargin)
	}
	if r.R40OP == nil || *r.R40OP != 40 {
		t.Errorf("score = %v, want 40", r.R40OP)
	}
	if r.DataQuality != domain.QualityComplete {
		t.Errorf("quality = %s, want complete", r.DataQuality)
	}
}

func TestCalculateTTMFallsBackToSeries(t *testing.T) {
	c := newTestCalculator()

	data := &domain.FinancialData{
		Symbol:             "X",
		RevenueTTM:         domain.Series{120, 100},
		OperatingIncomeTTM: domain.Series{30},
	}

	r, err := c.Calculate(data, domain.PeriodTTM, domain.VariantOP)
	if err != nil {
		t.Fatalf("Calculate failed: %v", err)
	}

	if r.RevenueGrowthYoY == nil || !almost(*r.RevenueGrowthYoY, 0.2) {
		t.Errorf("growth = %v, want 0.2", r.RevenueGrowthYoY)
	}
	if r.OperatingMargin == nil || !almost(*r.OperatingMargin, 0.25) {
		t.Errorf("margin = %v, want 0.25", r.OperatingMargin)
	}
	if r.R40OP == nil || !almost(*r.R40OP, 45) {
		t.Errorf("score = %v, want 45", r.R40OP)
	}
}

func TestCalculateAnnual(t *testing.T) {
	c := newTestCalculator()

	data := &domain.FinancialData{
		Symbol:                "X",
		RevenueAnnual:         domain.Series{110, 100, 90},
		OperatingIncomeAnnual: domain.Series{22, 18},
		DepreciationAnnual:    domain.Series{11, 10},
		// The summary must be ignored for annual calculations.
		Info: map[string]interface{}{"revenueGrowth": 0.99, "operatingMargins": 0.99},
	}

	r, err := c.Calculate(data, domain.PeriodAnnual, domain.VariantBoth)
	if err != nil {
		t.Fatalf("Calculate failed: %v", err)
	}

	if r.RevenueGrowthYoY == nil || !almost(*r.RevenueGrowthYoY, 0.1) {
		t.Errorf("growth = %v, want 0.1", r.RevenueGrowthYoY)
	}
	if r.OperatingMargin == nil || !almost(*r.OperatingMargin, 0.2) {
		t.Errorf("op margin = %v, want 0.2", r.OperatingMargin)
	}
	if r.EBITDAMargin == nil || !almost(*r.EBITDAMargin, 0.3) {
		t.Errorf("ebitda margin = %v, want 0.3", r.EBITDAMargin)
	}
	if r.R40OP == nil || !almost(*r.R40OP, 30) {
		t.Errorf("op score = %v, want 30", r.R40OP)
	}
	if r.R40EBITDA == nil || !almost(*r.R40EBITDA, 40) {
		t.Errorf("ebitda score = %v, want 40", r.R40EBITDA)
	}
}

func TestCalculateZeroGuards(t *testing.T) {
	c := newTestCalculator()

	data := &domain.FinancialData{
		Symbol:                "X",
		RevenueAnnual:         domain.Series{100, 0},
		OperatingIncomeAnnual: domain.Series{20},
	}

	r, err := c.Calculate(data, domain.PeriodAnnual, domain.VariantOP)
	if err != nil {
		t.Fatalf("Calculate failed: %v", err)
	}

	// Prior revenue of zero means growth is undefined, not infinite.
	if r.RevenueGrowthYoY != nil {
		t.Errorf("growth = %v, want nil", *r.RevenueGrowthYoY)
	}
	if r.R40OP != nil {
		t.Errorf("score = %v, want nil without growth", *r.R40OP)
	}
	if r.DataQuality != domain.QualityPartial {
		t.Errorf("quality = %s, want partial (margin only)", r.DataQuality)
	}
}

func TestCalculateVariantGating(t *testing.T) {
	c := newTestCalculator()

	data := &domain.FinancialData{
		Symbol:                "X",
		RevenueAnnual:         domain.Series{110, 100},
		OperatingIncomeAnnual: domain.Series{22},
		DepreciationAnnual:    domain.Series{11},
	}

	op, err := c.Calculate(data, domain.PeriodAnnual, domain.VariantOP)
	if err != nil {
		t.Fatal(err)
	}
	if op.R40OP == nil || op.R40EBITDA != nil {
		t.Errorf("op variant: R40OP=%v R40EBITDA=%v", op.R40OP, op.R40EBITDA)
	}

	eb, err := c.Calculate(data, domain.PeriodAnnual, domain.VariantEBITDA)
	if err != nil {
		t.Fatal(err)
	}
	if eb.R40OP != nil || eb.R40EBITDA == nil {
		t.Errorf("ebitda variant: R40OP=%v R40EBITDA=%v", eb.R40OP, eb.R40EBITDA)
	}
}

func TestCalculateEmptyData(t *testing.T) {
	c := newTestCalculator()

	r, err := c.Calculate(&domain.FinancialData{Symbol: "EMPTY"}, domain.PeriodTTM, domain.VariantBoth)
	if err != nil {
		t.Fatalf("empty data must not error: %v", err)
	}
	if r.DataQuality != domain.QualityMissing {
		t.Errorf("quality = %s, want missing", r.DataQuality)
	}
	if r.R40OP != nil || r.R40EBITDA != nil {
		t.Error("scores must be unset on empty data")
	}
}

func TestEBITDAMarginRequiresAllComponents(t *testing.T) {
	data := &domain.FinancialData{
		RevenueAnnual:         domain.Series{100},
		OperatingIncomeAnnual: domain.Series{20},
		// No depreciation series.
	}
	if got := ebitdaMargin(data, domain.PeriodAnnual); got != nil {
		t.Errorf("ebitda margin = %v, want nil without depreciation", *got)
	}
}

func almost(got, want float64) bool {
	diff := got - want
	return diff < 1e-9 && diff > -1e-9
}
