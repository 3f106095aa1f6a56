package rule40

import (
	"fmt"
	"math"
	"time"

	"github.com/ymzkio/rule40-screener/internal/domain"
	"github.com/ymzkio/rule40-screener/pkg/logger"
)

// Provider summary fields used as precomputed TTM figures when present.
const (
	infoRevenueGrowth    = "revenueGrowth"
	infoOperatingMargins = "operatingMargins"
)

// Calculator derives Rule-of-40 scores from financial data. It is pure and
// deterministic: the same inputs always produce the same result, and it
// never mutates the input record.
type Calculator struct {
	logger *logger.Logger
}

// NewCalculator creates a new Calculator
func NewCalculator(log *logger.Logger) *Calculator {
	return &Calculator{logger: log.WithField("module", "rule40")}
}

// Calculate scores one symbol for the given period and variant.
// A missing input never fails the call; the corresponding output fields
// are simply left unset and graded accordingly. Only an unexpected
// internal failure returns an error, and it is scoped to this symbol.
func (c *Calculator) Calculate(data *domain.FinancialData, period domain.CalculationPeriod, variant domain.Variant) (result *domain.Rule40Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = fmt.Errorf("%w: %s: %v", domain.ErrCalculation, data.Symbol, r)
		}
	}()

	result = &domain.Rule40Result{
		Symbol:          data.Symbol,
		Period:          period,
		Variant:         variant,
		CalculationTime: time.Now(),
	}

	result.RevenueGrowthYoY = revenueGrowth(data, period)
	result.OperatingMargin = operatingMargin(data, period)
	result.EBITDAMargin = ebitdaMargin(data, period)

	// Composite scores per variant. Both components must be present;
	// growth is shared between the two margin bases.
	if variant == domain.VariantOP || variant == domain.VariantBoth {
		result.R40OP = compositeScore(result.RevenueGrowthYoY, result.OperatingMargin)
	}
	if variant == domain.VariantEBITDA || variant == domain.VariantBoth {
		result.R40EBITDA = compositeScore(result.RevenueGrowthYoY, result.EBITDAMargin)
	}

	result.DataQuality = gradeResult(result)

	c.logger.WithFields(map[string]interface{}{
		"symbol":  data.Symbol,
		"period":  period,
		"variant": variant,
		"quality": result.DataQuality,
	}).Debug("Rule of 40 calculated")

	return result, nil
}

// revenueGrowth computes year-over-year revenue growth for the period.
// For TTM a precomputed figure from the provider summary wins; otherwise
// the first two series entries are used (index 0 = current, 1 = prior).
func revenueGrowth(data *domain.FinancialData, period domain.CalculationPeriod) *float64 {
	if period == domain.PeriodTTM {
		if v, ok := data.InfoFloat(infoRevenueGrowth); ok {
			return domain.Float(v)
		}
		return growthFromSeries(data.RevenueTTM)
	}
	return growthFromSeries(data.RevenueAnnual)
}

// operatingMargin computes operating income / revenue for the period.
func operatingMargin(data *domain.FinancialData, period domain.CalculationPeriod) *float64 {
	if period == domain.PeriodTTM {
		if v, ok := data.InfoFloat(infoOperatingMargins); ok {
			return domain.Float(v)
		}
		return ratioOfLatest(data.OperatingIncomeTTM, data.RevenueTTM)
	}
	return ratioOfLatest(data.OperatingIncomeAnnual, data.RevenueAnnual)
}

// ebitdaMargin computes (operating income + depreciation) / revenue for
// the period. All three series must have a current value.
func ebitdaMargin(data *domain.FinancialData, period domain.CalculationPeriod) *float64 {
	oi := data.OperatingIncomeAnnual
	dep := data.DepreciationAnnual
	rev := data.RevenueAnnual
	if period == domain.PeriodTTM {
		oi = data.OperatingIncomeTTM
		dep = data.DepreciationTTM
		rev = data.RevenueTTM
	}

	oiV, ok1 := oi.At(0)
	depV, ok2 := dep.At(0)
	revV, ok3 := rev.At(0)
	if !ok1 || !ok2 || !ok3 || revV == 0 {
		return nil
	}

	return safeFloat((oiV + depV) / revV)
}

// growthFromSeries computes (current/previous)-1 from the first two
// entries. Division by zero or a short series yields nil.
func growthFromSeries(s domain.Series) *float64 {
	current, ok := s.At(0)
	if !ok {
		return nil
	}
	previous, ok := s.At(1)
	if !ok || previous == 0 {
		return nil
	}
	return safeFloat(current/previous - 1)
}

// ratioOfLatest computes numerator[0] / denominator[0], guarded against a
// zero denominator.
func ratioOfLatest(numerator, denominator domain.Series) *float64 {
	n, ok := numerator.At(0)
	if !ok {
		return nil
	}
	d, ok := denominator.At(0)
	if !ok || d == 0 {
		return nil
	}
	return safeFloat(n / d)
}

// compositeScore is growth(%) + margin(%), present only when both
// components are.
func compositeScore(growth, margin *float64) *float64 {
	if growth == nil || margin == nil {
		return nil
	}
	return domain.Float(*growth*100 + *margin*100)
}

// safeFloat rejects non-finite values so a degenerate input can never
// leak Inf/NaN into results.
func safeFloat(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return domain.Float(v)
}

// gradeResult assigns the result-level quality grade.
func gradeResult(r *domain.Rule40Result) domain.DataQuality {
	hasGrowth := r.RevenueGrowthYoY != nil
	hasOPMargin := r.OperatingMargin != nil
	hasEBITDAMargin := r.EBITDAMargin != nil
	hasScore := r.R40OP != nil || r.R40EBITDA != nil

	switch {
	case hasGrowth && (hasOPMargin || hasEBITDAMargin) && hasScore:
		return domain.QualityComplete
	case hasGrowth || hasOPMargin || hasEBITDAMargin:
		return domain.QualityPartial
	default:
		return domain.QualityMissing
	}
}
