package domain

import (
	"encoding/json"
	"time"
)

// CalculationPeriod selects which statement series the calculator reads.
type CalculationPeriod string

const (
	PeriodAnnual CalculationPeriod = "annual"
	PeriodTTM    CalculationPeriod = "ttm"
)

// Variant selects the margin basis for the Rule of 40 score.
type Variant string

const (
	VariantOP     Variant = "op"
	VariantEBITDA Variant = "ebitda"
	VariantBoth   Variant = "both"
)

// DataQuality is a coarse grade of how much of the expected data was
// obtained or derived for a symbol.
type DataQuality string

const (
	QualityComplete DataQuality = "complete"
	QualityPartial  DataQuality = "partial"
	QualityMissing  DataQuality = "missing"
)

// Market identifies the listing venue of a symbol.
type Market string

const (
	MarketNYSE        Market = "NYSE"
	MarketNASDAQ      Market = "NASDAQ"
	MarketAMEX        Market = "AMEX"
	MarketJPX         Market = "JPX"
	MarketTSEPrime    Market = "TSE_PRIME"
	MarketTSEStandard Market = "TSE_STANDARD"
	MarketTSEGrowth   Market = "TSE_GROWTH"
	MarketOther       Market = "OTHER"
)

// ParseMarket maps a raw market string onto the known venues, falling back
// to OTHER.
func ParseMarket(s string) Market {
	switch Market(s) {
	case MarketNYSE, MarketNASDAQ, MarketAMEX, MarketJPX,
		MarketTSEPrime, MarketTSEStandard, MarketTSEGrowth:
		return Market(s)
	default:
		return MarketOther
	}
}

// Symbol is one entry of the screening universe. Identity is the Symbol
// field after normalization; instances are immutable once produced by a
// source adapter.
type Symbol struct {
	Symbol   string `json:"symbol"`
	Name     string `json:"name"`
	Market   Market `json:"market"`
	Sector   string `json:"sector,omitempty"`
	Industry string `json:"industry,omitempty"`
	Source   string `json:"source,omitempty"`
}

// Series is an ordered numeric series from a financial statement.
// Index 0 is the most recent period, index 1 the prior one. The ordering
// survives a JSON round trip, which is what the cache relies on.
type Series []float64

// At returns the value at index i, reporting whether it exists.
func (s Series) At(i int) (float64, bool) {
	if i < 0 || i >= len(s) {
		return 0, false
	}
	return s[i], true
}

// FinancialData is the provider-agnostic statement bundle for one ticker.
// Consumed read-only by the calculator.
type FinancialData struct {
	Symbol string `json:"symbol"`

	RevenueAnnual         Series `json:"revenue_annual,omitempty"`
	RevenueTTM            Series `json:"revenue_ttm,omitempty"`
	OperatingIncomeAnnual Series `json:"operating_income_annual,omitempty"`
	OperatingIncomeTTM    Series `json:"operating_income_ttm,omitempty"`
	DepreciationAnnual    Series `json:"depreciation_annual,omitempty"`
	DepreciationTTM       Series `json:"depreciation_ttm,omitempty"`

	// Info carries provider summary fields (name, market cap, sector,
	// precomputed growth/margins) keyed by the provider's field names.
	Info map[string]interface{} `json:"info,omitempty"`

	LastUpdated time.Time   `json:"last_updated"`
	DataQuality DataQuality `json:"data_quality"`
}

// InfoFloat reads a numeric field from Info, tolerating the types JSON
// decoding may produce.
func (d *FinancialData) InfoFloat(key string) (float64, bool) {
	if d.Info == nil {
		return 0, false
	}
	switch v := d.Info[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// InfoString reads a string field from Info.
func (d *FinancialData) InfoString(key string) string {
	if d.Info == nil {
		return ""
	}
	if v, ok := d.Info[key].(string); ok {
		return v
	}
	return ""
}

// Rule40Result is the scoring outcome for one symbol. The calculator
// populates the numeric fields; the orchestrator enriches the descriptive
// ones afterward. Not mutated after enrichment.
type Rule40Result struct {
	Symbol string `json:"symbol"`
	Name   string `json:"name,omitempty"`

	R40OP     *float64 `json:"r40_op,omitempty"`
	R40EBITDA *float64 `json:"r40_ebitda,omitempty"`

	RevenueGrowthYoY *float64 `json:"revenue_growth_yoy,omitempty"`
	OperatingMargin  *float64 `json:"operating_margin,omitempty"`
	EBITDAMargin     *float64 `json:"ebitda_margin,omitempty"`

	Period          CalculationPeriod `json:"period"`
	Variant         Variant           `json:"variant"`
	CalculationTime time.Time         `json:"calculation_time"`
	DataQuality     DataQuality       `json:"data_quality"`

	MarketCap *float64 `json:"market_cap,omitempty"`
	Sector    string   `json:"sector,omitempty"`
	Industry  string   `json:"industry,omitempty"`
}

// R40Value returns the score for the given variant. For VariantBoth the
// operating-income score wins when present, EBITDA otherwise.
func (r *Rule40Result) R40Value(variant Variant) *float64 {
	switch variant {
	case VariantOP:
		return r.R40OP
	case VariantEBITDA:
		return r.R40EBITDA
	case VariantBoth:
		if r.R40OP != nil {
			return r.R40OP
		}
		return r.R40EBITDA
	}
	return nil
}

// MeetsThreshold reports whether the selected variant's score is present
// and at least the threshold.
func (r *Rule40Result) MeetsThreshold(threshold float64, variant Variant) bool {
	v := r.R40Value(variant)
	return v != nil && *v >= threshold
}

// ScreeningConfig is the immutable input contract for one screening run.
type ScreeningConfig struct {
	// Universe
	Sources        []string `json:"sources"`
	CSVPath        string   `json:"csv_path,omitempty"`
	ExcludeSymbols []string `json:"exclude_symbols,omitempty"`

	// Rule of 40
	Variant   Variant           `json:"variant"`
	Period    CalculationPeriod `json:"period"`
	Threshold float64           `json:"threshold"`

	// Filtering / sorting
	Filters []Filter  `json:"filters,omitempty"`
	Sort    *SortSpec `json:"sort,omitempty"`

	// Data retrieval
	MaxWorkers    int  `json:"max_workers"`
	CacheTTLHours int  `json:"cache_ttl_hours"`
	ForceRefresh  bool `json:"force_refresh"`

	// Minimum conditions
	MinRevenue         float64 `json:"min_revenue,omitempty"`
	MarginPositiveOnly bool    `json:"margin_positive_only,omitempty"`
}

// Float returns a pointer to v. Convenience for optional numeric fields.
func Float(v float64) *float64 {
	return &v
}
