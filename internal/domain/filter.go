package domain

import "strings"

// Filter operators.
const (
	OpGT       = "gt"
	OpGTE      = "gte"
	OpLT       = "lt"
	OpLTE      = "lte"
	OpEQ       = "eq"
	OpNEQ      = "neq"
	OpContains = "contains"
)

// Filter is one generic field/operator/value predicate over a result.
type Filter struct {
	Field    string      `json:"field"`
	Operator string      `json:"operator"`
	Value    interface{} `json:"value"`
}

// Apply reports whether the result passes the filter. A result whose field
// is unknown or unset never passes.
func (f Filter) Apply(r *Rule40Result) bool {
	value, ok := FieldValue(r, f.Field)
	if !ok || value == nil {
		return false
	}

	switch v := value.(type) {
	case float64:
		want, ok := toFloat(f.Value)
		if !ok {
			return false
		}
		return compareFloat(v, f.Operator, want)
	case string:
		want, ok := f.Value.(string)
		if !ok {
			return false
		}
		return compareString(v, f.Operator, want)
	}

	return false
}

// SortSpec is an explicit sort request. Results with an unset sort field
// always go to the bottom, regardless of direction.
type SortSpec struct {
	Field     string `json:"field"`
	Ascending bool   `json:"ascending"`
}

// FieldValue resolves a filterable/sortable field by name. The second
// return is false for unknown fields; a nil first return means the field
// exists but has no value for this result.
func FieldValue(r *Rule40Result, field string) (interface{}, bool) {
	switch field {
	case "symbol":
		return r.Symbol, true
	case "name":
		return r.Name, true
	case "r40_op":
		return deref(r.R40OP), true
	case "r40_ebitda":
		return deref(r.R40EBITDA), true
	case "revenue_growth_yoy":
		return deref(r.RevenueGrowthYoY), true
	case "operating_margin":
		return deref(r.OperatingMargin), true
	case "ebitda_margin":
		return deref(r.EBITDAMargin), true
	case "market_cap":
		return deref(r.MarketCap), true
	case "sector":
		return r.Sector, true
	case "industry":
		return r.Industry, true
	case "data_quality":
		return string(r.DataQuality), true
	default:
		return nil, false
	}
}

func deref(v *float64) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

func compareFloat(have float64, op string, want float64) bool {
	switch op {
	case OpGT:
		return have > want
	case OpGTE:
		return have >= want
	case OpLT:
		return have < want
	case OpLTE:
		return have <= want
	case OpEQ:
		return have == want
	case OpNEQ:
		return have != want
	default:
		return false
	}
}

func compareString(have, op, want string) bool {
	switch op {
	case OpEQ:
		return have == want
	case OpNEQ:
		return have != want
	case OpContains:
		return strings.Contains(strings.ToLower(have), strings.ToLower(want))
	default:
		return false
	}
}
