package yfinance

import "encoding/json"

// rawValue is Yahoo's number envelope: {"raw": 123.4, "fmt": "123.40"}.
// Only the raw value is used.
type rawValue struct {
	Raw *float64 `json:"raw"`
}

type apiError struct {
	Code        string `json:"code"`
	Description string `json:"description"`
}

// quoteSummary response, modules=price,summaryProfile,financialData.

type quoteSummaryResponse struct {
	QuoteSummary struct {
		Result []quoteSummaryResult `json:"result"`
		Error  *apiError            `json:"error"`
	} `json:"quoteSummary"`
}

type quoteSummaryResult struct {
	Price          *priceModule          `json:"price"`
	SummaryProfile *summaryProfileModule `json:"summaryProfile"`
	FinancialData  *financialDataModule  `json:"financialData"`
}

type priceModule struct {
	LongName  string   `json:"longName"`
	ShortName string   `json:"shortName"`
	MarketCap rawValue `json:"marketCap"`
}

type summaryProfileModule struct {
	Sector   string `json:"sector"`
	Industry string `json:"industry"`
}

type financialDataModule struct {
	RevenueGrowth    rawValue `json:"revenueGrowth"`
	OperatingMargins rawValue `json:"operatingMargins"`
}

// fundamentals-timeseries response. Each result holds one statement line;
// the data points live under a key named after meta.type[0], so the result
// body is kept raw and the point list is extracted by that key.

type timeseriesResponse struct {
	Timeseries struct {
		Result []json.RawMessage `json:"result"`
		Error  *apiError         `json:"error"`
	} `json:"timeseries"`
}

type timeseriesMeta struct {
	Meta struct {
		Type []string `json:"type"`
	} `json:"meta"`
}

type timeseriesPoint struct {
	AsOfDate      string   `json:"asOfDate"`
	ReportedValue rawValue `json:"reportedValue"`
}
