package yfinance

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ymzkio/rule40-screener/internal/domain"
	"github.com/ymzkio/rule40-screener/pkg/httputil"
	"github.com/ymzkio/rule40-screener/pkg/logger"
)

const quoteSummaryBody = `{
  "quoteSummary": {
    "result": [{
      "price": {"longName": "Apple Inc.", "shortName": "Apple", "marketCap": {"raw": 3000000000000}},
      "summaryProfile": {"sector": "Technology", "industry": "Consumer Electronics"},
      "financialData": {"revenueGrowth": {"raw": 0.081}, "operatingMargins": {"raw": 0.298}}
    }],
    "error": null
  }
}`

const timeseriesBody = `{
  "timeseries": {
    "result": [
      {
        "meta": {"symbol": ["AAPL"], "type": ["annualTotalRevenue"]},
        "annualTotalRevenue": [
          {"asOfDate": "2022-09-30", "reportedValue": {"raw": 394328000000}},
          {"asOfDate": "2023-09-30", "reportedValue": {"raw": 383285000000}},
          {"asOfDate": "2024-09-30", "reportedValue": {"raw": 391035000000}},
          null
        ]
      },
      {
        "meta": {"symbol": ["AAPL"], "type": ["trailingTotalRevenue"]},
        "trailingTotalRevenue": [
          {"asOfDate": "2025-06-30", "reportedValue": {"raw": 400366000000}}
        ]
      },
      {
        "meta": {"symbol": ["AAPL"], "type": ["annualOperatingIncome"]},
        "annualOperatingIncome": [
          {"asOfDate": "2023-09-30", "reportedValue": {"raw": 114301000000}},
          {"asOfDate": "2024-09-30", "reportedValue": {"raw": 123216000000}}
        ]
      }
    ],
    "error": null
  }
}`

func testClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	c := NewClient(httputil.New(logger.NewNop()).DisableRetry(), logger.NewNop())
	c.quoteSummaryURL = server.URL + "/quoteSummary/"
	c.timeseriesURL = server.URL + "/timeseries/"
	return c
}

func TestGetFinancialData(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasPrefix(r.URL.Path, "/quoteSummary/"):
			w.Write([]byte(quoteSummaryBody))
		default:
			w.Write([]byte(timeseriesBody))
		}
	}))

	data, err := c.GetFinancialData(context.Background(), "AAPL")
	if err != nil {
		t.Fatalf("GetFinancialData failed: %v", err)
	}

	if data.Symbol != "AAPL" {
		t.Errorf("symbol = %q", data.Symbol)
	}
	if data.DataQuality != domain.QualityComplete {
		t.Errorf("quality = %s, want complete", data.DataQuality)
	}

	// Annual revenue is most recent first regardless of response order.
	if len(data.RevenueAnnual) != 3 {
		t.Fatalf("revenue annual length = %d, want 3", len(data.RevenueAnnual))
	}
	if data.RevenueAnnual[0] != 391035000000 || data.RevenueAnnual[2] != 394328000000 {
		t.Errorf("revenue annual order wrong: %v", data.RevenueAnnual)
	}
	if len(data.RevenueTTM) != 1 || data.RevenueTTM[0] != 400366000000 {
		t.Errorf("revenue ttm = %v", data.RevenueTTM)
	}

	if g, ok := data.InfoFloat("revenueGrowth"); !ok || g != 0.081 {
		t.Errorf("revenueGrowth = %v %v", g, ok)
	}
	if data.InfoString("longName") != "Apple Inc." {
		t.Errorf("longName = %q", data.InfoString("longName"))
	}
	if mc, ok := data.InfoFloat("marketCap"); !ok || mc != 3e12 {
		t.Errorf("marketCap = %v %v", mc, ok)
	}
}

func TestGetFinancialDataRateLimited(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))

	_, err := c.GetFinancialData(context.Background(), "AAPL")
	if !errors.Is(err, domain.ErrRateLimited) {
		t.Errorf("err = %v, want ErrRateLimited", err)
	}
	if !errors.Is(err, domain.ErrDataFetch) {
		t.Errorf("rate limit error should also be a fetch error, got %v", err)
	}
}

func TestGetFinancialDataUnknownSymbol(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	data, err := c.GetFinancialData(context.Background(), "NOPE")
	if err != nil {
		t.Fatalf("unknown symbol should not error: %v", err)
	}
	if data.DataQuality != domain.QualityMissing {
		t.Errorf("quality = %s, want missing", data.DataQuality)
	}
}

func TestGradeFetched(t *testing.T) {
	tests := []struct {
		name string
		data domain.FinancialData
		want domain.DataQuality
	}{
		{
			"all present",
			domain.FinancialData{
				RevenueTTM:            domain.Series{1},
				OperatingIncomeAnnual: domain.Series{1},
				Info:                  map[string]interface{}{"longName": "X"},
			},
			domain.QualityComplete,
		},
		{
			"revenue only",
			domain.FinancialData{RevenueAnnual: domain.Series{1}},
			domain.QualityPartial,
		},
		{
			"operating income only",
			domain.FinancialData{OperatingIncomeTTM: domain.Series{1}},
			domain.QualityPartial,
		},
		{
			"info without statements",
			domain.FinancialData{Info: map[string]interface{}{"longName": "X"}},
			domain.QualityMissing,
		},
		{
			"nothing",
			domain.FinancialData{},
			domain.QualityMissing,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := gradeFetched(&tt.data); got != tt.want {
				t.Errorf("gradeFetched = %s, want %s", got, tt.want)
			}
		})
	}
}
