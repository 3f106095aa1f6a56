package yfinance

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/ymzkio/rule40-screener/internal/domain"
	"github.com/ymzkio/rule40-screener/pkg/httputil"
	"github.com/ymzkio/rule40-screener/pkg/logger"
)

const (
	quoteSummaryBaseURL = "https://query2.finance.yahoo.com/v10/finance/quoteSummary/"
	timeseriesBaseURL   = "https://query2.finance.yahoo.com/ws/fundamentals-timeseries/v1/finance/timeseries/"

	quoteSummaryModules = "price,summaryProfile,financialData"
)

// Statement lines requested from the timeseries endpoint. The annual types
// carry up to four fiscal years, the trailing types the TTM figure.
var timeseriesTypes = []string{
	"annualTotalRevenue",
	"trailingTotalRevenue",
	"annualOperatingIncome",
	"trailingOperatingIncome",
	"annualDepreciationAndAmortization",
	"trailingDepreciationAndAmortization",
}

// Client retrieves fundamentals from the Yahoo Finance JSON API. It does no
// retrying and no pacing of its own; the screening orchestrator owns the
// request schedule and the rate-limit backoff.
type Client struct {
	http   *httputil.Client
	logger *logger.Logger

	quoteSummaryURL string
	timeseriesURL   string
}

// NewClient creates a Yahoo Finance client
func NewClient(http *httputil.Client, log *logger.Logger) *Client {
	return &Client{
		http:            http,
		logger:          log.WithField("module", "yfinance"),
		quoteSummaryURL: quoteSummaryBaseURL,
		timeseriesURL:   timeseriesBaseURL,
	}
}

// GetFinancialData fetches the statement series and the summary fields for
// one symbol. A symbol with no data at all still yields a record, graded
// missing; only transport failures and rate limiting return an error.
func (c *Client) GetFinancialData(ctx context.Context, symbol string) (*domain.FinancialData, error) {
	data := &domain.FinancialData{
		Symbol:      symbol,
		LastUpdated: time.Now(),
	}

	info, err := c.fetchInfo(ctx, symbol)
	if err != nil {
		return nil, err
	}
	data.Info = info

	series, err := c.fetchTimeseries(ctx, symbol)
	if err != nil {
		return nil, err
	}
	data.RevenueAnnual = series["annualTotalRevenue"]
	data.RevenueTTM = series["trailingTotalRevenue"]
	data.OperatingIncomeAnnual = series["annualOperatingIncome"]
	data.OperatingIncomeTTM = series["trailingOperatingIncome"]
	data.DepreciationAnnual = series["annualDepreciationAndAmortization"]
	data.DepreciationTTM = series["trailingDepreciationAndAmortization"]

	data.DataQuality = gradeFetched(data)

	c.logger.WithFields(map[string]interface{}{
		"symbol":  symbol,
		"quality": data.DataQuality,
	}).Debug("Financial data fetched")

	return data, nil
}

// fetchInfo retrieves the quoteSummary modules and flattens them into the
// Info map. A symbol unknown to the endpoint yields an empty map.
func (c *Client) fetchInfo(ctx context.Context, symbol string) (map[string]interface{}, error) {
	u := c.quoteSummaryURL + url.PathEscape(symbol) + "?modules=" + quoteSummaryModules

	var parsed quoteSummaryResponse
	found, err := c.getJSON(ctx, symbol, u, &parsed)
	if err != nil {
		return nil, err
	}
	if !found || len(parsed.QuoteSummary.Result) == 0 {
		return map[string]interface{}{}, nil
	}

	result := parsed.QuoteSummary.Result[0]
	info := make(map[string]interface{})

	if p := result.Price; p != nil {
		if p.LongName != "" {
			info["longName"] = p.LongName
		}
		if p.ShortName != "" {
			info["shortName"] = p.ShortName
		}
		if p.MarketCap.Raw != nil {
			info["marketCap"] = *p.MarketCap.Raw
		}
	}
	if sp := result.SummaryProfile; sp != nil {
		if sp.Sector != "" {
			info["sector"] = sp.Sector
		}
		if sp.Industry != "" {
			info["industry"] = sp.Industry
		}
	}
	if fd := result.FinancialData; fd != nil {
		if fd.RevenueGrowth.Raw != nil {
			info["revenueGrowth"] = *fd.RevenueGrowth.Raw
		}
		if fd.OperatingMargins.Raw != nil {
			info["operatingMargins"] = *fd.OperatingMargins.Raw
		}
	}

	return info, nil
}

// fetchTimeseries retrieves all statement lines in one request and returns
// them keyed by type, most recent period first.
func (c *Client) fetchTimeseries(ctx context.Context, symbol string) (map[string]domain.Series, error) {
	now := time.Now()
	u := c.timeseriesURL + url.PathEscape(symbol) +
		"?type=" + strings.Join(timeseriesTypes, ",") +
		fmt.Sprintf("&period1=%d&period2=%d", now.AddDate(-5, 0, 0).Unix(), now.Unix())

	var parsed timeseriesResponse
	found, err := c.getJSON(ctx, symbol, u, &parsed)
	if err != nil {
		return nil, err
	}

	series := make(map[string]domain.Series)
	if !found {
		return series, nil
	}

	for _, raw := range parsed.Timeseries.Result {
		var meta timeseriesMeta
		if err := json.Unmarshal(raw, &meta); err != nil || len(meta.Meta.Type) == 0 {
			continue
		}
		lineType := meta.Meta.Type[0]

		var body map[string]json.RawMessage
		if err := json.Unmarshal(raw, &body); err != nil {
			continue
		}
		pointsRaw, ok := body[lineType]
		if !ok {
			continue
		}
		var points []*timeseriesPoint
		if err := json.Unmarshal(pointsRaw, &points); err != nil {
			continue
		}

		s := seriesFromPoints(points)
		if len(s) > 0 {
			series[lineType] = s
		}
	}

	return series, nil
}

// seriesFromPoints orders the reported values most recent first. AsOfDate
// is ISO formatted, so a lexicographic sort is a date sort.
func seriesFromPoints(points []*timeseriesPoint) domain.Series {
	valid := make([]*timeseriesPoint, 0, len(points))
	for _, p := range points {
		if p != nil && p.ReportedValue.Raw != nil {
			valid = append(valid, p)
		}
	}
	sort.SliceStable(valid, func(i, j int) bool {
		return valid[i].AsOfDate > valid[j].AsOfDate
	})

	s := make(domain.Series, len(valid))
	for i, p := range valid {
		s[i] = *p.ReportedValue.Raw
	}
	return s
}

// getJSON performs one GET and decodes the body. The second return is false
// for a 404, which the endpoints use for unknown symbols.
func (c *Client) getJSON(ctx context.Context, symbol, u string, out interface{}) (bool, error) {
	resp, err := c.http.Get(ctx, u)
	if err != nil {
		return false, fmt.Errorf("%w: %s: %v", domain.ErrDataFetch, symbol, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		io.Copy(io.Discard, resp.Body)
		return false, fmt.Errorf("%w: %s", domain.ErrRateLimited, symbol)
	case resp.StatusCode == http.StatusNotFound:
		io.Copy(io.Discard, resp.Body)
		return false, nil
	case resp.StatusCode != http.StatusOK:
		io.Copy(io.Discard, resp.Body)
		return false, fmt.Errorf("%w: %s: status %d", domain.ErrDataFetch, symbol, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return false, fmt.Errorf("%w: %s: decode: %v", domain.ErrDataFetch, symbol, err)
	}
	return true, nil
}

// gradeFetched assigns the fetch-level quality grade: complete needs
// revenue, operating income and summary fields; either statement line alone
// is partial.
func gradeFetched(d *domain.FinancialData) domain.DataQuality {
	hasRevenue := len(d.RevenueAnnual) > 0 || len(d.RevenueTTM) > 0
	hasOperatingIncome := len(d.OperatingIncomeAnnual) > 0 || len(d.OperatingIncomeTTM) > 0
	hasInfo := len(d.Info) > 0

	switch {
	case hasRevenue && hasOperatingIncome && hasInfo:
		return domain.QualityComplete
	case hasRevenue || hasOperatingIncome:
		return domain.QualityPartial
	default:
		return domain.QualityMissing
	}
}
