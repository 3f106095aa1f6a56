package sources

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/ymzkio/rule40-screener/internal/domain"
	"github.com/ymzkio/rule40-screener/pkg/httputil"
	"github.com/ymzkio/rule40-screener/pkg/logger"
)

const (
	nasdaqListedURL = "https://www.nasdaqtrader.com/dynamic/SymDir/nasdaqlisted.txt"
	otherListedURL  = "https://www.nasdaqtrader.com/dynamic/SymDir/otherlisted.txt"
)

// NasdaqDirectorySource parses one of the Nasdaq Trader symbol directory
// files. The files are pipe-separated with a header row and a
// "File Creation Time" trailer row; test issues are excluded.
type NasdaqDirectorySource struct {
	client *httputil.Client
	logger *logger.Logger
	name   string
	url    string

	symbolColumn   string
	exchangeColumn string
	market         domain.Market
}

// NewNasdaqListed covers securities listed on NASDAQ itself.
func NewNasdaqListed(client *httputil.Client, log *logger.Logger) *NasdaqDirectorySource {
	return &NasdaqDirectorySource{
		client:       client,
		logger:       log.WithField("source", "nasdaq_listed"),
		name:         "Nasdaq Listed",
		url:          nasdaqListedURL,
		symbolColumn: "Symbol",
		market:       domain.MarketNASDAQ,
	}
}

// NewOtherListed covers NYSE/AMEX and other non-NASDAQ listings, with the
// venue taken from the Exchange column.
func NewOtherListed(client *httputil.Client, log *logger.Logger) *NasdaqDirectorySource {
	return &NasdaqDirectorySource{
		client:         client,
		logger:         log.WithField("source", "other_listed"),
		name:           "Nasdaq Other Listed",
		url:            otherListedURL,
		symbolColumn:   "ACT Symbol",
		exchangeColumn: "Exchange",
	}
}

// Name implements SymbolSource
func (s *NasdaqDirectorySource) Name() string {
	return s.name
}

// IsAvailable answers optimistically. The host rejects lightweight probes
// from non-browser clients while still serving the full file, so only a
// definitive not-found or server error counts as unavailable.
func (s *NasdaqDirectorySource) IsAvailable(ctx context.Context) bool {
	resp, err := s.client.GetRange(ctx, s.url)
	if err != nil {
		return true
	}
	defer resp.Body.Close()
	return resp.StatusCode != http.StatusNotFound && resp.StatusCode < http.StatusInternalServerError
}

// Fetch downloads and parses the directory file.
func (s *NasdaqDirectorySource) Fetch(ctx context.Context) ([]domain.Symbol, error) {
	resp, err := s.client.Get(ctx, s.url)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrNetwork, s.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %s: status %d", domain.ErrNetwork, s.name, resp.StatusCode)
	}

	symbols, err := s.parse(resp.Body)
	if err != nil {
		return nil, err
	}

	s.logger.WithField("count", len(symbols)).Info("Directory fetched")
	return symbols, nil
}

func (s *NasdaqDirectorySource) parse(r io.Reader) ([]domain.Symbol, error) {
	reader := csv.NewReader(r)
	reader.Comma = '|'
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("%w: %s: header: %v", domain.ErrParse, s.name, err)
	}

	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.TrimSpace(name)] = i
	}
	symbolCol, ok := cols[s.symbolColumn]
	if !ok {
		return nil, fmt.Errorf("%w: %s: %s column not found", domain.ErrParse, s.name, s.symbolColumn)
	}
	nameCol, ok := cols["Security Name"]
	if !ok {
		return nil, fmt.Errorf("%w: %s: Security Name column not found", domain.ErrParse, s.name)
	}
	testIssueCol, hasTestIssue := cols["Test Issue"]
	exchangeCol, hasExchange := cols[s.exchangeColumn]

	var symbols []domain.Symbol
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", domain.ErrParse, s.name, err)
		}
		if len(record) <= symbolCol || len(record) <= nameCol {
			continue
		}
		// Trailer row carries the file timestamp, not a security.
		if strings.HasPrefix(record[0], "File Creation Time") {
			break
		}
		if hasTestIssue && len(record) > testIssueCol && strings.TrimSpace(record[testIssueCol]) == "Y" {
			continue
		}

		ticker := NormalizeSymbol(record[symbolCol])
		if !ValidateSymbol(ticker) {
			continue
		}

		market := s.market
		if s.exchangeColumn != "" && hasExchange && len(record) > exchangeCol {
			market = exchangeCodeToMarket(strings.TrimSpace(record[exchangeCol]))
		}

		symbols = append(symbols, domain.Symbol{
			Symbol: ticker,
			Name:   strings.TrimSpace(record[nameCol]),
			Market: market,
			Source: s.name,
		})
	}

	if len(symbols) == 0 {
		return nil, fmt.Errorf("%w: %s: no rows parsed", domain.ErrParse, s.name)
	}
	return symbols, nil
}

// exchangeCodeToMarket maps the single-letter Exchange codes of the
// directory files onto venues.
func exchangeCodeToMarket(code string) domain.Market {
	switch code {
	case "N":
		return domain.MarketNYSE
	case "A":
		return domain.MarketAMEX
	case "P", "Z", "V":
		return domain.MarketNASDAQ
	default:
		return domain.MarketOther
	}
}
