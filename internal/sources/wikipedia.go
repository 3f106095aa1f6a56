package sources

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/ymzkio/rule40-screener/internal/domain"
	"github.com/ymzkio/rule40-screener/pkg/httputil"
	"github.com/ymzkio/rule40-screener/pkg/logger"
)

const (
	wikipediaSP500URL = "https://en.wikipedia.org/wiki/List_of_S%26P_500_companies"
	wikipediaSP400URL = "https://en.wikipedia.org/wiki/List_of_S%26P_400_companies"
)

// WikipediaIndexSource scrapes an index constituents table from Wikipedia.
// The first wikitable on the page is the constituents list; columns are
// located by header text so column reordering does not break parsing.
type WikipediaIndexSource struct {
	client *httputil.Client
	logger *logger.Logger
	name   string
	url    string
}

// NewWikipediaSP500 creates the S&P 500 constituents source
func NewWikipediaSP500(client *httputil.Client, log *logger.Logger) *WikipediaIndexSource {
	return &WikipediaIndexSource{
		client: client,
		logger: log.WithField("source", "wikipedia_sp500"),
		name:   "Wikipedia S&P 500",
		url:    wikipediaSP500URL,
	}
}

// NewWikipediaSP400 creates the S&P 400 constituents source
func NewWikipediaSP400(client *httputil.Client, log *logger.Logger) *WikipediaIndexSource {
	return &WikipediaIndexSource{
		client: client,
		logger: log.WithField("source", "wikipedia_sp400"),
		name:   "Wikipedia S&P 400",
		url:    wikipediaSP400URL,
	}
}

// Name implements SymbolSource
func (s *WikipediaIndexSource) Name() string {
	return s.name
}

// IsAvailable probes the page with a 1-byte ranged request.
func (s *WikipediaIndexSource) IsAvailable(ctx context.Context) bool {
	resp, err := s.client.GetRange(ctx, s.url)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusPartialContent
}

// Fetch downloads and parses the constituents table.
func (s *WikipediaIndexSource) Fetch(ctx context.Context) ([]domain.Symbol, error) {
	resp, err := s.client.Get(ctx, s.url)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrNetwork, s.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %s: status %d", domain.ErrNetwork, s.name, resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrParse, s.name, err)
	}

	symbols, err := s.parseTable(doc)
	if err != nil {
		return nil, err
	}

	s.logger.WithField("count", len(symbols)).Info("Constituents fetched")
	return symbols, nil
}

func (s *WikipediaIndexSource) parseTable(doc *goquery.Document) ([]domain.Symbol, error) {
	table := doc.Find("table.wikitable").First()
	if table.Length() == 0 {
		return nil, fmt.Errorf("%w: %s: constituents table not found", domain.ErrParse, s.name)
	}

	// Header row maps column names to indexes.
	cols := make(map[string]int)
	table.Find("tr").First().Find("th").Each(func(i int, th *goquery.Selection) {
		cols[strings.TrimSpace(th.Text())] = i
	})

	symbolCol, ok := cols["Symbol"]
	if !ok {
		return nil, fmt.Errorf("%w: %s: Symbol column not found", domain.ErrParse, s.name)
	}
	nameCol, ok := cols["Security"]
	if !ok {
		return nil, fmt.Errorf("%w: %s: Security column not found", domain.ErrParse, s.name)
	}
	sectorCol, hasSector := cols["GICS Sector"]
	industryCol, hasIndustry := cols["GICS Sub-Industry"]

	var symbols []domain.Symbol
	table.Find("tr").Each(func(i int, row *goquery.Selection) {
		if i == 0 {
			return
		}
		cells := row.Find("td")
		if cells.Length() <= symbolCol || cells.Length() <= nameCol {
			return
		}

		ticker := NormalizeSymbol(cells.Eq(symbolCol).Text())
		if !ValidateSymbol(ticker) {
			s.logger.WithField("raw", cells.Eq(symbolCol).Text()).Debug("Invalid symbol skipped")
			return
		}

		// Index constituents span NYSE and NASDAQ; the table does not
		// carry the listing venue.
		sym := domain.Symbol{
			Symbol: ticker,
			Name:   strings.TrimSpace(cells.Eq(nameCol).Text()),
			Market: domain.MarketOther,
			Source: s.name,
		}
		if hasSector && cells.Length() > sectorCol {
			sym.Sector = strings.TrimSpace(cells.Eq(sectorCol).Text())
		}
		if hasIndustry && cells.Length() > industryCol {
			sym.Industry = strings.TrimSpace(cells.Eq(industryCol).Text())
		}
		symbols = append(symbols, sym)
	})

	if len(symbols) == 0 {
		return nil, fmt.Errorf("%w: %s: no rows parsed", domain.ErrParse, s.name)
	}
	return symbols, nil
}
