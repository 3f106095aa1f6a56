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

const jpxListedURL = "https://www.jpx.co.jp/markets/statistics-equities/misc/01.html"

// Column headers of the JPX listed-issues table.
const (
	jpxColCode    = "コード"
	jpxColName    = "銘柄名"
	jpxColSegment = "市場・商品区分"
	jpxColSector  = "33業種区分"
)

// JPXListedSource scrapes the Tokyo Stock Exchange listed-issues table.
// Only 4-digit security codes are taken; 5-digit codes are ETFs and other
// products outside the screening universe. Codes get the .T suffix during
// normalization.
type JPXListedSource struct {
	client *httputil.Client
	logger *logger.Logger
	url    string
}

// NewJPXListed creates the JPX listed-issues source
func NewJPXListed(client *httputil.Client, log *logger.Logger) *JPXListedSource {
	return &JPXListedSource{
		client: client,
		logger: log.WithField("source", "jpx_listed"),
		url:    jpxListedURL,
	}
}

// Name implements SymbolSource
func (s *JPXListedSource) Name() string {
	return "JPX Listed"
}

// IsAvailable probes the page with a HEAD request.
func (s *JPXListedSource) IsAvailable(ctx context.Context) bool {
	resp, err := s.client.Head(ctx, s.url)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// Fetch downloads and parses the listed-issues table.
func (s *JPXListedSource) Fetch(ctx context.Context) ([]domain.Symbol, error) {
	resp, err := s.client.Get(ctx, s.url)
	if err != nil {
		return nil, fmt.Errorf("%w: JPX: %v", domain.ErrNetwork, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: JPX: status %d", domain.ErrNetwork, resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: JPX: %v", domain.ErrParse, err)
	}

	symbols, err := s.parseTable(doc)
	if err != nil {
		return nil, err
	}

	s.logger.WithField("count", len(symbols)).Info("Listed issues fetched")
	return symbols, nil
}

func (s *JPXListedSource) parseTable(doc *goquery.Document) ([]domain.Symbol, error) {
	table := s.findTable(doc)
	if table == nil {
		return nil, fmt.Errorf("%w: JPX: listed-issues table not found", domain.ErrParse)
	}

	cols := make(map[string]int)
	table.Find("tr").First().Find("th, td").Each(func(i int, cell *goquery.Selection) {
		cols[strings.TrimSpace(cell.Text())] = i
	})

	codeCol, ok := cols[jpxColCode]
	if !ok {
		return nil, fmt.Errorf("%w: JPX: %s column not found", domain.ErrParse, jpxColCode)
	}
	nameCol, ok := cols[jpxColName]
	if !ok {
		return nil, fmt.Errorf("%w: JPX: %s column not found", domain.ErrParse, jpxColName)
	}
	segmentCol, hasSegment := cols[jpxColSegment]
	sectorCol, hasSector := cols[jpxColSector]

	var symbols []domain.Symbol
	skipped := 0
	table.Find("tr").Each(func(i int, row *goquery.Selection) {
		if i == 0 {
			return
		}
		cells := row.Find("td")
		if cells.Length() <= codeCol || cells.Length() <= nameCol {
			return
		}

		code := strings.TrimSpace(cells.Eq(codeCol).Text())
		if len(code) != 4 || !isDigits(code) {
			skipped++
			return
		}

		ticker := NormalizeSymbol(code)
		if !ValidateSymbol(ticker) {
			skipped++
			return
		}

		sym := domain.Symbol{
			Symbol: ticker,
			Name:   strings.TrimSpace(cells.Eq(nameCol).Text()),
			Market: domain.MarketJPX,
			Source: s.Name(),
		}
		if hasSegment && cells.Length() > segmentCol {
			sym.Market = jpxSegmentToMarket(cells.Eq(segmentCol).Text())
		}
		if hasSector && cells.Length() > sectorCol {
			sym.Sector = strings.TrimSpace(cells.Eq(sectorCol).Text())
		}
		symbols = append(symbols, sym)
	})

	if len(symbols) == 0 {
		return nil, fmt.Errorf("%w: JPX: no rows parsed", domain.ErrParse)
	}
	if skipped > 0 {
		s.logger.WithField("skipped", skipped).Debug("Non-equity codes skipped")
	}
	return symbols, nil
}

// findTable locates the table whose header carries the code column.
func (s *JPXListedSource) findTable(doc *goquery.Document) *goquery.Selection {
	var found *goquery.Selection
	doc.Find("table").EachWithBreak(func(_ int, table *goquery.Selection) bool {
		header := table.Find("tr").First().Text()
		if strings.Contains(header, jpxColCode) && strings.Contains(header, jpxColName) {
			found = table
			return false
		}
		return true
	})
	return found
}

// jpxSegmentToMarket maps the market segment text onto venues.
func jpxSegmentToMarket(segment string) domain.Market {
	switch {
	case strings.Contains(segment, "プライム"):
		return domain.MarketTSEPrime
	case strings.Contains(segment, "スタンダード"):
		return domain.MarketTSEStandard
	case strings.Contains(segment, "グロース"):
		return domain.MarketTSEGrowth
	default:
		return domain.MarketOther
	}
}
