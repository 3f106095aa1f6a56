package sources

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ymzkio/rule40-screener/internal/domain"
	"github.com/ymzkio/rule40-screener/pkg/logger"
)

// CSVFileSource reads symbols from a local CSV file with a header row.
// The symbol column is "symbol" (falling back to the first column when that
// header is absent); "name", "sector", "industry" and "market" are picked
// up when present.
type CSVFileSource struct {
	path   string
	logger *logger.Logger
}

// NewCSVFileSource creates a CSV file source
func NewCSVFileSource(path string, log *logger.Logger) *CSVFileSource {
	return &CSVFileSource{
		path:   path,
		logger: log.WithField("source", "csv_file"),
	}
}

// Name implements SymbolSource
func (s *CSVFileSource) Name() string {
	return "CSV File: " + s.path
}

// IsAvailable reports whether the file exists.
func (s *CSVFileSource) IsAvailable(_ context.Context) bool {
	info, err := os.Stat(s.path)
	return err == nil && !info.IsDir()
}

// Fetch reads and parses the file.
func (s *CSVFileSource) Fetch(_ context.Context) ([]domain.Symbol, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrDataSource, s.Name(), err)
	}
	defer f.Close()

	symbols, err := s.parse(f)
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(map[string]interface{}{
		"path":  s.path,
		"count": len(symbols),
	}).Info("CSV symbols loaded")
	return symbols, nil
}

func (s *CSVFileSource) parse(r io.Reader) ([]domain.Symbol, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("%w: %s: header: %v", domain.ErrParse, s.Name(), err)
	}

	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.ToLower(strings.TrimSpace(name))] = i
	}

	symbolCol, ok := cols["symbol"]
	if !ok {
		symbolCol = 0
	}
	nameCol, hasName := cols["name"]
	sectorCol, hasSector := cols["sector"]
	industryCol, hasIndustry := cols["industry"]
	marketCol, hasMarket := cols["market"]

	var symbols []domain.Symbol
	invalid := 0
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", domain.ErrParse, s.Name(), err)
		}
		if len(record) <= symbolCol {
			invalid++
			continue
		}

		ticker := NormalizeSymbol(record[symbolCol])
		if !ValidateSymbol(ticker) {
			invalid++
			continue
		}

		sym := domain.Symbol{
			Symbol: ticker,
			Market: domain.MarketOther,
			Source: s.Name(),
		}
		if hasName && len(record) > nameCol {
			sym.Name = strings.TrimSpace(record[nameCol])
		}
		if hasSector && len(record) > sectorCol {
			sym.Sector = strings.TrimSpace(record[sectorCol])
		}
		if hasIndustry && len(record) > industryCol {
			sym.Industry = strings.TrimSpace(record[industryCol])
		}
		if hasMarket && len(record) > marketCol {
			sym.Market = domain.ParseMarket(strings.ToUpper(strings.TrimSpace(record[marketCol])))
		}
		symbols = append(symbols, sym)
	}

	if invalid > 0 {
		s.logger.WithField("invalid", invalid).Debug("Invalid rows skipped")
	}
	return symbols, nil
}
