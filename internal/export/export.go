package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/ymzkio/rule40-screener/internal/domain"
	"github.com/ymzkio/rule40-screener/pkg/logger"
)

// Supported output formats.
const (
	FormatCSV  = "csv"
	FormatJSON = "json"
)

// Config controls one export.
type Config struct {
	Format          string `json:"format"`
	FilePath        string `json:"file_path,omitempty"` // file, or directory for a generated name
	Dir             string `json:"dir,omitempty"`       // fallback directory
	DecimalPlaces   int    `json:"decimal_places"`
	IncludeMetadata bool   `json:"include_metadata"`
}

// DefaultConfig returns the standard CSV export settings.
func DefaultConfig() Config {
	return Config{
		Format:          FormatCSV,
		DecimalPlaces:   2,
		IncludeMetadata: true,
	}
}

// Service writes screening results to files.
type Service struct {
	logger *logger.Logger
}

// NewService creates an export service
func NewService(log *logger.Logger) *Service {
	return &Service{logger: log.WithField("module", "export")}
}

// Export writes the results and returns the written file path.
func (s *Service) Export(results []domain.Rule40Result, cfg Config) (string, error) {
	path := s.resolvePath(cfg)
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("failed to create export directory: %w", err)
		}
	}

	var err error
	switch strings.ToLower(cfg.Format) {
	case FormatCSV:
		err = s.exportCSV(results, cfg, path)
	case FormatJSON:
		err = s.exportJSON(results, cfg, path)
	default:
		return "", fmt.Errorf("unsupported export format: %s", cfg.Format)
	}
	if err != nil {
		return "", err
	}

	s.logger.WithFields(map[string]interface{}{
		"path":    path,
		"results": len(results),
		"format":  cfg.Format,
	}).Info("Results exported")
	return path, nil
}

// resolvePath picks the output file. A configured path that is a directory
// gets a timestamped file name inside it.
func (s *Service) resolvePath(cfg Config) string {
	name := fmt.Sprintf("rule40_results_%s.%s",
		time.Now().Format("20060102_150405"), strings.ToLower(cfg.Format))

	if cfg.FilePath != "" {
		if info, err := os.Stat(cfg.FilePath); err == nil && info.IsDir() {
			return filepath.Join(cfg.FilePath, name)
		}
		return cfg.FilePath
	}

	dir := cfg.Dir
	if dir == "" {
		dir = "exports"
	}
	return filepath.Join(dir, name)
}

var csvHeader = []string{
	"Symbol", "Name", "Rule of 40 (OP)", "Rule of 40 (EBITDA)",
	"Revenue Growth (%)", "Operating Margin (%)", "EBITDA Margin (%)",
	"Market Cap (B$)", "Sector", "Industry", "Data Quality", "Calculated At",
}

func (s *Service) exportCSV(results []domain.Rule40Result, cfg Config, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create export file: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(csvHeader); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	for _, r := range results {
		row := []string{
			r.Symbol,
			r.Name,
			formatValue(r.R40OP, 1, cfg.DecimalPlaces),
			formatValue(r.R40EBITDA, 1, cfg.DecimalPlaces),
			formatValue(r.RevenueGrowthYoY, 100, cfg.DecimalPlaces),
			formatValue(r.OperatingMargin, 100, cfg.DecimalPlaces),
			formatValue(r.EBITDAMargin, 100, cfg.DecimalPlaces),
			formatValue(r.MarketCap, 1e-9, cfg.DecimalPlaces),
			r.Sector,
			r.Industry,
			string(r.DataQuality),
			r.CalculationTime.Format(time.RFC3339),
		}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("failed to write row: %w", err)
		}
	}

	if cfg.IncludeMetadata {
		if err := w.Write([]string{""}); err != nil {
			return fmt.Errorf("failed to write metadata: %w", err)
		}
		for _, kv := range metadataRows(cfg, len(results)) {
			if err := w.Write(kv); err != nil {
				return fmt.Errorf("failed to write metadata: %w", err)
			}
		}
	}

	w.Flush()
	return w.Error()
}

type jsonDocument struct {
	Metadata map[string]interface{} `json:"metadata,omitempty"`
	Results  []domain.Rule40Result  `json:"results"`
}

func (s *Service) exportJSON(results []domain.Rule40Result, cfg Config, path string) error {
	doc := jsonDocument{Results: results}
	if cfg.IncludeMetadata {
		doc.Metadata = metadata(cfg, len(results))
	}

	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode results: %w", err)
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("failed to write export file: %w", err)
	}
	return nil
}

// formatValue renders an optional number scaled into display units, empty
// when absent.
func formatValue(v *float64, scale float64, places int) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v*scale, 'f', places, 64)
}

func metadata(cfg Config, count int) map[string]interface{} {
	return map[string]interface{}{
		"exported_at":    time.Now().Format(time.RFC3339),
		"result_count":   count,
		"format":         strings.ToUpper(cfg.Format),
		"decimal_places": cfg.DecimalPlaces,
		"application":    "rule40-screener",
	}
}

func metadataRows(cfg Config, count int) [][]string {
	return [][]string{
		{"# exported_at", time.Now().Format(time.RFC3339)},
		{"# result_count", strconv.Itoa(count)},
		{"# format", strings.ToUpper(cfg.Format)},
		{"# decimal_places", strconv.Itoa(cfg.DecimalPlaces)},
		{"# application", "rule40-screener"},
	}
}
