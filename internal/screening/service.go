package screening

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ymzkio/rule40-screener/internal/cache"
	"github.com/ymzkio/rule40-screener/internal/domain"
	"github.com/ymzkio/rule40-screener/internal/rule40"
	"github.com/ymzkio/rule40-screener/internal/sources"
	"github.com/ymzkio/rule40-screener/pkg/logger"
)

const (
	cacheKeyPrefix = "financial_data_"

	// Upstream tolerance for parallel fundamentals requests is low; more
	// workers only trade throughput for 429 responses.
	maxConcurrentFetches = 2

	maxFetchAttempts     = 3
	rateLimitBackoffStep = 5 * time.Second
)

// DataProvider supplies fundamentals for one symbol.
type DataProvider interface {
	GetFinancialData(ctx context.Context, symbol string) (*domain.FinancialData, error)
}

// CacheStore is the slice of the cache the service needs.
type CacheStore interface {
	Get(key string, out interface{}) (bool, error)
	SetTTL(key string, value interface{}, ttl time.Duration) error
	Stats() (cache.Stats, error)
	Cleanup() (int, error)
	Clear() (int, error)
}

// Progress reports pipeline advancement. Stage-level events have the stage
// total; per-symbol events during fetch and calculation carry the symbol.
type Progress struct {
	Stage   string `json:"stage"`
	Current int    `json:"current"`
	Total   int    `json:"total"`
	Symbol  string `json:"symbol,omitempty"`
	Message string `json:"message"`
}

// ProgressFunc receives progress events. May be nil.
type ProgressFunc func(Progress)

// ResultFunc receives each scored result as it is produced, before
// filtering. May be nil.
type ResultFunc func(domain.Rule40Result)

// Service runs the screening pipeline: universe, fetch, calculate, filter,
// sort. One Service is safe for sequential runs; a run is single-use.
type Service struct {
	registry *sources.Registry
	provider DataProvider
	cache    CacheStore
	calc     *rule40.Calculator
	logger   *logger.Logger

	// Injection points for time-dependent behavior.
	delay func() time.Duration
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a screening service. cacheStore may be nil to run uncached.
func New(registry *sources.Registry, provider DataProvider, cacheStore CacheStore, log *logger.Logger) *Service {
	return &Service{
		registry: registry,
		provider: provider,
		cache:    cacheStore,
		calc:     rule40.NewCalculator(log),
		logger:   log.WithField("module", "screening"),
		delay:    preRequestDelay,
		sleep:    sleepContext,
	}
}

// DisablePacing turns off the pre-request jitter and rate-limit backoff
// waits. Only for tests against local fixtures.
func (s *Service) DisablePacing() {
	s.delay = func() time.Duration { return 0 }
	s.sleep = func(ctx context.Context, d time.Duration) error { return ctx.Err() }
}

// Screen runs one full screening pass. Per-source and per-symbol failures
// are logged and skipped; only cancellation or an empty pipeline input
// aborts the run.
func (s *Service) Screen(ctx context.Context, cfg domain.ScreeningConfig, onProgress ProgressFunc, onResult ResultFunc) ([]domain.Rule40Result, error) {
	start := time.Now()
	s.logger.WithFields(map[string]interface{}{
		"sources": cfg.Sources,
		"variant": cfg.Variant,
		"period":  cfg.Period,
	}).Info("Screening started")

	emit(onProgress, Progress{Stage: "universe", Current: 0, Total: 4, Message: "Building symbol universe"})
	symbols := s.buildUniverse(ctx, cfg)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.logger.WithField("count", len(symbols)).Info("Universe built")

	emit(onProgress, Progress{Stage: "fetch", Current: 1, Total: 4, Message: fmt.Sprintf("Fetching financial data for %d symbols", len(symbols))})
	fetched := s.fetchFinancialData(ctx, symbols, cfg, onProgress)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.logger.WithField("count", len(fetched)).Info("Financial data fetched")

	emit(onProgress, Progress{Stage: "calculate", Current: 2, Total: 4, Message: "Calculating Rule of 40"})
	results := s.calculate(ctx, fetched, cfg, onProgress, onResult)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	emit(onProgress, Progress{Stage: "filter", Current: 3, Total: 4, Message: "Filtering results"})
	filtered := s.applyFilters(results, cfg)
	sorted := s.sortResults(filtered, cfg)

	emit(onProgress, Progress{Stage: "done", Current: 4, Total: 4, Message: "Screening finished"})
	s.logger.WithFields(map[string]interface{}{
		"results": len(sorted),
		"elapsed": time.Since(start),
	}).Info("Screening completed")

	return sorted, nil
}

// buildUniverse gathers symbols from the configured sources and an optional
// CSV file, drops excluded tickers and deduplicates. On a duplicate ticker
// the later source wins while the symbol keeps its first position.
func (s *Service) buildUniverse(ctx context.Context, cfg domain.ScreeningConfig) []domain.Symbol {
	var all []domain.Symbol

	for _, id := range cfg.Sources {
		if ctx.Err() != nil {
			return nil
		}
		src, ok := s.registry.Get(id)
		if !ok {
			s.logger.WithField("source", id).Warn("Unknown source skipped")
			continue
		}
		all = append(all, s.fetchSource(ctx, id, src)...)
	}

	if cfg.CSVPath != "" {
		csvSrc := sources.NewCSVFileSource(cfg.CSVPath, s.logger)
		all = append(all, s.fetchSource(ctx, "csv", csvSrc)...)
	}

	excluded := make(map[string]bool, len(cfg.ExcludeSymbols))
	for _, raw := range cfg.ExcludeSymbols {
		excluded[sources.NormalizeSymbol(raw)] = true
	}

	index := make(map[string]int)
	var unique []domain.Symbol
	for _, sym := range all {
		if excluded[sym.Symbol] {
			continue
		}
		if i, ok := index[sym.Symbol]; ok {
			unique[i] = sym
		} else {
			index[sym.Symbol] = len(unique)
			unique = append(unique, sym)
		}
	}
	return unique
}

// fetchSource pulls one source, reducing its failures to log entries.
func (s *Service) fetchSource(ctx context.Context, id string, src sources.SymbolSource) []domain.Symbol {
	if !src.IsAvailable(ctx) {
		s.logger.WithField("source", id).Warn("Source not available")
		return nil
	}
	symbols, err := src.Fetch(ctx)
	if err != nil {
		s.logger.WithError(err).WithField("source", id).Error("Source fetch failed")
		return nil
	}
	s.logger.WithFields(map[string]interface{}{
		"source": id,
		"count":  len(symbols),
	}).Info("Source fetched")
	return symbols
}

// fetchFinancialData runs the fetch worker pool. Failed symbols are logged
// and omitted from the output.
func (s *Service) fetchFinancialData(ctx context.Context, symbols []domain.Symbol, cfg domain.ScreeningConfig, onProgress ProgressFunc) []*domain.FinancialData {
	if len(symbols) == 0 {
		return nil
	}

	workers := cfg.MaxWorkers
	if workers < 1 {
		s.logger.Warn("max_workers below 1, using 1")
		workers = 1
	}
	if workers > len(symbols) {
		workers = len(symbols)
	}
	if workers > maxConcurrentFetches {
		workers = maxConcurrentFetches
	}

	jobs := make(chan domain.Symbol)
	out := make(chan *domain.FinancialData, len(symbols))
	var completed atomic.Int64
	var wg sync.WaitGroup

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for sym := range jobs {
				if ctx.Err() != nil {
					continue
				}
				data, err := s.fetchOne(ctx, sym, cfg)
				done := int(completed.Add(1))
				if err != nil {
					s.logger.WithError(err).WithField("symbol", sym.Symbol).Warn("Financial data fetch failed")
				} else if data != nil {
					out <- data
				}
				emit(onProgress, Progress{
					Stage:   "fetch",
					Current: done,
					Total:   len(symbols),
					Symbol:  sym.Symbol,
					Message: fmt.Sprintf("Fetched %d/%d", done, len(symbols)),
				})
			}
		}()
	}

	for _, sym := range symbols {
		jobs <- sym
	}
	close(jobs)
	wg.Wait()
	close(out)

	fetched := make([]*domain.FinancialData, 0, len(symbols))
	for data := range out {
		fetched = append(fetched, data)
	}
	return fetched
}

// fetchOne resolves one symbol: cache first, then the provider with jitter
// and a linear backoff on rate limiting. A cache read error is a miss, a
// cache write error only a log entry.
func (s *Service) fetchOne(ctx context.Context, sym domain.Symbol, cfg domain.ScreeningConfig) (*domain.FinancialData, error) {
	key := cacheKeyPrefix + sym.Symbol

	if !cfg.ForceRefresh && s.cache != nil {
		var cached domain.FinancialData
		hit, err := s.cache.Get(key, &cached)
		if err != nil {
			s.logger.WithError(err).WithField("symbol", sym.Symbol).Warn("Cache read failed")
		} else if hit {
			s.logger.WithField("symbol", sym.Symbol).Debug("Cache hit")
			return &cached, nil
		}
	}

	if err := s.sleep(ctx, s.delay()); err != nil {
		return nil, err
	}

	var data *domain.FinancialData
	var err error
	for attempt := 0; attempt < maxFetchAttempts; attempt++ {
		data, err = s.provider.GetFinancialData(ctx, sym.Symbol)
		if err == nil {
			break
		}
		if errors.Is(err, domain.ErrRateLimited) && attempt < maxFetchAttempts-1 {
			wait := time.Duration(attempt+1) * rateLimitBackoffStep
			s.logger.WithFields(map[string]interface{}{
				"symbol": sym.Symbol,
				"wait":   wait,
			}).Warn("Rate limited, backing off")
			if serr := s.sleep(ctx, wait); serr != nil {
				return nil, serr
			}
			continue
		}
		return nil, err
	}
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		ttl := time.Duration(cfg.CacheTTLHours) * time.Hour
		if err := s.cache.SetTTL(key, data, ttl); err != nil {
			s.logger.WithError(err).WithField("symbol", sym.Symbol).Warn("Cache write failed")
		}
	}
	return data, nil
}

// calculate scores each record and enriches the result with the provider
// summary fields. A failed calculation drops only that symbol.
func (s *Service) calculate(ctx context.Context, fetched []*domain.FinancialData, cfg domain.ScreeningConfig, onProgress ProgressFunc, onResult ResultFunc) []domain.Rule40Result {
	results := make([]domain.Rule40Result, 0, len(fetched))

	for i, data := range fetched {
		if ctx.Err() != nil {
			return results
		}

		result, err := s.calc.Calculate(data, cfg.Period, cfg.Variant)
		if err != nil {
			s.logger.WithError(err).WithField("symbol", data.Symbol).Warn("Calculation failed")
		} else {
			enrich(result, data)
			results = append(results, *result)
			if onResult != nil {
				onResult(*result)
			}
		}

		emit(onProgress, Progress{
			Stage:   "calculate",
			Current: i + 1,
			Total:   len(fetched),
			Symbol:  data.Symbol,
			Message: fmt.Sprintf("Calculated %d/%d", i+1, len(fetched)),
		})
	}
	return results
}

// enrich copies the descriptive summary fields onto the result.
func enrich(r *domain.Rule40Result, data *domain.FinancialData) {
	if len(data.Info) == 0 {
		return
	}
	r.Name = data.InfoString("longName")
	if r.Name == "" {
		r.Name = data.InfoString("shortName")
	}
	if mc, ok := data.InfoFloat("marketCap"); ok {
		r.MarketCap = domain.Float(mc)
	}
	r.Sector = data.InfoString("sector")
	r.Industry = data.InfoString("industry")
}

// applyFilters runs the fixed filters then the custom ones, in order:
// threshold, minimum size, positive margin, custom.
func (s *Service) applyFilters(results []domain.Rule40Result, cfg domain.ScreeningConfig) []domain.Rule40Result {
	filtered := results

	filtered = keep(filtered, func(r *domain.Rule40Result) bool {
		return r.MeetsThreshold(cfg.Threshold, cfg.Variant)
	})
	s.logger.WithFields(map[string]interface{}{
		"threshold": cfg.Threshold,
		"remaining": len(filtered),
	}).Debug("Threshold filter applied")

	if cfg.MinRevenue > 0 {
		// Market cap stands in for revenue here: the size floor predates
		// the statement fetch and market cap is always in the summary.
		filtered = keep(filtered, func(r *domain.Rule40Result) bool {
			return r.MarketCap != nil && *r.MarketCap >= cfg.MinRevenue
		})
	}

	if cfg.MarginPositiveOnly {
		filtered = keep(filtered, func(r *domain.Rule40Result) bool {
			return (r.OperatingMargin != nil && *r.OperatingMargin > 0) ||
				(r.EBITDAMargin != nil && *r.EBITDAMargin > 0)
		})
	}

	for _, f := range cfg.Filters {
		filtered = keep(filtered, f.Apply)
		s.logger.WithFields(map[string]interface{}{
			"field":     f.Field,
			"operator":  f.Operator,
			"remaining": len(filtered),
		}).Debug("Custom filter applied")
	}

	return filtered
}

// sortResults orders by the requested field, or by the variant score
// descending when no sort is configured. Results without a value for the
// sort field always land at the bottom.
func (s *Service) sortResults(results []domain.Rule40Result, cfg domain.ScreeningConfig) []domain.Rule40Result {
	if cfg.Sort == nil {
		sort.SliceStable(results, func(i, j int) bool {
			a := results[i].R40Value(cfg.Variant)
			b := results[j].R40Value(cfg.Variant)
			if a == nil {
				return false
			}
			if b == nil {
				return true
			}
			return *a > *b
		})
		return results
	}

	spec := *cfg.Sort
	sort.SliceStable(results, func(i, j int) bool {
		a, _ := domain.FieldValue(&results[i], spec.Field)
		b, _ := domain.FieldValue(&results[j], spec.Field)
		if a == nil {
			return false
		}
		if b == nil {
			return true
		}
		return lessValue(a, b, spec.Ascending)
	})
	return results
}

func lessValue(a, b interface{}, ascending bool) bool {
	switch av := a.(type) {
	case float64:
		bv, ok := b.(float64)
		if !ok {
			return false
		}
		if ascending {
			return av < bv
		}
		return av > bv
	case string:
		bv, ok := b.(string)
		if !ok {
			return false
		}
		if ascending {
			return av < bv
		}
		return av > bv
	}
	return false
}

func keep(results []domain.Rule40Result, pred func(*domain.Rule40Result) bool) []domain.Rule40Result {
	kept := results[:0:0]
	for i := range results {
		if pred(&results[i]) {
			kept = append(kept, results[i])
		}
	}
	return kept
}

func emit(onProgress ProgressFunc, p Progress) {
	if onProgress != nil {
		onProgress(p)
	}
}

// preRequestDelay is the jitter before each provider request.
func preRequestDelay() time.Duration {
	return time.Duration(500+rand.Intn(1001)) * time.Millisecond
}

// sleepContext sleeps for d unless the context is canceled first.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// CacheStats reports cache contents.
func (s *Service) CacheStats() (cache.Stats, error) {
	if s.cache == nil {
		return cache.Stats{}, nil
	}
	return s.cache.Stats()
}

// CleanupCache drops expired cache entries.
func (s *Service) CleanupCache() (int, error) {
	if s.cache == nil {
		return 0, nil
	}
	return s.cache.Cleanup()
}

// ClearCache drops all cache entries.
func (s *Service) ClearCache() (int, error) {
	if s.cache == nil {
		return 0, nil
	}
	n, err := s.cache.Clear()
	if err == nil {
		s.logger.Info("Cache cleared")
	}
	return n, err
}
