package screening

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ymzkio/rule40-screener/internal/cache"
	"github.com/ymzkio/rule40-screener/internal/domain"
	"github.com/ymzkio/rule40-screener/internal/sources"
	"github.com/ymzkio/rule40-screener/pkg/logger"
)

type fakeSource struct {
	name      string
	symbols   []domain.Symbol
	err       error
	available bool
}

func (f *fakeSource) Fetch(context.Context) ([]domain.Symbol, error) { return f.symbols, f.err }
func (f *fakeSource) IsAvailable(context.Context) bool               { return f.available }
func (f *fakeSource) Name() string                                   { return f.name }

type fakeProvider struct {
	mu        sync.Mutex
	data      map[string]*domain.FinancialData
	errs      map[string]error
	rateLimit map[string]int // failures before success
	calls     map[string]int
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		data:      make(map[string]*domain.FinancialData),
		errs:      make(map[string]error),
		rateLimit: make(map[string]int),
		calls:     make(map[string]int),
	}
}

func (f *fakeProvider) GetFinancialData(_ context.Context, symbol string) (*domain.FinancialData, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[symbol]++
	if n := f.rateLimit[symbol]; n > 0 {
		f.rateLimit[symbol]--
		return nil, domain.ErrRateLimited
	}
	if err := f.errs[symbol]; err != nil {
		return nil, err
	}
	if d, ok := f.data[symbol]; ok {
		return d, nil
	}
	return nil, domain.ErrDataFetch
}

func (f *fakeProvider) callCount(symbol string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[symbol]
}

// fdata builds a record whose TTM figures come from the summary fields.
func fdata(symbol string, growth, margin float64) *domain.FinancialData {
	return &domain.FinancialData{
		Symbol: symbol,
		Info: map[string]interface{}{
			"longName":         symbol + " Inc.",
			"marketCap":        float64(10_000_000_000),
			"sector":           "Technology",
			"revenueGrowth":    growth,
			"operatingMargins": margin,
		},
		LastUpdated: time.Now(),
		DataQuality: domain.QualityComplete,
	}
}

func newTestService(t *testing.T, registry *sources.Registry, provider DataProvider) (*Service, *cache.Store) {
	t.Helper()
	store, err := cache.Open(t.TempDir(), 24*time.Hour, logger.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	s := New(registry, provider, store, logger.NewNop())
	s.delay = func() time.Duration { return 0 }
	s.sleep = func(ctx context.Context, _ time.Duration) error { return ctx.Err() }
	return s, store
}

func baseConfig() domain.ScreeningConfig {
	return domain.ScreeningConfig{
		Sources:       []string{"test"},
		Variant:       domain.VariantOP,
		Period:        domain.PeriodTTM,
		Threshold:     40,
		MaxWorkers:    4,
		CacheTTLHours: 24,
	}
}

func TestScreenEndToEnd(t *testing.T) {
	registry := sources.NewRegistry()
	registry.Register("test", &fakeSource{
		name:      "Test Source",
		available: true,
		symbols: []domain.Symbol{
			{Symbol: "HIGH", Name: "High"},
			{Symbol: "LOW", Name: "Low"},
			{Symbol: "MID", Name: "Mid"},
		},
	})

	provider := newFakeProvider()
	provider.data["HIGH"] = fdata("HIGH", 0.40, 0.30) // score 70
	provider.data["LOW"] = fdata("LOW", 0.05, 0.10)   // score 15
	provider.data["MID"] = fdata("MID", 0.25, 0.20)   // score 45

	s, _ := newTestService(t, registry, provider)

	var stages []string
	var scored []string
	results, err := s.Screen(context.Background(), baseConfig(),
		func(p Progress) { stages = append(stages, p.Stage) },
		func(r domain.Rule40Result) { scored = append(scored, r.Symbol) },
	)
	require.NoError(t, err)

	// LOW is under the threshold; the rest sort by score descending.
	require.Len(t, results, 2)
	assert.Equal(t, "HIGH", results[0].Symbol)
	assert.Equal(t, "MID", results[1].Symbol)
	assert.InDelta(t, 70, *results[0].R40OP, 1e-9)
	assert.Equal(t, "HIGH Inc.", results[0].Name)
	assert.Equal(t, "Technology", results[0].Sector)
	assert.Equal(t, domain.QualityComplete, results[0].DataQuality)

	// Result callback fires for every scored symbol, before filtering.
	assert.Len(t, scored, 3)

	assert.Contains(t, stages, "universe")
	assert.Contains(t, stages, "fetch")
	assert.Contains(t, stages, "calculate")
	assert.Contains(t, stages, "done")
}

func TestScreenFailingSourceIsolated(t *testing.T) {
	registry := sources.NewRegistry()
	registry.Register("bad", &fakeSource{
		name: "Bad", available: true, err: domain.ErrNetwork,
	})
	registry.Register("down", &fakeSource{
		name: "Down", available: false,
		symbols: []domain.Symbol{{Symbol: "GHOST"}},
	})
	registry.Register("good", &fakeSource{
		name: "Good", available: true,
		symbols: []domain.Symbol{{Symbol: "OK"}},
	})

	provider := newFakeProvider()
	provider.data["OK"] = fdata("OK", 0.30, 0.25)

	s, _ := newTestService(t, registry, provider)

	cfg := baseConfig()
	cfg.Sources = []string{"bad", "down", "good", "missing"}
	results, err := s.Screen(context.Background(), cfg, nil, nil)
	require.NoError(t, err)

	require.Len(t, results, 1)
	assert.Equal(t, "OK", results[0].Symbol)
	assert.Zero(t, provider.callCount("GHOST"), "unavailable source must not be fetched")
}

func TestScreenFailingSymbolOmitted(t *testing.T) {
	registry := sources.NewRegistry()
	registry.Register("test", &fakeSource{
		name: "Test", available: true,
		symbols: []domain.Symbol{{Symbol: "GOOD"}, {Symbol: "BROKEN"}},
	})

	provider := newFakeProvider()
	provider.data["GOOD"] = fdata("GOOD", 0.30, 0.25)
	provider.errs["BROKEN"] = domain.ErrDataFetch

	s, _ := newTestService(t, registry, provider)

	results, err := s.Screen(context.Background(), baseConfig(), nil, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "GOOD", results[0].Symbol)
}

func TestBuildUniverseDedupAndExclude(t *testing.T) {
	registry := sources.NewRegistry()
	registry.Register("first", &fakeSource{
		name: "First", available: true,
		symbols: []domain.Symbol{
			{Symbol: "AAPL", Name: "Apple (first)", Source: "First"},
			{Symbol: "MSFT", Name: "Microsoft", Source: "First"},
			{Symbol: "SKIP", Name: "Skipped", Source: "First"},
		},
	})
	registry.Register("second", &fakeSource{
		name: "Second", available: true,
		symbols: []domain.Symbol{
			{Symbol: "AAPL", Name: "Apple (second)", Source: "Second"},
		},
	})

	s, _ := newTestService(t, registry, newFakeProvider())

	cfg := baseConfig()
	cfg.Sources = []string{"first", "second"}
	cfg.ExcludeSymbols = []string{" skip "}

	universe := s.buildUniverse(context.Background(), cfg)
	require.Len(t, universe, 2)

	// Duplicate keeps its first position but the later source's data wins.
	assert.Equal(t, "AAPL", universe[0].Symbol)
	assert.Equal(t, "Apple (second)", universe[0].Name)
	assert.Equal(t, "MSFT", universe[1].Symbol)
}

func TestFetchOneRateLimitRetry(t *testing.T) {
	provider := newFakeProvider()
	provider.data["AAPL"] = fdata("AAPL", 0.30, 0.25)
	provider.rateLimit["AAPL"] = 2

	s, _ := newTestService(t, sources.NewRegistry(), provider)

	var waits []time.Duration
	s.sleep = func(_ context.Context, d time.Duration) error {
		waits = append(waits, d)
		return nil
	}

	data, err := s.fetchOne(context.Background(), domain.Symbol{Symbol: "AAPL"}, baseConfig())
	require.NoError(t, err)
	assert.Equal(t, "AAPL", data.Symbol)
	assert.Equal(t, 3, provider.callCount("AAPL"))

	// Jitter first, then the linear backoff steps.
	require.Len(t, waits, 3)
	assert.Equal(t, 5*time.Second, waits[1])
	assert.Equal(t, 10*time.Second, waits[2])
}

func TestFetchOneRateLimitExhausted(t *testing.T) {
	provider := newFakeProvider()
	provider.data["AAPL"] = fdata("AAPL", 0.30, 0.25)
	provider.rateLimit["AAPL"] = 3

	s, _ := newTestService(t, sources.NewRegistry(), provider)

	_, err := s.fetchOne(context.Background(), domain.Symbol{Symbol: "AAPL"}, baseConfig())
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrRateLimited))
	assert.Equal(t, 3, provider.callCount("AAPL"))
}

func TestFetchOneUsesCache(t *testing.T) {
	provider := newFakeProvider()
	provider.data["AAPL"] = fdata("AAPL", 0.30, 0.25)

	s, store := newTestService(t, sources.NewRegistry(), provider)
	require.NoError(t, store.Set("financial_data_AAPL", fdata("AAPL", 0.99, 0.99)))

	cfg := baseConfig()
	data, err := s.fetchOne(context.Background(), domain.Symbol{Symbol: "AAPL"}, cfg)
	require.NoError(t, err)
	g, _ := data.InfoFloat("revenueGrowth")
	assert.Equal(t, 0.99, g, "cached record must be served")
	assert.Zero(t, provider.callCount("AAPL"))

	// Force refresh bypasses the cache and rewrites it.
	cfg.ForceRefresh = true
	data, err = s.fetchOne(context.Background(), domain.Symbol{Symbol: "AAPL"}, cfg)
	require.NoError(t, err)
	g, _ = data.InfoFloat("revenueGrowth")
	assert.Equal(t, 0.30, g)
	assert.Equal(t, 1, provider.callCount("AAPL"))

	var refreshed domain.FinancialData
	hit, err := store.Get("financial_data_AAPL", &refreshed)
	require.NoError(t, err)
	require.True(t, hit)
	g, _ = refreshed.InfoFloat("revenueGrowth")
	assert.Equal(t, 0.30, g)
}

func TestApplyFilters(t *testing.T) {
	s, _ := newTestService(t, sources.NewRegistry(), newFakeProvider())

	results := []domain.Rule40Result{
		{Symbol: "BIG", R40OP: domain.Float(55), OperatingMargin: domain.Float(0.2), MarketCap: domain.Float(5e9), Sector: "Technology"},
		{Symbol: "SMALL", R40OP: domain.Float(50), OperatingMargin: domain.Float(0.1), MarketCap: domain.Float(5e8), Sector: "Technology"},
		{Symbol: "UNPROFITABLE", R40OP: domain.Float(60), OperatingMargin: domain.Float(-0.1), MarketCap: domain.Float(8e9), Sector: "Technology"},
		{Symbol: "WEAK", R40OP: domain.Float(10), OperatingMargin: domain.Float(0.3), MarketCap: domain.Float(9e9), Sector: "Energy"},
		{Symbol: "NOSCORE", MarketCap: domain.Float(9e9)},
	}

	cfg := baseConfig()
	cfg.MinRevenue = 1e9
	cfg.MarginPositiveOnly = true
	cfg.Filters = []domain.Filter{
		{Field: "sector", Operator: domain.OpEQ, Value: "Technology"},
	}

	filtered := s.applyFilters(results, cfg)
	require.Len(t, filtered, 1)
	assert.Equal(t, "BIG", filtered[0].Symbol)
}

func TestSortResultsNilsToBottom(t *testing.T) {
	s, _ := newTestService(t, sources.NewRegistry(), newFakeProvider())

	results := []domain.Rule40Result{
		{Symbol: "NONE"},
		{Symbol: "LOW", R40OP: domain.Float(10)},
		{Symbol: "HIGH", R40OP: domain.Float(90)},
	}

	cfg := baseConfig()
	sorted := s.sortResults(results, cfg)
	assert.Equal(t, []string{"HIGH", "LOW", "NONE"}, symbolsOf(sorted))

	// Ascending sort still pushes the valueless result to the bottom.
	cfg.Sort = &domain.SortSpec{Field: "r40_op", Ascending: true}
	sorted = s.sortResults(results, cfg)
	assert.Equal(t, []string{"LOW", "HIGH", "NONE"}, symbolsOf(sorted))
}

func TestScreenCanceledContext(t *testing.T) {
	registry := sources.NewRegistry()
	registry.Register("test", &fakeSource{
		name: "Test", available: true,
		symbols: []domain.Symbol{{Symbol: "AAPL"}},
	})

	s, _ := newTestService(t, registry, newFakeProvider())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Screen(ctx, baseConfig(), nil, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func symbolsOf(results []domain.Rule40Result) []string {
	out := make([]string, len(results))
	for i, r := range results {
		out[i] = r.Symbol
	}
	return out
}
