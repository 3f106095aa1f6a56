package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ymzkio/rule40-screener/internal/domain"
	"github.com/ymzkio/rule40-screener/pkg/logger"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir(), 24*time.Hour, logger.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStoreRoundTrip(t *testing.T) {
	s := openTestStore(t)

	in := domain.FinancialData{
		Symbol:        "AAPL",
		RevenueAnnual: domain.Series{391035000000, 383285000000},
		RevenueTTM:    domain.Series{400366000000},
		Info:          map[string]interface{}{"revenueGrowth": 0.081},
		LastUpdated:   time.Now(),
		DataQuality:   domain.QualityComplete,
	}
	require.NoError(t, s.Set("financial_data_AAPL", &in))

	var out domain.FinancialData
	hit, err := s.Get("financial_data_AAPL", &out)
	require.NoError(t, err)
	require.True(t, hit)

	assert.Equal(t, in.Symbol, out.Symbol)
	// Series order survives the round trip.
	assert.Equal(t, in.RevenueAnnual, out.RevenueAnnual)
	assert.Equal(t, in.RevenueTTM, out.RevenueTTM)
	assert.Equal(t, in.DataQuality, out.DataQuality)

	g, ok := out.InfoFloat("revenueGrowth")
	require.True(t, ok)
	assert.Equal(t, 0.081, g)
}

func TestStoreMiss(t *testing.T) {
	s := openTestStore(t)

	var out domain.FinancialData
	hit, err := s.Get("financial_data_NOPE", &out)
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestStoreZeroTTLExpiresImmediately(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.SetTTL("k", "v", 0))

	var out string
	hit, err := s.Get("k", &out)
	require.NoError(t, err)
	assert.False(t, hit, "zero TTL entry must never be served")

	// The expired read dropped the entry.
	stats, err := s.Stats()
	require.NoError(t, err)
	assert.Equal(t, 0, stats.TotalEntries)
}

func TestStoreOverwrite(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.Set("k", "first"))
	require.NoError(t, s.Set("k", "second"))

	var out string
	hit, err := s.Get("k", &out)
	require.NoError(t, err)
	require.True(t, hit)
	assert.Equal(t, "second", out)
}

func TestStoreCleanup(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.Set("fresh1", 1))
	require.NoError(t, s.Set("fresh2", 2))
	require.NoError(t, s.SetTTL("stale1", 3, -time.Hour))
	require.NoError(t, s.SetTTL("stale2", 4, 0))

	stats, err := s.Stats()
	require.NoError(t, err)
	assert.Equal(t, 4, stats.TotalEntries)
	assert.Equal(t, 2, stats.ValidEntries)
	assert.Equal(t, 2, stats.ExpiredEntries)

	removed, err := s.Cleanup()
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	stats, err = s.Stats()
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalEntries)
	assert.Equal(t, 0, stats.ExpiredEntries)

	var out int
	hit, err := s.Get("fresh1", &out)
	require.NoError(t, err)
	assert.True(t, hit, "cleanup must not touch valid entries")
}

func TestStoreClear(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.Set("a", 1))
	require.NoError(t, s.Set("b", 2))

	removed, err := s.Clear()
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	stats, err := s.Stats()
	require.NoError(t, err)
	assert.Equal(t, 0, stats.TotalEntries)
}

func TestStoreDeleteAbsentKey(t *testing.T) {
	s := openTestStore(t)
	assert.NoError(t, s.Delete("never-existed"))
}
