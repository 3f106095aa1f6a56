package commands

import (
	"context"
	"time"

	"github.com/ymzkio/rule40-screener/internal/cache"
	"github.com/ymzkio/rule40-screener/internal/domain"
	"github.com/ymzkio/rule40-screener/internal/export"
	"github.com/ymzkio/rule40-screener/internal/screening"
	"github.com/ymzkio/rule40-screener/internal/sources"
	"github.com/ymzkio/rule40-screener/internal/yfinance"
	"github.com/ymzkio/rule40-screener/pkg/config"
	"github.com/ymzkio/rule40-screener/pkg/httputil"
	"github.com/ymzkio/rule40-screener/pkg/logger"
)

// app bundles the wired components every command starts from.
type app struct {
	cfg      *config.Config
	log      *logger.Logger
	registry *sources.Registry
	store    *cache.Store
	service  *screening.Service
	exporter *export.Service
	repo     *screening.RunRepository // nil without DATABASE_URL
}

// buildApp loads configuration and wires the component graph. The returned
// cleanup releases the cache store and the database pool.
func buildApp(ctx context.Context) (*app, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	if verbose {
		cfg.LogLevel = "debug"
	}

	log := logger.New(cfg)
	httpClient := httputil.New(log)

	registry := sources.DefaultRegistry(httpClient, log)

	store, err := cache.Open(cfg.Cache.Path, time.Duration(cfg.Cache.TTLHours)*time.Hour, log)
	if err != nil {
		return nil, nil, err
	}

	provider := yfinance.NewClient(httpClient, log)
	service := screening.New(registry, provider, store, log)
	exporter := export.NewService(log)

	var repo *screening.RunRepository
	if cfg.Database.URL != "" {
		repo, err = screening.NewRunRepository(ctx, cfg.Database.URL, log)
		if err != nil {
			// History is optional; a dead database must not block screening.
			log.WithError(err).Warn("Run history disabled")
			repo = nil
		}
	}

	cleanup := func() {
		if repo != nil {
			repo.Close()
		}
		store.Close()
	}

	return &app{
		cfg:      cfg,
		log:      log,
		registry: registry,
		store:    store,
		service:  service,
		exporter: exporter,
		repo:     repo,
	}, cleanup, nil
}

// screeningDefaults maps the application settings onto a run configuration.
func screeningDefaults(cfg *config.Config) domain.ScreeningConfig {
	return domain.ScreeningConfig{
		Sources:            cfg.Screening.Sources,
		CSVPath:            cfg.Screening.CSVPath,
		ExcludeSymbols:     cfg.Screening.ExcludeSymbols,
		Variant:            domain.Variant(cfg.Screening.Variant),
		Period:             domain.CalculationPeriod(cfg.Screening.Period),
		Threshold:          cfg.Screening.Threshold,
		MaxWorkers:         cfg.Screening.MaxWorkers,
		CacheTTLHours:      cfg.Cache.TTLHours,
		ForceRefresh:       cfg.Screening.ForceRefresh,
		MinRevenue:         cfg.Screening.MinRevenue,
		MarginPositiveOnly: cfg.Screening.MarginPositiveOnly,
	}
}
