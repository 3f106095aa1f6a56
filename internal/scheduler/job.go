package scheduler

import (
	"context"
	"time"

	"github.com/ymzkio/rule40-screener/internal/domain"
	"github.com/ymzkio/rule40-screener/internal/export"
	"github.com/ymzkio/rule40-screener/internal/screening"
	"github.com/ymzkio/rule40-screener/pkg/logger"
)

// ScreeningJob runs a full screening pass with the configured defaults,
// exports the results and records the run when a repository is present.
type ScreeningJob struct {
	service   *screening.Service
	exporter  *export.Service
	repo      *screening.RunRepository // nil without a database
	config    domain.ScreeningConfig
	exportDir string
	logger    *logger.Logger
}

// NewScreeningJob creates the scheduled screening job
func NewScreeningJob(
	service *screening.Service,
	exporter *export.Service,
	repo *screening.RunRepository,
	cfg domain.ScreeningConfig,
	exportDir string,
	log *logger.Logger,
) *ScreeningJob {
	return &ScreeningJob{
		service:   service,
		exporter:  exporter,
		repo:      repo,
		config:    cfg,
		exportDir: exportDir,
		logger:    log.WithField("job", "screening"),
	}
}

// Name implements Job
func (j *ScreeningJob) Name() string {
	return "screening"
}

// Run implements Job
func (j *ScreeningJob) Run(ctx context.Context) error {
	started := time.Now()

	universeSize := 0
	onProgress := func(p screening.Progress) {
		if p.Stage == "fetch" && p.Symbol != "" && p.Total > universeSize {
			universeSize = p.Total
		}
	}
	results, err := j.service.Screen(ctx, j.config, onProgress, nil)
	if err != nil {
		return err
	}

	exportCfg := export.DefaultConfig()
	exportCfg.Dir = j.exportDir
	path, err := j.exporter.Export(results, exportCfg)
	if err != nil {
		j.logger.WithError(err).Error("Scheduled export failed")
	} else {
		j.logger.WithField("path", path).Info("Scheduled export written")
	}

	if j.repo != nil {
		run := screening.Run{
			StartedAt:    started,
			FinishedAt:   time.Now(),
			Variant:      j.config.Variant,
			Period:       j.config.Period,
			Threshold:    j.config.Threshold,
			UniverseSize: universeSize,
			ResultCount:  len(results),
			Results:      results,
		}
		if err := j.repo.SaveRun(ctx, &run); err != nil {
			j.logger.WithError(err).Error("Failed to save scheduled run")
		}
	}

	return nil
}
