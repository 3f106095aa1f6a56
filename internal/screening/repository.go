package screening

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ymzkio/rule40-screener/internal/domain"
	"github.com/ymzkio/rule40-screener/pkg/logger"
)

// Run is one recorded screening execution.
type Run struct {
	ID           int64                    `json:"id"`
	StartedAt    time.Time                `json:"started_at"`
	FinishedAt   time.Time                `json:"finished_at"`
	Variant      domain.Variant           `json:"variant"`
	Period       domain.CalculationPeriod `json:"period"`
	Threshold    float64                  `json:"threshold"`
	UniverseSize int                      `json:"universe_size"`
	ResultCount  int                      `json:"result_count"`
	Results      []domain.Rule40Result    `json:"results,omitempty"`
}

// RunRepository persists screening runs to PostgreSQL. It is optional
// infrastructure: the pipeline runs fine without a database, history is
// only recorded when one is configured.
type RunRepository struct {
	pool   *pgxpool.Pool
	logger *logger.Logger
}

// NewRunRepository connects to the database and ensures the schema.
func NewRunRepository(ctx context.Context, databaseURL string, log *logger.Logger) (*RunRepository, error) {
	poolConfig, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}
	poolConfig.MaxConns = 10
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	r := &RunRepository{
		pool:   pool,
		logger: log.WithField("module", "run_repository"),
	}
	if err := r.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	r.logger.Info("Run repository connected")
	return r, nil
}

// Close releases the connection pool.
func (r *RunRepository) Close() {
	r.pool.Close()
}

func (r *RunRepository) ensureSchema(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS screening_runs (
			id            BIGSERIAL PRIMARY KEY,
			started_at    TIMESTAMPTZ NOT NULL,
			finished_at   TIMESTAMPTZ NOT NULL,
			variant       TEXT NOT NULL,
			period        TEXT NOT NULL,
			threshold     DOUBLE PRECISION NOT NULL,
			universe_size INTEGER NOT NULL,
			result_count  INTEGER NOT NULL,
			results       JSONB NOT NULL DEFAULT '[]'
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to ensure schema: %w", err)
	}
	return nil
}

// SaveRun records one finished run and fills in its ID.
func (r *RunRepository) SaveRun(ctx context.Context, run *Run) error {
	results, err := json.Marshal(run.Results)
	if err != nil {
		return fmt.Errorf("failed to marshal results: %w", err)
	}

	err = r.pool.QueryRow(ctx, `
		INSERT INTO screening_runs
			(started_at, finished_at, variant, period, threshold, universe_size, result_count, results)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`, run.StartedAt, run.FinishedAt, run.Variant, run.Period,
		run.Threshold, run.UniverseSize, run.ResultCount, results,
	).Scan(&run.ID)
	if err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}

	r.logger.WithFields(map[string]interface{}{
		"run_id":  run.ID,
		"results": run.ResultCount,
	}).Info("Screening run saved")
	return nil
}

// RecentRuns returns the latest runs, newest first, without result bodies.
func (r *RunRepository) RecentRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := r.pool.Query(ctx, `
		SELECT id, started_at, finished_at, variant, period, threshold, universe_size, result_count
		FROM screening_runs
		ORDER BY started_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var run Run
		err := rows.Scan(&run.ID, &run.StartedAt, &run.FinishedAt, &run.Variant,
			&run.Period, &run.Threshold, &run.UniverseSize, &run.ResultCount)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// RunResults loads the stored result set of one run.
func (r *RunRepository) RunResults(ctx context.Context, id int64) ([]domain.Rule40Result, error) {
	var raw []byte
	err := r.pool.QueryRow(ctx,
		`SELECT results FROM screening_runs WHERE id = $1`, id,
	).Scan(&raw)
	if err != nil {
		return nil, fmt.Errorf("failed to load run %d: %w", id, err)
	}

	var results []domain.Rule40Result
	if err := json.Unmarshal(raw, &results); err != nil {
		return nil, fmt.Errorf("failed to decode run %d results: %w", id, err)
	}
	return results, nil
}
