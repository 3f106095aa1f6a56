package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/ymzkio/rule40-screener/pkg/logger"
)

// Job is a unit of scheduled work.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// Execution is one recorded job run.
type Execution struct {
	Job        string    `json:"job"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Attempts   int       `json:"attempts"`
	Error      string    `json:"error,omitempty"`
}

const (
	historyLimit = 50
	retryWait    = time.Minute
)

// Scheduler runs jobs on cron schedules. Spec format includes seconds.
// A failed job is retried once before the failure is recorded.
type Scheduler struct {
	cron      *cron.Cron
	logger    *logger.Logger
	retryWait time.Duration

	mu      sync.Mutex
	history []Execution
}

// New creates a scheduler
func New(log *logger.Logger) *Scheduler {
	return &Scheduler{
		cron:      cron.New(cron.WithSeconds()),
		logger:    log.WithField("module", "scheduler"),
		retryWait: retryWait,
	}
}

// AddJob registers a job under a cron spec.
func (s *Scheduler) AddJob(spec string, job Job) error {
	_, err := s.cron.AddFunc(spec, func() {
		s.runJob(job)
	})
	if err != nil {
		return err
	}

	s.logger.WithFields(map[string]interface{}{
		"job":  job.Name(),
		"spec": spec,
	}).Info("Job scheduled")
	return nil
}

func (s *Scheduler) runJob(job Job) {
	exec := Execution{Job: job.Name(), StartedAt: time.Now(), Attempts: 1}
	s.logger.WithField("job", job.Name()).Info("Job started")

	err := job.Run(context.Background())
	if err != nil {
		s.logger.WithError(err).WithField("job", job.Name()).Warn("Job failed, retrying once")
		time.Sleep(s.retryWait)
		exec.Attempts++
		err = job.Run(context.Background())
	}

	if err != nil {
		exec.Error = err.Error()
		s.logger.WithError(err).WithField("job", job.Name()).Error("Job failed")
	} else {
		s.logger.WithFields(map[string]interface{}{
			"job":     job.Name(),
			"elapsed": time.Since(exec.StartedAt),
		}).Info("Job finished")
	}
	exec.FinishedAt = time.Now()

	s.mu.Lock()
	s.history = append(s.history, exec)
	if len(s.history) > historyLimit {
		s.history = s.history[len(s.history)-historyLimit:]
	}
	s.mu.Unlock()
}

// Start begins running scheduled jobs.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("Scheduler started")
}

// Stop stops scheduling and waits for running jobs.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("Scheduler stopped")
}

// History returns the most recent executions, newest last.
func (s *Scheduler) History() []Execution {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Execution, len(s.history))
	copy(out, s.history)
	return out
}
