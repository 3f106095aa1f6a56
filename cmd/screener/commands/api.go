package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ymzkio/rule40-screener/internal/api"
	"github.com/ymzkio/rule40-screener/internal/api/handlers"
	"github.com/ymzkio/rule40-screener/internal/scheduler"
)

// apiCmd represents the api command
var apiCmd = &cobra.Command{
	Use:   "api",
	Short: "Start the API server",
	Long: `Starts the REST API server, the progress websocket and, when
enabled, the scheduled screening job.

Endpoints:
  GET  /health                        - Health check
  POST /api/v1/screening/run          - Run a screening pass
  GET  /api/v1/sources                - List symbol sources
  GET  /api/v1/cache/stats            - Cache statistics
  POST /api/v1/cache/cleanup          - Drop expired cache entries
  POST /api/v1/cache/clear            - Drop the whole cache
  GET  /api/v1/runs                   - Recent screening runs
  GET  /api/v1/runs/{id}/results      - Stored results of a run
  POST /api/v1/runs/{id}/export       - Export a stored run to a file
  GET  /ws/progress                   - Progress websocket

Example:
  go run ./cmd/screener api
  go run ./cmd/screener api --port 8090`,
	RunE: runAPIServer,
}

var (
	apiPort string
)

func init() {
	rootCmd.AddCommand(apiCmd)

	apiCmd.Flags().StringVar(&apiPort, "port", "", "API server port")
}

func runAPIServer(cmd *cobra.Command, args []string) error {
	fmt.Println("=== Rule of 40 Screener API ===")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, cleanup, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	if apiPort != "" {
		a.cfg.Port = apiPort
	}

	hub := api.NewHub(a.log)
	defer hub.Close()

	handler := handlers.NewScreeningHandler(
		a.service, a.exporter, a.repo, a.registry,
		screeningDefaults(a.cfg), hub, a.log,
	)
	router := api.NewRouter(handler, hub, a.log)
	server := api.New(a.cfg, a.log, router)

	var sched *scheduler.Scheduler
	if a.cfg.Schedule.Enabled {
		sched = scheduler.New(a.log)
		job := scheduler.NewScreeningJob(
			a.service, a.exporter, a.repo,
			screeningDefaults(a.cfg), a.cfg.ExportDir, a.log,
		)
		if err := sched.AddJob(a.cfg.Schedule.Cron, job); err != nil {
			return fmt.Errorf("failed to schedule screening job: %w", err)
		}
		sched.Start()
		defer sched.Stop()
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
