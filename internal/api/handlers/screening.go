package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"github.com/ymzkio/rule40-screener/internal/domain"
	"github.com/ymzkio/rule40-screener/internal/export"
	"github.com/ymzkio/rule40-screener/internal/screening"
	"github.com/ymzkio/rule40-screener/internal/sources"
	"github.com/ymzkio/rule40-screener/pkg/logger"
)

// ProgressBroadcaster pushes progress events to live subscribers.
type ProgressBroadcaster interface {
	Broadcast(v interface{})
}

// ScreeningHandler serves the screening endpoints. Runs are serialized: the
// pipeline paces itself against upstream rate limits and overlapping runs
// would defeat that.
type ScreeningHandler struct {
	service     *screening.Service
	exporter    *export.Service
	repo        *screening.RunRepository // nil without a database
	registry    *sources.Registry
	defaults    domain.ScreeningConfig
	broadcaster ProgressBroadcaster // nil without websocket wiring
	logger      *logger.Logger

	runMu sync.Mutex
}

// NewScreeningHandler creates the handler
func NewScreeningHandler(
	service *screening.Service,
	exporter *export.Service,
	repo *screening.RunRepository,
	registry *sources.Registry,
	defaults domain.ScreeningConfig,
	broadcaster ProgressBroadcaster,
	log *logger.Logger,
) *ScreeningHandler {
	return &ScreeningHandler{
		service:     service,
		exporter:    exporter,
		repo:        repo,
		registry:    registry,
		defaults:    defaults,
		broadcaster: broadcaster,
		logger:      log.WithField("module", "api"),
	}
}

// Run executes a screening pass. The optional JSON body overrides the
// configured defaults field by field.
func (h *ScreeningHandler) Run(w http.ResponseWriter, r *http.Request) {
	cfg := h.defaults
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	if !h.runMu.TryLock() {
		respondError(w, http.StatusConflict, "a screening run is already in progress")
		return
	}
	defer h.runMu.Unlock()

	started := time.Now()
	universeSize := 0
	onProgress := func(p screening.Progress) {
		// Per-symbol fetch events carry the universe size as their total.
		if p.Stage == "fetch" && p.Symbol != "" && p.Total > universeSize {
			universeSize = p.Total
		}
		if h.broadcaster != nil {
			h.broadcaster.Broadcast(p)
		}
	}

	results, err := h.service.Screen(r.Context(), cfg, onProgress, nil)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	run := screening.Run{
		StartedAt:    started,
		FinishedAt:   time.Now(),
		Variant:      cfg.Variant,
		Period:       cfg.Period,
		Threshold:    cfg.Threshold,
		UniverseSize: universeSize,
		ResultCount:  len(results),
		Results:      results,
	}
	if h.repo != nil {
		if err := h.repo.SaveRun(r.Context(), &run); err != nil {
			h.logger.WithError(err).Error("Failed to save run")
		}
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"run_id":  run.ID,
		"count":   len(results),
		"elapsed": time.Since(started).String(),
		"results": results,
	})
}

// Sources lists the registered symbol sources with a live availability
// probe.
func (h *ScreeningHandler) Sources(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	type sourceInfo struct {
		ID        string `json:"id"`
		Name      string `json:"name"`
		Available bool   `json:"available"`
	}

	var out []sourceInfo
	for _, id := range h.registry.IDs() {
		src, _ := h.registry.Get(id)
		out = append(out, sourceInfo{
			ID:        id,
			Name:      src.Name(),
			Available: src.IsAvailable(ctx),
		})
	}
	respondJSON(w, http.StatusOK, out)
}

// CacheStats reports cache contents.
func (h *ScreeningHandler) CacheStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.CacheStats()
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

// CacheCleanup drops expired cache entries.
func (h *ScreeningHandler) CacheCleanup(w http.ResponseWriter, r *http.Request) {
	removed, err := h.service.CleanupCache()
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]int{"removed": removed})
}

// CacheClear drops the whole cache.
func (h *ScreeningHandler) CacheClear(w http.ResponseWriter, r *http.Request) {
	removed, err := h.service.ClearCache()
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]int{"removed": removed})
}

// ListRuns returns recent screening runs. 503 without a database.
func (h *ScreeningHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		respondError(w, http.StatusServiceUnavailable, "run history requires a database")
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	runs, err := h.repo.RecentRuns(r.Context(), limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, runs)
}

// RunResults returns the stored results of one run.
func (h *ScreeningHandler) RunResults(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		respondError(w, http.StatusServiceUnavailable, "run history requires a database")
		return
	}

	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid run id")
		return
	}

	results, err := h.repo.RunResults(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, results)
}

// ExportRun writes the stored results of one run to a file on the server.
func (h *ScreeningHandler) ExportRun(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		respondError(w, http.StatusServiceUnavailable, "run history requires a database")
		return
	}

	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid run id")
		return
	}

	cfg := export.DefaultConfig()
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	results, err := h.repo.RunResults(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}

	path, err := h.exporter.Export(results, cfg)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"path": path})
}

func respondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
