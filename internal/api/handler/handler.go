// Package handler provides HTTP handlers for the campwatch admin API:
// health checks, stored-result inspection, and manual run triggering.
package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/campwatch/campwatch/internal/api/respond"
	"github.com/campwatch/campwatch/internal/cache"
	"github.com/campwatch/campwatch/internal/config"
	"github.com/campwatch/campwatch/internal/db"
	"github.com/campwatch/campwatch/internal/resultstore"
	"github.com/campwatch/campwatch/internal/watcher"
)

// RunFunc performs one full check run. The serve command wires this to the
// watcher; it owns the run's deadline.
type RunFunc func(ctx context.Context) watcher.RunResult

// Handler holds shared dependencies for all endpoint handlers.
type Handler struct {
	pool  *db.Pool
	store *resultstore.Store
	cache *cache.Cache
	cfg   *config.Config
	run   RunFunc

	running atomic.Bool
	mu      sync.Mutex
	lastRun *watcher.RunResult
	lastAt  time.Time
}

// New creates a Handler with shared dependencies. run may be nil when the
// manual trigger is disabled.
func New(pool *db.Pool, store *resultstore.Store, c *cache.Cache, cfg *config.Config, run RunFunc) *Handler {
	return &Handler{
		pool:  pool,
		store: store,
		cache: c,
		cfg:   cfg,
		run:   run,
	}
}

// RecordRun stores the latest run result for the status endpoint and drops
// cached result reads, since a run may have rewritten any entity's entry.
// Called by the scheduler loop as well as the manual trigger.
func (h *Handler) RecordRun(result watcher.RunResult) {
	h.mu.Lock()
	h.lastRun = &result
	h.lastAt = time.Now().UTC()
	h.mu.Unlock()

	for _, w := range h.cfg.WatchList {
		h.cache.Invalidate("result:" + w.ID)
	}
}

// Root serves API info at /.
func (h *Handler) Root(w http.ResponseWriter, r *http.Request) {
	respond.WriteJSONObject(w, http.StatusOK, map[string]interface{}{
		"name":    "Campwatch Admin API",
		"version": "1.0.0",
		"status":  "running",
	})
}

// HealthCheck returns basic health status.
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respond.WriteJSONObject(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// HealthCheckDB verifies database connectivity.
func (h *Handler) HealthCheckDB(w http.ResponseWriter, r *http.Request) {
	if err := h.pool.HealthCheck(r.Context()); err != nil {
		respond.WriteJSONObject(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status":    "unhealthy",
			"database":  "disconnected",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
		return
	}
	respond.WriteJSONObject(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"database":  "connected",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// HealthCheckCache returns cache statistics.
func (h *Handler) HealthCheckCache(w http.ResponseWriter, r *http.Request) {
	respond.WriteJSONObject(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"cache":     h.cache.Stats(),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// GetResult serves the stored cache entry for one entity, with ETag support.
func (h *Handler) GetResult(w http.ResponseWriter, r *http.Request) {
	entityID := chi.URLParam(r, "entityID")
	cacheKey := "result:" + entityID

	if data, etag, ok := h.cache.Get(cacheKey); ok {
		if cache.CheckETagMatch(r.Header.Get("If-None-Match"), etag) {
			respond.WriteNotModified(w, etag)
			return
		}
		respond.WriteJSON(w, data, etag, cache.TTLResult, true)
		return
	}

	entry, err := h.store.Retrieve(r.Context(), entityID)
	if err != nil || entry == nil {
		respond.WriteError(w, http.StatusNotFound, "NOT_FOUND", "No stored results for entity")
		return
	}

	data, err := json.Marshal(entry)
	if err != nil {
		respond.WriteError(w, http.StatusInternalServerError, "ENCODE_FAILED", "Failed to encode entry")
		return
	}

	etag := h.cache.Set(cacheKey, data, cache.TTLResult)
	if cache.CheckETagMatch(r.Header.Get("If-None-Match"), etag) {
		respond.WriteNotModified(w, etag)
		return
	}
	respond.WriteJSON(w, data, etag, cache.TTLResult, false)
}

// GetStatus lists watched entities and the most recent run summary.
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	lastRun := h.lastRun
	lastAt := h.lastAt
	h.mu.Unlock()

	status := map[string]interface{}{
		"watch_list":  h.cfg.WatchList,
		"environment": h.cfg.Environment,
		"running":     h.running.Load(),
	}
	if lastRun != nil {
		status["last_run"] = map[string]interface{}{
			"at":       lastAt.Format(time.RFC3339),
			"summary":  lastRun.Summary(),
			"checked":  lastRun.EntitiesChecked,
			"notified": lastRun.Notified,
			"errors":   lastRun.Errors,
		}
	}
	respond.WriteJSONObject(w, http.StatusOK, status)
}

// TriggerRun starts a check run in the background and returns 202. Only one
// manually triggered run is admitted at a time.
func (h *Handler) TriggerRun(w http.ResponseWriter, r *http.Request) {
	if h.run == nil {
		respond.WriteError(w, http.StatusServiceUnavailable, "RUNS_DISABLED", "Manual runs are not enabled")
		return
	}
	if !h.running.CompareAndSwap(false, true) {
		respond.WriteError(w, http.StatusConflict, "RUN_IN_PROGRESS", "A run is already in progress")
		return
	}

	go func() {
		defer h.running.Store(false)
		ctx, cancel := context.WithTimeout(context.Background(), h.cfg.RunTimeout)
		defer cancel()
		h.RecordRun(h.run(ctx))
	}()

	respond.WriteJSONObject(w, http.StatusAccepted, map[string]interface{}{
		"status": "run started",
	})
}
