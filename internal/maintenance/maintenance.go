// Package maintenance runs periodic background tasks as Go tickers in serve
// mode: pruning stored results for campgrounds that are no longer watched.
package maintenance

import (
	"context"
	"log/slog"
	"time"

	"github.com/campwatch/campwatch/internal/config"
	"github.com/campwatch/campwatch/internal/resultstore"
)

// Config controls maintenance task intervals. Zero duration disables a task.
type Config struct {
	SweepInterval time.Duration // prune results for unwatched entities
	Retention     time.Duration // keep unwatched results around this long
}

// DefaultConfig derives maintenance settings from the application config.
func DefaultConfig(cfg *config.Config) Config {
	return Config{
		SweepInterval: cfg.SweepInterval,
		Retention:     cfg.ResultRetention,
	}
}

// Start launches the configured maintenance tickers. Blocks until ctx is
// cancelled. Intended to be called with `go`.
func Start(ctx context.Context, store *resultstore.Store, watched []config.Watch, cfg Config, logger *slog.Logger) {
	if cfg.SweepInterval <= 0 {
		logger.Info("Maintenance sweep disabled")
		return
	}
	logger.Info("Maintenance tickers started",
		"sweep", cfg.SweepInterval, "retention", cfg.Retention)

	ticker := time.NewTicker(cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			sweep(ctx, store, watched, cfg.Retention, logger)
		case <-ctx.Done():
			logger.Info("Maintenance tickers stopped")
			return
		}
	}
}

// sweep deletes stored results whose entity has been removed from the watch
// list, once the entry is older than the retention period. Entries for
// still-watched entities are never touched.
func sweep(ctx context.Context, store *resultstore.Store, watched []config.Watch, retention time.Duration, logger *slog.Logger) {
	watchedIDs := make(map[string]bool, len(watched))
	for _, w := range watched {
		watchedIDs[w.ID] = true
	}

	stored, err := store.List(ctx)
	if err != nil {
		logger.Warn("Sweep: failed to list stored results", "error", err)
		return
	}

	cutoff := time.Now().Add(-retention)
	removed := 0
	for _, e := range stored {
		if watchedIDs[e.EntityID] || e.CreatedAt.After(cutoff) {
			continue
		}
		if err := store.Delete(ctx, e.EntityID); err != nil {
			logger.Warn("Sweep: failed to delete stale result",
				"entity_id", e.EntityID, "error", err)
			continue
		}
		removed++
	}
	if removed > 0 {
		logger.Info("Sweep: removed stale results", "count", removed)
	}
}
