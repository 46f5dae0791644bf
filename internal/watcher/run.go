package watcher

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/campwatch/campwatch/internal/availability"
	"github.com/campwatch/campwatch/internal/dispatch"
)

// RunConfig controls one scheduled run.
type RunConfig struct {
	Workers       int           // concurrent entity evaluations
	EntityTimeout time.Duration // sub-deadline per entity, 0 = none
}

// RunResult tracks counts and errors from one run across all entities.
type RunResult struct {
	EntitiesChecked int
	Changed         int
	Notified        int
	LookupFailures  int
	DispatchOutages int // entities where every delivery failed
	Errors          []string
	Duration        time.Duration
}

// AddError records an error message.
func (r *RunResult) AddError(msg string) {
	r.Errors = append(r.Errors, msg)
}

// AddErrorf records a formatted error message.
func (r *RunResult) AddErrorf(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

// Summary returns a human-readable summary of the run.
func (r *RunResult) Summary() string {
	return fmt.Sprintf(
		"checked=%d changed=%d notified=%d lookup_failures=%d dispatch_outages=%d errors=%d",
		r.EntitiesChecked, r.Changed, r.Notified,
		r.LookupFailures, r.DispatchOutages, len(r.Errors),
	)
}

// RunAll evaluates every watched entity once. Entities are independent and
// fan out over a worker pool; within one entity the retrieve → compare →
// (store, notify) order is preserved by Evaluate. The caller bounds the
// whole run through ctx.
func (w *Watcher) RunAll(
	ctx context.Context,
	provider availability.Provider,
	entities []availability.WatchedEntity,
	window availability.SearchWindow,
	recipients dispatch.RecipientSet,
	cfg RunConfig,
) RunResult {
	start := time.Now()
	var result RunResult

	if len(entities) == 0 {
		w.logger.Info("No entities to check")
		result.Duration = time.Since(start)
		return result
	}

	workers := cfg.Workers
	if workers < 1 {
		workers = 1
	}
	if workers > len(entities) {
		workers = len(entities)
	}

	jobs := make(chan availability.WatchedEntity, len(entities))
	for _, e := range entities {
		jobs <- e
	}
	close(jobs)

	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for entity := range jobs {
				obs, err := provider.Search(ctx, entity, window)

				mu.Lock()
				result.EntitiesChecked++
				mu.Unlock()

				if err != nil {
					w.logger.Error("Availability lookup failed",
						"entity_id", entity.ID, "entity", entity.Name, "error", err)
					mu.Lock()
					result.LookupFailures++
					result.AddErrorf("lookup %s: %v", entity.ID, err)
					mu.Unlock()
					continue
				}

				eval, err := w.evaluateWithTimeout(ctx, entity, obs, recipients, cfg.EntityTimeout)

				mu.Lock()
				if err != nil {
					result.AddErrorf("evaluate %s: %v", entity.ID, err)
				} else if eval.Notified {
					result.Changed++
					result.Notified++
					if eval.Summary != nil && eval.Summary.AllFailed() {
						result.DispatchOutages++
					}
				}
				mu.Unlock()
			}
		}()
	}

	wg.Wait()
	result.Duration = time.Since(start)

	w.logger.Info("Run complete", "summary", result.Summary(),
		"duration", result.Duration.Round(time.Millisecond))
	return result
}
