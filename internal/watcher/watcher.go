// Package watcher orchestrates one evaluation per monitored entity:
// retrieve the last stored result, decide whether the new observation
// differs, and if so persist it and notify recipients.
//
// Per entity and per run the state machine is: compare → unchanged (skip) or
// changed (store + notify + record). There is no retry state; every run is a
// fresh instance.
package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/campwatch/campwatch/internal/availability"
	"github.com/campwatch/campwatch/internal/dispatch"
	"github.com/campwatch/campwatch/internal/resultstore"
)

// Store is the persistence seam. internal/resultstore provides the Postgres
// implementation; tests substitute in-memory fakes.
type Store interface {
	Retrieve(ctx context.Context, entityID string) (*resultstore.CacheEntry, error)
	Store(ctx context.Context, entityID string, obs availability.Observation) error
}

// Sender is the notification seam, satisfied by *dispatch.Dispatcher.
type Sender interface {
	Send(ctx context.Context, recipients dispatch.RecipientSet, subject, body string) (dispatch.DispatchSummary, error)
}

// Recorder is the metrics seam, satisfied by *metrics.Sink.
type Recorder interface {
	RecordDelivery(entityID string, summary dispatch.DispatchSummary)
}

// Evaluation is the outcome of one entity's run.
type Evaluation struct {
	Notified bool
	Summary  *dispatch.DispatchSummary
}

// Watcher wires the comparator, store, dispatcher, and metrics together.
type Watcher struct {
	store      Store
	comparator *availability.Comparator
	sender     Sender
	recorder   Recorder
	logger     *slog.Logger
}

// New creates a Watcher. recorder may be nil.
func New(store Store, comparator *availability.Comparator, sender Sender, recorder Recorder, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		store:      store,
		comparator: comparator,
		sender:     sender,
		recorder:   recorder,
		logger:     logger,
	}
}

// Evaluate runs the compare-store-notify pipeline for one entity.
//
// Storage problems never abort the evaluation: a failed retrieve looks like
// missing history (which notifies), and a failed store is logged and counted
// while the notification still goes out. The one fatal error class is a
// configuration defect in the recipient set, which is returned to the caller.
func (w *Watcher) Evaluate(ctx context.Context, entity availability.WatchedEntity, obs availability.Observation, recipients dispatch.RecipientSet) (Evaluation, error) {
	previous, err := w.store.Retrieve(ctx, entity.ID)
	if err != nil {
		// The store fails open, so this is unexpected; treat as no history.
		w.logger.Warn("Retrieve returned error, treating as no history",
			"entity_id", entity.ID, "error", err)
		previous = nil
	}

	var prevFingerprint availability.Fingerprint
	if previous != nil {
		prevFingerprint = previous.Fingerprint
	}

	if !w.comparator.HasChanged(obs, prevFingerprint) {
		w.logger.Info("Results unchanged, skipping notification", "entity_id", entity.ID)
		return Evaluation{}, nil
	}

	// Persist the observation that was just evaluated before notifying.
	// A store failure is not fatal: the entity re-evaluates as new next run.
	if err := w.store.Store(ctx, entity.ID, obs); err != nil {
		w.logger.Warn("Failed to store results, continuing with notification",
			"entity_id", entity.ID, "error", err)
	}

	subject, body := BuildMessage(entity, obs, previous)
	summary, err := w.sender.Send(ctx, recipients, subject, body)
	if err != nil {
		return Evaluation{}, fmt.Errorf("notify for %s: %w", entity.ID, err)
	}

	if w.recorder != nil {
		w.recorder.RecordDelivery(entity.ID, summary)
	}

	if summary.AllFailed() {
		w.logger.Error("Notification outage: every delivery failed",
			"entity_id", entity.ID, "attempts", summary.Attempts())
	} else {
		w.logger.Info("Notification dispatched",
			"entity_id", entity.ID,
			"succeeded", summary.Succeeded, "failed", summary.Failed)
	}

	return Evaluation{Notified: true, Summary: &summary}, nil
}

// evaluateWithTimeout bounds one entity's evaluation so a slow store or
// recipient cannot exhaust the whole run's budget.
func (w *Watcher) evaluateWithTimeout(ctx context.Context, entity availability.WatchedEntity, obs availability.Observation, recipients dispatch.RecipientSet, timeout time.Duration) (Evaluation, error) {
	if timeout <= 0 {
		return w.Evaluate(ctx, entity, obs, recipients)
	}
	entityCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return w.Evaluate(entityCtx, entity, obs, recipients)
}
