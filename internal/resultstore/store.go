// Package resultstore persists the last fingerprinted observation per
// monitored entity.
//
// The store is deliberately fail-open: a broken or unreadable store degrades
// to "no history", which biases the comparator toward notifying. No error
// path here ever stops a run.
package resultstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/campwatch/campwatch/internal/availability"
	"github.com/campwatch/campwatch/internal/metrics"
)

// CacheEntry is the persisted unit: one per entity, last-write-wins.
// Fingerprint is always computed from the stored observation at write time
// and never mutated independently.
type CacheEntry struct {
	EntityID    string                   `json:"entity_id"`
	Fingerprint availability.Fingerprint `json:"fingerprint"`
	Observation availability.Observation `json:"observation"`
	CreatedAt   time.Time                `json:"created_at"`
}

// Key derives the storage key for an entity. Pure and deterministic: one
// entity maps to exactly one key.
func Key(entityID string) string {
	return fmt.Sprintf("results/%s.json", entityID)
}

// Store persists cache entries as JSON documents in Postgres, one row per
// object key.
type Store struct {
	pool   *pgxpool.Pool
	sink   *metrics.Sink
	logger *slog.Logger
	now    func() time.Time
}

// New creates a Store. sink may be nil.
func New(pool *pgxpool.Pool, sink *metrics.Sink, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{pool: pool, sink: sink, logger: logger, now: time.Now}
}

// Retrieve loads the last stored entry for an entity. A never-before-seen
// entity returns (nil, nil). Connectivity, permission, and deserialization
// failures are logged and counted, then also resolve to (nil, nil): the
// caller sees "no history" and the comparator fails open toward notifying.
func (s *Store) Retrieve(ctx context.Context, entityID string) (*CacheEntry, error) {
	var doc []byte
	err := s.pool.QueryRow(ctx, "result_get", Key(entityID)).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		s.logger.Info("No previous results", "entity_id", entityID)
		return nil, nil
	}
	if err != nil {
		s.logger.Error("Result retrieve failed, degrading to no history",
			"entity_id", entityID, "error", err)
		s.sink.RecordStorageFailure("retrieve")
		return nil, nil
	}

	entry, err := decodeEntry(doc)
	if err != nil {
		s.logger.Error("Stored result is malformed, degrading to no history",
			"entity_id", entityID, "error", err)
		s.sink.RecordStorageFailure("decode")
		return nil, nil
	}
	return entry, nil
}

// Store persists an observation together with its fingerprint, replacing any
// previous entry for the entity. Failures are logged and counted; the caller
// continues the run and the entity is simply re-evaluated as new next time.
func (s *Store) Store(ctx context.Context, entityID string, obs availability.Observation) error {
	fp, err := availability.FingerprintObservation(obs)
	if err != nil {
		return fmt.Errorf("fingerprint observation for %s: %w", entityID, err)
	}

	entry := CacheEntry{
		EntityID:    entityID,
		Fingerprint: fp,
		Observation: obs,
		CreatedAt:   s.now().UTC(),
	}
	doc, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode cache entry for %s: %w", entityID, err)
	}

	_, err = s.pool.Exec(ctx, "result_put", Key(entityID), entityID, doc, entry.CreatedAt)
	if err != nil {
		s.logger.Error("Result store failed", "entity_id", entityID, "error", err)
		s.sink.RecordStorageFailure("store")
		return fmt.Errorf("store results for %s: %w", entityID, err)
	}

	s.logger.Info("Stored results", "entity_id", entityID, "fingerprint", fp)
	return nil
}

// StoredEntity is one row of the store listing, used by the maintenance sweep.
type StoredEntity struct {
	EntityID  string
	CreatedAt time.Time
}

// List returns every stored entity and its entry timestamp.
func (s *Store) List(ctx context.Context) ([]StoredEntity, error) {
	rows, err := s.pool.Query(ctx, "result_list")
	if err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}
	defer rows.Close()

	var out []StoredEntity
	for rows.Next() {
		var e StoredEntity
		if err := rows.Scan(&e.EntityID, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan result row: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Delete removes an entity's stored entry.
func (s *Store) Delete(ctx context.Context, entityID string) error {
	if _, err := s.pool.Exec(ctx, "result_delete", Key(entityID)); err != nil {
		return fmt.Errorf("delete results for %s: %w", entityID, err)
	}
	return nil
}

func decodeEntry(doc []byte) (*CacheEntry, error) {
	var entry CacheEntry
	if err := json.Unmarshal(doc, &entry); err != nil {
		return nil, fmt.Errorf("decode cache entry: %w", err)
	}
	if entry.EntityID == "" || entry.Fingerprint == "" {
		return nil, fmt.Errorf("cache entry missing entity_id or fingerprint")
	}
	return &entry, nil
}
