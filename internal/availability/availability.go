// Package availability defines the data model for campground availability
// observations and the change-detection logic that decides whether a new
// observation differs from the last known one.
//
// Pipeline: provider search → Observation → canonicalize → fingerprint →
// compare against the stored fingerprint.
package availability

import (
	"context"
	"time"
)

// --------------------------------------------------------------------------
// Types
// --------------------------------------------------------------------------

// WatchedEntity is one monitored campground.
type WatchedEntity struct {
	ID       string
	Name     string
	Provider string // "RecreationDotGov" | "ReserveCalifornia"
}

// SearchWindow is the date range a search covers. Dates are civil dates;
// only the year/month/day components are significant.
type SearchWindow struct {
	Start time.Time
	End   time.Time
}

// WindowFromToday builds a search window spanning [today, today+days].
func WindowFromToday(days int) SearchWindow {
	now := time.Now().UTC()
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	return SearchWindow{Start: start, End: start.AddDate(0, 0, days)}
}

// SearchParameters records what was asked of the provider, persisted
// alongside results for auditability.
type SearchParameters struct {
	Provider  string `json:"provider"`
	StartDate string `json:"start_date"` // ISO-8601 date
	EndDate   string `json:"end_date"`   // ISO-8601 date
}

// SiteAvailability is one campsite and the dates it can be booked.
type SiteAvailability struct {
	SiteID   string   `json:"site_id"`
	SiteName string   `json:"site_name"`
	Dates    []string `json:"dates"` // ISO-8601 dates
}

// Observation is the snapshot of what a search found for one entity at one
// point in time. Treated as immutable once produced.
type Observation struct {
	EntityID   string             `json:"entity_id"`
	ObservedAt time.Time          `json:"observed_at"`
	Search     SearchParameters   `json:"search_parameters"`
	Sites      []SiteAvailability `json:"available_sites"`
}

// --------------------------------------------------------------------------
// Provider seam
// --------------------------------------------------------------------------

// Provider performs the availability lookup for one entity over a search
// window. Implementations live in internal/provider; the core never depends
// on a concrete one.
type Provider interface {
	Search(ctx context.Context, entity WatchedEntity, window SearchWindow) (Observation, error)
}
