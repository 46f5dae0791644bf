package availability

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
)

// Fingerprint is a SHA-256 hex digest over the canonical form of an
// Observation. Two observations are equivalent iff their fingerprints match.
type Fingerprint string

// CanonicalForm is the order-independent projection of an Observation used
// for fingerprinting. Volatile fields (observation timestamp) are excluded
// so a refreshed timestamp never registers as a change. Derived only, never
// persisted.
type CanonicalForm struct {
	EntityID string             `json:"entity_id"`
	Search   SearchParameters   `json:"search_parameters"`
	Sites    []SiteAvailability `json:"available_sites"`
}

// Canonicalize projects an Observation into its canonical form: sites sorted
// by site ID, each site's dates deduplicated and sorted, names trimmed.
// The input is not modified.
func Canonicalize(obs Observation) CanonicalForm {
	sites := make([]SiteAvailability, 0, len(obs.Sites))
	for _, s := range obs.Sites {
		dates := make([]string, 0, len(s.Dates))
		seen := make(map[string]bool, len(s.Dates))
		for _, d := range s.Dates {
			d = strings.TrimSpace(d)
			if d == "" || seen[d] {
				continue
			}
			seen[d] = true
			dates = append(dates, d)
		}
		sort.Strings(dates)
		sites = append(sites, SiteAvailability{
			SiteID:   strings.TrimSpace(s.SiteID),
			SiteName: strings.TrimSpace(s.SiteName),
			Dates:    dates,
		})
	}
	// Total order: nothing rejects two records sharing a site ID, so ties
	// break on name and then dates to keep the form input-order independent.
	sort.Slice(sites, func(i, j int) bool {
		a, b := sites[i], sites[j]
		if a.SiteID != b.SiteID {
			return a.SiteID < b.SiteID
		}
		if a.SiteName != b.SiteName {
			return a.SiteName < b.SiteName
		}
		return strings.Join(a.Dates, ",") < strings.Join(b.Dates, ",")
	})

	return CanonicalForm{
		EntityID: obs.EntityID,
		Search:   obs.Search,
		Sites:    sites,
	}
}

// ComputeFingerprint digests a canonical form. Struct field order fixes the
// JSON key order, so equal canonical forms always produce equal digests.
func ComputeFingerprint(cf CanonicalForm) (Fingerprint, error) {
	raw, err := json.Marshal(cf)
	if err != nil {
		return "", fmt.Errorf("encode canonical form: %w", err)
	}
	sum := sha256.Sum256(raw)
	return Fingerprint(hex.EncodeToString(sum[:])), nil
}

// FingerprintObservation canonicalizes and digests an observation in one step.
func FingerprintObservation(obs Observation) (Fingerprint, error) {
	return ComputeFingerprint(Canonicalize(obs))
}

// Comparator decides whether a new observation differs from the last known
// state. All internal failures bias toward "changed" — a bug here must never
// suppress a notification.
type Comparator struct {
	logger *slog.Logger
}

// NewComparator creates a Comparator.
func NewComparator(logger *slog.Logger) *Comparator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Comparator{logger: logger}
}

// HasChanged reports whether current differs from the previously stored
// fingerprint. An empty previous fingerprint means no usable history exists
// (never seen, or the stored entry could not be retrieved) and always counts
// as changed.
func (c *Comparator) HasChanged(current Observation, previous Fingerprint) bool {
	if previous == "" {
		c.logger.Info("No previous fingerprint, treating as changed", "entity_id", current.EntityID)
		return true
	}

	fp, err := FingerprintObservation(current)
	if err != nil {
		c.logger.Error("Fingerprinting failed, treating as changed",
			"entity_id", current.EntityID, "error", err)
		return true
	}
	return fp != previous
}
