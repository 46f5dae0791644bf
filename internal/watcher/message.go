package watcher

import (
	"fmt"
	"strings"

	"github.com/campwatch/campwatch/internal/availability"
	"github.com/campwatch/campwatch/internal/resultstore"
)

// BuildMessage composes the notification subject and plain-text body for a
// changed observation. When the previous entry is known, dates that were not
// available last time are called out.
func BuildMessage(entity availability.WatchedEntity, obs availability.Observation, previous *resultstore.CacheEntry) (subject, body string) {
	subject = fmt.Sprintf("Campwatch: %s Availability Update", entity.Name)

	var b strings.Builder
	fmt.Fprintf(&b, "Availability changed for %s (%s).\n", entity.Name, entity.Provider)
	fmt.Fprintf(&b, "Search window: %s to %s\n\n", obs.Search.StartDate, obs.Search.EndDate)

	if len(obs.Sites) == 0 {
		b.WriteString("No sites are currently available.\n")
		return subject, b.String()
	}

	prevDates := previousDates(previous)

	canonical := availability.Canonicalize(obs)
	for _, site := range canonical.Sites {
		name := site.SiteName
		if name == "" {
			name = site.SiteID
		}
		fmt.Fprintf(&b, "%s (site %s):\n", name, site.SiteID)
		for _, d := range site.Dates {
			if prevDates != nil && !prevDates[site.SiteID][d] {
				fmt.Fprintf(&b, "  %s (new)\n", d)
			} else {
				fmt.Fprintf(&b, "  %s\n", d)
			}
		}
		b.WriteString("\n")
	}

	return subject, b.String()
}

// previousDates indexes the previous entry's availability as site → date set.
// Returns nil when there is no usable history, in which case no date is
// marked new (a first-ever notification would otherwise be all noise).
func previousDates(previous *resultstore.CacheEntry) map[string]map[string]bool {
	if previous == nil {
		return nil
	}
	out := make(map[string]map[string]bool, len(previous.Observation.Sites))
	for _, site := range previous.Observation.Sites {
		id := strings.TrimSpace(site.SiteID)
		if out[id] == nil {
			out[id] = make(map[string]bool, len(site.Dates))
		}
		for _, d := range site.Dates {
			out[id][strings.TrimSpace(d)] = true
		}
	}
	return out
}
