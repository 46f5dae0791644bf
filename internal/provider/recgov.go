// Package provider implements availability lookups against booking
// providers. The core only sees the availability.Provider interface.
//
// Recreation.gov serves availability at month granularity and throttles
// aggressively, so requests go through a token bucket limiter.
package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"time"

	"golang.org/x/time/rate"

	"github.com/campwatch/campwatch/internal/availability"
)

// Name is the provider identifier used in the watch list.
const Name = "RecreationDotGov"

const defaultBaseURL = "https://www.recreation.gov"

// availableState is the availability value that counts as bookable.
const availableState = "Available"

// RecGovClient looks up campsite availability on recreation.gov.
type RecGovClient struct {
	httpClient *http.Client
	baseURL    string
	limiter    *rate.Limiter
	logger     *slog.Logger
}

// NewRecGovClient creates a rate-limited recreation.gov client.
// baseURL may be empty for production.
func NewRecGovClient(baseURL string, requestsPerMinute int, logger *slog.Logger) *RecGovClient {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if requestsPerMinute < 1 {
		requestsPerMinute = 30
	}
	if logger == nil {
		logger = slog.Default()
	}
	rps := float64(requestsPerMinute) / 60.0
	return &RecGovClient{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    baseURL,
		limiter:    rate.NewLimiter(rate.Limit(rps), 1),
		logger:     logger,
	}
}

// monthResponse is the recreation.gov month-availability payload.
type monthResponse struct {
	Campsites map[string]struct {
		CampsiteID     string            `json:"campsite_id"`
		Site           string            `json:"site"`
		Loop           string            `json:"loop"`
		Availabilities map[string]string `json:"availabilities"`
	} `json:"campsites"`
}

// Search fetches availability for every month overlapping the window and
// assembles one Observation with only the dates inside the window that are
// actually bookable.
func (c *RecGovClient) Search(ctx context.Context, entity availability.WatchedEntity, window availability.SearchWindow) (availability.Observation, error) {
	type siteAgg struct {
		name  string
		dates []string
	}
	sites := make(map[string]*siteAgg)

	for month := monthStart(window.Start); !month.After(window.End); month = month.AddDate(0, 1, 0) {
		resp, err := c.fetchMonth(ctx, entity.ID, month)
		if err != nil {
			return availability.Observation{}, fmt.Errorf("fetch %s for campground %s: %w",
				month.Format("2006-01"), entity.ID, err)
		}

		for id, cs := range resp.Campsites {
			for stamp, state := range cs.Availabilities {
				if state != availableState {
					continue
				}
				day, err := time.Parse(time.RFC3339, stamp)
				if err != nil {
					c.logger.Warn("Unparseable availability date", "campground", entity.ID, "value", stamp)
					continue
				}
				if day.Before(window.Start) || day.After(window.End) {
					continue
				}
				agg := sites[id]
				if agg == nil {
					name := cs.Site
					if cs.Loop != "" {
						name = cs.Loop + " " + cs.Site
					}
					agg = &siteAgg{name: name}
					sites[id] = agg
				}
				agg.dates = append(agg.dates, day.Format(time.DateOnly))
			}
		}
	}

	obs := availability.Observation{
		EntityID:   entity.ID,
		ObservedAt: time.Now().UTC(),
		Search: availability.SearchParameters{
			Provider:  Name,
			StartDate: window.Start.Format(time.DateOnly),
			EndDate:   window.End.Format(time.DateOnly),
		},
	}
	for id, agg := range sites {
		sort.Strings(agg.dates)
		obs.Sites = append(obs.Sites, availability.SiteAvailability{
			SiteID:   id,
			SiteName: agg.name,
			Dates:    agg.dates,
		})
	}
	sort.Slice(obs.Sites, func(i, j int) bool { return obs.Sites[i].SiteID < obs.Sites[j].SiteID })

	c.logger.Info("Availability search complete",
		"campground", entity.ID, "sites", len(obs.Sites))
	return obs, nil
}

// fetchMonth performs one rate-limited month-availability request.
func (c *RecGovClient) fetchMonth(ctx context.Context, campgroundID string, month time.Time) (*monthResponse, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	params := url.Values{}
	params.Set("start_date", month.Format("2006-01-02T15:04:05.000Z"))

	u := fmt.Sprintf("%s/api/camps/availability/campground/%s/month?%s",
		c.baseURL, url.PathEscape(campgroundID), params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "campwatch/1.0")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("recreation.gov returned %d: %s", resp.StatusCode, truncate(body, 200))
	}

	var result monthResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &result, nil
}

func monthStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// truncate returns a truncated string representation for error messages.
func truncate(b []byte, maxLen int) string {
	if len(b) <= maxLen {
		return string(b)
	}
	return string(b[:maxLen]) + "..."
}
