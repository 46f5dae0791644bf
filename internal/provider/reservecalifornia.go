package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/campwatch/campwatch/internal/availability"
)

// RCName is the ReserveCalifornia provider identifier.
const RCName = "ReserveCalifornia"

const rcDefaultBaseURL = "https://calirdr.usedirect.com"

// RCClient looks up campsite availability through the ReserveCalifornia
// (UseDirect RDR) grid endpoint. One POST covers the whole window.
type RCClient struct {
	httpClient *http.Client
	baseURL    string
	limiter    *rate.Limiter
	logger     *slog.Logger
}

// NewRCClient creates a rate-limited ReserveCalifornia client.
// baseURL may be empty for production.
func NewRCClient(baseURL string, requestsPerMinute int, logger *slog.Logger) *RCClient {
	if baseURL == "" {
		baseURL = rcDefaultBaseURL
	}
	if requestsPerMinute < 1 {
		requestsPerMinute = 30
	}
	if logger == nil {
		logger = slog.Default()
	}
	rps := float64(requestsPerMinute) / 60.0
	return &RCClient{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    baseURL,
		limiter:    rate.NewLimiter(rate.Limit(rps), 1),
		logger:     logger,
	}
}

// gridRequest is the RDR search payload.
type gridRequest struct {
	FacilityID int    `json:"FacilityId"`
	StartDate  string `json:"StartDate"`
	EndDate    string `json:"EndDate"`
	UnitSort   string `json:"UnitSort"`
}

// gridResponse is the subset of the RDR grid payload campwatch reads.
type gridResponse struct {
	Facility struct {
		Units map[string]struct {
			UnitID    int    `json:"UnitId"`
			ShortName string `json:"ShortName"`
			Slices    map[string]struct {
				Date   string `json:"Date"`
				IsFree bool   `json:"IsFree"`
			} `json:"Slices"`
		} `json:"Units"`
	} `json:"Facility"`
}

// Search fetches the availability grid for the window and assembles one
// Observation with the free dates per unit.
func (c *RCClient) Search(ctx context.Context, entity availability.WatchedEntity, window availability.SearchWindow) (availability.Observation, error) {
	facilityID, err := strconv.Atoi(entity.ID)
	if err != nil {
		return availability.Observation{}, fmt.Errorf("ReserveCalifornia facility id %q is not numeric: %w", entity.ID, err)
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return availability.Observation{}, fmt.Errorf("rate limit wait: %w", err)
	}

	payload, err := json.Marshal(gridRequest{
		FacilityID: facilityID,
		StartDate:  window.Start.Format(time.DateOnly),
		EndDate:    window.End.Format(time.DateOnly),
		UnitSort:   "orderby",
	})
	if err != nil {
		return availability.Observation{}, fmt.Errorf("encode grid request: %w", err)
	}

	u := c.baseURL + "/rdr/rdr/search/grid"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(payload))
	if err != nil {
		return availability.Observation{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "campwatch/1.0")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return availability.Observation{}, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return availability.Observation{}, fmt.Errorf("read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return availability.Observation{}, fmt.Errorf("ReserveCalifornia returned %d: %s", resp.StatusCode, truncate(body, 200))
	}

	var grid gridResponse
	if err := json.Unmarshal(body, &grid); err != nil {
		return availability.Observation{}, fmt.Errorf("decode grid response: %w", err)
	}

	obs := availability.Observation{
		EntityID:   entity.ID,
		ObservedAt: time.Now().UTC(),
		Search: availability.SearchParameters{
			Provider:  RCName,
			StartDate: window.Start.Format(time.DateOnly),
			EndDate:   window.End.Format(time.DateOnly),
		},
	}

	for _, unit := range grid.Facility.Units {
		var dates []string
		for _, slice := range unit.Slices {
			if !slice.IsFree {
				continue
			}
			day, err := time.Parse(time.DateOnly, slice.Date)
			if err != nil {
				c.logger.Warn("Unparseable grid date", "facility", entity.ID, "value", slice.Date)
				continue
			}
			if day.Before(window.Start) || day.After(window.End) {
				continue
			}
			dates = append(dates, day.Format(time.DateOnly))
		}
		if len(dates) == 0 {
			continue
		}
		sort.Strings(dates)
		obs.Sites = append(obs.Sites, availability.SiteAvailability{
			SiteID:   strconv.Itoa(unit.UnitID),
			SiteName: unit.ShortName,
			Dates:    dates,
		})
	}
	sort.Slice(obs.Sites, func(i, j int) bool { return obs.Sites[i].SiteID < obs.Sites[j].SiteID })

	c.logger.Info("Availability search complete",
		"facility", entity.ID, "sites", len(obs.Sites))
	return obs, nil
}
