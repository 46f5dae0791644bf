package provider

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/campwatch/campwatch/internal/availability"
)

func monthPayload() string {
	return `{
		"campsites": {
			"1001": {
				"campsite_id": "1001",
				"site": "A01",
				"loop": "Ridge Loop",
				"availabilities": {
					"2025-01-15T00:00:00Z": "Available",
					"2025-01-16T00:00:00Z": "Reserved",
					"2025-01-17T00:00:00Z": "Available"
				}
			},
			"1002": {
				"campsite_id": "1002",
				"site": "A02",
				"loop": "",
				"availabilities": {
					"2025-01-20T00:00:00Z": "Not Available"
				}
			}
		},
		"count": 2
	}`
}

func TestSearch_FiltersToAvailableDatesInWindow(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/camps/availability/campground/252037/month" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.URL.Query().Get("start_date") == "" {
			t.Error("missing start_date parameter")
		}
		fmt.Fprint(w, monthPayload())
	}))
	defer srv.Close()

	c := NewRecGovClient(srv.URL, 600, nil)
	entity := availability.WatchedEntity{ID: "252037", Name: "Sardine Peak Lookout", Provider: Name}
	window := availability.SearchWindow{
		Start: time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC),
	}

	obs, err := c.Search(context.Background(), entity, window)
	if err != nil {
		t.Fatal(err)
	}

	if len(obs.Sites) != 1 {
		t.Fatalf("expected 1 site with availability, got %d", len(obs.Sites))
	}
	site := obs.Sites[0]
	if site.SiteID != "1001" {
		t.Fatalf("site id = %s, want 1001", site.SiteID)
	}
	if site.SiteName != "Ridge Loop A01" {
		t.Fatalf("site name = %q", site.SiteName)
	}
	if len(site.Dates) != 2 || site.Dates[0] != "2025-01-15" || site.Dates[1] != "2025-01-17" {
		t.Fatalf("dates = %v, want [2025-01-15 2025-01-17]", site.Dates)
	}
	if obs.Search.Provider != Name {
		t.Fatalf("search provider = %s", obs.Search.Provider)
	}
}

func TestSearch_WindowOutsideAvailability(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, monthPayload())
	}))
	defer srv.Close()

	c := NewRecGovClient(srv.URL, 600, nil)
	window := availability.SearchWindow{
		Start: time.Date(2025, 1, 25, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC),
	}

	obs, err := c.Search(context.Background(), availability.WatchedEntity{ID: "252037"}, window)
	if err != nil {
		t.Fatal(err)
	}
	if len(obs.Sites) != 0 {
		t.Fatalf("expected no sites, got %d", len(obs.Sites))
	}
}

func TestSearch_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream broke", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewRecGovClient(srv.URL, 600, nil)
	window := availability.SearchWindow{
		Start: time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC),
	}
	_, err := c.Search(context.Background(), availability.WatchedEntity{ID: "252037"}, window)
	if err == nil {
		t.Fatal("expected error on 502 response")
	}
}

func TestSearch_SpansMonths(t *testing.T) {
	var months []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		months = append(months, r.URL.Query().Get("start_date"))
		fmt.Fprint(w, `{"campsites": {}, "count": 0}`)
	}))
	defer srv.Close()

	c := NewRecGovClient(srv.URL, 600, nil)
	window := availability.SearchWindow{
		Start: time.Date(2025, 1, 20, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2025, 3, 5, 0, 0, 0, 0, time.UTC),
	}
	if _, err := c.Search(context.Background(), availability.WatchedEntity{ID: "766"}, window); err != nil {
		t.Fatal(err)
	}
	if len(months) != 3 {
		t.Fatalf("expected 3 month fetches (Jan, Feb, Mar), got %d: %v", len(months), months)
	}
}
