package watcher_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/campwatch/campwatch/internal/availability"
	"github.com/campwatch/campwatch/internal/dispatch"
	"github.com/campwatch/campwatch/internal/resultstore"
	"github.com/campwatch/campwatch/internal/watcher"
)

// memStore is an in-memory watcher.Store.
type memStore struct {
	mu          sync.Mutex
	entries     map[string]*resultstore.CacheEntry
	retrieveErr bool // simulate fail-open retrieve: (nil, nil)
	storeErr    error
	storeCalls  int
}

func newMemStore() *memStore {
	return &memStore{entries: make(map[string]*resultstore.CacheEntry)}
}

func (m *memStore) Retrieve(ctx context.Context, entityID string) (*resultstore.CacheEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.retrieveErr {
		return nil, nil // the real store degrades to absent
	}
	return m.entries[entityID], nil
}

func (m *memStore) Store(ctx context.Context, entityID string, obs availability.Observation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.storeCalls++
	if m.storeErr != nil {
		return m.storeErr
	}
	fp, err := availability.FingerprintObservation(obs)
	if err != nil {
		return err
	}
	m.entries[entityID] = &resultstore.CacheEntry{
		EntityID:    entityID,
		Fingerprint: fp,
		Observation: obs,
		CreatedAt:   time.Now().UTC(),
	}
	return nil
}

// memSender records sends and can fail selected recipients.
type memSender struct {
	mu       sync.Mutex
	sends    int
	subjects []string
	fail     map[string]bool
	sendErr  error
}

func newMemSender() *memSender {
	return &memSender{fail: make(map[string]bool)}
}

func (m *memSender) Send(ctx context.Context, recipients dispatch.RecipientSet, subject, body string) (dispatch.DispatchSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return dispatch.DispatchSummary{}, m.sendErr
	}
	m.sends++
	m.subjects = append(m.subjects, subject)

	outcomes := make([]dispatch.DeliveryOutcome, 0, len(recipients))
	var ok, failed int
	for _, r := range recipients {
		if m.fail[r] {
			outcomes = append(outcomes, dispatch.DeliveryOutcome{Recipient: r, Kind: dispatch.FailTransport})
			failed++
		} else {
			outcomes = append(outcomes, dispatch.DeliveryOutcome{Recipient: r, Success: true})
			ok++
		}
	}
	status := dispatch.StatusAllSucceeded
	if failed > 0 && ok > 0 {
		status = dispatch.StatusPartial
	} else if failed > 0 {
		status = dispatch.StatusAllFailed
	}
	return dispatch.DispatchSummary{Outcomes: outcomes, Succeeded: ok, Failed: failed, Status: status}, nil
}

var testEntity = availability.WatchedEntity{ID: "766", Name: "Steep Ravine", Provider: "ReserveCalifornia"}

func testObservation(dates ...string) availability.Observation {
	return availability.Observation{
		EntityID:   "766",
		ObservedAt: time.Now(),
		Search: availability.SearchParameters{
			Provider:  "ReserveCalifornia",
			StartDate: "2025-01-10",
			EndDate:   "2025-02-10",
		},
		Sites: []availability.SiteAvailability{
			{SiteID: "123", SiteName: "Site A", Dates: dates},
		},
	}
}

func newTestWatcher(store watcher.Store, sender watcher.Sender) *watcher.Watcher {
	return watcher.New(store, availability.NewComparator(nil), sender, nil, nil)
}

func TestEvaluate_FirstObservationNotifies(t *testing.T) {
	store := newMemStore()
	sender := newMemSender()
	w := newTestWatcher(store, sender)

	eval, err := w.Evaluate(context.Background(), testEntity,
		testObservation("2025-01-15"), dispatch.RecipientSet{"a@example.com"})
	if err != nil {
		t.Fatal(err)
	}
	if !eval.Notified {
		t.Fatal("first-ever observation must notify")
	}
	if sender.sends != 1 {
		t.Fatalf("expected 1 send, got %d", sender.sends)
	}
}

func TestEvaluate_Idempotent(t *testing.T) {
	store := newMemStore()
	sender := newMemSender()
	w := newTestWatcher(store, sender)
	recipients := dispatch.RecipientSet{"a@example.com"}

	obs := testObservation("2025-01-15", "2025-01-16")
	if _, err := w.Evaluate(context.Background(), testEntity, obs, recipients); err != nil {
		t.Fatal(err)
	}

	// Identical observation, dates permuted: no second notification.
	again := testObservation("2025-01-16", "2025-01-15")
	eval, err := w.Evaluate(context.Background(), testEntity, again, recipients)
	if err != nil {
		t.Fatal(err)
	}
	if eval.Notified {
		t.Fatal("unchanged observation must not notify again")
	}
	if sender.sends != 1 {
		t.Fatalf("expected exactly 1 send total, got %d", sender.sends)
	}

	// A new date appears: notify again with a fresh entry.
	grown := testObservation("2025-01-15", "2025-01-16", "2025-01-17")
	eval, err = w.Evaluate(context.Background(), testEntity, grown, recipients)
	if err != nil {
		t.Fatal(err)
	}
	if !eval.Notified {
		t.Fatal("new date must notify")
	}
	if sender.sends != 2 {
		t.Fatalf("expected 2 sends total, got %d", sender.sends)
	}
}

func TestEvaluate_FailOpenOnMissingHistory(t *testing.T) {
	store := newMemStore()
	store.retrieveErr = true
	sender := newMemSender()
	w := newTestWatcher(store, sender)

	// Even with an entry "stored", a degraded retrieve means no history.
	_ = store.Store(context.Background(), testEntity.ID, testObservation("2025-01-15"))

	eval, err := w.Evaluate(context.Background(), testEntity,
		testObservation("2025-01-15"), dispatch.RecipientSet{"a@example.com"})
	if err != nil {
		t.Fatal(err)
	}
	if !eval.Notified {
		t.Fatal("degraded retrieve must bias toward notifying")
	}
}

func TestEvaluate_StoreFailureStillNotifies(t *testing.T) {
	store := newMemStore()
	store.storeErr = errors.New("connection refused")
	sender := newMemSender()
	w := newTestWatcher(store, sender)

	eval, err := w.Evaluate(context.Background(), testEntity,
		testObservation("2025-01-15"), dispatch.RecipientSet{"a@example.com"})
	if err != nil {
		t.Fatal(err)
	}
	if !eval.Notified {
		t.Fatal("store failure must not suppress the notification")
	}
	if sender.sends != 1 {
		t.Fatalf("expected 1 send, got %d", sender.sends)
	}
}

func TestEvaluate_EmptyRecipientsIsFatal(t *testing.T) {
	store := newMemStore()
	sender := newMemSender()
	sender.sendErr = dispatch.ErrNoRecipients
	w := newTestWatcher(store, sender)

	_, err := w.Evaluate(context.Background(), testEntity,
		testObservation("2025-01-15"), nil)
	if !errors.Is(err, dispatch.ErrNoRecipients) {
		t.Fatalf("expected ErrNoRecipients to propagate, got %v", err)
	}
}

func TestEvaluate_PartialDeliveryStillCountsAsNotified(t *testing.T) {
	store := newMemStore()
	sender := newMemSender()
	sender.fail["b@example.com"] = true
	w := newTestWatcher(store, sender)

	eval, err := w.Evaluate(context.Background(), testEntity,
		testObservation("2025-01-15"),
		dispatch.RecipientSet{"a@example.com", "b@example.com"})
	if err != nil {
		t.Fatal(err)
	}
	if !eval.Notified || eval.Summary == nil {
		t.Fatal("partial delivery should still report notified with a summary")
	}
	if eval.Summary.Status != dispatch.StatusPartial {
		t.Fatalf("expected partial, got %s", eval.Summary.Status)
	}
}

func TestBuildMessage_MarksNewDates(t *testing.T) {
	prevObs := testObservation("2025-01-15")
	fp, _ := availability.FingerprintObservation(prevObs)
	previous := &resultstore.CacheEntry{
		EntityID:    "766",
		Fingerprint: fp,
		Observation: prevObs,
		CreatedAt:   time.Now(),
	}

	subject, body := watcher.BuildMessage(testEntity, testObservation("2025-01-15", "2025-01-17"), previous)
	if !strings.Contains(subject, "Steep Ravine") {
		t.Fatalf("subject missing entity name: %q", subject)
	}
	if !strings.Contains(body, "2025-01-17 (new)") {
		t.Fatalf("body should mark 2025-01-17 as new:\n%s", body)
	}
	if strings.Contains(body, "2025-01-15 (new)") {
		t.Fatalf("body should not mark 2025-01-15 as new:\n%s", body)
	}
}

func TestBuildMessage_NoSites(t *testing.T) {
	obs := testObservation()
	obs.Sites = nil
	_, body := watcher.BuildMessage(testEntity, obs, nil)
	if !strings.Contains(body, "No sites are currently available") {
		t.Fatalf("expected empty-availability body, got:\n%s", body)
	}
}

// fakeProvider returns canned observations per entity.
type fakeProvider struct {
	mu  sync.Mutex
	obs map[string]availability.Observation
	err map[string]error
}

func (f *fakeProvider) Search(ctx context.Context, entity availability.WatchedEntity, window availability.SearchWindow) (availability.Observation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.err[entity.ID]; err != nil {
		return availability.Observation{}, err
	}
	return f.obs[entity.ID], nil
}

func TestRunAll(t *testing.T) {
	store := newMemStore()
	sender := newMemSender()
	w := newTestWatcher(store, sender)

	entities := []availability.WatchedEntity{
		{ID: "766", Name: "Steep Ravine", Provider: "ReserveCalifornia"},
		{ID: "252037", Name: "Sardine Peak Lookout", Provider: "RecreationDotGov"},
		{ID: "404", Name: "Broken Campground", Provider: "RecreationDotGov"},
	}
	provider := &fakeProvider{
		obs: map[string]availability.Observation{
			"766":    testObservation("2025-01-15"),
			"252037": {EntityID: "252037", Sites: []availability.SiteAvailability{{SiteID: "9", Dates: []string{"2025-02-01"}}}},
		},
		err: map[string]error{"404": errors.New("provider down")},
	}

	result := w.RunAll(context.Background(), provider, entities,
		availability.WindowFromToday(30),
		dispatch.RecipientSet{"a@example.com"},
		watcher.RunConfig{Workers: 2})

	if result.EntitiesChecked != 3 {
		t.Fatalf("checked = %d, want 3", result.EntitiesChecked)
	}
	if result.Notified != 2 {
		t.Fatalf("notified = %d, want 2", result.Notified)
	}
	if result.LookupFailures != 1 {
		t.Fatalf("lookup failures = %d, want 1", result.LookupFailures)
	}

	// Second run with identical data: all unchanged, nothing sent.
	result = w.RunAll(context.Background(), provider, entities[:2],
		availability.WindowFromToday(30),
		dispatch.RecipientSet{"a@example.com"},
		watcher.RunConfig{Workers: 2})
	if result.Notified != 0 {
		t.Fatalf("second run notified = %d, want 0", result.Notified)
	}
}
