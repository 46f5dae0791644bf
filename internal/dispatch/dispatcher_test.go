package dispatch_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/campwatch/campwatch/internal/dispatch"
)

// fakeTransport records attempts and fails the recipients listed in failWith.
type fakeTransport struct {
	mu       sync.Mutex
	attempts map[string]int
	failWith map[string]error
	block    chan struct{} // when set, Deliver blocks until ctx is done
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{attempts: make(map[string]int), failWith: make(map[string]error)}
}

func (f *fakeTransport) Deliver(ctx context.Context, to, subject, body string) error {
	f.mu.Lock()
	f.attempts[to]++
	f.mu.Unlock()

	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err, ok := f.failWith[to]; ok {
		return err
	}
	return nil
}

func (f *fakeTransport) attemptCount(to string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attempts[to]
}

func TestSend_PartialDeliveryIsolation(t *testing.T) {
	tr := newFakeTransport()
	tr.failWith["two@example.com"] = errors.New("connection refused")

	d := dispatch.New(tr, 2, time.Second, nil)
	recipients := dispatch.RecipientSet{"one@example.com", "two@example.com", "three@example.com"}

	summary, err := d.Send(context.Background(), recipients, "subj", "body")
	if err != nil {
		t.Fatal(err)
	}

	if summary.Succeeded != 2 || summary.Failed != 1 {
		t.Fatalf("expected 2 successes and 1 failure, got %d/%d", summary.Succeeded, summary.Failed)
	}
	if summary.Status != dispatch.StatusPartial {
		t.Fatalf("expected partial status, got %s", summary.Status)
	}
	for _, r := range []string{"one@example.com", "two@example.com", "three@example.com"} {
		if n := tr.attemptCount(r); n != 1 {
			t.Fatalf("recipient %s attempted %d times, want exactly 1", r, n)
		}
	}
}

func TestSend_EmptyRecipientSet(t *testing.T) {
	tr := newFakeTransport()
	d := dispatch.New(tr, 2, time.Second, nil)

	summary, err := d.Send(context.Background(), nil, "subj", "body")
	if !errors.Is(err, dispatch.ErrNoRecipients) {
		t.Fatalf("expected ErrNoRecipients, got %v", err)
	}
	if len(summary.Outcomes) != 0 {
		t.Fatalf("expected zero outcomes, got %d", len(summary.Outcomes))
	}
	if len(tr.attempts) != 0 {
		t.Fatal("no delivery should be attempted for an empty recipient set")
	}
}

func TestSend_AllFailed(t *testing.T) {
	tr := newFakeTransport()
	tr.failWith["a@example.com"] = errors.New("boom")
	tr.failWith["b@example.com"] = errors.New("boom")

	d := dispatch.New(tr, 1, time.Second, nil)
	summary, err := d.Send(context.Background(), dispatch.RecipientSet{"a@example.com", "b@example.com"}, "s", "b")
	if err != nil {
		t.Fatal(err)
	}
	if summary.Status != dispatch.StatusAllFailed {
		t.Fatalf("expected all_failed, got %s", summary.Status)
	}
	if !summary.AllFailed() {
		t.Fatal("AllFailed() should report true")
	}
}

func TestSend_AllSucceeded(t *testing.T) {
	tr := newFakeTransport()
	d := dispatch.New(tr, 4, time.Second, nil)
	summary, err := d.Send(context.Background(), dispatch.RecipientSet{"a@example.com", "b@example.com"}, "s", "b")
	if err != nil {
		t.Fatal(err)
	}
	if summary.Status != dispatch.StatusAllSucceeded {
		t.Fatalf("expected all_succeeded, got %s", summary.Status)
	}
	if summary.Attempts() != 2 {
		t.Fatalf("expected 2 attempts, got %d", summary.Attempts())
	}
}

func TestSend_DeadlineMarksOutstandingFailed(t *testing.T) {
	tr := newFakeTransport()
	tr.block = make(chan struct{}) // never closed: deliveries hang until ctx expires

	d := dispatch.New(tr, 2, 50*time.Millisecond, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	summary, err := d.Send(ctx, dispatch.RecipientSet{"a@example.com", "b@example.com"}, "s", "b")
	if err != nil {
		t.Fatal(err)
	}
	if summary.Status != dispatch.StatusAllFailed {
		t.Fatalf("expected all_failed after timeouts, got %s", summary.Status)
	}
	for _, o := range summary.Outcomes {
		if o.Success {
			t.Fatalf("outcome for %s should have failed", o.Recipient)
		}
		if o.Kind != dispatch.FailTimeout {
			t.Fatalf("expected timeout classification for %s, got %s", o.Recipient, o.Kind)
		}
	}
}

func TestParseRecipients(t *testing.T) {
	tests := []struct {
		name        string
		raw         string
		wantValid   []string
		wantInvalid int
		wantErr     bool
	}{
		{
			name:      "single address",
			raw:       "user@example.com",
			wantValid: []string{"user@example.com"},
		},
		{
			name:      "comma separated with whitespace",
			raw:       " a@example.com , b@example.com ",
			wantValid: []string{"a@example.com", "b@example.com"},
		},
		{
			name:      "case insensitive dedupe",
			raw:       "a@example.com,A@Example.com",
			wantValid: []string{"a@example.com"},
		},
		{
			name:        "invalid entries skipped",
			raw:         "good@example.com,not-an-email,@nope",
			wantValid:   []string{"good@example.com"},
			wantInvalid: 2,
		},
		{
			name:    "empty string",
			raw:     "",
			wantErr: true,
		},
		{
			name:        "only invalid entries",
			raw:         "nope,also nope",
			wantInvalid: 2,
			wantErr:     true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			valid, invalid, err := dispatch.ParseRecipients(tt.raw)
			if tt.wantErr {
				if !errors.Is(err, dispatch.ErrNoRecipients) {
					t.Fatalf("expected ErrNoRecipients, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if len(valid) != len(tt.wantValid) {
				t.Fatalf("expected %d valid, got %d (%v)", len(tt.wantValid), len(valid), valid)
			}
			for i, want := range tt.wantValid {
				if valid[i] != want {
					t.Fatalf("valid[%d] = %s, want %s", i, valid[i], want)
				}
			}
			if len(invalid) != tt.wantInvalid {
				t.Fatalf("expected %d invalid, got %d (%v)", tt.wantInvalid, len(invalid), invalid)
			}
		})
	}
}
