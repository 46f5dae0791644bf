// Package dispatch delivers a composed notification to a set of recipients
// with per-recipient failure isolation.
//
// Each recipient gets exactly one best-effort attempt per Send call; retry
// policy, if any, belongs to the scheduling layer. Attempts fan out over a
// bounded worker pool and the summary is only produced after every attempt
// has completed or hit its sub-deadline.
package dispatch

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Status is the aggregate outcome of one Send call.
type Status string

const (
	StatusAllSucceeded Status = "all_succeeded"
	StatusPartial      Status = "partial"
	StatusAllFailed    Status = "all_failed"
)

// DeliveryOutcome is the result of one attempt to one recipient.
type DeliveryOutcome struct {
	Recipient string
	Success   bool
	Kind      FailureKind // empty on success
	Detail    string      // error text on failure
}

// DispatchSummary aggregates all outcomes of one Send call. Not persisted;
// only its counts flow into metrics.
type DispatchSummary struct {
	Outcomes  []DeliveryOutcome
	Succeeded int
	Failed    int
	Status    Status
}

// Attempts returns the total number of delivery attempts.
func (s DispatchSummary) Attempts() int { return s.Succeeded + s.Failed }

// AllFailed reports a notification outage: every recipient failed.
func (s DispatchSummary) AllFailed() bool { return s.Status == StatusAllFailed }

// Dispatcher fans a message out to recipients via a Transport.
type Dispatcher struct {
	transport      Transport
	concurrency    int
	attemptTimeout time.Duration
	logger         *slog.Logger
}

// New creates a Dispatcher. concurrency bounds parallel sends within one
// call; attemptTimeout is the per-recipient sub-deadline.
func New(transport Transport, concurrency int, attemptTimeout time.Duration, logger *slog.Logger) *Dispatcher {
	if concurrency < 1 {
		concurrency = 1
	}
	if attemptTimeout <= 0 {
		attemptTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		transport:      transport,
		concurrency:    concurrency,
		attemptTimeout: attemptTimeout,
		logger:         logger,
	}
}

// Send attempts delivery to every recipient independently and returns the
// aggregate summary. A failure to one recipient never aborts the others.
// An empty recipient set returns ErrNoRecipients with zero attempts.
// When ctx expires mid-send, completed outcomes are kept and outstanding
// attempts are marked as timed out.
func (d *Dispatcher) Send(ctx context.Context, recipients RecipientSet, subject, body string) (DispatchSummary, error) {
	if len(recipients) == 0 {
		return DispatchSummary{}, ErrNoRecipients
	}

	d.logger.Info("Dispatching notification", "recipients", len(recipients), "subject", subject)

	outcomes := make([]DeliveryOutcome, len(recipients))

	workers := d.concurrency
	if workers > len(recipients) {
		workers = len(recipients)
	}

	jobs := make(chan int, len(recipients))
	for i := range recipients {
		jobs <- i
	}
	close(jobs)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				outcomes[i] = d.attempt(ctx, recipients[i], subject, body)
			}
		}()
	}
	wg.Wait()

	summary := summarize(outcomes)
	d.logger.Info("Dispatch complete",
		"succeeded", summary.Succeeded, "failed", summary.Failed, "status", summary.Status)
	return summary, nil
}

// attempt performs a single delivery with its own sub-deadline.
func (d *Dispatcher) attempt(ctx context.Context, recipient, subject, body string) DeliveryOutcome {
	// The run deadline already expired: do not start a doomed attempt.
	if err := ctx.Err(); err != nil {
		return DeliveryOutcome{Recipient: recipient, Kind: FailTimeout, Detail: err.Error()}
	}

	attemptCtx, cancel := context.WithTimeout(ctx, d.attemptTimeout)
	defer cancel()

	if err := d.transport.Deliver(attemptCtx, recipient, subject, body); err != nil {
		kind := classify(err)
		d.logger.Warn("Delivery failed", "recipient", recipient, "kind", kind, "error", err)
		return DeliveryOutcome{Recipient: recipient, Kind: kind, Detail: err.Error()}
	}
	return DeliveryOutcome{Recipient: recipient, Success: true}
}

func summarize(outcomes []DeliveryOutcome) DispatchSummary {
	s := DispatchSummary{Outcomes: outcomes}
	for _, o := range outcomes {
		if o.Success {
			s.Succeeded++
		} else {
			s.Failed++
		}
	}
	switch {
	case s.Failed == 0:
		s.Status = StatusAllSucceeded
	case s.Succeeded == 0:
		s.Status = StatusAllFailed
	default:
		s.Status = StatusPartial
	}
	return s
}
