package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// FailureKind classifies a failed delivery attempt for metrics and logs.
type FailureKind string

const (
	FailTransport FailureKind = "transport" // connection / protocol failure
	FailRejected  FailureKind = "rejected"  // server refused the recipient
	FailAuth      FailureKind = "auth"      // credentials refused
	FailTimeout   FailureKind = "timeout"   // attempt deadline elapsed
)

// Transport delivers one message to one recipient. Implementations must
// honor ctx cancellation; they do not retry.
type Transport interface {
	Deliver(ctx context.Context, to, subject, body string) error
}

// DeliveryError carries a failure classification alongside the underlying
// transport error.
type DeliveryError struct {
	Kind FailureKind
	Err  error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// classify maps a delivery error to a FailureKind. Transports may pre-classify
// by returning a *DeliveryError; anything context-related counts as a timeout.
func classify(err error) FailureKind {
	var de *DeliveryError
	if errors.As(err, &de) {
		return de.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return FailTimeout
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "535") || strings.Contains(msg, "auth") {
		return FailAuth
	}
	return FailTransport
}
