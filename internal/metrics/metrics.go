// Package metrics emits delivery and storage counters for the external
// alerting platform. Emission is strictly best-effort: a broken metrics
// pipeline must never break change detection or notification delivery.
package metrics

import (
	"log/slog"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/campwatch/campwatch/internal/dispatch"
)

const namespace = "campwatch"

// Sink records notification and storage events as Prometheus collectors.
// Nil-safe: a nil *Sink is a valid no-op, for callers that run without
// observability wired up.
type Sink struct {
	deliverySuccess *prometheus.CounterVec
	deliveryFailure *prometheus.CounterVec
	storageFailure  *prometheus.CounterVec
	secretFailure   prometheus.Counter
	successRate     *prometheus.GaugeVec
	logger          *slog.Logger
}

// New creates a Sink and registers its collectors. Registration failures are
// logged and the sink stays usable — the collectors still count, they just
// are not scraped.
func New(reg prometheus.Registerer, logger *slog.Logger) *Sink {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Sink{
		deliverySuccess: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notification_delivery_success_total",
			Help:      "Successful notification deliveries per entity and masked recipient.",
		}, []string{"entity_id", "recipient"}),
		deliveryFailure: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notification_delivery_failure_total",
			Help:      "Failed notification deliveries per entity, masked recipient, and failure kind.",
		}, []string{"entity_id", "recipient", "kind"}),
		storageFailure: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "storage_operation_failure_total",
			Help:      "Result store failures by operation kind.",
		}, []string{"kind"}),
		secretFailure: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "secret_retrieval_failure_total",
			Help:      "Failures reading the recipient configuration.",
		}),
		successRate: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "notification_delivery_success_rate",
			Help:      "Percentage of successful deliveries in the most recent dispatch per entity.",
		}, []string{"entity_id"}),
		logger: logger,
	}

	if reg != nil {
		for _, c := range []prometheus.Collector{
			s.deliverySuccess, s.deliveryFailure, s.storageFailure, s.secretFailure, s.successRate,
		} {
			if err := reg.Register(c); err != nil {
				logger.Warn("Metric registration failed", "error", err)
			}
		}
	}
	return s
}

// RecordDelivery emits one event per delivery outcome, exactly once, and
// refreshes the per-entity success-rate gauge.
func (s *Sink) RecordDelivery(entityID string, summary dispatch.DispatchSummary) {
	if s == nil {
		return
	}

	for _, o := range summary.Outcomes {
		masked := MaskAddress(o.Recipient)
		if o.Success {
			s.deliverySuccess.WithLabelValues(entityID, masked).Inc()
		} else {
			s.deliveryFailure.WithLabelValues(entityID, masked, string(o.Kind)).Inc()
		}
	}

	if attempts := summary.Attempts(); attempts > 0 {
		rate := float64(summary.Succeeded) / float64(attempts) * 100
		s.successRate.WithLabelValues(entityID).Set(rate)
	}
}

// RecordStorageFailure counts one result-store failure. kind is one of
// "retrieve", "store", or "decode".
func (s *Sink) RecordStorageFailure(kind string) {
	if s == nil {
		return
	}
	s.storageFailure.WithLabelValues(kind).Inc()
}

// RecordSecretFailure counts one failure to read recipient configuration.
func (s *Sink) RecordSecretFailure() {
	if s == nil {
		return
	}
	s.secretFailure.Inc()
}

// MaskAddress hides the local part of an email address so recipient identity
// never appears verbatim in metric labels. Even a one-character local is
// replaced rather than echoed.
func MaskAddress(addr string) string {
	at := strings.Index(addr, "@")
	if at < 0 {
		return "invalid_address"
	}
	local, domain := addr[:at], addr[at+1:]
	if len(local) <= 1 {
		return "*@" + domain
	}
	return local[:1] + strings.Repeat("*", len(local)-1) + "@" + domain
}
