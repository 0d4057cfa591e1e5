// Package metrics exposes Prometheus instruments for the mount daemon.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"mirrordrive/internal/mount"
)

// Metrics tracks attach/detach lifecycle and query activity.
//
// All metrics use the "mirrordrive_" prefix. Methods handle a nil receiver,
// so a nil *Metrics is a no-op recorder.
type Metrics struct {
	// Operations counts attach and detach calls.
	// Labels: operation=[attach, detach], outcome=[success, failure, rejected]
	Operations *prometheus.CounterVec

	// OperationDuration tracks driver call time for completed operations.
	// Labels: operation=[attach, detach]
	OperationDuration *prometheus.HistogramVec

	// Backgrounded counts operations that outlived the foreground wait.
	Backgrounded *prometheus.CounterVec

	// ExternalDetaches counts sessions closed without a detach request.
	ExternalDetaches prometheus.Counter

	// Queries counts snapshot triggers by outcome.
	// Labels: outcome=[answered, failed, ignored, malformed, unknown]
	Queries *prometheus.CounterVec

	// Entries tracks registry size by status.
	Entries *prometheus.GaugeVec
}

// New creates and registers the instruments on registerer. A nil registerer
// uses prometheus.DefaultRegisterer.
func New(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		Operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mirrordrive_operations_total",
				Help: "Total attach and detach calls by outcome",
			},
			[]string{"operation", "outcome"},
		),
		OperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mirrordrive_operation_duration_seconds",
				Help:    "Attach and detach duration in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30, 60},
			},
			[]string{"operation"},
		),
		Backgrounded: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mirrordrive_background_continuations_total",
				Help: "Operations handed to a background continuation",
			},
			[]string{"operation"},
		),
		ExternalDetaches: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "mirrordrive_external_detaches_total",
				Help: "Sessions that closed without a detach request",
			},
		),
		Queries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mirrordrive_queries_total",
				Help: "Snapshot query triggers by outcome",
			},
			[]string{"outcome"},
		),
		Entries: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "mirrordrive_entries",
				Help: "Registry entries by status",
			},
			[]string{"status"},
		),
	}

	registerer.MustRegister(
		m.Operations,
		m.OperationDuration,
		m.Backgrounded,
		m.ExternalDetaches,
		m.Queries,
		m.Entries,
	)
	return m
}

// ObserveOperation records an attach or detach outcome. Rejected calls never
// reached the driver and are not timed.
func (m *Metrics) ObserveOperation(op, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.Operations.WithLabelValues(op, outcome).Inc()
	if outcome != "rejected" {
		m.OperationDuration.WithLabelValues(op).Observe(elapsed.Seconds())
	}
}

// ObserveBackground records a backgrounded operation.
func (m *Metrics) ObserveBackground(op string) {
	if m == nil {
		return
	}
	m.Backgrounded.WithLabelValues(op).Inc()
}

// ObserveExternalDetach records a session closed by the host.
func (m *Metrics) ObserveExternalDetach() {
	if m == nil {
		return
	}
	m.ExternalDetaches.Inc()
}

// ObserveQuery records the outcome of a snapshot trigger.
func (m *Metrics) ObserveQuery(outcome string) {
	if m == nil {
		return
	}
	m.Queries.WithLabelValues(outcome).Inc()
}

// SetEntryCounts publishes the registry size per status. Statuses missing
// from counts are reported as zero.
func (m *Metrics) SetEntryCounts(counts map[mount.Status]int) {
	if m == nil {
		return
	}
	for _, status := range mount.AllStatuses() {
		m.Entries.WithLabelValues(string(status)).Set(float64(counts[status]))
	}
}
