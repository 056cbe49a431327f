// Package metrics exposes bot counters to Prometheus.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Namespace prefixes every metric name.
const Namespace = "lessonbot"

// Metrics implements messaging.Observer and the update counters used by the
// inbound processor.
type Metrics struct {
	updatesTotal          *prometheus.CounterVec
	duplicateUpdatesTotal prometheus.Counter
	sendsTotal            *prometheus.CounterVec
	sendDuration          *prometheus.HistogramVec
	activationsTotal      *prometheus.CounterVec
}

// New registers the metrics on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		updatesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "updates_total",
			Help:      "Inbound updates by routing result.",
		}, []string{"result"}),

		duplicateUpdatesTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "duplicate_updates_total",
			Help:      "Updates skipped because their update_id was already seen.",
		}),

		sendsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "sends_total",
			Help:      "Bot API send attempts by method and outcome.",
		}, []string{"method", "outcome"}),

		sendDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "send_duration_seconds",
			Help:      "Latency of Bot API send calls.",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 15},
		}, []string{"method"}),

		activationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "activations_total",
			Help:      "Successful activations, split by first-time or repeat.",
		}, []string{"first"}),
	}
}

// RecordUpdate counts a routed update.
func (m *Metrics) RecordUpdate(result string) {
	m.updatesTotal.WithLabelValues(result).Inc()
}

// RecordDuplicate counts an update dropped by deduplication.
func (m *Metrics) RecordDuplicate() {
	m.duplicateUpdatesTotal.Inc()
}

// RecordActivation counts an activation.
func (m *Metrics) RecordActivation(first bool) {
	m.activationsTotal.WithLabelValues(strconv.FormatBool(first)).Inc()
}

// ObserveSend records one Bot API call.
func (m *Metrics) ObserveSend(method, outcome string, duration time.Duration) {
	m.sendsTotal.WithLabelValues(method, outcome).Inc()
	m.sendDuration.WithLabelValues(method).Observe(duration.Seconds())
}
