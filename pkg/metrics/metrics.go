// Package metrics exports session engine counters to prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/go-go-golems/bookchat/pkg/apperrors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "bookchat"

// Recorder is what the session coordinator reports to.
type Recorder interface {
	ObserveInteraction(outcome apperrors.Kind, d time.Duration)
	ObserveCapabilityCall(capability string, err error)
	ObservePersist(err error)
}

type Nop struct{}

func (Nop) ObserveInteraction(apperrors.Kind, time.Duration) {}
func (Nop) ObserveCapabilityCall(string, error)              {}
func (Nop) ObservePersist(error)                             {}

type Metrics struct {
	registry *prometheus.Registry

	Interactions        *prometheus.CounterVec
	InteractionDuration prometheus.Histogram
	CapabilityCalls     *prometheus.CounterVec
	Persists            *prometheus.CounterVec
	Events              *prometheus.CounterVec
}

// New registers the collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Interactions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "interactions_total",
			Help:      "Submitted interactions by outcome.",
		}, []string{"outcome"}),
		InteractionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "interaction_duration_seconds",
			Help:      "Duration of submitted interactions.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
		CapabilityCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "capability_calls_total",
			Help:      "Capability executions by capability and outcome.",
		}, []string{"capability", "outcome"}),
		Persists: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persists_total",
			Help:      "Snapshot writes by outcome.",
		}, []string{"outcome"}),
		Events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Session events seen on the event router by type.",
		}, []string{"type"}),
	}
	m.registry.MustRegister(m.Interactions, m.InteractionDuration, m.CapabilityCalls, m.Persists, m.Events)
	return m
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	return string(apperrors.KindOf(err))
}

func (m *Metrics) ObserveInteraction(kind apperrors.Kind, d time.Duration) {
	label := string(kind)
	if kind == apperrors.KindNone {
		label = "ok"
	}
	m.Interactions.WithLabelValues(label).Inc()
	m.InteractionDuration.Observe(d.Seconds())
}

func (m *Metrics) ObserveCapabilityCall(capability string, err error) {
	m.CapabilityCalls.WithLabelValues(capability, outcome(err)).Inc()
}

func (m *Metrics) ObservePersist(err error) {
	m.Persists.WithLabelValues(outcome(err)).Inc()
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// EventCounter is an event router handler counting events by the event_type
// message metadata set by the watermill sink.
func (m *Metrics) EventCounter(msg *message.Message) error {
	t := msg.Metadata.Get("event_type")
	if t == "" {
		t = "unknown"
	}
	m.Events.WithLabelValues(t).Inc()
	return nil
}

var _ Recorder = (*Metrics)(nil)
var _ Recorder = Nop{}
