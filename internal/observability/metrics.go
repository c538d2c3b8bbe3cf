// Package observability exposes alarmpipe's Prometheus metrics.
package observability

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "alarmpipe"

// Metrics holds every collector. All methods are safe on a nil *Metrics so
// components can run without instrumentation.
type Metrics struct {
	registry *prometheus.Registry

	measurements        prometheus.Counter
	decodeErrors        *prometheus.CounterVec
	events              *prometheus.CounterVec
	eventsDropped       prometheus.Counter
	processorFailures   prometheus.Counter
	definitionsApplied  *prometheus.CounterVec
	definitionsRejected prometheus.Counter
	activeDefinitions   prometheus.Gauge
	passDuration        prometheus.Histogram
	outboundErrors      *prometheus.CounterVec
}

// NewMetrics registers all collectors, plus the Go and process collectors,
// on a fresh registry.
func NewMetrics() (*Metrics, error) {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		measurements: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "measurements_total",
			Help:      "Measurements evaluated by the engine.",
		}),
		decodeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decode_errors_total",
			Help:      "Bus payloads that could not be decoded, by topic.",
		}, []string{"topic"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alarm_events_total",
			Help:      "Alarm state transitions emitted, by new state.",
		}, []string{"state"}),
		eventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alarm_events_dropped_total",
			Help:      "Alarm events dropped because the outbound buffer was full.",
		}),
		processorFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "processor_failures_total",
			Help:      "Recovered failures while a processor handled a measurement.",
		}),
		definitionsApplied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "definitions_applied_total",
			Help:      "Accepted control messages, by operation.",
		}, []string{"op"}),
		definitionsRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "definitions_rejected_total",
			Help:      "Control messages rejected as malformed.",
		}),
		activeDefinitions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_definitions",
			Help:      "Alarm definitions with a live processor.",
		}),
		passDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fanout_pass_seconds",
			Help:      "Time to run one measurement through every processor.",
			Buckets:   prometheus.ExponentialBuckets(0.00001, 4, 10),
		}),
		outboundErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbound_errors_total",
			Help:      "Failed alarm hand-offs, by sink.",
		}, []string{"sink"}),
	}

	for _, c := range []prometheus.Collector{
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.measurements, m.decodeErrors, m.events, m.eventsDropped,
		m.processorFailures, m.definitionsApplied, m.definitionsRejected,
		m.activeDefinitions, m.passDuration, m.outboundErrors,
	} {
		if err := m.registry.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register collector: %w", err)
		}
	}
	return m, nil
}

// Registry returns the registry backing the metrics endpoint.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) MeasurementReceived() {
	if m != nil {
		m.measurements.Inc()
	}
}

func (m *Metrics) DecodeError(topic string) {
	if m != nil {
		m.decodeErrors.WithLabelValues(topic).Inc()
	}
}

func (m *Metrics) EventEmitted(state string) {
	if m != nil {
		m.events.WithLabelValues(state).Inc()
	}
}

func (m *Metrics) EventDropped() {
	if m != nil {
		m.eventsDropped.Inc()
	}
}

func (m *Metrics) ProcessorFailed() {
	if m != nil {
		m.processorFailures.Inc()
	}
}

func (m *Metrics) DefinitionApplied(op string) {
	if m != nil {
		m.definitionsApplied.WithLabelValues(op).Inc()
	}
}

func (m *Metrics) DefinitionRejected() {
	if m != nil {
		m.definitionsRejected.Inc()
	}
}

func (m *Metrics) SetActiveDefinitions(n int) {
	if m != nil {
		m.activeDefinitions.Set(float64(n))
	}
}

func (m *Metrics) ObservePass(d time.Duration) {
	if m != nil {
		m.passDuration.Observe(d.Seconds())
	}
}

func (m *Metrics) OutboundError(sink string) {
	if m != nil {
		m.outboundErrors.WithLabelValues(sink).Inc()
	}
}
