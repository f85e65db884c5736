package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the notifier's Prometheus collectors on a private registry so
// that several instances (tests, mostly) never collide on registration.
type Metrics struct {
	registry *prometheus.Registry

	eventsConsumed   *prometheus.CounterVec
	eventsDropped    *prometheus.CounterVec
	channelSends     *prometheus.CounterVec
	tokensSuppressed prometheus.Counter
	handleDuration   *prometheus.HistogramVec
}

// New returns a Metrics collector with every series registered.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		eventsConsumed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "notifier_events_consumed_total",
				Help: "Total number of broker events handled, by event type",
			},
			[]string{"type"},
		),
		eventsDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "notifier_events_dropped_total",
				Help: "Total number of events dropped without notification, by reason",
			},
			[]string{"reason"},
		),
		channelSends: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "notifier_channel_sends_total",
				Help: "Total number of channel send attempts, by channel and outcome",
			},
			[]string{"channel", "status"},
		),
		tokensSuppressed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "notifier_tokens_suppressed_total",
				Help: "Total number of push tokens marked invalid by the provider",
			},
		),
		handleDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "notifier_event_handle_duration_seconds",
				Help:    "Time spent handling a single event, excluding asynchronous channel sends",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"type"},
		),
	}

	m.registry.MustRegister(
		m.eventsConsumed,
		m.eventsDropped,
		m.channelSends,
		m.tokensSuppressed,
		m.handleDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) IncConsumed(eventType string) { m.eventsConsumed.WithLabelValues(eventType).Inc() }
func (m *Metrics) IncDropped(reason string)     { m.eventsDropped.WithLabelValues(reason).Inc() }
func (m *Metrics) IncSuppressed()               { m.tokensSuppressed.Inc() }

// IncChannelSend records one send outcome for a channel ("push", "mail").
func (m *Metrics) IncChannelSend(channel, status string) {
	m.channelSends.WithLabelValues(channel, status).Inc()
}

// ObserveHandle records how long the synchronous part of an event took.
func (m *Metrics) ObserveHandle(eventType string, d time.Duration) {
	m.handleDuration.WithLabelValues(eventType).Observe(d.Seconds())
}

// Registry exposes the underlying registry, e.g. for testutil assertions.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
