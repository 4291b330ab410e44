// Package metrics exposes Prometheus instrumentation for the chat service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles the service's Prometheus collectors. A nil *Metrics is
// safe to call, so instrumentation can be wired optionally.
type Metrics struct {
	ActiveConnections prometheus.Gauge
	MessagesTotal     *prometheus.CounterVec
	BotReplyDuration  prometheus.Histogram
}

// New registers the collectors on the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ActiveConnections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "wildchat_active_connections",
			Help: "Number of live WebSocket connections.",
		}),
		MessagesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "wildchat_messages_total",
			Help: "Messages processed, labeled by kind.",
		}, []string{"kind"}),
		BotReplyDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "wildchat_bot_reply_duration_seconds",
			Help:    "Wall time spent producing a bot reply.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		}),
	}
}

// ConnOpened increments the connection gauge.
func (m *Metrics) ConnOpened() {
	if m != nil {
		m.ActiveConnections.Inc()
	}
}

// ConnClosed decrements the connection gauge.
func (m *Metrics) ConnClosed() {
	if m != nil {
		m.ActiveConnections.Dec()
	}
}

// MessageHandled counts one processed message of the given kind.
func (m *Metrics) MessageHandled(kind string) {
	if m != nil {
		m.MessagesTotal.WithLabelValues(kind).Inc()
	}
}

// ObserveBotReply records the duration of one bot reply in seconds.
func (m *Metrics) ObserveBotReply(seconds float64) {
	if m != nil {
		m.BotReplyDuration.Observe(seconds)
	}
}
