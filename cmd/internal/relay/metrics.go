package relay

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the relay's Prometheus collectors. A nil *Metrics disables
// instrumentation, which keeps tests and dev wiring free of a registry.
type Metrics struct {
	connections prometheus.Gauge
	inbound     *prometheus.CounterVec
	authFail    *prometheus.CounterVec
	delivered   prometheus.Counter
	dropped     prometheus.Counter
}

// NewMetrics registers the relay collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		connections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "relay_open_connections",
			Help: "Number of live registered connections.",
		}),
		inbound: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_inbound_messages_total",
			Help: "Inbound frames by decoded message kind.",
		}, []string{"kind"}),
		authFail: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_auth_failures_total",
			Help: "Failed login attempts by reason.",
		}, []string{"reason"}),
		delivered: factory.NewCounter(prometheus.CounterOpts{
			Name: "relay_broadcast_delivered_total",
			Help: "Payloads delivered to outbound handles.",
		}),
		dropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "relay_broadcast_dropped_total",
			Help: "Payloads dropped due to backpressure or closing handles.",
		}),
	}
}

func (m *Metrics) setConnections(n int) {
	if m == nil {
		return
	}
	m.connections.Set(float64(n))
}

func (m *Metrics) inboundKind(kind string) {
	if m == nil {
		return
	}
	m.inbound.WithLabelValues(kind).Inc()
}

func (m *Metrics) authFailure(reason string) {
	if m == nil {
		return
	}
	m.authFail.WithLabelValues(reason).Inc()
}

func (m *Metrics) broadcastDelivered() {
	if m == nil {
		return
	}
	m.delivered.Inc()
}

func (m *Metrics) broadcastDropped() {
	if m == nil {
		return
	}
	m.dropped.Inc()
}
