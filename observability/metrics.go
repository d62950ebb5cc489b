package observability

import (
	"chat-relay/domain/event"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "chat_relay"

// Metrics gathers the relay counters exposed on /metrics.
type Metrics struct {
	OnlineIdentities   prometheus.Gauge
	OpenSessions       prometheus.Gauge
	Dispatched         *prometheus.CounterVec
	Dropped            *prometheus.CounterVec
	ReplacedSessions   prometheus.Counter
	RejectedHandshakes prometheus.Counter
	ReadAckFailures    *prometheus.CounterVec
	RosterBroadcasts   prometheus.Counter
	OutboundFill       prometheus.Histogram
	SaturatedSessions  prometheus.Gauge
}

// NewMetrics builds the collectors and registers them on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		OnlineIdentities: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "online_identities",
			Help:      "Identities currently present in the registry.",
		}),
		OpenSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "open_sessions",
			Help:      "Connections between upgrade and unregistration, anonymous ones included.",
		}),
		Dispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dispatched_total",
			Help:      "Events enqueued on a connection outbound buffer.",
		}, []string{"kind"}),
		Dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dropped_total",
			Help:      "Events not enqueued, by kind and reason.",
		}, []string{"kind", "reason"}),
		ReplacedSessions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_replaced_total",
			Help:      "Connections closed because the same identity reconnected.",
		}),
		RejectedHandshakes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handshakes_rejected_total",
			Help:      "Connections rejected before registration.",
		}),
		ReadAckFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "read_ack_failures_total",
			Help:      "Read receipts that failed, by stage.",
		}, []string{"stage"}),
		RosterBroadcasts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "roster_broadcasts_total",
			Help:      "Presence snapshots broadcast to connections.",
		}),
		OutboundFill: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "outbound_buffer_fill_ratio",
			Help:      "Sampled fill ratio of connection outbound buffers.",
			Buckets:   []float64{0, 0.1, 0.25, 0.5, 0.75, 0.9, 1},
		}),
		SaturatedSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "saturated_sessions",
			Help:      "Connections whose outbound buffer was above the saturation threshold at the last sample.",
		}),
	}
	reg.MustRegister(
		m.OnlineIdentities, m.OpenSessions, m.Dispatched, m.Dropped,
		m.ReplacedSessions, m.RejectedHandshakes, m.ReadAckFailures, m.RosterBroadcasts,
		m.OutboundFill, m.SaturatedSessions,
	)
	return m
}

// Drop reasons.
const (
	ReasonAbsent       = "absent"
	ReasonBackpressure = "backpressure"
	ReasonClosed       = "closed"
	ReasonRateLimited  = "rate_limited"
)

func (m *Metrics) IncDispatched(kind event.Kind) {
	m.Dispatched.WithLabelValues(kind.String()).Inc()
}

func (m *Metrics) IncDropped(kind event.Kind, reason string) {
	m.Dropped.WithLabelValues(kind.String(), reason).Inc()
}
