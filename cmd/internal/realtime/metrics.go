package realtime

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the gateway's Prometheus instruments.
type Metrics struct {
	connections     prometheus.Gauge
	rooms           prometheus.Gauge
	inbound         *prometheus.CounterVec
	outbound        *prometheus.CounterVec
	dropped         prometheus.Counter
	authFailures    *prometheus.CounterVec
	presenceExpired prometheus.Counter
}

// NewMetrics registers the gateway instruments on reg.
// A nil reg uses a private registry, which keeps tests free of duplicate-registration panics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)

	return &Metrics{
		connections: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "crpg",
			Subsystem: "ws",
			Name:      "connections",
			Help:      "Live registered realtime connections.",
		}),
		rooms: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "crpg",
			Subsystem: "ws",
			Name:      "rooms",
			Help:      "Conversations with at least one live connection.",
		}),
		inbound: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "crpg",
			Subsystem: "ws",
			Name:      "inbound_events_total",
			Help:      "Inbound realtime events by event name.",
		}, []string{"event"}),
		outbound: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "crpg",
			Subsystem: "ws",
			Name:      "outbound_frames_total",
			Help:      "Frames queued to connections by event name.",
		}, []string{"event"}),
		dropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: "crpg",
			Subsystem: "ws",
			Name:      "dropped_frames_total",
			Help:      "Frames dropped because a connection queue was full or closing.",
		}),
		authFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "crpg",
			Subsystem: "ws",
			Name:      "auth_failures_total",
			Help:      "Rejected connection attempts by reason.",
		}, []string{"reason"}),
		presenceExpired: f.NewCounter(prometheus.CounterOpts{
			Namespace: "crpg",
			Subsystem: "presence",
			Name:      "expired_total",
			Help:      "Typing presence entries removed by the sweeper.",
		}),
	}
}

func (m *Metrics) observeHub(h *Hub) {
	rooms, conns := h.Stats()
	m.rooms.Set(float64(rooms))
	m.connections.Set(float64(conns))
}
