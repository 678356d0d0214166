package relay

import "github.com/prometheus/client_golang/prometheus"

// Metrics are the relay's Prometheus collectors.
type Metrics struct {
	Rooms   prometheus.Gauge
	Clients prometheus.Gauge
	Frames  *prometheus.CounterVec
	Dropped prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg when it is
// non-nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Rooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "jam",
			Subsystem: "relay",
			Name:      "rooms",
			Help:      "Rooms with at least one member.",
		}),
		Clients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "jam",
			Subsystem: "relay",
			Name:      "clients",
			Help:      "Connected websocket clients.",
		}),
		Frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "jam",
			Subsystem: "relay",
			Name:      "frames_total",
			Help:      "Frames received, by type.",
		}, []string{"type"}),
		Dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "jam",
			Subsystem: "relay",
			Name:      "dropped_clients_total",
			Help:      "Clients disconnected because their send queue was full.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Rooms, m.Clients, m.Frames, m.Dropped)
	}
	return m
}
