package realtime

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

type hubMetrics struct {
	sessions    prometheus.Gauge
	events      *prometheus.CounterVec
	rateLimited prometheus.Counter
	dropped     prometheus.Counter
}

func newHubMetrics() *hubMetrics {
	return &hubMetrics{
		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "agentgate",
			Subsystem: "realtime",
			Name:      "sessions",
			Help:      "Number of connected WebSocket sessions.",
		}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agentgate",
			Subsystem: "realtime",
			Name:      "events_total",
			Help:      "Events delivered to sessions, by event name.",
		}, []string{"event"}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "agentgate",
			Subsystem: "realtime",
			Name:      "rate_limited_total",
			Help:      "Inbound events rejected by the per-session limiter.",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "agentgate",
			Subsystem: "realtime",
			Name:      "dropped_sessions_total",
			Help:      "Sessions closed because their send buffer was full.",
		}),
	}
}

func (m *hubMetrics) register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{m.sessions, m.events, m.rateLimited, m.dropped} {
		if err := reg.Register(c); err != nil {
			var already prometheus.AlreadyRegisteredError
			if errors.As(err, &already) {
				continue
			}
			return err
		}
	}
	return nil
}
