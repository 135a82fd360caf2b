package api

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// AlertType identifies the kind of anomaly detected.
type AlertType string

const (
	AlertLoginFailureSpike      AlertType = "login_failure_spike"
	AlertServiceKeyFailureSpike AlertType = "service_key_failure_spike"
)

// AlertEvent describes an anomaly that triggered an alert.
type AlertEvent struct {
	Type      AlertType `json:"type"`
	Message   string    `json:"message"`
	Count     int       `json:"count"`
	Threshold int       `json:"threshold"`
	Timestamp time.Time `json:"timestamp"`
}

// AlertFunc is the callback invoked when an anomaly is detected.
type AlertFunc func(AlertEvent)

// metricsCollector counts audit events for Prometheus and watches sliding
// windows of failures for anomaly alerts.
type metricsCollector struct {
	mu sync.Mutex

	loginFailures  []time.Time
	loginWindow    time.Duration
	loginThreshold int

	keyFailures  []time.Time
	keyWindow    time.Duration
	keyThreshold int

	alertFn AlertFunc
	events  *prometheus.CounterVec
}

const (
	defaultLoginFailureWindow    = 1 * time.Minute
	defaultLoginFailureThreshold = 50
	defaultKeyFailureWindow      = 1 * time.Minute
	defaultKeyFailureThreshold   = 20
)

func newMetricsCollector(alertFn AlertFunc) *metricsCollector {
	return &metricsCollector{
		loginWindow:    defaultLoginFailureWindow,
		loginThreshold: defaultLoginFailureThreshold,
		keyWindow:      defaultKeyFailureWindow,
		keyThreshold:   defaultKeyFailureThreshold,
		alertFn:        alertFn,
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agentgate",
			Subsystem: "audit",
			Name:      "events_total",
			Help:      "Audit events by type.",
		}, []string{"event"}),
	}
}

// register exposes the audit counter on reg.
func (m *metricsCollector) register(reg prometheus.Registerer) error {
	return reg.Register(m.events)
}

// recordEvent counts the event and updates the anomaly windows.
func (m *metricsCollector) recordEvent(event AuditEvent) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(string(event)).Inc()
	if m.alertFn == nil {
		return
	}
	switch event {
	case AuditLoginFailure:
		m.recordFailure(&m.loginFailures, m.loginWindow, m.loginThreshold,
			AlertLoginFailureSpike, "login failure rate exceeds threshold")
	case AuditServiceKeyInvalid:
		m.recordFailure(&m.keyFailures, m.keyWindow, m.keyThreshold,
			AlertServiceKeyFailureSpike, "invalid service key rate exceeds threshold")
	}
}

func (m *metricsCollector) recordFailure(window *[]time.Time, span time.Duration, threshold int, typ AlertType, msg string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	*window = trimWindow(append(*window, now), now, span)
	if len(*window) >= threshold {
		m.alertFn(AlertEvent{
			Type:      typ,
			Message:   msg,
			Count:     len(*window),
			Threshold: threshold,
			Timestamp: now,
		})
		// Reset to avoid repeated alerts within the same spike.
		*window = (*window)[:0]
	}
}

// trimWindow removes entries older than (now - window) from the sorted slice.
func trimWindow(times []time.Time, now time.Time, window time.Duration) []time.Time {
	cutoff := now.Add(-window)
	start := 0
	for start < len(times) && times[start].Before(cutoff) {
		start++
	}
	return times[start:]
}
