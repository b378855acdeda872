// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the sniper.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Monitor metrics
	MonitorPhase       *prometheus.GaugeVec
	MonitorReconnects  prometheus.Counter
	NotificationsRead  prometheus.Counter
	DecodeErrors       prometheus.Counter
	ReactorErrors      prometheus.Counter
	LastNotificationAt prometheus.Gauge

	// Orchestrator metrics
	EventsDetected prometheus.Counter
	EventsSkipped  *prometheus.CounterVec
	TradesTotal    *prometheus.CounterVec
	TradeLatency   *prometheus.HistogramVec
	PendingSells   prometheus.Gauge

	// RPC metrics
	RPCCallLatency *prometheus.HistogramVec

	// Health metrics
	SniperRunning prometheus.Gauge
}

// NewMetrics creates a Metrics instance registered with reg.
// A nil reg registers with the default Prometheus registry.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "pumpsniper"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &Metrics{
		// Monitor metrics
		MonitorPhase: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "phase",
			Help:      "1 for the monitor's current phase, 0 otherwise",
		}, []string{"phase"}),
		MonitorReconnects: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "reconnects_total",
			Help:      "Total number of websocket reconnect attempts",
		}),
		NotificationsRead: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "notifications_total",
			Help:      "Total number of logs notifications received",
		}),
		DecodeErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "decode_errors_total",
			Help:      "Total number of candidate payloads that failed to decode",
		}),
		ReactorErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "reactor_errors_total",
			Help:      "Total number of reactor errors and panics",
		}),
		LastNotificationAt: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "last_notification_timestamp",
			Help:      "Unix timestamp of the last logs notification",
		}),

		// Orchestrator metrics
		EventsDetected: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sniper",
			Name:      "events_detected_total",
			Help:      "Total number of creation events delivered to the sniper",
		}),
		EventsSkipped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sniper",
			Name:      "events_skipped_total",
			Help:      "Total number of events skipped by reason",
		}, []string{"reason"}),
		TradesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sniper",
			Name:      "trades_total",
			Help:      "Total number of trade outcomes by side and status",
		}, []string{"side", "status"}),
		TradeLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "sniper",
			Name:      "trade_duration_seconds",
			Help:      "Trade executor call duration in seconds",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}, []string{"side"}),
		PendingSells: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sniper",
			Name:      "pending_sells",
			Help:      "Number of scheduled sells not yet executed",
		}),

		// RPC metrics
		RPCCallLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "rpc",
			Name:      "call_duration_seconds",
			Help:      "RPC call latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),

		// Health metrics
		SniperRunning: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "sniper_running",
			Help:      "1 while the sniper is running",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler(g prometheus.Gatherer) http.Handler {
	if g == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

var phases = []string{"stopped", "connecting", "subscribed", "streaming", "reconnecting"}

// SetMonitorPhase marks phase as the current monitor phase.
func (m *Metrics) SetMonitorPhase(phase string) {
	if m == nil {
		return
	}
	for _, p := range phases {
		v := 0.0
		if p == phase {
			v = 1
		}
		m.MonitorPhase.WithLabelValues(p).Set(v)
	}
}

// RecordReconnect increments the reconnect counter.
func (m *Metrics) RecordReconnect() {
	if m == nil {
		return
	}
	m.MonitorReconnects.Inc()
}

// RecordNotification counts a notification and stamps its arrival.
func (m *Metrics) RecordNotification(at time.Time) {
	if m == nil {
		return
	}
	m.NotificationsRead.Inc()
	m.LastNotificationAt.Set(float64(at.Unix()))
}

// RecordDecodeError increments the decode error counter.
func (m *Metrics) RecordDecodeError() {
	if m == nil {
		return
	}
	m.DecodeErrors.Inc()
}

// RecordReactorError increments the reactor error counter.
func (m *Metrics) RecordReactorError() {
	if m == nil {
		return
	}
	m.ReactorErrors.Inc()
}

// RecordEventDetected increments the detected events counter.
func (m *Metrics) RecordEventDetected() {
	if m == nil {
		return
	}
	m.EventsDetected.Inc()
}

// RecordEventSkipped records an event dropped before trading.
func (m *Metrics) RecordEventSkipped(reason string) {
	if m == nil {
		return
	}
	m.EventsSkipped.WithLabelValues(reason).Inc()
}

// RecordTrade records a trade outcome and its executor duration.
func (m *Metrics) RecordTrade(side, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.TradesTotal.WithLabelValues(side, status).Inc()
	m.TradeLatency.WithLabelValues(side).Observe(d.Seconds())
}

// AddPendingSells adjusts the pending sells gauge by delta.
func (m *Metrics) AddPendingSells(delta int) {
	if m == nil {
		return
	}
	m.PendingSells.Add(float64(delta))
}

// RecordRPCLatency records RPC call latency.
func (m *Metrics) RecordRPCLatency(method string, d time.Duration) {
	if m == nil {
		return
	}
	m.RPCCallLatency.WithLabelValues(method).Observe(d.Seconds())
}

// SetSniperRunning sets the running gauge.
func (m *Metrics) SetSniperRunning(running bool) {
	if m == nil {
		return
	}
	v := 0.0
	if running {
		v = 1
	}
	m.SniperRunning.Set(v)
}
