// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Signal processing
	SignalsProcessed *prometheus.CounterVec // action, outcome
	Rejections       *prometheus.CounterVec // reason
	FatalPostTrade   prometheus.Counter
	ProcessDuration  prometheus.Histogram

	// Gateway
	GatewayDuration *prometheus.HistogramVec // op
	GatewayErrors   *prometheus.CounterVec   // op, kind

	// Queue
	Redeliveries   prometheus.Counter
	DroppedSignals *prometheus.CounterVec // cause

	// Monitor
	PositionsOpen      prometheus.Gauge
	TriggeredPositions *prometheus.CounterVec // kind (tp|sl)
}

// NewMetrics creates a new Metrics instance with all metrics registered on
// the default registry.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "signal_trader"
	}

	return &Metrics{
		SignalsProcessed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "processor",
			Name:      "signals_processed_total",
			Help:      "Total number of signals processed, by action and outcome",
		}, []string{"action", "outcome"}),
		Rejections: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "processor",
			Name:      "rejections_total",
			Help:      "Total number of business rejections, by reason",
		}, []string{"reason"}),
		FatalPostTrade: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "processor",
			Name:      "fatal_post_trade_total",
			Help:      "Persistence failures after a successful exchange call; needs manual reconciliation",
		}),
		ProcessDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "processor",
			Name:      "process_duration_seconds",
			Help:      "End-to-end signal processing duration",
			Buckets:   prometheus.DefBuckets,
		}),

		GatewayDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "request_duration_seconds",
			Help:      "Exchange gateway call duration, by operation",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
		GatewayErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "errors_total",
			Help:      "Exchange gateway failures, by operation and kind",
		}, []string{"op", "kind"}),

		Redeliveries: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "redeliveries_total",
			Help:      "Signal messages seen more than once",
		}),
		DroppedSignals: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "dropped_signals_total",
			Help:      "Signals dropped without execution, by cause",
		}, []string{"cause"}),

		PositionsOpen: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "positions_open",
			Help:      "Open BUY positions at the last sweep",
		}),
		TriggeredPositions: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "triggered_positions_total",
			Help:      "Positions closed by the monitor, by trigger kind",
		}, []string{"kind"}),
	}
}

// Handler returns the HTTP handler serving the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
