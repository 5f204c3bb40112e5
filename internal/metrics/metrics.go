// Package metrics provides Prometheus instrumentation for the auction engine.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// BidsTotal counts bid lifecycle transitions, partitioned by terminal status.
	BidsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "auction_bids_total",
		Help: "Total bids by lifecycle outcome",
	}, []string{"status"})

	// TradesTotal counts settled trades, partitioned by side.
	TradesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "auction_trades_total",
		Help: "Total trades settled",
	}, []string{"side"})

	// ClearingRunsTotal counts completed clearing runs by price source.
	ClearingRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "auction_clearing_runs_total",
		Help: "Total clearing runs completed",
	}, []string{"price_source"})

	// ClearingDuration tracks how long a clearing run takes.
	ClearingDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "auction_clearing_duration_seconds",
		Help:    "Clearing run duration in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// ClearedVolume accumulates executed MWh per side.
	ClearedVolume = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "auction_cleared_volume_mwh_total",
		Help: "Cumulative executed volume in MWh",
	}, []string{"side"})

	// OpenPositions tracks currently open positions.
	OpenPositions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "auction_open_positions",
		Help: "Number of currently open positions",
	})

	// RepricedPositions counts positions updated per repricing tick.
	RepricedPositions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "auction_repriced_positions_total",
		Help: "Positions repriced against the reference price",
	})

	// PriceFeedErrors counts failed reference-price fetches.
	PriceFeedErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "auction_price_feed_errors_total",
		Help: "Reference price fetches that failed",
	})

	// RiskBreaches counts detected risk-limit breaches by limit kind.
	RiskBreaches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "auction_risk_breaches_total",
		Help: "Risk limit breaches detected",
	}, []string{"limit"})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "auction_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "auction_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "auction_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		// Use the raw path for the label; route cardinality is small.
		path := r.URL.Path
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
