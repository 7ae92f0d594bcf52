// Package metrics provides Prometheus instrumentation for the portfolio
// engine.
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
	// TradesTotal counts executed trades, partitioned by side.
	TradesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "papertrade_trades_total",
		Help: "Total number of trades executed",
	}, []string{"side"})

	// TradeRejections counts trades rejected before any state change,
	// partitioned by reason (validation, insufficient_funds,
	// insufficient_shares, quote_unavailable).
	TradeRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "papertrade_trade_rejections_total",
		Help: "Trades rejected without state change",
	}, []string{"reason"})

	// TradeLatency tracks trade execution latency, quote fetch included.
	TradeLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "papertrade_trade_latency_seconds",
		Help:    "Trade execution latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"side"})

	// ReconciliationRuns counts reconciliation rewrites by outcome
	// (complete, partial, failed).
	ReconciliationRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "papertrade_reconciliation_runs_total",
		Help: "Reconciliation rewrites by outcome",
	}, []string{"outcome"})

	// SnapshotsWritten counts persisted daily portfolio snapshots.
	SnapshotsWritten = promauto.NewCounter(prometheus.CounterOpts{
		Name: "papertrade_snapshots_written_total",
		Help: "Persisted daily portfolio snapshots",
	})

	// QuoteCacheHits / QuoteCacheMisses track the Redis price cache.
	QuoteCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "papertrade_quote_cache_hits_total",
		Help: "Quote lookups served from cache",
	})
	QuoteCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "papertrade_quote_cache_misses_total",
		Help: "Quote lookups that hit the provider",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "papertrade_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "papertrade_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "papertrade_http_request_duration_seconds",
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

		// Use the raw path for the label to avoid pulling in route context.
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
