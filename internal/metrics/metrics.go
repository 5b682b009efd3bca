// Package metrics provides Prometheus instrumentation for the perp engine.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// TradesTotal counts applied notional changes, partitioned by whether
	// the delta-neutrality fee was charged or rebated.
	TradesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "perp_trades_total",
		Help: "Total number of notional changes applied",
	}, []string{"market", "fee"})

	// TradeLatency measures how long applying a trade takes, storage included.
	TradeLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "perp_trade_latency_seconds",
		Help:    "Trade application latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"market"})

	// ActiveMarkets tracks the number of open markets.
	ActiveMarkets = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "perp_active_markets",
		Help: "Number of currently open markets",
	})

	// NetNotional is the signed net notional of each market.
	NetNotional = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "perp_net_notional",
		Help: "Net notional (long minus short) per market",
	}, []string{"market"})

	// DnfFund is the delta-neutrality fee fund balance of each market.
	DnfFund = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "perp_dnf_fund",
		Help: "Delta-neutrality fee fund balance per market",
	}, []string{"market"})

	// DnfAmountUsd accumulates absolute delta-neutrality fees in USD.
	DnfAmountUsd = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "perp_dnf_amount_usd_total",
		Help: "Cumulative absolute delta-neutrality fee in USD",
	}, []string{"market", "fee"})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "perp_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// EventsDropped counts exposure updates that could not be delivered.
	EventsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "perp_events_dropped_total",
		Help: "Exposure updates dropped per sink",
	}, []string{"sink"})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "perp_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "perp_http_request_duration_seconds",
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

		// Label by route pattern so market IDs do not explode cardinality.
		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				path = pattern
			}
		}
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
