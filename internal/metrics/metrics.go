// Package metrics registers prometheus instruments and serves the exposition endpoint.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	EventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "feed_events_total", Help: "Market events seen per source"},
		[]string{"source", "kind"},
	)
	EventsDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "feed_events_dropped_total", Help: "Events shed under backpressure per source"},
		[]string{"source"},
	)
	EventsRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "feed_events_rejected_total", Help: "Out-of-order events rejected per source"},
		[]string{"source"},
	)
	Reconnects = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "feed_reconnects_total", Help: "Feed reconnect attempts per source"},
		[]string{"source"},
	)
	Decisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "signal_decisions_total", Help: "Signal engine decisions by action"},
		[]string{"action"},
	)
	RiskDenials = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "risk_denials_total", Help: "Risk denials by reason code"},
		[]string{"reason"},
	)
	OrdersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "orders_total", Help: "Orders submitted"},
		[]string{"symbol", "side"},
	)
	FillsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "fills_total", Help: "Fills applied to the ledger"},
		[]string{"symbol"},
	)
	DecisionLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "decision_latency_seconds",
			Help:    "Market event to execution decision latency",
			Buckets: []float64{.0001, .00025, .0005, .001, .002, .005, .01, .05},
		},
	)
)

func init() {
	prometheus.MustRegister(
		EventsTotal, EventsDropped, EventsRejected, Reconnects,
		Decisions, RiskDenials, OrdersTotal, FillsTotal, DecisionLatency,
	)
}

// Serve exposes /metrics and /healthz on the given address in the background.
func Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}
