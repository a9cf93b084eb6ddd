package engine

// metrics.go — Prometheus metrics served at /metrics when the listener is
// enabled. Gauges snapshot the ledger and population; counters accumulate
// trade flow.

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	mtxRoundTrips = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "omniperp_round_trips_total",
			Help: "Closed round-trips by outcome class",
		},
		[]string{"class"},
	)

	mtxOrders = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "omniperp_orders_total",
			Help: "Orders submitted by side",
		},
		[]string{"side"},
	)

	mtxRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "omniperp_rejections_total",
			Help: "Candidates rejected by gate",
		},
		[]string{"gate"},
	)

	mtxEquity = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "omniperp_equity_quote",
			Help: "Seed plus realized P&L",
		},
	)

	mtxAvailable = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "omniperp_available_quote",
			Help: "Unallocated capital",
		},
	)

	mtxOpenPositions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "omniperp_open_positions",
			Help: "Tracked live positions",
		},
	)

	mtxWinRate = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "omniperp_win_rate",
			Help: "Lifetime win rate",
		},
	)

	mtxActiveAgents = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "omniperp_active_agents",
			Help: "Living members of the agent population",
		},
	)

	mtxBusDropped = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "omniperp_bus_dropped_total",
			Help: "Bus messages evicted or rejected",
		},
	)
)

func init() {
	prometheus.MustRegister(
		mtxRoundTrips, mtxOrders, mtxRejections,
		mtxEquity, mtxAvailable, mtxOpenPositions,
		mtxWinRate, mtxActiveAgents, mtxBusDropped,
	)
}

// serveMetrics starts the /metrics listener. Errors only surface in logs;
// metrics are never load-bearing.
func serveMetrics(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}
