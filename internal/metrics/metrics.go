// Package metrics exposes Prometheus instrumentation for the exit-management
// core. All methods are nil-receiver safe so components can be wired without
// metrics in tests and minimal deployments.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dmarkhas/solsentry/internal/domain"
)

// Metrics bundles the core's counters and gauges.
type Metrics struct {
	registry *prometheus.Registry

	monitorCycles *prometheus.CounterVec
	exitsTotal    *prometheus.CounterVec
	sellFailures  prometheus.Counter
	feedErrors    *prometheus.CounterVec
	openPositions prometheus.Gauge
	guardLevel    prometheus.Gauge
	dailyPnLSOL   prometheus.Gauge
}

// New creates and registers all collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		monitorCycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "solsentry_monitor_cycles_total",
			Help: "Completed monitor cycles by monitor name.",
		}, []string{"monitor"}),
		exitsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "solsentry_exits_total",
			Help: "Executed exits by reason.",
		}, []string{"reason"}),
		sellFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "solsentry_sell_failures_total",
			Help: "Sell attempts that failed before the ledger was updated.",
		}),
		feedErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "solsentry_feed_errors_total",
			Help: "Upstream feed errors by feed name.",
		}, []string{"feed"}),
		openPositions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "solsentry_open_positions",
			Help: "Number of active positions.",
		}),
		guardLevel: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "solsentry_guard_level",
			Help: "Market guard level (0=NONE 1=YELLOW 2=ORANGE 3=RED).",
		}),
		dailyPnLSOL: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "solsentry_daily_pnl_sol",
			Help: "Realized P&L today, in SOL.",
		}),
	}
	reg.MustRegister(
		m.monitorCycles, m.exitsTotal, m.sellFailures, m.feedErrors,
		m.openPositions, m.guardLevel, m.dailyPnLSOL,
	)
	return m
}

// Handler returns the scrape handler for the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// IncCycle counts one completed cycle for the named monitor.
func (m *Metrics) IncCycle(monitor string) {
	if m == nil {
		return
	}
	m.monitorCycles.WithLabelValues(monitor).Inc()
}

// IncExit counts one executed exit for the given reason.
func (m *Metrics) IncExit(reason string) {
	if m == nil {
		return
	}
	m.exitsTotal.WithLabelValues(reason).Inc()
}

// IncSellFailure counts one failed sell attempt.
func (m *Metrics) IncSellFailure() {
	if m == nil {
		return
	}
	m.sellFailures.Inc()
}

// IncFeedError counts one upstream feed error.
func (m *Metrics) IncFeedError(feed string) {
	if m == nil {
		return
	}
	m.feedErrors.WithLabelValues(feed).Inc()
}

// SetOpenPositions records the current number of active positions.
func (m *Metrics) SetOpenPositions(n int) {
	if m == nil {
		return
	}
	m.openPositions.Set(float64(n))
}

// SetGuardLevel records the guard level as a numeric gauge.
func (m *Metrics) SetGuardLevel(level domain.AlertLevel) {
	if m == nil {
		return
	}
	var v float64
	switch level {
	case domain.AlertYellow:
		v = 1
	case domain.AlertOrange:
		v = 2
	case domain.AlertRed:
		v = 3
	}
	m.guardLevel.Set(v)
}

// SetDailyPnL records today's realized P&L.
func (m *Metrics) SetDailyPnL(sol float64) {
	if m == nil {
		return
	}
	m.dailyPnLSOL.Set(sol)
}
