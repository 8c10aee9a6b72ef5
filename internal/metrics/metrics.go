package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the engine's prometheus collectors.
type Metrics struct {
	Signals        *prometheus.CounterVec
	Vetoes         *prometheus.CounterVec
	Orders         *prometheus.CounterVec
	RiskScaled     prometheus.Counter
	RiskDropped    *prometheus.CounterVec
	SymbolsSkipped *prometheus.CounterVec
	ClosedTrades   *prometheus.CounterVec
	RealizedPnL    *prometheus.GaugeVec
	OpenPositions  *prometheus.GaugeVec
	RunDuration    prometheus.Histogram
	LastRun        prometheus.Gauge
}

// New creates the collectors and registers them on reg. A nil reg leaves
// them unregistered.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Signals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_signals_total",
			Help: "Final signals by symbol and direction",
		}, []string{"symbol", "direction"}),
		Vetoes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_signal_vetoes_total",
			Help: "Directional raw signals vetoed, by filter",
		}, []string{"filter"}),
		Orders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_orders_total",
			Help: "Submitted orders by environment and outcome",
		}, []string{"env", "outcome"}),
		RiskScaled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "engine_risk_scaled_orders_total",
			Help: "Orders scaled down to the notional cap",
		}),
		RiskDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_risk_dropped_orders_total",
			Help: "Orders removed by risk control, by reason",
		}, []string{"reason"}),
		SymbolsSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_symbols_skipped_total",
			Help: "Symbols skipped in a run, by reason",
		}, []string{"reason"}),
		ClosedTrades: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_virtual_closed_trades_total",
			Help: "Virtual trades closed by the ledger",
		}, []string{"env", "result"}),
		RealizedPnL: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "engine_virtual_realized_pnl",
			Help: "Cumulative realized virtual PnL in quote currency",
		}, []string{"env"}),
		OpenPositions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "engine_virtual_open_positions",
			Help: "Open virtual positions",
		}, []string{"env"}),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "engine_run_duration_seconds",
			Help:    "Duration of one evaluation run",
			Buckets: prometheus.DefBuckets,
		}),
		LastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "engine_last_run_timestamp_seconds",
			Help: "Unix time of the last completed run",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.Signals,
			m.Vetoes,
			m.Orders,
			m.RiskScaled,
			m.RiskDropped,
			m.SymbolsSkipped,
			m.ClosedTrades,
			m.RealizedPnL,
			m.OpenPositions,
			m.RunDuration,
			m.LastRun,
		)
	}
	return m
}

// ObserveClosedTrade counts a realized trade and adds its PnL.
func (m *Metrics) ObserveClosedTrade(env string, pnl float64) {
	result := "loss"
	if pnl > 0 {
		result = "win"
	}
	m.ClosedTrades.WithLabelValues(env, result).Inc()
	m.RealizedPnL.WithLabelValues(env).Add(pnl)
}

// ObserveOrder counts a submission outcome.
func (m *Metrics) ObserveOrder(env string, success, simulated bool) {
	outcome := "failed"
	switch {
	case success && simulated:
		outcome = "simulated"
	case success:
		outcome = "placed"
	}
	m.Orders.WithLabelValues(env, outcome).Inc()
}
