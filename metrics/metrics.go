package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	IntentsSubmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "goguard_intents_submitted_total",
			Help: "Total number of order intents submitted (by purpose).",
		},
		[]string{"purpose"},
	)

	FillsApplied = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "goguard_fills_applied_total",
			Help: "Fills reconciled into the position ledger (by instrument).",
		},
		[]string{"instrument"},
	)

	Exits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "goguard_exits_total",
			Help: "Leg exits requested, by reason (stop_hit, take_profit_hit, signal, basket).",
		},
		[]string{"reason"},
	)

	GridDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "goguard_grid_decisions_total",
			Help: "Grid add-entry decisions, by reason.",
		},
		[]string{"reason"},
	)

	BasketActions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "goguard_basket_actions_total",
			Help: "Basket guard actions taken (flatten, emergency).",
		},
		[]string{"action"},
	)

	StaleProtectiveRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "goguard_stale_protective_retries_total",
			Help: "Protective order cancels re-issued after missing confirmation for a cycle.",
		},
	)

	PositionsOpen = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "goguard_positions_open",
			Help: "Current number of instruments with non-flat exposure.",
		},
	)

	FloatingPnL = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "goguard_floating_pnl",
			Help: "Aggregate floating P&L of the basket in account currency.",
		},
	)

	EquityGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "goguard_equity",
			Help: "Current equity of the executor (paper or live).",
		},
	)
)

func init() {
	prometheus.MustRegister(
		IntentsSubmitted,
		FillsApplied,
		Exits,
		GridDecisions,
		BasketActions,
		StaleProtectiveRetries,
		PositionsOpen,
		FloatingPnL,
		EquityGauge,
	)
}
