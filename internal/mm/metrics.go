package mm

import "github.com/prometheus/client_golang/prometheus"

var (
	stepsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mm_steps_total",
			Help: "Trader steps executed, by market",
		},
		[]string{"market"},
	)

	stepErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mm_step_errors_total",
			Help: "Trader step failures, by market and stage",
		},
		[]string{"market", "stage"},
	)

	fillsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mm_fills_total",
			Help: "Order fills applied, by market and side",
		},
		[]string{"market", "side"},
	)

	fleetExposure = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "mm_fleet_exposure_usd",
			Help: "Sum of absolute position value across all traders",
		},
	)

	fleetPnL = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "mm_fleet_realized_pnl_usd",
			Help: "Cumulative realized P&L across all traders",
		},
	)

	fleetTraders = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mm_fleet_traders",
			Help: "Trader count by state (active/paused)",
		},
		[]string{"state"},
	)
)

func init() {
	prometheus.MustRegister(stepsTotal, stepErrorsTotal, fillsTotal)
	prometheus.MustRegister(fleetExposure, fleetPnL, fleetTraders)
}
