// Package telemetry exposes the tick loop's Prometheus metrics, grounded on
// the chidi150c-coinbase example's metrics.go (counter/gauge vectors
// registered at init, served over promhttp at /metrics).
package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	tickDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "spotagent_tick_duration_seconds",
		Help:    "Wall-clock duration of a single orchestrator tick.",
		Buckets: prometheus.DefBuckets,
	})

	tickDeadlineExceeded = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "spotagent_tick_deadline_exceeded_total",
		Help: "Ticks whose external-read phase exceeded the 2x loop_seconds hard deadline.",
	})

	rotationActions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "spotagent_rotation_actions_total",
		Help: "Rotation decisions taken, by action.",
	}, []string{"action"})

	ledgerQuarantined = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "spotagent_ledger_quarantined_positions",
		Help: "Current count of positions under coverage quarantine.",
	})

	positionsHeld = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "spotagent_positions_held",
		Help: "Current open position count, by slot type.",
	}, []string{"slot"})

	equityUSD = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "spotagent_equity_usd",
		Help: "Current mark-to-market equity in USD.",
	})

	executionTerminals = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "spotagent_execution_terminals_total",
		Help: "Execution pipeline terminal outcomes, by terminal state.",
	}, []string{"terminal"})

	circuitPaused = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "spotagent_risk_circuit_paused",
		Help: "1 when the daily risk circuit is paused, 0 otherwise.",
	})

	feeRatioEffective = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "spotagent_fee_ratio_effective",
		Help:    "Effective priority-fee-to-notional ratio observed per leg.",
		Buckets: []float64{0.001, 0.005, 0.01, 0.02, 0.05, 0.1, 0.2},
	})
)

func init() {
	prometheus.MustRegister(
		tickDuration, tickDeadlineExceeded, rotationActions, ledgerQuarantined,
		positionsHeld, equityUSD, executionTerminals, circuitPaused, feeRatioEffective,
	)
}

// ObserveTick records a tick's wall-clock duration and whether the hard
// (2x loop_seconds) read-phase deadline was exceeded.
func ObserveTick(d time.Duration, deadlineExceeded bool) {
	tickDuration.Observe(d.Seconds())
	if deadlineExceeded {
		tickDeadlineExceeded.Inc()
	}
}

// IncRotationAction records one rotation decision by its action name.
func IncRotationAction(action string) {
	rotationActions.WithLabelValues(action).Inc()
}

// SetQuarantined reports the current quarantined-position count.
func SetQuarantined(n int) { ledgerQuarantined.Set(float64(n)) }

// SetPositionsHeld reports the current held-position count for a slot type.
func SetPositionsHeld(slot string, n int) {
	positionsHeld.WithLabelValues(slot).Set(float64(n))
}

// SetEquityUSD reports the current mark-to-market equity.
func SetEquityUSD(v float64) { equityUSD.Set(v) }

// IncExecutionTerminal records one execution pipeline terminal outcome.
func IncExecutionTerminal(terminal string) {
	executionTerminals.WithLabelValues(terminal).Inc()
}

// SetCircuitPaused reports the risk circuit's current paused state.
func SetCircuitPaused(paused bool) {
	if paused {
		circuitPaused.Set(1)
		return
	}
	circuitPaused.Set(0)
}

// ObserveFeeRatio records one leg's effective fee-to-notional ratio.
func ObserveFeeRatio(ratio float64) { feeRatioEffective.Observe(ratio) }
