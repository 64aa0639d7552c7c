// Package risk implements the daily drawdown/turnover circuit of spec
// §4.H, grounded directly on web3guy0-polybot's RiskGate (circuit-trip
// state, day-boundary reset via YearDay comparison) generalized from its
// percent-of-balance rules into the two trip conditions named by the
// spec and a CST day boundary instead of local-time YearDay.
package risk

import (
	"sync"
	"time"
)

// cstLocation is the America/Chicago zone (DST-aware) used for the
// daily reset boundary (spec §4.H "bounded by CST midnight"). Loaded once;
// falls back to a fixed -6h offset if the tzdata name isn't available,
// since some minimal container images ship without a zoneinfo database.
var cstLocation = loadCST()

func loadCST() *time.Location {
	if loc, err := time.LoadLocation("America/Chicago"); err == nil {
		return loc
	}
	return time.FixedZone("CST", -6*60*60)
}

// PauseReason is the closed set of circuit-trip reasons (spec §4.H).
type PauseReason string

const (
	ReasonDailyDrawdown PauseReason = "daily_drawdown_breached"
	ReasonDailyTurnover PauseReason = "daily_turnover_cap"
	ReasonManualPause   PauseReason = "manual_pause"
)

// State is the per-day RiskState singleton (spec §3.1).
type State struct {
	DayKey            string
	BaselineEquityUSD float64
	CurrentEquityUSD  float64
	TurnoverUSD       float64
	Paused            bool
	PauseReason       PauseReason
	autoTripped       bool
}

// Circuit owns the daily RiskState and the manual-pause flag (spec §4.H).
type Circuit struct {
	mu          sync.RWMutex
	state       State
	manualPause bool

	maxDailyDrawdownPct  float64
	maxTurnoverPctPerDay float64
}

// New builds a Circuit seeded with an opening baseline equity.
func New(baselineEquityUSD, maxDailyDrawdownPct, maxTurnoverPctPerDay float64, now time.Time) *Circuit {
	return &Circuit{
		state: State{
			DayKey:            dayKey(now),
			BaselineEquityUSD: baselineEquityUSD,
			CurrentEquityUSD:  baselineEquityUSD,
		},
		maxDailyDrawdownPct:  maxDailyDrawdownPct,
		maxTurnoverPctPerDay: maxTurnoverPctPerDay,
	}
}

func dayKey(t time.Time) string {
	return t.In(cstLocation).Format("2006-01-02")
}

// SetManualPause sets the orthogonal manual-pause boolean (spec §4.H).
func (c *Circuit) SetManualPause(paused bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.manualPause = paused
}

// Observe updates current equity and cumulative turnover for the day,
// re-evaluating both trip conditions, and rolls the day boundary forward
// if now has crossed into a new CST day (spec §4.H).
func (c *Circuit) Observe(currentEquityUSD, tickTurnoverUSD float64, now time.Time) State {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := dayKey(now)
	if key != c.state.DayKey {
		c.state = State{
			DayKey:            key,
			BaselineEquityUSD: currentEquityUSD,
			CurrentEquityUSD:  currentEquityUSD,
		}
	}
	if c.state.BaselineEquityUSD <= 0 {
		c.state.BaselineEquityUSD = currentEquityUSD
	}

	c.state.CurrentEquityUSD = currentEquityUSD
	c.state.TurnoverUSD += tickTurnoverUSD

	c.evaluateTrip()
	return c.snapshotLocked()
}

func (c *Circuit) evaluateTrip() {
	if c.state.BaselineEquityUSD <= 0 {
		return
	}
	drawdown := (c.state.BaselineEquityUSD - c.state.CurrentEquityUSD) / c.state.BaselineEquityUSD
	if drawdown >= c.maxDailyDrawdownPct {
		c.state.Paused = true
		c.state.PauseReason = ReasonDailyDrawdown
		c.state.autoTripped = true
		return
	}

	turnoverRatio := c.state.TurnoverUSD / c.state.BaselineEquityUSD
	if turnoverRatio >= c.maxTurnoverPctPerDay {
		c.state.Paused = true
		c.state.PauseReason = ReasonDailyTurnover
		c.state.autoTripped = true
		return
	}
}

// Tripped reports whether trading should halt this tick — either an
// auto-tripped circuit or the orthogonal manual pause (spec §4.H).
func (c *Circuit) Tripped() (bool, PauseReason) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.manualPause {
		return true, ReasonManualPause
	}
	if c.state.Paused {
		return true, c.state.PauseReason
	}
	return false, ""
}

// Snapshot returns a copy of the current RiskState.
func (c *Circuit) Snapshot() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshotLocked()
}

func (c *Circuit) snapshotLocked() State {
	s := c.state
	return s
}
