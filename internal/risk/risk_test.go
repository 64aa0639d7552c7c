package risk

import (
	"testing"
	"time"
)

// Scenario 6 (spec §8): baseline $1000, current equity $949 (5.1%
// drawdown) with a 5% limit trips the circuit.
func TestObserve_DrawdownTripsCircuit(t *testing.T) {
	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	c := New(1000, 0.05, 1.0, now)

	st := c.Observe(949, 0, now)
	if !st.Paused {
		t.Fatal("expected paused=true at 5.1% drawdown with 5% limit")
	}
	if st.PauseReason != ReasonDailyDrawdown {
		t.Errorf("reason = %s, want daily_drawdown_breached", st.PauseReason)
	}

	tripped, reason := c.Tripped()
	if !tripped || reason != ReasonDailyDrawdown {
		t.Fatalf("Tripped() = (%v, %s), want (true, daily_drawdown_breached)", tripped, reason)
	}
}

func TestObserve_RemainsTrippedAcrossTicksUntilDayBoundary(t *testing.T) {
	day1 := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	c := New(1000, 0.05, 1.0, day1)
	c.Observe(900, 0, day1)

	// Equity recovers mid-day but circuit should remain tripped.
	st := c.Observe(1000, 0, day1.Add(time.Hour))
	if !st.Paused {
		t.Fatal("expected circuit to remain tripped after recovery within the same day")
	}

	// New CST day: baseline resets, pause clears (auto-tripped only).
	nextDay := day1.In(cstLocation).AddDate(0, 0, 1)
	st2 := c.Observe(1000, 0, nextDay)
	if st2.Paused {
		t.Fatal("expected pause cleared at day boundary")
	}
}

func TestObserve_TurnoverCapTrips(t *testing.T) {
	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	c := New(1000, 1.0, 0.5, now) // drawdown limit disabled (100%), turnover cap 50%

	st := c.Observe(1000, 600, now) // turnover_usd/baseline = 0.6 >= 0.5
	if !st.Paused || st.PauseReason != ReasonDailyTurnover {
		t.Fatalf("state = %+v, want paused by daily_turnover_cap", st)
	}
}

func TestManualPause_IsOrthogonalToAutoTrip(t *testing.T) {
	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	c := New(1000, 1.0, 1.0, now) // neither auto condition trips
	c.SetManualPause(true)

	tripped, reason := c.Tripped()
	if !tripped || reason != ReasonManualPause {
		t.Fatalf("Tripped() = (%v, %s), want (true, manual_pause)", tripped, reason)
	}
}

func TestManualPause_SurvivesDayBoundary(t *testing.T) {
	day1 := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	c := New(1000, 1.0, 1.0, day1)
	c.SetManualPause(true)

	nextDay := day1.In(cstLocation).AddDate(0, 0, 1)
	c.Observe(1000, 0, nextDay)

	tripped, reason := c.Tripped()
	if !tripped || reason != ReasonManualPause {
		t.Fatal("expected manual pause to survive the day boundary reset")
	}
}
