// Package slots implements the two-tier Scout/Core state machine of spec
// §4.G: bounded-capacity slot admission, promotion wiring, and the
// full-exit rules that close lots and seed the re-entry cooldown cache. It
// is grounded on the teacher's internal/trading.PositionTracker (the
// map-keyed-by-mint admission/removal pattern in internal/trading/position.go),
// generalized from a single flat map into two capacity-bounded tiers.
package slots

import (
	"time"

	"github.com/cstahmer1/spotagent/internal/chain"
	"github.com/cstahmer1/spotagent/internal/ledger"
)

// Capacity bounds each tier's slot count (spec §4.G, config core_slots/scout_slots).
type Capacity struct {
	CoreSlots  int
	ScoutSlots int
}

// Machine tracks slot occupancy across both tiers. The Ledger remains the
// source of truth for position existence; Machine only counts occupancy
// against the configured caps.
type Machine struct {
	cap Capacity
}

// New builds a slot Machine bounded by cap.
func New(cap Capacity) *Machine {
	return &Machine{cap: cap}
}

// CanOpenScout reports whether a new Scout slot is available (spec §4.G:
// ∅ → Scout transition gate).
func (m *Machine) CanOpenScout(positions []*ledger.PositionTracking) bool {
	occupied := countSlot(positions, chain.SlotScout)
	return occupied < m.cap.ScoutSlots
}

// CanPromote reports whether a Core slot is available, OR a core position
// is being demoted/exited this tick (spec §4.F Promotion, coordinated case).
func (m *Machine) CanPromote(positions []*ledger.PositionTracking, coreDemotionThisTick bool) bool {
	occupied := countSlot(positions, chain.SlotCore)
	return occupied < m.cap.CoreSlots || coreDemotionThisTick
}

func countSlot(positions []*ledger.PositionTracking, slot chain.SlotType) int {
	n := 0
	for _, p := range positions {
		if p.SlotType == slot {
			n++
		}
	}
	return n
}

// ExitReason is the cause recorded on a full-exit cache entry (spec §4.G).
type ExitReason string

const (
	ExitTrailingStop           ExitReason = "trailing_stop"
	ExitStaleTimeout           ExitReason = "stale_exit"
	ExitLossExit               ExitReason = "loss_exit"
	ExitTakeProfit             ExitReason = "take_profit"
	ExitConcentrationRebalance ExitReason = "concentration_rebalance"
	ExitOpportunityRotation    ExitReason = "opportunity_rotation"
	ExitStopLoss               ExitReason = "stop_loss"
	ExitUnderperformGrace      ExitReason = "underperform_grace"
	ExitDustClassification     ExitReason = "dust_classification"
)

// CacheEntry mirrors ExitedTokenCacheEntry (spec §3.1).
type CacheEntry struct {
	Mint            chain.Mint
	LastExitTime    time.Time
	LastExitReason  ExitReason
	CooldownUntil   time.Time
	TimesReentered  int
	LastKnownPrice  float64
	LastKnownSignal float64
	LastKnownLiquidity float64
}

// FullExit closes all lots for the mint, removes PositionTracking, and
// returns the cache entry to append (spec §4.G full-exit rules). Cooldown
// duration is cooldownHours hours from now.
func FullExit(
	l *ledger.Ledger,
	mint chain.Mint,
	reason ExitReason,
	now time.Time,
	cooldownHours float64,
	lastPrice, lastSignal, lastLiquidity float64,
	priorTimesReentered int,
) CacheEntry {
	l.RemovePosition(mint)

	return CacheEntry{
		Mint:               mint,
		LastExitTime:       now,
		LastExitReason:      reason,
		CooldownUntil:      now.Add(time.Duration(cooldownHours * float64(time.Hour))),
		TimesReentered:     priorTimesReentered,
		LastKnownPrice:     lastPrice,
		LastKnownSignal:    lastSignal,
		LastKnownLiquidity: lastLiquidity,
	}
}
