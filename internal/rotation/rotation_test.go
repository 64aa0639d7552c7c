package rotation

import (
	"testing"

	"github.com/cstahmer1/spotagent/internal/chain"
	"github.com/cstahmer1/spotagent/internal/ranker"
)

func TestDecide_CircuitPauseWinsWhenTripped(t *testing.T) {
	held := []ranker.RankedItem{{Mint: "A", Flags: ranker.Flags{TrailingStopTriggered: true}}}
	d := Decide(true, held, nil, 0.5, nil, PromotionParams{}, nil)
	if d.Action != ActionCircuitPause {
		t.Fatalf("action = %s, want circuit_pause", d.Action)
	}
}

func TestDecide_TrailingStopBeatsTakeProfit(t *testing.T) {
	held := []ranker.RankedItem{
		{Mint: "A", Rank: 1.0, Flags: ranker.Flags{TrailingStopTriggered: true}, PnLPct: 0.6},
		{Mint: "B", Rank: 2.0, PnLPct: 0.9},
	}
	d := Decide(false, held, nil, 0.5, nil, PromotionParams{}, nil)
	if d.Action != ActionTrailingStopExit || d.Mint != "A" {
		t.Fatalf("action = %s mint=%s, want trailing_stop_exit on A", d.Action, d.Mint)
	}
}

func TestDecide_TrailingStopPicksWorstRankAmongMultiple(t *testing.T) {
	held := []ranker.RankedItem{
		{Mint: "A", Rank: 3.0, Flags: ranker.Flags{TrailingStopTriggered: true}},
		{Mint: "B", Rank: 1.0, Flags: ranker.Flags{TrailingStopTriggered: true}},
	}
	d := Decide(false, held, nil, 0.5, nil, PromotionParams{}, nil)
	if d.Mint != "B" {
		t.Fatalf("mint = %s, want worst-ranked B", d.Mint)
	}
}

func TestDecide_StaleExitWithoutReplacement(t *testing.T) {
	held := []ranker.RankedItem{
		{Mint: "A", Rank: 1.0, Flags: ranker.Flags{IsStale: true, IsStaleExit: true}},
	}
	d := Decide(false, held, nil, 0.5, nil, PromotionParams{}, nil)
	if d.Action != ActionStaleTimeoutExit {
		t.Fatalf("action = %s, want stale_timeout_exit", d.Action)
	}
}

func TestDecide_StaleExitPairsWithReplacementAboveMargin(t *testing.T) {
	held := []ranker.RankedItem{
		{Mint: "A", Rank: 1.0, Flags: ranker.Flags{IsStale: true, IsStaleExit: true}},
	}
	candidates := []ranker.RankedItem{
		{Mint: "C", Rank: 1.0 + StaleReplacementMargin + 0.01},
	}
	d := Decide(false, held, candidates, 0.5, nil, PromotionParams{}, nil)
	if d.Action != ActionStaleRotationReplace {
		t.Fatalf("action = %s, want stale_rotation_with_replacement", d.Action)
	}
	if d.ReplacementMint != "C" {
		t.Fatalf("replacement = %s, want C", d.ReplacementMint)
	}
}

func TestDecide_ScoutStopLossBeatsTakeProfit(t *testing.T) {
	held := []ranker.RankedItem{
		{Mint: "A", Rank: 1.0, SlotType: chain.SlotScout, Flags: ranker.Flags{ScoutStopLossTriggered: true}},
		{Mint: "B", Rank: 2.0, PnLPct: 0.9},
	}
	d := Decide(false, held, nil, 0.5, nil, PromotionParams{}, nil)
	if d.Action != ActionScoutStopLossExit {
		t.Fatalf("action = %s, want scout_stop_loss_exit", d.Action)
	}
}

func TestDecide_TakeProfitSelectsHighestPnL(t *testing.T) {
	held := []ranker.RankedItem{
		{Mint: "A", Rank: 1.0, PnLPct: 0.55},
		{Mint: "B", Rank: 2.0, PnLPct: 0.80},
	}
	d := Decide(false, held, nil, 0.5, nil, PromotionParams{}, nil)
	if d.Action != ActionTakeProfitExit || d.Mint != "B" {
		t.Fatalf("action=%s mint=%s, want take_profit_exit on B", d.Action, d.Mint)
	}
}

func TestDecide_OpportunityCostRotationPicksMaxDelta(t *testing.T) {
	held := []ranker.RankedItem{{Mint: "A", Rank: 1.0}}
	candidates := []ranker.RankedItem{
		{Mint: "C1", Rank: 1.1},                  // delta 0.1, below margin 0.15
		{Mint: "C2", Rank: 1.0 + OpportunityMargin + 0.05}, // above margin
	}
	d := Decide(false, held, candidates, 0.5, nil, PromotionParams{}, nil)
	if d.Action != ActionOpportunityCostRotate {
		t.Fatalf("action = %s, want opportunity_cost_rotation", d.Action)
	}
	if d.ReplacementMint != "C2" {
		t.Fatalf("replacement = %s, want C2", d.ReplacementMint)
	}
}

func TestDecide_OpportunityCostRotationRespectsGuards(t *testing.T) {
	held := []ranker.RankedItem{{Mint: "A", Rank: 1.0}}
	candidates := []ranker.RankedItem{{Mint: "C", Rank: 1.0 + OpportunityMargin + 0.05}}
	guards := func(held, cand chain.Mint) bool { return false }
	d := Decide(false, held, candidates, 0.5, nil, PromotionParams{}, guards)
	if d.Action != ActionNone {
		t.Fatalf("action = %s, want none when guards reject", d.Action)
	}
}

// Scenario 1 (spec §8): quarantine blocks promotion even when PnL meets
// threshold.
func TestPromotable_QuarantinedBlocksPromotion(t *testing.T) {
	item := ranker.RankedItem{
		SlotType:    chain.SlotScout,
		Quarantined: true,
		PnLPct:      0.30,
		SignalScore: 2.0,
		HoursHeld:   1,
	}
	p := PromotionParams{MinPnLPct: 0.10, MinSignalScore: 0.5, DelayMinutes: 30}
	sig := PromotionSignal{AboveShortMA: true, IsDayTopRank: false, WhaleNetFlowPositive: true}
	if Promotable(item, sig, p) {
		t.Fatal("expected Promotable=false when quarantined")
	}
}

func TestDecide_NoPromotionLoggedWhenQuarantined(t *testing.T) {
	held := []ranker.RankedItem{{
		Mint:        "Q",
		SlotType:    chain.SlotScout,
		Quarantined: true,
		PnLPct:      0.30,
		SignalScore: 2.0,
		HoursHeld:   1,
	}}
	signals := map[chain.Mint]PromotionSignal{"Q": {AboveShortMA: true, WhaleNetFlowPositive: true}}
	params := PromotionParams{MinPnLPct: 0.10, MinSignalScore: 0.5, DelayMinutes: 30}
	d := Decide(false, held, nil, 0.99, signals, params, nil)
	if d.Action != ActionNone {
		t.Fatalf("action = %s, want none (tick exits cleanly, no promotion)", d.Action)
	}
}

func TestPromotable_AllConditionsPass(t *testing.T) {
	item := ranker.RankedItem{
		SlotType:    chain.SlotScout,
		PnLPct:      0.30,
		SignalScore: 2.0,
		HoursHeld:   1,
	}
	p := PromotionParams{MinPnLPct: 0.10, MinSignalScore: 0.5, DelayMinutes: 30}
	sig := PromotionSignal{AboveShortMA: true, IsDayTopRank: false, WhaleNetFlowPositive: true}
	if !Promotable(item, sig, p) {
		t.Fatal("expected Promotable=true when all conditions hold")
	}
}

func TestPromotable_CoreSlotsFullBlocksUnlessDemotionCoordinated(t *testing.T) {
	item := ranker.RankedItem{SlotType: chain.SlotScout, PnLPct: 0.30, SignalScore: 2.0, HoursHeld: 1}
	sig := PromotionSignal{AboveShortMA: true, WhaleNetFlowPositive: true}
	p := PromotionParams{MinPnLPct: 0.10, MinSignalScore: 0.5, DelayMinutes: 30, CoreSlotsFull: true}
	if Promotable(item, sig, p) {
		t.Fatal("expected blocked when core slots full and no coordinated demotion")
	}
	p.CoreDemotionThisTick = true
	if !Promotable(item, sig, p) {
		t.Fatal("expected promotable once a coordinated demotion frees a slot")
	}
}

func TestPromotable_DayTopRankBlocksAvoidTopRule(t *testing.T) {
	item := ranker.RankedItem{SlotType: chain.SlotScout, PnLPct: 0.30, SignalScore: 2.0, HoursHeld: 1}
	sig := PromotionSignal{AboveShortMA: true, IsDayTopRank: true, WhaleNetFlowPositive: true}
	p := PromotionParams{MinPnLPct: 0.10, MinSignalScore: 0.5, DelayMinutes: 30}
	if Promotable(item, sig, p) {
		t.Fatal("expected blocked by avoid-top rule")
	}
}
