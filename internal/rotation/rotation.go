// Package rotation implements the at-most-one-action priority cascade of
// spec §4.F over a single tick's ranked snapshot, generalized from the
// teacher's internal/trading.Executor.monitorPositions loop (which walked
// positions checking stop-loss/take-profit in sequence) into an explicit,
// ordered decision table that returns a single typed Decision instead of
// firing side effects inline.
package rotation

import (
	"sort"

	"github.com/cstahmer1/spotagent/internal/chain"
	"github.com/cstahmer1/spotagent/internal/ranker"
)

// Action is one of the exhaustive reason codes from spec §4.F.
type Action string

const (
	ActionNone                   Action = "none"
	ActionTrailingStopExit       Action = "trailing_stop_exit"
	ActionStaleTimeoutExit       Action = "stale_timeout_exit"
	ActionStaleRotationReplace   Action = "stale_rotation_with_replacement"
	ActionScoutStopLossExit      Action = "scout_stop_loss_exit"
	ActionCoreLossExit           Action = "core_loss_exit"
	ActionScoutGraceExpired      Action = "scout_underperform_grace_expired"
	ActionTakeProfitExit         Action = "take_profit_exit"
	ActionOpportunityCostRotate  Action = "opportunity_cost_rotation"
	ActionPromotion              Action = "promotion"
	ActionCircuitPause           Action = "circuit_pause"
)

// Decision is the single action selected for this tick, logged verbatim
// into a rotation_log record (spec §4.F).
type Decision struct {
	Action          Action
	Mint            chain.Mint
	ReplacementMint chain.Mint
	ReasonCode      string
	RankDelta       float64
	Meta            map[string]any
}

// PromotionParams bundles the config thresholds for scout→core promotion
// eligibility (spec §4.F Promotion).
type PromotionParams struct {
	MinPnLPct            float64
	MinSignalScore       float64
	DelayMinutes         float64
	CoreSlotsFull        bool
	CoreDemotionThisTick bool
	WhaleConfirmEnabled  bool
}

// PromotionSignal carries the per-mint continuation/whale checks a scout
// position must pass, sourced outside the ranker (moving averages, whale
// net-flow feed).
type PromotionSignal struct {
	AboveShortMA        bool
	IsDayTopRank        bool
	WhaleNetFlowPositive bool
}

// Promotable reports whether a scout position is eligible for promotion to
// core (spec §4.F Promotion, all conditions must hold).
func Promotable(item ranker.RankedItem, sig PromotionSignal, p PromotionParams) bool {
	if item.SlotType != chain.SlotScout {
		return false
	}
	if item.Quarantined {
		return false
	}
	if item.PnLPct < p.MinPnLPct {
		return false
	}
	if item.SignalScore < p.MinSignalScore {
		return false
	}
	if item.HoursHeld*60 < p.DelayMinutes {
		return false
	}
	if p.CoreSlotsFull && !p.CoreDemotionThisTick {
		return false
	}
	if !sig.AboveShortMA || sig.IsDayTopRank {
		return false
	}
	if p.WhaleConfirmEnabled && !sig.WhaleNetFlowPositive {
		return false
	}
	return true
}

// OpportunityMargin is the fixed delta an opportunity-cost rotation must
// exceed before it is worth the round-trip cost (spec §4.F step 7).
const OpportunityMargin = 0.15

// GuardsFn reports whether free-slot/fee/liquidity guards pass for a given
// (held, candidate) pair, injected so rotation stays agnostic of slot and
// fee-governor internals.
type GuardsFn func(held, candidate chain.Mint) bool

// StaleReplacementMargin is the minimum rank a replacement candidate must
// clear above the held minimum to be paired with a stale exit (spec §4.F
// step 3).
const StaleReplacementMargin = 0.10

// Decide runs the priority cascade and returns the single selected action.
// heldItems and candidates must both be pre-filtered to the Active Universe
// (spec §4.I) before being passed in.
func Decide(
	circuitTripped bool,
	heldItems []ranker.RankedItem,
	candidates []ranker.RankedItem,
	takeProfitPct float64,
	promotionSignals map[chain.Mint]PromotionSignal,
	promoParams PromotionParams,
	guards GuardsFn,
) Decision {
	if circuitTripped {
		return Decision{Action: ActionCircuitPause, ReasonCode: "risk_circuit_tripped"}
	}

	if d, ok := worstRankWithFlag(heldItems, func(it ranker.RankedItem) bool {
		return it.Flags.TrailingStopTriggered
	}, ActionTrailingStopExit); ok {
		return d
	}

	if d, ok := staleExit(heldItems, candidates); ok {
		return d
	}

	if d, ok := worstRankWithFlag(heldItems, func(it ranker.RankedItem) bool {
		return it.SlotType == chain.SlotScout && it.Flags.ScoutStopLossTriggered
	}, ActionScoutStopLossExit); ok {
		return d
	}
	if d, ok := worstRankWithFlag(heldItems, func(it ranker.RankedItem) bool {
		return it.SlotType == chain.SlotCore && it.Flags.CoreLossExitTriggered
	}, ActionCoreLossExit); ok {
		return d
	}

	if d, ok := worstRankWithFlag(heldItems, func(it ranker.RankedItem) bool {
		return it.Flags.ScoutGraceExpired
	}, ActionScoutGraceExpired); ok {
		return d
	}

	if d, ok := takeProfit(heldItems, takeProfitPct); ok {
		return d
	}

	if d, ok := opportunityCostRotation(heldItems, candidates, guards); ok {
		return d
	}

	if d, ok := promotion(heldItems, promotionSignals, promoParams); ok {
		return d
	}

	return Decision{Action: ActionNone, ReasonCode: "no_action"}
}

func worstRankWithFlag(items []ranker.RankedItem, match func(ranker.RankedItem) bool, action Action) (Decision, bool) {
	var worst *ranker.RankedItem
	for i := range items {
		if !match(items[i]) {
			continue
		}
		if worst == nil || items[i].Rank < worst.Rank {
			worst = &items[i]
		}
	}
	if worst == nil {
		return Decision{}, false
	}
	return Decision{
		Action:     action,
		Mint:       worst.Mint,
		ReasonCode: string(action),
		RankDelta:  worst.Rank,
	}, true
}

func staleExit(heldItems, candidates []ranker.RankedItem) (Decision, bool) {
	var worst *ranker.RankedItem
	for i := range heldItems {
		if !heldItems[i].Flags.IsStale || !heldItems[i].Flags.IsStaleExit {
			continue
		}
		if worst == nil || heldItems[i].Rank < worst.Rank {
			worst = &heldItems[i]
		}
	}
	if worst == nil {
		return Decision{}, false
	}

	d := Decision{
		Action:     ActionStaleTimeoutExit,
		Mint:       worst.Mint,
		ReasonCode: string(ActionStaleTimeoutExit),
		RankDelta:  worst.Rank,
	}

	minHeld := minRank(heldItems)
	var best *ranker.RankedItem
	for i := range candidates {
		if candidates[i].Rank < minHeld+StaleReplacementMargin {
			continue
		}
		if best == nil || candidates[i].Rank > best.Rank {
			best = &candidates[i]
		}
	}
	if best != nil {
		d.Action = ActionStaleRotationReplace
		d.ReasonCode = string(ActionStaleRotationReplace)
		d.ReplacementMint = best.Mint
		d.RankDelta = best.Rank - worst.Rank
	}
	return d, true
}

func minRank(items []ranker.RankedItem) float64 {
	if len(items) == 0 {
		return 0
	}
	m := items[0].Rank
	for _, it := range items[1:] {
		if it.Rank < m {
			m = it.Rank
		}
	}
	return m
}

func takeProfit(heldItems []ranker.RankedItem, takeProfitPct float64) (Decision, bool) {
	var best *ranker.RankedItem
	for i := range heldItems {
		if heldItems[i].PnLPct < takeProfitPct {
			continue
		}
		if best == nil || heldItems[i].PnLPct > best.PnLPct {
			best = &heldItems[i]
		}
	}
	if best == nil {
		return Decision{}, false
	}
	return Decision{
		Action:     ActionTakeProfitExit,
		Mint:       best.Mint,
		ReasonCode: string(ActionTakeProfitExit),
		RankDelta:  best.Rank,
	}, true
}

func opportunityCostRotation(heldItems, candidates []ranker.RankedItem, guards GuardsFn) (Decision, bool) {
	type pair struct {
		held, cand ranker.RankedItem
		delta      float64
	}
	var pairs []pair
	for _, h := range heldItems {
		for _, c := range candidates {
			pairs = append(pairs, pair{held: h, cand: c, delta: c.Rank - h.Rank})
		}
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].delta > pairs[j].delta })

	for _, p := range pairs {
		if p.delta <= OpportunityMargin {
			break
		}
		if guards != nil && !guards(p.held.Mint, p.cand.Mint) {
			continue
		}
		return Decision{
			Action:          ActionOpportunityCostRotate,
			Mint:            p.held.Mint,
			ReplacementMint: p.cand.Mint,
			ReasonCode:      string(ActionOpportunityCostRotate),
			RankDelta:       p.delta,
		}, true
	}
	return Decision{}, false
}

func promotion(heldItems []ranker.RankedItem, signals map[chain.Mint]PromotionSignal, p PromotionParams) (Decision, bool) {
	for _, item := range heldItems {
		if item.SlotType != chain.SlotScout {
			continue
		}
		sig := signals[item.Mint]
		if Promotable(item, sig, p) {
			return Decision{
				Action:     ActionPromotion,
				Mint:       item.Mint,
				ReasonCode: string(ActionPromotion),
				RankDelta:  item.Rank,
			}, true
		}
	}
	return Decision{}, false
}
