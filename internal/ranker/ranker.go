// Package ranker produces the additive composite score of spec §4.E for
// both held positions and unheld candidates, and the exit-trigger flags the
// Rotation decision (internal/rotation) consumes. It is grounded on the
// teacher's internal/trading.Metrics percentile-bucketing style for
// aggregating many small signals into one comparable number, generalized
// here into a single weighted sum instead of a latency histogram.
package ranker

import (
	"math"

	"github.com/shopspring/decimal"

	"github.com/cstahmer1/spotagent/internal/chain"
	"github.com/cstahmer1/spotagent/internal/moneymath"
)

// Weights is the config-sourced weight vector from spec §4.E.
type Weights struct {
	Signal          float64
	Momentum        float64
	TimeDecay       float64
	Trailing        float64
	Freshness       float64
	Quality         float64
	StalePenalty    float64
	TrailingPenalty float64
}

// Flags are the exit-trigger booleans computed per held position (§4.E).
type Flags struct {
	TrailingStopTriggered  bool
	IsStale                bool
	IsStaleExit            bool
	ScoutStopLossTriggered bool
	CoreLossExitTriggered  bool
	ScoutGraceExpired      bool
}

// RankedItem is the ranker's output per position or candidate.
type RankedItem struct {
	Mint        chain.Mint
	Rank        float64
	PnLPct      float64
	PnLUSD      decimal.Decimal
	HoursHeld   float64
	Flags       Flags
	Quarantined bool
	SlotType    chain.SlotType
	SignalScore float64
}

// Thresholds bundles the exit-related config the held-position formula and
// its flags both need (spec §4.E/§4.F, sourced from RuntimeConfig).
type Thresholds struct {
	TrailingStopBasePct           float64
	TrailingStopTightPct          float64
	TrailingStopProfitThresholdPct float64
	StalePositionHours            float64
	StaleExitHours                float64
	StalePnLBandPct               float64
	ScoutStopLossPct              float64
	LossExitPct                   float64
	ScoutUnderperformGraceMinutes float64
}

// HeldInput is one held position's feature set for scoring (spec §4.E).
type HeldInput struct {
	Mint             chain.Mint
	SignalScore      float64
	Regime           chain.Regime
	PriceHistory     []float64 // oldest-first
	HoursHeld        float64
	PeakPriceUSD     float64
	CurrentPriceUSD  float64
	SignalAgeSeconds float64
	LiquidityUSD     float64
	Volume24hUSD     float64
	HolderCount      int
	PnLPct           float64
	PnLUSD           decimal.Decimal
	SlotType         chain.SlotType
	Quarantined      bool
}

// activeTrailPct picks tight or base trailing pct per spec §4.E.
func activeTrailPct(pnlPct float64, th Thresholds) float64 {
	if pnlPct >= th.TrailingStopProfitThresholdPct {
		return th.TrailingStopTightPct
	}
	return th.TrailingStopBasePct
}

// ScoreHeld computes the additive held-position rank and its exit flags.
func ScoreHeld(in HeldInput, w Weights, th Thresholds) RankedItem {
	activeTrail := activeTrailPct(in.PnLPct, th)
	stopLevel := in.PeakPriceUSD * (1 - activeTrail)
	trailingTriggered := in.CurrentPriceUSD <= stopLevel && in.PeakPriceUSD > 0

	isStale := in.HoursHeld >= th.StalePositionHours && math.Abs(in.PnLPct) <= th.StalePnLBandPct
	isStaleExit := isStale && in.HoursHeld >= th.StaleExitHours

	scoutStopLoss := in.SlotType == chain.SlotScout && in.PnLPct <= -th.ScoutStopLossPct
	coreLossExit := in.SlotType == chain.SlotCore && in.PnLPct <= -th.LossExitPct
	scoutGraceExpired := in.SlotType == chain.SlotScout &&
		in.HoursHeld*60 >= th.ScoutUnderperformGraceMinutes && in.PnLPct <= 0

	flags := Flags{
		TrailingStopTriggered:  trailingTriggered,
		IsStale:                isStale,
		IsStaleExit:            isStaleExit,
		ScoutStopLossTriggered: scoutStopLoss,
		CoreLossExitTriggered:  coreLossExit,
		ScoutGraceExpired:      scoutGraceExpired,
	}

	rank := w.Signal*moneymath.Clamp(in.SignalScore, -1, 1) +
		w.Momentum*fMomentum(in.PriceHistory, in.Regime) +
		w.TimeDecay*fTimeDecay(in.HoursHeld) +
		w.Trailing*fTrailingRoom(in.PeakPriceUSD, in.CurrentPriceUSD, activeTrail) +
		w.Freshness*fFreshness(in.SignalAgeSeconds) +
		w.Quality*fQuality(in.LiquidityUSD, in.Volume24hUSD, in.HolderCount)

	if isStale {
		rank += w.StalePenalty
	}
	if trailingTriggered {
		rank += w.TrailingPenalty
	}

	return RankedItem{
		Mint:        in.Mint,
		Rank:        rank,
		PnLPct:      in.PnLPct,
		PnLUSD:      in.PnLUSD,
		HoursHeld:   in.HoursHeld,
		Flags:       flags,
		Quarantined: in.Quarantined,
		SlotType:    in.SlotType,
		SignalScore: in.SignalScore,
	}
}

// CandidateInput is an unheld token's feature set for scoring (spec §4.E).
type CandidateInput struct {
	Mint             chain.Mint
	SignalScore      float64
	ScannerScore     float64
	PriceChange24h   float64
	Regime           chain.Regime
	PriceHistory     []float64
	SignalAgeSeconds float64
	LiquidityUSD     float64
	Volume24hUSD     float64
	HolderCount      int
}

// ScoreCandidate computes the candidate rank (same weights, omitting
// trailing/stale terms) and the admission gate of spec §4.E. ok=false means
// the candidate must be discarded.
func ScoreCandidate(in CandidateInput, w Weights, scannerMinLiquidity float64) (RankedItem, bool) {
	passesGate := in.SignalScore > 0 || in.ScannerScore > 0 || in.PriceChange24h > 0
	if !passesGate || in.LiquidityUSD < scannerMinLiquidity {
		return RankedItem{}, false
	}

	rank := w.Signal*moneymath.Clamp(in.SignalScore, -1, 1) +
		w.Momentum*fMomentum(in.PriceHistory, in.Regime) +
		w.TimeDecay*fTimeDecay(0) +
		w.Freshness*fFreshness(in.SignalAgeSeconds) +
		w.Quality*fQuality(in.LiquidityUSD, in.Volume24hUSD, in.HolderCount)

	if rank <= 0.5 {
		return RankedItem{}, false
	}

	return RankedItem{Mint: in.Mint, Rank: rank}, true
}

// timeDecayHorizonHours and freshnessWindowSeconds bound the two decay
// curves below; they are internal shaping constants, not config fields —
// the spec leaves the exact curve shape to the implementer.
const (
	timeDecayHorizonHours  = 48.0
	freshnessWindowSeconds = 900.0
)

// fMomentum measures directional price change over the observed history,
// muted in range regimes since momentum is a trend-following signal.
func fMomentum(history []float64, regime chain.Regime) float64 {
	if len(history) < 2 || history[0] == 0 {
		return 0
	}
	change := (history[len(history)-1] - history[0]) / history[0]
	change = moneymath.Clamp(change, -1, 1)
	if regime == chain.RegimeRange {
		change *= 0.5
	}
	return change
}

// fTimeDecay rewards freshly-opened positions and decays linearly to zero
// at timeDecayHorizonHours, countering the stale-penalty term.
func fTimeDecay(hoursHeld float64) float64 {
	remaining := 1 - hoursHeld/timeDecayHorizonHours
	return moneymath.Clamp(remaining, 0, 1)
}

// fTrailingRoom measures how much headroom remains before the trailing
// stop fires, in units of activeTrailPct (1 = at peak, 0 = at the stop).
func fTrailingRoom(peak, current, activeTrailPct float64) float64 {
	if peak <= 0 || activeTrailPct <= 0 {
		return 0
	}
	stop := peak * (1 - activeTrailPct)
	room := (current - stop) / (peak - stop)
	return moneymath.Clamp(room, 0, 1)
}

// fFreshness decays linearly to zero once the signal is older than
// freshnessWindowSeconds.
func fFreshness(ageSeconds float64) float64 {
	remaining := 1 - ageSeconds/freshnessWindowSeconds
	return moneymath.Clamp(remaining, 0, 1)
}

// fQuality compresses liquidity/volume/holder count into [0,1] via a log
// scale so a handful of whale-sized pools don't dominate ranking.
func fQuality(liquidityUSD, volume24hUSD float64, holders int) float64 {
	liqScore := logScore(liquidityUSD, 1_000_000)
	volScore := logScore(volume24hUSD, 500_000)
	holderScore := logScore(float64(holders), 5_000)
	return (liqScore + volScore + holderScore) / 3
}

func logScore(v, scale float64) float64 {
	if v <= 0 {
		return 0
	}
	return moneymath.Clamp(math.Log10(1+v)/math.Log10(1+scale), 0, 1)
}

// RampCap applies the tick-ramping allocation cap of spec §4.E to a target
// weight for a mint with fewer than minTicksForFullAlloc observed ticks.
func RampCap(targetWeight float64, ticksObserved, minTicksForFullAlloc int, preFullAllocMaxPct float64) float64 {
	if ticksObserved >= minTicksForFullAlloc || minTicksForFullAlloc <= 0 {
		return targetWeight
	}
	scale := math.Sqrt(float64(ticksObserved) / float64(minTicksForFullAlloc))
	capped := moneymath.Clamp(targetWeight, 0, preFullAllocMaxPct)
	return capped * scale
}
