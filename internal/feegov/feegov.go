// Package feegov computes a priority-fee ceiling for each swap leg,
// generalized from the teacher's jupiter.Client.maxLamports cap (a single
// fixed number) into the deterministic per-leg procedure of spec §4.C. When
// disabled it falls back to the same risk-profile ladder the teacher
// hardcoded in internal/trading/executor.go.
package feegov

import (
	"github.com/cstahmer1/spotagent/internal/chain"
)

// PriorityLevel is the Jupiter-facing fee aggressiveness tier.
type PriorityLevel string

const (
	PriorityLow      PriorityLevel = "low"
	PriorityMedium   PriorityLevel = "medium"
	PriorityHigh     PriorityLevel = "high"
	PriorityVeryHigh PriorityLevel = "veryHigh"
)

// Params is the subset of RuntimeConfig the governor needs. Callers pass a
// fresh snapshot each call; the governor holds no config state itself.
type Params struct {
	Enabled bool

	FeeRatioPerLegScout float64
	FeeRatioPerLegCore  float64
	FeeSafetyHaircut    float64

	RetryLadderMultipliers []float64

	MinPriorityFeeLamportsEntry uint64
	MinPriorityFeeLamportsExit  uint64
	MaxPriorityFeeLamportsScout uint64
	MaxPriorityFeeLamportsCore  uint64

	FeeRatioGuardEnabled  bool
	MaxFeeRatioHardPerLeg float64

	// RiskProfile names the legacy fallback ladder entry used when
	// Enabled is false.
	RiskProfile string
}

// TradeContext is the governor's sole input besides Params (spec §4.C).
type TradeContext struct {
	Lane        chain.Lane
	Side        chain.Side
	NotionalSOL float64
	Urgency     chain.Urgency
	Attempt     int // 1-indexed
}

// Decision is the governor's sole output (spec §4.C).
type Decision struct {
	MaxLamports     uint64
	PriorityLevel   PriorityLevel
	ReasonTrail     []string
	SkipRecommended bool
	EffectiveRatio  float64
	ClampedMin      bool
	ClampedMax      bool
}

// Decide runs the deterministic fee procedure for a single swap leg.
func Decide(p Params, tc TradeContext) Decision {
	if !p.Enabled {
		return legacyFallback(p, tc)
	}

	var reasons []string

	baseRatio := p.FeeRatioPerLegCore
	if tc.Lane == chain.LaneScout {
		baseRatio = p.FeeRatioPerLegScout
	}
	reasons = append(reasons, "base_ratio_selected")

	baseFee := tc.NotionalSOL * 1e9 * baseRatio * p.FeeSafetyHaircut
	reasons = append(reasons, "base_fee_computed")

	multiplier := 1.0
	if len(p.RetryLadderMultipliers) > 0 {
		idx := tc.Attempt - 1
		if idx < 0 {
			idx = 0
		}
		if idx >= len(p.RetryLadderMultipliers) {
			idx = len(p.RetryLadderMultipliers) - 1
		}
		multiplier = p.RetryLadderMultipliers[idx]
	}
	fee := baseFee * multiplier
	reasons = append(reasons, "retry_ladder_applied")

	minFloor := p.MinPriorityFeeLamportsEntry
	if tc.Side == chain.SideSell {
		minFloor = p.MinPriorityFeeLamportsExit
	}
	clampedMin := false
	if fee < float64(minFloor) {
		fee = float64(minFloor)
		clampedMin = true
		reasons = append(reasons, "clamped_to_floor")
	}

	maxCeiling := p.MaxPriorityFeeLamportsCore
	if tc.Lane == chain.LaneScout {
		maxCeiling = p.MaxPriorityFeeLamportsScout
	}
	clampedMax := false
	if fee > float64(maxCeiling) {
		fee = float64(maxCeiling)
		clampedMax = true
		reasons = append(reasons, "clamped_to_ceiling")
	}

	notionalLamports := tc.NotionalSOL * 1e9
	effectiveRatio := 0.0
	if notionalLamports > 0 {
		effectiveRatio = fee / notionalLamports
	}

	skip := false
	if p.FeeRatioGuardEnabled && effectiveRatio > p.MaxFeeRatioHardPerLeg {
		skip = true
		reasons = append(reasons, "fee_ratio_guard_tripped")
	}

	level := PriorityMedium
	if tc.Urgency == chain.UrgencyHigh || tc.Side == chain.SideSell {
		level = PriorityHigh
	}
	reasons = append(reasons, "priority_level_selected")

	return Decision{
		MaxLamports:     uint64(fee),
		PriorityLevel:   level,
		ReasonTrail:     reasons,
		SkipRecommended: skip,
		EffectiveRatio:  effectiveRatio,
		ClampedMin:      clampedMin,
		ClampedMax:      clampedMax,
	}
}

// legacyFallback reproduces the teacher's flat risk-profile ladder for use
// when the governor is disabled (spec §4.C, constants in chain.PriorityFeeFallback).
func legacyFallback(p Params, tc TradeContext) Decision {
	lamports := chain.FallbackPriorityFee(p.RiskProfile)
	level := PriorityMedium
	if tc.Urgency == chain.UrgencyHigh || tc.Side == chain.SideSell {
		level = PriorityHigh
	}
	return Decision{
		MaxLamports:   lamports,
		PriorityLevel: level,
		ReasonTrail:   []string{"governor_disabled_legacy_fallback"},
	}
}
