package feegov

import (
	"testing"

	"github.com/cstahmer1/spotagent/internal/chain"
)

func baseParams() Params {
	return Params{
		Enabled:                     true,
		FeeRatioPerLegScout:         0.01,
		FeeRatioPerLegCore:          0.005,
		FeeSafetyHaircut:            1.0,
		RetryLadderMultipliers:      []float64{1.0, 1.5, 2.0},
		MinPriorityFeeLamportsEntry: 100_000,
		MinPriorityFeeLamportsExit:  200_000,
		MaxPriorityFeeLamportsScout: 5_000_000,
		MaxPriorityFeeLamportsCore:  3_000_000,
		FeeRatioGuardEnabled:        true,
		MaxFeeRatioHardPerLeg:       0.02,
		RiskProfile:                 "moderate",
	}
}

func TestDecide_BaseCalculation(t *testing.T) {
	p := baseParams()
	p.MaxPriorityFeeLamportsCore = 10_000_000 // ceiling above the computed fee, so no clamp
	tc := TradeContext{Lane: chain.LaneCore, Side: chain.SideBuy, NotionalSOL: 1.0, Urgency: chain.UrgencyNormal, Attempt: 1}

	d := Decide(p, tc)
	// base_fee = 1.0 * 1e9 * 0.005 * 1.0 = 5_000_000; multiplier=1.0
	if d.MaxLamports != 5_000_000 {
		t.Errorf("max_lamports = %d, want 5000000", d.MaxLamports)
	}
	if d.PriorityLevel != PriorityMedium {
		t.Errorf("priority = %s, want medium", d.PriorityLevel)
	}
	if d.SkipRecommended {
		t.Error("should not skip at default ratio")
	}
}

func TestDecide_RetryLadderMultiplier(t *testing.T) {
	p := baseParams()
	p.MaxPriorityFeeLamportsCore = 10_000_000 // ceiling above the computed fee, so no clamp
	tc := TradeContext{Lane: chain.LaneCore, Side: chain.SideBuy, NotionalSOL: 1.0, Urgency: chain.UrgencyNormal, Attempt: 2}

	d := Decide(p, tc)
	// attempt=2 -> ladder index 1 -> multiplier 1.5 -> fee = 5_000_000*1.5 = 7_500_000
	if d.MaxLamports != 7_500_000 {
		t.Errorf("max_lamports = %d, want 7500000", d.MaxLamports)
	}
}

func TestDecide_RetryAttemptBeyondLadderFallsBackToLast(t *testing.T) {
	p := baseParams()
	tc := TradeContext{Lane: chain.LaneCore, Side: chain.SideBuy, NotionalSOL: 1.0, Urgency: chain.UrgencyNormal, Attempt: 99}

	d := Decide(p, tc)
	// last ladder multiplier is 2.0 -> fee = 5_000_000*2.0 = 10_000_000, clamped to core ceiling 3_000_000
	if d.MaxLamports != 3_000_000 {
		t.Errorf("max_lamports = %d, want clamped 3000000", d.MaxLamports)
	}
	if !d.ClampedMax {
		t.Error("expected ClampedMax=true")
	}
}

func TestDecide_ClampsToFloorOnExit(t *testing.T) {
	p := baseParams()
	p.FeeRatioPerLegCore = 0.0000001 // tiny, forces floor clamp
	tc := TradeContext{Lane: chain.LaneCore, Side: chain.SideSell, NotionalSOL: 1.0, Urgency: chain.UrgencyNormal, Attempt: 1}

	d := Decide(p, tc)
	if d.MaxLamports != p.MinPriorityFeeLamportsExit {
		t.Errorf("max_lamports = %d, want exit floor %d", d.MaxLamports, p.MinPriorityFeeLamportsExit)
	}
	if !d.ClampedMin {
		t.Error("expected ClampedMin=true")
	}
}

func TestDecide_ScoutCeilingUsedForScoutLane(t *testing.T) {
	p := baseParams()
	tc := TradeContext{Lane: chain.LaneScout, Side: chain.SideBuy, NotionalSOL: 10.0, Urgency: chain.UrgencyNormal, Attempt: 1}

	d := Decide(p, tc)
	if d.MaxLamports != p.MaxPriorityFeeLamportsScout {
		t.Errorf("max_lamports = %d, want scout ceiling %d", d.MaxLamports, p.MaxPriorityFeeLamportsScout)
	}
}

func TestDecide_FeeRatioGuardTripsSkip(t *testing.T) {
	p := baseParams()
	p.MaxFeeRatioHardPerLeg = 0.0001 // force trip
	tc := TradeContext{Lane: chain.LaneCore, Side: chain.SideBuy, NotionalSOL: 1.0, Urgency: chain.UrgencyNormal, Attempt: 1}

	d := Decide(p, tc)
	if !d.SkipRecommended {
		t.Error("expected SkipRecommended=true when effective ratio exceeds hard guard")
	}
}

func TestDecide_UrgencyHighOrSellForcesHighPriority(t *testing.T) {
	p := baseParams()

	sell := Decide(p, TradeContext{Lane: chain.LaneCore, Side: chain.SideSell, NotionalSOL: 1.0, Attempt: 1})
	if sell.PriorityLevel != PriorityHigh {
		t.Errorf("sell priority = %s, want high", sell.PriorityLevel)
	}

	urgent := Decide(p, TradeContext{Lane: chain.LaneCore, Side: chain.SideBuy, NotionalSOL: 1.0, Urgency: chain.UrgencyHigh, Attempt: 1})
	if urgent.PriorityLevel != PriorityHigh {
		t.Errorf("urgent buy priority = %s, want high", urgent.PriorityLevel)
	}
}

func TestDecide_DisabledUsesLegacyFallback(t *testing.T) {
	p := baseParams()
	p.Enabled = false
	p.RiskProfile = "degen"

	d := Decide(p, TradeContext{Lane: chain.LaneCore, Side: chain.SideBuy, NotionalSOL: 1.0, Attempt: 1})
	if d.MaxLamports != 5_000_000 {
		t.Errorf("max_lamports = %d, want legacy degen fallback 5000000", d.MaxLamports)
	}
}

func TestDecide_DisabledUnknownProfileFallsBackToDefault(t *testing.T) {
	p := baseParams()
	p.Enabled = false
	p.RiskProfile = "unknown_profile"

	d := Decide(p, TradeContext{Lane: chain.LaneCore, Side: chain.SideBuy, NotionalSOL: 1.0, Attempt: 1})
	if d.MaxLamports != chain.PriorityFeeFallbackDefault {
		t.Errorf("max_lamports = %d, want default fallback %d", d.MaxLamports, chain.PriorityFeeFallbackDefault)
	}
}
