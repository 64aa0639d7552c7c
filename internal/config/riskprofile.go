package config

import "github.com/cstahmer1/spotagent/internal/corerr"

// RiskProfile is a named overlay bundle (spec §4.A "RiskProfile") applied
// on top of the base config to shift the agent's aggressiveness without
// editing every individual field by hand.
type RiskProfile struct {
	Name                   string
	MaxDailyDrawdownPct    float64
	MaxTurnoverPctPerDay   float64
	ScoutSizeBaseEquity    float64
	TrailingStopBasePct    float64
	ScoutStopLossPct       float64
	FeeRatioGuardEnabled   bool
}

// riskProfiles are the three named bundles spec §4.A calls out
// (degen/high/moderate), each tuned conservative-to-aggressive.
var riskProfiles = map[string]RiskProfile{
	"moderate": {
		Name:                 "moderate",
		MaxDailyDrawdownPct:  0.05,
		MaxTurnoverPctPerDay: 2.0,
		ScoutSizeBaseEquity:  0.01,
		TrailingStopBasePct:  0.15,
		ScoutStopLossPct:     0.20,
		FeeRatioGuardEnabled: true,
	},
	"high": {
		Name:                 "high",
		MaxDailyDrawdownPct:  0.08,
		MaxTurnoverPctPerDay: 3.0,
		ScoutSizeBaseEquity:  0.02,
		TrailingStopBasePct:  0.20,
		ScoutStopLossPct:     0.25,
		FeeRatioGuardEnabled: true,
	},
	"degen": {
		Name:                 "degen",
		MaxDailyDrawdownPct:  0.15,
		MaxTurnoverPctPerDay: 5.0,
		ScoutSizeBaseEquity:  0.04,
		TrailingStopBasePct:  0.30,
		ScoutStopLossPct:     0.35,
		FeeRatioGuardEnabled: false,
	},
}

// ApplyRiskProfile overlays a named RiskProfile's fields onto cfg in place.
// An unknown name is a validation error rather than a silent no-op, since
// a typo'd profile name should never fall through to the base config
// unnoticed.
func ApplyRiskProfile(cfg *Config, name string) error {
	p, ok := riskProfiles[name]
	if !ok {
		return corerr.New(corerr.KindConfigValidation, "unknown risk profile: "+name, nil)
	}
	cfg.Risk.MaxDailyDrawdownPct = p.MaxDailyDrawdownPct
	cfg.Risk.MaxTurnoverPctPerDay = p.MaxTurnoverPctPerDay
	cfg.Capital.ScoutSizeBaseEquity = p.ScoutSizeBaseEquity
	cfg.Exit.TrailingStopBasePct = p.TrailingStopBasePct
	cfg.Exit.ScoutStopLossPct = p.ScoutStopLossPct
	cfg.FeeGov.FeeRatioGuardEnabled = p.FeeRatioGuardEnabled
	cfg.ActiveRiskProfile = name
	return nil
}
