// Package chain holds the opaque identifier types and chain-wide constants
// shared by every core component, so mint and signature strings never travel
// as bare strings through component boundaries (spec Design Note: "an opaque
// Mint newtype with fast-hash equality; never use mint strings as
// heterogeneous map keys elsewhere").
package chain

import "time"

// Mint is an opaque token identifier (base58-alphabet, 32-44 characters).
type Mint string

// Sig is an opaque transaction signature.
type Sig string

// Instant is a monotonic timestamp with millisecond resolution.
type Instant = time.Time

// Source identifies how a lot or position was originated.
type Source string

const (
	SourceBot            Source = "bot"
	SourceWalletDiscovery Source = "wallet_discovery"
	SourceSniper         Source = "sniper"
)

// SlotType is the two-tier position classification (§4.G).
type SlotType string

const (
	SlotScout SlotType = "scout"
	SlotCore  SlotType = "core"
)

// Regime is the signal-producer's market regime tag.
type Regime string

const (
	RegimeTrend Regime = "trend"
	RegimeRange Regime = "range"
)

// Lane mirrors SlotType for fee-governor purposes (§4.C); kept distinct
// because the fee governor only ever needs lane, never the full lifecycle.
type Lane string

const (
	LaneScout Lane = "scout"
	LaneCore  Lane = "core"
)

// Side is the direction of a swap leg.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Urgency informs the fee governor's priority-level selection.
type Urgency string

const (
	UrgencyNormal Urgency = "normal"
	UrgencyHigh   Urgency = "high"
)

// Canonical mint constants (§6).
const (
	SOLMint  Mint = "So11111111111111111111111111111111111111112"
	USDCMint Mint = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
)

// Fixed economics constants (§6).
const (
	LotDustBufferBaseUnits uint64 = 10
	ATARentLamports        uint64 = 2_039_280
	BaseFeeLamports        uint64 = 10_000
	SafetyBufferLamports   uint64 = 5_000_000
)

// PriorityFeeFallback is the legacy per-risk-profile fallback ladder used
// when the Fee Governor is disabled (§4.C, §6).
var PriorityFeeFallback = map[string]uint64{
	"degen":    5_000_000,
	"high":     2_000_000,
	"moderate": 1_000_000,
}

const PriorityFeeFallbackDefault uint64 = 500_000

// FallbackPriorityFee returns the legacy ladder value for a risk profile
// name, falling back to the default when the name is unrecognized.
func FallbackPriorityFee(profile string) uint64 {
	if v, ok := PriorityFeeFallback[profile]; ok {
		return v
	}
	return PriorityFeeFallbackDefault
}
