// Package universe implements the Active Universe membership rule and the
// re-entry cooldown cache of spec §4.I, grounded on the reentry-cycle
// state shape from koshedutech-binance-trading-app's scalp_reentry_types.go
// (a per-asset cycle record gating whether a new entry may open), adapted
// here from a per-trade reentry window into a per-mint cooldown-until cache.
package universe

import (
	"time"

	"github.com/cstahmer1/spotagent/internal/chain"
	"github.com/cstahmer1/spotagent/internal/slots"
)

// Membership describes why a mint is (or isn't) in the Active Universe.
type Membership struct {
	Held           bool
	HasPendingOrder bool
	SlotType       chain.SlotType // "" when not in a slot
	QueuedForBuy   bool
	IsAlwaysIn     bool // SOL/USDC
}

// InUniverse reports Active Universe membership (spec §4.I).
func InUniverse(mint chain.Mint, m Membership) bool {
	if mint == chain.SOLMint || mint == chain.USDCMint {
		return true
	}
	return m.Held || m.HasPendingOrder || m.SlotType == chain.SlotCore || m.SlotType == chain.SlotScout || m.QueuedForBuy
}

// AdmissionDenied is the reason a mint was refused admission.
type AdmissionDenied string

const ReasonCooldown AdmissionDenied = "in_cooldown"

// Cache holds the re-entry cooldown cache, keyed by mint (spec §4.I, §3.1).
type Cache struct {
	entries map[chain.Mint]slots.CacheEntry
}

// NewCache builds an empty re-entry cache.
func NewCache() *Cache {
	return &Cache{entries: make(map[chain.Mint]slots.CacheEntry)}
}

// Record inserts or overwrites a mint's cache entry on full exit.
func (c *Cache) Record(e slots.CacheEntry) {
	c.entries[e.Mint] = e
}

// Admit checks re-entry admission for mint at time now (spec §4.I):
// no entry → admit; entry with now < cooldown_until → deny; else admit and
// increment times_reentered.
func (c *Cache) Admit(mint chain.Mint, now time.Time) (bool, AdmissionDenied) {
	e, ok := c.entries[mint]
	if !ok {
		return true, ""
	}
	if now.Before(e.CooldownUntil) {
		return false, ReasonCooldown
	}
	e.TimesReentered++
	c.entries[mint] = e
	return true, ""
}

// Entry returns the current cache entry for mint, if any.
func (c *Cache) Entry(mint chain.Mint) (slots.CacheEntry, bool) {
	e, ok := c.entries[mint]
	return e, ok
}

// Remove deletes a mint's cache entry (used when a held mint and cache
// entry would otherwise coexist — spec §3.2 mutual-exclusion invariant).
func (c *Cache) Remove(mint chain.Mint) {
	delete(c.entries, mint)
}

// FilterCandidates drops candidates not in the Active Universe (spec §4.I
// allocation-dilution guard).
func FilterCandidates(mints []chain.Mint, memberships map[chain.Mint]Membership) []chain.Mint {
	out := make([]chain.Mint, 0, len(mints))
	for _, m := range mints {
		if InUniverse(m, memberships[m]) {
			out = append(out, m)
		}
	}
	return out
}
