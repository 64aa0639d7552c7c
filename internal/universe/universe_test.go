package universe

import (
	"testing"
	"time"

	"github.com/cstahmer1/spotagent/internal/chain"
	"github.com/cstahmer1/spotagent/internal/slots"
)

func TestInUniverse_SOLAndUSDCAlwaysIn(t *testing.T) {
	if !InUniverse(chain.SOLMint, Membership{}) {
		t.Fatal("expected SOL always in universe")
	}
	if !InUniverse(chain.USDCMint, Membership{}) {
		t.Fatal("expected USDC always in universe")
	}
}

func TestInUniverse_HeldOrSlottedOrQueued(t *testing.T) {
	cases := []Membership{
		{Held: true},
		{HasPendingOrder: true},
		{SlotType: chain.SlotCore},
		{SlotType: chain.SlotScout},
		{QueuedForBuy: true},
	}
	for _, m := range cases {
		if !InUniverse("SomeMint", m) {
			t.Errorf("expected in universe for membership %+v", m)
		}
	}
}

func TestInUniverse_NotMemberWhenNoneApply(t *testing.T) {
	if InUniverse("SomeMint", Membership{}) {
		t.Fatal("expected not in universe with no membership reasons")
	}
}

// Universe invariant (spec §8): a mint in cooldown cannot be admitted.
func TestCache_AdmitDeniesDuringCooldown(t *testing.T) {
	c := NewCache()
	now := time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC)
	c.Record(slots.CacheEntry{Mint: "M", CooldownUntil: now.Add(time.Hour)})

	ok, reason := c.Admit("M", now.Add(30*time.Minute))
	if ok {
		t.Fatal("expected admission denied during cooldown")
	}
	if reason != ReasonCooldown {
		t.Errorf("reason = %s, want in_cooldown", reason)
	}
}

func TestCache_AdmitAllowsAfterCooldownAndIncrements(t *testing.T) {
	c := NewCache()
	now := time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC)
	c.Record(slots.CacheEntry{Mint: "M", CooldownUntil: now.Add(time.Hour), TimesReentered: 2})

	ok, _ := c.Admit("M", now.Add(2*time.Hour))
	if !ok {
		t.Fatal("expected admission allowed after cooldown elapses")
	}
	entry, _ := c.Entry("M")
	if entry.TimesReentered != 3 {
		t.Errorf("times_reentered = %d, want 3", entry.TimesReentered)
	}
}

func TestCache_AdmitAllowsWithNoEntry(t *testing.T) {
	c := NewCache()
	ok, _ := c.Admit("Fresh", time.Now())
	if !ok {
		t.Fatal("expected admission allowed when no cache entry exists")
	}
}

func TestFilterCandidates_DropsNonMembers(t *testing.T) {
	memberships := map[chain.Mint]Membership{
		"A": {Held: true},
	}
	out := FilterCandidates([]chain.Mint{"A", "B"}, memberships)
	if len(out) != 1 || out[0] != "A" {
		t.Errorf("filtered = %v, want only A", out)
	}
}
