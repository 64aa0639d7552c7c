package signalfeed

import (
	"context"
	"testing"
	"time"

	"github.com/cstahmer1/spotagent/internal/chain"
)

func TestSignals_ReturnsPostedValue(t *testing.T) {
	f := NewFeed(time.Minute)
	f.Post("MintA", chain.Signal{Score: 0.8, Regime: chain.RegimeTrend}, time.Now())

	out, err := f.Signals(context.Background(), []chain.Mint{"MintA", "MintB"})
	if err != nil {
		t.Fatalf("Signals: %v", err)
	}
	if out["MintA"].Score != 0.8 {
		t.Errorf("MintA score = %v, want 0.8", out["MintA"].Score)
	}
	if _, ok := out["MintB"]; ok {
		t.Error("expected MintB to be absent (never posted)")
	}
}

func TestSignals_ExpiresOldEntries(t *testing.T) {
	f := NewFeed(10 * time.Millisecond)
	f.Post("MintC", chain.Signal{Score: 0.5}, time.Now())

	time.Sleep(20 * time.Millisecond)

	out, err := f.Signals(context.Background(), []chain.Mint{"MintC"})
	if err != nil {
		t.Fatalf("Signals: %v", err)
	}
	if _, ok := out["MintC"]; ok {
		t.Error("expected MintC to have expired")
	}
}
