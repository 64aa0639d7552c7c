package aggregator

import (
	"context"
	"testing"
	"time"

	"github.com/cstahmer1/spotagent/internal/chain"
)

func TestSwapTransaction_SimulationMode(t *testing.T) {
	client := NewClient(MetisSwapURL, 50, 10*time.Second, nil)
	client.SetSimulation(true, 1.0)

	quote, err := client.Quote(context.Background(), chain.QuoteRequest{
		InputMint:       string(chain.SOLMint),
		OutputMint:      string(chain.USDCMint),
		AmountBaseUnits: 1_000_000,
	})
	if err != nil {
		t.Fatalf("Quote failed in simulation mode: %v", err)
	}
	if quote.OutAmount != 1_000_000 {
		t.Errorf("sim out amount = %d, want 1000000 (1:1 multiplier)", quote.OutAmount)
	}

	tx, err := client.SwapTransaction(context.Background(), quote, "DstF19y19y19y19y19y19y19y19y19y19y19y19y19y", 1_000_000, "veryHigh")
	if err != nil {
		t.Fatalf("SwapTransaction failed in simulation mode: %v", err)
	}
	expected := "AQAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAABAA=="
	if tx != expected {
		t.Errorf("expected dummy transaction %q, got %q", expected, tx)
	}
}

func TestQuote_SimulationMultiplierScalesOutput(t *testing.T) {
	client := NewClient(MetisSwapURL, 50, 10*time.Second, nil)
	client.SetSimulation(true, 2.5)

	quote, err := client.Quote(context.Background(), chain.QuoteRequest{
		InputMint: "SomeMint", OutputMint: string(chain.SOLMint), AmountBaseUnits: 1000,
	})
	if err != nil {
		t.Fatalf("Quote failed: %v", err)
	}
	if quote.OutAmount != 2500 {
		t.Errorf("out amount = %d, want 2500 (1000 * 2.5)", quote.OutAmount)
	}
}
