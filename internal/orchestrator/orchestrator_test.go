package orchestrator

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/cstahmer1/spotagent/internal/chain"
	"github.com/cstahmer1/spotagent/internal/config"
	"github.com/cstahmer1/spotagent/internal/ledger"
	"github.com/cstahmer1/spotagent/internal/risk"
	"github.com/cstahmer1/spotagent/internal/rotation"
	"github.com/cstahmer1/spotagent/internal/slots"
	"github.com/cstahmer1/spotagent/internal/universe"
)

type fakeRPC struct {
	solBalance   uint64
	tokenBalance uint64
	decimals     uint8
}

func (f *fakeRPC) GetBalance(ctx context.Context, owner string) (uint64, error) {
	return f.solBalance, nil
}
func (f *fakeRPC) GetTokenBalance(ctx context.Context, owner, mint string) (uint64, uint8, error) {
	return f.tokenBalance, f.decimals, nil
}
func (f *fakeRPC) SimulateTransaction(ctx context.Context, tx string) (*chain.SimResult, error) {
	return &chain.SimResult{}, nil
}
func (f *fakeRPC) SendVersionedTransaction(ctx context.Context, tx string) (chain.Sig, error) {
	return "sig", nil
}

type fakeMarket struct {
	prices map[chain.Mint]float64
}

func (f *fakeMarket) Price(ctx context.Context, mint chain.Mint) (chain.PricePoint, error) {
	return chain.PricePoint{Mint: mint, Price: f.prices[mint]}, nil
}
func (f *fakeMarket) Liquidity(ctx context.Context, mint chain.Mint) (float64, error) { return 100000, nil }
func (f *fakeMarket) Trending(ctx context.Context) ([]chain.Candidate, error)         { return nil, nil }

type fakeSignals struct{}

func (f *fakeSignals) Signals(ctx context.Context, mints []chain.Mint) (map[chain.Mint]chain.Signal, error) {
	out := make(map[chain.Mint]chain.Signal, len(mints))
	for _, m := range mints {
		out[m] = chain.Signal{Score: 0.2, Regime: chain.RegimeTrend}
	}
	return out, nil
}

type fakeSwapper struct{}

func (f *fakeSwapper) Quote(ctx context.Context, req chain.QuoteRequest) (*chain.Quote, error) {
	return &chain.Quote{InAmount: req.AmountBaseUnits, OutAmount: req.AmountBaseUnits}, nil
}
func (f *fakeSwapper) SwapTransaction(ctx context.Context, q *chain.Quote, userPubkey string, feeLamports uint64, priorityLevel string) (string, error) {
	return "built-tx", nil
}

func testManager(t *testing.T) *config.Manager {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
execution:
    execution_mode: paper
    loop_seconds: 5
    max_slippage_bps: 300
risk:
    take_profit_pct: 0.5
slots:
    core_slots: 2
    scout_slots: 5
universe:
    scanner_min_liquidity: 1000
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	m, err := config.NewManager(path)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	return m
}

func TestTick_NoPositionsNoActionPaperMode(t *testing.T) {
	l := ledger.New(nil)
	o := New(Deps{
		Config: testManager(t), Ledger: l,
		Slots: slots.New(slots.Capacity{CoreSlots: 2, ScoutSlots: 5}),
		Risk:  risk.New(150, 0.5, 10, time.Now()), // baseline = 1 SOL at $150
		Universe: universe.NewCache(),
		RPC:     &fakeRPC{solBalance: 1_000_000_000},
		Market:  &fakeMarket{prices: map[chain.Mint]float64{chain.SOLMint: 150}},
		Signals: &fakeSignals{},
		Swapper: &fakeSwapper{},
		Wallet:  "wallet-pubkey",
	})

	res, err := o.Tick(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("Tick failed: %v", err)
	}
	if res.Decision.Action != rotation.ActionNone {
		t.Errorf("action = %s, want none with no positions", res.Decision.Action)
	}
	if res.CircuitTripped {
		t.Error("circuit should not be tripped with healthy equity")
	}
}

func TestTick_HeldPositionGetsPriceUpdated(t *testing.T) {
	l := ledger.New(nil)
	now := time.Now()
	l.RecordBuy("MintA", decimal.NewFromInt(100), decimal.NewFromInt(100), decimal.NewFromInt(1), chain.SourceBot, now.Add(-time.Hour))

	o := New(Deps{
		Config: testManager(t), Ledger: l,
		Slots: slots.New(slots.Capacity{CoreSlots: 2, ScoutSlots: 5}),
		Risk:  risk.New(1000, 0.5, 10, now),
		Universe: universe.NewCache(),
		RPC:     &fakeRPC{solBalance: 1_000_000_000, tokenBalance: 100_000_000, decimals: 6},
		Market:  &fakeMarket{prices: map[chain.Mint]float64{chain.SOLMint: 150, "MintA": 1.5}},
		Signals: &fakeSignals{},
		Swapper: &fakeSwapper{},
		Wallet:  "wallet-pubkey",
	})

	res, err := o.Tick(context.Background(), now)
	if err != nil {
		t.Fatalf("Tick failed: %v", err)
	}
	if res.PositionsCount != 1 {
		t.Errorf("positions count = %d, want 1", res.PositionsCount)
	}

	pos := l.Position("MintA")
	if pos == nil {
		t.Fatal("expected MintA position to still exist")
	}
	if !pos.LastPriceUSD.Equal(decimal.NewFromFloat(1.5)) {
		t.Errorf("last_price_usd = %s, want 1.5", pos.LastPriceUSD)
	}
}

func TestTick_RiskCircuitTrippedForcesCircuitPause(t *testing.T) {
	l := ledger.New(nil)
	now := time.Now()
	l.RecordBuy("MintA", decimal.NewFromInt(100), decimal.NewFromInt(100), decimal.NewFromInt(1), chain.SourceBot, now.Add(-time.Hour))

	o := New(Deps{
		Config: testManager(t), Ledger: l,
		Slots: slots.New(slots.Capacity{CoreSlots: 2, ScoutSlots: 5}),
		Risk:  risk.New(1000, 0.01, 10, now), // 1% drawdown limit, easily breached
		Universe: universe.NewCache(),
		RPC:     &fakeRPC{solBalance: 0, tokenBalance: 100_000_000, decimals: 6},
		Market:  &fakeMarket{prices: map[chain.Mint]float64{chain.SOLMint: 150, "MintA": 0.1}}, // big drawdown
		Signals: &fakeSignals{},
		Swapper: &fakeSwapper{},
		Wallet:  "wallet-pubkey",
	})

	res, err := o.Tick(context.Background(), now)
	if err != nil {
		t.Fatalf("Tick failed: %v", err)
	}
	if !res.CircuitTripped {
		t.Fatal("expected circuit to trip on large drawdown")
	}
	if res.Decision.Action != rotation.ActionCircuitPause {
		t.Errorf("action = %s, want circuit_pause", res.Decision.Action)
	}
}
