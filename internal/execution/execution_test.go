package execution

import (
	"context"
	"errors"
	"testing"

	"github.com/cstahmer1/spotagent/internal/chain"
	"github.com/cstahmer1/spotagent/internal/feegov"
)

type fakeRPC struct {
	balance      uint64
	tokenBase    uint64
	tokenDec     uint8
	simErr       string
	sendErr      error
	simRPCErr    error
	tokenRPCErr  error
	balanceErr   error
}

func (f *fakeRPC) GetBalance(ctx context.Context, owner string) (uint64, error) {
	return f.balance, f.balanceErr
}

func (f *fakeRPC) GetTokenBalance(ctx context.Context, owner, mint string) (uint64, uint8, error) {
	return f.tokenBase, f.tokenDec, f.tokenRPCErr
}

func (f *fakeRPC) SimulateTransaction(ctx context.Context, tx string) (*chain.SimResult, error) {
	if f.simRPCErr != nil {
		return nil, f.simRPCErr
	}
	return &chain.SimResult{Err: f.simErr}, nil
}

func (f *fakeRPC) SendVersionedTransaction(ctx context.Context, tx string) (chain.Sig, error) {
	if f.sendErr != nil {
		return "", f.sendErr
	}
	return chain.Sig("sig123"), nil
}

type fakeSwap struct {
	quoteErr error
	buildErr error
}

func (f *fakeSwap) Quote(ctx context.Context, req chain.QuoteRequest) (*chain.Quote, error) {
	if f.quoteErr != nil {
		return nil, f.quoteErr
	}
	return &chain.Quote{InAmount: req.AmountBaseUnits, OutAmount: req.AmountBaseUnits * 2}, nil
}

func (f *fakeSwap) SwapTransaction(ctx context.Context, q *chain.Quote, userPubkey string, feeLamports uint64, priorityLevel string) (string, error) {
	if f.buildErr != nil {
		return "", f.buildErr
	}
	return "built-tx-b64", nil
}

func defaultFeeParams() feegov.Params {
	return feegov.Params{
		Enabled:                     true,
		FeeRatioPerLegCore:          0.005,
		FeeRatioPerLegScout:         0.01,
		FeeSafetyHaircut:            1.0,
		RetryLadderMultipliers:      []float64{1.0},
		MinPriorityFeeLamportsEntry: 1000,
		MinPriorityFeeLamportsExit:  2000,
		MaxPriorityFeeLamportsScout: 5_000_000,
		MaxPriorityFeeLamportsCore:  3_000_000,
	}
}

func TestInferContext_BuyFromSOL(t *testing.T) {
	tc := InferContext(Intent{InputMint: string(chain.SOLMint), StrategyTag: "core"})
	if tc.Side != chain.SideBuy {
		t.Errorf("side = %s, want buy", tc.Side)
	}
	if tc.Lane != chain.LaneCore {
		t.Errorf("lane = %s, want core", tc.Lane)
	}
}

func TestInferContext_ScoutTagSetsScoutLane(t *testing.T) {
	tc := InferContext(Intent{InputMint: "SomeOtherMint", StrategyTag: "scout_momentum"})
	if tc.Lane != chain.LaneScout {
		t.Errorf("lane = %s, want scout", tc.Lane)
	}
	if tc.Side != chain.SideSell {
		t.Errorf("side = %s, want sell", tc.Side)
	}
	if tc.Urgency != chain.UrgencyHigh {
		t.Errorf("sell always infers high urgency, got %s", tc.Urgency)
	}
}

func TestInferContext_TrailingTagForcesHighUrgency(t *testing.T) {
	tc := InferContext(Intent{InputMint: string(chain.SOLMint), StrategyTag: "core_trailing_stop"})
	if tc.Urgency != chain.UrgencyHigh {
		t.Errorf("urgency = %s, want high for trailing tag", tc.Urgency)
	}
}

func TestRun_InsufficientFundsWhenSOLBalanceLow(t *testing.T) {
	p := &Pipeline{
		RPC:    &fakeRPC{balance: 1, tokenBase: 1_000_000, tokenDec: 6},
		Swap:   &fakeSwap{},
		Mode:   "live",
		Wallet: "wallet1",
	}
	in := Intent{InputMint: string(chain.SOLMint), RequestedAmount: 1000, NotionalSOL: 0.01}
	res := p.Run(context.Background(), in, defaultFeeParams())
	if res.Terminal != TerminalInsufficientFunds {
		t.Fatalf("terminal = %s, want insufficient_funds", res.Terminal)
	}
}

func TestRun_InsufficientFundsWhenClampedAmountZero(t *testing.T) {
	p := &Pipeline{
		RPC:    &fakeRPC{balance: 1_000_000_000, tokenBase: 5, tokenDec: 6}, // dust buffer 10 > balance
		Swap:   &fakeSwap{},
		Mode:   "live",
		Wallet: "wallet1",
	}
	in := Intent{InputMint: "SomeMint", OutputMint: string(chain.SOLMint), RequestedAmount: 1000, NotionalSOL: 0.01}
	res := p.Run(context.Background(), in, defaultFeeParams())
	if res.Terminal != TerminalInsufficientFunds {
		t.Fatalf("terminal = %s, want insufficient_funds", res.Terminal)
	}
	if res.Reason != "clamped_amount_zero" {
		t.Errorf("reason = %s, want clamped_amount_zero", res.Reason)
	}
}

func TestRun_PaperModeSkipsSendAndReturnsPaper(t *testing.T) {
	p := &Pipeline{
		RPC:    &fakeRPC{balance: 1_000_000_000, tokenBase: 1_000_000, tokenDec: 6},
		Swap:   &fakeSwap{},
		Mode:   "paper",
		Wallet: "wallet1",
	}
	in := Intent{InputMint: string(chain.SOLMint), OutputMint: "SomeMint", RequestedAmount: 1000, NotionalSOL: 0.01}
	res := p.Run(context.Background(), in, defaultFeeParams())
	if res.Terminal != TerminalPaper {
		t.Fatalf("terminal = %s, want paper", res.Terminal)
	}
}

func TestRun_SimulationFailureDecodesKnownCode(t *testing.T) {
	p := &Pipeline{
		RPC:    &fakeRPC{balance: 1_000_000_000, tokenBase: 1_000_000, tokenDec: 6, simErr: "custom program error: 0x1771"}, // 0x1771 = 6001
		Swap:   &fakeSwap{},
		Mode:   "live",
		Wallet: "wallet1",
	}
	in := Intent{InputMint: string(chain.SOLMint), OutputMint: "SomeMint", RequestedAmount: 1000, NotionalSOL: 0.01}
	res := p.Run(context.Background(), in, defaultFeeParams())
	if res.Terminal != TerminalSimulationFailed {
		t.Fatalf("terminal = %s, want simulation_failed", res.Terminal)
	}
	if res.Reason != "SlippageToleranceExceeded" {
		t.Errorf("reason = %s, want SlippageToleranceExceeded", res.Reason)
	}
}

func TestRun_SimulationFailureUnknownCode(t *testing.T) {
	p := &Pipeline{
		RPC:    &fakeRPC{balance: 1_000_000_000, tokenBase: 1_000_000, tokenDec: 6, simErr: "custom program error: 0x270f"}, // 9999
		Swap:   &fakeSwap{},
		Mode:   "live",
		Wallet: "wallet1",
	}
	in := Intent{InputMint: string(chain.SOLMint), OutputMint: "SomeMint", RequestedAmount: 1000, NotionalSOL: 0.01}
	res := p.Run(context.Background(), in, defaultFeeParams())
	if res.Reason != "UnknownError_9999" {
		t.Errorf("reason = %s, want UnknownError_9999", res.Reason)
	}
}

func TestRun_SentOnSuccess(t *testing.T) {
	p := &Pipeline{
		RPC:    &fakeRPC{balance: 1_000_000_000, tokenBase: 1_000_000, tokenDec: 6},
		Swap:   &fakeSwap{},
		Mode:   "live",
		Wallet: "wallet1",
	}
	in := Intent{InputMint: string(chain.SOLMint), OutputMint: "SomeMint", RequestedAmount: 1000, NotionalSOL: 0.01}
	res := p.Run(context.Background(), in, defaultFeeParams())
	if res.Terminal != TerminalSent {
		t.Fatalf("terminal = %s, want sent", res.Terminal)
	}
}

func TestRun_QuoteFailureWrapsQuoteRejected(t *testing.T) {
	p := &Pipeline{
		RPC:    &fakeRPC{balance: 1_000_000_000, tokenBase: 1_000_000, tokenDec: 6},
		Swap:   &fakeSwap{quoteErr: errors.New("no route")},
		Mode:   "live",
		Wallet: "wallet1",
	}
	in := Intent{InputMint: string(chain.SOLMint), OutputMint: "SomeMint", RequestedAmount: 1000, NotionalSOL: 0.01}
	res := p.Run(context.Background(), in, defaultFeeParams())
	if res.Terminal != TerminalError {
		t.Fatalf("terminal = %s, want error", res.Terminal)
	}
}

func TestRun_USDCToSOLBypassesFeeGuard(t *testing.T) {
	fp := defaultFeeParams()
	fp.FeeRatioGuardEnabled = true
	fp.MaxFeeRatioHardPerLeg = 0.00000001 // would trip normally

	p := &Pipeline{
		RPC:    &fakeRPC{balance: 1_000_000_000, tokenBase: 1_000_000, tokenDec: 6},
		Swap:   &fakeSwap{},
		Mode:   "live",
		Wallet: "wallet1",
	}
	in := Intent{InputMint: string(chain.USDCMint), OutputMint: string(chain.SOLMint), RequestedAmount: 1000, NotionalSOL: 1.0, IsUSDCToSOL: true}
	res := p.Run(context.Background(), in, fp)
	if res.Terminal != TerminalSent {
		t.Fatalf("terminal = %s, want sent (bypass should skip the guard)", res.Terminal)
	}
}

func TestRun_InsufficientFundsWhenPriorityFeePushesOverBalance(t *testing.T) {
	// Passes the pre-quote balance floor (base fee + ATA rent + safety
	// buffer = 7_049_280) but not once the decided priority fee (50_000
	// lamports for this notional/ratio) is added on top.
	p := &Pipeline{
		RPC:    &fakeRPC{balance: 7_060_000, tokenBase: 1_000_000, tokenDec: 6},
		Swap:   &fakeSwap{},
		Mode:   "live",
		Wallet: "wallet1",
	}
	in := Intent{InputMint: string(chain.SOLMint), OutputMint: "SomeMint", RequestedAmount: 1000, NotionalSOL: 0.01}
	res := p.Run(context.Background(), in, defaultFeeParams())
	if res.Terminal != TerminalInsufficientFunds {
		t.Fatalf("terminal = %s, want insufficient_funds", res.Terminal)
	}
	if res.State != StateFeeDecided {
		t.Errorf("state = %s, want FeeDecided", res.State)
	}
}
