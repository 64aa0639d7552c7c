// Package execution drives a single swap intent through the pipeline of
// spec §4.D: Requested → Preflighted → Quoted → FeeDecided → (Skipped |
// Built → Simulated → (Sent | SimulationFailed)). It is grounded on the
// teacher's internal/trading.Executor (executeBuy/executeSell) for the
// overall shape and on internal/blockchain/errors.go's ParseTxError for the
// custom-program-error decoding idiom, generalized into a closed set of
// named simulation errors instead of free-text classification.
package execution

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/cstahmer1/spotagent/internal/chain"
	"github.com/cstahmer1/spotagent/internal/corerr"
	"github.com/cstahmer1/spotagent/internal/feegov"
)

// State is a pipeline state in the spec §4.D machine.
type State string

const (
	StateRequested  State = "Requested"
	StatePreflighted State = "Preflighted"
	StateQuoted     State = "Quoted"
	StateFeeDecided State = "FeeDecided"
	StateBuilt      State = "Built"
	StateSimulated  State = "Simulated"
)

// Terminal is one of the exhaustive terminal outcomes (spec §4.D).
type Terminal string

const (
	TerminalSent             Terminal = "sent"
	TerminalPaper            Terminal = "paper"
	TerminalInsufficientFunds Terminal = "insufficient_funds"
	TerminalSimulationFailed Terminal = "simulation_failed"
	TerminalError            Terminal = "error"
)

// knownSimErrors maps custom program error codes to names (spec §4.D Simulate).
var knownSimErrors = map[int]string{
	6000: "EmptyRoute",
	6001: "SlippageToleranceExceeded",
	6002: "ZeroInAmount",
	6003: "ZeroOutAmount",
	6024: "InsufficientFunds",
}

// Intent is a single requested swap leg, before lane/side/urgency inference.
type Intent struct {
	Mint            chain.Mint
	InputMint       string
	OutputMint      string
	RequestedAmount uint64 // base units of InputMint
	StrategyTag     string
	MetaHighUrgency bool
	MetaScout       bool
	IsUSDCToSOL     bool
	NotionalSOL     float64
	Attempt         int
	SlippageBps     int
}

// TradeContext is the fully inferred context used downstream (spec §4.D).
type TradeContext struct {
	Lane    chain.Lane
	Side    chain.Side
	Urgency chain.Urgency
}

// InferContext derives lane/side/urgency from the raw intent (spec §4.D
// Intent→context inference).
func InferContext(in Intent) TradeContext {
	lane := chain.LaneCore
	tagLower := strings.ToLower(in.StrategyTag)
	if strings.Contains(tagLower, "scout") || strings.Contains(tagLower, "autonomous") || in.MetaScout {
		lane = chain.LaneScout
	}

	side := chain.SideSell
	if in.InputMint == string(chain.SOLMint) {
		side = chain.SideBuy
	}

	urgency := chain.UrgencyNormal
	if side == chain.SideSell ||
		strings.Contains(tagLower, "exit") || strings.Contains(tagLower, "stop") || strings.Contains(tagLower, "trailing") ||
		in.MetaHighUrgency {
		urgency = chain.UrgencyHigh
	}

	return TradeContext{Lane: lane, Side: side, Urgency: urgency}
}

// PreflightResult carries the balance/clamp math of spec §4.D.
type PreflightResult struct {
	Balance        uint64
	Decimals       uint8
	MaxUsable      uint64
	ClampedAmount  uint64
	RequiredLamports uint64
	SOLBalance     uint64
}

// Result is the pipeline's final record, including forensic detail.
type Result struct {
	Terminal  Terminal
	Reason    string
	State     State
	Preflight *PreflightResult
	Quote     *chain.Quote
	Fee       *feegov.Decision
	SimErr    string
	Err       error
}

const fallbackDecimals = 6

// Pipeline wires the external adapters the state machine calls into.
type Pipeline struct {
	RPC    chain.ChainRPC
	Swap   chain.QuoteSwapper
	Mode   string // "paper" or "live"
	Wallet string // signer pubkey
}

// Run drives a single intent through the full pipeline.
func (p *Pipeline) Run(ctx context.Context, in Intent, fp feegov.Params) Result {
	state := StateRequested
	tc := InferContext(in)

	pf, res, ok := p.preflight(ctx, in)
	if !ok {
		return res
	}
	state = StatePreflighted

	quote, res, ok := p.quote(ctx, in, pf.ClampedAmount)
	if !ok {
		res.Preflight = pf
		res.State = state
		return res
	}
	state = StateQuoted

	fd := p.decideFee(in, tc, fp)
	state = StateFeeDecided

	feeInclusiveRequired := pf.RequiredLamports + fd.MaxLamports
	if pf.SOLBalance < feeInclusiveRequired {
		return Result{
			Terminal:  TerminalInsufficientFunds,
			Reason:    "sol_balance_below_required",
			State:     state,
			Preflight: pf,
			Quote:     quote,
			Fee:       &fd,
			Err: corerr.New(corerr.KindInsufficientFunds, "sol balance below fee-inclusive required lamports",
				map[string]any{"have": pf.SOLBalance, "need": feeInclusiveRequired}),
		}
	}

	if fd.SkipRecommended && !in.IsUSDCToSOL {
		return Result{
			Terminal:  TerminalError,
			Reason:    "fee_ratio_guard_exceeded",
			State:     state,
			Preflight: pf,
			Quote:     quote,
			Fee:       &fd,
			Err: corerr.New(corerr.KindFeeGuardExceeded, "effective fee ratio exceeds hard guard",
				map[string]any{"ratio": fd.EffectiveRatio}),
		}
	}

	if p.Mode == "paper" {
		if tc.Side == chain.SideSell {
			logFailsafeSell(in, quote, "paper")
		}
		return Result{
			Terminal:  TerminalPaper,
			Reason:    "paper_mode",
			State:     state,
			Preflight: pf,
			Quote:     quote,
			Fee:       &fd,
		}
	}

	built, err := p.Swap.SwapTransaction(ctx, quote, p.Wallet, fd.MaxLamports, string(fd.PriorityLevel))
	if err != nil {
		return Result{
			Terminal:  TerminalError,
			Reason:    "swap_build_failed",
			State:     state,
			Preflight: pf,
			Quote:     quote,
			Fee:       &fd,
			Err:       corerr.Wrap(corerr.KindUpstreamUnavailable, "swap transaction build failed", err, nil),
		}
	}
	state = StateBuilt

	sim, err := p.RPC.SimulateTransaction(ctx, built)
	if err != nil {
		return Result{
			Terminal:  TerminalError,
			Reason:    "simulate_rpc_failed",
			State:     state,
			Preflight: pf,
			Quote:     quote,
			Fee:       &fd,
			Err:       corerr.Wrap(corerr.KindUpstreamUnavailable, "simulate_transaction rpc call failed", err, nil),
		}
	}
	if sim != nil && sim.Err != "" {
		name := decodeSimError(sim.Err)
		state = StateSimulated
		return Result{
			Terminal:  TerminalSimulationFailed,
			Reason:    name,
			State:     state,
			Preflight: pf,
			Quote:     quote,
			Fee:       &fd,
			SimErr:    sim.Err,
			Err:       corerr.New(corerr.KindSimulationFailed, name, map[string]any{"raw": sim.Err}),
		}
	}
	state = StateSimulated

	sig, err := p.RPC.SendVersionedTransaction(ctx, built)
	if err != nil {
		return Result{
			Terminal:  TerminalError,
			Reason:    "send_failed",
			State:     state,
			Preflight: pf,
			Quote:     quote,
			Fee:       &fd,
			Err:       corerr.Wrap(corerr.KindUpstreamUnavailable, "send_versioned_transaction failed", err, nil),
		}
	}

	if tc.Side == chain.SideSell {
		logFailsafeSell(in, quote, "sent")
	}

	return Result{
		Terminal:  TerminalSent,
		Reason:    string(sig),
		State:     state,
		Preflight: pf,
		Quote:     quote,
		Fee:       &fd,
	}
}

func (p *Pipeline) preflight(ctx context.Context, in Intent) (*PreflightResult, Result, bool) {
	baseUnits, decimals, err := p.RPC.GetTokenBalance(ctx, p.Wallet, in.InputMint)
	if err != nil {
		return nil, Result{
			Terminal: TerminalError,
			Reason:   "token_balance_read_failed",
			State:    StateRequested,
			Err:      corerr.Wrap(corerr.KindUpstreamUnavailable, "get_token_balance failed", err, nil),
		}, false
	}
	if decimals == 0 {
		decimals = fallbackDecimals
	}

	solBalance, err := p.RPC.GetBalance(ctx, p.Wallet)
	if err != nil {
		return nil, Result{
			Terminal: TerminalError,
			Reason:   "sol_balance_read_failed",
			State:    StateRequested,
			Err:      corerr.Wrap(corerr.KindUpstreamUnavailable, "get_balance failed", err, nil),
		}, false
	}

	dustBuffer := chain.LotDustBufferBaseUnits
	maxUsable := uint64(0)
	if baseUnits > dustBuffer {
		maxUsable = baseUnits - dustBuffer
	}

	clamped := in.RequestedAmount
	if clamped > maxUsable {
		clamped = maxUsable
	}

	// priority fee isn't known yet at this point, so this check omits it;
	// Run re-checks pf.RequiredLamports+fd.MaxLamports once FeeDecided.
	required := chain.BaseFeeLamports + chain.ATARentLamports + chain.SafetyBufferLamports

	pf := &PreflightResult{
		Balance:          baseUnits,
		Decimals:         decimals,
		MaxUsable:        maxUsable,
		ClampedAmount:    clamped,
		RequiredLamports: required,
		SOLBalance:       solBalance,
	}

	if solBalance < required {
		return pf, Result{
			Terminal:  TerminalInsufficientFunds,
			Reason:    "sol_balance_below_required",
			State:     StatePreflighted,
			Preflight: pf,
			Err: corerr.New(corerr.KindInsufficientFunds, "sol balance below required lamports",
				map[string]any{"have": solBalance, "need": required}),
		}, false
	}
	if clamped == 0 {
		return pf, Result{
			Terminal:  TerminalInsufficientFunds,
			Reason:    "clamped_amount_zero",
			State:     StatePreflighted,
			Preflight: pf,
			Err: corerr.New(corerr.KindInsufficientToken, "clamped token amount is zero",
				map[string]any{"have": baseUnits, "requested": in.RequestedAmount}),
		}, false
	}

	return pf, Result{}, true
}

func (p *Pipeline) quote(ctx context.Context, in Intent, clampedAmount uint64) (*chain.Quote, Result, bool) {
	q, err := p.Swap.Quote(ctx, chain.QuoteRequest{
		InputMint:            in.InputMint,
		OutputMint:           in.OutputMint,
		AmountBaseUnits:      clampedAmount,
		SlippageBps:          in.SlippageBps,
		RestrictIntermediate: true,
	})
	if err != nil {
		return nil, Result{
			Terminal: TerminalError,
			Reason:   "quote_failed",
			State:    StatePreflighted,
			Err:      corerr.Wrap(corerr.KindQuoteRejected, "aggregator quote failed", err, nil),
		}, false
	}
	return q, Result{}, true
}

func (p *Pipeline) decideFee(in Intent, tc TradeContext, fp feegov.Params) feegov.Decision {
	if in.IsUSDCToSOL {
		return feegov.Decision{
			MaxLamports:   chain.FallbackPriorityFee(fp.RiskProfile),
			PriorityLevel: feegov.PriorityHigh,
			ReasonTrail:   []string{"usdc_to_sol_bypass"},
		}
	}
	attempt := in.Attempt
	if attempt < 1 {
		attempt = 1
	}
	return feegov.Decide(fp, feegov.TradeContext{
		Lane:        tc.Lane,
		Side:        tc.Side,
		NotionalSOL: in.NotionalSOL,
		Urgency:     tc.Urgency,
		Attempt:     attempt,
	})
}

// decodeSimError maps a raw simulation error string to a named failure
// (spec §4.D Simulate), generalized from blockchain.ParseTxError's
// string-pattern approach into decoding the numeric custom program code.
func decodeSimError(raw string) string {
	idx := strings.Index(raw, "custom program error: ")
	if idx < 0 {
		idx = strings.Index(raw, "0x")
	}
	code := extractErrorCode(raw)
	if code == 0 {
		return "UnknownError"
	}
	if name, ok := knownSimErrors[code]; ok {
		return name
	}
	return fmt.Sprintf("UnknownError_%d", code)
}

func extractErrorCode(raw string) int {
	hexIdx := strings.Index(raw, "0x")
	if hexIdx < 0 {
		return 0
	}
	end := hexIdx + 2
	for end < len(raw) && isHex(raw[end]) {
		end++
	}
	if end == hexIdx+2 {
		return 0
	}
	n, err := strconv.ParseInt(raw[hexIdx+2:end], 16, 64)
	if err != nil {
		return 0
	}
	return int(n)
}

func isHex(b byte) bool {
	return (b >= '0' && b <= '9') || (b >= 'a' && b <= 'f') || (b >= 'A' && b <= 'F')
}

// logFailsafeSell structurally logs every sell that reaches sent or paper,
// per spec §4.D Fail-safe sell logging, so accounting can be audited even
// if downstream persistence fails.
func logFailsafeSell(in Intent, q *chain.Quote, mode string) {
	ev := log.Info().
		Str("marker", "SELL_EXECUTED").
		Str("mint", string(in.Mint)).
		Str("strategy", in.StrategyTag).
		Str("mode", mode)
	if q != nil {
		ev = ev.Uint64("in_amount", q.InAmount).Uint64("out_amount", q.OutAmount)
	}
	ev.Msg("failsafe sell record")
}
