package chain

import "context"

// SimResult is the outcome of simulating a built transaction before send.
type SimResult struct {
	Err  string
	Logs []string
}

// ChainRPC is the wallet/chain surface the core consumes, generalized from
// the teacher's internal/blockchain.RPCClient (internal/blockchain/rpc.go)
// into the narrow shape the execution pipeline actually calls.
type ChainRPC interface {
	GetBalance(ctx context.Context, owner string) (uint64, error)
	GetTokenBalance(ctx context.Context, owner, mint string) (baseUnits uint64, decimals uint8, err error)
	SimulateTransaction(ctx context.Context, tx string) (*SimResult, error)
	SendVersionedTransaction(ctx context.Context, tx string) (Sig, error)
}

// QuoteRequest mirrors the aggregator's quote request shape (spec §6).
type QuoteRequest struct {
	InputMint            string
	OutputMint           string
	AmountBaseUnits      uint64
	SlippageBps          int
	RestrictIntermediate bool
}

// Quote mirrors the aggregator's quote response shape (spec §6).
type Quote struct {
	InAmount       uint64
	OutAmount      uint64
	PriceImpactPct float64
	SlippageBps    int
	Raw            map[string]any
}

// QuoteSwapper is the aggregator surface the core consumes, generalized from
// the teacher's jupiter.Client (internal/jupiter/client.go).
type QuoteSwapper interface {
	Quote(ctx context.Context, req QuoteRequest) (*Quote, error)
	SwapTransaction(ctx context.Context, q *Quote, userPubkey string, feeLamports uint64, priorityLevel string) (string, error)
}

// PricePoint is a single market-data price observation.
type PricePoint struct {
	Mint  Mint
	Price float64
	Stale bool
}

// Candidate is a trending-token surface entry (spec §4.E candidate scoring).
type Candidate struct {
	Mint      Mint
	Liquidity float64
	Volume24h float64
	HolderCnt int
	IsNew     bool
}

// MarketData is the price/liquidity/trending surface the core consumes as an
// opaque TTL cache per spec §6 (stale values are acceptable, flagged not refused).
type MarketData interface {
	Price(ctx context.Context, mint Mint) (PricePoint, error)
	Liquidity(ctx context.Context, mint Mint) (float64, error)
	Trending(ctx context.Context) ([]Candidate, error)
}

// Signal is a signal-producer output for one mint (spec §6).
type Signal struct {
	Score  float64 // in [-1, +1]
	Regime Regime
}

// SignalProducer supplies per-mint scores/regimes on demand.
type SignalProducer interface {
	Signals(ctx context.Context, mints []Mint) (map[Mint]Signal, error)
}
