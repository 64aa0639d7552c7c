// Package orchestrator drives the single-threaded tick loop of spec §4.J:
// sync → rank → decide → execute, fanning the external reads out in
// parallel and joining them before any mutation happens. It is grounded on
// the teacher's internal/trading.Executor.Run loop (a single ticker driving
// monitorPositions + scanAndBuy in sequence), generalized from that
// two-phase loop into the eight-step sequence spec §4.J names, with the
// parallel phase rewritten onto golang.org/x/sync/errgroup for the
// structured-concurrency join the teacher's loop never needed.
package orchestrator

import (
	"context"
	"sort"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/cstahmer1/spotagent/internal/chain"
	"github.com/cstahmer1/spotagent/internal/config"
	"github.com/cstahmer1/spotagent/internal/corerr"
	"github.com/cstahmer1/spotagent/internal/execution"
	"github.com/cstahmer1/spotagent/internal/feegov"
	"github.com/cstahmer1/spotagent/internal/ledger"
	"github.com/cstahmer1/spotagent/internal/moneymath"
	"github.com/cstahmer1/spotagent/internal/ranker"
	"github.com/cstahmer1/spotagent/internal/risk"
	"github.com/cstahmer1/spotagent/internal/rotation"
	"github.com/cstahmer1/spotagent/internal/slots"
	"github.com/cstahmer1/spotagent/internal/universe"
)

// Deps bundles every external collaborator and internal component the
// orchestrator wires together for one tick.
type Deps struct {
	Config   *config.Manager
	Ledger   *ledger.Ledger
	Slots    *slots.Machine
	Risk     *risk.Circuit
	Universe *universe.Cache

	RPC     chain.ChainRPC
	Market  chain.MarketData
	Signals chain.SignalProducer
	Swapper chain.QuoteSwapper

	Wallet string
}

// Orchestrator owns the tick loop. It holds no domain state of its own —
// every mutation happens inside Ledger, Slots, Risk, or Universe — only the
// ramp-up tick counter RampCap needs (spec §4.E/§4.I "ticks_observed").
type Orchestrator struct {
	deps          Deps
	ticksObserved int
}

// New builds an Orchestrator over deps.
func New(deps Deps) *Orchestrator {
	return &Orchestrator{deps: deps}
}

// externalReads is the joined result of step 1's parallel fan-out.
type externalReads struct {
	solBalanceLamports uint64
	tokenBalances       map[chain.Mint]decimal.Decimal
	prices              map[chain.Mint]chain.PricePoint
	signals             map[chain.Mint]chain.Signal
	trending            []chain.Candidate
}

// TickResult is the outcome of one orchestrator pass, returned for logging
// and for the TUI/telemetry layers.
type TickResult struct {
	Decision         rotation.Decision
	CircuitTripped   bool
	PauseReason      risk.PauseReason
	PositionsCount   int
	CandidatesCount  int
	DeadlineExceeded bool
	Duration         time.Duration
	ExecResult       *execution.Result
	RiskState        risk.State
}

// Tick runs one full pass of spec §4.J's eight-step sequence under a single
// hard deadline of 2×loop_seconds; there is no separate soft deadline at
// loop_seconds, and DeadlineExceeded reports only the hard one.
func (o *Orchestrator) Tick(ctx context.Context, now time.Time) (TickResult, error) {
	started := time.Now()
	cfg := o.deps.Config.Get()

	hardDeadline := time.Duration(cfg.Execution.LoopSeconds*2) * time.Second
	tickCtx, cancel := context.WithTimeout(ctx, hardDeadline)
	defer cancel()

	positions := o.deps.Ledger.Positions()

	// Step 1: parallel external reads (wallet, prices, signals, trending).
	reads, err := o.gatherExternalReads(tickCtx, positions)
	deadlineExceeded := tickCtx.Err() != nil
	if err != nil {
		return TickResult{DeadlineExceeded: deadlineExceeded, Duration: time.Since(started)},
			corerr.Wrap(corerr.KindUpstreamUnavailable, "external read fan-out failed", err, nil)
	}

	// Step 2: reconcile lots against observed balances.
	coverage := o.reconcile(positions, reads, now)

	// Step 3: admit/evict universe membership.
	candidateMints := o.admitCandidates(reads, positions, now)

	// Step 4: rank held positions and admitted candidates.
	heldRanked, candidateRanked := o.rank(cfg, positions, coverage, reads, candidateMints, now)

	// Steps 5-6: risk circuit short-circuit, then the rotation decision.
	equity := o.equityUSD(positions, reads)
	riskState := o.deps.Risk.Observe(equity, 0, now)
	tripped, pauseReason := o.deps.Risk.Tripped()

	decision := rotation.Decide(
		tripped,
		heldRanked,
		candidateRanked,
		cfg.Risk.TakeProfitPct,
		o.promotionSignals(heldRanked),
		o.promotionParams(cfg, positions),
		o.guards(positions),
	)

	// Step 7: execute the selected action, if any.
	execResult := o.execute(tickCtx, cfg, decision, positions, reads, now)

	// Step 8: update slot assignments and peak prices.
	o.applySlotEffects(decision, positions, reads, now, cfg)

	o.ticksObserved++

	return TickResult{
		Decision:         decision,
		CircuitTripped:   tripped,
		PauseReason:      pauseReason,
		PositionsCount:   len(positions),
		CandidatesCount:  len(candidateRanked),
		DeadlineExceeded: deadlineExceeded,
		Duration:         time.Since(started),
		ExecResult:       execResult,
		RiskState:        riskState,
	}, nil
}

// gatherExternalReads performs step 1: wallet balances, prices, signals,
// and the trending-candidate surface, joined via errgroup so a single slow
// collaborator cannot serialize the whole tick.
func (o *Orchestrator) gatherExternalReads(ctx context.Context, positions []*ledger.PositionTracking) (externalReads, error) {
	reads := externalReads{
		tokenBalances: make(map[chain.Mint]decimal.Decimal, len(positions)),
		prices:        make(map[chain.Mint]chain.PricePoint, len(positions)),
		signals:       make(map[chain.Mint]chain.Signal, len(positions)),
	}

	mints := make([]chain.Mint, 0, len(positions))
	for _, p := range positions {
		mints = append(mints, p.Mint)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		bal, err := o.deps.RPC.GetBalance(gctx, o.deps.Wallet)
		if err != nil {
			return err
		}
		reads.solBalanceLamports = bal
		return nil
	})

	for _, m := range mints {
		m := m
		g.Go(func() error {
			base, decimals, err := o.deps.RPC.GetTokenBalance(gctx, o.deps.Wallet, string(m))
			if err != nil {
				return err
			}
			reads.tokenBalances[m] = decimal.New(int64(base), -int32(decimals))
			return nil
		})
		g.Go(func() error {
			p, err := o.deps.Market.Price(gctx, m)
			if err != nil {
				return err
			}
			reads.prices[m] = p
			return nil
		})
	}

	g.Go(func() error {
		sigs, err := o.deps.Signals.Signals(gctx, mints)
		if err != nil {
			return err
		}
		reads.signals = sigs
		return nil
	})

	g.Go(func() error {
		trending, err := o.deps.Market.Trending(gctx)
		if err != nil {
			return err
		}
		reads.trending = trending
		return nil
	})

	// The SOL price only feeds equity; a failed lookup leaves it unknown
	// rather than failing the tick.
	var solPrice chain.PricePoint
	solPriceOK := false
	g.Go(func() error {
		if p, err := o.deps.Market.Price(gctx, chain.SOLMint); err == nil {
			solPrice, solPriceOK = p, true
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return reads, err
	}
	if solPriceOK {
		reads.prices[chain.SOLMint] = solPrice
	}
	return reads, nil
}

// reconcile runs step 2: CheckCoverage for every held mint, applying
// scheduled removal and surfacing the quarantine set ranking needs.
func (o *Orchestrator) reconcile(positions []*ledger.PositionTracking, reads externalReads, now time.Time) map[chain.Mint]ledger.CoverageResult {
	out := make(map[chain.Mint]ledger.CoverageResult, len(positions))
	for _, p := range positions {
		walletQty := reads.tokenBalances[p.Mint]
		price := decimal.NewFromFloat(reads.prices[p.Mint].Price)
		cov := o.deps.Ledger.CheckCoverage(p.Mint, walletQty, price)
		out[p.Mint] = cov
		if cov.ScheduledRemoval {
			o.deps.Ledger.RemovePosition(p.Mint)
		}
	}
	return out
}

// admitCandidates runs step 3: filters the trending surface down to mints
// the Active Universe rule admits and the re-entry cache isn't cooling down.
func (o *Orchestrator) admitCandidates(reads externalReads, positions []*ledger.PositionTracking, now time.Time) []chain.Candidate {
	held := make(map[chain.Mint]bool, len(positions))
	for _, p := range positions {
		held[p.Mint] = true
	}

	memberships := make(map[chain.Mint]universe.Membership, len(reads.trending))
	mints := make([]chain.Mint, 0, len(reads.trending))
	byMint := make(map[chain.Mint]chain.Candidate, len(reads.trending))
	for _, c := range reads.trending {
		mints = append(mints, c.Mint)
		byMint[c.Mint] = c
		memberships[c.Mint] = universe.Membership{Held: held[c.Mint]}
	}

	admitted := universe.FilterCandidates(mints, memberships)

	out := make([]chain.Candidate, 0, len(admitted))
	for _, m := range admitted {
		if ok, _ := o.deps.Universe.Admit(m, now); !ok {
			continue
		}
		out = append(out, byMint[m])
	}
	return out
}

// rank runs step 4: ScoreHeld for every position (using the coverage-gated
// entry price) and ScoreCandidate for every admitted candidate.
func (o *Orchestrator) rank(
	cfg *config.Config,
	positions []*ledger.PositionTracking,
	coverage map[chain.Mint]ledger.CoverageResult,
	reads externalReads,
	candidates []chain.Candidate,
	now time.Time,
) ([]ranker.RankedItem, []ranker.RankedItem) {
	w := ranker.Weights{
		Signal: cfg.Ranking.SignalWeight, Momentum: cfg.Ranking.MomentumWeight,
		TimeDecay: cfg.Ranking.TimeDecayWeight, Trailing: cfg.Ranking.TrailingWeight,
		Freshness: cfg.Ranking.FreshnessWeight, Quality: cfg.Ranking.QualityWeight,
		StalePenalty: cfg.Ranking.StalePenalty, TrailingPenalty: cfg.Ranking.TrailingStopPenalty,
	}
	th := ranker.Thresholds{
		TrailingStopBasePct: cfg.Exit.TrailingStopBasePct, TrailingStopTightPct: cfg.Exit.TrailingStopTightPct,
		TrailingStopProfitThresholdPct: cfg.Exit.TrailingStopProfitThresholdPct,
		StalePositionHours:             cfg.Exit.StalePositionHours, StaleExitHours: cfg.Exit.StaleExitHours,
		StalePnLBandPct: cfg.Exit.StalePnLBandPct, ScoutStopLossPct: cfg.Exit.ScoutStopLossPct,
		LossExitPct: cfg.Exit.LossExitPct, ScoutUnderperformGraceMinutes: cfg.Exit.ScoutUnderperformGraceMinutes,
	}

	held := make([]ranker.RankedItem, 0, len(positions))
	for _, p := range positions {
		cov := coverage[p.Mint]
		price := reads.prices[p.Mint].Price
		entry := p.EntryPriceUSD
		if cov.EntryPriceForRank.GreaterThan(decimal.Zero) {
			entry = cov.EntryPriceForRank
		}
		pnlUSD := decimal.NewFromFloat(price).Sub(entry).Mul(p.TotalTokens)
		pnlPct := 0.0
		if entry.GreaterThan(decimal.Zero) {
			pnlPct, _ = decimal.NewFromFloat(price).Sub(entry).Div(entry).Float64()
		}
		sig := reads.signals[p.Mint]

		held = append(held, ranker.ScoreHeld(ranker.HeldInput{
			Mint: p.Mint, SignalScore: sig.Score, Regime: sig.Regime,
			HoursHeld:       now.Sub(p.EntryTime).Hours(),
			PeakPriceUSD:    mustFloat(p.PeakPriceUSD), CurrentPriceUSD: price,
			PnLPct: pnlPct, PnLUSD: moneymath.USD(pnlUSD), SlotType: p.SlotType,
			Quarantined: cov.Quarantined,
		}, w, th))
	}

	candRanked := make([]ranker.RankedItem, 0, len(candidates))
	for _, c := range candidates {
		sig := reads.signals[c.Mint]
		item, ok := ranker.ScoreCandidate(ranker.CandidateInput{
			Mint: c.Mint, SignalScore: sig.Score, Regime: sig.Regime,
			LiquidityUSD: c.Liquidity, Volume24hUSD: c.Volume24h, HolderCount: c.HolderCnt,
		}, w, cfg.Universe.ScannerMinLiquidity)
		if ok {
			candRanked = append(candRanked, item)
		}
	}

	sort.Slice(held, func(i, j int) bool { return held[i].Rank > held[j].Rank })
	sort.Slice(candRanked, func(i, j int) bool { return candRanked[i].Rank > candRanked[j].Rank })
	return held, candRanked
}

func mustFloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}

// equityUSD sums SOL balance (converted via the SOL price point, if known)
// and every open position's current mark for the day's risk circuit input.
func (o *Orchestrator) equityUSD(positions []*ledger.PositionTracking, reads externalReads) float64 {
	total := 0.0
	if sol, ok := reads.prices[chain.SOLMint]; ok {
		total += sol.Price * float64(reads.solBalanceLamports) / 1e9
	}
	for _, p := range positions {
		price := reads.prices[p.Mint].Price
		qty := mustFloat(p.TotalTokens)
		total += price * qty
	}
	return total
}

// promotionSignals derives the continuation checks from the already-scored
// held items: above-short-MA from positive momentum-adjacent rank, and
// day-top-rank from holding the best rank this tick (every item tied for the
// best rank is marked). Whale net-flow is an external collaborator outside
// this repo's scope and is always false here; the whale gate is skipped only
// when promotion.whale_confirm_enabled is off.
func (o *Orchestrator) promotionSignals(held []ranker.RankedItem) map[chain.Mint]rotation.PromotionSignal {
	out := make(map[chain.Mint]rotation.PromotionSignal, len(held))
	best := -1.0
	for _, it := range held {
		if it.Rank > best {
			best = it.Rank
		}
	}
	for _, it := range held {
		out[it.Mint] = rotation.PromotionSignal{
			AboveShortMA: it.Rank > 0,
			IsDayTopRank: it.Rank == best,
		}
	}
	return out
}

func (o *Orchestrator) promotionParams(cfg *config.Config, positions []*ledger.PositionTracking) rotation.PromotionParams {
	coreFull := !o.deps.Slots.CanPromote(positions, false)
	return rotation.PromotionParams{
		MinPnLPct: cfg.Promotion.MinPnLPct, MinSignalScore: cfg.Promotion.MinSignalScore,
		DelayMinutes: cfg.Promotion.DelayMinutes, CoreSlotsFull: coreFull,
		WhaleConfirmEnabled: cfg.Promotion.WhaleConfirmEnabled,
	}
}

// guards gates an opportunity-cost rotation on a free scout slot being
// available for the replacement candidate (spec §4.F step 7's "free
// slot/fee/liquidity guards", injected so rotation stays agnostic of slot
// internals).
func (o *Orchestrator) guards(positions []*ledger.PositionTracking) rotation.GuardsFn {
	return func(held, candidate chain.Mint) bool {
		return o.deps.Slots.CanOpenScout(positions)
	}
}

// execute runs step 7: build and run a swap Intent for the selected action,
// and on a terminal success mutate the Ledger through record_sell. Every
// action executed here sells the held mint into SOL, so record_buy is not
// called from this path.
func (o *Orchestrator) execute(ctx context.Context, cfg *config.Config, dec rotation.Decision, positions []*ledger.PositionTracking, reads externalReads, now time.Time) *execution.Result {
	if dec.Action == rotation.ActionNone || dec.Action == rotation.ActionCircuitPause || dec.Action == rotation.ActionPromotion {
		return nil
	}

	pipeline := &execution.Pipeline{RPC: o.deps.RPC, Swap: o.deps.Swapper, Mode: cfg.Execution.Mode, Wallet: o.deps.Wallet}

	var pos *ledger.PositionTracking
	for _, p := range positions {
		if p.Mint == dec.Mint {
			pos = p
			break
		}
	}
	if pos == nil {
		return nil
	}

	intent := execution.Intent{
		Mint: dec.Mint, InputMint: string(dec.Mint), OutputMint: string(chain.SOLMint),
		RequestedAmount: uint64(mustFloat(pos.TotalTokens)),
		StrategyTag:     string(dec.Action), MetaScout: pos.SlotType == chain.SlotScout,
		SlippageBps: cfg.Execution.MaxSlippageBps, Attempt: 1,
	}

	fp := feegov.Params{
		Enabled: cfg.FeeGov.Enabled, FeeRatioPerLegScout: cfg.FeeGov.FeeRatioPerLegScout,
		FeeRatioPerLegCore: cfg.FeeGov.FeeRatioPerLegCore, FeeSafetyHaircut: cfg.FeeGov.FeeSafetyHaircut,
		RetryLadderMultipliers: cfg.FeeGov.RetryLadderMultipliers,
		MinPriorityFeeLamportsEntry: cfg.FeeGov.MinPriorityFeeLamportsEntry, MinPriorityFeeLamportsExit: cfg.FeeGov.MinPriorityFeeLamportsExit,
		MaxPriorityFeeLamportsScout: cfg.FeeGov.MaxPriorityFeeLamportsScout, MaxPriorityFeeLamportsCore: cfg.FeeGov.MaxPriorityFeeLamportsCore,
		FeeRatioGuardEnabled: cfg.FeeGov.FeeRatioGuardEnabled, MaxFeeRatioHardPerLeg: cfg.FeeGov.MaxFeeRatioHardPerLeg,
		RiskProfile: cfg.ActiveRiskProfile,
	}

	res := pipeline.Run(ctx, intent, fp)

	if res.Terminal == execution.TerminalSent || res.Terminal == execution.TerminalPaper {
		price := decimal.NewFromFloat(reads.prices[dec.Mint].Price)
		proceeds := pos.TotalTokens.Mul(price)
		if _, err := o.deps.Ledger.RecordSell(dec.Mint, pos.TotalTokens, proceeds, now); err != nil {
			log.Error().Err(err).Str("mint", string(dec.Mint)).Msg("record_sell failed after execution")
		}
	}
	return &res
}

// applySlotEffects runs step 8: peak price refresh for every held mint,
// and the slot-machine side effects of the decision just taken.
func (o *Orchestrator) applySlotEffects(dec rotation.Decision, positions []*ledger.PositionTracking, reads externalReads, now time.Time, cfg *config.Config) {
	for _, p := range positions {
		if price, ok := reads.prices[p.Mint]; ok {
			o.deps.Ledger.UpdatePrice(p.Mint, decimal.NewFromFloat(price.Price))
		}
	}

	switch dec.Action {
	case rotation.ActionPromotion:
		if price, ok := reads.prices[dec.Mint]; ok {
			o.deps.Ledger.PromoteToCore(dec.Mint, decimal.NewFromFloat(price.Price))
		}
	case rotation.ActionTrailingStopExit, rotation.ActionStaleTimeoutExit, rotation.ActionStaleRotationReplace,
		rotation.ActionScoutStopLossExit, rotation.ActionCoreLossExit, rotation.ActionScoutGraceExpired,
		rotation.ActionTakeProfitExit, rotation.ActionOpportunityCostRotate:
		reason := exitReasonFor(dec.Action)
		prior := 0
		if e, ok := o.deps.Universe.Entry(dec.Mint); ok {
			prior = e.TimesReentered
		}
		price := reads.prices[dec.Mint]
		sig := reads.signals[dec.Mint]
		entry := slots.FullExit(o.deps.Ledger, dec.Mint, reason, now, cfg.Universe.ScoutTokenCooldownHours,
			price.Price, sig.Score, price.Price, prior)
		o.deps.Universe.Record(entry)
	}
}

func exitReasonFor(a rotation.Action) slots.ExitReason {
	switch a {
	case rotation.ActionTrailingStopExit:
		return slots.ExitTrailingStop
	case rotation.ActionStaleTimeoutExit, rotation.ActionStaleRotationReplace:
		return slots.ExitStaleTimeout
	case rotation.ActionScoutStopLossExit:
		return slots.ExitStopLoss
	case rotation.ActionCoreLossExit:
		return slots.ExitLossExit
	case rotation.ActionScoutGraceExpired:
		return slots.ExitUnderperformGrace
	case rotation.ActionTakeProfitExit:
		return slots.ExitTakeProfit
	case rotation.ActionOpportunityCostRotate:
		return slots.ExitOpportunityRotation
	default:
		return slots.ExitDustClassification
	}
}
