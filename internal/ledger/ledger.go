// Package ledger is the authoritative FIFO lot book and cost-basis engine
// (spec §4.B). It is the single mutator of lots and PositionTracking rows;
// every other component only ever reads a snapshot (spec §5 shared-resource
// policy). Grounded on the teacher's internal/trading.PositionTracker
// (mutex-guarded map keyed by mint, optional DB-backed persistence,
// load-on-start) generalized from a single mutable position record to an
// immutable FIFO lot list plus a derived PositionTracking row.
package ledger

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/cstahmer1/spotagent/internal/chain"
	"github.com/cstahmer1/spotagent/internal/corerr"
	"github.com/cstahmer1/spotagent/internal/moneymath"
)

// Lot is one immutable buy record, consumed FIFO on sells (spec §3.1).
type Lot struct {
	ID                uuid.UUID
	Mint              chain.Mint
	AcquiredAt        time.Time
	QuantityRemaining decimal.Decimal
	QuantityOriginal  decimal.Decimal
	UnitCostUSD       decimal.Decimal
	Source            chain.Source
	Closed            bool
}

// PositionTracking is one mutable row per held mint (spec §3.1).
type PositionTracking struct {
	Mint          chain.Mint
	EntryTime     time.Time
	EntryPriceUSD decimal.Decimal
	TotalTokens   decimal.Decimal
	LastPriceUSD  decimal.Decimal
	PeakPriceUSD  decimal.Decimal
	SlotType      chain.SlotType
	Source        chain.Source
}

// CostBasis is the aggregation returned by get_cost_basis (spec §4.B).
type CostBasis struct {
	TotalQuantityOpen decimal.Decimal
	TotalCostBasisUSD decimal.Decimal
	AvgCostUSD        decimal.Decimal
}

// SellResult is the return of record_sell (spec §4.B).
type SellResult struct {
	ConsumedCostBasisUSD decimal.Decimal
	RealizedPnLUSD       decimal.Decimal
}

// CoverageResult is the outcome of the per-tick coverage check (spec §4.B).
type CoverageResult struct {
	Mint              chain.Mint
	EntryPriceForRank  decimal.Decimal // price the Ranker should use this tick
	Quarantined       bool
	ScheduledRemoval  bool // wallet_qty == 0: ledger treats the mint as exited
	Ratio             decimal.Decimal
}

// Store is the durable persistence boundary the Ledger writes through.
// Mutations are pure in-memory and only suspend at this boundary (spec §5).
type Store interface {
	UpsertLot(l *Lot) error
	DeleteLotsForMint(mint chain.Mint) error
	UpsertPosition(p *PositionTracking) error
	DeletePosition(mint chain.Mint) error
}

// Ledger is the single mutator of lots and PositionTracking (spec §5).
type Ledger struct {
	mu        sync.RWMutex
	lots      map[chain.Mint][]*Lot // ascending acquired_at, tie-broken by ID
	positions map[chain.Mint]*PositionTracking
	store     Store

	// halted is set on a LedgerInvariantBreach (spec §7): RecordBuy and
	// RecordSell refuse to mutate until restart. UpdatePrice, PromoteToCore
	// and RemovePosition do not check it and still apply.
	halted bool
}

// New creates an empty Ledger. A nil store runs purely in-memory (tests).
func New(store Store) *Ledger {
	return &Ledger{
		lots:      make(map[chain.Mint][]*Lot),
		positions: make(map[chain.Mint]*PositionTracking),
		store:     store,
	}
}

// Restore rehydrates an empty Ledger from previously persisted lots and
// positions, grounded on the teacher's PositionTracker.loadFromDB startup
// path. It bypasses RecordBuy/RecordSell since these rows already reflect
// committed mutations; the store is not re-written.
func (l *Ledger) Restore(lots []*Lot, positions []*PositionTracking) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, lot := range lots {
		l.lots[lot.Mint] = sortedInsert(l.lots[lot.Mint], lot)
	}
	for _, p := range positions {
		l.positions[p.Mint] = p
	}
}

// Halted reports whether a prior LedgerInvariantBreach has put the ledger
// into read-only mode (spec §7).
func (l *Ledger) Halted() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.halted
}

func (l *Ledger) halt() {
	l.halted = true
}

// sortedInsert inserts a lot keeping ascending acquired_at order, tie-broken
// by ID (spec §5 ordering guarantees).
func sortedInsert(lots []*Lot, lot *Lot) []*Lot {
	i := len(lots)
	for i > 0 {
		prev := lots[i-1]
		if prev.AcquiredAt.Before(lot.AcquiredAt) {
			break
		}
		if prev.AcquiredAt.Equal(lot.AcquiredAt) && prev.ID.String() < lot.ID.String() {
			break
		}
		i--
	}
	lots = append(lots, nil)
	copy(lots[i+1:], lots[i:])
	lots[i] = lot
	return lots
}

// RecordBuy appends a new lot and upserts PositionTracking, recomputing the
// volume-weighted entry price over unclosed lots (spec §4.B record_buy).
func (l *Ledger) RecordBuy(mint chain.Mint, qty decimal.Decimal, usdValue decimal.Decimal, unitPriceUSD decimal.Decimal, source chain.Source, at time.Time) *Lot {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.halted {
		return nil
	}

	qty = moneymath.Qty(qty)
	lot := &Lot{
		ID:                uuid.New(),
		Mint:              mint,
		AcquiredAt:        at,
		QuantityRemaining: qty,
		QuantityOriginal:  qty,
		UnitCostUSD:       moneymath.USD(unitPriceUSD),
		Source:            source,
	}
	l.lots[mint] = sortedInsert(l.lots[mint], lot)
	if l.store != nil {
		l.store.UpsertLot(lot)
	}

	pos := l.positions[mint]
	avgCost, totalQty := l.unclosedAverage(mint)
	if pos == nil {
		pos = &PositionTracking{
			Mint:          mint,
			EntryTime:     at,
			EntryPriceUSD: avgCost,
			TotalTokens:   totalQty,
			LastPriceUSD:  unitPriceUSD,
			PeakPriceUSD:  unitPriceUSD,
			SlotType:      chain.SlotScout,
			Source:        source,
		}
	} else {
		pos.EntryPriceUSD = avgCost
		pos.TotalTokens = totalQty
	}
	l.positions[mint] = pos
	if l.store != nil {
		l.store.UpsertPosition(pos)
	}
	return lot
}

// unclosedAverage returns the volume-weighted average unit cost and total
// open quantity over every non-closed lot for mint. Caller holds the lock.
func (l *Ledger) unclosedAverage(mint chain.Mint) (avg decimal.Decimal, totalQty decimal.Decimal) {
	var pairs [][2]decimal.Decimal
	for _, lot := range l.lots[mint] {
		if lot.Closed || lot.QuantityRemaining.IsZero() {
			continue
		}
		pairs = append(pairs, [2]decimal.Decimal{lot.QuantityRemaining, lot.UnitCostUSD})
		totalQty = totalQty.Add(lot.QuantityRemaining)
	}
	return moneymath.AvgCost(pairs), moneymath.Qty(totalQty)
}

// RecordSell consumes lots oldest-first, closing any lot whose remaining
// quantity reaches zero, and returns the consumed cost basis and realized
// P&L (spec §4.B record_sell). Realized P&L = proceeds - consumed cost
// basis, summed exactly (spec §8 invariant).
func (l *Ledger) RecordSell(mint chain.Mint, qty decimal.Decimal, proceedsUSD decimal.Decimal, at time.Time) (*SellResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.halted {
		return nil, errLedgerHalted()
	}

	qty = moneymath.Qty(qty)
	remaining := qty
	consumedCost := decimal.Zero

	lots := l.lots[mint]
	for _, lot := range lots {
		if remaining.LessThanOrEqual(decimal.Zero) {
			break
		}
		if lot.Closed || lot.QuantityRemaining.IsZero() {
			continue
		}
		take := lot.QuantityRemaining
		if take.GreaterThan(remaining) {
			take = remaining
		}
		consumedCost = consumedCost.Add(take.Mul(lot.UnitCostUSD))
		lot.QuantityRemaining = moneymath.Qty(lot.QuantityRemaining.Sub(take))
		remaining = moneymath.Qty(remaining.Sub(take))
		if lot.QuantityRemaining.IsZero() {
			lot.Closed = true
		}
		if l.store != nil {
			l.store.UpsertLot(lot)
		}
	}

	consumedCost = moneymath.USD(consumedCost)
	realized := moneymath.USD(proceedsUSD.Sub(consumedCost))

	if pos, ok := l.positions[mint]; ok {
		_, totalQty := l.unclosedAverage(mint)
		pos.TotalTokens = totalQty
		if l.store != nil {
			l.store.UpsertPosition(pos)
		}
	}

	return &SellResult{ConsumedCostBasisUSD: consumedCost, RealizedPnLUSD: realized}, nil
}

// GetCostBasis aggregates over every non-closed lot for mint (spec §4.B).
func (l *Ledger) GetCostBasis(mint chain.Mint) CostBasis {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.costBasisLocked(mint)
}

func (l *Ledger) costBasisLocked(mint chain.Mint) CostBasis {
	var totalCost decimal.Decimal
	avg, totalQty := l.unclosedAverage(mint)
	for _, lot := range l.lots[mint] {
		if lot.Closed || lot.QuantityRemaining.IsZero() {
			continue
		}
		totalCost = totalCost.Add(lot.QuantityRemaining.Mul(lot.UnitCostUSD))
	}
	return CostBasis{
		TotalQuantityOpen: totalQty,
		TotalCostBasisUSD: moneymath.USD(totalCost),
		AvgCostUSD:        avg,
	}
}

// GetBatchCostBasis is the batched equivalent for tick-time ranking
// (spec §4.B get_batch_cost_basis).
func (l *Ledger) GetBatchCostBasis(mints []chain.Mint) map[chain.Mint]CostBasis {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make(map[chain.Mint]CostBasis, len(mints))
	for _, m := range mints {
		out[m] = l.costBasisLocked(m)
	}
	return out
}

// WalletDiscoveryIngest synthesizes a single lot for a token seen in the
// wallet above threshold without tracking (spec §4.B wallet_discovery_ingest).
func (l *Ledger) WalletDiscoveryIngest(mint chain.Mint, holding decimal.Decimal, discoveredPriceUSD decimal.Decimal, earliestOnChainTime *time.Time, now time.Time) *Lot {
	acquired := now
	if earliestOnChainTime != nil {
		acquired = *earliestOnChainTime
	}
	usdValue := holding.Mul(discoveredPriceUSD)
	lot := l.RecordBuy(mint, holding, usdValue, discoveredPriceUSD, chain.SourceWalletDiscovery, acquired)
	l.mu.Lock()
	if pos := l.positions[mint]; pos != nil {
		pos.Source = chain.SourceWalletDiscovery
		pos.SlotType = chain.SlotScout
	}
	l.mu.Unlock()
	return lot
}

// Position returns a snapshot copy of the tracked position for mint, or nil.
func (l *Ledger) Position(mint chain.Mint) *PositionTracking {
	l.mu.RLock()
	defer l.mu.RUnlock()
	pos, ok := l.positions[mint]
	if !ok {
		return nil
	}
	cp := *pos
	return &cp
}

// Positions returns snapshots of every tracked position.
func (l *Ledger) Positions() []*PositionTracking {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]*PositionTracking, 0, len(l.positions))
	for _, p := range l.positions {
		cp := *p
		out = append(out, &cp)
	}
	return out
}

// UpdatePrice updates last/peak price for a held mint each tick (spec §4.B
// peak price: peak = max(peak, last)).
func (l *Ledger) UpdatePrice(mint chain.Mint, price decimal.Decimal) {
	l.mu.Lock()
	defer l.mu.Unlock()
	pos, ok := l.positions[mint]
	if !ok {
		return
	}
	pos.LastPriceUSD = price
	if price.GreaterThan(pos.PeakPriceUSD) {
		pos.PeakPriceUSD = price
	}
	if l.store != nil {
		l.store.UpsertPosition(pos)
	}
}

// PromoteToCore flips slot_type to core and resets peak_price to the current
// price, per spec §4.B "reset to current price on promotion to core" and
// the §8 round-trip law `update_position_slot(mint, core, reset_peak=price)`.
func (l *Ledger) PromoteToCore(mint chain.Mint, currentPrice decimal.Decimal) {
	l.mu.Lock()
	defer l.mu.Unlock()
	pos, ok := l.positions[mint]
	if !ok {
		return
	}
	pos.SlotType = chain.SlotCore
	pos.PeakPriceUSD = currentPrice
	pos.LastPriceUSD = currentPrice
	if l.store != nil {
		l.store.UpsertPosition(pos)
	}
}

// RemovePosition deletes the tracked position and closes any remaining open
// lots for the mint (used on full exit and on wallet_qty==0 reconciliation,
// spec §4.B item 3 and §4.G full-exit rules).
func (l *Ledger) RemovePosition(mint chain.Mint) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, lot := range l.lots[mint] {
		if !lot.Closed {
			lot.Closed = true
			lot.QuantityRemaining = decimal.Zero
			if l.store != nil {
				l.store.UpsertLot(lot)
			}
		}
	}
	delete(l.positions, mint)
	if l.store != nil {
		l.store.DeletePosition(mint)
	}
}

// coverageBounds are the inclusive healthy-ratio window (spec §4.B).
const (
	coverageLow  = 0.5
	coverageHigh = 1.5
)

// CheckCoverage implements the §4.B coverage invariant and quarantine
// policy. Sniper-source lots are excluded from fifo_qty (Open Question 1,
// resolved in DESIGN.md and SPEC_FULL.md §4.B): sniper positions are
// skipped entirely during position sync (spec §4.J step 3), so letting a
// hidden sniper lot inflate fifo_qty would quarantine a bot-owned position
// for a reason the bot is explicitly told to ignore.
func (l *Ledger) CheckCoverage(mint chain.Mint, walletQty decimal.Decimal, currentPrice decimal.Decimal) CoverageResult {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if walletQty.IsZero() {
		return CoverageResult{Mint: mint, ScheduledRemoval: true}
	}

	var fifoQty decimal.Decimal
	for _, lot := range l.lots[mint] {
		if lot.Closed || lot.Source == chain.SourceSniper {
			continue
		}
		fifoQty = fifoQty.Add(lot.QuantityRemaining)
	}

	pos := l.positions[mint]

	if fifoQty.IsZero() {
		// No bot-owned lots at all: fall back to tracking entry price if any.
		price := currentPrice
		if pos != nil && pos.EntryPriceUSD.GreaterThan(decimal.Zero) {
			price = pos.EntryPriceUSD
		}
		return CoverageResult{Mint: mint, EntryPriceForRank: price, Quarantined: true}
	}

	ratio := fifoQty.Div(walletQty)
	healthyRange := ratio.GreaterThanOrEqual(decimal.NewFromFloat(coverageLow)) && ratio.LessThanOrEqual(decimal.NewFromFloat(coverageHigh))

	if !healthyRange {
		price := currentPrice
		if pos != nil && pos.EntryPriceUSD.GreaterThan(decimal.Zero) {
			price = pos.EntryPriceUSD
		}
		return CoverageResult{Mint: mint, EntryPriceForRank: price, Quarantined: true, Ratio: ratio}
	}

	avgCost, _ := l.unclosedAverage(mint)
	result := CoverageResult{Mint: mint, EntryPriceForRank: avgCost, Ratio: ratio}

	if pos != nil && pos.EntryPriceUSD.GreaterThan(decimal.Zero) {
		deviation := avgCost.Sub(pos.EntryPriceUSD).Abs().Div(pos.EntryPriceUSD)
		if deviation.GreaterThan(decimal.NewFromFloat(0.5)) {
			result.Quarantined = true
		}
	}
	return result
}

// MarkInvariantBreach transitions the ledger into read-only mode following a
// LedgerInvariantBreach (spec §7: fatal, process pauses trading, continues
// serving read-only).
func (l *Ledger) MarkInvariantBreach() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.halt()
}

func errLedgerHalted() error {
	return corerr.New(corerr.KindLedgerInvariantBreach, "ledger halted after invariant breach, read-only", nil)
}
