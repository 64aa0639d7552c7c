// Package storage is the durable persistence boundary behind the Ledger,
// Rotation log, exited-token cache, and Risk circuit (spec §6 storage
// schema), generalized from the teacher's three-table SQLite layout
// (positions/trades/signals in the original internal/storage/db.go) into
// the eight tables the full domain stack needs, on the same
// modernc.org/sqlite pure-Go driver and WAL/busy-timeout pragmas.
package storage

import (
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"github.com/cstahmer1/spotagent/internal/chain"
	"github.com/cstahmer1/spotagent/internal/ledger"
	"github.com/cstahmer1/spotagent/internal/risk"
	"github.com/cstahmer1/spotagent/internal/rotation"
	"github.com/cstahmer1/spotagent/internal/slots"
)

// DB wraps the SQLite connection and implements ledger.Store plus the
// storage surface for the rest of the core.
type DB struct {
	db *sql.DB
}

// NewDB opens (creating if absent) the SQLite database at path, applying
// the WAL/synchronous/busy-timeout pragmas and the full schema.
func NewDB(path string) (*DB, error) {
	dsn := path
	if !strings.Contains(path, "?") {
		dsn += "?"
	} else {
		dsn += "&"
	}
	dsn += "_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}

	if err := createTables(db); err != nil {
		return nil, err
	}

	log.Info().Str("path", path).Msg("database initialized")
	return &DB{db: db}, nil
}

func createTables(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS lots (
		id TEXT PRIMARY KEY,
		mint TEXT NOT NULL,
		acquired_at INTEGER NOT NULL,
		quantity_remaining TEXT NOT NULL,
		quantity_original TEXT NOT NULL,
		unit_cost_usd TEXT NOT NULL,
		source TEXT NOT NULL,
		closed INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_lots_mint ON lots(mint);

	CREATE TABLE IF NOT EXISTS position_tracking (
		mint TEXT PRIMARY KEY,
		entry_time INTEGER NOT NULL,
		entry_price_usd TEXT NOT NULL,
		total_tokens TEXT NOT NULL,
		last_price_usd TEXT NOT NULL,
		peak_price_usd TEXT NOT NULL,
		slot_type TEXT NOT NULL,
		source TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS trades (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		mint TEXT NOT NULL,
		side TEXT NOT NULL,
		quantity TEXT NOT NULL,
		proceeds_usd TEXT NOT NULL,
		consumed_cost_basis_usd TEXT NOT NULL,
		realized_pnl_usd TEXT NOT NULL,
		tx_sig TEXT NOT NULL,
		timestamp INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_trades_timestamp ON trades(timestamp);

	CREATE TABLE IF NOT EXISTS rotation_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		action TEXT NOT NULL,
		mint TEXT NOT NULL,
		replacement_mint TEXT NOT NULL DEFAULT '',
		reason_code TEXT NOT NULL,
		rank_delta REAL NOT NULL,
		timestamp INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_rotation_log_timestamp ON rotation_log(timestamp);

	CREATE TABLE IF NOT EXISTS exited_token_cache (
		mint TEXT PRIMARY KEY,
		last_exit_time INTEGER NOT NULL,
		last_exit_reason TEXT NOT NULL,
		cooldown_until INTEGER NOT NULL,
		times_reentered INTEGER NOT NULL DEFAULT 0,
		last_known_price REAL NOT NULL DEFAULT 0,
		last_known_signal REAL NOT NULL DEFAULT 0,
		last_known_liquidity REAL NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS risk_state (
		day_key TEXT PRIMARY KEY,
		baseline_equity_usd REAL NOT NULL,
		current_equity_usd REAL NOT NULL,
		turnover_usd REAL NOT NULL,
		paused INTEGER NOT NULL DEFAULT 0,
		pause_reason TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS tick_telemetry (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		tick_started_at INTEGER NOT NULL,
		duration_ms INTEGER NOT NULL,
		deadline_exceeded INTEGER NOT NULL DEFAULT 0,
		positions_count INTEGER NOT NULL DEFAULT 0,
		candidates_count INTEGER NOT NULL DEFAULT 0,
		action TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_tick_telemetry_started ON tick_telemetry(tick_started_at);
	`

	_, err := db.Exec(schema)
	return err
}

// Close closes the underlying database handle.
func (d *DB) Close() error {
	return d.db.Close()
}

// --- ledger.Store ---

// UpsertLot persists a single Lot, implementing ledger.Store.
func (d *DB) UpsertLot(l *ledger.Lot) error {
	closed := 0
	if l.Closed {
		closed = 1
	}
	_, err := d.db.Exec(`
		INSERT INTO lots (id, mint, acquired_at, quantity_remaining, quantity_original, unit_cost_usd, source, closed)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			quantity_remaining = excluded.quantity_remaining,
			closed = excluded.closed`,
		l.ID.String(), string(l.Mint), l.AcquiredAt.UnixMilli(),
		l.QuantityRemaining.String(), l.QuantityOriginal.String(), l.UnitCostUSD.String(),
		string(l.Source), closed)
	return err
}

// DeleteLotsForMint removes every lot row for mint, implementing ledger.Store.
func (d *DB) DeleteLotsForMint(mint chain.Mint) error {
	_, err := d.db.Exec("DELETE FROM lots WHERE mint = ?", string(mint))
	return err
}

// UpsertPosition persists a PositionTracking row, implementing ledger.Store.
func (d *DB) UpsertPosition(p *ledger.PositionTracking) error {
	_, err := d.db.Exec(`
		INSERT OR REPLACE INTO position_tracking
		(mint, entry_time, entry_price_usd, total_tokens, last_price_usd, peak_price_usd, slot_type, source)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		string(p.Mint), p.EntryTime.UnixMilli(), p.EntryPriceUSD.String(), p.TotalTokens.String(),
		p.LastPriceUSD.String(), p.PeakPriceUSD.String(), string(p.SlotType), string(p.Source))
	return err
}

// DeletePosition removes a PositionTracking row, implementing ledger.Store.
func (d *DB) DeletePosition(mint chain.Mint) error {
	_, err := d.db.Exec("DELETE FROM position_tracking WHERE mint = ?", string(mint))
	return err
}

// LoadLots reconstructs every non-closed lot on startup (spec §4.J step 0
// cold-start reload).
func (d *DB) LoadLots() ([]*ledger.Lot, error) {
	rows, err := d.db.Query(`
		SELECT id, mint, acquired_at, quantity_remaining, quantity_original, unit_cost_usd, source, closed
		FROM lots WHERE closed = 0`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*ledger.Lot
	for rows.Next() {
		var idStr, mint, qtyRem, qtyOrig, unitCost, source string
		var acquiredAtMs int64
		var closed int
		if err := rows.Scan(&idStr, &mint, &acquiredAtMs, &qtyRem, &qtyOrig, &unitCost, &source, &closed); err != nil {
			return nil, err
		}
		id, err := uuid.Parse(idStr)
		if err != nil {
			return nil, err
		}
		qr, _ := decimal.NewFromString(qtyRem)
		qo, _ := decimal.NewFromString(qtyOrig)
		uc, _ := decimal.NewFromString(unitCost)
		out = append(out, &ledger.Lot{
			ID:                id,
			Mint:              chain.Mint(mint),
			AcquiredAt:        time.UnixMilli(acquiredAtMs),
			QuantityRemaining: qr,
			QuantityOriginal:  qo,
			UnitCostUSD:       uc,
			Source:            chain.Source(source),
			Closed:            closed != 0,
		})
	}
	return out, rows.Err()
}

// LoadPositions reconstructs every PositionTracking row on startup.
func (d *DB) LoadPositions() ([]*ledger.PositionTracking, error) {
	rows, err := d.db.Query(`
		SELECT mint, entry_time, entry_price_usd, total_tokens, last_price_usd, peak_price_usd, slot_type, source
		FROM position_tracking`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*ledger.PositionTracking
	for rows.Next() {
		var mint, entryPrice, totalTokens, lastPrice, peakPrice, slotType, source string
		var entryTimeMs int64
		if err := rows.Scan(&mint, &entryTimeMs, &entryPrice, &totalTokens, &lastPrice, &peakPrice, &slotType, &source); err != nil {
			return nil, err
		}
		ep, _ := decimal.NewFromString(entryPrice)
		tt, _ := decimal.NewFromString(totalTokens)
		lp, _ := decimal.NewFromString(lastPrice)
		pp, _ := decimal.NewFromString(peakPrice)
		out = append(out, &ledger.PositionTracking{
			Mint:          chain.Mint(mint),
			EntryTime:     time.UnixMilli(entryTimeMs),
			EntryPriceUSD: ep,
			TotalTokens:   tt,
			LastPriceUSD:  lp,
			PeakPriceUSD:  pp,
			SlotType:      chain.SlotType(slotType),
			Source:        chain.Source(source),
		})
	}
	return out, rows.Err()
}

// --- trades ---

// Trade is a completed buy or sell leg, logged after a SellResult or a
// filled buy (spec §6 trades table).
type Trade struct {
	Mint                 chain.Mint
	Side                 chain.Side
	Quantity             decimal.Decimal
	ProceedsUSD          decimal.Decimal
	ConsumedCostBasisUSD decimal.Decimal
	RealizedPnLUSD       decimal.Decimal
	TxSig                chain.Sig
	Timestamp            time.Time
}

// InsertTrade logs a completed trade.
func (d *DB) InsertTrade(t Trade) error {
	_, err := d.db.Exec(`
		INSERT INTO trades (mint, side, quantity, proceeds_usd, consumed_cost_basis_usd, realized_pnl_usd, tx_sig, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		string(t.Mint), string(t.Side), t.Quantity.String(), t.ProceedsUSD.String(),
		t.ConsumedCostBasisUSD.String(), t.RealizedPnLUSD.String(), string(t.TxSig), t.Timestamp.UnixMilli())
	return err
}

// RecentTrades returns the most recent trades, newest first.
func (d *DB) RecentTrades(limit int) ([]Trade, error) {
	rows, err := d.db.Query(`
		SELECT mint, side, quantity, proceeds_usd, consumed_cost_basis_usd, realized_pnl_usd, tx_sig, timestamp
		FROM trades ORDER BY timestamp DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Trade
	for rows.Next() {
		var mint, side, qty, proceeds, consumed, realized, sig string
		var ts int64
		if err := rows.Scan(&mint, &side, &qty, &proceeds, &consumed, &realized, &sig, &ts); err != nil {
			return nil, err
		}
		q, _ := decimal.NewFromString(qty)
		p, _ := decimal.NewFromString(proceeds)
		c, _ := decimal.NewFromString(consumed)
		r, _ := decimal.NewFromString(realized)
		out = append(out, Trade{
			Mint: chain.Mint(mint), Side: chain.Side(side), Quantity: q, ProceedsUSD: p,
			ConsumedCostBasisUSD: c, RealizedPnLUSD: r, TxSig: chain.Sig(sig), Timestamp: time.UnixMilli(ts),
		})
	}
	return out, rows.Err()
}

// --- rotation_log ---

// InsertRotationLog appends one rotation.Decision row verbatim (spec §4.F
// "logged verbatim into a rotation_log record").
func (d *DB) InsertRotationLog(dec rotation.Decision, at time.Time) error {
	_, err := d.db.Exec(`
		INSERT INTO rotation_log (action, mint, replacement_mint, reason_code, rank_delta, timestamp)
		VALUES (?, ?, ?, ?, ?, ?)`,
		string(dec.Action), string(dec.Mint), string(dec.ReplacementMint), dec.ReasonCode, dec.RankDelta, at.UnixMilli())
	return err
}

// RecentRotationLog returns the most recent rotation decisions, newest first.
func (d *DB) RecentRotationLog(limit int) ([]rotation.Decision, error) {
	rows, err := d.db.Query(`
		SELECT action, mint, replacement_mint, reason_code, rank_delta
		FROM rotation_log ORDER BY timestamp DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []rotation.Decision
	for rows.Next() {
		var action, mint, replacement, reason string
		var rankDelta float64
		if err := rows.Scan(&action, &mint, &replacement, &reason, &rankDelta); err != nil {
			return nil, err
		}
		out = append(out, rotation.Decision{
			Action: rotation.Action(action), Mint: chain.Mint(mint),
			ReplacementMint: chain.Mint(replacement), ReasonCode: reason, RankDelta: rankDelta,
		})
	}
	return out, rows.Err()
}

// --- exited_token_cache ---

// UpsertExitedTokenCache persists a slots.CacheEntry (spec §4.I re-entry cache).
func (d *DB) UpsertExitedTokenCache(e slots.CacheEntry) error {
	_, err := d.db.Exec(`
		INSERT OR REPLACE INTO exited_token_cache
		(mint, last_exit_time, last_exit_reason, cooldown_until, times_reentered, last_known_price, last_known_signal, last_known_liquidity)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		string(e.Mint), e.LastExitTime.UnixMilli(), string(e.LastExitReason), e.CooldownUntil.UnixMilli(),
		e.TimesReentered, e.LastKnownPrice, e.LastKnownSignal, e.LastKnownLiquidity)
	return err
}

// LoadExitedTokenCache reconstructs the full re-entry cooldown cache on startup.
func (d *DB) LoadExitedTokenCache() ([]slots.CacheEntry, error) {
	rows, err := d.db.Query(`
		SELECT mint, last_exit_time, last_exit_reason, cooldown_until, times_reentered, last_known_price, last_known_signal, last_known_liquidity
		FROM exited_token_cache`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []slots.CacheEntry
	for rows.Next() {
		var mint, reason string
		var lastExitMs, cooldownMs int64
		var timesReentered int
		var price, signal, liquidity float64
		if err := rows.Scan(&mint, &lastExitMs, &reason, &cooldownMs, &timesReentered, &price, &signal, &liquidity); err != nil {
			return nil, err
		}
		out = append(out, slots.CacheEntry{
			Mint: chain.Mint(mint), LastExitTime: time.UnixMilli(lastExitMs),
			LastExitReason: slots.ExitReason(reason), CooldownUntil: time.UnixMilli(cooldownMs),
			TimesReentered: timesReentered, LastKnownPrice: price, LastKnownSignal: signal, LastKnownLiquidity: liquidity,
		})
	}
	return out, rows.Err()
}

// --- risk_state ---

// UpsertRiskState persists a risk.State row keyed by day_key.
func (d *DB) UpsertRiskState(s risk.State) error {
	_, err := d.db.Exec(`
		INSERT OR REPLACE INTO risk_state (day_key, baseline_equity_usd, current_equity_usd, turnover_usd, paused, pause_reason)
		VALUES (?, ?, ?, ?, ?, ?)`,
		s.DayKey, s.BaselineEquityUSD, s.CurrentEquityUSD, s.TurnoverUSD, boolToInt(s.Paused), string(s.PauseReason))
	return err
}

// LoadRiskState returns the persisted risk.State for dayKey, if any.
func (d *DB) LoadRiskState(dayKey string) (risk.State, bool, error) {
	var s risk.State
	var paused int
	err := d.db.QueryRow(`
		SELECT day_key, baseline_equity_usd, current_equity_usd, turnover_usd, paused, pause_reason
		FROM risk_state WHERE day_key = ?`, dayKey).
		Scan(&s.DayKey, &s.BaselineEquityUSD, &s.CurrentEquityUSD, &s.TurnoverUSD, &paused, &s.PauseReason)
	if err == sql.ErrNoRows {
		return risk.State{}, false, nil
	}
	if err != nil {
		return risk.State{}, false, err
	}
	s.Paused = paused != 0
	return s, true, nil
}

// --- settings ---

// SetSetting persists an arbitrary string key/value config-patch audit row.
func (d *DB) SetSetting(key, value string) error {
	_, err := d.db.Exec("INSERT OR REPLACE INTO settings (key, value) VALUES (?, ?)", key, value)
	return err
}

// GetSetting returns a setting's value, or ok=false if unset.
func (d *DB) GetSetting(key string) (string, bool, error) {
	var value string
	err := d.db.QueryRow("SELECT value FROM settings WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

// --- tick_telemetry ---

// TickTelemetry is one tick's latency/outcome record (spec §4.J deadline
// handling), kept for operator review (read back by tools/ticklog).
type TickTelemetry struct {
	TickStartedAt    time.Time
	DurationMs       int64
	DeadlineExceeded bool
	PositionsCount   int
	CandidatesCount  int
	Action           string
}

// InsertTickTelemetry logs one tick's timing and outcome.
func (d *DB) InsertTickTelemetry(t TickTelemetry) error {
	_, err := d.db.Exec(`
		INSERT INTO tick_telemetry (tick_started_at, duration_ms, deadline_exceeded, positions_count, candidates_count, action)
		VALUES (?, ?, ?, ?, ?, ?)`,
		t.TickStartedAt.UnixMilli(), t.DurationMs, boolToInt(t.DeadlineExceeded), t.PositionsCount, t.CandidatesCount, t.Action)
	return err
}

// RecentTickTelemetry returns the most recent tick records, newest first.
func (d *DB) RecentTickTelemetry(limit int) ([]TickTelemetry, error) {
	rows, err := d.db.Query(`
		SELECT tick_started_at, duration_ms, deadline_exceeded, positions_count, candidates_count, action
		FROM tick_telemetry ORDER BY tick_started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TickTelemetry
	for rows.Next() {
		var startedMs, durationMs int64
		var deadlineExceeded, positionsCount, candidatesCount int
		var action string
		if err := rows.Scan(&startedMs, &durationMs, &deadlineExceeded, &positionsCount, &candidatesCount, &action); err != nil {
			return nil, err
		}
		out = append(out, TickTelemetry{
			TickStartedAt: time.UnixMilli(startedMs), DurationMs: durationMs,
			DeadlineExceeded: deadlineExceeded != 0, PositionsCount: positionsCount,
			CandidatesCount: candidatesCount, Action: action,
		})
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Now returns the current Unix millisecond timestamp.
func Now() int64 {
	return time.Now().UnixMilli()
}
