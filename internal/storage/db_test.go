package storage

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/cstahmer1/spotagent/internal/chain"
	"github.com/cstahmer1/spotagent/internal/ledger"
	"github.com/cstahmer1/spotagent/internal/risk"
	"github.com/cstahmer1/spotagent/internal/rotation"
	"github.com/cstahmer1/spotagent/internal/slots"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := NewDB(path)
	if err != nil {
		t.Fatalf("NewDB failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestUpsertAndLoadLots_RoundTrips(t *testing.T) {
	db := openTestDB(t)
	lot := &ledger.Lot{
		ID:                uuid.New(),
		Mint:              "MintA",
		AcquiredAt:        time.Now().Truncate(time.Millisecond),
		QuantityRemaining: decimal.NewFromInt(100),
		QuantityOriginal:  decimal.NewFromInt(100),
		UnitCostUSD:       decimal.NewFromFloat(1.50),
		Source:            chain.SourceBot,
	}
	if err := db.UpsertLot(lot); err != nil {
		t.Fatalf("UpsertLot failed: %v", err)
	}

	loaded, err := db.LoadLots()
	if err != nil {
		t.Fatalf("LoadLots failed: %v", err)
	}
	if len(loaded) != 1 {
		t.Fatalf("loaded %d lots, want 1", len(loaded))
	}
	if !loaded[0].UnitCostUSD.Equal(decimal.NewFromFloat(1.50)) {
		t.Errorf("unit cost = %s, want 1.50", loaded[0].UnitCostUSD)
	}
}

func TestUpsertLot_ClosedLotExcludedFromLoad(t *testing.T) {
	db := openTestDB(t)
	lot := &ledger.Lot{
		ID: uuid.New(), Mint: "MintA", AcquiredAt: time.Now(),
		QuantityRemaining: decimal.Zero, QuantityOriginal: decimal.NewFromInt(10),
		UnitCostUSD: decimal.NewFromInt(1), Source: chain.SourceBot, Closed: true,
	}
	if err := db.UpsertLot(lot); err != nil {
		t.Fatalf("UpsertLot failed: %v", err)
	}
	loaded, err := db.LoadLots()
	if err != nil {
		t.Fatalf("LoadLots failed: %v", err)
	}
	if len(loaded) != 0 {
		t.Errorf("loaded %d closed lots, want 0", len(loaded))
	}
}

func TestUpsertAndLoadPositions_RoundTrips(t *testing.T) {
	db := openTestDB(t)
	pos := &ledger.PositionTracking{
		Mint: "MintB", EntryTime: time.Now().Truncate(time.Millisecond),
		EntryPriceUSD: decimal.NewFromFloat(2.00), TotalTokens: decimal.NewFromInt(50),
		LastPriceUSD: decimal.NewFromFloat(2.10), PeakPriceUSD: decimal.NewFromFloat(2.20),
		SlotType: chain.SlotCore, Source: chain.SourceBot,
	}
	if err := db.UpsertPosition(pos); err != nil {
		t.Fatalf("UpsertPosition failed: %v", err)
	}
	loaded, err := db.LoadPositions()
	if err != nil {
		t.Fatalf("LoadPositions failed: %v", err)
	}
	if len(loaded) != 1 || loaded[0].Mint != "MintB" {
		t.Fatalf("loaded = %+v, want one position for MintB", loaded)
	}

	if err := db.DeletePosition("MintB"); err != nil {
		t.Fatalf("DeletePosition failed: %v", err)
	}
	loaded, _ = db.LoadPositions()
	if len(loaded) != 0 {
		t.Errorf("loaded %d positions after delete, want 0", len(loaded))
	}
}

func TestInsertTrade_AppearsInRecentTrades(t *testing.T) {
	db := openTestDB(t)
	trade := Trade{
		Mint: "MintC", Side: chain.SideSell, Quantity: decimal.NewFromInt(10),
		ProceedsUSD: decimal.NewFromFloat(20), ConsumedCostBasisUSD: decimal.NewFromFloat(15),
		RealizedPnLUSD: decimal.NewFromFloat(5), TxSig: "sig1", Timestamp: time.Now(),
	}
	if err := db.InsertTrade(trade); err != nil {
		t.Fatalf("InsertTrade failed: %v", err)
	}
	recent, err := db.RecentTrades(10)
	if err != nil {
		t.Fatalf("RecentTrades failed: %v", err)
	}
	if len(recent) != 1 || !recent[0].RealizedPnLUSD.Equal(decimal.NewFromFloat(5)) {
		t.Errorf("recent trades = %+v, want one trade with pnl=5", recent)
	}
}

func TestInsertRotationLog_AppearsInRecent(t *testing.T) {
	db := openTestDB(t)
	dec := rotation.Decision{Action: rotation.ActionTrailingStopExit, Mint: "MintD", ReasonCode: "trail", RankDelta: -0.2}
	if err := db.InsertRotationLog(dec, time.Now()); err != nil {
		t.Fatalf("InsertRotationLog failed: %v", err)
	}
	recent, err := db.RecentRotationLog(5)
	if err != nil {
		t.Fatalf("RecentRotationLog failed: %v", err)
	}
	if len(recent) != 1 || recent[0].Action != rotation.ActionTrailingStopExit {
		t.Errorf("recent rotation log = %+v, want one trailing_stop_exit", recent)
	}
}

func TestExitedTokenCache_RoundTrips(t *testing.T) {
	db := openTestDB(t)
	now := time.Now().Truncate(time.Millisecond)
	entry := slots.CacheEntry{
		Mint: "MintE", LastExitTime: now, LastExitReason: slots.ExitStaleTimeout,
		CooldownUntil: now.Add(time.Hour), TimesReentered: 1, LastKnownPrice: 1.1,
	}
	if err := db.UpsertExitedTokenCache(entry); err != nil {
		t.Fatalf("UpsertExitedTokenCache failed: %v", err)
	}
	loaded, err := db.LoadExitedTokenCache()
	if err != nil {
		t.Fatalf("LoadExitedTokenCache failed: %v", err)
	}
	if len(loaded) != 1 || loaded[0].TimesReentered != 1 {
		t.Errorf("loaded cache = %+v, want one entry with times_reentered=1", loaded)
	}
}

func TestRiskState_RoundTrips(t *testing.T) {
	db := openTestDB(t)
	state := risk.State{
		DayKey: "2026-07-31", BaselineEquityUSD: 1000, CurrentEquityUSD: 950,
		TurnoverUSD: 100, Paused: true, PauseReason: risk.ReasonDailyDrawdown,
	}
	if err := db.UpsertRiskState(state); err != nil {
		t.Fatalf("UpsertRiskState failed: %v", err)
	}
	loaded, ok, err := db.LoadRiskState("2026-07-31")
	if err != nil || !ok {
		t.Fatalf("LoadRiskState failed: ok=%v err=%v", ok, err)
	}
	if loaded.PauseReason != risk.ReasonDailyDrawdown || !loaded.Paused {
		t.Errorf("loaded state = %+v, want paused daily_drawdown_breached", loaded)
	}
}

func TestSettings_RoundTrips(t *testing.T) {
	db := openTestDB(t)
	if err := db.SetSetting("active_risk_profile", "degen"); err != nil {
		t.Fatalf("SetSetting failed: %v", err)
	}
	v, ok, err := db.GetSetting("active_risk_profile")
	if err != nil || !ok || v != "degen" {
		t.Errorf("GetSetting = (%q, %v), want (degen, true)", v, ok)
	}
	_, ok, _ = db.GetSetting("missing")
	if ok {
		t.Error("expected ok=false for unset key")
	}
}

func TestTickTelemetry_RoundTrips(t *testing.T) {
	db := openTestDB(t)
	rec := TickTelemetry{
		TickStartedAt: time.Now().Truncate(time.Millisecond), DurationMs: 120,
		DeadlineExceeded: false, PositionsCount: 3, CandidatesCount: 7, Action: "none",
	}
	if err := db.InsertTickTelemetry(rec); err != nil {
		t.Fatalf("InsertTickTelemetry failed: %v", err)
	}
	recent, err := db.RecentTickTelemetry(5)
	if err != nil {
		t.Fatalf("RecentTickTelemetry failed: %v", err)
	}
	if len(recent) != 1 || recent[0].PositionsCount != 3 {
		t.Errorf("recent telemetry = %+v, want one record with positions_count=3", recent)
	}
}
