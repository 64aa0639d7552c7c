// Package config is the read-copy-update RuntimeConfig of spec §4.A: a flat,
// typed record loaded via viper with fsnotify hot-reload, generalized from
// the teacher's Manager (internal/config/config.go) by widening Config from
// a handful of trading knobs into the full domain-stack record the core
// consumes, while keeping the teacher's load/validate/Update/reload/
// OnConfigChange shape unchanged.
package config

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	"github.com/cstahmer1/spotagent/internal/corerr"
)

// Config holds all agent configuration. Ambient groups (Wallet, RPC,
// Blockchain, Storage, TUI, WebSocket, Jupiter, Telegram) are carried from
// the teacher largely unchanged; the domain groups below implement spec
// §4.A's ~120-field flat record, grouped for readability.
type Config struct {
	Wallet     WalletConfig     `mapstructure:"wallet"`
	RPC        RPCConfig        `mapstructure:"rpc"`
	Jupiter    JupiterConfig    `mapstructure:"jupiter"`
	Telegram   TelegramConfig   `mapstructure:"telegram"`
	Blockchain BlockchainConfig `mapstructure:"blockchain"`
	Storage    StorageConfig    `mapstructure:"storage"`
	TUI        TUIConfig        `mapstructure:"tui"`
	WebSocket  WebSocketConfig  `mapstructure:"websocket"`

	Execution  ExecutionConfig  `mapstructure:"execution"`
	Risk       RiskConfig       `mapstructure:"risk"`
	Slots      SlotsConfig      `mapstructure:"slots"`
	Ranking    RankingConfig    `mapstructure:"ranking"`
	Exit       ExitConfig       `mapstructure:"exit"`
	FeeGov     FeeGovConfig     `mapstructure:"fees"`
	Capital    CapitalConfig    `mapstructure:"capital"`
	Universe   UniverseConfig   `mapstructure:"universe"`
	Promotion  PromotionConfig  `mapstructure:"promotion"`
	Circuit    CircuitConfig    `mapstructure:"circuit"`

	// ActiveRiskProfile names the overlay applied last (spec §4.A RiskProfile).
	ActiveRiskProfile string `mapstructure:"active_risk_profile"`
}

type WalletConfig struct {
	PrivateKeyEnv string `mapstructure:"private_key_env"`
	BaseMint      string `mapstructure:"base_mint"`
}

type RPCConfig struct {
	ShyftURL          string `mapstructure:"shyft_url"`
	ShyftAPIKeyEnv    string `mapstructure:"shyft_api_key_env"`
	FallbackURL       string `mapstructure:"fallback_url"`
	FallbackAPIKeyEnv string `mapstructure:"fallback_api_key_env"`
}

type JupiterConfig struct {
	QuoteAPIURL    string `mapstructure:"quote_api_url"`
	SlippageBps    int    `mapstructure:"slippage_bps"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

type TelegramConfig struct {
	ListenPort int    `mapstructure:"listen_port"`
	ListenHost string `mapstructure:"listen_host"`
}

type BlockchainConfig struct {
	BlockhashRefreshMs    int `mapstructure:"blockhash_refresh_ms"`
	BlockhashTTLSeconds   int `mapstructure:"blockhash_ttl_seconds"`
	BalanceRefreshSeconds int `mapstructure:"balance_refresh_seconds"`
}

type StorageConfig struct {
	SQLitePath        string `mapstructure:"sqlite_path"`
	SignalsBufferSize int    `mapstructure:"signals_buffer_size"`
}

type TUIConfig struct {
	RefreshRateMs int `mapstructure:"refresh_rate_ms"`
	LogLines      int `mapstructure:"log_lines"`
}

type WebSocketConfig struct {
	ShyftURL         string `mapstructure:"shyft_url"`
	ReconnectDelayMs int    `mapstructure:"reconnect_delay_ms"`
	PingIntervalMs   int    `mapstructure:"ping_interval_ms"`
}

// ExecutionConfig is spec §4.A "Execution".
type ExecutionConfig struct {
	Mode             string  `mapstructure:"execution_mode"` // paper|live
	ModeLockedInDev  bool    `mapstructure:"execution_mode_locked_in_dev"`
	MaxSlippageBps   int     `mapstructure:"max_slippage_bps"`
	MaxSingleSwapSOL float64 `mapstructure:"max_single_swap_sol"`
	MinTradeUSD      float64 `mapstructure:"min_trade_usd"`
	LoopSeconds      float64 `mapstructure:"loop_seconds"`
}

// RiskConfig is spec §4.A "Risk".
type RiskConfig struct {
	MaxDailyDrawdownPct     float64 `mapstructure:"max_daily_drawdown_pct"`
	MaxPositionPctPerAsset  float64 `mapstructure:"max_position_pct_per_asset"`
	MaxTurnoverPctPerDay    float64 `mapstructure:"max_turnover_pct_per_day"`
	TakeProfitPct           float64 `mapstructure:"take_profit_pct"`
}

// SlotsConfig is spec §4.A "Slots".
type SlotsConfig struct {
	CoreSlots              int     `mapstructure:"core_slots"`
	ScoutSlots             int     `mapstructure:"scout_slots"`
	CorePositionPctTarget  float64 `mapstructure:"core_position_pct_target"`
	ScoutBuySOL            float64 `mapstructure:"scout_buy_sol"`
	MinSOLReserve          float64 `mapstructure:"min_sol_reserve"`
}

// RankingConfig is spec §4.A "Ranking weights".
type RankingConfig struct {
	SignalWeight        float64 `mapstructure:"ranking_signal_weight"`
	MomentumWeight      float64 `mapstructure:"ranking_momentum_weight"`
	TimeDecayWeight     float64 `mapstructure:"ranking_time_decay_weight"`
	TrailingWeight      float64 `mapstructure:"ranking_trailing_weight"`
	FreshnessWeight     float64 `mapstructure:"ranking_freshness_weight"`
	QualityWeight       float64 `mapstructure:"ranking_quality_weight"`
	StalePenalty        float64 `mapstructure:"ranking_stale_penalty"`
	TrailingStopPenalty float64 `mapstructure:"ranking_trailing_stop_penalty"`
}

// ExitConfig is spec §4.A "Exit".
type ExitConfig struct {
	TrailingStopBasePct            float64 `mapstructure:"trailing_stop_base_pct"`
	TrailingStopTightPct           float64 `mapstructure:"trailing_stop_tight_pct"`
	TrailingStopProfitThresholdPct float64 `mapstructure:"trailing_stop_profit_threshold_pct"`
	StalePositionHours             float64 `mapstructure:"stale_position_hours"`
	StaleExitHours                 float64 `mapstructure:"stale_exit_hours"`
	ScoutStopLossPct               float64 `mapstructure:"scout_stop_loss_pct"`
	ScoutTakeProfitPct             float64 `mapstructure:"scout_take_profit_pct"`
	ScoutTPMinHoldMinutes          float64 `mapstructure:"scout_tp_min_hold_minutes"`
	LossExitPct                    float64 `mapstructure:"loss_exit_pct"`
	StalePnLBandPct                float64 `mapstructure:"stale_pnl_band_pct"`
	ScoutUnderperformGraceMinutes  float64 `mapstructure:"scout_underperform_grace_minutes"`
}

// FeeGovConfig is spec §4.A "Fees" (consumed directly as feegov.Params).
type FeeGovConfig struct {
	Enabled                     bool      `mapstructure:"fee_governor_enabled"`
	FeeRatioPerLegScout         float64   `mapstructure:"fee_ratio_per_leg_scout"`
	FeeRatioPerLegCore          float64   `mapstructure:"fee_ratio_per_leg_core"`
	MinPriorityFeeLamportsEntry uint64    `mapstructure:"min_priority_fee_lamports_entry"`
	MinPriorityFeeLamportsExit  uint64    `mapstructure:"min_priority_fee_lamports_exit"`
	MaxPriorityFeeLamportsScout uint64    `mapstructure:"max_priority_fee_lamports_scout"`
	MaxPriorityFeeLamportsCore  uint64    `mapstructure:"max_priority_fee_lamports_core"`
	RetryLadderMultipliers      []float64 `mapstructure:"retry_ladder_multipliers"`
	FeeSafetyHaircut            float64   `mapstructure:"fee_safety_haircut"`
	MaxFeeRatioHardPerLeg       float64   `mapstructure:"max_fee_ratio_hard_per_leg"`
	FeeRatioGuardEnabled        bool      `mapstructure:"fee_ratio_guard_enabled"`
}

// CapitalConfig is spec §4.A "Capital".
type CapitalConfig struct {
	MaxTotalExposurePct   float64 `mapstructure:"cap_max_total_exposure_pct"`
	MaxCoreExposurePct    float64 `mapstructure:"cap_max_core_exposure_pct"`
	MaxScoutExposurePct   float64 `mapstructure:"cap_max_scout_exposure_pct"`
	MaxMintExposurePct    float64 `mapstructure:"cap_max_mint_exposure_pct"`
	RiskPerTradeScoutPct  float64 `mapstructure:"cap_risk_per_trade_scout_pct"`
	RiskPerTradeCorePct   float64 `mapstructure:"cap_risk_per_trade_core_pct"`
	ImpactPctEntry        float64 `mapstructure:"cap_impact_pct_entry"`
	ImpactPctExit         float64 `mapstructure:"cap_impact_pct_exit"`
	RoundtripMinRatioEntry float64 `mapstructure:"cap_roundtrip_min_ratio_entry"`
	RoundtripMinRatioExit  float64 `mapstructure:"cap_roundtrip_min_ratio_exit"`
	LiquiditySafetyHaircut float64 `mapstructure:"cap_liquidity_safety_haircut"`
	MinPoolTVLUSDEntry     float64 `mapstructure:"cap_min_pool_tvl_usd_entry"`
	MinPoolTVLUSDExit      float64 `mapstructure:"cap_min_pool_tvl_usd_exit"`
	ScoutSizeMinUSD        float64 `mapstructure:"cap_scout_size_min_usd"`
	ScoutSizeMaxUSD        float64 `mapstructure:"cap_scout_size_max_usd"`
	ScoutSizeBaseUSD       float64 `mapstructure:"cap_scout_size_base_usd"`
	ScoutSizeBaseEquity    float64 `mapstructure:"cap_scout_size_base_equity"`
}

// UniverseConfig is spec §4.A "Universe".
type UniverseConfig struct {
	ScoutTokenCooldownHours float64 `mapstructure:"scout_token_cooldown_hours"`
	ScannerMinLiquidity     float64 `mapstructure:"scanner_min_liquidity"`
	MinTicksForSignals      int     `mapstructure:"min_ticks_for_signals"`
	MinTicksForFullAlloc    int     `mapstructure:"min_ticks_for_full_alloc"`
	PreFullAllocMaxPct      float64 `mapstructure:"pre_full_alloc_max_pct"`
	DustThresholdUSD        float64 `mapstructure:"dust_threshold_usd"`
	MinPositionUSD          float64 `mapstructure:"min_position_usd"`
}

// PromotionConfig governs scout→core promotion eligibility (spec §4.F).
type PromotionConfig struct {
	MinPnLPct          float64 `mapstructure:"promotion_min_pnl_pct"`
	MinSignalScore     float64 `mapstructure:"promotion_min_signal_score"`
	DelayMinutes       float64 `mapstructure:"promotion_delay_minutes"`
	WhaleConfirmEnabled bool   `mapstructure:"whale_confirm_enabled"`
}

// CircuitConfig is spec §4.A "Circuit".
type CircuitConfig struct {
	ManualPause bool `mapstructure:"manual_pause"`
}

// Manager handles config loading, validation, and hot-reload.
type Manager struct {
	mu       sync.RWMutex
	config   *Config
	viper    *viper.Viper
	onChange func(*Config)
	env      string // "development" | "production"
}

// NewManager creates a new config manager, applying defaults and the
// active risk profile, then validating the merged result.
func NewManager(configPath string) (*Manager, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	applyDefaultsIfZero(&cfg)

	if cfg.ActiveRiskProfile != "" {
		if err := ApplyRiskProfile(&cfg, cfg.ActiveRiskProfile); err != nil {
			return nil, err
		}
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	m := &Manager{
		config: &cfg,
		viper:  v,
		env:    strings.ToLower(os.Getenv("APP_ENV")),
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		log.Info().Str("file", e.Name).Msg("config file changed, reloading")
		m.reload()
	})

	return m, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("blockchain.blockhash_refresh_ms", 100)
	v.SetDefault("blockchain.blockhash_ttl_seconds", 60)
	v.SetDefault("blockchain.balance_refresh_seconds", 5)
	v.SetDefault("jupiter.quote_api_url", "https://quote-api.jup.ag/v6/quote")
	v.SetDefault("jupiter.slippage_bps", 500)
	v.SetDefault("jupiter.timeout_seconds", 10)
	v.SetDefault("rpc.shyft_api_key_env", "SHYFT_API_KEY")
	v.SetDefault("rpc.fallback_api_key_env", "HELIUS_API_KEY")
	v.SetDefault("rpc.fallback_url", "https://api.mainnet-beta.solana.com")
	v.SetDefault("storage.sqlite_path", "./data/bot.db")
	v.SetDefault("storage.signals_buffer_size", 100)
	v.SetDefault("tui.refresh_rate_ms", 100)
	v.SetDefault("tui.log_lines", 100)
	v.SetDefault("wallet.private_key_env", "WALLET_PRIVATE_KEY")

	v.SetDefault("execution.execution_mode", "paper")
	v.SetDefault("execution.loop_seconds", 5.0)
	v.SetDefault("execution.max_slippage_bps", 500)
	v.SetDefault("risk.take_profit_pct", 0.5)
	v.SetDefault("slots.core_slots", 5)
	v.SetDefault("slots.scout_slots", 10)
	v.SetDefault("fees.retry_ladder_multipliers", []float64{1.0, 1.5, 2.0, 3.0})
	v.SetDefault("fees.fee_safety_haircut", 0.85)
	v.SetDefault("universe.min_ticks_for_full_alloc", 10)
	v.SetDefault("universe.pre_full_alloc_max_pct", 0.25)
}

// applyDefaultsIfZero catches any zero-value fields viper's unmarshal left
// unset because the source YAML omitted the group entirely.
func applyDefaultsIfZero(cfg *Config) {
	if cfg.Jupiter.QuoteAPIURL == "" {
		cfg.Jupiter.QuoteAPIURL = "https://quote-api.jup.ag/v6/quote"
	}
	if cfg.Storage.SQLitePath == "" {
		cfg.Storage.SQLitePath = "./data/bot.db"
	}
	if cfg.Execution.Mode == "" {
		cfg.Execution.Mode = "paper"
	}
	if cfg.Execution.LoopSeconds == 0 {
		cfg.Execution.LoopSeconds = 5.0
	}
	if len(cfg.FeeGov.RetryLadderMultipliers) == 0 {
		cfg.FeeGov.RetryLadderMultipliers = []float64{1.0, 1.5, 2.0, 3.0}
	}
}

// Get returns the current config snapshot (thread-safe read-copy-update
// reader side; spec §4.A "get() → RuntimeConfig returns a consistent
// snapshot").
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cfg := *m.config
	return &cfg
}

// SetOnChange registers a callback for config changes.
func (m *Manager) SetOnChange(fn func(*Config)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onChange = fn
}

// Update validates and applies a patch function, then hot-swaps the config
// atomically and persists it (spec §4.A "update(patch) → Result").
func (m *Manager) Update(fn func(*Config)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	patched := *m.config
	fn(&patched)

	if patched.Execution.Mode == "live" && m.env == "development" && patched.Execution.ModeLockedInDev {
		return corerr.New(corerr.KindConfigValidation,
			"execution_mode cannot be promoted to live outside production while locked", nil)
	}

	if err := Validate(&patched); err != nil {
		return err
	}

	m.config = &patched
	m.persist()

	if err := m.viper.WriteConfig(); err != nil {
		return corerr.Wrap(corerr.KindPersistence, "failed to write config file", err, nil)
	}

	if m.onChange != nil {
		m.onChange(m.config)
	}
	return nil
}

// persist mirrors the in-memory config back into viper's key space before
// WriteConfig, following the teacher's explicit per-field Set() pattern.
func (m *Manager) persist() {
	m.viper.Set("execution.execution_mode", m.config.Execution.Mode)
	m.viper.Set("execution.max_slippage_bps", m.config.Execution.MaxSlippageBps)
	m.viper.Set("execution.loop_seconds", m.config.Execution.LoopSeconds)
	m.viper.Set("risk.max_daily_drawdown_pct", m.config.Risk.MaxDailyDrawdownPct)
	m.viper.Set("risk.take_profit_pct", m.config.Risk.TakeProfitPct)
	m.viper.Set("slots.core_slots", m.config.Slots.CoreSlots)
	m.viper.Set("slots.scout_slots", m.config.Slots.ScoutSlots)
	m.viper.Set("circuit.manual_pause", m.config.Circuit.ManualPause)
}

func (m *Manager) reload() {
	m.mu.Lock()
	defer m.mu.Unlock()

	var cfg Config
	if err := m.viper.Unmarshal(&cfg); err != nil {
		log.Error().Err(err).Msg("failed to unmarshal config on reload")
		return
	}
	applyDefaultsIfZero(&cfg)

	if err := Validate(&cfg); err != nil {
		log.Error().Err(err).Msg("reloaded config failed validation, keeping prior config")
		return
	}

	m.config = &cfg
	if m.onChange != nil {
		m.onChange(&cfg)
	}
}

// GetPrivateKey loads private key from environment.
func (m *Manager) GetPrivateKey() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return os.Getenv(m.config.Wallet.PrivateKeyEnv)
}

// GetShyftAPIKey loads Shyft API key from environment.
func (m *Manager) GetShyftAPIKey() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return os.Getenv(m.config.RPC.ShyftAPIKeyEnv)
}

// GetFallbackAPIKey loads Fallback API key from environment.
func (m *Manager) GetFallbackAPIKey() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return os.Getenv(m.config.RPC.FallbackAPIKeyEnv)
}

// GetShyftRPCURL returns the full Shyft RPC URL with API key injected.
func (m *Manager) GetShyftRPCURL() string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	url := m.config.RPC.ShyftURL
	key := os.Getenv(m.config.RPC.ShyftAPIKeyEnv)
	if key == "" {
		return url
	}
	if strings.Contains(url, "?") {
		return url + "&api_key=" + key
	}
	return url + "?api_key=" + key
}

// GetFallbackRPCURL returns the full Fallback RPC URL with API key injected.
func (m *Manager) GetFallbackRPCURL() string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	url := m.config.RPC.FallbackURL
	key := os.Getenv(m.config.RPC.FallbackAPIKeyEnv)
	if key == "" {
		return url
	}

	param := "api_key"
	if strings.Contains(url, "helius") {
		param = "api-key"
	}
	if strings.Contains(url, "?") {
		return url + "&" + param + "=" + key
	}
	return url + "?" + param + "=" + key
}

// GetShyftWSURL returns the full Shyft WebSocket URL with API key injected.
func (m *Manager) GetShyftWSURL() string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	url := m.config.WebSocket.ShyftURL
	key := os.Getenv(m.config.RPC.ShyftAPIKeyEnv)
	if key == "" {
		return url
	}
	if strings.Contains(url, "?") {
		return url + "&api_key=" + key
	}
	return url + "?api_key=" + key
}

// GetBlockhashRefresh returns blockhash refresh interval as duration.
func (m *Manager) GetBlockhashRefresh() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return time.Duration(m.config.Blockchain.BlockhashRefreshMs) * time.Millisecond
}

// GetBalanceRefresh returns balance refresh interval as duration.
func (m *Manager) GetBalanceRefresh() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return time.Duration(m.config.Blockchain.BalanceRefreshSeconds) * time.Second
}

// NormalizePercent converts a user-facing percentage (e.g. 25.0) into the
// internal [0,1] decimal the core expects (spec §9 Design Note: "a single
// normalization function at the edge"). Values already in [0,1] pass
// through unchanged — the function only rescales values that could not
// possibly already be a decimal fraction.
func NormalizePercent(v float64) float64 {
	if v > 1 {
		return v / 100
	}
	return v
}

// fieldRange validates a numeric field against an inclusive [min, max].
func fieldRange(name string, v, min, max float64) error {
	if v < min || v > max {
		return corerr.New(corerr.KindConfigValidation,
			fmt.Sprintf("%s=%v out of range [%v, %v]", name, v, min, max), nil)
	}
	return nil
}

// Validate enforces spec §4.A's inclusive min/max and exhaustive-enum
// rules. Percentages are expected already normalized to [0,1].
func Validate(cfg *Config) error {
	if cfg.Execution.Mode != "paper" && cfg.Execution.Mode != "live" {
		return corerr.New(corerr.KindConfigValidation, "execution_mode must be paper or live", nil)
	}
	if err := fieldRange("max_slippage_bps", float64(cfg.Execution.MaxSlippageBps), 0, 10_000); err != nil {
		return err
	}
	if err := fieldRange("loop_seconds", cfg.Execution.LoopSeconds, 0.5, 3600); err != nil {
		return err
	}
	if err := fieldRange("max_daily_drawdown_pct", cfg.Risk.MaxDailyDrawdownPct, 0, 1); err != nil {
		return err
	}
	if err := fieldRange("max_turnover_pct_per_day", cfg.Risk.MaxTurnoverPctPerDay, 0, 50); err != nil {
		return err
	}
	if err := fieldRange("take_profit_pct", cfg.Risk.TakeProfitPct, 0, 50); err != nil {
		return err
	}
	if err := fieldRange("core_slots", float64(cfg.Slots.CoreSlots), 0, 1000); err != nil {
		return err
	}
	if err := fieldRange("scout_slots", float64(cfg.Slots.ScoutSlots), 0, 1000); err != nil {
		return err
	}
	if err := fieldRange("trailing_stop_base_pct", cfg.Exit.TrailingStopBasePct, 0, 1); err != nil {
		return err
	}
	if err := fieldRange("trailing_stop_tight_pct", cfg.Exit.TrailingStopTightPct, 0, 1); err != nil {
		return err
	}
	if err := fieldRange("fee_ratio_per_leg_core", cfg.FeeGov.FeeRatioPerLegCore, 0, 1); err != nil {
		return err
	}
	if err := fieldRange("fee_ratio_per_leg_scout", cfg.FeeGov.FeeRatioPerLegScout, 0, 1); err != nil {
		return err
	}
	if err := fieldRange("fee_safety_haircut", cfg.FeeGov.FeeSafetyHaircut, 0, 2); err != nil {
		return err
	}
	if err := fieldRange("min_ticks_for_full_alloc", float64(cfg.Universe.MinTicksForFullAlloc), 0, 100_000); err != nil {
		return err
	}
	return nil
}
