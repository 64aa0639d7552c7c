package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/cstahmer1/spotagent/internal/aggregator"
	"github.com/cstahmer1/spotagent/internal/blockchain"
	"github.com/cstahmer1/spotagent/internal/chain"
	"github.com/cstahmer1/spotagent/internal/config"
	"github.com/cstahmer1/spotagent/internal/health"
	"github.com/cstahmer1/spotagent/internal/ledger"
	"github.com/cstahmer1/spotagent/internal/marketdata"
	"github.com/cstahmer1/spotagent/internal/marketfeed"
	"github.com/cstahmer1/spotagent/internal/orchestrator"
	"github.com/cstahmer1/spotagent/internal/risk"
	"github.com/cstahmer1/spotagent/internal/signalfeed"
	"github.com/cstahmer1/spotagent/internal/signalsrv"
	"github.com/cstahmer1/spotagent/internal/slots"
	"github.com/cstahmer1/spotagent/internal/storage"
	"github.com/cstahmer1/spotagent/internal/telemetry"
	"github.com/cstahmer1/spotagent/internal/tui"
	"github.com/cstahmer1/spotagent/internal/universe"
)

func main() {
	headless := os.Getenv("HEADLESS") == "1"

	if headless {
		runHeadless()
	} else {
		runWithTUI()
	}
}

// components bundles everything initComponents assembles, shared by both
// the headless and TUI entrypoints.
type components struct {
	cfg    *config.Manager
	db     *storage.DB
	ledger *ledger.Ledger
	orch   *orchestrator.Orchestrator
	feed   *signalfeed.Feed
	hub    *marketfeed.Hub
	srv    *signalsrv.Server
	wallet *blockchain.Wallet
	health *health.Checker

	blockhashCache *blockchain.BlockhashCache
	balanceTracker *blockchain.BalanceTracker
}

func runHeadless() {
	setupLogger()
	log.Info().Msg("spotagent starting (headless mode)")

	c := initComponents()

	healthCtx, healthCancel := context.WithCancel(context.Background())
	defer healthCancel()
	c.health.Start(healthCtx)

	go func() {
		if err := c.srv.Start(); err != nil {
			log.Fatal().Err(err).Msg("signal server failed")
		}
	}()
	log.Info().Msg("signal server started")

	stop := runTickLoop(c, nil)
	defer stop()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down...")
	shutdown(c)
}

func runWithTUI() {
	logFile, err := os.OpenFile("data/bot.log", os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: could not open log file: %v\n", err)
		logFile = nil
	}

	if logFile != nil {
		log.Logger = zerolog.New(logFile).With().Timestamp().Logger()
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	} else {
		log.Logger = zerolog.Nop()
	}

	c := initComponents()

	healthCtx, healthCancel := context.WithCancel(context.Background())
	defer healthCancel()
	c.health.Start(healthCtx)

	model := tui.NewModel(c.cfg)
	model.SetCallbacks(
		func() {
			c.cfg.Update(func(cfg *config.Config) {
				cfg.Circuit.ManualPause = !cfg.Circuit.ManualPause
			})
		},
		func(mint chain.Mint) {
			log.Info().Str("mint", string(mint)).Msg("operator requested force exit")
			c.ledger.RemovePosition(mint)
		},
		func() {
			cfg := c.cfg.Get()
			next := "moderate"
			switch cfg.ActiveRiskProfile {
			case "moderate":
				next = "high"
			case "high":
				next = "degen"
			case "degen":
				next = "moderate"
			}
			if err := c.cfg.Update(func(cfg *config.Config) {
				if applyErr := config.ApplyRiskProfile(cfg, next); applyErr != nil {
					log.Warn().Err(applyErr).Str("profile", next).Msg("risk profile cycle rejected")
				} else {
					cfg.ActiveRiskProfile = next
				}
			}); err != nil {
				log.Error().Err(err).Msg("risk profile update failed")
			}
		},
	)

	p := tea.NewProgram(model, tea.WithAltScreen())

	go func() {
		if err := c.srv.Start(); err != nil {
			log.Error().Err(err).Msg("signal server failed")
		}
	}()

	go tailLog(p, "data/bot.log")

	stop := runTickLoop(c, p)
	defer stop()

	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "error running TUI: %v\n", err)
		os.Exit(1)
	}

	shutdown(c)
}

// tailLog streams newly-appended log lines into the running TUI, grounded
// on the teacher's runWithTUI log-tailing goroutine.
func tailLog(p *tea.Program, path string) {
	file, err := os.Open(path)
	if err != nil {
		return
	}
	defer file.Close()

	file.Seek(0, 2)
	reader := bufio.NewReader(file)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			time.Sleep(100 * time.Millisecond)
			continue
		}
		line = strings.TrimSpace(line)
		if line != "" {
			tui.SendLogs(p, []string{line})
		}
	}
}

// runTickLoop drives the orchestrator on config.Execution.LoopSeconds,
// pushing every tick's outcome into telemetry, storage, the market feed,
// and (when running with a TUI) the dashboard. It returns a stop func.
func runTickLoop(c *components, p *tea.Program) func() {
	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		for {
			cfg := c.cfg.Get()
			interval := time.Duration(cfg.Execution.LoopSeconds * float64(time.Second))
			if interval <= 0 {
				interval = 5 * time.Second
			}

			select {
			case <-ctx.Done():
				return
			case <-time.After(interval):
			}

			now := time.Now()
			result, err := c.orch.Tick(ctx, now)
			if err != nil {
				log.Error().Err(err).Msg("tick failed")
				continue
			}

			telemetry.ObserveTick(result.Duration, result.DeadlineExceeded)
			telemetry.SetCircuitPaused(result.CircuitTripped)
			telemetry.SetPositionsHeld("all", result.PositionsCount)
			telemetry.SetEquityUSD(result.RiskState.CurrentEquityUSD)

			action := ""
			if result.Decision.Action != "" {
				action = string(result.Decision.Action)
				telemetry.IncRotationAction(action)
				if err := c.db.InsertRotationLog(result.Decision, now); err != nil {
					log.Error().Err(err).Msg("failed to persist rotation log")
				}
				c.hub.PublishRotation(result.Decision, now)
			}

			c.hub.PublishTick(result.Duration.Milliseconds(), result.PositionsCount, result.CandidatesCount, result.DeadlineExceeded, now)

			if err := c.db.UpsertRiskState(result.RiskState); err != nil {
				log.Error().Err(err).Msg("failed to persist risk state")
			}
			if err := c.db.InsertTickTelemetry(storage.TickTelemetry{
				TickStartedAt:    now,
				DurationMs:       result.Duration.Milliseconds(),
				DeadlineExceeded: result.DeadlineExceeded,
				PositionsCount:   result.PositionsCount,
				CandidatesCount:  result.CandidatesCount,
				Action:           action,
			}); err != nil {
				log.Error().Err(err).Msg("failed to persist tick telemetry")
			}

			if p != nil {
				tui.SendPositions(p, c.ledger.Positions())
				tui.SendRotation(p, result.Decision)
				tui.SendCircuit(p, result.RiskState)
				tui.SendEquity(p, result.RiskState.CurrentEquityUSD)
			}
		}
	}()

	return cancel
}

func shutdown(c *components) {
	c.srv.Shutdown()
	if c.blockhashCache != nil {
		c.blockhashCache.Stop()
	}
	if c.db != nil {
		c.db.Close()
	}
	log.Info().Msg("goodbye")
}

func initComponents() *components {
	cfg, err := config.NewManager("config/config.yaml")
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	db, err := storage.NewDB(cfg.Get().Storage.SQLitePath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize database")
	}

	ldg := ledger.New(db)
	if lots, lerr := db.LoadLots(); lerr == nil {
		if positions, perr := db.LoadPositions(); perr == nil {
			ldg.Restore(lots, positions)
		}
	}

	slotCap := slots.Capacity{CoreSlots: cfg.Get().Slots.CoreSlots, ScoutSlots: cfg.Get().Slots.ScoutSlots}
	slotMachine := slots.New(slotCap)

	uni := universe.NewCache()
	if entries, uerr := db.LoadExitedTokenCache(); uerr == nil {
		for _, e := range entries {
			uni.Record(e)
		}
	}

	riskCircuit := risk.New(0, cfg.Get().Risk.MaxDailyDrawdownPct, cfg.Get().Risk.MaxTurnoverPctPerDay, time.Now())

	var wallet *blockchain.Wallet
	privateKey := cfg.GetPrivateKey()
	if privateKey != "" {
		wallet, err = blockchain.NewWallet(privateKey)
		if err != nil {
			log.Error().Err(err).Msg("failed to load wallet")
		}
	} else {
		keyManager := blockchain.NewCachedKeyManager("./data", 10*time.Minute)
		wallet, err = keyManager.GetOrGenerate()
		if err != nil {
			log.Error().Err(err).Msg("failed to generate wallet")
		} else {
			log.Warn().Str("address", wallet.Address()).Msg("using auto-generated wallet, fund this address to trade")
		}
	}

	rpc := blockchain.NewRPCClient(cfg.GetShyftRPCURL(), cfg.GetFallbackRPCURL(), cfg.GetShyftAPIKey())
	blockhashCache := blockchain.NewBlockhashCache(
		rpc,
		cfg.GetBlockhashRefresh(),
		time.Duration(cfg.Get().Blockchain.BlockhashTTLSeconds)*time.Second,
	)
	if err := blockhashCache.Start(); err != nil {
		log.Error().Err(err).Msg("failed to start blockhash cache")
	}

	var balanceTracker *blockchain.BalanceTracker
	var chainClient *blockchain.ChainClient
	walletAddr := ""
	if wallet != nil {
		chainClient = blockchain.NewChainClient(rpc, wallet, blockhashCache)
		balanceTracker = blockchain.NewBalanceTracker(wallet, rpc)
		balanceTracker.Refresh(context.Background())
		walletAddr = wallet.Address()

		log.Info().
			Str("address", wallet.Address()).
			Float64("balance", balanceTracker.BalanceSOL()).
			Msg("wallet status")
	}

	jupCfg := cfg.Get().Jupiter
	swapper := aggregator.NewClient(jupCfg.QuoteAPIURL, jupCfg.SlippageBps, time.Duration(jupCfg.TimeoutSeconds)*time.Second, nil)
	if cfg.Get().Execution.Mode == "paper" {
		swapper.SetSimulation(true, 1.0)
	}

	market := marketdata.NewCache(time.Duration(cfg.Get().Execution.LoopSeconds * float64(time.Second)))
	feed := signalfeed.NewFeed(time.Hour)

	orch := orchestrator.New(orchestrator.Deps{
		Config:   cfg,
		Ledger:   ldg,
		Slots:    slotMachine,
		Risk:     riskCircuit,
		Universe: uni,
		RPC:      chainRPCOrNil(chainClient),
		Market:   market,
		Signals:  feed,
		Swapper:  swapper,
		Wallet:   walletAddr,
	})

	hub := marketfeed.NewHub()

	telegramCfg := cfg.Get().Telegram
	srv := signalsrv.NewServer(telegramCfg.ListenHost, telegramCfg.ListenPort, signalsrv.Deps{
		Config:  cfg,
		Ledger:  ldg,
		Risk:    riskCircuit,
		Feed:    hub,
		Signals: feed,
	})

	operatorHost := telegramCfg.ListenHost
	if operatorHost == "0.0.0.0" {
		operatorHost = "127.0.0.1"
	}
	operatorURL := fmt.Sprintf("http://%s:%d", operatorHost, telegramCfg.ListenPort)
	checker := health.NewChecker(cfg.GetShyftRPCURL(), operatorURL)

	return &components{
		cfg:            cfg,
		db:             db,
		ledger:         ldg,
		orch:           orch,
		feed:           feed,
		hub:            hub,
		srv:            srv,
		wallet:         wallet,
		health:         checker,
		blockhashCache: blockhashCache,
		balanceTracker: balanceTracker,
	}
}

// chainRPCOrNil returns a typed nil as the chain.ChainRPC interface when no
// wallet was available, since an untyped nil *ChainClient would still
// satisfy the interface and panic on first call.
func chainRPCOrNil(c *blockchain.ChainClient) chain.ChainRPC {
	if c == nil {
		return nil
	}
	return c
}

func setupLogger() {
	log.Logger = zerolog.New(
		zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"},
	).With().Timestamp().Logger()

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if os.Getenv("DEBUG") == "1" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
}
