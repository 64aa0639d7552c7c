// Package signalsrv is the operator- and signal-producer-facing HTTP
// surface, grounded on the teacher's internal/signal.Server (gofiber/fiber/v2,
// same route-table and Start/Shutdown shape). It keeps the teacher's
// external-ingestion route (repointed from parsed Telegram text onto a
// typed {mint, score, regime} signal payload) alongside operator actions
// spec §7 names: pause/resume, config patch, and the live market/rotation
// feed.
package signalsrv

import (
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/rs/zerolog/log"

	"github.com/cstahmer1/spotagent/internal/chain"
	"github.com/cstahmer1/spotagent/internal/config"
	"github.com/cstahmer1/spotagent/internal/ledger"
	"github.com/cstahmer1/spotagent/internal/marketfeed"
	"github.com/cstahmer1/spotagent/internal/risk"
	"github.com/cstahmer1/spotagent/internal/signalfeed"
)

// Deps wires the components the HTTP surface reads or mutates.
type Deps struct {
	Config  *config.Manager
	Ledger  *ledger.Ledger
	Risk    *risk.Circuit
	Feed    *marketfeed.Hub
	Signals *signalfeed.Feed
}

// Server runs the operator HTTP surface over fiber.
type Server struct {
	app  *fiber.App
	deps Deps
	host string
	port int
}

// NewServer builds the server and wires its routes.
func NewServer(host string, port int, deps Deps) *Server {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ReadTimeout:           5 * time.Second,
		WriteTimeout:          5 * time.Second,
	})

	s := &Server{app: app, deps: deps, host: host, port: port}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok", "time": time.Now().Unix()})
	})

	s.app.Get("/state", s.handleState)
	s.app.Post("/pause", s.handlePause)
	s.app.Post("/resume", s.handleResume)
	s.app.Post("/config", s.handleConfigPatch)

	if s.deps.Feed != nil {
		s.app.Get("/ws/feed", adaptor.HTTPHandlerFunc(s.deps.Feed.ServeHTTP))
	}
	if s.deps.Signals != nil {
		s.app.Post("/signals", s.handleSignalPost)
	}
}

// signalPostRequest is the external signal-producer payload accepted at
// POST /signals.
type signalPostRequest struct {
	Mint   string  `json:"mint"`
	Score  float64 `json:"score"`
	Regime string  `json:"regime"`
}

func (s *Server) handleSignalPost(c *fiber.Ctx) error {
	var req signalPostRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid payload"})
	}
	if req.Mint == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "mint is required"})
	}

	s.deps.Signals.Post(chain.Mint(req.Mint), chain.Signal{
		Score:  req.Score,
		Regime: chain.Regime(req.Regime),
	}, time.Now())

	return c.JSON(fiber.Map{"status": "accepted"})
}

func (s *Server) handleState(c *fiber.Ctx) error {
	cfg := s.deps.Config.Get()
	var positions []*ledger.PositionTracking
	if s.deps.Ledger != nil {
		positions = s.deps.Ledger.Positions()
	}

	resp := fiber.Map{
		"execution_mode":     cfg.Execution.Mode,
		"active_risk_profile": cfg.ActiveRiskProfile,
		"positions_count":    len(positions),
		"positions":          positions,
	}

	if s.deps.Risk != nil {
		tripped, reason := s.deps.Risk.Tripped()
		resp["risk_circuit_tripped"] = tripped
		resp["risk_pause_reason"] = reason
		resp["risk_state"] = s.deps.Risk.Snapshot()
	}

	return c.JSON(resp)
}

func (s *Server) handlePause(c *fiber.Ctx) error {
	if s.deps.Risk == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "risk circuit not wired"})
	}
	s.deps.Risk.SetManualPause(true)
	log.Info().Msg("operator requested manual pause")
	return c.JSON(fiber.Map{"status": "paused"})
}

func (s *Server) handleResume(c *fiber.Ctx) error {
	if s.deps.Risk == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "risk circuit not wired"})
	}
	s.deps.Risk.SetManualPause(false)
	log.Info().Msg("operator requested manual resume")
	return c.JSON(fiber.Map{"status": "resumed"})
}

// configPatchRequest is the subset of config.Config an operator may patch
// live; it deliberately excludes wallet/RPC credentials.
type configPatchRequest struct {
	ExecutionMode   *string  `json:"execution_mode,omitempty"`
	RiskProfile     *string  `json:"risk_profile,omitempty"`
	MaxSlippageBps  *int     `json:"max_slippage_bps,omitempty"`
	ManualPause     *bool    `json:"manual_pause,omitempty"`
}

func (s *Server) handleConfigPatch(c *fiber.Ctx) error {
	var req configPatchRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid payload"})
	}

	err := s.deps.Config.Update(func(cfg *config.Config) {
		if req.ExecutionMode != nil {
			cfg.Execution.Mode = *req.ExecutionMode
		}
		if req.MaxSlippageBps != nil {
			cfg.Execution.MaxSlippageBps = *req.MaxSlippageBps
		}
		if req.ManualPause != nil {
			cfg.Circuit.ManualPause = *req.ManualPause
		}
		if req.RiskProfile != nil {
			if applyErr := config.ApplyRiskProfile(cfg, *req.RiskProfile); applyErr != nil {
				log.Warn().Err(applyErr).Str("profile", *req.RiskProfile).Msg("risk profile patch rejected")
			}
		}
	})
	if err != nil {
		log.Error().Err(err).Msg("config patch rejected")
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	return c.JSON(fiber.Map{"status": "applied", "config": s.deps.Config.Get()})
}

// Start runs the HTTP server, blocking until Shutdown is called.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.host, s.port)
	log.Info().Str("addr", addr).Msg("starting signal server")
	return s.app.Listen(addr)
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}
