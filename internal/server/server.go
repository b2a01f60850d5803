// Package server exposes the risk engine's operational surface (spec §6:
// status, config view/reload/validate, lockout list/clear, pnl show) as a
// small JSON API, grounded on the teacher's internal/server (chi router,
// CORS/compression/recoverer middleware stack, writeJSON/writeError
// helpers) with none of its portfolio route bodies carried over.
package server

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/aristath/risk-manager/internal/clock"
	"github.com/aristath/risk-manager/internal/config"
	"github.com/aristath/risk-manager/internal/engine"
	"github.com/aristath/risk-manager/internal/lockout"
	"github.com/aristath/risk-manager/internal/pnl"
	"github.com/aristath/risk-manager/internal/rules"
)

// Config holds the server's dependencies, mirroring the teacher's own
// server.Config shape (a plain struct of injected components rather than
// a constructor with a long parameter list).
type Config struct {
	Port      int
	Log       zerolog.Logger
	DevMode   bool
	Lockouts  *lockout.Manager
	PnL       *pnl.Tracker
	Engine    *engine.Engine
	Clock     *clock.Service
	RulesPath string
	Rules     *config.RulesDocument // initial loaded document
}

// Server is the operational HTTP surface.
type Server struct {
	router     *chi.Mux
	httpServer *http.Server
	log        zerolog.Logger

	lockouts  *lockout.Manager
	pnlTrk    *pnl.Tracker
	engine    *engine.Engine
	clock     *clock.Service
	rulesPath string

	currentRules atomic.Pointer[config.RulesDocument]
	startedAt    time.Time
}

// New creates a Server ready to ListenAndServe.
func New(cfg Config) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		log:       cfg.Log.With().Str("component", "server").Logger(),
		lockouts:  cfg.Lockouts,
		pnlTrk:    cfg.PnL,
		engine:    cfg.Engine,
		clock:     cfg.Clock,
		rulesPath: cfg.RulesPath,
		startedAt: time.Now(),
	}
	s.currentRules.Store(cfg.Rules)

	s.setupMiddleware(cfg.DevMode)
	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *Server) setupMiddleware(devMode bool) {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Timeout(30 * time.Second))
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	if !devMode {
		s.router.Use(middleware.Compress(5))
	}
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		r.Get("/status", s.handleStatus)

		r.Route("/config", func(r chi.Router) {
			r.Get("/", s.handleConfigView)
			r.Post("/reload", s.handleConfigReload)
			r.Post("/validate", s.handleConfigValidate)
		})

		r.Route("/lockouts", func(r chi.Router) {
			r.Get("/", s.handleLockoutList)
			r.Post("/{account}/clear", s.handleLockoutClear)
		})

		r.Get("/pnl/{account}", s.handlePnLShow)
	})
}

// loggingMiddleware mirrors the teacher's request-logging wrapper.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}

// Start runs ListenAndServe on a goroutine, returning immediately.
func (s *Server) Start() {
	go func() {
		s.log.Info().Str("addr", s.httpServer.Addr).Msg("operational server starting")
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Error().Err(err).Msg("operational server stopped unexpectedly")
		}
	}()
}

// Shutdown gracefully drains in-flight requests, bounded by ctx.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// applyDocument validates doc and, if valid, swaps both the server's
// view and the engine's live rule registry.
func (s *Server) applyDocument(doc *config.RulesDocument) error {
	if err := config.NewValidator().Validate(doc); err != nil {
		return err
	}
	s.currentRules.Store(doc)
	if s.engine != nil {
		s.engine.SetRegistry(rules.Build(doc.ToRulesConfig(), s.clock))
	}
	return nil
}
