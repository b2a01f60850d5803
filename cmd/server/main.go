// Command server runs the risk engine as an always-on process: it loads
// configuration, opens the store, wires every component (spec §9), and
// runs the single-threaded dispatch loop until told to shut down.
//
// Grounded on the teacher's cmd/server/main.go lifecycle shape (logger
// init -> config load -> database open/migrate -> background
// scheduler(s) -> HTTP server goroutine -> signal wait -> bounded
// graceful shutdown), generalized from a portfolio-sync app to the risk
// engine's event-bus-plus-rule-registry wiring.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aristath/risk-manager/internal/brokerclient"
	"github.com/aristath/risk-manager/internal/clock"
	"github.com/aristath/risk-manager/internal/config"
	"github.com/aristath/risk-manager/internal/engine"
	"github.com/aristath/risk-manager/internal/enforcement"
	"github.com/aristath/risk-manager/internal/events"
	"github.com/aristath/risk-manager/internal/lockout"
	"github.com/aristath/risk-manager/internal/marketdata"
	"github.com/aristath/risk-manager/internal/pnl"
	"github.com/aristath/risk-manager/internal/protective"
	"github.com/aristath/risk-manager/internal/reset"
	"github.com/aristath/risk-manager/internal/rules"
	"github.com/aristath/risk-manager/internal/sdkbridge"
	"github.com/aristath/risk-manager/internal/server"
	"github.com/aristath/risk-manager/internal/store"
	"github.com/aristath/risk-manager/internal/timers"
	"github.com/aristath/risk-manager/pkg/logger"
)

const (
	timerSweepInterval   = time.Second
	lockoutSweepInterval = time.Second
	shutdownTimeout      = 30 * time.Second
	pollInterval         = 5 * time.Second
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// No logger exists yet (spec §7 ConfigInvalid is detected before
		// any other subsystem does), so this is the one place that writes
		// straight to stderr instead of through zerolog.
		os.Stderr.WriteString("failed to load configuration: " + err.Error() + "\n")
		os.Exit(2)
	}

	log := logger.New(logger.Config{
		Level:       cfg.LogLevel,
		Pretty:      cfg.Environment != "production",
		Service:     "risk-manager",
		Environment: cfg.Environment,
	})
	log.Info().Msg("starting risk engine")

	doc, err := config.LoadRules(cfg.RulesPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.RulesPath).Msg("failed to load rule configuration")
	}

	st, err := store.Open(cfg.DatabasePath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open store")
	}
	defer st.Close()
	if err := st.Migrate(); err != nil {
		log.Fatal().Err(err).Msg("failed to migrate store")
	}

	clk := clock.New(clock.Real{})
	bus := events.New(log, 0)

	timerMgr := timers.New(log, clk, store.NewTimerRepository(st.Conn(), log), timerSweepInterval)
	lockoutMgr := lockout.New(log, clk, store.NewLockoutRepository(st.Conn(), log), timerMgr, lockoutSweepInterval)
	pnlTracker := pnl.New(log, clk, store.NewPnLRepository(st.Conn(), log), doc.General.Timezone)
	tradeRepo := store.NewTradeRepository(st.Conn(), log)

	broker := brokerclient.New(cfg.BrokerBaseURL, cfg.BrokerAPIKey, cfg.BrokerUsername, log)
	protectiveCache := protective.New(log, broker)

	registry := rules.Build(doc.ToRulesConfig(), clk)
	executor := enforcement.New(log, broker)

	// marketData is wired below, once the engine instance exists to act as
	// its own PositionProvider (SetMarketData breaks the otherwise-circular
	// construction between the two).
	riskEngine := engine.New(
		log, bus, clk, registry,
		pnlTracker, lockoutMgr, timerMgr, protectiveCache,
		nil, tradeRepo, executor, executor,
		doc.ToEngineConfig(),
	)

	marketDataSub := marketdata.New(log, bus, riskEngine, broker,
		marketdata.WithStatusReporter(doc.General.StatusBar),
	)
	riskEngine.SetMarketData(marketDataSub)

	// The concrete SDK connection (sockets, auth, reconnection) is outside
	// this repository's scope (spec §1), and so is the per-account
	// AccountSuite config (symbol extractor, side/type/status resolvers)
	// a real integration would supply. Nothing constructs one here yet, so
	// this Bridge is never driven: no real broker wiring happens until an
	// adapter calls its On* methods from its own SDK client and passes its
	// accounts' suites in.
	_ = sdkbridge.New(log, bus, nil)

	resetSched := reset.New(log, clk, store.NewResetLedgerRepository(st.Conn(), log), pnlTracker, lockoutMgr,
		pnlTracker.KnownAccounts, doc.ToResetConfig())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus.Start()
	riskEngine.Start(ctx)

	if err := timerMgr.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to start timer manager")
	}
	defer timerMgr.Stop()

	if err := lockoutMgr.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to start lockout manager")
	}
	defer lockoutMgr.Stop()

	if err := resetSched.Start(); err != nil {
		log.Fatal().Err(err).Msg("failed to start reset scheduler")
	}
	defer resetSched.Stop()

	if len(doc.General.Instruments) > 0 {
		if err := marketDataSub.StartPolling(ctx, doc.General.Instruments, pollInterval); err != nil {
			log.Error().Err(err).Msg("failed to start market data polling fallback")
		}
		defer marketDataSub.StopPolling()
	}
	if doc.General.StatusBar {
		marketDataSub.StartStatusReporter(ctx)
	}

	opServer := server.New(server.Config{
		Port:      cfg.Port,
		Log:       log,
		DevMode:   cfg.DevMode,
		Lockouts:  lockoutMgr,
		PnL:       pnlTracker,
		Engine:    riskEngine,
		Clock:     clk,
		RulesPath: cfg.RulesPath,
		Rules:     doc,
	})
	opServer.Start()

	log.Info().Int("port", cfg.Port).Msg("risk engine started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down risk engine")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := opServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("operational server forced to shutdown")
	}

	log.Info().Msg("risk engine stopped")
}
