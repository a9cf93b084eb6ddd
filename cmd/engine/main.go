package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/shopspring/decimal"

	"github.com/alejandrodnm/omniperp/config"
	"github.com/alejandrodnm/omniperp/internal/adapters/bybit"
	"github.com/alejandrodnm/omniperp/internal/adapters/notify"
	"github.com/alejandrodnm/omniperp/internal/adapters/storage"
	"github.com/alejandrodnm/omniperp/internal/agents"
	"github.com/alejandrodnm/omniperp/internal/application/engine"
	"github.com/alejandrodnm/omniperp/internal/bus"
	"github.com/alejandrodnm/omniperp/internal/domain"
	"github.com/alejandrodnm/omniperp/internal/evolution"
	"github.com/alejandrodnm/omniperp/internal/instruments"
	"github.com/alejandrodnm/omniperp/internal/ledger"
	"github.com/alejandrodnm/omniperp/internal/memory"
	"github.com/alejandrodnm/omniperp/internal/positions"
)

// Exit codes: 0 clean shutdown, 2 auth failure, 3 unrecoverable venue
// rejection, 4 ledger invariant violation.
const (
	exitOK        = 0
	exitGeneric   = 1
	exitAuth      = 2
	exitVenueRule = 3
	exitLedger    = 4
)

func main() {
	configPath := flag.String("config", "", "path to config file (optional)")
	demo := flag.Bool("demo", false, "use the demo venue host and _DEMO_ credentials")
	verbose := flag.Bool("verbose", false, "set log level to debug")
	logFormat := flag.String("format", "", "log format: text|json (overrides config)")
	outcomes := flag.Bool("outcomes", false, "log every closed round-trip")
	flag.Parse()

	if *demo {
		os.Setenv("BYBIT_DEMO", "1")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err, "path", *configPath)
		if errors.Is(err, config.ErrMissingCredentials) {
			os.Exit(exitAuth)
		}
		os.Exit(exitGeneric)
	}

	if *verbose {
		cfg.Log.Level = "debug"
	}
	if *logFormat != "" {
		cfg.Log.Format = *logFormat
	}
	setupLogger(cfg.Log)

	slog.Info("omniperp starting",
		"demo", cfg.API.Demo,
		"seed", cfg.Trading.Seed,
		"buffer", cfg.Trading.Buffer,
		"storage", cfg.Storage.DSN,
	)

	os.Exit(run(cfg, *outcomes))
}

func run(cfg *config.Config, verboseOutcomes bool) int {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	base := cfg.API.Base
	if cfg.API.Demo {
		base = cfg.API.DemoBase
		if base == "" {
			base = bybit.DemoBase
		}
	}
	client := bybit.NewClient(base, cfg.APIKey, cfg.APISecret)

	// Auth sanity check before any component spins up.
	if _, err := client.FetchWalletBalance(ctx); err != nil {
		if errors.Is(err, domain.ErrAuthRejected) {
			slog.Error("venue rejected the credentials", "err", err)
			return exitAuth
		}
		slog.Warn("wallet balance check failed, continuing", "err", err)
	}

	seed, err := decimal.NewFromString(cfg.Trading.Seed)
	if err != nil {
		slog.Error("invalid seed", "err", err)
		return exitGeneric
	}
	buffer, err := decimal.NewFromString(cfg.Trading.Buffer)
	if err != nil {
		slog.Error("invalid buffer", "err", err)
		return exitGeneric
	}
	minProfit, err := decimal.NewFromString(cfg.Trading.MinProfit)
	if err != nil {
		slog.Error("invalid min_profit", "err", err)
		return exitGeneric
	}

	led, err := ledger.New(seed, buffer)
	if err != nil {
		slog.Error("failed to create ledger", "err", err)
		return exitGeneric
	}

	store, err := storage.NewSQLiteStorage(cfg.Storage.DSN)
	if err != nil {
		slog.Error("failed to open storage", "err", err, "dsn", cfg.Storage.DSN)
		return exitGeneric
	}
	defer store.Close()

	msgBus := bus.New(0)
	defer msgBus.Close()

	registry := instruments.New()

	ghostCfg := agents.DefaultGhostConfig()
	ghostCfg.Simulations = cfg.Trading.GhostSims
	ghost := agents.NewGhost(ghostCfg, 0)

	hedgerCfg := agents.DefaultHedgerConfig()
	hedgerCfg.HedgeRatio = cfg.Trading.HedgeRatio
	hedger := agents.NewHedger(hedgerCfg, client, registry)

	guardian := agents.NewGuardian(seed, cfg.Trading.MaxDrawdown, msgBus)
	if tripped, realized, err := store.LoadBreaker(ctx); err == nil {
		if r, derr := decimal.NewFromString(realized); derr == nil {
			guardian.Restore(tripped, r)
			if tripped {
				slog.Warn("guardian restored in tripped state; trading stays halted")
			}
		}
	}

	posCfg := positions.DefaultConfig()
	posCfg.TrailDistance = cfg.Trading.TrailDistance
	manager := positions.NewManager(posCfg, client, led, msgBus)

	memNode := memory.NewNode(0)
	if outcomes, err := store.LoadOutcomes(ctx, memory.DefaultCapacity); err == nil {
		// De más antiguo a más reciente para respetar el orden del ring.
		for i := len(outcomes) - 1; i >= 0; i-- {
			if err := memNode.StoreOutcome(outcomes[i]); err != nil {
				slog.Debug("outcome restore skipped", "err", err)
			}
		}
		slog.Info("memory restored", "outcomes", memNode.Len())
	}

	kernel := evolution.NewKernel(evolution.DefaultKernelConfig(), 0)
	if saved, err := store.LoadAgents(ctx); err == nil && len(saved) > 0 {
		kernel.Restore(saved)
		slog.Info("agent registry restored", "agents", len(saved))
	} else {
		seedPopulation(kernel)
	}
	loop := evolution.NewLoop(evolution.DefaultLoopConfig())

	builderCfg := engine.DefaultBuilderConfig()
	builderCfg.EntryThreshold = cfg.Trading.EntryThreshold
	builderCfg.MinProfit = minProfit
	builder, err := engine.NewBuilder(builderCfg, registry)
	if err != nil {
		slog.Error("failed to create builder", "err", err)
		return exitGeneric
	}

	engCfg := engine.DefaultConfig()
	engCfg.DiscoveryInterval = cfg.DiscoveryInterval()
	engCfg.ScoringInterval = cfg.ScoringInterval()
	engCfg.BuildingInterval = cfg.BuildingInterval()
	engCfg.ExecutionInterval = cfg.ExecutionInterval()
	engCfg.MonitoringInterval = cfg.MonitoringInterval()
	engCfg.PerformanceInterval = cfg.PerformanceInterval()
	engCfg.WatchlistSize = cfg.Engine.WatchlistSize
	engCfg.ScoringBatch = cfg.Engine.ScoringBatch
	engCfg.DemoMode = cfg.API.Demo
	engCfg.StopFile = cfg.Engine.StopFile
	engCfg.MetricsAddr = cfg.Engine.MetricsAddr

	eng := engine.New(engCfg, engine.Deps{
		Bus:      msgBus,
		Ledger:   led,
		Registry: registry,
		Builder:  builder,
		Ghost:    ghost,
		Hedger:   hedger,
		Guardian: guardian,
		Manager:  manager,
		Memory:   memNode,
		Loop:     loop,
		Kernel:   kernel,
		Market:   client,
		Executor: client,
		Storage:  store,
		Notifier: notify.NewConsole(verboseOutcomes),
	})

	if err := eng.Run(ctx); err != nil {
		slog.Error("engine exited with error", "err", err)
		switch {
		case errors.Is(err, domain.ErrAuthRejected):
			return exitAuth
		case errors.Is(err, ledger.ErrConservation):
			return exitLedger
		case isVenueRule(err):
			return exitVenueRule
		default:
			return exitGeneric
		}
	}

	slog.Info("omniperp stopped cleanly")
	return exitOK
}

// seedPopulation registers the founding agent generation.
func seedPopulation(kernel *evolution.Kernel) {
	founders := []struct {
		name   string
		kind   string
		params map[string]float64
	}{
		{domain.AgentTechnical, domain.AgentTechnical, map[string]float64{
			"rsi_period": 14, "bollinger_period": 20, "bollinger_k": 2, "volume_window": 5, "atr_period": 14,
		}},
		{domain.AgentPattern, domain.AgentPattern, map[string]float64{}},
		{domain.AgentSentiment, domain.AgentSentiment, map[string]float64{"tilt": 2}},
		{domain.AgentMicrostructure, domain.AgentMicrostructure, map[string]float64{
			"depth_levels": 10, "max_spread_frac": 0.001,
		}},
		{domain.AgentQuantum, domain.AgentQuantum, map[string]float64{
			"trend_window": 20, "gain": 120, "phase": 0.5, "confidence_base": 0.7,
		}},
		{domain.AgentHyperdim, domain.AgentHyperdim, map[string]float64{
			"trend_window": 30, "gain": 90, "phase": 0.45, "confidence_base": 0.65,
		}},
	}
	for _, f := range founders {
		if _, err := kernel.Register(f.name, f.kind, f.params); err != nil {
			slog.Warn("founder registration failed", "agent", f.name, "err", err)
		}
	}
}

func isVenueRule(err error) bool {
	var vr *bybit.VenueRuleError
	return errors.As(err, &vr) && !vr.Recoverable()
}

func setupLogger(cfg config.LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}
