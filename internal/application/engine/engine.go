// Package engine orchestrates the trading loop: discovery, scoring, building,
// execution, monitoring and performance ticks, each on its own cadence. Every
// cross-component signal rides the bus; a missed tick never breaks an
// invariant, the next one re-reads venue truth.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alejandrodnm/omniperp/internal/agents"
	"github.com/alejandrodnm/omniperp/internal/bus"
	"github.com/alejandrodnm/omniperp/internal/domain"
	"github.com/alejandrodnm/omniperp/internal/evolution"
	"github.com/alejandrodnm/omniperp/internal/instruments"
	"github.com/alejandrodnm/omniperp/internal/ledger"
	"github.com/alejandrodnm/omniperp/internal/memory"
	"github.com/alejandrodnm/omniperp/internal/ports"
	"github.com/alejandrodnm/omniperp/internal/positions"
)

// Config holds the orchestrator cadence and targets.
type Config struct {
	DiscoveryInterval   time.Duration // default 60s
	ScoringInterval     time.Duration // default 500ms
	BuildingInterval    time.Duration // default 200ms
	ExecutionInterval   time.Duration // default 100ms
	MonitoringInterval  time.Duration // default 200ms
	PerformanceInterval time.Duration // default 60s

	KlineInterval string // venue kline interval, default "1"
	KlineLimit    int    // default 50
	WatchlistSize int    // symbols under active scoring, default 12
	ScoringBatch  int    // symbols scored per tick, default 3

	TargetWinRate     float64 // warn threshold, default 0.85
	TargetTripsPerDay float64 // warn threshold, default 750

	DemoMode  bool   // allows the synthetic instrument fallback
	StopFile  string // presence triggers clean shutdown, default "STOP"
	MetricsAddr string // empty disables the /metrics listener
}

// DefaultConfig returns the normative cadences.
func DefaultConfig() Config {
	return Config{
		DiscoveryInterval:   60 * time.Second,
		ScoringInterval:     500 * time.Millisecond,
		BuildingInterval:    200 * time.Millisecond,
		ExecutionInterval:   100 * time.Millisecond,
		MonitoringInterval:  200 * time.Millisecond,
		PerformanceInterval: 60 * time.Second,
		KlineInterval:       "1",
		KlineLimit:          50,
		WatchlistSize:       12,
		ScoringBatch:        3,
		TargetWinRate:       0.85,
		TargetTripsPerDay:   750,
		StopFile:            "STOP",
	}
}

// Deps bundles the wired components the engine drives.
type Deps struct {
	Bus      *bus.Bus
	Ledger   *ledger.Ledger
	Registry *instruments.Registry
	Builder  *Builder
	Ghost    *agents.Ghost
	Hedger   *agents.Hedger
	Guardian *agents.Guardian
	Manager  *positions.Manager
	Memory   *memory.Node
	Loop     *evolution.Loop
	Kernel   *evolution.Kernel

	Market   ports.MarketProvider
	Executor ports.OrderExecutor
	Storage  ports.OutcomeStorage
	Notifier ports.Notifier
}

// Engine is the orchestrator.
type Engine struct {
	cfg  Config
	deps Deps

	mu        sync.Mutex
	watchlist []string
	scoreIdx  int
	bundles   map[string]domain.ScoreBundle
	klines    map[string][]domain.Kline
	tickers   map[string]domain.Ticker
	queue     []domain.Opportunity
	scorers   []agents.Agent

	roundTrips int
	wins       int
	netProfit  decimal.Decimal
	startedAt  time.Time
	cycle      int

	cancel context.CancelFunc
	fatal  chan error
}

// New wires the engine. The ledger listener and bus subscriptions are
// installed here so no component ever holds a back-reference.
func New(cfg Config, deps Deps) *Engine {
	e := &Engine{
		cfg:     cfg,
		deps:    deps,
		bundles: make(map[string]domain.ScoreBundle),
		klines:  make(map[string][]domain.Kline),
		tickers: make(map[string]domain.Ticker),
		fatal:   make(chan error, 1),
	}

	deps.Ledger.SetListener(func(ev ledger.Event) {
		deps.Guardian.SetRealized(ev.Snapshot.RealizedPnL)
		if err := deps.Bus.Publish(bus.Message{
			Kind:    bus.KindPerformanceUpdate,
			Sender:  "ledger",
			Payload: ev,
		}); err != nil {
			slog.Debug("engine: ledger event publish", "err", err)
		}
	})

	deps.Bus.Subscribe("engine-emergency", func(m bus.Message) {
		slog.Error("engine: emergency stop received, flattening", "sender", m.Sender)
		deps.Manager.EmergencyStop(context.Background())
	}, bus.KindEmergencyStop)

	deps.Manager.SetOutcomeFunc(e.handleOutcome)

	e.rebuildScorers()
	return e
}

// Run drives all loops until the context ends or a fatal error surfaces.
func (e *Engine) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	e.cancel = cancel
	e.startedAt = time.Now().UTC()

	var srv interface{ Close() error }
	if e.cfg.MetricsAddr != "" {
		srv = serveMetrics(e.cfg.MetricsAddr)
		defer srv.Close()
	}

	// Prime discovery synchronously so the first scoring ticks have symbols.
	e.runDiscovery(ctx)

	var wg sync.WaitGroup
	loops := []struct {
		name     string
		interval time.Duration
		fn       func(context.Context)
	}{
		{"discovery", e.cfg.DiscoveryInterval, e.runDiscovery},
		{"scoring", e.cfg.ScoringInterval, e.runScoring},
		{"building", e.cfg.BuildingInterval, e.runBuilding},
		{"execution", e.cfg.ExecutionInterval, e.runExecution},
		{"monitoring", e.cfg.MonitoringInterval, e.runMonitoring},
		{"performance", e.cfg.PerformanceInterval, e.runPerformance},
	}
	for _, loop := range loops {
		wg.Add(1)
		go func(name string, interval time.Duration, fn func(context.Context)) {
			defer wg.Done()
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					fn(ctx)
				}
			}
		}(loop.name, loop.interval, loop.fn)
	}

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-e.fatal:
		runErr = err
		cancel()
	}
	wg.Wait()

	if lerr := e.deps.Ledger.CheckConservation(); lerr != nil {
		return fmt.Errorf("engine: %w", errors.Join(runErr, lerr))
	}
	return runErr
}

// rebuildScorers instantiates the scoring population from the kernel's
// active metadata. Called at start and after every evolution tick.
func (e *Engine) rebuildScorers() {
	active := e.deps.Kernel.Active()
	scorers := make([]agents.Agent, 0, len(active))
	for _, meta := range active {
		switch meta.Kind {
		case domain.AgentTechnical:
			scorers = append(scorers, agents.NewTechnical(meta.Name, meta.Params))
		case domain.AgentPattern:
			scorers = append(scorers, agents.NewPattern(meta.Name, meta.Params))
		case domain.AgentSentiment:
			scorers = append(scorers, agents.NewSentiment(meta.Name, meta.Params))
		case domain.AgentMicrostructure:
			scorers = append(scorers, agents.NewMicrostructure(meta.Name, meta.Params))
		case domain.AgentQuantum:
			scorers = append(scorers, agents.NewQuantum(meta.Name, meta.Params))
		case domain.AgentHyperdim:
			scorers = append(scorers, agents.NewHyperdimensional(meta.Name, meta.Params))
		default:
			slog.Warn("engine: unknown agent kind in registry", "kind", meta.Kind, "name", meta.Name)
		}
	}
	e.mu.Lock()
	e.scorers = scorers
	e.mu.Unlock()
	mtxActiveAgents.Set(float64(len(scorers)))
}

// runDiscovery refreshes the instrument registry and rebuilds the watchlist.
func (e *Engine) runDiscovery(ctx context.Context) {
	specs, err := e.deps.Market.FetchInstruments(ctx)
	switch {
	case err == nil && len(specs) > 0:
		e.deps.Registry.Replace(specs)
	case e.cfg.DemoMode:
		// Demo fallback: synthetic specs, flagged and never silent.
		slog.Warn("engine: instrument list unavailable, installing synthetic specs", "err", err)
		e.deps.Registry.ReplaceSynthetic([]string{"BTCUSDT", "ETHUSDT", "SOLUSDT"})
	default:
		e.checkFatal(err)
		slog.Warn("engine: discovery failed", "err", err)
		return
	}

	tickers, err := e.deps.Market.FetchTickers(ctx)
	if err != nil {
		e.checkFatal(err)
		slog.Warn("engine: ticker refresh failed", "err", err)
		return
	}

	type scored struct {
		symbol string
		volume decimal.Decimal
	}
	candidates := make([]scored, 0, len(tickers))
	for _, tk := range tickers {
		if _, err := e.deps.Registry.Spec(tk.Symbol); err != nil {
			continue
		}
		change, _ := tk.Change24h.Abs().Float64()
		if change > 0.15 {
			continue
		}
		quoteVol := tk.Volume24h.Mul(tk.Last)
		if quoteVol.LessThan(decimal.NewFromInt(100_000)) {
			continue
		}
		candidates = append(candidates, scored{tk.Symbol, quoteVol})

		e.mu.Lock()
		e.tickers[tk.Symbol] = tk
		e.mu.Unlock()
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].volume.GreaterThan(candidates[j].volume)
	})
	if len(candidates) > e.cfg.WatchlistSize {
		candidates = candidates[:e.cfg.WatchlistSize]
	}

	watchlist := make([]string, len(candidates))
	for i, c := range candidates {
		watchlist[i] = c.symbol
	}

	e.mu.Lock()
	e.watchlist = watchlist
	e.mu.Unlock()

	slog.Debug("engine: discovery complete",
		"instruments", e.deps.Registry.Len(), "watchlist", len(watchlist))
}

// runScoring fetches data for the next watchlist batch and produces bundles.
func (e *Engine) runScoring(ctx context.Context) {
	e.mu.Lock()
	if len(e.watchlist) == 0 {
		e.mu.Unlock()
		return
	}
	batch := make([]string, 0, e.cfg.ScoringBatch)
	for i := 0; i < e.cfg.ScoringBatch && i < len(e.watchlist); i++ {
		batch = append(batch, e.watchlist[e.scoreIdx%len(e.watchlist)])
		e.scoreIdx++
	}
	scorers := e.scorers
	e.mu.Unlock()

	for _, symbol := range batch {
		klines, err := e.deps.Market.FetchKlines(ctx, symbol, e.cfg.KlineInterval, e.cfg.KlineLimit)
		if err != nil {
			slog.Debug("engine: kline fetch failed", "symbol", symbol, "err", err)
			continue
		}
		ticker, err := e.deps.Market.FetchTicker(ctx, symbol)
		if err != nil {
			slog.Debug("engine: ticker fetch failed", "symbol", symbol, "err", err)
			continue
		}
		book, err := e.deps.Market.FetchOrderBook(ctx, symbol)
		if err != nil {
			slog.Debug("engine: book fetch failed", "symbol", symbol, "err", err)
			continue
		}

		in := agents.Input{Symbol: symbol, Klines: klines, Ticker: ticker, Book: book}
		bundle := domain.ScoreBundle{
			Symbol: symbol,
			At:     time.Now().UTC(),
			Scores: make(map[string]domain.AgentScore, len(scorers)),
		}
		for _, scorer := range scorers {
			bundle.Scores[scorer.Kind()] = scorer.Evaluate(in)
		}

		e.mu.Lock()
		e.bundles[symbol] = bundle
		e.klines[symbol] = klines
		e.tickers[symbol] = ticker
		e.mu.Unlock()

		if err := e.deps.Bus.Publish(bus.Message{
			Kind:    bus.KindMarketData,
			Sender:  "scoring",
			Payload: bundle,
		}); err != nil {
			slog.Debug("engine: bundle publish", "err", err)
		}
	}
}

// runBuilding drains recent bundles into ranked opportunities.
func (e *Engine) runBuilding(_ context.Context) {
	if e.deps.Manager.Emergency() {
		return
	}

	e.mu.Lock()
	bundles := e.bundles
	e.bundles = make(map[string]domain.ScoreBundle)
	e.mu.Unlock()

	if len(bundles) == 0 {
		return
	}

	snap := e.deps.Ledger.Snapshot()
	tier := TierFor(snap.Equity())
	if len(e.deps.Manager.Open()) >= tier.MaxPositions() {
		return
	}

	var candidates []domain.Opportunity
	for symbol, bundle := range bundles {
		e.mu.Lock()
		ticker, okT := e.tickers[symbol]
		klines := e.klines[symbol]
		e.mu.Unlock()
		if !okT {
			continue
		}

		opp, err := e.deps.Builder.Build(bundle, ticker, klines, snap)
		if err != nil {
			mtxRejections.WithLabelValues(rejectionGate(err)).Inc()
			slog.Debug("engine: candidate rejected", "symbol", symbol, "err", err)
			continue
		}
		if opp.Confidence < tier.MinConfidence() {
			mtxRejections.WithLabelValues("tier_confidence").Inc()
			continue
		}
		candidates = append(candidates, opp)
	}
	if len(candidates) == 0 {
		return
	}

	ranked := e.deps.Builder.Rank(candidates)
	e.mu.Lock()
	e.queue = ranked
	e.mu.Unlock()

	msgs := make([]bus.Message, 0, len(ranked))
	for _, opp := range ranked {
		msgs = append(msgs, bus.Message{Kind: bus.KindTradeSignal, Sender: "builder", Payload: opp})
	}
	if err := e.deps.Bus.Publish(msgs...); err != nil {
		slog.Debug("engine: signal publish", "err", err)
	}
}

// runExecution pops ranked opportunities through the ghost gate and submits.
func (e *Engine) runExecution(ctx context.Context) {
	if e.deps.Manager.Emergency() {
		return
	}

	e.mu.Lock()
	queue := e.queue
	e.queue = nil
	e.mu.Unlock()

	now := time.Now().UTC()
	for _, opp := range queue {
		if opp.Expired(now) {
			continue
		}
		if e.deps.Ghost.InCooldown(opp.Symbol, now) {
			continue
		}
		if holdsSymbol(e.deps.Manager.Open(), opp.Symbol) {
			// Avoid stacking entries: one live position per symbol.
			continue
		}

		e.mu.Lock()
		klines := e.klines[opp.Symbol]
		e.mu.Unlock()

		verdict := e.deps.Ghost.Approve(opp, klines)
		if !verdict.Approved {
			mtxRejections.WithLabelValues("ghost").Inc()
			slog.Debug("engine: ghost rejected",
				"symbol", opp.Symbol, "win_rate", verdict.WinRate, "roi", verdict.MeanROI, "reason", verdict.Reason)
			continue
		}

		pattern := domain.NormalizePattern(domain.ClosesFloat(klines))
		pos, err := e.deps.Manager.Submit(ctx, opp, pattern)
		if err != nil {
			e.checkFatal(err)
			slog.Warn("engine: submit failed", "symbol", opp.Symbol, "err", err)
			continue
		}
		mtxOrders.WithLabelValues(string(opp.Side)).Inc()
		e.deps.Hedger.Cover(*pos)
	}
}

// runMonitoring polls positions, feeds the guardian and the hedger.
func (e *Engine) runMonitoring(ctx context.Context) {
	if err := e.deps.Manager.Poll(ctx); err != nil {
		e.checkFatal(err)
		slog.Debug("engine: poll failed", "err", err)
		return
	}

	unrealized := e.deps.Manager.TotalUnrealized()
	if e.deps.Guardian.Check(unrealized) && !e.deps.Manager.Emergency() {
		// The bus also delivers the stop; this is the belt to its suspenders
		// when the subscriber queue is saturated.
		e.deps.Manager.EmergencyStop(ctx)
	}

	e.deps.Hedger.Observe(ctx, e.deps.Manager.Open())

	mtxOpenPositions.Set(float64(len(e.deps.Manager.Open())))
	mtxBusDropped.Set(float64(e.deps.Bus.Dropped()))
}

// runPerformance logs aggregates, persists state and ticks evolution.
func (e *Engine) runPerformance(ctx context.Context) {
	e.cycle++

	if e.cfg.StopFile != "" {
		if _, err := os.Stat(e.cfg.StopFile); err == nil {
			slog.Info("engine: STOP file detected, shutting down")
			_ = os.Remove(e.cfg.StopFile)
			e.cancel()
			return
		}
	}

	snap := e.deps.Ledger.Snapshot()
	equity, _ := snap.Equity().Float64()
	available, _ := snap.Available.Float64()
	mtxEquity.Set(equity)
	mtxAvailable.Set(available)

	e.mu.Lock()
	trips := e.roundTrips
	wins := e.wins
	net := e.netProfit
	started := e.startedAt
	cycle := e.cycle
	e.mu.Unlock()

	winRate := 0.0
	avg := decimal.Zero
	if trips > 0 {
		winRate = float64(wins) / float64(trips)
		avg = net.Div(decimal.NewFromInt(int64(trips)))
	}
	elapsedDays := time.Since(started).Hours() / 24
	tripsPerDay := 0.0
	if elapsedDays > 0 {
		tripsPerDay = float64(trips) / elapsedDays
	}
	mtxWinRate.Set(winRate)

	if trips > 10 && winRate < e.cfg.TargetWinRate {
		slog.Warn("engine: win rate off target", "win_rate", winRate, "target", e.cfg.TargetWinRate)
	}
	if elapsedDays > 0.1 && tripsPerDay < e.cfg.TargetTripsPerDay {
		slog.Warn("engine: trade frequency off target", "trips_per_day", tripsPerDay, "target", e.cfg.TargetTripsPerDay)
	}

	report := ports.PerformanceReport{
		Cycle:         cycle,
		RoundTrips:    trips,
		Wins:          wins,
		WinRate:       winRate,
		NetProfit:     net.StringFixed(4),
		AvgProfit:     avg.StringFixed(4),
		TripsPerDay:   tripsPerDay,
		OpenPositions: len(e.deps.Manager.Open()),
		Available:     snap.Available.StringFixed(4),
		RealizedPnL:   snap.RealizedPnL.StringFixed(4),
		EmergencyStop: e.deps.Manager.Emergency(),
	}
	if err := e.deps.Notifier.NotifyPerformance(ctx, report); err != nil {
		slog.Debug("engine: performance notify", "err", err)
	}

	// Hourly evolution tick rides the performance loop.
	if cycle%max(1, int(time.Hour/e.cfg.PerformanceInterval)) == 0 {
		e.deps.Kernel.AdvanceGeneration()
		e.rebuildScorers()
		if err := e.deps.Storage.SaveAgents(ctx, e.deps.Kernel.All()); err != nil {
			slog.Warn("engine: agent persistence failed", "err", err)
		}
		if err := e.deps.Notifier.NotifyLeaderboard(ctx, evolution.Leaderboard(e.deps.Kernel, e.deps.Loop)); err != nil {
			slog.Debug("engine: leaderboard notify", "err", err)
		}
	}

	if err := e.deps.Storage.SaveBreaker(ctx, e.deps.Guardian.Tripped(), snap.RealizedPnL.String()); err != nil {
		slog.Warn("engine: breaker persistence failed", "err", err)
	}
	if err := e.deps.Ledger.CheckConservation(); err != nil {
		e.fatalErr(fmt.Errorf("engine: %w", err))
	}
}

// handleOutcome is the closed-trade sink: memory, reinforcement, evolution
// requests, persistence and notification.
func (e *Engine) handleOutcome(outcome domain.TradeOutcome, margin decimal.Decimal) {
	ctx := context.Background()

	e.mu.Lock()
	e.roundTrips++
	if outcome.IsWin() {
		e.wins++
	}
	e.netProfit = e.netProfit.Add(outcome.RealizedPnL)
	e.mu.Unlock()

	mtxRoundTrips.WithLabelValues(string(outcome.Class)).Inc()

	if err := e.deps.Memory.StoreOutcome(outcome); err != nil {
		slog.Warn("engine: outcome store failed", "err", err)
	}
	if err := e.deps.Storage.SaveOutcome(ctx, outcome); err != nil {
		slog.Warn("engine: outcome persistence failed", "err", err)
	}

	marginF, _ := margin.Float64()
	fb := memory.Reinforcement(outcome, marginF)
	requests := e.deps.Loop.Apply(fb)
	for _, req := range requests {
		if req.Kill {
			if err := e.deps.Kernel.Kill(req.Agent); err != nil {
				slog.Debug("engine: kill request", "agent", req.Agent, "err", err)
			} else {
				slog.Info("engine: agent killed", "agent", req.Agent)
				e.deps.Loop.Forget(req.Agent)
			}
		} else {
			if child, err := e.deps.Kernel.Mutate(req.Agent); err == nil {
				slog.Info("engine: agent mutated", "parent", req.Agent, "child", child.Name)
			}
		}
	}
	if len(requests) > 0 {
		e.rebuildScorers()
	}

	if err := e.deps.Bus.Publish(bus.Message{
		Kind:    bus.KindPerformanceUpdate,
		Sender:  "positions",
		Payload: fb,
	}); err != nil {
		slog.Debug("engine: reinforcement publish", "err", err)
	}

	if err := e.deps.Notifier.NotifyOutcome(ctx, outcome); err != nil {
		slog.Debug("engine: outcome notify", "err", err)
	}
}

// holdsSymbol reports whether any tracked position is on the symbol.
func holdsSymbol(open map[string]domain.Position, symbol string) bool {
	for _, pos := range open {
		if pos.Opportunity.Symbol == symbol {
			return true
		}
	}
	return false
}

// checkFatal promotes auth rejections to engine shutdown.
func (e *Engine) checkFatal(err error) {
	if errors.Is(err, domain.ErrAuthRejected) {
		e.fatalErr(err)
	}
}

func (e *Engine) fatalErr(err error) {
	select {
	case e.fatal <- err:
	default:
	}
}

func rejectionGate(err error) string {
	switch {
	case errors.Is(err, ErrLowComposite):
		return "composite"
	case errors.Is(err, ErrMarketUnstable):
		return "stability"
	case errors.Is(err, ErrThinVolume):
		return "volume"
	case errors.Is(err, ErrNoSide):
		return "side"
	case errors.Is(err, ErrNoCapital):
		return "capital"
	case errors.Is(err, ErrOversized):
		return "quantize"
	case errors.Is(err, ErrThinProfit):
		return "profit"
	default:
		return "other"
	}
}
