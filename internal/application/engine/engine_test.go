package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

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

// fakeMarket serves a single synthetic symbol with a rising tape.
type fakeMarket struct {
	klines []domain.Kline
	ticker domain.Ticker
	spec   domain.InstrumentSpec
}

func (f *fakeMarket) FetchInstruments(context.Context) ([]domain.InstrumentSpec, error) {
	return []domain.InstrumentSpec{f.spec}, nil
}

func (f *fakeMarket) FetchTicker(context.Context, string) (domain.Ticker, error) {
	return f.ticker, nil
}

func (f *fakeMarket) FetchTickers(context.Context) ([]domain.Ticker, error) {
	return []domain.Ticker{f.ticker}, nil
}

func (f *fakeMarket) FetchKlines(context.Context, string, string, int) ([]domain.Kline, error) {
	return f.klines, nil
}

func (f *fakeMarket) FetchOrderBook(context.Context, string) (domain.OrderBook, error) {
	return domain.OrderBook{
		Symbol: "BTCUSDT",
		Bids:   []domain.BookLevel{{Price: dec("99.99"), Size: dec("50")}},
		Asks:   []domain.BookLevel{{Price: dec("100.01"), Size: dec("50")}},
	}, nil
}

type fakeExecutor struct {
	mu     sync.Mutex
	placed []domain.OrderRequest
}

func (f *fakeExecutor) PlaceOrder(_ context.Context, req domain.OrderRequest) (domain.OrderAck, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.placed = append(f.placed, req)
	return domain.OrderAck{OrderID: "ord-1"}, nil
}

func (f *fakeExecutor) ClosePosition(context.Context, string, domain.Side, decimal.Decimal) (domain.OrderAck, error) {
	return domain.OrderAck{OrderID: "close-1"}, nil
}

func (f *fakeExecutor) FetchPositions(context.Context) ([]domain.VenuePosition, error) {
	return nil, nil
}

func (f *fakeExecutor) FetchWalletBalance(context.Context) (domain.WalletBalance, error) {
	return domain.WalletBalance{Coin: "USDT", Balance: dec("12")}, nil
}

type fakeStorage struct{}

func (fakeStorage) SaveOutcome(context.Context, domain.TradeOutcome) error { return nil }
func (fakeStorage) LoadOutcomes(context.Context, int) ([]domain.TradeOutcome, error) {
	return nil, nil
}
func (fakeStorage) SaveAgents(context.Context, []evolution.AgentMetadata) error { return nil }
func (fakeStorage) LoadAgents(context.Context) ([]evolution.AgentMetadata, error) {
	return nil, nil
}
func (fakeStorage) SaveBreaker(context.Context, bool, string) error { return nil }
func (fakeStorage) LoadBreaker(context.Context) (bool, string, error) {
	return false, "0", nil
}
func (fakeStorage) Close() error { return nil }

type fakeNotifier struct{}

func (fakeNotifier) NotifyOutcome(context.Context, domain.TradeOutcome) error { return nil }
func (fakeNotifier) NotifyPerformance(context.Context, ports.PerformanceReport) error {
	return nil
}
func (fakeNotifier) NotifyLeaderboard(context.Context, []evolution.LeaderboardRow) error {
	return nil
}

// stubScorer emits a fixed score under a given kind.
type stubScorer struct {
	kind  string
	score float64
}

func (s stubScorer) Name() string { return s.kind }
func (s stubScorer) Kind() string { return s.kind }
func (s stubScorer) Evaluate(agents.Input) domain.AgentScore {
	return domain.AgentScore{Score: s.score, Confidence: s.score}
}

func risingKlines(n int) []domain.Kline {
	out := make([]domain.Kline, n)
	price := 100.0
	for i := range out {
		next := price * 1.002
		out[i] = domain.Kline{
			OpenTime: time.Now().Add(time.Duration(i-n) * time.Minute),
			Open:     decimal.NewFromFloat(price),
			High:     decimal.NewFromFloat(next * 1.001),
			Low:      decimal.NewFromFloat(price * 0.999),
			Close:    decimal.NewFromFloat(next),
			Volume:   dec("1000"),
		}
		price = next
	}
	return out
}

func newSmokeEngine(t *testing.T) (*Engine, *fakeExecutor, *ledger.Ledger) {
	t.Helper()

	led, err := ledger.New(dec("12"), dec("2"))
	require.NoError(t, err)

	b := bus.New(0)
	t.Cleanup(b.Close)

	registry := instruments.New()
	builder, err := NewBuilder(DefaultBuilderConfig(), registry)
	require.NoError(t, err)

	exec := &fakeExecutor{}
	manager := positions.NewManager(positions.DefaultConfig(), exec, led, b)

	kernel := evolution.NewKernel(evolution.DefaultKernelConfig(), 11)
	market := &fakeMarket{
		klines: risingKlines(50),
		ticker: domain.Ticker{
			Symbol:    "BTCUSDT",
			Last:      dec("100"),
			Volume24h: dec("5000"),
			Change24h: dec("0.02"),
		},
		spec: domain.InstrumentSpec{
			Symbol:      "BTCUSDT",
			MinQty:      dec("0.001"),
			QtyStep:     dec("0.001"),
			TickSize:    dec("0.01"),
			MinNotional: dec("5"),
			MaxLeverage: dec("100"),
			TakerFeeBps: dec("5.5"),
		},
	}

	eng := New(DefaultConfig(), Deps{
		Bus:      b,
		Ledger:   led,
		Registry: registry,
		Builder:  builder,
		Ghost:    agents.NewGhost(agents.DefaultGhostConfig(), 7),
		Hedger:   agents.NewHedger(agents.DefaultHedgerConfig(), exec, registry),
		Guardian: agents.NewGuardian(dec("12"), 0.009, b),
		Manager:  manager,
		Memory:   memory.NewNode(0),
		Loop:     evolution.NewLoop(evolution.DefaultLoopConfig()),
		Kernel:   kernel,
		Market:   market,
		Executor: exec,
		Storage:  fakeStorage{},
		Notifier: fakeNotifier{},
	})

	// Fixed scorers make the pipeline deterministic for the smoke test.
	eng.mu.Lock()
	eng.scorers = []agents.Agent{
		stubScorer{domain.AgentTechnical, 0.9},
		stubScorer{domain.AgentQuantum, 0.9},
		stubScorer{domain.AgentHyperdim, 0.9},
		stubScorer{domain.AgentSentiment, 0.9},
		stubScorer{domain.AgentMicrostructure, 0.9},
	}
	eng.mu.Unlock()

	return eng, exec, led
}

func TestPipeline_DiscoveryToSubmission(t *testing.T) {
	eng, exec, led := newSmokeEngine(t)
	ctx := context.Background()

	eng.runDiscovery(ctx)
	eng.mu.Lock()
	watchlist := eng.watchlist
	eng.mu.Unlock()
	require.Equal(t, []string{"BTCUSDT"}, watchlist)

	eng.runScoring(ctx)
	eng.mu.Lock()
	bundle, ok := eng.bundles["BTCUSDT"]
	eng.mu.Unlock()
	require.True(t, ok)
	assert.InDelta(t, 0.9, bundle.Composite(domain.DefaultWeights()), 1e-9)

	eng.runBuilding(ctx)
	eng.mu.Lock()
	queue := eng.queue
	eng.mu.Unlock()
	require.Len(t, queue, 1)
	assert.Equal(t, domain.SideLong, queue[0].Side)

	eng.runExecution(ctx)

	exec.mu.Lock()
	placed := len(exec.placed)
	exec.mu.Unlock()
	require.Equal(t, 1, placed, "the candidate must reach the venue")

	snap := led.Snapshot()
	assert.True(t, snap.MarginLocked["BTCUSDT"].Sign() > 0, "margin allocated")

	// The monitoring tick runs without venue positions: the order stays
	// Pending and nothing breaks.
	eng.runMonitoring(ctx)
	assert.Len(t, eng.deps.Manager.Open(), 1)
}

func TestPipeline_EmergencyStopBlocksBuilding(t *testing.T) {
	eng, exec, _ := newSmokeEngine(t)
	ctx := context.Background()

	eng.deps.Manager.EmergencyStop(ctx)

	eng.runDiscovery(ctx)
	eng.runScoring(ctx)
	eng.runBuilding(ctx)
	eng.runExecution(ctx)

	exec.mu.Lock()
	defer exec.mu.Unlock()
	assert.Empty(t, exec.placed, "no orders after the emergency stop")
}

func TestHandleOutcome_FeedsMemoryAndEvolution(t *testing.T) {
	eng, _, _ := newSmokeEngine(t)

	_, err := eng.deps.Kernel.Register("technical", domain.AgentTechnical, map[string]float64{"rsi_period": 14})
	require.NoError(t, err)

	outcome := domain.TradeOutcome{
		ID:                 "o1",
		Symbol:             "BTCUSDT",
		Side:               domain.SideLong,
		Entry:              dec("100"),
		Exit:               dec("100.7"),
		Qty:                dec("0.05"),
		RealizedPnL:        dec("0.65"),
		Class:              domain.OutcomeTakeProfit,
		ClosedAt:           time.Now().UTC(),
		ContributingAgents: []string{"technical"},
		Confidences:        []float64{0.9},
	}
	eng.handleOutcome(outcome, dec("5"))

	assert.Equal(t, 1, eng.deps.Memory.Len())
	perf, ok := eng.deps.Loop.Performance("technical")
	require.True(t, ok)
	assert.Equal(t, 1, perf.TradeCount)
	assert.Greater(t, perf.Score, 0.0)

	eng.mu.Lock()
	defer eng.mu.Unlock()
	assert.Equal(t, 1, eng.roundTrips)
	assert.Equal(t, 1, eng.wins)
}
