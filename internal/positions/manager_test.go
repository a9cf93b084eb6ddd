package positions

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/omniperp/internal/bus"
	"github.com/alejandrodnm/omniperp/internal/domain"
	"github.com/alejandrodnm/omniperp/internal/ledger"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// fakeExecutor scripts the venue: settable position list, recorded orders.
type fakeExecutor struct {
	mu        sync.Mutex
	nextID    int
	placed    []domain.OrderRequest
	closes    []string
	positions map[string]domain.VenuePosition
	placeErr  error
}

func newFakeExecutor() *fakeExecutor {
	return &fakeExecutor{positions: make(map[string]domain.VenuePosition)}
}

func (f *fakeExecutor) PlaceOrder(_ context.Context, req domain.OrderRequest) (domain.OrderAck, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.placeErr != nil {
		return domain.OrderAck{}, f.placeErr
	}
	f.nextID++
	f.placed = append(f.placed, req)
	return domain.OrderAck{OrderID: "ord-" + string(rune('a'+f.nextID-1))}, nil
}

func (f *fakeExecutor) ClosePosition(_ context.Context, symbol string, _ domain.Side, _ decimal.Decimal) (domain.OrderAck, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes = append(f.closes, symbol)
	return domain.OrderAck{OrderID: "close-" + symbol}, nil
}

func (f *fakeExecutor) FetchPositions(context.Context) ([]domain.VenuePosition, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.VenuePosition, 0, len(f.positions))
	for _, p := range f.positions {
		out = append(out, p)
	}
	return out, nil
}

func (f *fakeExecutor) FetchWalletBalance(context.Context) (domain.WalletBalance, error) {
	return domain.WalletBalance{Coin: "USDT", Balance: dec("12")}, nil
}

func (f *fakeExecutor) setPosition(symbol string, side domain.Side, size, avg, mark, upnl string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.positions[symbol] = domain.VenuePosition{
		Symbol: symbol, Side: side,
		Size: dec(size), AvgPrice: dec(avg), MarkPrice: dec(mark), UnrealisedPnl: dec(upnl),
		Leverage: dec("50"),
	}
}

func (f *fakeExecutor) clearPosition(symbol string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.positions, symbol)
}

func longOpp() domain.Opportunity {
	now := time.Now().UTC()
	return domain.Opportunity{
		ID:                 "opp-1",
		Symbol:             "BTCUSDT",
		Side:               domain.SideLong,
		Entry:              dec("100"),
		Stop:               dec("99.75"),
		Target:             dec("100.8"),
		Qty:                dec("0.05"),
		Leverage:           50,
		Margin:             dec("4"),
		ExpectedNetProfit:  dec("0.65"),
		Confidence:         0.8,
		ContributingAgents: []string{"technical"},
		AgentConfidences:   []float64{0.8},
		CreatedAt:          now,
		ExpiresAt:          now.Add(5 * time.Minute),
	}
}

func newTestManager(t *testing.T) (*Manager, *fakeExecutor, *ledger.Ledger) {
	t.Helper()
	led, err := ledger.New(dec("12"), dec("2"))
	require.NoError(t, err)
	b := bus.New(0)
	t.Cleanup(b.Close)
	exec := newFakeExecutor()
	m := NewManager(DefaultConfig(), exec, led, b)
	return m, exec, led
}

func TestSubmit_AllocatesAndAttachesStops(t *testing.T) {
	m, exec, led := newTestManager(t)

	pos, err := m.Submit(context.Background(), longOpp(), nil)
	require.NoError(t, err)
	assert.Equal(t, domain.PositionPending, pos.State)

	snap := led.Snapshot()
	assert.True(t, snap.MarginLocked["BTCUSDT"].Equal(dec("4")))

	require.Len(t, exec.placed, 1)
	req := exec.placed[0]
	assert.True(t, req.StopLoss.Equal(dec("99.75")))
	assert.True(t, req.TakeProfit.Equal(dec("100.8")))
	assert.Equal(t, "Market", req.OrderType)
}

func TestSubmit_PlacementFailureRollsBack(t *testing.T) {
	m, exec, led := newTestManager(t)
	exec.placeErr = context.DeadlineExceeded

	_, err := m.Submit(context.Background(), longOpp(), nil)
	require.Error(t, err)

	snap := led.Snapshot()
	assert.Empty(t, snap.MarginLocked)
	assert.True(t, snap.Available.Equal(dec("10")))
}

func TestPendingToOpenOnVenueFill(t *testing.T) {
	m, exec, _ := newTestManager(t)
	pos, err := m.Submit(context.Background(), longOpp(), nil)
	require.NoError(t, err)

	exec.setPosition("BTCUSDT", domain.SideLong, "0.05", "100.02", "100.02", "0")
	require.NoError(t, m.Poll(context.Background()))

	got := m.Open()[pos.OrderID]
	assert.Equal(t, domain.PositionOpen, got.State)
	assert.True(t, got.EntryActual.Equal(dec("100.02")))
}

func TestPendingTimeoutRollsBack(t *testing.T) {
	m, _, led := newTestManager(t)
	_, err := m.Submit(context.Background(), longOpp(), nil)
	require.NoError(t, err)

	// Advance the clock past the pending timeout; the venue never fills.
	m.now = func() time.Time { return time.Now().Add(time.Minute) }
	require.NoError(t, m.Poll(context.Background()))

	assert.Empty(t, m.Open())
	snap := led.Snapshot()
	assert.Empty(t, snap.MarginLocked, "unverified fill must be rolled back")
	assert.True(t, snap.RealizedPnL.IsZero())
}

// Scenario: Long entry 100, distance 0.005, activation 0.006. Marks
// 100 → 100.6 arm with stop 100.097; 100.75 advances to 100.24625; a
// pullback to 100.5 keeps the stop; 100.20 triggers the exit.
func TestTrailingStop_ArmAdvanceTrigger(t *testing.T) {
	m, exec, _ := newTestManager(t)
	pos, err := m.Submit(context.Background(), longOpp(), nil)
	require.NoError(t, err)

	exec.setPosition("BTCUSDT", domain.SideLong, "0.05", "100", "100", "0")
	require.NoError(t, m.Poll(context.Background()))
	require.Equal(t, domain.PositionOpen, m.Open()[pos.OrderID].State)

	exec.setPosition("BTCUSDT", domain.SideLong, "0.05", "100", "100.6", "0.03")
	require.NoError(t, m.Poll(context.Background()))
	got := m.Open()[pos.OrderID]
	require.True(t, got.Trailing.Armed, "trail arms at +0.6%%")
	assert.True(t, got.Trailing.Stop.Equal(dec("100.0970")), "stop=%s", got.Trailing.Stop)

	exec.setPosition("BTCUSDT", domain.SideLong, "0.05", "100", "100.75", "0.0375")
	require.NoError(t, m.Poll(context.Background()))
	got = m.Open()[pos.OrderID]
	assert.True(t, got.Trailing.Stop.Equal(dec("100.246250")), "stop=%s", got.Trailing.Stop)

	// A pullback must never retreat the stop.
	exec.setPosition("BTCUSDT", domain.SideLong, "0.05", "100", "100.5", "0.025")
	require.NoError(t, m.Poll(context.Background()))
	got = m.Open()[pos.OrderID]
	assert.True(t, got.Trailing.Stop.Equal(dec("100.246250")), "stop retreated to %s", got.Trailing.Stop)

	// Crossing the trail exits.
	exec.setPosition("BTCUSDT", domain.SideLong, "0.05", "100", "100.20", "0.01")
	require.NoError(t, m.Poll(context.Background()))
	got = m.Open()[pos.OrderID]
	assert.Equal(t, domain.PositionExiting, got.State)
	assert.Equal(t, "trailing_stop", got.ExitReason)
	assert.Contains(t, exec.closes, "BTCUSDT")
}

func TestCloseEmitsOutcomeAndReleasesLedger(t *testing.T) {
	m, exec, led := newTestManager(t)

	var outcomes []domain.TradeOutcome
	m.SetOutcomeFunc(func(o domain.TradeOutcome, _ decimal.Decimal) {
		outcomes = append(outcomes, o)
	})

	_, err := m.Submit(context.Background(), longOpp(), []float64{0.1, 0.5, 0.9})
	require.NoError(t, err)

	exec.setPosition("BTCUSDT", domain.SideLong, "0.05", "100", "100", "0")
	require.NoError(t, m.Poll(context.Background()))

	// Target crossed → Exiting.
	exec.setPosition("BTCUSDT", domain.SideLong, "0.05", "100", "100.9", "0.045")
	require.NoError(t, m.Poll(context.Background()))

	// Venue confirms the close.
	exec.clearPosition("BTCUSDT")
	require.NoError(t, m.Poll(context.Background()))

	require.Len(t, outcomes, 1)
	o := outcomes[0]
	assert.Equal(t, domain.OutcomeTakeProfit, o.Class)
	// pnl = (100.9-100)·0.05 − fees; fees = (100+100.9)·0.05·5.5e-4
	gross := dec("0.045")
	fees := dec("100").Add(dec("100.9")).Mul(dec("0.05")).Mul(dec("0.00055"))
	assert.True(t, o.RealizedPnL.Equal(gross.Sub(fees)), "pnl=%s", o.RealizedPnL)
	assert.Equal(t, []float64{0.1, 0.5, 0.9}, o.Pattern)

	snap := led.Snapshot()
	assert.Empty(t, snap.MarginLocked)
	assert.True(t, snap.RealizedPnL.Equal(o.RealizedPnL))
	assert.Empty(t, m.Open())
}

func TestStopLossExit(t *testing.T) {
	m, exec, _ := newTestManager(t)
	pos, err := m.Submit(context.Background(), longOpp(), nil)
	require.NoError(t, err)

	exec.setPosition("BTCUSDT", domain.SideLong, "0.05", "100", "100", "0")
	require.NoError(t, m.Poll(context.Background()))

	exec.setPosition("BTCUSDT", domain.SideLong, "0.05", "100", "99.70", "-0.015")
	require.NoError(t, m.Poll(context.Background()))

	got := m.Open()[pos.OrderID]
	assert.Equal(t, domain.PositionExiting, got.State)
	assert.Equal(t, "stop_loss", got.ExitReason)
}

func TestEmergencyStopFlattensAndBlocksSubmits(t *testing.T) {
	m, exec, _ := newTestManager(t)
	_, err := m.Submit(context.Background(), longOpp(), nil)
	require.NoError(t, err)

	exec.setPosition("BTCUSDT", domain.SideLong, "0.05", "100", "100.1", "0.005")
	require.NoError(t, m.Poll(context.Background()))

	m.EmergencyStop(context.Background())
	assert.Contains(t, exec.closes, "BTCUSDT")

	opp := longOpp()
	opp.ID = "opp-2"
	_, err = m.Submit(context.Background(), opp, nil)
	assert.Error(t, err, "no new positions after the stop")
}

func TestShortSideExitConditions(t *testing.T) {
	m, exec, _ := newTestManager(t)
	opp := longOpp()
	opp.Side = domain.SideShort
	opp.Stop = dec("100.25")
	opp.Target = dec("99.3")
	pos, err := m.Submit(context.Background(), opp, nil)
	require.NoError(t, err)

	exec.setPosition("BTCUSDT", domain.SideShort, "0.05", "100", "100", "0")
	require.NoError(t, m.Poll(context.Background()))

	// Short trail: arm once frac uPnL ≥ activation (price fell 0.6%).
	exec.setPosition("BTCUSDT", domain.SideShort, "0.05", "100", "99.4", "0.03")
	require.NoError(t, m.Poll(context.Background()))
	got := m.Open()[pos.OrderID]
	require.True(t, got.Trailing.Armed)
	assert.True(t, got.Trailing.Stop.Equal(dec("99.8970")), "stop=%s", got.Trailing.Stop)

	// Target crossing exits.
	exec.setPosition("BTCUSDT", domain.SideShort, "0.05", "100", "99.25", "0.0375")
	require.NoError(t, m.Poll(context.Background()))
	got = m.Open()[pos.OrderID]
	assert.Equal(t, domain.PositionExiting, got.State)
	assert.Equal(t, "take_profit", got.ExitReason)
}
