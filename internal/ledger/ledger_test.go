package ledger

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()
	l, err := New(dec("12"), dec("2"))
	require.NoError(t, err)
	return l
}

func TestNew_InvalidSeedAndBuffer(t *testing.T) {
	_, err := New(dec("0"), dec("0"))
	assert.Error(t, err)

	_, err = New(dec("12"), dec("12"))
	assert.Error(t, err)

	_, err = New(dec("12"), dec("-1"))
	assert.Error(t, err)
}

func TestAllocateRelease_RoundTrip(t *testing.T) {
	l := newTestLedger(t)

	require.NoError(t, l.Allocate("BTCUSDT", dec("5")))
	snap := l.Snapshot()
	assert.True(t, snap.Available.Equal(dec("5")), "available=%s", snap.Available)
	assert.True(t, snap.MarginLocked["BTCUSDT"].Equal(dec("5")))

	require.NoError(t, l.Release("BTCUSDT", dec("5"), dec("0.7")))
	snap = l.Snapshot()
	// Only the margin returns: profit lands in realized P&L, never in the
	// sizing pool.
	assert.True(t, snap.Available.Equal(dec("10")), "available=%s", snap.Available)
	assert.True(t, snap.RealizedPnL.Equal(dec("0.7")))
	_, locked := snap.MarginLocked["BTCUSDT"]
	assert.False(t, locked, "margin entry should be gone after full release")

	assert.NoError(t, l.CheckConservation())
}

func TestAllocate_InsufficientAvailable(t *testing.T) {
	l := newTestLedger(t)

	err := l.Allocate("BTCUSDT", dec("10.5"))
	assert.ErrorIs(t, err, ErrInsufficientAvailable)

	snap := l.Snapshot()
	assert.True(t, snap.Available.Equal(dec("10")), "failed allocation must not mutate state")
}

func TestAllocate_SeedCap(t *testing.T) {
	l, err := New(dec("12"), dec("2"))
	require.NoError(t, err)
	// A big win grows realized P&L but never the sizing pool.
	require.NoError(t, l.Allocate("ETHUSDT", dec("4")))
	require.NoError(t, l.Release("ETHUSDT", dec("4"), dec("6")))
	snap := l.Snapshot()
	require.True(t, snap.Available.Equal(dec("10")), "profit must not reinvest, available=%s", snap.Available)
	require.True(t, snap.RealizedPnL.Equal(dec("6")))

	err = l.Allocate("ETHUSDT", dec("13"))
	assert.ErrorIs(t, err, ErrExceedsSeedCap)
}

func TestRelease_UnknownSymbol(t *testing.T) {
	l := newTestLedger(t)
	err := l.Release("DOGEUSDT", dec("1"), dec("0"))
	assert.ErrorIs(t, err, ErrUnknownSymbol)
}

func TestRelease_ClampsToLocked(t *testing.T) {
	l := newTestLedger(t)
	require.NoError(t, l.Allocate("BTCUSDT", dec("3")))

	// Ask to release more than is locked; clamp to 3.
	require.NoError(t, l.Release("BTCUSDT", dec("99"), dec("0.1")))
	snap := l.Snapshot()
	assert.True(t, snap.Available.Equal(dec("10")), "available=%s", snap.Available)
	assert.True(t, snap.RealizedPnL.Equal(dec("0.1")))
}

func TestRelease_LossBeyondMarginSaturatesAvailable(t *testing.T) {
	l := newTestLedger(t)
	// Lock everything, then lose more than the margin (leverage effect).
	require.NoError(t, l.Allocate("BTCUSDT", dec("10")))
	require.NoError(t, l.Release("BTCUSDT", dec("10"), dec("-11")))

	snap := l.Snapshot()
	assert.True(t, snap.Available.Equal(decimal.Zero), "available saturates at 0, got %s", snap.Available)
	assert.True(t, snap.RealizedPnL.Equal(dec("-11")), "loss recorded honestly, got %s", snap.RealizedPnL)
	// Saturation is the sanctioned divergence; CheckConservation allows it.
	assert.NoError(t, l.CheckConservation())
}

func TestAvailableNeverNegative(t *testing.T) {
	l := newTestLedger(t)
	require.NoError(t, l.Allocate("A", dec("2")))
	require.NoError(t, l.Allocate("B", dec("8")))
	require.NoError(t, l.Release("A", dec("2"), dec("-5")))
	assert.True(t, l.Snapshot().Available.GreaterThanOrEqual(decimal.Zero))
	require.NoError(t, l.Release("B", dec("8"), dec("-1")))
	assert.True(t, l.Snapshot().Available.GreaterThanOrEqual(decimal.Zero))
}

func TestConservation_ManySequences(t *testing.T) {
	l := newTestLedger(t)

	steps := []struct {
		alloc  bool
		symbol string
		amount string
		pnl    string
	}{
		{true, "BTCUSDT", "3", ""},
		{true, "ETHUSDT", "4", ""},
		{false, "BTCUSDT", "3", "0.4"},
		{true, "SOLUSDT", "2", ""},
		{false, "ETHUSDT", "4", "-0.2"},
		{false, "SOLUSDT", "2", "0.65"},
	}
	for _, s := range steps {
		if s.alloc {
			require.NoError(t, l.Allocate(s.symbol, dec(s.amount)))
		} else {
			require.NoError(t, l.Release(s.symbol, dec(s.amount), dec(s.pnl)))
		}
		require.NoError(t, l.CheckConservation())
	}

	snap := l.Snapshot()
	assert.True(t, snap.RealizedPnL.Equal(dec("0.85")))
	// Wins (0.4, 0.65) stay out of available; the 0.2 loss debits it.
	assert.True(t, snap.Available.Equal(dec("9.8")), "available=%s", snap.Available)
	assert.Empty(t, snap.MarginLocked)
}

func TestListener_ReceivesEvents(t *testing.T) {
	l := newTestLedger(t)

	var events []Event
	l.SetListener(func(ev Event) { events = append(events, ev) })

	require.NoError(t, l.Allocate("BTCUSDT", dec("1")))
	require.NoError(t, l.Release("BTCUSDT", dec("1"), dec("0.1")))

	require.Len(t, events, 2)
	assert.Equal(t, EventAllocate, events[0].Kind)
	assert.Equal(t, EventRelease, events[1].Kind)
	assert.True(t, events[1].PnLDelta.Equal(dec("0.1")))
	assert.True(t, events[1].Snapshot.RealizedPnL.Equal(dec("0.1")))
}

func TestSnapshot_IsACopy(t *testing.T) {
	l := newTestLedger(t)
	require.NoError(t, l.Allocate("BTCUSDT", dec("1")))

	snap := l.Snapshot()
	snap.MarginLocked["BTCUSDT"] = dec("999")

	assert.True(t, l.Snapshot().MarginLocked["BTCUSDT"].Equal(dec("1")))
}
