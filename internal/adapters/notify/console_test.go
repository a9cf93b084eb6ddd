package notify

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/omniperp/internal/domain"
	"github.com/alejandrodnm/omniperp/internal/evolution"
	"github.com/alejandrodnm/omniperp/internal/ports"
)

func TestNotifyOutcome_VerboseOnly(t *testing.T) {
	var quiet, verbose bytes.Buffer

	o := domain.TradeOutcome{
		Symbol:      "BTCUSDT",
		Side:        domain.SideLong,
		Entry:       decimal.RequireFromString("100"),
		Exit:        decimal.RequireFromString("100.7"),
		RealizedPnL: decimal.RequireFromString("0.645"),
		Class:       domain.OutcomeTakeProfit,
		ClosedAt:    time.Now(),
	}

	require.NoError(t, NewConsoleWriter(&quiet, false).NotifyOutcome(context.Background(), o))
	assert.Empty(t, quiet.String())

	require.NoError(t, NewConsoleWriter(&verbose, true).NotifyOutcome(context.Background(), o))
	assert.Contains(t, verbose.String(), "BTCUSDT")
	assert.Contains(t, verbose.String(), "0.645")
}

func TestNotifyPerformance(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsoleWriter(&buf, false)

	err := c.NotifyPerformance(context.Background(), ports.PerformanceReport{
		Cycle: 3, RoundTrips: 40, Wins: 36, WinRate: 0.9,
		NetProfit: "25.1000", AvgProfit: "0.6275", TripsPerDay: 820,
		OpenPositions: 2, Available: "7.5", RealizedPnL: "25.1",
	})
	require.NoError(t, err)
	out := buf.String()
	assert.Contains(t, out, "trips=40")
	assert.Contains(t, out, "90.0%")
	assert.NotContains(t, out, "EMERGENCY")
}

func TestNotifyLeaderboard(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsoleWriter(&buf, false)

	err := c.NotifyLeaderboard(context.Background(), []evolution.LeaderboardRow{
		{Name: "quantum", Kind: "quantum", Generation: 2, Score: 0.71, SuccessRate: 0.88, Trades: 120, Active: true},
		{Name: "pattern", Kind: "pattern", Generation: 0, Score: -0.2, SuccessRate: 0.41, Trades: 50, Active: false},
	})
	require.NoError(t, err)
	out := buf.String()
	assert.Contains(t, out, "quantum")
	assert.Contains(t, out, "muerto")

	// Tabla vacía: sin output.
	buf.Reset()
	require.NoError(t, c.NotifyLeaderboard(context.Background(), nil))
	assert.Empty(t, buf.String())
}
