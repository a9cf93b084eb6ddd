package storage

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/omniperp/internal/domain"
	"github.com/alejandrodnm/omniperp/internal/evolution"
)

func newTestStorage(t *testing.T) *SQLiteStorage {
	t.Helper()
	s, err := NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSaveLoadOutcome_RoundTrip(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	o := domain.TradeOutcome{
		ID:                 "out-1",
		Symbol:             "BTCUSDT",
		Side:               domain.SideLong,
		Entry:              decimal.RequireFromString("50000.123456789"),
		Exit:               decimal.RequireFromString("50350.987654321"),
		Qty:                decimal.RequireFromString("0.001"),
		Leverage:           75,
		RealizedPnL:        decimal.RequireFromString("0.645"),
		Fees:               decimal.RequireFromString("0.055"),
		OpenedAt:           time.Now().Add(-time.Minute).UTC().Truncate(time.Second),
		ClosedAt:           time.Now().UTC().Truncate(time.Second),
		ContributingAgents: []string{"technical", "quantum"},
		Confidences:        []float64{0.8, 0.9},
		Tags:               []string{"c0.80-v0.0012", "take_profit"},
		Class:              domain.OutcomeTakeProfit,
		Pattern:            []float64{0.1, 0.5, 1.0},
	}
	require.NoError(t, s.SaveOutcome(ctx, o))

	// El ID es primary key: un outcome es inmutable, reinsertar falla.
	assert.Error(t, s.SaveOutcome(ctx, o))

	loaded, err := s.LoadOutcomes(ctx, 10)
	require.NoError(t, err)
	require.Len(t, loaded, 1)

	got := loaded[0]
	assert.Equal(t, o.ID, got.ID)
	assert.True(t, got.Entry.Equal(o.Entry), "la precisión decimal sobrevive el round-trip")
	assert.True(t, got.RealizedPnL.Equal(o.RealizedPnL))
	assert.Equal(t, o.ContributingAgents, got.ContributingAgents)
	assert.Equal(t, o.Confidences, got.Confidences)
	assert.Equal(t, o.Pattern, got.Pattern)
	assert.Equal(t, domain.OutcomeTakeProfit, got.Class)
	assert.Equal(t, 75, got.Leverage)
}

func TestSaveLoadAgents_Upsert(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	agents := []evolution.AgentMetadata{
		{Name: "quantum", Kind: "quantum", Generation: 0, Params: map[string]float64{"gain": 120}, Active: true, CreatedAt: time.Now().UTC()},
		{Name: "quantum-g1", Kind: "quantum", Generation: 1, Parent: "quantum", Params: map[string]float64{"gain": 118.3}, Active: true, CreatedAt: time.Now().UTC()},
	}
	require.NoError(t, s.SaveAgents(ctx, agents))

	// Upsert: matar al padre y re-guardar no duplica filas.
	agents[0].Active = false
	require.NoError(t, s.SaveAgents(ctx, agents))

	loaded, err := s.LoadAgents(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 2)

	byName := map[string]evolution.AgentMetadata{}
	for _, a := range loaded {
		byName[a.Name] = a
	}
	assert.False(t, byName["quantum"].Active)
	assert.Equal(t, "quantum", byName["quantum-g1"].Parent)
	assert.InDelta(t, 118.3, byName["quantum-g1"].Params["gain"], 1e-9)
}

func TestBreaker_RoundTripAndDefault(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	tripped, realized, err := s.LoadBreaker(ctx)
	require.NoError(t, err)
	assert.False(t, tripped)
	assert.Equal(t, "0", realized)

	require.NoError(t, s.SaveBreaker(ctx, true, "-0.108"))
	require.NoError(t, s.SaveBreaker(ctx, true, "-0.110")) // upsert

	tripped, realized, err = s.LoadBreaker(ctx)
	require.NoError(t, err)
	assert.True(t, tripped)
	assert.Equal(t, "-0.110", realized)
}
