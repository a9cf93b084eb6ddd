package domain

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func linear(n int, start, step float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = start + step*float64(i)
	}
	return out
}

func TestRSI_Bounds(t *testing.T) {
	up := RSI(linear(40, 100, 1), 14)
	down := RSI(linear(40, 140, -1), 14)

	last := up[len(up)-1]
	assert.Greater(t, last, 70.0, "subida sostenida → RSI alto, got %.2f", last)
	assert.LessOrEqual(t, last, 100.0)

	last = down[len(down)-1]
	assert.Less(t, last, 30.0, "bajada sostenida → RSI bajo, got %.2f", last)
	assert.GreaterOrEqual(t, last, 0.0)
}

func TestRSI_ShortInput(t *testing.T) {
	out := RSI([]float64{100, 101}, 14)
	assert.Len(t, out, 2)
	assert.Equal(t, 0.0, out[1], "ventana incompleta emite 0")
}

func TestMACD_SignOnTrend(t *testing.T) {
	macd, signal := MACD(linear(60, 100, 0.5))
	require.Len(t, macd, 60)
	assert.Greater(t, macd[59], 0.0, "tendencia alcista → MACD positivo")
	assert.Greater(t, signal[59], 0.0)

	macd, _ = MACD(linear(60, 130, -0.5))
	assert.Less(t, macd[59], 0.0)
}

func TestBollingerPosition(t *testing.T) {
	flat := make([]float64, 30)
	for i := range flat {
		flat[i] = 100
	}
	assert.Equal(t, 0.5, BollingerPosition(flat, 20, 2), "sin varianza → centro")

	spike := append(linear(25, 100, 0), 120)
	pos := BollingerPosition(spike, 20, 2)
	assert.Greater(t, pos, 0.9, "cierre sobre la banda superior")
}

func TestATR_FlatIsZero(t *testing.T) {
	p := decimal.RequireFromString("100")
	klines := make([]Kline, 20)
	for i := range klines {
		klines[i] = Kline{Open: p, High: p, Low: p, Close: p}
	}
	assert.Equal(t, 0.0, ATR(klines, 14))
}

func TestTrendSlope_Direction(t *testing.T) {
	assert.Greater(t, TrendSlope(linear(30, 100, 0.5), 20), 0.0)
	assert.Less(t, TrendSlope(linear(30, 130, -0.5), 20), 0.0)
	assert.Equal(t, 0.0, TrendSlope(linear(30, 100, 0), 20))
}

func TestNormalizePattern(t *testing.T) {
	out := NormalizePattern([]float64{100, 150, 200})
	assert.Equal(t, []float64{0, 0.5, 1}, out)

	flat := NormalizePattern([]float64{5, 5, 5})
	assert.Equal(t, []float64{0.5, 0.5, 0.5}, flat, "vector constante → 0.5")

	assert.Empty(t, NormalizePattern(nil))
}

func TestCompositeWeights(t *testing.T) {
	assert.NoError(t, DefaultWeights().Validate())

	bad := CompositeWeights{Technical: 0.5, Quantum: 0.5, Hyperdim: 0.5}
	assert.Error(t, bad.Validate())
}

func TestComposite_UsesNeutralForMissingAgents(t *testing.T) {
	b := ScoreBundle{Symbol: "X", Scores: map[string]AgentScore{
		AgentQuantum: {Score: 1.0, Confidence: 1.0},
	}}
	c := b.Composite(DefaultWeights())
	// 0.30·1.0 + 0.70·0.5 = 0.65
	assert.InDelta(t, 0.65, c, 1e-9)
}

func TestOpportunityValidate(t *testing.T) {
	d := decimal.RequireFromString
	long := Opportunity{
		ID: "o", Symbol: "X", Side: SideLong,
		Entry: d("100"), Stop: d("99.75"), Target: d("100.7"), Qty: d("1"),
	}
	assert.NoError(t, long.Validate())

	inverted := long
	inverted.Stop, inverted.Target = inverted.Target, inverted.Stop
	assert.Error(t, inverted.Validate())

	short := Opportunity{
		ID: "o", Symbol: "X", Side: SideShort,
		Entry: d("100"), Stop: d("100.25"), Target: d("99.3"), Qty: d("1"),
	}
	assert.NoError(t, short.Validate())

	zeroQty := long
	zeroQty.Qty = decimal.Zero
	assert.Error(t, zeroQty.Validate())
}

func TestRangeVolatility(t *testing.T) {
	d := decimal.RequireFromString
	klines := []Kline{
		{High: d("102"), Low: d("98"), Close: d("100")},
		{High: d("101"), Low: d("99"), Close: d("100")},
	}
	// (0.04 + 0.02) / 2
	assert.InDelta(t, 0.03, RangeVolatility(klines), 1e-9)
	assert.Equal(t, 0.0, RangeVolatility(nil))
}
