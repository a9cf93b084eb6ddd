package agents

import (
	"math"

	"github.com/alejandrodnm/omniperp/internal/domain"
)

// Technical scores a symbol from RSI, MACD, Bollinger position, volume trend
// and ATR. Sub-signals vote; confidence grows with their agreement.
type Technical struct {
	name   string
	params map[string]float64
}

// NewTechnical creates a technical agent. params may override rsi_period,
// bollinger_period, bollinger_k, volume_window and atr_period.
func NewTechnical(name string, params map[string]float64) *Technical {
	if name == "" {
		name = domain.AgentTechnical
	}
	return &Technical{name: name, params: params}
}

func (a *Technical) Name() string { return a.name }
func (a *Technical) Kind() string { return domain.AgentTechnical }

func (a *Technical) Evaluate(in Input) domain.AgentScore {
	closes := domain.ClosesFloat(in.Klines)
	if len(closes) < 30 {
		return domain.AgentScore{Score: 0.5, Confidence: 0}
	}

	rsiPeriod := int(param(a.params, "rsi_period", 14))
	bbPeriod := int(param(a.params, "bollinger_period", 20))
	bbK := param(a.params, "bollinger_k", 2)
	volWindow := int(param(a.params, "volume_window", 5))
	atrPeriod := int(param(a.params, "atr_period", 14))

	// RSI: oversold leans long, overbought leans short.
	rsi := domain.RSI(closes, rsiPeriod)
	last := rsi[len(rsi)-1]
	rsiScore := 1 - last/100

	// MACD: histogram sign relative to recent price scale.
	macd, signal := domain.MACD(closes)
	hist := macd[len(macd)-1] - signal[len(signal)-1]
	price := closes[len(closes)-1]
	macdScore := 0.5
	if price > 0 {
		macdScore = domain.Clamp01(0.5 + 50*hist/price)
	}

	// Bollinger: bottom of the band leans long (mean reversion).
	bbScore := 1 - domain.BollingerPosition(closes, bbPeriod, bbK)

	// Volume expansion confirms whatever direction price trends.
	trend := domain.TrendSlope(closes, 10)
	volTrend := domain.VolumeTrend(domain.VolumesFloat(in.Klines), volWindow)
	volScore := 0.5
	if volTrend > 1.2 {
		volScore = domain.Clamp01(0.5 + 20*trend)
	}

	score := 0.30*rsiScore + 0.30*macdScore + 0.25*bbScore + 0.15*volScore

	// Agreement: low dispersion between sub-signals = high confidence.
	// High ATR relative to price discounts it.
	subs := []float64{rsiScore, macdScore, bbScore, volScore}
	mean := 0.0
	for _, s := range subs {
		mean += s
	}
	mean /= float64(len(subs))
	dispersion := 0.0
	for _, s := range subs {
		dispersion += math.Abs(s - mean)
	}
	dispersion /= float64(len(subs))
	confidence := domain.Clamp01(1 - 2*dispersion)

	if price > 0 {
		atr := domain.ATR(in.Klines, atrPeriod)
		confidence *= domain.Clamp01(1 - 10*atr/price)
	}

	return clampScore(domain.AgentScore{Score: score, Confidence: confidence})
}
