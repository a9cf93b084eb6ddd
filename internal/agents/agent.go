// Package agents hosts the scoring population and the pre/post-trade guards:
// scorers (technical, pattern, sentiment, microstructure, opaque scalar
// producers), the ghost simulator, the anti-loss hedger, and the drawdown
// guardian.
package agents

import (
	"github.com/alejandrodnm/omniperp/internal/domain"
)

// Input is the market snapshot an agent scores against.
type Input struct {
	Symbol string
	Klines []domain.Kline
	Ticker domain.Ticker
	Book   domain.OrderBook
}

// Agent produces a directional score and a confidence, both in [0,1].
// Score > 0.5 leans long, < 0.5 leans short. The engine treats every agent as
// a black box beyond that contract.
type Agent interface {
	Name() string
	Kind() string
	Evaluate(in Input) domain.AgentScore
}

// clampScore keeps an agent output inside the contract range.
func clampScore(s domain.AgentScore) domain.AgentScore {
	s.Score = domain.Clamp01(s.Score)
	s.Confidence = domain.Clamp01(s.Confidence)
	return s
}

// param reads a parameter with a default. Mutated agents carry perturbed
// copies of these maps.
func param(params map[string]float64, key string, def float64) float64 {
	if v, ok := params[key]; ok && v > 0 {
		return v
	}
	return def
}
