package agents

import (
	"github.com/shopspring/decimal"

	"github.com/alejandrodnm/omniperp/internal/domain"
)

// Microstructure scores order book spread and depth imbalance. More bid
// depth than ask depth leans long; a wide spread kills confidence.
type Microstructure struct {
	name   string
	params map[string]float64
}

func NewMicrostructure(name string, params map[string]float64) *Microstructure {
	if name == "" {
		name = domain.AgentMicrostructure
	}
	return &Microstructure{name: name, params: params}
}

func (a *Microstructure) Name() string { return a.name }
func (a *Microstructure) Kind() string { return domain.AgentMicrostructure }

func (a *Microstructure) Evaluate(in Input) domain.AgentScore {
	if len(in.Book.Bids) == 0 || len(in.Book.Asks) == 0 {
		return domain.AgentScore{Score: 0.5, Confidence: 0}
	}

	depth := int(param(a.params, "depth_levels", 10))
	bidDepth := sumDepth(in.Book.Bids, depth)
	askDepth := sumDepth(in.Book.Asks, depth)
	total := bidDepth + askDepth
	if total == 0 {
		return domain.AgentScore{Score: 0.5, Confidence: 0}
	}

	// Imbalance in [-1,1] mapped to [0,1].
	imbalance := (bidDepth - askDepth) / total
	score := 0.5 + 0.5*imbalance

	mid := in.Book.BestBid().Add(in.Book.BestAsk()).Div(decimal.NewFromInt(2))
	confidence := 0.0
	if mid.Sign() > 0 {
		spreadFrac, _ := in.Book.Spread().Div(mid).Float64()
		maxSpread := param(a.params, "max_spread_frac", 0.001)
		confidence = domain.Clamp01(1 - spreadFrac/maxSpread)
	}

	return clampScore(domain.AgentScore{Score: score, Confidence: confidence})
}

func sumDepth(levels []domain.BookLevel, n int) float64 {
	if n > len(levels) {
		n = len(levels)
	}
	total := 0.0
	for _, lvl := range levels[:n] {
		notional, _ := lvl.Price.Mul(lvl.Size).Float64()
		total += notional
	}
	return total
}
