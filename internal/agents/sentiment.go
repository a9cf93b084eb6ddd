package agents

import (
	"github.com/alejandrodnm/omniperp/internal/domain"
)

// Sentiment is an opaque producer. Without an external feed wired in it
// derives a weak tilt from the 24h change, with low confidence so the
// composite barely moves on it.
type Sentiment struct {
	name   string
	params map[string]float64
}

func NewSentiment(name string, params map[string]float64) *Sentiment {
	if name == "" {
		name = domain.AgentSentiment
	}
	return &Sentiment{name: name, params: params}
}

func (a *Sentiment) Name() string { return a.name }
func (a *Sentiment) Kind() string { return domain.AgentSentiment }

func (a *Sentiment) Evaluate(in Input) domain.AgentScore {
	change, _ := in.Ticker.Change24h.Float64()
	tilt := param(a.params, "tilt", 2)
	return clampScore(domain.AgentScore{
		Score:      0.5 + tilt*change,
		Confidence: 0.3,
	})
}
