package agents

import (
	"encoding/binary"
	"hash/fnv"
	"math"

	"github.com/alejandrodnm/omniperp/internal/domain"
)

// OpaqueScalar is the quantum / hyperdimensional family: a deterministic
// scalar producer the engine treats as a black box. The output is a function
// of the recent price trajectory and the agent's parameter set, so two
// mutated copies of the same agent diverge while each stays reproducible.
type OpaqueScalar struct {
	name   string
	kind   string
	params map[string]float64
}

// NewQuantum creates the quantum-flavored producer.
func NewQuantum(name string, params map[string]float64) *OpaqueScalar {
	if name == "" {
		name = domain.AgentQuantum
	}
	return &OpaqueScalar{name: name, kind: domain.AgentQuantum, params: params}
}

// NewHyperdimensional creates the hyperdimensional-flavored producer.
func NewHyperdimensional(name string, params map[string]float64) *OpaqueScalar {
	if name == "" {
		name = domain.AgentHyperdim
	}
	return &OpaqueScalar{name: name, kind: domain.AgentHyperdim, params: params}
}

func (a *OpaqueScalar) Name() string { return a.name }
func (a *OpaqueScalar) Kind() string { return a.kind }

func (a *OpaqueScalar) Evaluate(in Input) domain.AgentScore {
	closes := domain.ClosesFloat(in.Klines)
	if len(closes) < 10 {
		return domain.AgentScore{Score: 0.5, Confidence: 0}
	}

	trend := domain.TrendSlope(closes, int(param(a.params, "trend_window", 20)))
	vol := domain.RangeVolatility(in.Klines)

	// Parameterized projection of the trajectory: phase and gain mutate.
	gain := param(a.params, "gain", 120)
	phase := param(a.params, "phase", 0.5)
	base := sigmoid(gain*trend + phase - 0.5)

	// Deterministic per-symbol dither keeps sibling agents decorrelated.
	h := fnv.New64a()
	_, _ = h.Write([]byte(a.name))
	_, _ = h.Write([]byte(in.Symbol))
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], math.Float64bits(closes[len(closes)-1]))
	_, _ = h.Write(buf[:])
	dither := float64(h.Sum64()%1000)/1000*0.1 - 0.05

	score := domain.Clamp01(base + dither)
	confidence := domain.Clamp01(param(a.params, "confidence_base", 0.7) * (1 - 5*vol))

	return domain.AgentScore{Score: score, Confidence: confidence}
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}
