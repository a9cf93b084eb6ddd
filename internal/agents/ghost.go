package agents

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/alejandrodnm/omniperp/internal/domain"
)

// GhostConfig tunes the pre-trade Monte-Carlo gate.
type GhostConfig struct {
	Simulations int           // price paths per candidate
	Steps       int           // ticks per path
	MinWinRate  float64       // accept floor on simulated win rate
	MinROI      float64       // accept floor on mean simulated ROI
	Cooldown    time.Duration // rejected symbols are not retried within this
}

// DefaultGhostConfig returns the standard gate parameters.
func DefaultGhostConfig() GhostConfig {
	return GhostConfig{
		Simulations: 100,
		Steps:       120,
		MinWinRate:  0.6,
		MinROI:      0.01,
		Cooldown:    5 * time.Minute,
	}
}

// GhostVerdict is the aggregated simulation outcome for one candidate.
type GhostVerdict struct {
	Approved bool
	WinRate  float64
	MeanROI  float64
	Reason   string
}

// Ghost simulates a candidate before real capital touches it: geometric
// random walks with drift proportional to the direction-signed trend and
// volatility taken from the klines. A path wins when the target is hit
// before the stop.
type Ghost struct {
	cfg GhostConfig

	mu        sync.Mutex
	rng       *rand.Rand
	rejected  map[string]time.Time
	approvals int
	attempts  int
}

// NewGhost creates the gate. seed fixes the path generator for tests;
// pass 0 for a time-based seed.
func NewGhost(cfg GhostConfig, seed int64) *Ghost {
	if cfg.Simulations <= 0 {
		cfg.Simulations = 100
	}
	if cfg.Steps <= 0 {
		cfg.Steps = 120
	}
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Ghost{
		cfg:      cfg,
		rng:      rand.New(rand.NewSource(seed)),
		rejected: make(map[string]time.Time),
	}
}

// InCooldown reports whether a symbol was rejected within the cooldown
// window.
func (g *Ghost) InCooldown(symbol string, now time.Time) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	at, ok := g.rejected[symbol]
	return ok && now.Sub(at) < g.cfg.Cooldown
}

// Approve runs the simulation set for one opportunity.
func (g *Ghost) Approve(opp domain.Opportunity, klines []domain.Kline) GhostVerdict {
	entry, _ := opp.Entry.Float64()
	stop, _ := opp.Stop.Float64()
	target, _ := opp.Target.Float64()
	if entry <= 0 {
		return GhostVerdict{Reason: "no entry price"}
	}

	trend := domain.TrendSlope(domain.ClosesFloat(klines), 20)
	vol := math.Max(domain.RangeVolatility(klines), 0.0005)

	// Drift favors the trade when the trend points the same way.
	sign := 1.0
	if opp.Side == domain.SideShort {
		sign = -1.0
	}
	drift := sign * trend * 0.1
	stepVol := vol / math.Sqrt(float64(g.cfg.Steps))

	g.mu.Lock()
	defer g.mu.Unlock()
	g.attempts++

	wins := 0
	totalROI := 0.0
	for i := 0; i < g.cfg.Simulations; i++ {
		exit, hitTarget := g.walkPath(entry, stop, target, drift, stepVol, opp.Side)
		roi := sign * (exit - entry) / entry * float64(opp.Leverage)
		totalROI += roi
		if hitTarget {
			wins++
		}
	}

	winRate := float64(wins) / float64(g.cfg.Simulations)
	meanROI := totalROI / float64(g.cfg.Simulations)

	v := GhostVerdict{WinRate: winRate, MeanROI: meanROI}
	switch {
	case winRate < g.cfg.MinWinRate:
		v.Reason = "simulated win rate below floor"
	case meanROI < g.cfg.MinROI:
		v.Reason = "simulated ROI below floor"
	default:
		v.Approved = true
		g.approvals++
	}
	if !v.Approved {
		g.rejected[opp.Symbol] = time.Now().UTC()
	}
	return v
}

// walkPath advances one geometric path until stop or target is crossed.
// A path that times out resolves at its final price and never counts as a win.
func (g *Ghost) walkPath(entry, stop, target, drift, stepVol float64, side domain.Side) (exit float64, hitTarget bool) {
	price := entry
	for s := 0; s < g.cfg.Steps; s++ {
		z := g.rng.NormFloat64()
		price *= math.Exp(drift - 0.5*stepVol*stepVol + stepVol*z)

		if side == domain.SideLong {
			if price <= stop {
				return stop, false
			}
			if price >= target {
				return target, true
			}
		} else {
			if price >= stop {
				return stop, false
			}
			if price <= target {
				return target, true
			}
		}
	}
	return price, false
}

// Stats returns lifetime attempts and approvals.
func (g *Ghost) Stats() (attempts, approvals int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.attempts, g.approvals
}
