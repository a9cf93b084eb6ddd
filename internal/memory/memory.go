// Package memory is the bounded trade-outcome store with a symbol index, a
// coarse fractal-signature index, and the reinforcement generator feeding the
// evolution loop.
package memory

import (
	"fmt"
	"hash/fnv"
	"math"
	"sync"
	"time"

	"github.com/alejandrodnm/omniperp/internal/domain"
)

// DefaultCapacity bounds the store; the oldest outcome is evicted first.
const DefaultCapacity = 10000

// Query filters stored outcomes. Zero values mean "any".
type Query struct {
	Symbol     string
	Class      domain.OutcomeClass
	Since      time.Time
	OnlyWins   bool
	OnlyLosses bool
}

// Node owns the TradeOutcome set. Single writer; readers get copies.
type Node struct {
	mu       sync.Mutex
	capacity int
	outcomes []domain.TradeOutcome

	bySymbol    map[string][]int // symbol → indices into outcomes
	bySignature map[uint64][]int // fractal signature → indices

	wins   int
	losses int
}

// NewNode creates a store with the given capacity (<=0 uses DefaultCapacity).
func NewNode(capacity int) *Node {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Node{
		capacity:    capacity,
		bySymbol:    make(map[string][]int),
		bySignature: make(map[uint64][]int),
	}
}

// Signature hashes a normalized pattern vector into its coarse fractal
// bucket: each dimension quantized to a decile, then FNV-hashed.
func Signature(pattern []float64) uint64 {
	h := fnv.New64a()
	for _, v := range pattern {
		decile := byte(math.Min(math.Max(v, 0), 0.999) * 10)
		_, _ = h.Write([]byte{decile})
	}
	return h.Sum64()
}

// StoreOutcome appends one immutable outcome, evicting the oldest past
// capacity.
func (n *Node) StoreOutcome(outcome domain.TradeOutcome) error {
	if outcome.ID == "" {
		return fmt.Errorf("memory.StoreOutcome: outcome without ID")
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if len(n.outcomes) >= n.capacity {
		n.outcomes = n.outcomes[1:]
		// Index positions shifted by one; rebuild. Eviction is rare relative
		// to lookups, so the linear rebuild stays off the hot path.
		n.rebuildIndicesLocked()
	}

	idx := len(n.outcomes)
	n.outcomes = append(n.outcomes, outcome)
	n.bySymbol[outcome.Symbol] = append(n.bySymbol[outcome.Symbol], idx)
	if len(outcome.Pattern) > 0 {
		sig := Signature(outcome.Pattern)
		n.bySignature[sig] = append(n.bySignature[sig], idx)
	}

	if outcome.IsWin() {
		n.wins++
	} else if outcome.Class != domain.OutcomeBreakeven {
		n.losses++
	}
	return nil
}

func (n *Node) rebuildIndicesLocked() {
	n.bySymbol = make(map[string][]int, len(n.bySymbol))
	n.bySignature = make(map[uint64][]int, len(n.bySignature))
	for i, o := range n.outcomes {
		n.bySymbol[o.Symbol] = append(n.bySymbol[o.Symbol], i)
		if len(o.Pattern) > 0 {
			n.bySignature[Signature(o.Pattern)] = append(n.bySignature[Signature(o.Pattern)], i)
		}
	}
}

// QueryOutcomes returns up to limit matches, most recent first.
func (n *Node) QueryOutcomes(q Query, limit int) []domain.TradeOutcome {
	n.mu.Lock()
	defer n.mu.Unlock()

	candidates := n.candidatesLocked(q.Symbol)
	out := make([]domain.TradeOutcome, 0, limit)
	for i := len(candidates) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		o := n.outcomes[candidates[i]]
		if q.Class != "" && o.Class != q.Class {
			continue
		}
		if !q.Since.IsZero() && o.ClosedAt.Before(q.Since) {
			continue
		}
		if q.OnlyWins && !o.IsWin() {
			continue
		}
		if q.OnlyLosses && o.IsWin() {
			continue
		}
		out = append(out, o)
	}
	return out
}

func (n *Node) candidatesLocked(symbol string) []int {
	if symbol != "" {
		return n.bySymbol[symbol]
	}
	all := make([]int, len(n.outcomes))
	for i := range n.outcomes {
		all[i] = i
	}
	return all
}

// PatternSimilarity is sim = 1/(1+MSE) over per-dimension differences.
// Symmetric; identical vectors score 1.
func PatternSimilarity(a, b []float64) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	mse := 0.0
	for i := range a {
		d := a[i] - b[i]
		mse += d * d
	}
	mse /= float64(len(a))
	return 1 / (1 + mse)
}

// SimilarMatch pairs an outcome with its similarity to the probe pattern.
type SimilarMatch struct {
	Outcome    domain.TradeOutcome
	Similarity float64
}

// FindSimilarPattern returns stored outcomes whose price pattern resembles
// the probe above threshold, best match first. The signature index narrows
// the scan; near-bucket misses fall back to the symbol's outcomes.
func (n *Node) FindSimilarPattern(symbol string, pattern []float64, threshold float64) []SimilarMatch {
	n.mu.Lock()
	defer n.mu.Unlock()

	seen := make(map[int]bool)
	candidates := make([]int, 0)
	for _, idx := range n.bySignature[Signature(pattern)] {
		candidates = append(candidates, idx)
		seen[idx] = true
	}
	for _, idx := range n.bySymbol[symbol] {
		if !seen[idx] {
			candidates = append(candidates, idx)
		}
	}

	matches := make([]SimilarMatch, 0)
	for _, idx := range candidates {
		o := n.outcomes[idx]
		if len(o.Pattern) == 0 {
			continue
		}
		sim := PatternSimilarity(pattern, o.Pattern)
		if sim >= threshold {
			matches = append(matches, SimilarMatch{Outcome: o, Similarity: sim})
		}
	}
	for i := 1; i < len(matches); i++ {
		for j := i; j > 0 && matches[j].Similarity > matches[j-1].Similarity; j-- {
			matches[j], matches[j-1] = matches[j-1], matches[j]
		}
	}
	return matches
}

// Reinforcement builds the learning signal for one outcome:
// reward = roi; per-agent Δ = reward · confidence · (0.1 win / 0.2 loss).
func Reinforcement(outcome domain.TradeOutcome, margin float64) domain.ReinforcementFeedback {
	roi := 0.0
	if margin > 0 {
		pnl, _ := outcome.RealizedPnL.Float64()
		roi = pnl / margin
	}

	rate := 0.1
	if roi < 0 {
		rate = 0.2
	}

	adjustments := make(map[string]float64, len(outcome.ContributingAgents))
	for i, agent := range outcome.ContributingAgents {
		conf := 1.0
		if i < len(outcome.Confidences) {
			conf = outcome.Confidences[i]
		}
		adjustments[agent] = roi * conf * rate
	}

	return domain.ReinforcementFeedback{
		OutcomeID:   outcome.ID,
		Symbol:      outcome.Symbol,
		Reward:      roi,
		Win:         outcome.IsWin(),
		Adjustments: adjustments,
	}
}

// Stats returns totals for the performance report.
func (n *Node) Stats() (total, wins, losses int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.outcomes), n.wins, n.losses
}

// Len returns the stored outcome count.
func (n *Node) Len() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.outcomes)
}
