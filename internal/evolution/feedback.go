package evolution

import (
	"sync"

	"github.com/alejandrodnm/omniperp/internal/domain"
)

// AgentPerformance is the running scoreboard of one agent. Updated only by
// the feedback loop.
type AgentPerformance struct {
	Score               float64 // in [-1, 1]
	TradeCount          int
	SuccessRate         float64 // in [0, 1]
	ConsecutiveFailures int
	MutationEligible    bool
	KillEligible        bool
}

// Request asks the kernel to act on an agent.
type Request struct {
	Agent string
	Kill  bool // false = mutation request
}

// LoopConfig tunes the feedback loop thresholds.
type LoopConfig struct {
	LearningRate        float64 // η, default 0.01
	MutationScore       float64 // score floor for mutation eligibility
	KillScore           float64 // score ceiling for kill eligibility
	MinTrades           int     // trades before eligibility applies
	ConsecutiveFailures int     // immediate kill eligibility
}

// DefaultLoopConfig returns the standard thresholds.
func DefaultLoopConfig() LoopConfig {
	return LoopConfig{
		LearningRate:        0.01,
		MutationScore:       0.6,
		KillScore:           0.3,
		MinTrades:           10,
		ConsecutiveFailures: 5,
	}
}

// Loop consumes reinforcement feedback and maintains agent performance.
type Loop struct {
	cfg LoopConfig

	mu   sync.Mutex
	perf map[string]*AgentPerformance
}

// NewLoop creates a feedback loop.
func NewLoop(cfg LoopConfig) *Loop {
	if cfg.LearningRate <= 0 {
		cfg.LearningRate = 0.01
	}
	if cfg.MinTrades <= 0 {
		cfg.MinTrades = 10
	}
	if cfg.ConsecutiveFailures <= 0 {
		cfg.ConsecutiveFailures = 5
	}
	return &Loop{cfg: cfg, perf: make(map[string]*AgentPerformance)}
}

// Apply folds one reinforcement into every contributing agent's performance
// and returns the mutation/kill requests that became due.
func (l *Loop) Apply(fb domain.ReinforcementFeedback) []Request {
	l.mu.Lock()
	defer l.mu.Unlock()

	var requests []Request
	for agent, delta := range fb.Adjustments {
		p, ok := l.perf[agent]
		if !ok {
			p = &AgentPerformance{}
			l.perf[agent] = p
		}

		eta := l.cfg.LearningRate
		p.Score = clamp(p.Score*(1-eta)+eta*delta, -1, 1)

		// Running mean over outcome class.
		won := 0.0
		if fb.Win {
			won = 1.0
		}
		p.SuccessRate = (p.SuccessRate*float64(p.TradeCount) + won) / float64(p.TradeCount+1)
		p.TradeCount++

		if fb.Win {
			p.ConsecutiveFailures = 0
		} else {
			p.ConsecutiveFailures++
		}

		p.MutationEligible = p.Score >= l.cfg.MutationScore && p.TradeCount >= l.cfg.MinTrades
		p.KillEligible = (p.Score <= l.cfg.KillScore && p.TradeCount >= l.cfg.MinTrades) ||
			p.ConsecutiveFailures >= l.cfg.ConsecutiveFailures

		switch {
		case p.KillEligible:
			requests = append(requests, Request{Agent: agent, Kill: true})
		case p.MutationEligible:
			requests = append(requests, Request{Agent: agent})
		}
	}
	return requests
}

// Performance returns a copy of one agent's scoreboard.
func (l *Loop) Performance(agent string) (AgentPerformance, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.perf[agent]
	if !ok {
		return AgentPerformance{}, false
	}
	return *p, true
}

// All returns a copy of the full scoreboard.
func (l *Loop) All() map[string]AgentPerformance {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]AgentPerformance, len(l.perf))
	for name, p := range l.perf {
		out[name] = *p
	}
	return out
}

// Forget drops an agent's record (after a kill, the replacement starts clean).
func (l *Loop) Forget(agent string) {
	l.mu.Lock()
	delete(l.perf, agent)
	l.mu.Unlock()
}

// LeaderboardRow is one line of the agent leaderboard table.
type LeaderboardRow struct {
	Name        string
	Kind        string
	Generation  int
	Score       float64
	SuccessRate float64
	Trades      int
	Active      bool
}

// Leaderboard joins kernel metadata with performance, best score first.
func Leaderboard(kernel *Kernel, loop *Loop) []LeaderboardRow {
	rows := make([]LeaderboardRow, 0)
	for _, meta := range kernel.All() {
		row := LeaderboardRow{
			Name:       meta.Name,
			Kind:       meta.Kind,
			Generation: meta.Generation,
			Active:     meta.Active,
		}
		if p, ok := loop.Performance(meta.Name); ok {
			row.Score = p.Score
			row.SuccessRate = p.SuccessRate
			row.Trades = p.TradeCount
		}
		rows = append(rows, row)
	}
	// Orden por score descendente.
	for i := 1; i < len(rows); i++ {
		for j := i; j > 0 && rows[j].Score > rows[j-1].Score; j-- {
			rows[j], rows[j-1] = rows[j-1], rows[j]
		}
	}
	return rows
}

func clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}
