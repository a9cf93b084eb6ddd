// Package evolution owns the agent population: the registry with mutation and
// generational pruning (kernel) and the per-agent performance accounting that
// decides who mutates and who dies (feedback loop).
package evolution

import (
	"fmt"
	"math/rand"
	"sync"
	"time"
)

// MaxGenerations is how many generations a killed agent lingers in the
// registry before pruning.
const MaxGenerations = 10

// AgentMetadata describes one member of the population. Killed agents stay
// with Active=false until pruned.
type AgentMetadata struct {
	Name       string
	Kind       string
	Generation int
	Parent     string
	Params     map[string]float64
	Active     bool
	CreatedAt  time.Time
}

func (m AgentMetadata) cloneParams() map[string]float64 {
	out := make(map[string]float64, len(m.Params))
	for k, v := range m.Params {
		out[k] = v
	}
	return out
}

// KernelConfig tunes the evolution kernel.
type KernelConfig struct {
	MaxGenerations    int
	EvolutionInterval time.Duration
	MutationJitter    float64 // each param perturbed by ·(1 + U(−j, j))
}

// DefaultKernelConfig returns the standard kernel parameters.
func DefaultKernelConfig() KernelConfig {
	return KernelConfig{
		MaxGenerations:    MaxGenerations,
		EvolutionInterval: time.Hour,
		MutationJitter:    0.1,
	}
}

// Kernel is the single writer of agent metadata.
type Kernel struct {
	cfg KernelConfig

	mu         sync.Mutex
	agents     map[string]*AgentMetadata
	generation int
	rng        *rand.Rand

	evolutionScore float64
	healthScore    float64
	diversityScore float64
}

// NewKernel creates a kernel. seed fixes mutation randomness for tests;
// pass 0 for a time-based seed.
func NewKernel(cfg KernelConfig, seed int64) *Kernel {
	if cfg.MaxGenerations <= 0 {
		cfg.MaxGenerations = MaxGenerations
	}
	if cfg.MutationJitter <= 0 {
		cfg.MutationJitter = 0.1
	}
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Kernel{
		cfg:    cfg,
		agents: make(map[string]*AgentMetadata),
		rng:    rand.New(rand.NewSource(seed)),
	}
}

// Register adds a fresh generation-current agent.
func (k *Kernel) Register(name, kind string, params map[string]float64) (AgentMetadata, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if _, exists := k.agents[name]; exists {
		return AgentMetadata{}, fmt.Errorf("evolution.Register: agent %q already registered", name)
	}
	meta := &AgentMetadata{
		Name:       name,
		Kind:       kind,
		Generation: k.generation,
		Params:     params,
		Active:     true,
		CreatedAt:  time.Now().UTC(),
	}
	if meta.Params == nil {
		meta.Params = make(map[string]float64)
	}
	k.agents[name] = meta
	return *meta, nil
}

// Mutate clones an agent, perturbing every parameter by ·(1 + U(−j, j)).
// The child joins the next generation with the original as parent.
func (k *Kernel) Mutate(name string) (AgentMetadata, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	parent, ok := k.agents[name]
	if !ok {
		return AgentMetadata{}, fmt.Errorf("evolution.Mutate: unknown agent %q", name)
	}
	if !parent.Active {
		return AgentMetadata{}, fmt.Errorf("evolution.Mutate: agent %q is dead", name)
	}

	params := parent.cloneParams()
	j := k.cfg.MutationJitter
	for key, v := range params {
		params[key] = v * (1 + (k.rng.Float64()*2-1)*j)
	}

	child := &AgentMetadata{
		Name:       fmt.Sprintf("%s-g%d", parent.Name, parent.Generation+1),
		Kind:       parent.Kind,
		Generation: parent.Generation + 1,
		Parent:     parent.Name,
		Params:     params,
		Active:     true,
		CreatedAt:  time.Now().UTC(),
	}
	if _, exists := k.agents[child.Name]; exists {
		child.Name = fmt.Sprintf("%s-%d", child.Name, k.rng.Intn(10000))
	}
	k.agents[child.Name] = child
	return *child, nil
}

// Kill marks an agent inactive. It stays in the registry until pruned.
func (k *Kernel) Kill(name string) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	meta, ok := k.agents[name]
	if !ok {
		return fmt.Errorf("evolution.Kill: unknown agent %q", name)
	}
	meta.Active = false
	return nil
}

// AdvanceGeneration bumps the generation counter, recomputes the aggregate
// scores and prunes inactive agents older than MaxGenerations generations.
func (k *Kernel) AdvanceGeneration() {
	k.mu.Lock()
	defer k.mu.Unlock()

	k.generation++

	for name, meta := range k.agents {
		if !meta.Active && k.generation-meta.Generation > k.cfg.MaxGenerations {
			delete(k.agents, name)
		}
	}
	k.recomputeAggregatesLocked()
}

// recomputeAggregatesLocked refreshes evolution/health/diversity.
// Health = active fraction; diversity = distinct kinds over total kinds;
// evolution = mean generation depth normalized by the current counter.
func (k *Kernel) recomputeAggregatesLocked() {
	if len(k.agents) == 0 {
		k.evolutionScore, k.healthScore, k.diversityScore = 0, 0, 0
		return
	}

	active := 0
	kinds := make(map[string]bool)
	genSum := 0
	for _, meta := range k.agents {
		if meta.Active {
			active++
			kinds[meta.Kind] = true
		}
		genSum += meta.Generation
	}

	k.healthScore = float64(active) / float64(len(k.agents))
	k.diversityScore = float64(len(kinds)) / 6.0
	if k.diversityScore > 1 {
		k.diversityScore = 1
	}
	if k.generation > 0 {
		k.evolutionScore = float64(genSum) / float64(len(k.agents)) / float64(k.generation)
	}
}

// Generation returns the current generation counter.
func (k *Kernel) Generation() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.generation
}

// Active returns the living population.
func (k *Kernel) Active() []AgentMetadata {
	k.mu.Lock()
	defer k.mu.Unlock()
	out := make([]AgentMetadata, 0, len(k.agents))
	for _, meta := range k.agents {
		if meta.Active {
			out = append(out, *meta)
		}
	}
	return out
}

// All returns every registry entry, dead ones included.
func (k *Kernel) All() []AgentMetadata {
	k.mu.Lock()
	defer k.mu.Unlock()
	out := make([]AgentMetadata, 0, len(k.agents))
	for _, meta := range k.agents {
		out = append(out, *meta)
	}
	return out
}

// Metadata returns one entry by name.
func (k *Kernel) Metadata(name string) (AgentMetadata, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	meta, ok := k.agents[name]
	if !ok {
		return AgentMetadata{}, false
	}
	return *meta, true
}

// Restore reinstates a persisted registry snapshot.
func (k *Kernel) Restore(agents []AgentMetadata) {
	k.mu.Lock()
	defer k.mu.Unlock()
	for _, meta := range agents {
		m := meta
		if m.Params == nil {
			m.Params = make(map[string]float64)
		}
		k.agents[m.Name] = &m
		if m.Generation > k.generation {
			k.generation = m.Generation
		}
	}
	k.recomputeAggregatesLocked()
}

// Aggregates returns the evolution, health and diversity scores.
func (k *Kernel) Aggregates() (evolution, health, diversity float64) {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.evolutionScore, k.healthScore, k.diversityScore
}
