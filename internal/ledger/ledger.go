// Package ledger owns the authoritative quote-currency ledger.
//
// All amounts are fixed-point decimal. The ledger is the single writer of
// realized P&L: position close paths feed deltas exclusively through Release.
//
// Profit never re-enters the sizing pool: a profitable release returns only
// the margin to available and parks the gain in realized P&L (the profit
// reserve). Losses do debit available. Position sizing therefore always works
// off seed-derived capital, never off seed + realized. Conservation at
// quiescence, with profits tracked in their reserve:
//
//	seed - buffer - available - Σ margin_locked - profit_reserve + realized == 0
package ledger

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrInsufficientAvailable is returned when an allocation exceeds the
	// available balance.
	ErrInsufficientAvailable = errors.New("ledger: insufficient available balance")
	// ErrExceedsSeedCap is returned when a single allocation exceeds the
	// immutable seed. Profit is never reinvested into sizing.
	ErrExceedsSeedCap = errors.New("ledger: allocation exceeds seed cap")
	// ErrUnknownSymbol is returned when releasing margin for a symbol that
	// holds none.
	ErrUnknownSymbol = errors.New("ledger: unknown symbol")
	// ErrConservation marks a violated conservation invariant: corrupted
	// accounting, fatal (exit code 4).
	ErrConservation = errors.New("ledger: conservation invariant violated")
)

// EventKind distinguishes ledger event types.
type EventKind string

const (
	EventAllocate EventKind = "allocate"
	EventRelease  EventKind = "release"
)

// Event describes a completed ledger transition.
type Event struct {
	Kind      EventKind
	Symbol    string
	Amount    decimal.Decimal
	PnLDelta  decimal.Decimal
	Snapshot  Snapshot
	At        time.Time
}

// Snapshot is a consistent read-only view of the ledger.
type Snapshot struct {
	Seed         decimal.Decimal
	Buffer       decimal.Decimal
	Available    decimal.Decimal
	MarginLocked map[string]decimal.Decimal
	RealizedPnL  decimal.Decimal
	TakenAt      time.Time
}

// TotalMargin sums all locked margin.
func (s Snapshot) TotalMargin() decimal.Decimal {
	total := decimal.Zero
	for _, m := range s.MarginLocked {
		total = total.Add(m)
	}
	return total
}

// Equity returns seed + realized P&L.
func (s Snapshot) Equity() decimal.Decimal {
	return s.Seed.Add(s.RealizedPnL)
}

// Ledger is the single serialization point for capital accounting.
type Ledger struct {
	mu sync.Mutex

	seed      decimal.Decimal
	buffer    decimal.Decimal
	available decimal.Decimal
	margin    map[string]decimal.Decimal
	realized  decimal.Decimal

	// profits is the cumulative positive P&L withheld from available (the
	// reserve); shortfall is the cumulative amount clipped by saturating
	// available at zero. Both keep CheckConservation exact.
	profits   decimal.Decimal
	shortfall decimal.Decimal

	listener func(Event)
}

// New creates a ledger with the given immutable seed and reserved buffer.
// The buffer is never allocatable: available starts at seed - buffer.
func New(seed, buffer decimal.Decimal) (*Ledger, error) {
	if seed.Sign() <= 0 {
		return nil, fmt.Errorf("ledger.New: seed must be positive, got %s", seed)
	}
	if buffer.Sign() < 0 || buffer.GreaterThanOrEqual(seed) {
		return nil, fmt.Errorf("ledger.New: buffer %s outside [0, seed)", buffer)
	}
	return &Ledger{
		seed:      seed,
		buffer:    buffer,
		available: seed.Sub(buffer),
		margin:    make(map[string]decimal.Decimal),
	}, nil
}

// SetListener registers a callback invoked after every transition, outside
// the critical section. Used by the engine to forward LedgerEvents to the bus.
func (l *Ledger) SetListener(fn func(Event)) {
	l.mu.Lock()
	l.listener = fn
	l.mu.Unlock()
}

// Seed returns the immutable seed. Position sizing must use this, never
// seed + realized.
func (l *Ledger) Seed() decimal.Decimal { return l.seed }

// Buffer returns the reserved buffer.
func (l *Ledger) Buffer() decimal.Decimal { return l.buffer }

// Allocate moves amount from available into margin_locked[symbol]. Atomic.
func (l *Ledger) Allocate(symbol string, amount decimal.Decimal) error {
	if amount.Sign() <= 0 {
		return fmt.Errorf("ledger.Allocate: non-positive amount %s", amount)
	}

	l.mu.Lock()
	if amount.GreaterThan(l.seed) {
		l.mu.Unlock()
		return fmt.Errorf("ledger.Allocate %s %s: %w", symbol, amount, ErrExceedsSeedCap)
	}
	if amount.GreaterThan(l.available) {
		l.mu.Unlock()
		return fmt.Errorf("ledger.Allocate %s %s (available %s): %w",
			symbol, amount, l.available, ErrInsufficientAvailable)
	}

	l.available = l.available.Sub(amount)
	l.margin[symbol] = l.margin[symbol].Add(amount)
	ev := l.eventLocked(EventAllocate, symbol, amount, decimal.Zero)
	listener := l.listener
	l.mu.Unlock()

	if listener != nil {
		listener(ev)
	}
	return nil
}

// Release unconditionally returns margin for symbol and applies pnlDelta to
// realized P&L. The released amount is clamped to what is actually locked.
// Only the margin returns to available: profit stays in realized P&L so the
// sizing pool never grows past seed-derived capital. A loss debits available
// together with the margin return; when it exceeds the released margin
// (leverage > 1), available saturates at zero and the full loss still lands
// in realized P&L.
func (l *Ledger) Release(symbol string, amount, pnlDelta decimal.Decimal) error {
	l.mu.Lock()
	locked, ok := l.margin[symbol]
	if !ok || locked.Sign() == 0 {
		l.mu.Unlock()
		return fmt.Errorf("ledger.Release %s: %w", symbol, ErrUnknownSymbol)
	}

	if amount.GreaterThan(locked) {
		amount = locked
	}
	if amount.Sign() < 0 {
		amount = decimal.Zero
	}

	remaining := locked.Sub(amount)
	if remaining.Sign() == 0 {
		delete(l.margin, symbol)
	} else {
		l.margin[symbol] = remaining
	}

	l.realized = l.realized.Add(pnlDelta)

	// Margin comes back; profit is skimmed into the reserve, a loss rides
	// along as a debit. A loss larger than the margin would drive available
	// negative; saturate at zero and record the clip so conservation stays
	// checkable. The full loss remains visible in realized P&L.
	returned := amount
	if pnlDelta.Sign() > 0 {
		l.profits = l.profits.Add(pnlDelta)
	} else {
		returned = returned.Add(pnlDelta)
	}
	l.available = l.available.Add(returned)
	if l.available.Sign() < 0 {
		l.shortfall = l.shortfall.Add(l.available.Neg())
		l.available = decimal.Zero
	}

	ev := l.eventLocked(EventRelease, symbol, amount, pnlDelta)
	listener := l.listener
	l.mu.Unlock()

	if listener != nil {
		listener(ev)
	}
	return nil
}

// Snapshot returns a consistent copy of the ledger state.
func (l *Ledger) Snapshot() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.snapshotLocked()
}

func (l *Ledger) snapshotLocked() Snapshot {
	margin := make(map[string]decimal.Decimal, len(l.margin))
	for s, m := range l.margin {
		margin[s] = m
	}
	return Snapshot{
		Seed:         l.seed,
		Buffer:       l.buffer,
		Available:    l.available,
		MarginLocked: margin,
		RealizedPnL:  l.realized,
		TakenAt:      time.Now().UTC(),
	}
}

func (l *Ledger) eventLocked(kind EventKind, symbol string, amount, pnl decimal.Decimal) Event {
	return Event{
		Kind:     kind,
		Symbol:   symbol,
		Amount:   amount,
		PnLDelta: pnl,
		Snapshot: l.snapshotLocked(),
		At:       time.Now().UTC(),
	}
}

// CheckConservation verifies the conservation invariant exactly and in both
// directions. A violation means corrupted accounting; callers treat it as
// fatal (exit code 4). Saturated releases are accounted through the recorded
// shortfall, so even they must balance to zero.
func (l *Ledger) CheckConservation() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	total := decimal.Zero
	for _, m := range l.margin {
		total = total.Add(m)
	}
	// seed - buffer - available - Σmargin - profit_reserve + realized == 0,
	// shifted by the saturation clip.
	diff := l.seed.Sub(l.buffer).Sub(l.available).Sub(total).Sub(l.profits).Add(l.realized)
	if !diff.Add(l.shortfall).IsZero() {
		return fmt.Errorf("%w: imbalance of %s", ErrConservation, diff)
	}
	return nil
}
