package agents

import (
	"log/slog"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/alejandrodnm/omniperp/internal/bus"
)

// Guardian is the hard drawdown tripwire. It only signals: when realized plus
// unrealized P&L breaches the cap it publishes EmergencyStop on the bus, and
// every component holding positions must flatten on its next tick.
type Guardian struct {
	seed        decimal.Decimal
	maxDrawdown decimal.Decimal // positive fraction of seed, e.g. 0.009
	bus         *bus.Bus

	mu       sync.Mutex
	realized decimal.Decimal
	tripped  bool
}

// EmergencyStopPayload travels with the EmergencyStop message.
type EmergencyStopPayload struct {
	Realized   string
	Unrealized string
	Threshold  string
}

// NewGuardian creates the tripwire. maxDrawdownFrac is the positive fraction
// of seed that may be lost before the stop fires (0.009 per the cap).
func NewGuardian(seed decimal.Decimal, maxDrawdownFrac float64, b *bus.Bus) *Guardian {
	return &Guardian{
		seed:        seed,
		maxDrawdown: seed.Mul(decimal.NewFromFloat(maxDrawdownFrac)),
		bus:         b,
	}
}

// SetRealized updates the realized leg from ledger events.
func (g *Guardian) SetRealized(realized decimal.Decimal) {
	g.mu.Lock()
	g.realized = realized
	g.mu.Unlock()
}

// Restore reinstates persisted state after a restart.
func (g *Guardian) Restore(tripped bool, realized decimal.Decimal) {
	g.mu.Lock()
	g.tripped = tripped
	g.realized = realized
	g.mu.Unlock()
}

// Check evaluates the tripwire against the current unrealized total. It
// latches: once tripped it stays tripped and re-publishes nothing.
func (g *Guardian) Check(unrealized decimal.Decimal) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.tripped {
		return true
	}

	total := g.realized.Add(unrealized)
	if total.GreaterThanOrEqual(g.maxDrawdown.Neg()) {
		return false
	}

	g.tripped = true
	slog.Error("guardian: drawdown cap breached, emitting emergency stop",
		"realized", g.realized.String(),
		"unrealized", unrealized.String(),
		"threshold", g.maxDrawdown.Neg().String(),
	)
	if err := g.bus.Publish(bus.Message{
		Kind:   bus.KindEmergencyStop,
		Sender: "guardian",
		Payload: EmergencyStopPayload{
			Realized:   g.realized.String(),
			Unrealized: unrealized.String(),
			Threshold:  g.maxDrawdown.Neg().String(),
		},
	}); err != nil {
		slog.Error("guardian: failed to publish emergency stop", "err", err)
	}
	return true
}

// Tripped reports whether the stop has fired.
func (g *Guardian) Tripped() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.tripped
}

// Realized returns the tracked realized P&L.
func (g *Guardian) Realized() decimal.Decimal {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.realized
}
