// Package positions runs the live position state machine:
//
//	Pending ──venue fill──► Open ──stop/target/trail/manual──► Exiting ──close──► Closed
//	   └── pending timeout ──► Failed
//
// The venue is authoritative: every poll reconciles the local view against
// the venue position list, and divergences force a resync.
package positions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alejandrodnm/omniperp/internal/bus"
	"github.com/alejandrodnm/omniperp/internal/domain"
	"github.com/alejandrodnm/omniperp/internal/ledger"
	"github.com/alejandrodnm/omniperp/internal/ports"
)

// Config tunes the manager.
type Config struct {
	PendingTimeout  time.Duration // Pending → Failed
	ExitingTimeout  time.Duration // overdue Exiting re-submits the close
	TrailActivation float64       // frac uPnL that arms the trail
	TrailDistance   float64       // trail distance as fraction of mark
	TakerFeeBps     decimal.Decimal
}

// DefaultConfig returns the standard lifecycle parameters.
func DefaultConfig() Config {
	return Config{
		PendingTimeout:  30 * time.Second,
		ExitingTimeout:  10 * time.Second,
		TrailActivation: 0.006,
		TrailDistance:   0.005,
		TakerFeeBps:     decimal.RequireFromString("5.5"),
	}
}

// ReconciliationAlert is published when the venue view diverges from ours.
type ReconciliationAlert struct {
	Symbol  string
	OrderID string
	Detail  string
}

// OutcomeFunc receives every closed round-trip with the margin it used.
type OutcomeFunc func(outcome domain.TradeOutcome, margin decimal.Decimal)

// Manager owns the live position set. All transitions are serialized per
// manager; per-position order is total.
type Manager struct {
	cfg      Config
	executor ports.OrderExecutor
	ledger   *ledger.Ledger
	bus      *bus.Bus

	mu        sync.Mutex
	positions map[string]*domain.Position // keyed by order ID
	patterns  map[string][]float64        // order ID → entry pattern
	onOutcome OutcomeFunc
	emergency bool

	now func() time.Time
}

// NewManager wires the manager to the executor, the ledger and the bus.
func NewManager(cfg Config, executor ports.OrderExecutor, led *ledger.Ledger, b *bus.Bus) *Manager {
	return &Manager{
		cfg:       cfg,
		executor:  executor,
		ledger:    led,
		bus:       b,
		positions: make(map[string]*domain.Position),
		patterns:  make(map[string][]float64),
		now:       time.Now,
	}
}

// SetOutcomeFunc registers the closed-trade sink (memory node feed).
func (m *Manager) SetOutcomeFunc(fn OutcomeFunc) {
	m.mu.Lock()
	m.onOutcome = fn
	m.mu.Unlock()
}

// Submit allocates margin, places the entry order with stop-loss and
// take-profit attached, and registers the Pending position. An opportunity is
// consumed at most once; a placement failure rolls the margin back.
func (m *Manager) Submit(ctx context.Context, opp domain.Opportunity, pattern []float64) (*domain.Position, error) {
	if err := opp.Validate(); err != nil {
		return nil, fmt.Errorf("positions.Submit: %w", err)
	}
	if opp.Expired(m.now()) {
		return nil, fmt.Errorf("positions.Submit: opportunity %s expired", opp.ID)
	}
	if m.Emergency() {
		return nil, errors.New("positions.Submit: emergency stop active")
	}

	if err := m.ledger.Allocate(opp.Symbol, opp.Margin); err != nil {
		return nil, fmt.Errorf("positions.Submit: %w", err)
	}

	ack, err := m.executor.PlaceOrder(ctx, domain.OrderRequest{
		Symbol:      opp.Symbol,
		Side:        opp.Side,
		Qty:         opp.Qty,
		OrderType:   "Market",
		TimeInForce: "IOC",
		StopLoss:    opp.Stop,
		TakeProfit:  opp.Target,
	})
	if err != nil {
		// No order on the venue: the margin goes straight back.
		if rerr := m.ledger.Release(opp.Symbol, opp.Margin, decimal.Zero); rerr != nil {
			slog.Error("positions: margin rollback failed", "symbol", opp.Symbol, "err", rerr)
		}
		return nil, fmt.Errorf("positions.Submit %s: %w", opp.Symbol, err)
	}

	pos := &domain.Position{
		Opportunity:    opp,
		OrderID:        ack.OrderID,
		State:          domain.PositionPending,
		LeverageActual: opp.Leverage,
		SubmittedAt:    m.now(),
		Trailing:       domain.Trailing{DistanceFrac: m.cfg.TrailDistance},
	}

	m.mu.Lock()
	m.positions[ack.OrderID] = pos
	if len(pattern) > 0 {
		m.patterns[ack.OrderID] = pattern
	}
	m.mu.Unlock()

	slog.Info("positions: order submitted",
		"symbol", opp.Symbol, "side", opp.Side, "qty", opp.Qty.String(),
		"entry", opp.Entry.String(), "stop", opp.Stop.String(), "target", opp.Target.String(),
		"order_id", ack.OrderID)
	return pos, nil
}

// Poll reconciles every tracked position against the venue and drives the
// state machine one step. Called from the monitoring loop.
func (m *Manager) Poll(ctx context.Context) error {
	venuePositions, err := m.executor.FetchPositions(ctx)
	if err != nil {
		return fmt.Errorf("positions.Poll: %w", err)
	}

	bySymbol := make(map[string]domain.VenuePosition, len(venuePositions))
	for _, vp := range venuePositions {
		bySymbol[vp.Symbol] = vp
	}

	for _, pos := range m.tracked() {
		switch pos.State {
		case domain.PositionPending:
			m.reconcilePending(pos, bySymbol)
		case domain.PositionOpen:
			m.reconcileOpen(ctx, pos, bySymbol)
		case domain.PositionExiting:
			m.reconcileExiting(ctx, pos, bySymbol)
		}
	}
	return nil
}

func (m *Manager) tracked() []*domain.Position {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*domain.Position, 0, len(m.positions))
	for _, p := range m.positions {
		out = append(out, p)
	}
	return out
}

// reconcilePending adopts the venue fill or times the order out. An order the
// venue never shows is rolled back: margin released, opportunity dead.
func (m *Manager) reconcilePending(pos *domain.Position, venue map[string]domain.VenuePosition) {
	vp, ok := venue[pos.Opportunity.Symbol]
	if ok && vp.Size.Sign() > 0 {
		m.mu.Lock()
		pos.State = domain.PositionOpen
		pos.EntryActual = vp.AvgPrice
		pos.Mark = vp.MarkPrice
		pos.UnrealizedPnL = vp.UnrealisedPnl
		if !vp.Leverage.IsZero() {
			pos.LeverageActual = int(vp.Leverage.IntPart())
		}
		pos.OpenedAt = m.now()
		m.mu.Unlock()
		slog.Info("positions: fill confirmed",
			"symbol", pos.Opportunity.Symbol, "entry", vp.AvgPrice.String(), "order_id", pos.OrderID)
		return
	}

	if m.now().Sub(pos.SubmittedAt) > m.cfg.PendingTimeout {
		slog.Warn("positions: pending order timed out, rolling back",
			"symbol", pos.Opportunity.Symbol, "order_id", pos.OrderID)
		m.alert(pos, "pending order not visible on venue after timeout")
		m.fail(pos)
	}
}

// reconcileOpen refreshes marks and evaluates the exit conditions.
func (m *Manager) reconcileOpen(ctx context.Context, pos *domain.Position, venue map[string]domain.VenuePosition) {
	vp, ok := venue[pos.Opportunity.Symbol]
	if !ok || vp.Size.Sign() == 0 {
		// The venue closed it for us (SL/TP attached to the order fired).
		m.alert(pos, "open position missing on venue, adopting venue close")
		m.close(pos, pos.Mark, classifyVenueClose(pos))
		return
	}

	m.mu.Lock()
	pos.Mark = vp.MarkPrice
	pos.UnrealizedPnL = vp.UnrealisedPnl
	m.advanceTrailLocked(pos)
	reason := m.exitReasonLocked(pos)
	if reason != "" {
		pos.State = domain.PositionExiting
		pos.ExitingAt = m.now()
		pos.ExitReason = reason
	}
	m.mu.Unlock()

	if reason != "" {
		m.placeClose(ctx, pos, reason)
	}
}

// exitReasonLocked returns the first exit condition met, or "".
func (m *Manager) exitReasonLocked(pos *domain.Position) string {
	if m.emergency {
		return "emergency_stop"
	}
	mark := pos.Mark
	opp := pos.Opportunity
	if opp.Side == domain.SideLong {
		if mark.LessThanOrEqual(opp.Stop) {
			return "stop_loss"
		}
		if mark.GreaterThanOrEqual(opp.Target) {
			return "take_profit"
		}
		if pos.Trailing.Armed && mark.LessThanOrEqual(pos.Trailing.Stop) {
			return "trailing_stop"
		}
	} else {
		if mark.GreaterThanOrEqual(opp.Stop) {
			return "stop_loss"
		}
		if mark.LessThanOrEqual(opp.Target) {
			return "take_profit"
		}
		if pos.Trailing.Armed && mark.GreaterThanOrEqual(pos.Trailing.Stop) {
			return "trailing_stop"
		}
	}
	return ""
}

// advanceTrailLocked arms the trail at the activation threshold and advances
// it monotonically with every improved anchor. The stop never retreats.
func (m *Manager) advanceTrailLocked(pos *domain.Position) {
	dist := decimal.NewFromFloat(pos.Trailing.DistanceFrac)
	one := decimal.NewFromInt(1)

	if !pos.Trailing.Armed {
		if pos.UnrealizedFrac() >= m.cfg.TrailActivation {
			pos.Trailing.Armed = true
			pos.Trailing.Anchor = pos.Mark
			if pos.Opportunity.Side == domain.SideLong {
				pos.Trailing.Stop = pos.Mark.Mul(one.Sub(dist))
			} else {
				pos.Trailing.Stop = pos.Mark.Mul(one.Add(dist))
			}
			slog.Debug("positions: trail armed",
				"symbol", pos.Opportunity.Symbol, "anchor", pos.Trailing.Anchor.String(),
				"stop", pos.Trailing.Stop.String())
		}
		return
	}

	if pos.Opportunity.Side == domain.SideLong {
		if pos.Mark.GreaterThan(pos.Trailing.Anchor) {
			pos.Trailing.Anchor = pos.Mark
			candidate := pos.Mark.Mul(one.Sub(dist))
			if candidate.GreaterThan(pos.Trailing.Stop) {
				pos.Trailing.Stop = candidate
			}
		}
	} else {
		if pos.Mark.LessThan(pos.Trailing.Anchor) {
			pos.Trailing.Anchor = pos.Mark
			candidate := pos.Mark.Mul(one.Add(dist))
			if candidate.LessThan(pos.Trailing.Stop) {
				pos.Trailing.Stop = candidate
			}
		}
	}
}

func (m *Manager) placeClose(ctx context.Context, pos *domain.Position, reason string) {
	slog.Info("positions: exiting",
		"symbol", pos.Opportunity.Symbol, "reason", reason, "mark", pos.Mark.String())
	_, err := m.executor.ClosePosition(ctx, pos.Opportunity.Symbol, pos.Opportunity.Side, pos.Opportunity.Qty)
	if err != nil {
		var vr interface{ Recoverable() bool }
		if errors.As(err, &vr) && vr.Recoverable() {
			// Position already gone venue-side; next poll closes it.
			return
		}
		slog.Warn("positions: close order failed, will retry on next poll",
			"symbol", pos.Opportunity.Symbol, "err", err)
	}
}

// reconcileExiting completes the round-trip once the venue confirms the
// position is gone, or retries/times out.
func (m *Manager) reconcileExiting(ctx context.Context, pos *domain.Position, venue map[string]domain.VenuePosition) {
	vp, ok := venue[pos.Opportunity.Symbol]
	if !ok || vp.Size.Sign() == 0 {
		exit := pos.Mark
		m.close(pos, exit, reasonToClass(pos.ExitReason))
		return
	}

	// Still on the venue: refresh the mark and retry the close if overdue.
	m.mu.Lock()
	pos.Mark = vp.MarkPrice
	pos.UnrealizedPnL = vp.UnrealisedPnl
	overdue := m.now().Sub(pos.ExitingAt) > m.cfg.ExitingTimeout
	m.mu.Unlock()

	if overdue {
		m.alert(pos, "close order overdue, re-submitting")
		m.mu.Lock()
		pos.ExitingAt = m.now()
		m.mu.Unlock()
		m.placeClose(ctx, pos, pos.ExitReason)
	}
}

// close finalizes the round-trip: realized P&L through the ledger (the sole
// realized-P&L writer) and the TradeOutcome to the sink.
func (m *Manager) close(pos *domain.Position, exit decimal.Decimal, class domain.OutcomeClass) {
	m.mu.Lock()
	if pos.State == domain.PositionClosed {
		m.mu.Unlock()
		return
	}
	pos.State = domain.PositionClosed
	pattern := m.patterns[pos.OrderID]
	delete(m.patterns, pos.OrderID)
	delete(m.positions, pos.OrderID)
	onOutcome := m.onOutcome
	m.mu.Unlock()

	opp := pos.Opportunity
	entry := pos.EntryActual
	if entry.Sign() <= 0 {
		entry = opp.Entry
	}
	if exit.Sign() <= 0 {
		exit = entry
	}

	qty := opp.Qty
	gross := exit.Sub(entry).Mul(qty).Mul(opp.Side.Sign())
	feeRate := m.cfg.TakerFeeBps.Div(decimal.NewFromInt(10000))
	fees := entry.Mul(qty).Add(exit.Mul(qty)).Mul(feeRate)
	pnl := gross.Sub(fees)

	if err := m.ledger.Release(opp.Symbol, opp.Margin, pnl); err != nil {
		slog.Error("positions: ledger release failed", "symbol", opp.Symbol, "err", err)
	}

	outcome := domain.TradeOutcome{
		ID:                 uuid.New().String(),
		Symbol:             opp.Symbol,
		Side:               opp.Side,
		Entry:              entry,
		Exit:               exit,
		Qty:                qty,
		Leverage:           pos.LeverageActual,
		RealizedPnL:        pnl,
		Fees:               fees,
		OpenedAt:           pos.OpenedAt,
		ClosedAt:           m.now(),
		ContributingAgents: opp.ContributingAgents,
		Confidences:        opp.AgentConfidences,
		Tags:               []string{opp.RationaleTag, pos.ExitReason},
		Class:              class,
		Pattern:            pattern,
	}

	slog.Info("positions: round-trip closed",
		"symbol", opp.Symbol, "class", class, "pnl", pnl.String(), "fees", fees.String())

	if onOutcome != nil {
		onOutcome(outcome, opp.Margin)
	}
}

// fail aborts a position that never opened (or hit an unrecoverable reject):
// margin back, no outcome emitted.
func (m *Manager) fail(pos *domain.Position) {
	m.mu.Lock()
	pos.State = domain.PositionFailed
	delete(m.patterns, pos.OrderID)
	delete(m.positions, pos.OrderID)
	m.mu.Unlock()

	if err := m.ledger.Release(pos.Opportunity.Symbol, pos.Opportunity.Margin, decimal.Zero); err != nil {
		slog.Error("positions: margin release on failure", "symbol", pos.Opportunity.Symbol, "err", err)
	}
}

// EmergencyStop flags the machine, moves every open position to Exiting and
// places its market close at once; the next poll completes the round-trip.
func (m *Manager) EmergencyStop(ctx context.Context) {
	m.mu.Lock()
	m.emergency = true
	open := make([]*domain.Position, 0)
	for _, pos := range m.positions {
		if pos.State == domain.PositionOpen {
			pos.State = domain.PositionExiting
			pos.ExitingAt = m.now()
			pos.ExitReason = "emergency_stop"
			open = append(open, pos)
		}
	}
	m.mu.Unlock()

	for _, pos := range open {
		m.placeClose(ctx, pos, "emergency_stop")
	}
}

// Emergency reports whether the stop latch is set.
func (m *Manager) Emergency() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.emergency
}

// Open returns copies of the tracked positions keyed by order ID.
func (m *Manager) Open() map[string]domain.Position {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]domain.Position, len(m.positions))
	for id, p := range m.positions {
		out[id] = *p
	}
	return out
}

// TotalUnrealized sums the unrealized P&L across tracked positions.
func (m *Manager) TotalUnrealized() decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := decimal.Zero
	for _, p := range m.positions {
		total = total.Add(p.UnrealizedPnL)
	}
	return total
}

func (m *Manager) alert(pos *domain.Position, detail string) {
	if err := m.bus.Publish(bus.Message{
		Kind:   bus.KindRiskAlert,
		Sender: "positions",
		Payload: ReconciliationAlert{
			Symbol:  pos.Opportunity.Symbol,
			OrderID: pos.OrderID,
			Detail:  detail,
		},
	}); err != nil {
		slog.Warn("positions: alert publish failed", "err", err)
	}
}

// classifyVenueClose guesses the outcome class when the venue closed the
// position through the attached SL/TP before we saw the crossing.
func classifyVenueClose(pos *domain.Position) domain.OutcomeClass {
	if pos.UnrealizedPnL.Sign() > 0 {
		return domain.OutcomeTakeProfit
	}
	if pos.UnrealizedPnL.Sign() < 0 {
		return domain.OutcomeStopLoss
	}
	return domain.OutcomeBreakeven
}

func reasonToClass(reason string) domain.OutcomeClass {
	switch reason {
	case "stop_loss":
		return domain.OutcomeStopLoss
	case "take_profit":
		return domain.OutcomeTakeProfit
	case "trailing_stop":
		return domain.OutcomeTakeProfit
	case "emergency_stop":
		return domain.OutcomeManual
	default:
		return domain.OutcomeManual
	}
}
