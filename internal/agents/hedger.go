package agents

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alejandrodnm/omniperp/internal/domain"
	"github.com/alejandrodnm/omniperp/internal/ports"
)

// HedgeState is the lifecycle of one hedge record.
type HedgeState string

const (
	HedgePending   HedgeState = "Pending"   // created, not yet armed
	HedgeActive    HedgeState = "Active"    // armed, watching the underlying
	HedgeActivated HedgeState = "Activated" // threshold crossed, order placed
	HedgeExpired   HedgeState = "Expired"
	HedgeCancelled HedgeState = "Cancelled"
)

// HedgeRecord tracks one conditional inverse hedge tied to an underlying
// position.
type HedgeRecord struct {
	ID         string
	TradeID    string // underlying position order ID
	Symbol     string
	HedgeSide  domain.Side
	Qty        decimal.Decimal
	Threshold  float64 // activation on underlying frac P&L <= -Threshold
	State      HedgeState
	OrderID    string
	CreatedAt  time.Time
	ArmsAt     time.Time
	ExpiresAt  time.Time
}

// HedgerConfig tunes the anti-loss hedger.
type HedgerConfig struct {
	HedgeRatio          float64       // hedge qty = ratio × underlying qty
	ActivationThreshold float64       // default 0.02
	ArmDelay            time.Duration // Pending → Active
	Expiry              time.Duration
	MaxRecords          int
}

// DefaultHedgerConfig returns the standard hedger parameters.
func DefaultHedgerConfig() HedgerConfig {
	return HedgerConfig{
		HedgeRatio:          0.5,
		ActivationThreshold: 0.02,
		ArmDelay:            30 * time.Second,
		Expiry:              30 * time.Minute,
		MaxRecords:          100,
	}
}

// Hedger manages the conditional inverse hedge lifecycle. Records live in a
// bounded deque; the oldest is evicted on overflow.
type Hedger struct {
	cfg      HedgerConfig
	executor ports.OrderExecutor
	registry interface {
		QuantizeQty(symbol string, raw decimal.Decimal) (decimal.Decimal, error)
	}

	mu      sync.Mutex
	records []*HedgeRecord
}

// NewHedger creates a hedger that places hedge orders through executor and
// quantizes hedge qtys through registry.
func NewHedger(cfg HedgerConfig, executor ports.OrderExecutor, registry interface {
	QuantizeQty(symbol string, raw decimal.Decimal) (decimal.Decimal, error)
}) *Hedger {
	if cfg.MaxRecords <= 0 {
		cfg.MaxRecords = 100
	}
	return &Hedger{cfg: cfg, executor: executor, registry: registry}
}

// Cover registers a Pending hedge for a freshly opened position.
func (h *Hedger) Cover(pos domain.Position) *HedgeRecord {
	now := time.Now().UTC()
	qty := pos.Opportunity.Qty.Mul(decimal.NewFromFloat(h.cfg.HedgeRatio))
	if h.registry != nil {
		if q, err := h.registry.QuantizeQty(pos.Opportunity.Symbol, qty); err == nil {
			qty = q
		}
	}

	rec := &HedgeRecord{
		ID:        uuid.New().String(),
		TradeID:   pos.OrderID,
		Symbol:    pos.Opportunity.Symbol,
		HedgeSide: pos.Opportunity.Side.Opposite(),
		Qty:       qty,
		Threshold: h.cfg.ActivationThreshold,
		State:     HedgePending,
		CreatedAt: now,
		ArmsAt:    now.Add(h.cfg.ArmDelay),
		ExpiresAt: now.Add(h.cfg.Expiry),
	}

	h.mu.Lock()
	h.records = append(h.records, rec)
	if len(h.records) > h.cfg.MaxRecords {
		h.records = h.records[1:]
	}
	h.mu.Unlock()

	return rec
}

// Observe advances every record against the current view of the underlying
// positions (keyed by order ID). Activated hedges place real orders.
func (h *Hedger) Observe(ctx context.Context, positions map[string]domain.Position) {
	now := time.Now().UTC()

	h.mu.Lock()
	records := make([]*HedgeRecord, len(h.records))
	copy(records, h.records)
	h.mu.Unlock()

	for _, rec := range records {
		switch rec.State {
		case HedgePending:
			if now.After(rec.ArmsAt) {
				h.transition(rec, HedgeActive)
			}
		case HedgeActive:
			if now.After(rec.ExpiresAt) {
				h.transition(rec, HedgeExpired)
				continue
			}
			under, ok := positions[rec.TradeID]
			if !ok || under.State == domain.PositionClosed || under.State == domain.PositionFailed {
				h.transition(rec, HedgeCancelled)
				continue
			}
			if under.UnrealizedFrac() <= -rec.Threshold {
				h.activate(ctx, rec)
			}
		case HedgeActivated:
			// Close with the underlying: once it is gone the hedge order is
			// flattened by the position manager's reconcile, nothing to do here.
			if _, ok := positions[rec.TradeID]; !ok {
				h.transition(rec, HedgeCancelled)
			}
		}
	}
}

func (h *Hedger) activate(ctx context.Context, rec *HedgeRecord) {
	ack, err := h.executor.PlaceOrder(ctx, domain.OrderRequest{
		Symbol:      rec.Symbol,
		Side:        rec.HedgeSide,
		Qty:         rec.Qty,
		OrderType:   "Market",
		TimeInForce: "IOC",
	})
	if err != nil {
		slog.Warn("hedger: hedge order failed", "symbol", rec.Symbol, "err", err)
		return
	}
	h.mu.Lock()
	rec.OrderID = ack.OrderID
	rec.State = HedgeActivated
	h.mu.Unlock()
	slog.Info("hedger: hedge activated",
		"symbol", rec.Symbol, "side", rec.HedgeSide, "qty", rec.Qty.String(), "order_id", ack.OrderID)
}

func (h *Hedger) transition(rec *HedgeRecord, to HedgeState) {
	h.mu.Lock()
	rec.State = to
	h.mu.Unlock()
}

// Active returns the records currently watching or hedging.
func (h *Hedger) Active() []HedgeRecord {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]HedgeRecord, 0, len(h.records))
	for _, r := range h.records {
		if r.State == HedgeActive || r.State == HedgeActivated {
			out = append(out, *r)
		}
	}
	return out
}

// Record returns a copy of a record by ID.
func (h *Hedger) Record(id string) (HedgeRecord, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, r := range h.records {
		if r.ID == id {
			return *r, nil
		}
	}
	return HedgeRecord{}, fmt.Errorf("hedger: record %s not found", id)
}
