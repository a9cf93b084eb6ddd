package engine

// builder.go — fuses score bundles into sized, risk-parameterized candidates.
//
// Every gate that can reject a symbol lives here; the order matters and is
// load-bearing: composite → market sanity → side → leverage → size →
// quantize → profit gate.

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alejandrodnm/omniperp/internal/domain"
	"github.com/alejandrodnm/omniperp/internal/instruments"
	"github.com/alejandrodnm/omniperp/internal/ledger"
)

var (
	ErrLowComposite   = errors.New("builder: composite below entry threshold")
	ErrMarketUnstable = errors.New("builder: daily change outside band")
	ErrThinVolume     = errors.New("builder: 24h volume too thin")
	ErrNoSide         = errors.New("builder: quantum and technical disagree")
	ErrNoCapital      = errors.New("builder: available below min notional")
	ErrOversized      = errors.New("builder: quantized notional exceeds allocation")
	ErrThinProfit     = errors.New("builder: expected net profit below target")
)

// BuilderConfig tunes the opportunity builder.
type BuilderConfig struct {
	Weights        domain.CompositeWeights
	EntryThreshold float64         // composite floor, default 0.75
	MaxDailyChange float64         // |24h change| ceiling, default 0.15
	MinVolume24h   decimal.Decimal // quote units, default 100k
	MinProfit      decimal.Decimal // per round-trip, default 0.6
	StopFrac       float64         // fixed stop movement, default 0.0025
	CapitalFrac    float64         // share of (seed−buffer), default 0.4
	MinLeverage    int             // default 50
	MaxLeverage    int             // default 100
	MaxDispatch    int             // candidates per cycle, default 3
	Expiry         time.Duration   // default 5m
}

// DefaultBuilderConfig returns the normative parameters.
func DefaultBuilderConfig() BuilderConfig {
	return BuilderConfig{
		Weights:        domain.DefaultWeights(),
		EntryThreshold: 0.75,
		MaxDailyChange: 0.15,
		MinVolume24h:   decimal.NewFromInt(100_000),
		MinProfit:      decimal.RequireFromString("0.6"),
		StopFrac:       0.0025,
		CapitalFrac:    0.4,
		MinLeverage:    50,
		MaxLeverage:    100,
		MaxDispatch:    3,
		Expiry:         5 * time.Minute,
	}
}

// Builder turns bundles into opportunities using the instrument registry and
// a ledger snapshot.
type Builder struct {
	cfg      BuilderConfig
	registry *instruments.Registry
}

// NewBuilder validates the weights and creates a builder.
func NewBuilder(cfg BuilderConfig, registry *instruments.Registry) (*Builder, error) {
	if err := cfg.Weights.Validate(); err != nil {
		return nil, fmt.Errorf("engine.NewBuilder: %w", err)
	}
	if cfg.MaxDispatch <= 0 {
		cfg.MaxDispatch = 3
	}
	if cfg.Expiry <= 0 {
		cfg.Expiry = 5 * time.Minute
	}
	return &Builder{cfg: cfg, registry: registry}, nil
}

// Build runs the full gate sequence for one symbol.
func (b *Builder) Build(
	bundle domain.ScoreBundle,
	ticker domain.Ticker,
	klines []domain.Kline,
	snap ledger.Snapshot,
) (domain.Opportunity, error) {
	composite := bundle.Composite(b.cfg.Weights)
	if composite < b.cfg.EntryThreshold {
		return domain.Opportunity{}, fmt.Errorf("%w: %.3f < %.3f", ErrLowComposite, composite, b.cfg.EntryThreshold)
	}

	change, _ := ticker.Change24h.Abs().Float64()
	if change > b.cfg.MaxDailyChange {
		return domain.Opportunity{}, fmt.Errorf("%w: |%.1f%%|", ErrMarketUnstable, change*100)
	}
	if ticker.Volume24h.Mul(ticker.Last).LessThan(b.cfg.MinVolume24h) {
		return domain.Opportunity{}, ErrThinVolume
	}

	// Side rule: quantum and technical must agree.
	quantum := bundle.Score(domain.AgentQuantum)
	tech := bundle.Score(domain.AgentTechnical)
	var side domain.Side
	switch {
	case quantum >= 0.5 && tech >= 0.5:
		side = domain.SideLong
	case quantum < 0.5 && tech < 0.5:
		side = domain.SideShort
	default:
		return domain.Opportunity{}, fmt.Errorf("%w: quantum %.2f tech %.2f", ErrNoSide, quantum, tech)
	}

	spec, err := b.registry.Spec(bundle.Symbol)
	if err != nil {
		return domain.Opportunity{}, fmt.Errorf("builder: %w", err)
	}

	volatility := domain.RangeVolatility(klines)
	leverage := b.leverage(volatility, spec)

	// Sizing floor comes from the immutable seed, never from equity.
	size, err := b.size(composite, snap, spec)
	if err != nil {
		return domain.Opportunity{}, err
	}

	entry := ticker.Last
	move := 0.006 + 0.002*composite
	target, stop := priceBand(entry, side, move, b.cfg.StopFrac)

	rawQty := size.Div(entry)
	qty := instruments.QuantizeQty(spec, rawQty)
	notional := qty.Mul(entry)
	if notional.GreaterThan(size.Mul(decimal.RequireFromString("1.01"))) {
		return domain.Opportunity{}, fmt.Errorf("%w: %s > %s·1.01", ErrOversized, notional, size)
	}

	expected := b.expectedNetProfit(qty, entry, target, leverage, size, spec)
	if expected.LessThan(b.cfg.MinProfit) {
		return domain.Opportunity{}, fmt.Errorf("%w: %s < %s", ErrThinProfit, expected, b.cfg.MinProfit)
	}

	agents, confidences := bundle.Contributors()
	now := bundle.At
	if now.IsZero() {
		now = time.Now().UTC()
	}

	opp := domain.Opportunity{
		ID:                 uuid.New().String(),
		Symbol:             bundle.Symbol,
		Side:               side,
		Entry:              entry,
		Stop:               stop,
		Target:             target,
		Qty:                qty,
		Leverage:           leverage,
		Margin:             size,
		ExpectedNetProfit:  expected,
		Confidence:         composite,
		RiskScore:          math.Min(volatility*10, 1),
		ContributingAgents: agents,
		AgentConfidences:   confidences,
		RationaleTag:       fmt.Sprintf("c%.2f-v%.4f", composite, volatility),
		CreatedAt:          now,
		ExpiresAt:          now.Add(b.cfg.Expiry),
	}
	if err := opp.Validate(); err != nil {
		return domain.Opportunity{}, fmt.Errorf("builder: %w", err)
	}
	return opp, nil
}

// leverage = clamp(⌈50 + 50·min(volatility/2, 1)⌉, 50, min(100, spec max)).
func (b *Builder) leverage(volatility float64, spec domain.InstrumentSpec) int {
	raw := int(math.Ceil(float64(b.cfg.MinLeverage) + float64(b.cfg.MinLeverage)*math.Min(volatility/2, 1)))

	ceiling := b.cfg.MaxLeverage
	if specMax := int(spec.MaxLeverage.IntPart()); specMax > 0 && specMax < ceiling {
		ceiling = specMax
	}
	if raw < b.cfg.MinLeverage {
		raw = b.cfg.MinLeverage
	}
	if raw > ceiling {
		raw = ceiling
	}
	return raw
}

// size = clamp(confidence² · (seed−buffer) · capitalFrac, max(minNotional,1), available).
func (b *Builder) size(confidence float64, snap ledger.Snapshot, spec domain.InstrumentSpec) (decimal.Decimal, error) {
	floor := spec.MinNotional
	if floor.LessThan(decimal.NewFromInt(1)) {
		floor = decimal.NewFromInt(1)
	}
	if snap.Available.LessThan(floor) {
		return decimal.Zero, fmt.Errorf("%w: available %s < %s", ErrNoCapital, snap.Available, floor)
	}

	activeCapital := snap.Seed.Sub(snap.Buffer)
	size := activeCapital.
		Mul(decimal.NewFromFloat(confidence * confidence)).
		Mul(decimal.NewFromFloat(b.cfg.CapitalFrac))

	if size.LessThan(floor) {
		size = floor
	}
	if size.GreaterThan(snap.Available) {
		size = snap.Available
	}
	return size, nil
}

// expectedNetProfit = qty·|target−entry|·leverage − 2·size·takerFee.
func (b *Builder) expectedNetProfit(qty, entry, target decimal.Decimal, leverage int, size decimal.Decimal, spec domain.InstrumentSpec) decimal.Decimal {
	gross := qty.Mul(target.Sub(entry).Abs()).Mul(decimal.NewFromInt(int64(leverage)))
	fees := size.Mul(spec.TakerFeeBps).Div(decimal.NewFromInt(10000)).Mul(decimal.NewFromInt(2))
	return gross.Sub(fees)
}

// priceBand computes target and stop around the entry for the given side.
func priceBand(entry decimal.Decimal, side domain.Side, moveFrac, stopFrac float64) (target, stop decimal.Decimal) {
	one := decimal.NewFromInt(1)
	move := decimal.NewFromFloat(moveFrac)
	stopD := decimal.NewFromFloat(stopFrac)
	if side == domain.SideLong {
		return entry.Mul(one.Add(move)), entry.Mul(one.Sub(stopD))
	}
	return entry.Mul(one.Sub(move)), entry.Mul(one.Add(stopD))
}

// Rank orders candidates by expected profit × confidence × (1 − risk),
// best first, truncated to the per-cycle dispatch budget.
func (b *Builder) Rank(candidates []domain.Opportunity) []domain.Opportunity {
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].RankScore() > candidates[j].RankScore()
	})
	if len(candidates) > b.cfg.MaxDispatch {
		candidates = candidates[:b.cfg.MaxDispatch]
	}
	return candidates
}

// CapitalTier buckets equity into sizing regimes. The tier never changes the
// per-trade sizing base (that stays seed-anchored); it scales how many
// concurrent positions are allowed and the confidence floor to open new ones.
type CapitalTier string

const (
	TierMicro  CapitalTier = "micro"
	TierSmall  CapitalTier = "small"
	TierMedium CapitalTier = "medium"
	TierLarge  CapitalTier = "large"
)

// TierFor buckets current equity.
func TierFor(equity decimal.Decimal) CapitalTier {
	switch {
	case equity.LessThan(decimal.NewFromInt(25)):
		return TierMicro
	case equity.LessThan(decimal.NewFromInt(100)):
		return TierSmall
	case equity.LessThan(decimal.NewFromInt(1000)):
		return TierMedium
	default:
		return TierLarge
	}
}

// MaxPositions returns the concurrent position ceiling for a tier.
func (t CapitalTier) MaxPositions() int {
	switch t {
	case TierMicro:
		return 2
	case TierSmall:
		return 3
	case TierMedium:
		return 5
	default:
		return 8
	}
}

// MinConfidence returns the composite floor to open positions in this tier.
func (t CapitalTier) MinConfidence() float64 {
	switch t {
	case TierMicro:
		return 0.8
	case TierSmall:
		return 0.77
	default:
		return 0.75
	}
}
