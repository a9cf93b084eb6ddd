// Package instruments mantiene las reglas de trading por símbolo y la
// cuantización de cantidades.
package instruments

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alejandrodnm/omniperp/internal/domain"
)

var (
	// ErrUnknownSymbol: el símbolo no está en el registry.
	ErrUnknownSymbol = errors.New("instruments: símbolo desconocido")
	// ErrBelowMinQty: la cantidad cuantizada queda bajo el mínimo.
	ErrBelowMinQty = errors.New("instruments: qty bajo el mínimo")
	// ErrStepMisaligned: la cantidad no es múltiplo del step.
	ErrStepMisaligned = errors.New("instruments: qty no alineada al step")
	// ErrBelowMinNotional: qty × price no llega al notional mínimo.
	ErrBelowMinNotional = errors.New("instruments: notional bajo el mínimo")
	// ErrTickMisaligned: el precio no es múltiplo del tick.
	ErrTickMisaligned = errors.New("instruments: precio no alineado al tick")
)

// Registry es la vista local de los specs del venue. Single-writer: solo el
// refresh de discovery escribe; el resto lee por snapshot.
type Registry struct {
	mu          sync.RWMutex
	specs       map[string]domain.InstrumentSpec
	refreshedAt time.Time
}

// New crea un registry vacío.
func New() *Registry {
	return &Registry{specs: make(map[string]domain.InstrumentSpec)}
}

// Replace sustituye el contenido completo con la lista recién bajada.
func (r *Registry) Replace(specs []domain.InstrumentSpec) {
	next := make(map[string]domain.InstrumentSpec, len(specs))
	for _, s := range specs {
		next[s.Symbol] = s
	}
	r.mu.Lock()
	r.specs = next
	r.refreshedAt = time.Now().UTC()
	r.mu.Unlock()
}

// ReplaceSynthetic instala specs de fallback marcados Synthetic. Solo para
// modo demo cuando el venue no devolvió lista; nunca habilita órdenes reales.
func (r *Registry) ReplaceSynthetic(symbols []string) {
	specs := make([]domain.InstrumentSpec, 0, len(symbols))
	for _, sym := range symbols {
		specs = append(specs, domain.InstrumentSpec{
			Symbol:      sym,
			MinQty:      decimal.RequireFromString("0.001"),
			QtyStep:     decimal.RequireFromString("0.001"),
			TickSize:    decimal.RequireFromString("0.01"),
			MinNotional: decimal.RequireFromString("5"),
			MaxLeverage: decimal.NewFromInt(100),
			TakerFeeBps: decimal.RequireFromString("5.5"),
			MakerFeeBps: decimal.NewFromInt(2),
			Synthetic:   true,
		})
	}
	r.Replace(specs)
}

// Spec devuelve el spec de un símbolo.
func (r *Registry) Spec(symbol string) (domain.InstrumentSpec, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	spec, ok := r.specs[symbol]
	if !ok {
		return domain.InstrumentSpec{}, fmt.Errorf("instruments.Spec %q: %w", symbol, ErrUnknownSymbol)
	}
	return spec, nil
}

// Symbols devuelve los símbolos registrados.
func (r *Registry) Symbols() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.specs))
	for s := range r.specs {
		out = append(out, s)
	}
	return out
}

// Len devuelve el número de instrumentos cargados.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.specs)
}

// RefreshedAt devuelve el instante del último Replace.
func (r *Registry) RefreshedAt() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.refreshedAt
}

// QuantizeQty redondea rawQty al múltiplo inferior del step, con suelo en
// min_qty: max(min_qty, floor(raw/step)·step). Idempotente.
func (r *Registry) QuantizeQty(symbol string, rawQty decimal.Decimal) (decimal.Decimal, error) {
	spec, err := r.Spec(symbol)
	if err != nil {
		return decimal.Zero, err
	}
	return QuantizeQty(spec, rawQty), nil
}

// QuantizeQty aplica la regla de cuantización de un spec.
func QuantizeQty(spec domain.InstrumentSpec, rawQty decimal.Decimal) decimal.Decimal {
	if spec.QtyStep.Sign() <= 0 {
		return rawQty
	}
	q := rawQty.Div(spec.QtyStep).Floor().Mul(spec.QtyStep)
	if q.LessThan(spec.MinQty) {
		return spec.MinQty
	}
	return q
}

// ValidateOrder comprueba que (qty, price) cumpla todas las reglas del spec.
func (r *Registry) ValidateOrder(symbol string, qty, price decimal.Decimal) error {
	spec, err := r.Spec(symbol)
	if err != nil {
		return err
	}

	if qty.LessThan(spec.MinQty) {
		return fmt.Errorf("instruments.ValidateOrder %s: qty %s < min %s: %w",
			symbol, qty, spec.MinQty, ErrBelowMinQty)
	}
	if spec.QtyStep.Sign() > 0 && !qty.Mod(spec.QtyStep).IsZero() {
		return fmt.Errorf("instruments.ValidateOrder %s: qty %s step %s: %w",
			symbol, qty, spec.QtyStep, ErrStepMisaligned)
	}
	if spec.TickSize.Sign() > 0 && !price.Mod(spec.TickSize).IsZero() {
		return fmt.Errorf("instruments.ValidateOrder %s: price %s tick %s: %w",
			symbol, price, spec.TickSize, ErrTickMisaligned)
	}
	if notional := qty.Mul(price); notional.LessThan(spec.MinNotional) {
		return fmt.Errorf("instruments.ValidateOrder %s: notional %s < min %s: %w",
			symbol, notional, spec.MinNotional, ErrBelowMinNotional)
	}
	return nil
}

// AlignPrice redondea un precio al múltiplo más cercano del tick.
func AlignPrice(spec domain.InstrumentSpec, price decimal.Decimal) decimal.Decimal {
	if spec.TickSize.Sign() <= 0 {
		return price
	}
	return price.Div(spec.TickSize).Round(0).Mul(spec.TickSize)
}
