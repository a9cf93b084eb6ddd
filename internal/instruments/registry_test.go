package instruments

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/omniperp/internal/domain"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func btcSpec() domain.InstrumentSpec {
	return domain.InstrumentSpec{
		Symbol:      "BTCUSDT",
		MinQty:      dec("0.001"),
		QtyStep:     dec("0.001"),
		TickSize:    dec("0.10"),
		MinNotional: dec("5"),
		MaxLeverage: dec("100"),
		TakerFeeBps: dec("5.5"),
	}
}

func newTestRegistry() *Registry {
	r := New()
	r.Replace([]domain.InstrumentSpec{btcSpec()})
	return r
}

func TestQuantizeQty_FloorsToStep(t *testing.T) {
	r := newTestRegistry()

	q, err := r.QuantizeQty("BTCUSDT", dec("0.0078"))
	require.NoError(t, err)
	assert.True(t, q.Equal(dec("0.007")), "got %s", q)
}

func TestQuantizeQty_FloorsAtMinQty(t *testing.T) {
	r := newTestRegistry()

	q, err := r.QuantizeQty("BTCUSDT", dec("0.0004"))
	require.NoError(t, err)
	assert.True(t, q.Equal(dec("0.001")), "got %s", q)
}

func TestQuantizeQty_Idempotent(t *testing.T) {
	spec := btcSpec()
	for _, raw := range []string{"0.0078", "0.0004", "1.2345678", "0.001", "42"} {
		once := QuantizeQty(spec, dec(raw))
		twice := QuantizeQty(spec, once)
		assert.True(t, once.Equal(twice), "quantize(quantize(%s)): %s != %s", raw, twice, once)
	}
}

func TestQuantizeQty_UnknownSymbol(t *testing.T) {
	r := newTestRegistry()
	_, err := r.QuantizeQty("NOPEUSDT", dec("1"))
	assert.ErrorIs(t, err, ErrUnknownSymbol)
}

func TestValidateOrder(t *testing.T) {
	r := newTestRegistry()

	assert.NoError(t, r.ValidateOrder("BTCUSDT", dec("0.001"), dec("50000.00")))

	err := r.ValidateOrder("BTCUSDT", dec("0.0005"), dec("50000.00"))
	assert.ErrorIs(t, err, ErrBelowMinQty)

	err = r.ValidateOrder("BTCUSDT", dec("0.0015"), dec("50000.00"))
	assert.ErrorIs(t, err, ErrStepMisaligned)

	err = r.ValidateOrder("BTCUSDT", dec("0.001"), dec("50000.05"))
	assert.ErrorIs(t, err, ErrTickMisaligned)

	err = r.ValidateOrder("BTCUSDT", dec("0.001"), dec("1000.00"))
	assert.ErrorIs(t, err, ErrBelowMinNotional)
}

func TestReplaceSynthetic_FlagsSpecs(t *testing.T) {
	r := New()
	r.ReplaceSynthetic([]string{"BTCUSDT", "ETHUSDT"})

	assert.Equal(t, 2, r.Len())
	spec, err := r.Spec("BTCUSDT")
	require.NoError(t, err)
	assert.True(t, spec.Synthetic, "fallback specs must be distinguishable")
}

func TestAlignPrice(t *testing.T) {
	spec := btcSpec()
	assert.True(t, AlignPrice(spec, dec("50000.04")).Equal(dec("50000.00")))
	assert.True(t, AlignPrice(spec, dec("50000.05")).Equal(dec("50000.10")))
}
