package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Kline es una vela OHLCV de un símbolo en un intervalo.
// Los precios se mantienen en decimal: el scoring puede trabajar con floats,
// pero el dato de origen nunca pasa por float antes de canonicalizarse.
type Kline struct {
	OpenTime time.Time
	Open     decimal.Decimal
	High     decimal.Decimal
	Low      decimal.Decimal
	Close    decimal.Decimal
	Volume   decimal.Decimal
}

// Ticker es el snapshot de mercado de un símbolo.
type Ticker struct {
	Symbol    string
	Last      decimal.Decimal
	Bid       decimal.Decimal
	Ask       decimal.Decimal
	Volume24h decimal.Decimal
	Change24h decimal.Decimal // fracción con signo: 0.0153 = +1.53%
	High24h   decimal.Decimal
	Low24h    decimal.Decimal
	FetchedAt time.Time
}

// BookLevel es un nivel de precio del orderbook.
type BookLevel struct {
	Price decimal.Decimal
	Size  decimal.Decimal
}

// OrderBook son los mejores niveles de cada lado.
type OrderBook struct {
	Symbol string
	Bids   []BookLevel // descendente por precio
	Asks   []BookLevel // ascendente por precio
}

// BestBid devuelve el mejor bid, o cero si el book está vacío.
func (b OrderBook) BestBid() decimal.Decimal {
	if len(b.Bids) == 0 {
		return decimal.Zero
	}
	return b.Bids[0].Price
}

// BestAsk devuelve el mejor ask, o cero si el book está vacío.
func (b OrderBook) BestAsk() decimal.Decimal {
	if len(b.Asks) == 0 {
		return decimal.Zero
	}
	return b.Asks[0].Price
}

// Spread devuelve ask - bid. Cero si falta un lado.
func (b OrderBook) Spread() decimal.Decimal {
	if len(b.Bids) == 0 || len(b.Asks) == 0 {
		return decimal.Zero
	}
	return b.BestAsk().Sub(b.BestBid())
}

// InstrumentSpec son las reglas de trading de un símbolo, inmutables por sesión.
type InstrumentSpec struct {
	Symbol      string
	MinQty      decimal.Decimal
	QtyStep     decimal.Decimal
	TickSize    decimal.Decimal
	MinNotional decimal.Decimal
	MaxLeverage decimal.Decimal
	TakerFeeBps decimal.Decimal
	MakerFeeBps decimal.Decimal

	// Synthetic marca un spec de fallback creado sin lista del venue.
	// Solo válido en modo demo; nunca para órdenes reales.
	Synthetic bool
}

// ClosesFloat devuelve los cierres como float64 para el scoring.
func ClosesFloat(klines []Kline) []float64 {
	out := make([]float64, len(klines))
	for i, k := range klines {
		out[i], _ = k.Close.Float64()
	}
	return out
}

// VolumesFloat devuelve los volúmenes como float64 para el scoring.
func VolumesFloat(klines []Kline) []float64 {
	out := make([]float64, len(klines))
	for i, k := range klines {
		out[i], _ = k.Volume.Float64()
	}
	return out
}

// RangeVolatility estima la volatilidad como rango fraccional medio
// (high-low)/close de las velas dadas. Devuelve 0 sin datos.
func RangeVolatility(klines []Kline) float64 {
	if len(klines) == 0 {
		return 0
	}
	sum := 0.0
	n := 0
	for _, k := range klines {
		c, _ := k.Close.Float64()
		if c <= 0 {
			continue
		}
		h, _ := k.High.Float64()
		l, _ := k.Low.Float64()
		sum += (h - l) / c
		n++
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}
