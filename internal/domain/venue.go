package domain

import (
	"errors"

	"github.com/shopspring/decimal"
)

// ErrAuthRejected marca un rechazo de firma o API key del venue. Es fatal:
// el engine se detiene con exit code 2. Los adapters lo envuelven.
var ErrAuthRejected = errors.New("venue auth rejected")

// OrderRequest describe una orden a crear en el venue. Qty y precios van en
// decimal y se renderizan a strings del wire sin pasar por float.
type OrderRequest struct {
	Symbol      string
	Side        Side
	Qty         decimal.Decimal
	OrderType   string // "Market" | "Limit"
	TimeInForce string // "GTC" | "IOC"; vacío deja el default del venue
	Price       decimal.Decimal
	StopLoss    decimal.Decimal
	TakeProfit  decimal.Decimal
	ReduceOnly  bool
}

// OrderAck es el acuse de creación de una orden.
type OrderAck struct {
	OrderID string
}

// VenuePosition es la vista del venue de una posición abierta. Es la verdad
// contra la que se reconcilia la vista local en cada poll.
type VenuePosition struct {
	Symbol        string
	Side          Side
	Size          decimal.Decimal
	AvgPrice      decimal.Decimal
	MarkPrice     decimal.Decimal
	Leverage      decimal.Decimal
	UnrealisedPnl decimal.Decimal
	PositionValue decimal.Decimal
}

// WalletBalance es el balance de la cuenta en la moneda quote.
type WalletBalance struct {
	Coin      string
	Balance   decimal.Decimal
	Available decimal.Decimal
}
