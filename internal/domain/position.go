package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PositionState es el estado del ciclo de vida de una posición.
type PositionState string

const (
	PositionPending PositionState = "Pending" // orden enviada, sin fill confirmado
	PositionOpen    PositionState = "Open"    // fill confirmado por el venue
	PositionExiting PositionState = "Exiting" // orden de cierre en vuelo
	PositionClosed  PositionState = "Closed"  // round-trip completo
	PositionFailed  PositionState = "Failed"  // rechazo del venue o timeout
)

// Trailing es el estado del trailing stop de una posición.
// El stop solo avanza, nunca retrocede.
type Trailing struct {
	Armed        bool
	Anchor       decimal.Decimal // mejor mark visto desde el armado
	Stop         decimal.Decimal
	DistanceFrac float64
}

// Position es una orden aceptada por el venue bajo gestión de ciclo de vida.
// El venue es la autoridad: la vista local se reconcilia con cada poll.
type Position struct {
	Opportunity Opportunity
	OrderID     string

	EntryActual    decimal.Decimal
	LeverageActual int
	Mark           decimal.Decimal
	UnrealizedPnL  decimal.Decimal

	State    PositionState
	Trailing Trailing

	SubmittedAt time.Time
	OpenedAt    time.Time
	ExitingAt   time.Time
	ExitReason  string
}

// UnrealizedFrac devuelve el P&L no realizado como fracción del precio de
// entrada, con signo según el lado. Cero sin entry o sin mark.
func (p Position) UnrealizedFrac() float64 {
	if p.EntryActual.Sign() <= 0 || p.Mark.Sign() <= 0 {
		return 0
	}
	move := p.Mark.Sub(p.EntryActual).Div(p.EntryActual)
	f, _ := move.Mul(p.Opportunity.Side.Sign()).Float64()
	return f
}

// OutcomeClass clasifica el resultado de un round-trip cerrado.
type OutcomeClass string

const (
	OutcomeWin        OutcomeClass = "Win"
	OutcomeLoss       OutcomeClass = "Loss"
	OutcomeStopLoss   OutcomeClass = "StopLoss"
	OutcomeTakeProfit OutcomeClass = "TakeProfit"
	OutcomeBreakeven  OutcomeClass = "Breakeven"
	OutcomeManual     OutcomeClass = "Manual"
)

// TradeOutcome es el registro inmutable de un round-trip cerrado.
type TradeOutcome struct {
	ID       string
	Symbol   string
	Side     Side
	Entry    decimal.Decimal
	Exit     decimal.Decimal
	Qty      decimal.Decimal
	Leverage int

	RealizedPnL decimal.Decimal
	Fees        decimal.Decimal

	OpenedAt time.Time
	ClosedAt time.Time

	ContributingAgents []string
	Confidences        []float64
	Tags               []string
	Class              OutcomeClass

	// Patrón de precios normalizado alrededor del trade, para el índice
	// fractal del memory node.
	Pattern []float64
}

// ROI devuelve el retorno fraccional sobre el margen usado (float, métrica).
func (t TradeOutcome) ROI(margin decimal.Decimal) float64 {
	if margin.Sign() <= 0 {
		return 0
	}
	f, _ := t.RealizedPnL.Div(margin).Float64()
	return f
}

// IsWin agrupa las clases que cuentan como ganadoras.
func (t TradeOutcome) IsWin() bool {
	return t.Class == OutcomeWin || t.Class == OutcomeTakeProfit
}
