package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Side es la dirección de una posición de futuros.
type Side string

const (
	SideLong  Side = "Long"
	SideShort Side = "Short"
)

// Sign devuelve +1 para Long y -1 para Short.
func (s Side) Sign() decimal.Decimal {
	if s == SideShort {
		return decimal.NewFromInt(-1)
	}
	return decimal.NewFromInt(1)
}

// Opposite devuelve el lado contrario.
func (s Side) Opposite() Side {
	if s == SideLong {
		return SideShort
	}
	return SideLong
}

// Opportunity es un candidato de orden dimensionado y acotado, aún no enviado.
// La crea el builder y la consume el position manager como mucho una vez.
type Opportunity struct {
	ID     string
	Symbol string
	Side   Side

	Entry  decimal.Decimal
	Stop   decimal.Decimal
	Target decimal.Decimal
	Qty    decimal.Decimal

	Leverage int
	Margin   decimal.Decimal // capital asignado del ledger

	ExpectedNetProfit decimal.Decimal
	Confidence        float64
	RiskScore         float64

	// Agentes que contribuyeron al score, con sus confianzas, para el
	// reinforcement posterior al cierre.
	ContributingAgents []string
	AgentConfidences   []float64

	RationaleTag string
	CreatedAt    time.Time
	ExpiresAt    time.Time
}

// Expired indica si la oportunidad ya no es ejecutable.
func (o Opportunity) Expired(now time.Time) bool {
	return now.After(o.ExpiresAt)
}

// Validate comprueba las invariantes de orden stop/entry/target por lado.
func (o Opportunity) Validate() error {
	switch o.Side {
	case SideLong:
		if !(o.Stop.LessThan(o.Entry) && o.Entry.LessThan(o.Target)) {
			return fmt.Errorf("opportunity %s: long requiere stop < entry < target (%s / %s / %s)",
				o.ID, o.Stop, o.Entry, o.Target)
		}
	case SideShort:
		if !(o.Target.LessThan(o.Entry) && o.Entry.LessThan(o.Stop)) {
			return fmt.Errorf("opportunity %s: short requiere target < entry < stop (%s / %s / %s)",
				o.ID, o.Target, o.Entry, o.Stop)
		}
	default:
		return fmt.Errorf("opportunity %s: side desconocido %q", o.ID, o.Side)
	}
	if o.Qty.Sign() <= 0 {
		return fmt.Errorf("opportunity %s: qty no positiva %s", o.ID, o.Qty)
	}
	return nil
}

// RankScore ordena candidatos: profit esperado × confianza × (1 - riesgo).
func (o Opportunity) RankScore() float64 {
	p, _ := o.ExpectedNetProfit.Float64()
	return p * o.Confidence * (1 - o.RiskScore)
}
