package ports

import (
	"context"

	"github.com/alejandrodnm/omniperp/internal/domain"
	"github.com/alejandrodnm/omniperp/internal/evolution"
)

// OutcomeStorage persiste los round-trips cerrados y el estado evolutivo
// para sobrevivir reinicios.
type OutcomeStorage interface {
	// SaveOutcome persiste un round-trip cerrado. Inmutable una vez escrito.
	SaveOutcome(ctx context.Context, outcome domain.TradeOutcome) error

	// LoadOutcomes devuelve los últimos limit outcomes, más recientes primero.
	LoadOutcomes(ctx context.Context, limit int) ([]domain.TradeOutcome, error)

	// SaveAgents persiste el snapshot del registro de agentes.
	SaveAgents(ctx context.Context, agents []evolution.AgentMetadata) error

	// LoadAgents restaura el registro de agentes.
	LoadAgents(ctx context.Context) ([]evolution.AgentMetadata, error)

	// SaveBreaker persiste el estado del guardián de drawdown.
	SaveBreaker(ctx context.Context, tripped bool, realized string) error

	// LoadBreaker restaura el estado del guardián.
	LoadBreaker(ctx context.Context) (tripped bool, realized string, err error)

	Close() error
}
