package ports

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/alejandrodnm/omniperp/internal/domain"
)

// OrderExecutor places and closes real orders and reads account state.
type OrderExecutor interface {
	// PlaceOrder signs and submits an order.
	PlaceOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderAck, error)

	// ClosePosition submits a reduce-only market order for the full qty.
	ClosePosition(ctx context.Context, symbol string, side domain.Side, qty decimal.Decimal) (domain.OrderAck, error)

	// FetchPositions returns the venue's authoritative open positions.
	FetchPositions(ctx context.Context) ([]domain.VenuePosition, error)

	// FetchWalletBalance returns the quote-currency account balance.
	FetchWalletBalance(ctx context.Context) (domain.WalletBalance, error)
}
