package ports

import (
	"context"

	"github.com/alejandrodnm/omniperp/internal/domain"
)

// MarketProvider obtiene market data del venue.
type MarketProvider interface {
	// FetchInstruments devuelve los specs de todos los instrumentos operables.
	FetchInstruments(ctx context.Context) ([]domain.InstrumentSpec, error)

	// FetchTicker devuelve el snapshot de un símbolo.
	FetchTicker(ctx context.Context, symbol string) (domain.Ticker, error)

	// FetchTickers devuelve los snapshots de todos los símbolos.
	FetchTickers(ctx context.Context) ([]domain.Ticker, error)

	// FetchKlines devuelve hasta limit velas, de más antigua a más reciente.
	FetchKlines(ctx context.Context, symbol, interval string, limit int) ([]domain.Kline, error)

	// FetchOrderBook devuelve los mejores niveles de cada lado.
	FetchOrderBook(ctx context.Context, symbol string) (domain.OrderBook, error)
}
