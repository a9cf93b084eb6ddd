package bybit

// market.go — endpoints públicos de market data de la categoría linear.

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/alejandrodnm/omniperp/internal/domain"
)

const category = "linear"

// Fees por defecto de la categoría linear en basis points. El endpoint de
// instrumentos no los incluye; se aplican uniformes a todo instrumento.
var (
	defaultTakerFeeBps = decimal.NewFromFloat(5.5)
	defaultMakerFeeBps = decimal.NewFromFloat(2.0)
)

// FetchInstruments devuelve los specs de todos los instrumentos Trading
// de la categoría linear.
func (c *Client) FetchInstruments(ctx context.Context) ([]domain.InstrumentSpec, error) {
	q := url.Values{}
	q.Set("category", category)

	var res instrumentsResult
	if err := c.get(ctx, "/v5/market/instruments-info", q, &res); err != nil {
		return nil, fmt.Errorf("bybit.FetchInstruments: %w", err)
	}

	specs := make([]domain.InstrumentSpec, 0, len(res.List))
	for _, w := range res.List {
		if w.Status != "Trading" {
			continue
		}
		spec, err := mapInstrument(w, defaultTakerFeeBps, defaultMakerFeeBps)
		if err != nil {
			return nil, fmt.Errorf("bybit.FetchInstruments: %s: %w", w.Symbol, err)
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

// FetchTicker devuelve el snapshot de mercado de un símbolo.
func (c *Client) FetchTicker(ctx context.Context, symbol string) (domain.Ticker, error) {
	q := url.Values{}
	q.Set("category", category)
	q.Set("symbol", symbol)

	var res tickersResult
	if err := c.get(ctx, "/v5/market/tickers", q, &res); err != nil {
		return domain.Ticker{}, fmt.Errorf("bybit.FetchTicker %s: %w", symbol, err)
	}
	if len(res.List) == 0 {
		return domain.Ticker{}, fmt.Errorf("bybit.FetchTicker %s: %w: lista vacía", symbol, ErrMalformed)
	}
	t, err := mapTicker(res.List[0])
	if err != nil {
		return domain.Ticker{}, fmt.Errorf("bybit.FetchTicker %s: %w", symbol, err)
	}
	return t, nil
}

// FetchTickers devuelve los snapshots de todos los símbolos linear.
func (c *Client) FetchTickers(ctx context.Context) ([]domain.Ticker, error) {
	q := url.Values{}
	q.Set("category", category)

	var res tickersResult
	if err := c.get(ctx, "/v5/market/tickers", q, &res); err != nil {
		return nil, fmt.Errorf("bybit.FetchTickers: %w", err)
	}
	out := make([]domain.Ticker, 0, len(res.List))
	for _, w := range res.List {
		t, err := mapTicker(w)
		if err != nil {
			return nil, fmt.Errorf("bybit.FetchTickers: %s: %w", w.Symbol, err)
		}
		out = append(out, t)
	}
	return out, nil
}

// FetchKlines devuelve hasta limit velas del intervalo dado, de más antigua
// a más reciente.
func (c *Client) FetchKlines(ctx context.Context, symbol, interval string, limit int) ([]domain.Kline, error) {
	q := url.Values{}
	q.Set("category", category)
	q.Set("symbol", symbol)
	q.Set("interval", interval)
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}

	var res klineResult
	if err := c.get(ctx, "/v5/market/kline", q, &res); err != nil {
		return nil, fmt.Errorf("bybit.FetchKlines %s/%s: %w", symbol, interval, err)
	}
	klines, err := mapKlines(res.List)
	if err != nil {
		return nil, fmt.Errorf("bybit.FetchKlines %s/%s: %w", symbol, interval, err)
	}
	return klines, nil
}

// FetchOrderBook devuelve los 25 mejores niveles de cada lado.
func (c *Client) FetchOrderBook(ctx context.Context, symbol string) (domain.OrderBook, error) {
	q := url.Values{}
	q.Set("category", category)
	q.Set("symbol", symbol)
	q.Set("limit", "25")

	var res orderbookResult
	if err := c.get(ctx, "/v5/market/orderbook", q, &res); err != nil {
		return domain.OrderBook{}, fmt.Errorf("bybit.FetchOrderBook %s: %w", symbol, err)
	}
	book, err := mapOrderBook(res)
	if err != nil {
		return domain.OrderBook{}, fmt.Errorf("bybit.FetchOrderBook %s: %w", symbol, err)
	}
	return book, nil
}
