package bybit

// mapping.go — conversión wire → domain. Todos los numéricos se parsean como
// decimal desde el string original; nunca a través de float64.

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alejandrodnm/omniperp/internal/domain"
)

// parseDec parsea un string del wire como decimal. Vacío = cero (el venue
// devuelve "" en campos no aplicables).
func parseDec(field, s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: campo %s=%q", ErrMalformed, field, s)
	}
	return d, nil
}

func mapInstrument(w wireInstrument, takerBps, makerBps decimal.Decimal) (domain.InstrumentSpec, error) {
	minQty, err := parseDec("minOrderQty", w.LotSizeFilter.MinOrderQty)
	if err != nil {
		return domain.InstrumentSpec{}, err
	}
	step, err := parseDec("qtyStep", w.LotSizeFilter.QtyStep)
	if err != nil {
		return domain.InstrumentSpec{}, err
	}
	minNotional, err := parseDec("minNotionalValue", w.LotSizeFilter.MinNotionalValue)
	if err != nil {
		return domain.InstrumentSpec{}, err
	}
	tick, err := parseDec("tickSize", w.PriceFilter.TickSize)
	if err != nil {
		return domain.InstrumentSpec{}, err
	}
	maxLev, err := parseDec("maxLeverage", w.LeverageFilter.MaxLeverage)
	if err != nil {
		return domain.InstrumentSpec{}, err
	}
	return domain.InstrumentSpec{
		Symbol:      w.Symbol,
		MinQty:      minQty,
		QtyStep:     step,
		TickSize:    tick,
		MinNotional: minNotional,
		MaxLeverage: maxLev,
		TakerFeeBps: takerBps,
		MakerFeeBps: makerBps,
	}, nil
}

func mapTicker(w wireTicker) (domain.Ticker, error) {
	t := domain.Ticker{Symbol: w.Symbol, FetchedAt: time.Now().UTC()}
	var err error
	if t.Last, err = parseDec("lastPrice", w.LastPrice); err != nil {
		return t, err
	}
	if t.Bid, err = parseDec("bid1Price", w.Bid1Price); err != nil {
		return t, err
	}
	if t.Ask, err = parseDec("ask1Price", w.Ask1Price); err != nil {
		return t, err
	}
	if t.Volume24h, err = parseDec("volume24h", w.Volume24h); err != nil {
		return t, err
	}
	if t.Change24h, err = parseDec("price24hPcnt", w.Price24hPcnt); err != nil {
		return t, err
	}
	if t.High24h, err = parseDec("highPrice24h", w.HighPrice24h); err != nil {
		return t, err
	}
	if t.Low24h, err = parseDec("lowPrice24h", w.LowPrice24h); err != nil {
		return t, err
	}
	return t, nil
}

// mapKlines convierte las filas [openTime, open, high, low, close, volume, …]
// en velas ordenadas de más antigua a más reciente (el venue devuelve al revés).
func mapKlines(rows [][]json.RawMessage) ([]domain.Kline, error) {
	out := make([]domain.Kline, 0, len(rows))
	for _, row := range rows {
		if len(row) < 6 {
			return nil, fmt.Errorf("%w: fila de kline con %d campos", ErrMalformed, len(row))
		}
		fields := make([]string, 6)
		for i := 0; i < 6; i++ {
			if err := json.Unmarshal(row[i], &fields[i]); err != nil {
				return nil, fmt.Errorf("%w: campo %d de kline: %v", ErrMalformed, i, err)
			}
		}
		ms, err := strconv.ParseInt(fields[0], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: openTime %q", ErrMalformed, fields[0])
		}
		k := domain.Kline{OpenTime: time.UnixMilli(ms).UTC()}
		if k.Open, err = parseDec("open", fields[1]); err != nil {
			return nil, err
		}
		if k.High, err = parseDec("high", fields[2]); err != nil {
			return nil, err
		}
		if k.Low, err = parseDec("low", fields[3]); err != nil {
			return nil, err
		}
		if k.Close, err = parseDec("close", fields[4]); err != nil {
			return nil, err
		}
		if k.Volume, err = parseDec("volume", fields[5]); err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	// De más antigua a más reciente.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func mapOrderBook(w orderbookResult) (domain.OrderBook, error) {
	book := domain.OrderBook{Symbol: w.Symbol}
	for _, lvl := range w.Bids {
		price, err := parseDec("bid price", lvl[0])
		if err != nil {
			return book, err
		}
		size, err := parseDec("bid size", lvl[1])
		if err != nil {
			return book, err
		}
		book.Bids = append(book.Bids, domain.BookLevel{Price: price, Size: size})
	}
	for _, lvl := range w.Asks {
		price, err := parseDec("ask price", lvl[0])
		if err != nil {
			return book, err
		}
		size, err := parseDec("ask size", lvl[1])
		if err != nil {
			return book, err
		}
		book.Asks = append(book.Asks, domain.BookLevel{Price: price, Size: size})
	}
	return book, nil
}

func mapPosition(w wirePosition) (domain.VenuePosition, error) {
	p := domain.VenuePosition{Symbol: w.Symbol}
	switch w.Side {
	case "Buy":
		p.Side = domain.SideLong
	case "Sell":
		p.Side = domain.SideShort
	case "", "None":
		// posición vacía: size 0
	default:
		return p, fmt.Errorf("%w: side %q", ErrMalformed, w.Side)
	}
	var err error
	if p.Size, err = parseDec("size", w.Size); err != nil {
		return p, err
	}
	if p.AvgPrice, err = parseDec("avgPrice", w.AvgPrice); err != nil {
		return p, err
	}
	if p.MarkPrice, err = parseDec("markPrice", w.MarkPrice); err != nil {
		return p, err
	}
	if p.Leverage, err = parseDec("leverage", w.Leverage); err != nil {
		return p, err
	}
	if p.UnrealisedPnl, err = parseDec("unrealisedPnl", w.UnrealisedPnl); err != nil {
		return p, err
	}
	if p.PositionValue, err = parseDec("positionValue", w.PositionValue); err != nil {
		return p, err
	}
	return p, nil
}
