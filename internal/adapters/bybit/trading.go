package bybit

// trading.go — signed order and account endpoints.
//
// The order body is marshaled exactly once; those bytes are both signed and
// transmitted, so the signature always matches the payload on the wire.

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/shopspring/decimal"

	"github.com/alejandrodnm/omniperp/internal/domain"
)

func wireSide(s domain.Side) string {
	if s == domain.SideShort {
		return "Sell"
	}
	return "Buy"
}

// PlaceOrder submits an order. Retries follow the order policy (3 attempts,
// transport/rate-limit only); an ambiguous outcome is resolved by the caller
// reconciling against the venue position list.
func (c *Client) PlaceOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderAck, error) {
	body := orderCreateRequest{
		Category:    category,
		Symbol:      req.Symbol,
		Side:        wireSide(req.Side),
		OrderType:   req.OrderType,
		Qty:         req.Qty.String(),
		TimeInForce: req.TimeInForce,
		ReduceOnly:  req.ReduceOnly,
	}
	if req.Price.Sign() > 0 {
		body.Price = req.Price.String()
	}
	if req.StopLoss.Sign() > 0 {
		body.StopLoss = req.StopLoss.String()
	}
	if req.TakeProfit.Sign() > 0 {
		body.TakeProfit = req.TakeProfit.String()
	}

	raw, err := json.Marshal(body)
	if err != nil {
		return domain.OrderAck{}, fmt.Errorf("bybit.PlaceOrder %s: marshal: %w", req.Symbol, err)
	}

	var res orderCreateResult
	if err := c.postSigned(ctx, "/v5/order/create", raw, &res); err != nil {
		return domain.OrderAck{}, fmt.Errorf("bybit.PlaceOrder %s: %w", req.Symbol, err)
	}
	if res.OrderID == "" {
		return domain.OrderAck{}, fmt.Errorf("bybit.PlaceOrder %s: %w: orderId vacío", req.Symbol, ErrMalformed)
	}
	return domain.OrderAck{OrderID: res.OrderID}, nil
}

// ClosePosition submits a reduce-only market order for the full qty on the
// opposite side.
func (c *Client) ClosePosition(ctx context.Context, symbol string, side domain.Side, qty decimal.Decimal) (domain.OrderAck, error) {
	ack, err := c.PlaceOrder(ctx, domain.OrderRequest{
		Symbol:      symbol,
		Side:        side.Opposite(),
		Qty:         qty,
		OrderType:   "Market",
		TimeInForce: "IOC",
		ReduceOnly:  true,
	})
	if err != nil {
		return domain.OrderAck{}, fmt.Errorf("bybit.ClosePosition %s: %w", symbol, err)
	}
	return ack, nil
}

// FetchPositions returns the venue's view of all linear positions. This is
// the authority the position manager reconciles against.
func (c *Client) FetchPositions(ctx context.Context) ([]domain.VenuePosition, error) {
	q := url.Values{}
	q.Set("category", category)
	q.Set("settleCoin", "USDT")

	var res positionsResult
	if err := c.getSigned(ctx, "/v5/position/list", q, &res); err != nil {
		return nil, fmt.Errorf("bybit.FetchPositions: %w", err)
	}

	out := make([]domain.VenuePosition, 0, len(res.List))
	for _, w := range res.List {
		p, err := mapPosition(w)
		if err != nil {
			return nil, fmt.Errorf("bybit.FetchPositions: %s: %w", w.Symbol, err)
		}
		if p.Size.Sign() == 0 {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

// FetchWalletBalance returns the USDT balance of the unified account.
func (c *Client) FetchWalletBalance(ctx context.Context) (domain.WalletBalance, error) {
	q := url.Values{}
	q.Set("accountType", "UNIFIED")

	var res walletResult
	if err := c.getSigned(ctx, "/v5/account/wallet-balance", q, &res); err != nil {
		return domain.WalletBalance{}, fmt.Errorf("bybit.FetchWalletBalance: %w", err)
	}

	for _, acct := range res.List {
		for _, coin := range acct.Coin {
			if coin.Coin != "USDT" {
				continue
			}
			bal, err := parseDec("walletBalance", coin.WalletBalance)
			if err != nil {
				return domain.WalletBalance{}, fmt.Errorf("bybit.FetchWalletBalance: %w", err)
			}
			avail, err := parseDec("availableToWithdraw", coin.AvailableToWithdraw)
			if err != nil {
				return domain.WalletBalance{}, fmt.Errorf("bybit.FetchWalletBalance: %w", err)
			}
			return domain.WalletBalance{Coin: coin.Coin, Balance: bal, Available: avail}, nil
		}
	}
	return domain.WalletBalance{}, fmt.Errorf("bybit.FetchWalletBalance: %w: sin balance USDT", ErrMalformed)
}
