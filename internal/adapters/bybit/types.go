package bybit

// types.go — structs del wire v5. Todos los numéricos llegan como strings
// preservando precisión; el mapping a domain los parsea como decimal sin
// pasar por float.

import "encoding/json"

type instrumentsResult struct {
	Category string           `json:"category"`
	List     []wireInstrument `json:"list"`
}

type wireInstrument struct {
	Symbol         string             `json:"symbol"`
	Status         string             `json:"status"`
	LotSizeFilter  wireLotSizeFilter  `json:"lotSizeFilter"`
	LeverageFilter wireLeverageFilter `json:"leverageFilter"`
	PriceFilter    wirePriceFilter    `json:"priceFilter"`
}

type wireLotSizeFilter struct {
	MinOrderQty      string `json:"minOrderQty"`
	QtyStep          string `json:"qtyStep"`
	MinNotionalValue string `json:"minNotionalValue"`
}

type wireLeverageFilter struct {
	MaxLeverage string `json:"maxLeverage"`
}

type wirePriceFilter struct {
	TickSize string `json:"tickSize"`
}

type tickersResult struct {
	Category string       `json:"category"`
	List     []wireTicker `json:"list"`
}

type wireTicker struct {
	Symbol       string `json:"symbol"`
	LastPrice    string `json:"lastPrice"`
	Bid1Price    string `json:"bid1Price"`
	Ask1Price    string `json:"ask1Price"`
	Volume24h    string `json:"volume24h"`
	Turnover24h  string `json:"turnover24h"`
	Price24hPcnt string `json:"price24hPcnt"`
	HighPrice24h string `json:"highPrice24h"`
	LowPrice24h  string `json:"lowPrice24h"`
}

type klineResult struct {
	Category string            `json:"category"`
	Symbol   string            `json:"symbol"`
	List     [][]json.RawMessage `json:"list"`
}

type orderbookResult struct {
	Symbol string      `json:"s"`
	Bids   [][2]string `json:"b"`
	Asks   [][2]string `json:"a"`
}

type positionsResult struct {
	Category string         `json:"category"`
	List     []wirePosition `json:"list"`
}

type wirePosition struct {
	Symbol        string `json:"symbol"`
	Side          string `json:"side"` // "Buy" | "Sell" | ""
	Size          string `json:"size"`
	AvgPrice      string `json:"avgPrice"`
	MarkPrice     string `json:"markPrice"`
	Leverage      string `json:"leverage"`
	UnrealisedPnl string `json:"unrealisedPnl"`
	PositionValue string `json:"positionValue"`
}

type walletResult struct {
	List []wireWalletAccount `json:"list"`
}

type wireWalletAccount struct {
	AccountType string           `json:"accountType"`
	TotalEquity string           `json:"totalEquity"`
	Coin        []wireWalletCoin `json:"coin"`
}

type wireWalletCoin struct {
	Coin            string `json:"coin"`
	WalletBalance   string `json:"walletBalance"`
	AvailableToWithdraw string `json:"availableToWithdraw"`
}

// orderCreateRequest es el body de POST /v5/order/create. Los campos siguen
// el orden y nombres exactos del wire; qty y price van como strings.
type orderCreateRequest struct {
	Category    string `json:"category"`
	Symbol      string `json:"symbol"`
	Side        string `json:"side"`      // "Buy" | "Sell"
	OrderType   string `json:"orderType"` // "Market" | "Limit"
	Qty         string `json:"qty"`
	TimeInForce string `json:"timeInForce,omitempty"` // "GTC" | "IOC"
	Price       string `json:"price,omitempty"`
	StopLoss    string `json:"stopLoss,omitempty"`
	TakeProfit  string `json:"takeProfit,omitempty"`
	ReduceOnly  bool   `json:"reduceOnly,omitempty"`
}

type orderCreateResult struct {
	OrderID     string `json:"orderId"`
	OrderLinkID string `json:"orderLinkId"`
}
