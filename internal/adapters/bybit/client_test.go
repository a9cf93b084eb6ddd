package bybit

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/omniperp/internal/domain"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := NewClient(srv.URL, "K", "S")
	c.now = func() time.Time { return time.UnixMilli(1700000000000) }
	return c, srv
}

func writeEnvelope(w http.ResponseWriter, retCode int, retMsg string, result any) {
	raw, _ := json.Marshal(result)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"retCode": retCode,
		"retMsg":  retMsg,
		"result":  json.RawMessage(raw),
	})
}

func TestGetSigned_SignsQueryString(t *testing.T) {
	var gotSign, gotQuery string
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotSign = r.Header.Get(headerSign)
		gotQuery = r.URL.RawQuery
		assert.Equal(t, "K", r.Header.Get(headerAPIKey))
		assert.Equal(t, "1700000000000", r.Header.Get(headerTimestamp))
		assert.Equal(t, "5000", r.Header.Get(headerRecvWindow))
		writeEnvelope(w, 0, "OK", positionsResult{Category: "linear"})
	})

	_, err := c.FetchPositions(context.Background())
	require.NoError(t, err)

	want := sign("S", "1700000000000", "K", "5000", gotQuery)
	assert.Equal(t, want, gotSign)
}

func TestPlaceOrder_SignsExactBodyBytes(t *testing.T) {
	var gotSign string
	var gotBody []byte
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotSign = r.Header.Get(headerSign)
		gotBody, _ = io.ReadAll(r.Body)
		writeEnvelope(w, 0, "OK", orderCreateResult{OrderID: "oid-1"})
	})

	ack, err := c.PlaceOrder(context.Background(), domain.OrderRequest{
		Symbol:    "BTCUSDT",
		Side:      domain.SideLong,
		Qty:       dec("0.001"),
		OrderType: "Market",
	})
	require.NoError(t, err)
	assert.Equal(t, "oid-1", ack.OrderID)

	// The transmitted bytes and the signed payload are the same sequence.
	want := sign("S", "1700000000000", "K", "5000", string(gotBody))
	assert.Equal(t, want, gotSign)
	assert.JSONEq(t, `{"category":"linear","symbol":"BTCUSDT","side":"Buy","orderType":"Market","qty":"0.001"}`, string(gotBody))
}

func TestDoOnce_ClassifiesAuthReject(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, codeSignError, "error sign!", nil)
	})

	_, err := c.FetchPositions(context.Background())
	assert.ErrorIs(t, err, ErrAuthReject)
}

func TestDoOnce_ClassifiesVenueRule(t *testing.T) {
	var calls int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		writeEnvelope(w, codePositionNotFound, "position not exist", nil)
	})

	_, err := c.PlaceOrder(context.Background(), domain.OrderRequest{
		Symbol: "BTCUSDT", Side: domain.SideLong, Qty: dec("1"), OrderType: "Market",
	})

	var vr *VenueRuleError
	require.ErrorAs(t, err, &vr)
	assert.Equal(t, codePositionNotFound, vr.Code)
	assert.True(t, vr.Recoverable())
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "venue rules must never be retried")
}

func TestDoWithRetry_RetriesTransportErrors(t *testing.T) {
	var calls int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		writeEnvelope(w, 0, "OK", tickersResult{List: []wireTicker{{
			Symbol: "BTCUSDT", LastPrice: "50000", Bid1Price: "49999", Ask1Price: "50001",
			Volume24h: "1000", Price24hPcnt: "0.01", HighPrice24h: "51000", LowPrice24h: "49000",
		}}})
	})

	tk, err := c.FetchTicker(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, "BTCUSDT", tk.Symbol)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestDoWithRetry_OrderAttemptsCapped(t *testing.T) {
	var calls int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	})

	_, err := c.PlaceOrder(context.Background(), domain.OrderRequest{
		Symbol: "BTCUSDT", Side: domain.SideLong, Qty: dec("1"), OrderType: "Market",
	})
	require.Error(t, err)
	assert.Equal(t, int32(orderAttempts), atomic.LoadInt32(&calls))
}

func TestDoOnce_MalformedResponse(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("not json at all"))
	})

	_, err := c.FetchOrderBook(context.Background(), "BTCUSDT")
	assert.ErrorIs(t, err, ErrMalformed)
}
