package binance

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daehan-quant/premiumbot/internal/crypto"
	"github.com/daehan-quant/premiumbot/internal/domain"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return NewClient(Config{
		BaseURL: srv.URL,
		Destinations: map[string]TransferDest{
			"XRP": {Address: "rUpbitAddr", Network: "XRP"},
		},
	}, crypto.Credentials{AccessKey: "ak", SecretKey: "sk"}, slog.New(slog.DiscardHandler))
}

func TestGetQuoteParsesDepth(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3/depth", r.URL.Path)
		assert.Equal(t, "XRPUSDT", r.URL.Query().Get("symbol"))
		assert.Empty(t, r.Header.Get("X-MBX-APIKEY"))
		w.Write([]byte(`{
			"lastUpdateId": 1,
			"bids": [["0.7500", "600"], ["0.7490", "800"]],
			"asks": [["0.7510", "500"]]
		}`))
	}))

	q, err := c.GetQuote(context.Background(), "XRPUSDT")
	require.NoError(t, err)
	assert.Equal(t, domain.VenueUSDT, q.Venue)
	assert.Equal(t, 0.751, q.BestAsk)
	assert.Equal(t, 0.75, q.BestBid)
	require.Len(t, q.Bids, 2)
	assert.Equal(t, 800.0, q.Bids[1].Size)
}

func TestGetBalanceSignsRequest(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "ak", r.Header.Get("X-MBX-APIKEY"))
		q := r.URL.Query()
		assert.NotEmpty(t, q.Get("timestamp"))
		assert.NotEmpty(t, q.Get("signature"))
		w.Write([]byte(`{"balances": [
			{"asset": "USDT", "free": "2000.5", "locked": "10"},
			{"asset": "XRP", "free": "0", "locked": "0"}
		]}`))
	}))

	usdt, err := c.GetBalance(context.Background(), "USDT")
	require.NoError(t, err)
	assert.Equal(t, 2000.5, usdt)
}

func TestPlaceMarketSellReturnsFill(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		switch {
		case r.URL.Path == "/api/v3/order" && r.Method == http.MethodGet:
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"code": -2013, "msg": "Order does not exist."}`))
		case r.URL.Path == "/api/v3/order" && r.Method == http.MethodPost:
			assert.Equal(t, "SELL", q.Get("side"))
			assert.Equal(t, "MARKET", q.Get("type"))
			assert.Equal(t, "1000", q.Get("quantity"))
			assert.Equal(t, "key-1", q.Get("newClientOrderId"))
			assert.NotEmpty(t, q.Get("signature"))
			w.Write([]byte(`{
				"symbol": "XRPUSDT", "orderId": 42, "clientOrderId": "key-1",
				"status": "FILLED", "executedQty": "1000", "cummulativeQuoteQty": "749.6",
				"fills": [
					{"price": "0.75", "qty": "600", "commission": "0.45", "commissionAsset": "USDT"},
					{"price": "0.749", "qty": "400", "commission": "0.2996", "commissionAsset": "USDT"}
				]
			}`))
		default:
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	}))

	fill, err := c.PlaceMarketOrder(context.Background(), "XRPUSDT", domain.OrderSideSell,
		domain.OrderSize{Quantity: 1000}, "key-1")
	require.NoError(t, err)
	assert.Equal(t, "42", fill.OrderID)
	assert.InDelta(t, 0.7496, fill.Price, 1e-9)
	assert.InDelta(t, 0.7496, fill.Fee, 1e-9)
	assert.Equal(t, "USDT", fill.FeeCurrency)
}

func TestPlaceMarketOrderRepeatedKeyResolvesExisting(t *testing.T) {
	var placements int
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/api/v3/order" && r.Method == http.MethodGet:
			w.Write([]byte(`{
				"symbol": "XRPUSDT", "orderId": 42, "clientOrderId": "dup-key",
				"status": "FILLED", "executedQty": "100", "cummulativeQuoteQty": "75"
			}`))
		case r.URL.Path == "/api/v3/myTrades":
			w.Write([]byte(`[{"commission": "0.075", "commissionAsset": "USDT"}]`))
		case r.URL.Path == "/api/v3/order" && r.Method == http.MethodPost:
			placements++
			w.Write([]byte(`{}`))
		default:
			t.Fatalf("unexpected request %s", r.URL.Path)
		}
	}))

	fill, err := c.PlaceMarketOrder(context.Background(), "XRPUSDT", domain.OrderSideSell,
		domain.OrderSize{Quantity: 100}, "dup-key")
	require.NoError(t, err)
	assert.Zero(t, placements)
	assert.InDelta(t, 0.75, fill.Price, 1e-9)
	assert.InDelta(t, 0.075, fill.Fee, 1e-9)
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		status int
		body   string
		want   error
	}{
		{http.StatusTooManyRequests, `{"code": -1003, "msg": "slow down"}`, domain.ErrRateLimited},
		{http.StatusTeapot, `{"code": -1003, "msg": "banned"}`, domain.ErrRateLimited},
		{http.StatusBadGateway, ``, domain.ErrTransient},
		{http.StatusBadRequest, `{"code": -2010, "msg": "insufficient balance"}`, domain.ErrVenueRejected},
	}
	for _, tt := range tests {
		c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(tt.status)
			w.Write([]byte(tt.body))
		}))
		_, err := c.GetQuote(context.Background(), "XRPUSDT")
		require.ErrorIs(t, err, tt.want, "status %d", tt.status)
	}
}

func TestTransferLifecycle(t *testing.T) {
	status := 4 // processing
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/sapi/v1/capital/withdraw/apply":
			q := r.URL.Query()
			assert.Equal(t, "XRP", q.Get("coin"))
			assert.Equal(t, "rUpbitAddr", q.Get("address"))
			assert.Equal(t, "XRP", q.Get("network"))
			w.Write([]byte(`{"id": "wd-7"}`))
		case "/sapi/v1/capital/withdraw/history":
			w.Write([]byte(`[
				{"id": "other", "status": 6, "amount": "5"},
				{"id": "wd-7", "status": ` + strconv.Itoa(status) + `, "amount": "99", "transactionFee": "1"}
			]`))
		default:
			t.Fatalf("unexpected request %s", r.URL.Path)
		}
	}))

	h, err := c.InitiateTransfer(context.Background(), "XRP", 100, domain.VenueKRW)
	require.NoError(t, err)
	assert.Equal(t, "wd-7", h.ID)

	st, err := c.PollTransfer(context.Background(), h)
	require.NoError(t, err)
	assert.Equal(t, domain.TransferPending, st.State)

	status = 6
	st, err = c.PollTransfer(context.Background(), h)
	require.NoError(t, err)
	assert.Equal(t, domain.TransferConfirmed, st.State)
	assert.InDelta(t, 99, st.CreditedAmount, 1e-9)

	status = 3
	st, err = c.PollTransfer(context.Background(), h)
	require.NoError(t, err)
	assert.Equal(t, domain.TransferFailed, st.State)

	_, err = c.PollTransfer(context.Background(), domain.TransferHandle{ID: "missing", Asset: "XRP"})
	require.ErrorIs(t, err, domain.ErrNotFound)
}
