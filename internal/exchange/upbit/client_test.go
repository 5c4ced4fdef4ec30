package upbit

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

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
		BaseURL:           srv.URL,
		OrderPollInterval: time.Millisecond,
		Destinations: map[string]TransferDest{
			"XRP": {Address: "rDestAddr", NetType: "XRP"},
		},
	}, crypto.Credentials{AccessKey: "ak", SecretKey: "sk"}, slog.New(slog.DiscardHandler))
}

func TestGetQuoteParsesOrderbook(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/orderbook", r.URL.Path)
		assert.Equal(t, "KRW-XRP", r.URL.Query().Get("markets"))
		// Public endpoint, no bearer.
		assert.Empty(t, r.Header.Get("Authorization"))
		w.Write([]byte(`[{
			"market": "KRW-XRP",
			"timestamp": 1700000000000,
			"orderbook_units": [
				{"ask_price": 1001, "bid_price": 1000, "ask_size": 500, "bid_size": 600},
				{"ask_price": 1002, "bid_price": 999, "ask_size": 700, "bid_size": 800}
			]
		}]`))
	}))

	q, err := c.GetQuote(context.Background(), "KRW-XRP")
	require.NoError(t, err)
	assert.Equal(t, domain.VenueKRW, q.Venue)
	assert.Equal(t, 1001.0, q.BestAsk)
	assert.Equal(t, 1000.0, q.BestBid)
	require.Len(t, q.Asks, 2)
	assert.Equal(t, 700.0, q.Asks[1].Size)
	assert.Equal(t, time.UnixMilli(1700000000000), q.Timestamp)
}

func TestGetBalanceSignsRequest(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		assert.True(t, strings.HasPrefix(auth, "Bearer "))
		w.Write([]byte(`[
			{"currency": "KRW", "balance": "1500000.5", "locked": "0"},
			{"currency": "XRP", "balance": "250", "locked": "10"}
		]`))
	}))

	krw, err := c.GetBalance(context.Background(), "KRW")
	require.NoError(t, err)
	assert.Equal(t, 1500000.5, krw)

	// Unknown currency reads as zero, not an error.
	none, err := c.GetBalance(context.Background(), "DOGE")
	require.NoError(t, err)
	assert.Zero(t, none)
}

func TestPlaceMarketBuyPollsUntilSettled(t *testing.T) {
	var orderReads int
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/v1/order" && r.Method == http.MethodGet && r.URL.Query().Get("identifier") != "":
			// Identifier lookup before placement: nothing exists yet.
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"error": {"name": "order_not_found", "message": "no such order"}}`))
		case r.URL.Path == "/v1/orders" && r.Method == http.MethodPost:
			require.NoError(t, r.ParseForm())
			assert.Equal(t, "bid", r.PostForm.Get("side"))
			assert.Equal(t, "price", r.PostForm.Get("ord_type"))
			assert.Equal(t, "1000000", r.PostForm.Get("price"))
			assert.Equal(t, "key-1", r.PostForm.Get("identifier"))
			w.Write([]byte(`{"uuid": "ord-1", "state": "wait"}`))
		case r.URL.Path == "/v1/order" && r.Method == http.MethodGet:
			orderReads++
			if orderReads < 3 {
				w.Write([]byte(`{"uuid": "ord-1", "state": "wait"}`))
				return
			}
			w.Write([]byte(`{
				"uuid": "ord-1", "state": "cancel", "paid_fee": "499.75",
				"trades": [
					{"price": "1000", "volume": "500", "funds": "500000"},
					{"price": "1001", "volume": "499.25", "funds": "499500"}
				]
			}`))
		default:
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	}))

	fill, err := c.PlaceMarketOrder(context.Background(), "KRW-XRP", domain.OrderSideBuy,
		domain.OrderSize{QuoteAmount: 1_000_000}, "key-1")
	require.NoError(t, err)
	assert.Equal(t, "ord-1", fill.OrderID)
	assert.InDelta(t, 999.25, fill.Quantity, 1e-9)
	assert.InDelta(t, 999500/999.25, fill.Price, 1e-9)
	assert.InDelta(t, 499.75, fill.Fee, 1e-9)
}

func TestPlaceMarketOrderRepeatedKeyResolvesExisting(t *testing.T) {
	var placements int
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/v1/order" && r.URL.Query().Get("identifier") == "dup-key":
			w.Write([]byte(`{
				"uuid": "ord-9", "state": "done", "paid_fee": "5",
				"trades": [{"price": "1000", "volume": "10", "funds": "10000"}]
			}`))
		case r.URL.Path == "/v1/orders":
			placements++
			w.Write([]byte(`{"uuid": "ord-9", "state": "done"}`))
		default:
			t.Fatalf("unexpected request %s", r.URL.Path)
		}
	}))

	fill, err := c.PlaceMarketOrder(context.Background(), "KRW-XRP", domain.OrderSideSell,
		domain.OrderSize{Quantity: 10}, "dup-key")
	require.NoError(t, err)
	assert.Equal(t, "ord-9", fill.OrderID)
	assert.Zero(t, placements)
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{http.StatusTooManyRequests, domain.ErrRateLimited},
		{http.StatusInternalServerError, domain.ErrTransient},
		{http.StatusBadRequest, domain.ErrVenueRejected},
		{http.StatusNotFound, domain.ErrNotFound},
	}
	for _, tt := range tests {
		c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(tt.status)
			w.Write([]byte(`{"error": {"message": "nope"}}`))
		}))
		_, err := c.GetQuote(context.Background(), "KRW-XRP")
		require.ErrorIs(t, err, tt.want, "status %d", tt.status)
	}
}

func TestInitiateTransferRequiresAddress(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/withdraws/coin", r.URL.Path)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "XRP", r.PostForm.Get("currency"))
		assert.Equal(t, "rDestAddr", r.PostForm.Get("address"))
		w.Write([]byte(`{"uuid": "wd-1", "currency": "XRP", "amount": "100", "state": "WAITING"}`))
	}))

	h, err := c.InitiateTransfer(context.Background(), "XRP", 100, domain.VenueUSDT)
	require.NoError(t, err)
	assert.Equal(t, "wd-1", h.ID)
	assert.Equal(t, domain.VenueUSDT, h.To)

	_, err = c.InitiateTransfer(context.Background(), "DOGE", 100, domain.VenueUSDT)
	require.ErrorIs(t, err, domain.ErrVenueRejected)
}

func TestPollTransferStates(t *testing.T) {
	state := "WAITING"
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/withdraw", r.URL.Path)
		w.Write([]byte(`{"uuid": "wd-1", "amount": "100", "fee": "1", "state": "` + state + `"}`))
	}))
	h := domain.TransferHandle{ID: "wd-1", Asset: "XRP"}

	st, err := c.PollTransfer(context.Background(), h)
	require.NoError(t, err)
	assert.Equal(t, domain.TransferPending, st.State)

	state = "DONE"
	st, err = c.PollTransfer(context.Background(), h)
	require.NoError(t, err)
	assert.Equal(t, domain.TransferConfirmed, st.State)
	assert.InDelta(t, 99, st.CreditedAmount, 1e-9)

	state = "REJECTED"
	st, err = c.PollTransfer(context.Background(), h)
	require.NoError(t, err)
	assert.Equal(t, domain.TransferFailed, st.State)
}
