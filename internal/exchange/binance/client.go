// Package binance adapts the Binance spot REST and WebSocket APIs to the
// gateway interface for the USDT venue.
package binance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/daehan-quant/premiumbot/internal/crypto"
	"github.com/daehan-quant/premiumbot/internal/domain"
)

// TransferDest describes where a withdrawal of one asset goes.
type TransferDest struct {
	Address string
	Network string
}

// Config holds everything the adapter needs beyond credentials.
type Config struct {
	BaseURL string

	// Destinations maps asset symbol to its deposit address on the KRW
	// venue.
	Destinations map[string]TransferDest

	// DepthLimit is the number of orderbook levels requested per quote.
	DepthLimit int
}

// Client is the Binance REST adapter. It implements domain.ExchangeGateway.
type Client struct {
	baseURL    string
	auth       *crypto.BinanceAuth
	httpClient *http.Client
	limiter    *rate.Limiter
	dests      map[string]TransferDest
	depthLimit int
	logger     *slog.Logger

	now func() time.Time
}

// NewClient builds the Binance adapter. creds may be zero-valued for
// public-data-only use.
func NewClient(cfg Config, creds crypto.Credentials, logger *slog.Logger) *Client {
	depthLimit := cfg.DepthLimit
	if depthLimit <= 0 {
		depthLimit = 20
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		auth:    &crypto.BinanceAuth{APIKey: creds.AccessKey, SecretKey: creds.SecretKey},
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		limiter:    rate.NewLimiter(rate.Limit(15), 15),
		dests:      cfg.Destinations,
		depthLimit: depthLimit,
		logger:     logger.With(slog.String("component", "binance")),
		now:        time.Now,
	}
}

// Venue implements domain.ExchangeGateway.
func (c *Client) Venue() domain.Venue { return domain.VenueUSDT }

// GetQuote implements domain.ExchangeGateway.
func (c *Client) GetQuote(ctx context.Context, pair string) (domain.Quote, error) {
	params := url.Values{}
	params.Set("symbol", pair)
	params.Set("limit", strconv.Itoa(c.depthLimit))

	body, err := c.do(ctx, http.MethodGet, "/api/v3/depth", params, false)
	if err != nil {
		return domain.Quote{}, fmt.Errorf("binance: get depth %s: %w", pair, err)
	}

	var depth depthResp
	if err := json.Unmarshal(body, &depth); err != nil {
		return domain.Quote{}, fmt.Errorf("binance: decode depth: %w", err)
	}
	if len(depth.Asks) == 0 && len(depth.Bids) == 0 {
		return domain.Quote{}, fmt.Errorf("%w: empty orderbook for %s", domain.ErrNotFound, pair)
	}

	q := domain.Quote{
		Venue:     domain.VenueUSDT,
		Symbol:    pair,
		Timestamp: c.now(),
	}
	for _, lvl := range depth.Asks {
		q.Asks = append(q.Asks, domain.PriceLevel{Price: parseFloat(lvl[0]), Size: parseFloat(lvl[1])})
	}
	for _, lvl := range depth.Bids {
		q.Bids = append(q.Bids, domain.PriceLevel{Price: parseFloat(lvl[0]), Size: parseFloat(lvl[1])})
	}
	if len(q.Asks) > 0 {
		q.BestAsk = q.Asks[0].Price
	}
	if len(q.Bids) > 0 {
		q.BestBid = q.Bids[0].Price
	}
	return q, nil
}

// GetBalance implements domain.ExchangeGateway. Only the free balance counts
// as available.
func (c *Client) GetBalance(ctx context.Context, currency string) (float64, error) {
	body, err := c.do(ctx, http.MethodGet, "/api/v3/account", url.Values{}, true)
	if err != nil {
		return 0, fmt.Errorf("binance: get account: %w", err)
	}

	var acct accountResp
	if err := json.Unmarshal(body, &acct); err != nil {
		return 0, fmt.Errorf("binance: decode account: %w", err)
	}
	for _, b := range acct.Balances {
		if b.Asset == currency {
			return parseFloat(b.Free), nil
		}
	}
	return 0, nil
}

// PlaceMarketOrder implements domain.ExchangeGateway. The idempotency key is
// sent as newClientOrderId; a retried key resolves the already-placed order
// instead of re-submitting.
func (c *Client) PlaceMarketOrder(ctx context.Context, pair string, side domain.OrderSide, size domain.OrderSize, idempotencyKey string) (domain.Fill, error) {
	if idempotencyKey != "" {
		if fill, err := c.findOrder(ctx, pair, idempotencyKey); err == nil {
			return fill, nil
		} else if !errors.Is(err, domain.ErrNotFound) {
			return domain.Fill{}, err
		}
	}

	params := url.Values{}
	params.Set("symbol", pair)
	params.Set("type", "MARKET")
	params.Set("newOrderRespType", "FULL")
	if idempotencyKey != "" {
		params.Set("newClientOrderId", idempotencyKey)
	}
	switch side {
	case domain.OrderSideBuy:
		params.Set("side", "BUY")
		switch {
		case size.QuoteAmount > 0:
			params.Set("quoteOrderQty", formatFloat(size.QuoteAmount))
		case size.Quantity > 0:
			params.Set("quantity", formatFloat(size.Quantity))
		default:
			return domain.Fill{}, fmt.Errorf("%w: empty order size", domain.ErrVenueRejected)
		}
	case domain.OrderSideSell:
		if size.Quantity <= 0 {
			return domain.Fill{}, fmt.Errorf("%w: binance market sells are quantity-sized", domain.ErrVenueRejected)
		}
		params.Set("side", "SELL")
		params.Set("quantity", formatFloat(size.Quantity))
	default:
		return domain.Fill{}, fmt.Errorf("%w: unknown order side %q", domain.ErrVenueRejected, side)
	}

	body, err := c.do(ctx, http.MethodPost, "/api/v3/order", params, true)
	if err != nil {
		return domain.Fill{}, fmt.Errorf("binance: place order: %w", err)
	}
	var ord orderResp
	if err := json.Unmarshal(body, &ord); err != nil {
		return domain.Fill{}, fmt.Errorf("binance: decode order: %w", err)
	}
	return fillFromOrder(ord)
}

// findOrder resolves an order by its client order ID. Binance's order query
// does not carry per-fill commissions, so they are read from the account's
// trade list.
func (c *Client) findOrder(ctx context.Context, pair, clientOrderID string) (domain.Fill, error) {
	params := url.Values{}
	params.Set("symbol", pair)
	params.Set("origClientOrderId", clientOrderID)

	body, err := c.do(ctx, http.MethodGet, "/api/v3/order", params, true)
	if err != nil {
		return domain.Fill{}, err
	}
	var ord orderResp
	if err := json.Unmarshal(body, &ord); err != nil {
		return domain.Fill{}, fmt.Errorf("binance: decode order: %w", err)
	}

	qty := parseFloat(ord.ExecutedQty)
	quote := parseFloat(ord.CummulativeQuoteQty)
	if qty <= 0 {
		return domain.Fill{}, fmt.Errorf("%w: order %s has no executions", domain.ErrVenueRejected, clientOrderID)
	}

	fee, feeCurrency := c.orderCommission(ctx, pair, ord.OrderID)
	return domain.Fill{
		OrderID:     strconv.FormatInt(ord.OrderID, 10),
		Price:       quote / qty,
		Quantity:    qty,
		Fee:         fee,
		FeeCurrency: feeCurrency,
		Timestamp:   c.now(),
	}, nil
}

// orderCommission sums the commissions of an order's trades. A failure here
// degrades the fill's fee to zero rather than failing the resolved order.
func (c *Client) orderCommission(ctx context.Context, pair string, orderID int64) (float64, string) {
	params := url.Values{}
	params.Set("symbol", pair)
	params.Set("orderId", strconv.FormatInt(orderID, 10))

	body, err := c.do(ctx, http.MethodGet, "/api/v3/myTrades", params, true)
	if err != nil {
		c.logger.Warn("trade list fetch failed", slog.String("error", err.Error()))
		return 0, ""
	}
	var trades []struct {
		Commission      string `json:"commission"`
		CommissionAsset string `json:"commissionAsset"`
	}
	if err := json.Unmarshal(body, &trades); err != nil {
		return 0, ""
	}
	var fee float64
	var asset string
	for _, tr := range trades {
		fee += parseFloat(tr.Commission)
		asset = tr.CommissionAsset
	}
	return fee, asset
}

// InitiateTransfer implements domain.ExchangeGateway.
func (c *Client) InitiateTransfer(ctx context.Context, asset string, amount float64, to domain.Venue) (domain.TransferHandle, error) {
	dest, ok := c.dests[asset]
	if !ok || dest.Address == "" {
		return domain.TransferHandle{}, fmt.Errorf("%w: no deposit address configured for %s", domain.ErrVenueRejected, asset)
	}

	params := url.Values{}
	params.Set("coin", asset)
	params.Set("amount", formatFloat(amount))
	params.Set("address", dest.Address)
	if dest.Network != "" {
		params.Set("network", dest.Network)
	}

	body, err := c.do(ctx, http.MethodPost, "/sapi/v1/capital/withdraw/apply", params, true)
	if err != nil {
		return domain.TransferHandle{}, fmt.Errorf("binance: withdraw %s: %w", asset, err)
	}
	var applied withdrawApplyResp
	if err := json.Unmarshal(body, &applied); err != nil {
		return domain.TransferHandle{}, fmt.Errorf("binance: decode withdrawal: %w", err)
	}

	c.logger.Info("withdrawal initiated",
		slog.String("asset", asset),
		slog.Float64("amount", amount),
		slog.String("withdraw_id", applied.ID),
	)
	return domain.TransferHandle{
		ID:          applied.ID,
		Asset:       asset,
		Amount:      amount,
		From:        domain.VenueUSDT,
		To:          to,
		InitiatedAt: c.now(),
	}, nil
}

// PollTransfer implements domain.ExchangeGateway.
func (c *Client) PollTransfer(ctx context.Context, h domain.TransferHandle) (domain.TransferStatus, error) {
	params := url.Values{}
	params.Set("coin", h.Asset)

	body, err := c.do(ctx, http.MethodGet, "/sapi/v1/capital/withdraw/history", params, true)
	if err != nil {
		return domain.TransferStatus{}, fmt.Errorf("binance: withdraw history: %w", err)
	}
	var entries []withdrawHistoryEntry
	if err := json.Unmarshal(body, &entries); err != nil {
		return domain.TransferStatus{}, fmt.Errorf("binance: decode withdraw history: %w", err)
	}

	for _, e := range entries {
		if e.ID != h.ID {
			continue
		}
		switch e.Status {
		case 6: // completed
			return domain.TransferStatus{
				State:          domain.TransferConfirmed,
				CreditedAmount: parseFloat(e.Amount),
			}, nil
		case 1, 3, 5: // cancelled, rejected, failure
			return domain.TransferStatus{State: domain.TransferFailed}, nil
		default:
			return domain.TransferStatus{State: domain.TransferPending}, nil
		}
	}
	return domain.TransferStatus{}, fmt.Errorf("%w: withdrawal %s", domain.ErrNotFound, h.ID)
}

// do sends one request. Signed requests get a timestamp parameter and an
// HMAC signature over the full query string, plus the API key header.
func (c *Client) do(ctx context.Context, method, path string, params url.Values, signed bool) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	if signed {
		params.Set("timestamp", strconv.FormatInt(c.now().UnixMilli(), 10))
		params.Set("recvWindow", "5000")
	}
	rawQuery := params.Encode()
	if signed {
		rawQuery = c.auth.SignedQuery(rawQuery)
	}

	fullURL := c.baseURL + path
	if rawQuery != "" {
		fullURL += "?" + rawQuery
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if signed {
		req.Header.Set("X-MBX-APIKEY", c.auth.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrTransient, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", domain.ErrTransient, err)
	}
	if err := checkStatus(resp.StatusCode, respBody); err != nil {
		return nil, err
	}
	return respBody, nil
}

// checkStatus maps HTTP status codes onto the gateway error taxonomy. 418 is
// Binance's IP-ban escalation of 429.
func checkStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	var apiErr apiError
	_ = json.Unmarshal(body, &apiErr)
	msg := apiErr.Message
	if msg == "" {
		msg = string(body)
	}

	switch {
	case statusCode == http.StatusTooManyRequests || statusCode == http.StatusTeapot:
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, msg)
	case statusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, msg)
	case statusCode >= 500:
		return fmt.Errorf("%w: HTTP %d: %s", domain.ErrTransient, statusCode, msg)
	case apiErr.Code == -2013: // Order does not exist.
		return fmt.Errorf("%w: %s", domain.ErrNotFound, msg)
	default:
		return fmt.Errorf("%w: HTTP %d (code %d): %s", domain.ErrVenueRejected, statusCode, apiErr.Code, msg)
	}
}

// fillFromOrder assembles the realized fill from a FULL order response.
func fillFromOrder(ord orderResp) (domain.Fill, error) {
	qty := parseFloat(ord.ExecutedQty)
	quote := parseFloat(ord.CummulativeQuoteQty)
	if qty <= 0 {
		return domain.Fill{}, fmt.Errorf("%w: order %s executed nothing", domain.ErrVenueRejected, ord.ClientOrderID)
	}

	var fee float64
	var feeCurrency string
	for _, f := range ord.Fills {
		fee += parseFloat(f.Commission)
		feeCurrency = f.CommissionAsset
	}
	return domain.Fill{
		OrderID:     strconv.FormatInt(ord.OrderID, 10),
		Price:       quote / qty,
		Quantity:    qty,
		Fee:         fee,
		FeeCurrency: feeCurrency,
		Timestamp:   time.Now(),
	}, nil
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
