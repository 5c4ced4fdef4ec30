// Package upbit adapts the Upbit REST and WebSocket APIs to the gateway
// interface for the KRW venue.
package upbit

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

// TransferDest describes where a withdrawal of one asset goes: the deposit
// address on the destination venue and the network to send over.
type TransferDest struct {
	Address string
	NetType string
}

// Config holds everything the adapter needs beyond credentials.
type Config struct {
	BaseURL string

	// Destinations maps asset symbol to its deposit address on the USDT
	// venue. A transfer of an unmapped asset is rejected.
	Destinations map[string]TransferDest

	// OrderPollInterval is how often a placed order is re-read until the
	// venue reports it settled.
	OrderPollInterval time.Duration
}

// Client is the Upbit REST adapter. It implements domain.ExchangeGateway.
type Client struct {
	baseURL    string
	auth       *crypto.UpbitAuth
	httpClient *http.Client
	limiter    *rate.Limiter
	dests      map[string]TransferDest
	pollEvery  time.Duration
	logger     *slog.Logger
}

// NewClient builds the Upbit adapter. creds may be zero-valued for
// public-data-only use (quotes).
func NewClient(cfg Config, creds crypto.Credentials, logger *slog.Logger) *Client {
	pollEvery := cfg.OrderPollInterval
	if pollEvery <= 0 {
		pollEvery = 200 * time.Millisecond
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		auth:    &crypto.UpbitAuth{AccessKey: creds.AccessKey, SecretKey: creds.SecretKey},
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		// Upbit allows 30 REST requests per second per key; stay under it.
		limiter:   rate.NewLimiter(rate.Limit(8), 8),
		dests:     cfg.Destinations,
		pollEvery: pollEvery,
		logger:    logger.With(slog.String("component", "upbit")),
	}
}

// Venue implements domain.ExchangeGateway.
func (c *Client) Venue() domain.Venue { return domain.VenueKRW }

// GetQuote implements domain.ExchangeGateway.
func (c *Client) GetQuote(ctx context.Context, pair string) (domain.Quote, error) {
	params := url.Values{}
	params.Set("markets", pair)

	body, err := c.do(ctx, http.MethodGet, "/v1/orderbook", params, false)
	if err != nil {
		return domain.Quote{}, fmt.Errorf("upbit: get orderbook %s: %w", pair, err)
	}

	var books []orderbookResp
	if err := json.Unmarshal(body, &books); err != nil {
		return domain.Quote{}, fmt.Errorf("upbit: decode orderbook: %w", err)
	}
	if len(books) == 0 || len(books[0].Units) == 0 {
		return domain.Quote{}, fmt.Errorf("%w: empty orderbook for %s", domain.ErrNotFound, pair)
	}

	return toQuote(books[0]), nil
}

// GetBalance implements domain.ExchangeGateway. Only the unlocked balance
// counts as available.
func (c *Client) GetBalance(ctx context.Context, currency string) (float64, error) {
	body, err := c.do(ctx, http.MethodGet, "/v1/accounts", nil, true)
	if err != nil {
		return 0, fmt.Errorf("upbit: get accounts: %w", err)
	}

	var accounts []accountResp
	if err := json.Unmarshal(body, &accounts); err != nil {
		return 0, fmt.Errorf("upbit: decode accounts: %w", err)
	}
	for _, a := range accounts {
		if a.Currency == currency {
			return parseFloat(a.Balance), nil
		}
	}
	return 0, nil
}

// PlaceMarketOrder implements domain.ExchangeGateway. Cost-based buys use
// Upbit's "price" order type (spend this much KRW); sells use "market"
// (sell this volume). The idempotency key is sent as the order identifier;
// a retried key resolves the already-placed order instead of re-submitting.
func (c *Client) PlaceMarketOrder(ctx context.Context, pair string, side domain.OrderSide, size domain.OrderSize, idempotencyKey string) (domain.Fill, error) {
	if idempotencyKey != "" {
		if fill, err := c.findOrder(ctx, idempotencyKey); err == nil {
			return fill, nil
		} else if !isNotFound(err) {
			return domain.Fill{}, err
		}
	}

	params := url.Values{}
	params.Set("market", pair)
	if idempotencyKey != "" {
		params.Set("identifier", idempotencyKey)
	}
	switch side {
	case domain.OrderSideBuy:
		if size.QuoteAmount <= 0 {
			return domain.Fill{}, fmt.Errorf("%w: upbit market buys are cost-based", domain.ErrVenueRejected)
		}
		params.Set("side", "bid")
		params.Set("ord_type", "price")
		params.Set("price", formatFloat(size.QuoteAmount))
	case domain.OrderSideSell:
		if size.Quantity <= 0 {
			return domain.Fill{}, fmt.Errorf("%w: upbit market sells are volume-based", domain.ErrVenueRejected)
		}
		params.Set("side", "ask")
		params.Set("ord_type", "market")
		params.Set("volume", formatFloat(size.Quantity))
	default:
		return domain.Fill{}, fmt.Errorf("%w: unknown order side %q", domain.ErrVenueRejected, side)
	}

	body, err := c.do(ctx, http.MethodPost, "/v1/orders", params, true)
	if err != nil {
		return domain.Fill{}, fmt.Errorf("upbit: place order: %w", err)
	}
	var placed orderResp
	if err := json.Unmarshal(body, &placed); err != nil {
		return domain.Fill{}, fmt.Errorf("upbit: decode order: %w", err)
	}

	return c.awaitFill(ctx, placed.UUID)
}

// awaitFill polls the order until Upbit reports it settled, then assembles
// the realized fill from its trades.
func (c *Client) awaitFill(ctx context.Context, orderUUID string) (domain.Fill, error) {
	params := url.Values{}
	params.Set("uuid", orderUUID)

	for {
		body, err := c.do(ctx, http.MethodGet, "/v1/order", params, true)
		if err != nil {
			return domain.Fill{}, fmt.Errorf("upbit: read order %s: %w", orderUUID, err)
		}
		var ord orderResp
		if err := json.Unmarshal(body, &ord); err != nil {
			return domain.Fill{}, fmt.Errorf("upbit: decode order: %w", err)
		}

		// Market orders settle as "done"; cost-based buys settle as
		// "cancel" once the unspendable remainder is returned.
		if ord.State == "done" || ord.State == "cancel" {
			return fillFromOrder(ord)
		}

		select {
		case <-ctx.Done():
			return domain.Fill{}, ctx.Err()
		case <-time.After(c.pollEvery):
		}
	}
}

// findOrder resolves an order by its client identifier.
func (c *Client) findOrder(ctx context.Context, identifier string) (domain.Fill, error) {
	params := url.Values{}
	params.Set("identifier", identifier)

	body, err := c.do(ctx, http.MethodGet, "/v1/order", params, true)
	if err != nil {
		return domain.Fill{}, err
	}
	var ord orderResp
	if err := json.Unmarshal(body, &ord); err != nil {
		return domain.Fill{}, fmt.Errorf("upbit: decode order: %w", err)
	}
	if ord.State != "done" && ord.State != "cancel" {
		return c.awaitFill(ctx, ord.UUID)
	}
	return fillFromOrder(ord)
}

// InitiateTransfer implements domain.ExchangeGateway.
func (c *Client) InitiateTransfer(ctx context.Context, asset string, amount float64, to domain.Venue) (domain.TransferHandle, error) {
	dest, ok := c.dests[asset]
	if !ok || dest.Address == "" {
		return domain.TransferHandle{}, fmt.Errorf("%w: no deposit address configured for %s", domain.ErrVenueRejected, asset)
	}

	params := url.Values{}
	params.Set("currency", asset)
	params.Set("amount", formatFloat(amount))
	params.Set("address", dest.Address)
	if dest.NetType != "" {
		params.Set("net_type", dest.NetType)
	}

	body, err := c.do(ctx, http.MethodPost, "/v1/withdraws/coin", params, true)
	if err != nil {
		return domain.TransferHandle{}, fmt.Errorf("upbit: withdraw %s: %w", asset, err)
	}
	var wd withdrawResp
	if err := json.Unmarshal(body, &wd); err != nil {
		return domain.TransferHandle{}, fmt.Errorf("upbit: decode withdrawal: %w", err)
	}

	c.logger.Info("withdrawal initiated",
		slog.String("asset", asset),
		slog.Float64("amount", amount),
		slog.String("withdraw_uuid", wd.UUID),
	)
	return domain.TransferHandle{
		ID:          wd.UUID,
		Asset:       asset,
		Amount:      amount,
		From:        domain.VenueKRW,
		To:          to,
		InitiatedAt: time.Now(),
	}, nil
}

// PollTransfer implements domain.ExchangeGateway. The credited amount is the
// withdrawal amount net of the network fee Upbit reports.
func (c *Client) PollTransfer(ctx context.Context, h domain.TransferHandle) (domain.TransferStatus, error) {
	params := url.Values{}
	params.Set("uuid", h.ID)
	params.Set("currency", h.Asset)

	body, err := c.do(ctx, http.MethodGet, "/v1/withdraw", params, true)
	if err != nil {
		return domain.TransferStatus{}, fmt.Errorf("upbit: poll withdrawal %s: %w", h.ID, err)
	}
	var wd withdrawResp
	if err := json.Unmarshal(body, &wd); err != nil {
		return domain.TransferStatus{}, fmt.Errorf("upbit: decode withdrawal: %w", err)
	}

	switch strings.ToUpper(wd.State) {
	case "DONE":
		return domain.TransferStatus{
			State:          domain.TransferConfirmed,
			CreditedAmount: parseFloat(wd.Amount) - parseFloat(wd.Fee),
		}, nil
	case "FAILED", "REJECTED", "CANCELED", "CANCELLED":
		return domain.TransferStatus{State: domain.TransferFailed}, nil
	default:
		return domain.TransferStatus{State: domain.TransferPending}, nil
	}
}

// do sends one request. Authenticated requests carry a JWT bearer whose
// query hash covers the encoded parameters; Upbit accepts the parameters in
// the query string for GETs and the form body for POSTs, hashed identically.
func (c *Client) do(ctx context.Context, method, path string, params url.Values, signed bool) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	rawQuery := ""
	if params != nil {
		rawQuery = params.Encode()
	}

	fullURL := c.baseURL + path
	var bodyReader io.Reader
	if method == http.MethodGet {
		if rawQuery != "" {
			fullURL += "?" + rawQuery
		}
	} else {
		bodyReader = strings.NewReader(rawQuery)
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if method != http.MethodGet {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	req.Header.Set("Accept", "application/json")

	if signed {
		token, err := c.auth.BearerToken(rawQuery)
		if err != nil {
			return nil, fmt.Errorf("sign request: %w", err)
		}
		req.Header.Set("Authorization", token)
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

// checkStatus maps HTTP status codes onto the gateway error taxonomy.
func checkStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	var apiErr apiError
	_ = json.Unmarshal(body, &apiErr)
	msg := apiErr.Error.Message
	if msg == "" {
		msg = string(body)
	}

	switch {
	case statusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, msg)
	case statusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, msg)
	case statusCode >= 500:
		return fmt.Errorf("%w: HTTP %d: %s", domain.ErrTransient, statusCode, msg)
	default:
		return fmt.Errorf("%w: HTTP %d: %s", domain.ErrVenueRejected, statusCode, msg)
	}
}

func isNotFound(err error) bool {
	return errors.Is(err, domain.ErrNotFound)
}

func toQuote(ob orderbookResp) domain.Quote {
	q := domain.Quote{
		Venue:     domain.VenueKRW,
		Symbol:    ob.Market,
		Timestamp: time.UnixMilli(ob.Timestamp),
	}
	for _, u := range ob.Units {
		q.Asks = append(q.Asks, domain.PriceLevel{Price: u.AskPrice, Size: u.AskSize})
		q.Bids = append(q.Bids, domain.PriceLevel{Price: u.BidPrice, Size: u.BidSize})
	}
	if len(q.Asks) > 0 {
		q.BestAsk = q.Asks[0].Price
	}
	if len(q.Bids) > 0 {
		q.BestBid = q.Bids[0].Price
	}
	return q
}

// fillFromOrder assembles the realized fill from an order's trades.
func fillFromOrder(ord orderResp) (domain.Fill, error) {
	var qty, funds float64
	for _, t := range ord.Trades {
		qty += parseFloat(t.Volume)
		funds += parseFloat(t.Funds)
	}
	if qty <= 0 {
		return domain.Fill{}, fmt.Errorf("%w: order %s settled with no executions", domain.ErrVenueRejected, ord.UUID)
	}
	return domain.Fill{
		OrderID:     ord.UUID,
		Price:       funds / qty,
		Quantity:    qty,
		Fee:         parseFloat(ord.PaidFee),
		FeeCurrency: "KRW",
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
