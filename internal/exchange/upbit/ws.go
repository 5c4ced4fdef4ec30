package upbit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/daehan-quant/premiumbot/internal/domain"
)

const (
	wsWriteWait         = 10 * time.Second
	wsPongWait          = 30 * time.Second
	wsPingPeriod        = (wsPongWait * 9) / 10
	wsReconnectDelay    = 2 * time.Second
	wsMaxReconnectDelay = 60 * time.Second
)

// QuoteHandler is called for every orderbook update received on the stream.
type QuoteHandler func(domain.Quote)

// WSClient streams Upbit orderbooks over WebSocket.
type WSClient struct {
	wsURL  string
	logger *slog.Logger

	mu     sync.RWMutex
	conn   *websocket.Conn
	closed bool
	codes  []string

	handlerMu sync.RWMutex
	handlers  []QuoteHandler

	done chan struct{}
}

// wsOrderbook is one orderbook frame on the stream.
type wsOrderbook struct {
	Type      string `json:"type"`
	Code      string `json:"code"`
	Timestamp int64  `json:"timestamp"`
	Units     []struct {
		AskPrice float64 `json:"ask_price"`
		BidPrice float64 `json:"bid_price"`
		AskSize  float64 `json:"ask_size"`
		BidSize  float64 `json:"bid_size"`
	} `json:"orderbook_units"`
}

// NewWSClient creates the Upbit WebSocket client.
func NewWSClient(wsURL string, logger *slog.Logger) *WSClient {
	return &WSClient{
		wsURL:  wsURL,
		logger: logger.With(slog.String("component", "upbit_ws")),
		done:   make(chan struct{}),
	}
}

// Connect establishes the connection and restores any tracked subscription.
func (w *WSClient) Connect(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return fmt.Errorf("upbit/ws: client is closed")
	}

	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, w.wsURL, nil)
	if err != nil {
		return fmt.Errorf("upbit/ws: connect: %w", err)
	}
	w.conn = conn

	w.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	w.conn.SetPongHandler(func(string) error {
		w.conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	go w.readLoop()
	go w.pingLoop()

	if len(w.codes) > 0 {
		if err := w.sendSubscribe(w.codes); err != nil {
			return fmt.Errorf("upbit/ws: restore subscriptions: %w", err)
		}
	}
	return nil
}

// Subscribe subscribes to orderbook updates for the given market codes.
func (w *WSClient) Subscribe(_ context.Context, codes []string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.conn == nil {
		return fmt.Errorf("upbit/ws: not connected")
	}
	if err := w.sendSubscribe(codes); err != nil {
		return fmt.Errorf("upbit/ws: subscribe: %w", err)
	}

	existing := make(map[string]struct{}, len(w.codes))
	for _, c := range w.codes {
		existing[c] = struct{}{}
	}
	for _, c := range codes {
		if _, ok := existing[c]; !ok {
			w.codes = append(w.codes, c)
		}
	}
	return nil
}

// OnQuote registers a handler for every orderbook update.
func (w *WSClient) OnQuote(h QuoteHandler) {
	w.handlerMu.Lock()
	defer w.handlerMu.Unlock()
	w.handlers = append(w.handlers, h)
}

// Close shuts down the connection.
func (w *WSClient) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true
	close(w.done)

	if w.conn != nil {
		_ = w.conn.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		)
		return w.conn.Close()
	}
	return nil
}

// sendSubscribe sends the Upbit subscription frame. Caller must hold w.mu.
func (w *WSClient) sendSubscribe(codes []string) error {
	frame := []any{
		map[string]string{"ticket": uuid.NewString()},
		map[string]any{"type": "orderbook", "codes": codes},
		map[string]string{"format": "DEFAULT"},
	}

	w.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("marshal subscribe: %w", err)
	}
	return w.conn.WriteMessage(websocket.TextMessage, data)
}

func (w *WSClient) readLoop() {
	defer func() {
		w.mu.RLock()
		conn := w.conn
		w.mu.RUnlock()
		if conn != nil {
			conn.Close()
		}
	}()

	for {
		select {
		case <-w.done:
			return
		default:
		}

		w.mu.RLock()
		conn := w.conn
		w.mu.RUnlock()
		if conn == nil {
			return
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-w.done:
				return
			default:
			}
			w.reconnect()
			return
		}
		w.handleMessage(message)
	}
}

func (w *WSClient) pingLoop() {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.mu.RLock()
			conn := w.conn
			w.mu.RUnlock()
			if conn == nil {
				return
			}

			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (w *WSClient) handleMessage(raw []byte) {
	var ob wsOrderbook
	if err := json.Unmarshal(raw, &ob); err != nil || ob.Type != "orderbook" {
		return
	}

	q := domain.Quote{
		Venue:     domain.VenueKRW,
		Symbol:    ob.Code,
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

	w.handlerMu.RLock()
	handlers := w.handlers
	w.handlerMu.RUnlock()
	for _, h := range handlers {
		h(q)
	}
}

func (w *WSClient) reconnect() {
	delay := wsReconnectDelay

	for {
		select {
		case <-w.done:
			return
		default:
		}

		time.Sleep(delay)

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		err := w.Connect(ctx)
		cancel()
		if err == nil {
			w.logger.Info("reconnected")
			return
		}
		w.logger.Warn("reconnect failed", slog.String("error", err.Error()))

		delay *= 2
		if delay > wsMaxReconnectDelay {
			delay = wsMaxReconnectDelay
		}
	}
}
