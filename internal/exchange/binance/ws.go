package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/daehan-quant/premiumbot/internal/domain"
)

const (
	wsWriteWait         = 10 * time.Second
	wsPongWait          = 60 * time.Second
	wsPingPeriod        = (wsPongWait * 9) / 10
	wsReconnectDelay    = 2 * time.Second
	wsMaxReconnectDelay = 60 * time.Second
)

// QuoteHandler is called for every depth update received on the stream.
type QuoteHandler func(domain.Quote)

// WSClient streams Binance partial-depth books over the combined stream
// endpoint.
type WSClient struct {
	wsURL  string
	logger *slog.Logger

	mu      sync.RWMutex
	conn    *websocket.Conn
	closed  bool
	symbols []string

	handlerMu sync.RWMutex
	handlers  []QuoteHandler

	done chan struct{}
}

// combinedFrame is one message on the combined stream.
type combinedFrame struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

// depthFrame is one partial-depth update.
type depthFrame struct {
	LastUpdateID int64       `json:"lastUpdateId"`
	Bids         [][2]string `json:"bids"`
	Asks         [][2]string `json:"asks"`
}

// NewWSClient creates the Binance WebSocket client. symbols are the pairs to
// stream, in venue notation ("BTCUSDT").
func NewWSClient(wsURL string, symbols []string, logger *slog.Logger) *WSClient {
	return &WSClient{
		wsURL:   wsURL,
		symbols: symbols,
		logger:  logger.With(slog.String("component", "binance_ws")),
		done:    make(chan struct{}),
	}
}

// Connect establishes the combined-stream connection. Binance encodes the
// subscription in the URL, so reconnection needs no re-subscribe step.
func (w *WSClient) Connect(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return fmt.Errorf("binance/ws: client is closed")
	}

	streams := make([]string, 0, len(w.symbols))
	for _, s := range w.symbols {
		streams = append(streams, strings.ToLower(s)+"@depth20@100ms")
	}
	u := strings.TrimRight(w.wsURL, "/") + "/stream?streams=" + strings.Join(streams, "/")

	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, u, nil)
	if err != nil {
		return fmt.Errorf("binance/ws: connect: %w", err)
	}
	w.conn = conn

	w.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	w.conn.SetPingHandler(func(appData string) error {
		w.conn.SetReadDeadline(time.Now().Add(wsPongWait))
		w.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		return w.conn.WriteMessage(websocket.PongMessage, []byte(appData))
	})

	go w.readLoop()
	return nil
}

// OnQuote registers a handler for every depth update.
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

func (w *WSClient) handleMessage(raw []byte) {
	var frame combinedFrame
	if err := json.Unmarshal(raw, &frame); err != nil || frame.Stream == "" {
		return
	}
	symbol, ok := symbolFromStream(frame.Stream)
	if !ok {
		return
	}

	var depth depthFrame
	if err := json.Unmarshal(frame.Data, &depth); err != nil {
		return
	}

	q := domain.Quote{
		Venue:     domain.VenueUSDT,
		Symbol:    symbol,
		Timestamp: time.Now(),
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

	w.handlerMu.RLock()
	handlers := w.handlers
	w.handlerMu.RUnlock()
	for _, h := range handlers {
		h(q)
	}
}

// symbolFromStream converts "btcusdt@depth20@100ms" back to "BTCUSDT".
func symbolFromStream(stream string) (string, bool) {
	name, _, found := strings.Cut(stream, "@")
	if !found || name == "" {
		return "", false
	}
	return strings.ToUpper(name), true
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
