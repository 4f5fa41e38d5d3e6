package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"arb_go/internal/domain"
	"arb_go/internal/infra"

	"github.com/gorilla/websocket"
)

// PublicWS is the Binance market-data streaming client. It dials the
// combined-stream endpoint, keeps the connection alive, decodes events
// and delivers each one to exactly one handler from the injected
// bundle. It holds no orchestrator knowledge beyond that bundle.
type PublicWS struct {
	wsURL    string
	handlers domain.PublicHandlers
	metrics  *infra.Metrics

	conn      *websocket.Conn
	mu        sync.RWMutex
	writeMu   sync.Mutex
	connected bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	reqID     atomic.Int64

	symMu   sync.RWMutex
	symbols map[string]domain.Symbol // native name -> symbol
}

// NewPublicWS creates the streaming client for one exchange endpoint.
func NewPublicWS(cfg infra.ExchangeConfig, metrics *infra.Metrics) *PublicWS {
	return &PublicWS{
		wsURL:   cfg.WSURL,
		metrics: metrics,
		symbols: make(map[string]domain.Symbol),
	}
}

// Activate registers the handler bundle and starts the connection loop.
// It returns immediately; it does not wait for the connection.
func (w *PublicWS) Activate(ctx context.Context, handlers domain.PublicHandlers) error {
	w.handlers = handlers
	ctx, w.cancel = context.WithCancel(ctx)
	w.wg.Add(1)
	go w.connectionLoop(ctx)
	return nil
}

// Subscribe adds symbols to the stream set and, when connected, sends
// the subscription frame. Tracked symbols are re-subscribed after every
// reconnect.
func (w *PublicWS) Subscribe(symbols []domain.Symbol) error {
	w.symMu.Lock()
	for _, s := range symbols {
		w.symbols[NativeSymbol(s)] = s
	}
	w.symMu.Unlock()

	if !w.IsConnected() {
		return nil
	}
	return w.sendSubscribe("SUBSCRIBE", symbols)
}

// Unsubscribe removes symbols from the stream set.
func (w *PublicWS) Unsubscribe(symbols []domain.Symbol) error {
	w.symMu.Lock()
	for _, s := range symbols {
		delete(w.symbols, NativeSymbol(s))
	}
	w.symMu.Unlock()

	if !w.IsConnected() {
		return nil
	}
	return w.sendSubscribe("UNSUBSCRIBE", symbols)
}

// IsConnected reports the current connection state.
func (w *PublicWS) IsConnected() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.connected
}

func (w *PublicWS) connectionLoop(ctx context.Context) {
	defer w.wg.Done()
	retryCount := 0
	first := true
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := w.connect(ctx); err != nil {
			slog.Warn("Binance public WS connection failed",
				slog.Any("error", err), slog.Int("retry", retryCount))
			retryCount++
			if retryCount > maxRetries {
				retryCount = 0 // keep retrying forever, reset the backoff
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(infra.CalculateBackoff(retryCount)):
				continue
			}
		}

		retryCount = 0
		if !first && w.handlers.Reconnect != nil {
			// Full REST re-snapshot happens here, before any
			// post-reconnect event is delivered.
			w.handlers.Reconnect()
		}
		first = false
		w.readLoop(ctx)
	}
}

func (w *PublicWS) connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, w.wsURL, nil)
	if err != nil {
		return domain.NewNetworkError("dial", err)
	}

	w.mu.Lock()
	w.conn = conn
	w.connected = true
	w.mu.Unlock()
	w.metrics.IncrementConnections()

	w.symMu.RLock()
	tracked := make([]domain.Symbol, 0, len(w.symbols))
	for _, s := range w.symbols {
		tracked = append(tracked, s)
	}
	w.symMu.RUnlock()

	if len(tracked) > 0 {
		if err := w.sendSubscribe("SUBSCRIBE", tracked); err != nil {
			w.closeConnection()
			return err
		}
	}

	go w.pingLoop(ctx)
	slog.Info("Binance public WS connected", slog.Int("symbols", len(tracked)))
	return nil
}

func (w *PublicWS) sendSubscribe(method string, symbols []domain.Symbol) error {
	params := make([]string, 0, len(symbols)*3)
	for _, s := range symbols {
		params = append(params,
			streamName(s, "depth"),
			streamName(s, "bookTicker"),
			streamName(s, "trade"),
		)
	}
	req := subscribeRequest{Method: method, Params: params, ID: w.reqID.Add(1)}
	b, err := json.Marshal(req)
	if err != nil {
		return err
	}
	return w.threadSafeWrite(websocket.TextMessage, b)
}

func (w *PublicWS) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !w.IsConnected() {
				return
			}
			w.threadSafeWrite(websocket.PongMessage, nil)
		}
	}
}

func (w *PublicWS) threadSafeWrite(msgType int, data []byte) error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.conn == nil {
		return fmt.Errorf("no conn")
	}
	return w.conn.WriteMessage(msgType, data)
}

func (w *PublicWS) readLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			w.closeConnection()
			return
		default:
		}

		w.mu.RLock()
		if w.conn == nil {
			w.mu.RUnlock()
			return
		}
		w.conn.SetReadDeadline(time.Now().Add(readTimeout))
		w.mu.RUnlock()

		_, msg, err := w.conn.ReadMessage()
		if err != nil {
			slog.Warn("Binance public WS read failed", slog.Any("error", err))
			w.closeConnection()
			return
		}
		w.handleMessage(msg)
	}
}

func (w *PublicWS) handleMessage(msg []byte) {
	var env streamEnvelope
	if err := json.Unmarshal(msg, &env); err != nil || env.Stream == "" {
		return // subscription ack or unknown frame
	}

	switch {
	case strings.HasSuffix(env.Stream, "@depth"):
		w.handleDepth(env.Data)
	case strings.HasSuffix(env.Stream, "@bookTicker"):
		w.handleBookTicker(env.Data)
	case strings.HasSuffix(env.Stream, "@trade"):
		w.handleTrade(env.Data)
	}
}

func (w *PublicWS) handleDepth(data []byte) {
	if w.handlers.OrderBook == nil {
		return
	}
	var ev depthUpdateEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return
	}
	sym, ok := w.lookupSymbol(ev.Symbol)
	if !ok {
		return
	}
	w.handlers.OrderBook(&domain.OrderBookDiff{
		Symbol:    sym,
		Bids:      parseLevels(ev.Bids),
		Asks:      parseLevels(ev.Asks),
		Timestamp: ev.EventTime,
		Seq:       ev.FinalID,
	})
}

func (w *PublicWS) handleBookTicker(data []byte) {
	if w.handlers.BookTicker == nil {
		return
	}
	var ev bookTickerEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return
	}
	sym, ok := w.lookupSymbol(ev.Symbol)
	if !ok {
		return
	}
	// bookTicker frames carry no event time; the update id is the
	// monotonic value for the freshness check.
	w.handlers.BookTicker(&domain.BookTicker{
		Symbol:    sym,
		BidPrice:  parseDecimal(ev.BidPrice),
		BidQty:    parseDecimal(ev.BidQty),
		AskPrice:  parseDecimal(ev.AskPrice),
		AskQty:    parseDecimal(ev.AskQty),
		UpdatedAt: int64(ev.UpdateID),
	})
}

func (w *PublicWS) handleTrade(data []byte) {
	if w.handlers.Trade == nil {
		return
	}
	var ev tradeEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return
	}
	sym, ok := w.lookupSymbol(ev.Symbol)
	if !ok {
		return
	}
	w.handlers.Trade(&domain.Trade{
		Symbol:    sym,
		Price:     parseDecimal(ev.Price),
		Qty:       parseDecimal(ev.Qty),
		IsBuyer:   !ev.IsMaker,
		Timestamp: ev.TradeTime,
	})
}

func (w *PublicWS) lookupSymbol(native string) (domain.Symbol, bool) {
	w.symMu.RLock()
	defer w.symMu.RUnlock()
	s, ok := w.symbols[native]
	return s, ok
}

func (w *PublicWS) closeConnection() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.conn != nil {
		w.conn.Close()
		w.conn = nil
		w.metrics.DecrementConnections()
	}
	w.connected = false
}

// Close stops the connection loop and releases the socket. Idempotent.
func (w *PublicWS) Close() error {
	if w.cancel != nil {
		w.cancel()
	}
	w.closeConnection()
	w.wg.Wait()
	return nil
}
