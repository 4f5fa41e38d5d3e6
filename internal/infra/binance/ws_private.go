package binance

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"arb_go/internal/domain"
	"arb_go/internal/infra"

	"github.com/gorilla/websocket"
)

// PrivateWS is the Binance user-data streaming client. It opens a
// listen key through the REST client, keeps it alive, and delivers
// decoded account events to the injected handler bundle.
type PrivateWS struct {
	wsURL    string
	rest     *Client
	handlers domain.PrivateHandlers
	metrics  *infra.Metrics

	conn      *websocket.Conn
	mu        sync.RWMutex
	connected bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup

	listenKey string
	symbols   map[string]domain.Symbol // native name -> symbol
}

// NewPrivateWS creates the account streaming client. symbols is the
// set of instruments this account trades; events for other symbols are
// dropped.
func NewPrivateWS(cfg infra.ExchangeConfig, rest *Client, symbols []domain.Symbol, metrics *infra.Metrics) *PrivateWS {
	table := make(map[string]domain.Symbol, len(symbols))
	for _, s := range symbols {
		table[NativeSymbol(s)] = s
	}
	return &PrivateWS{
		wsURL:   cfg.UserWSURL,
		rest:    rest,
		metrics: metrics,
		symbols: table,
	}
}

// Activate registers the handler bundle and starts the connection loop.
func (w *PrivateWS) Activate(ctx context.Context, handlers domain.PrivateHandlers) error {
	w.handlers = handlers
	ctx, w.cancel = context.WithCancel(ctx)
	w.wg.Add(1)
	go w.connectionLoop(ctx)
	w.wg.Add(1)
	go w.keepAliveLoop(ctx)
	return nil
}

func (w *PrivateWS) connectionLoop(ctx context.Context) {
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
			slog.Warn("Binance user WS connection failed",
				slog.Any("error", err), slog.Int("retry", retryCount))
			retryCount++
			if retryCount > maxRetries {
				retryCount = 0
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
			w.handlers.Reconnect()
		}
		first = false
		w.readLoop(ctx)
	}
}

func (w *PrivateWS) connect(ctx context.Context) error {
	key, err := w.rest.CreateListenKey(ctx)
	if err != nil {
		return err
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, w.wsURL+"/"+key, nil)
	if err != nil {
		return domain.NewNetworkError("dial", err)
	}

	w.mu.Lock()
	w.conn = conn
	w.connected = true
	w.listenKey = key
	w.mu.Unlock()
	w.metrics.IncrementConnections()

	slog.Info("Binance user WS connected")
	return nil
}

// keepAliveLoop extends the listen key validity; the exchange expires
// idle keys after an hour.
func (w *PrivateWS) keepAliveLoop(ctx context.Context) {
	defer w.wg.Done()
	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.mu.RLock()
			key := w.listenKey
			w.mu.RUnlock()
			if key == "" {
				continue
			}
			if err := w.rest.KeepAliveListenKey(ctx, key); err != nil {
				slog.Warn("listen key keepalive failed", slog.Any("error", err))
			}
		}
	}
}

func (w *PrivateWS) readLoop(ctx context.Context) {
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
			slog.Warn("Binance user WS read failed", slog.Any("error", err))
			w.closeConnection()
			return
		}
		w.handleMessage(msg)
	}
}

func (w *PrivateWS) handleMessage(msg []byte) {
	var probe struct {
		EventType string `json:"e"`
	}
	if err := json.Unmarshal(msg, &probe); err != nil {
		return
	}

	switch probe.EventType {
	case "executionReport":
		w.handleExecutionReport(msg)
	case "outboundAccountPosition":
		w.handleAccountPosition(msg)
	}
}

func (w *PrivateWS) handleExecutionReport(msg []byte) {
	var ev executionReport
	if err := json.Unmarshal(msg, &ev); err != nil {
		return
	}
	sym, ok := w.symbols[ev.Symbol]
	if !ok {
		return
	}

	if w.handlers.Order != nil {
		w.handlers.Order(&domain.Order{
			ID:            strconv.FormatInt(ev.OrderID, 10),
			ClientOrderID: ev.ClientOrderID,
			Symbol:        sym,
			Side:          ev.Side,
			Type:          ev.OrderType,
			Status:        mapOrderStatus(ev.OrderStatus),
			Price:         parseDecimal(ev.Price),
			Quantity:      parseDecimal(ev.OrigQty),
			FilledQty:     parseDecimal(ev.CumFilledQty),
			AvgPrice:      parseDecimal(ev.LastFilledPrice),
			CreatedAt:     ev.OrderCreatedTime,
			UpdatedAt:     ev.TransactionTime,
		})
	}

	if ev.ExecType == "TRADE" && w.handlers.Execution != nil {
		w.handlers.Execution(&domain.Execution{
			OrderID:   strconv.FormatInt(ev.OrderID, 10),
			Symbol:    sym,
			Price:     parseDecimal(ev.LastFilledPrice),
			Qty:       parseDecimal(ev.LastFilledQty),
			Timestamp: ev.TransactionTime,
		})
	}
}

func (w *PrivateWS) handleAccountPosition(msg []byte) {
	if w.handlers.Balance == nil {
		return
	}
	var ev accountPosition
	if err := json.Unmarshal(msg, &ev); err != nil {
		return
	}

	update := &domain.BalanceUpdate{Timestamp: ev.EventTime}
	for _, b := range ev.Balances {
		update.Balances = append(update.Balances, domain.AssetBalance{
			Asset:     b.Asset,
			Free:      parseDecimal(b.Free),
			Locked:    parseDecimal(b.Locked),
			UpdatedAt: ev.EventTime,
		})
	}
	w.handlers.Balance(update)
}

func (w *PrivateWS) closeConnection() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.conn != nil {
		w.conn.Close()
		w.conn = nil
		w.metrics.DecrementConnections()
	}
	w.connected = false
}

// Close stops the loops and releases the socket. Idempotent.
func (w *PrivateWS) Close() error {
	if w.cancel != nil {
		w.cancel()
	}
	w.closeConnection()
	w.wg.Wait()
	return nil
}
