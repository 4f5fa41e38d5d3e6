package trading

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"arb_go/internal/domain"
	"arb_go/internal/infra"

	"github.com/google/uuid"
)

// Orchestrator tracks this account's balances and the full lifecycle of
// every order it places on one exchange. REST responses and streaming
// account events both funnel through a single mutation point, so the
// order state machine stays consistent regardless of source.
//
// The hard rule throughout: no real-time-mutable state is ever served
// from a cache that can silently go stale. Only terminal (immutable)
// orders are cached; balances and open orders are always live state.
type Orchestrator struct {
	exchange string
	rest     domain.PrivateRest
	stream   domain.PrivateStream
	metrics  *infra.Metrics
	logger   *slog.Logger

	mu       sync.RWMutex
	open     map[string]map[string]*domain.Order // symbol key -> order id -> order
	executed *ExecutedCache
	balances map[string]domain.AssetBalance

	runCtx    context.Context
	closeOnce sync.Once
	closed    chan struct{}
}

// Options carries the tunables for the trading orchestrator.
type Options struct {
	ExecutedCacheCap     int     // default 1000
	ExecutedCacheEvictTo float64 // default 0.8
}

func (o Options) withDefaults() Options {
	if o.ExecutedCacheCap <= 0 {
		o.ExecutedCacheCap = 1000
	}
	if o.ExecutedCacheEvictTo <= 0 || o.ExecutedCacheEvictTo >= 1 {
		o.ExecutedCacheEvictTo = 0.8
	}
	return o
}

// NewOrchestrator wires a trading orchestrator for one exchange. The
// stream may be nil; state then updates only through REST paths.
func NewOrchestrator(exchange string, rest domain.PrivateRest, stream domain.PrivateStream, opts Options, metrics *infra.Metrics) *Orchestrator {
	opts = opts.withDefaults()
	return &Orchestrator{
		exchange: exchange,
		rest:     rest,
		stream:   stream,
		metrics:  metrics,
		logger:   slog.Default().With("module", "trading", "exchange", exchange),
		open:     make(map[string]map[string]*domain.Order),
		executed: NewExecutedCache(opts.ExecutedCacheCap, opts.ExecutedCacheEvictTo),
		balances: make(map[string]domain.AssetBalance),
		closed:   make(chan struct{}),
	}
}

// Initialize loads balances and open orders via REST (in parallel) and
// activates the private stream. Both bootstrap calls must succeed: an
// account view missing either half is unusable.
func (o *Orchestrator) Initialize(ctx context.Context) error {
	var wg sync.WaitGroup
	var balErr, ordErr error
	var balances []domain.AssetBalance
	var orders []domain.Order

	wg.Add(2)
	go func() {
		defer wg.Done()
		balances, balErr = o.rest.Balances(ctx)
	}()
	go func() {
		defer wg.Done()
		orders, ordErr = o.rest.OpenOrders(ctx)
	}()
	wg.Wait()

	if balErr != nil {
		return &domain.InitializationError{Component: "trading/" + o.exchange, Err: balErr}
	}
	if ordErr != nil {
		return &domain.InitializationError{Component: "trading/" + o.exchange, Err: ordErr}
	}

	o.replaceBalances(balances)
	o.replaceOpenOrders(orders)

	o.mu.Lock()
	o.runCtx = ctx
	o.mu.Unlock()

	if o.stream != nil {
		handlers := domain.PrivateHandlers{
			Order:     o.handleOrderEvent,
			Balance:   o.handleBalanceUpdate,
			Execution: o.handleExecution,
			Reconnect: o.handleReconnect,
		}
		if err := o.stream.Activate(ctx, handlers); err != nil {
			return &domain.InitializationError{Component: "trading/" + o.exchange, Err: err}
		}
	}

	o.logger.Info("trading orchestrator initialized",
		slog.Int("balances", len(balances)), slog.Int("open_orders", len(orders)))
	return nil
}

// updateOrder is the single mutation point for order state, shared by
// the REST response path and the streaming event path. Terminal orders
// move open -> executed exactly once and are never mutated again.
func (o *Orchestrator) updateOrder(order *domain.Order) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.updateOrderLocked(order)
}

func (o *Orchestrator) updateOrderLocked(order *domain.Order) {
	key := order.Symbol.String()

	if cached, ok := o.executed.Get(order.Symbol, order.ID); ok {
		// Already terminal: immutable. A late event for it is dropped.
		o.logger.Warn("update for terminal order dropped",
			slog.String("order_id", order.ID),
			slog.String("stored_status", string(cached.Status)),
			slog.String("event_status", string(order.Status)))
		return
	}

	// Same-status re-observation (a resync re-reporting an order the
	// store already knows) is not a transition.
	if existing, ok := o.open[key][order.ID]; ok &&
		existing.Status != order.Status &&
		!existing.Status.CanTransitionTo(order.Status) {
		o.logger.Warn("unexpected order status transition",
			slog.String("order_id", order.ID),
			slog.String("from", string(existing.Status)),
			slog.String("to", string(order.Status)))
		// The exchange is authoritative; the update is applied anyway.
	}

	cp := *order
	if order.Status.IsTerminal() {
		if byID, ok := o.open[key]; ok {
			delete(byID, order.ID)
			if len(byID) == 0 {
				delete(o.open, key)
			}
		}
		if o.executed.Put(&cp) {
			o.metrics.RecordCacheEviction()
		}
		o.metrics.RecordOrderExecuted()
		return
	}

	byID, ok := o.open[key]
	if !ok {
		byID = make(map[string]*domain.Order)
		o.open[key] = byID
	}
	byID[order.ID] = &cp
}

// GetOrder looks an order up in three tiers, short-circuiting on the
// first hit: open store, executed cache, then a live REST query. A
// fallback hit is routed through updateOrder so the right store is
// populated before returning. A fallback failure is a *LookupError,
// distinguishable from ErrOrderNotFound.
func (o *Orchestrator) GetOrder(ctx context.Context, symbol domain.Symbol, orderID string) (*domain.Order, error) {
	o.mu.RLock()
	if byID, ok := o.open[symbol.String()]; ok {
		if order, ok := byID[orderID]; ok {
			cp := *order
			o.mu.RUnlock()
			return &cp, nil
		}
	}
	if order, ok := o.executed.Get(symbol, orderID); ok {
		cp := *order
		o.mu.RUnlock()
		return &cp, nil
	}
	o.mu.RUnlock()

	order, err := o.rest.FetchOrder(ctx, symbol, orderID)
	if err != nil {
		if errors.Is(err, domain.ErrOrderNotFound) {
			return nil, domain.ErrOrderNotFound
		}
		return nil, &domain.LookupError{OrderID: orderID, Err: err}
	}

	o.updateOrder(order)
	cp := *order
	return &cp, nil
}

// PlaceOrder submits the order via REST, then records the returned
// representation locally before returning it, so an immediately
// following GetOrder is guaranteed consistent.
func (o *Orchestrator) PlaceOrder(ctx context.Context, req domain.OrderRequest) (*domain.Order, error) {
	if o.isClosed() {
		return nil, domain.ErrOrchestratorClosed
	}
	if err := validateOrderRequest(req); err != nil {
		return nil, err
	}
	if req.ClientOrderID == "" {
		req.ClientOrderID = uuid.NewString()
	}

	order, err := o.rest.PlaceOrder(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("place order: %w", err)
	}

	o.updateOrder(order)
	o.logger.Info("order placed",
		slog.String("order_id", order.ID),
		slog.String("symbol", order.Symbol.String()),
		slog.String("side", order.Side),
		slog.String("status", string(order.Status)))

	cp := *order
	return &cp, nil
}

// CancelOrder cancels via REST, then records the returned state before
// returning it.
func (o *Orchestrator) CancelOrder(ctx context.Context, symbol domain.Symbol, orderID string) (*domain.Order, error) {
	if o.isClosed() {
		return nil, domain.ErrOrchestratorClosed
	}
	order, err := o.rest.CancelOrder(ctx, symbol, orderID)
	if err != nil {
		return nil, fmt.Errorf("cancel order: %w", err)
	}

	o.updateOrder(order)
	o.logger.Info("order canceled",
		slog.String("order_id", order.ID),
		slog.String("symbol", order.Symbol.String()))

	cp := *order
	return &cp, nil
}

// OpenOrders returns copies of the open orders for a symbol.
func (o *Orchestrator) OpenOrders(symbol domain.Symbol) []domain.Order {
	o.mu.RLock()
	defer o.mu.RUnlock()

	byID := o.open[symbol.String()]
	out := make([]domain.Order, 0, len(byID))
	for _, order := range byID {
		out = append(out, *order)
	}
	return out
}

// ExecutedOrderCount returns the executed cache size for a symbol.
func (o *Orchestrator) ExecutedOrderCount(symbol domain.Symbol) int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.executed.Size(symbol)
}

// Balances returns a copy of the balance map.
func (o *Orchestrator) Balances() map[string]domain.AssetBalance {
	o.mu.RLock()
	defer o.mu.RUnlock()

	out := make(map[string]domain.AssetBalance, len(o.balances))
	for k, v := range o.balances {
		out[k] = v
	}
	return out
}

// Balance returns the balance for one asset.
func (o *Orchestrator) Balance(asset string) (domain.AssetBalance, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	b, ok := o.balances[asset]
	return b, ok
}

// Withdraw validates and passes the request through to the REST
// collaborator. Withdrawals touch neither the order nor the balance
// state machines; the exchange reports the balance change through the
// normal streaming path. Logged for audit.
func (o *Orchestrator) Withdraw(ctx context.Context, req domain.WithdrawRequest) (string, error) {
	if o.isClosed() {
		return "", domain.ErrOrchestratorClosed
	}
	if req.Asset == "" {
		return "", fmt.Errorf("withdraw: %w: empty asset", domain.ErrInvalidSymbol)
	}
	if !req.Amount.IsPositive() {
		return "", fmt.Errorf("withdraw: amount must be positive, got %s", req.Amount)
	}
	if req.Address == "" {
		return "", errors.New("withdraw: empty address")
	}

	id, err := o.rest.Withdraw(ctx, req)
	if err != nil {
		return "", fmt.Errorf("withdraw: %w", err)
	}

	o.logger.Info("withdrawal submitted",
		slog.String("withdraw_id", id),
		slog.String("asset", req.Asset),
		slog.String("amount", req.Amount.String()),
		slog.String("address", req.Address))
	return id, nil
}

// replaceOpenOrders swaps the open store wholesale against a fresh REST
// load. An order missing from the response reached a terminal state
// while the stream was down (its terminal event is unrecoverable), so
// keeping the stale entry would let lookups serve a dead order as open.
// Dropping it instead routes the next lookup through the REST tier,
// which lands the true terminal state in the executed cache.
func (o *Orchestrator) replaceOpenOrders(orders []domain.Order) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.open = make(map[string]map[string]*domain.Order)
	for i := range orders {
		o.updateOrderLocked(&orders[i])
	}
}

// replaceBalances swaps the balance map wholesale (REST load path).
func (o *Orchestrator) replaceBalances(balances []domain.AssetBalance) {
	fresh := make(map[string]domain.AssetBalance, len(balances))
	for _, b := range balances {
		if b.IsNegative() {
			o.logger.Warn("negative balance from exchange",
				slog.String("asset", b.Asset),
				slog.String("free", b.Free.String()),
				slog.String("locked", b.Locked.String()))
		}
		fresh[b.Asset] = b
	}

	o.mu.Lock()
	o.balances = fresh
	o.mu.Unlock()
}

// handleOrderEvent is the streaming order handler.
func (o *Orchestrator) handleOrderEvent(order *domain.Order) {
	o.updateOrder(order)
}

// handleBalanceUpdate merges a streaming balance event field by field.
// Assets absent from the event keep their last value.
func (o *Orchestrator) handleBalanceUpdate(update *domain.BalanceUpdate) {
	o.mu.Lock()
	defer o.mu.Unlock()

	for _, b := range update.Balances {
		if b.IsNegative() {
			o.logger.Warn("negative balance in stream event",
				slog.String("asset", b.Asset))
		}
		o.balances[b.Asset] = b
	}
}

// handleExecution applies fill progress from a per-trade event: filled
// quantity accumulates and the average price advances volume-weighted.
// Order events remain authoritative for status; a fill that completes
// the quantity promotes the order to FILLED through the usual path.
func (o *Orchestrator) handleExecution(exec *domain.Execution) {
	o.mu.Lock()
	defer o.mu.Unlock()

	byID, ok := o.open[exec.Symbol.String()]
	if !ok {
		return
	}
	order, ok := byID[exec.OrderID]
	if !ok {
		return
	}

	cp := *order
	prevFilled := cp.FilledQty
	cp.FilledQty = cp.FilledQty.Add(exec.Qty)
	cp.UpdatedAt = exec.Timestamp
	if cp.FilledQty.IsPositive() {
		notional := cp.AvgPrice.Mul(prevFilled).Add(exec.Price.Mul(exec.Qty))
		cp.AvgPrice = notional.Div(cp.FilledQty)
	}
	if cp.FilledQty.GreaterThanOrEqual(cp.Quantity) && cp.Quantity.IsPositive() {
		cp.Status = domain.OrderStatusFilled
	} else {
		cp.Status = domain.OrderStatusPartiallyFilled
	}
	o.updateOrderLocked(&cp)
}

// handleReconnect re-bootstraps balances and open orders after the
// private stream reconnects; account events during the outage are gone.
func (o *Orchestrator) handleReconnect() {
	o.metrics.RecordReconnect()
	o.mu.RLock()
	ctx := o.runCtx
	o.mu.RUnlock()
	if ctx == nil {
		ctx = context.Background()
	}

	if balances, err := o.rest.Balances(ctx); err != nil {
		o.metrics.RecordError()
		o.logger.Error("balance resync failed", slog.Any("error", err))
	} else {
		o.replaceBalances(balances)
	}

	if orders, err := o.rest.OpenOrders(ctx); err != nil {
		o.metrics.RecordError()
		o.logger.Error("open order resync failed", slog.Any("error", err))
	} else {
		o.replaceOpenOrders(orders)
	}
}

func validateOrderRequest(req domain.OrderRequest) error {
	if req.Side != domain.SideBuy && req.Side != domain.SideSell {
		return fmt.Errorf("invalid order side: %q", req.Side)
	}
	if req.Type != domain.OrderTypeLimit && req.Type != domain.OrderTypeMarket {
		return fmt.Errorf("invalid order type: %q", req.Type)
	}
	if !req.Quantity.IsPositive() {
		return fmt.Errorf("order quantity must be positive, got %s", req.Quantity)
	}
	if req.Type == domain.OrderTypeLimit && !req.Price.IsPositive() {
		return fmt.Errorf("limit order price must be positive, got %s", req.Price)
	}
	return nil
}

// Close stops streaming consumption, rejects further trading calls and
// releases the client handles. Idempotent; safe after a failed
// Initialize.
func (o *Orchestrator) Close() error {
	var err error
	o.closeOnce.Do(func() {
		close(o.closed)
		if o.stream != nil {
			err = o.stream.Close()
		}
		o.logger.Info("trading orchestrator closed")
	})
	return err
}

func (o *Orchestrator) isClosed() bool {
	select {
	case <-o.closed:
		return true
	default:
		return false
	}
}
