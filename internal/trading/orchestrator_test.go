package trading

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"arb_go/internal/domain"
	"arb_go/internal/infra"

	"github.com/shopspring/decimal"
)

func tradeSym() domain.Symbol {
	return domain.NewSymbol("BTC", "USDT", "BINANCE", domain.MarketSpot)
}

// fakePrivateRest is a scriptable private REST double.
type fakePrivateRest struct {
	mu         sync.Mutex
	balances   []domain.AssetBalance
	openOrders []domain.Order
	fetchable  map[string]*domain.Order
	balErr     error
	ordErr     error
	fetchErr   error
	nextID     int
	placed     []domain.OrderRequest
	withdrawn  []domain.WithdrawRequest
}

func newFakePrivateRest() *fakePrivateRest {
	return &fakePrivateRest{fetchable: make(map[string]*domain.Order)}
}

func (f *fakePrivateRest) Balances(ctx context.Context) ([]domain.AssetBalance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.balErr != nil {
		return nil, f.balErr
	}
	return append([]domain.AssetBalance(nil), f.balances...), nil
}

func (f *fakePrivateRest) OpenOrders(ctx context.Context) ([]domain.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ordErr != nil {
		return nil, f.ordErr
	}
	return append([]domain.Order(nil), f.openOrders...), nil
}

func (f *fakePrivateRest) PlaceOrder(ctx context.Context, req domain.OrderRequest) (*domain.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.placed = append(f.placed, req)
	f.nextID++
	return &domain.Order{
		ID:            fmt.Sprintf("%d", f.nextID),
		ClientOrderID: req.ClientOrderID,
		Symbol:        req.Symbol,
		Side:          req.Side,
		Type:          req.Type,
		Status:        domain.OrderStatusNew,
		Price:         req.Price,
		Quantity:      req.Quantity,
	}, nil
}

func (f *fakePrivateRest) CancelOrder(ctx context.Context, symbol domain.Symbol, orderID string) (*domain.Order, error) {
	return &domain.Order{
		ID:     orderID,
		Symbol: symbol,
		Status: domain.OrderStatusCanceled,
	}, nil
}

func (f *fakePrivateRest) FetchOrder(ctx context.Context, symbol domain.Symbol, orderID string) (*domain.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	if o, ok := f.fetchable[orderID]; ok {
		cp := *o
		return &cp, nil
	}
	return nil, domain.ErrOrderNotFound
}

func (f *fakePrivateRest) Withdraw(ctx context.Context, req domain.WithdrawRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.withdrawn = append(f.withdrawn, req)
	return "wd-1", nil
}

// fakePrivateStream captures the injected handler bundle.
type fakePrivateStream struct {
	handlers domain.PrivateHandlers
	closed   int
}

func (f *fakePrivateStream) Activate(ctx context.Context, handlers domain.PrivateHandlers) error {
	f.handlers = handlers
	return nil
}

func (f *fakePrivateStream) Close() error {
	f.closed++
	return nil
}

func newTradingOrchestrator(t *testing.T) (*Orchestrator, *fakePrivateRest, *fakePrivateStream) {
	t.Helper()
	rest := newFakePrivateRest()
	rest.balances = []domain.AssetBalance{
		{Asset: "USDT", Free: decimal.NewFromInt(1000)},
		{Asset: "BTC", Free: decimal.NewFromInt(1)},
	}
	stream := &fakePrivateStream{}
	o := NewOrchestrator("BINANCE", rest, stream, Options{}, &infra.Metrics{})
	if err := o.Initialize(context.Background()); err != nil {
		t.Fatal(err)
	}
	return o, rest, stream
}

func limitBuy(qty int64) domain.OrderRequest {
	return domain.OrderRequest{
		Symbol:   tradeSym(),
		Side:     domain.SideBuy,
		Type:     domain.OrderTypeLimit,
		Price:    decimal.NewFromInt(50000),
		Quantity: decimal.NewFromInt(qty),
	}
}

func TestOrchestrator_InitializeFailsWithoutBootstrap(t *testing.T) {
	rest := newFakePrivateRest()
	rest.balErr = errors.New("auth failed")
	o := NewOrchestrator("BINANCE", rest, nil, Options{}, &infra.Metrics{})

	err := o.Initialize(context.Background())
	var initErr *domain.InitializationError
	if !errors.As(err, &initErr) {
		t.Fatalf("expected InitializationError, got %v", err)
	}
	if err := o.Close(); err != nil {
		t.Errorf("close after failed initialize: %v", err)
	}
}

func TestOrchestrator_PlaceOrderThenGetConsistent(t *testing.T) {
	o, rest, _ := newTradingOrchestrator(t)

	placed, err := o.PlaceOrder(context.Background(), limitBuy(1))
	if err != nil {
		t.Fatal(err)
	}
	if placed.ClientOrderID == "" {
		t.Error("a client order id must be assigned")
	}
	if len(rest.placed) != 1 {
		t.Fatal("REST must be called")
	}

	// Round-trip: an immediately following lookup sees the same order.
	got, err := o.GetOrder(context.Background(), tradeSym(), placed.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != placed.ID || got.Status != placed.Status {
		t.Errorf("lookup inconsistent with placement: %+v vs %+v", got, placed)
	}
}

func TestOrchestrator_PlaceOrderValidation(t *testing.T) {
	o, _, _ := newTradingOrchestrator(t)

	bad := limitBuy(1)
	bad.Side = "HOLD"
	if _, err := o.PlaceOrder(context.Background(), bad); err == nil {
		t.Error("invalid side must be rejected")
	}

	bad = limitBuy(0)
	if _, err := o.PlaceOrder(context.Background(), bad); err == nil {
		t.Error("zero quantity must be rejected")
	}

	bad = limitBuy(1)
	bad.Price = decimal.Zero
	if _, err := o.PlaceOrder(context.Background(), bad); err == nil {
		t.Error("limit order without price must be rejected")
	}
}

func TestOrchestrator_TerminalTransitionMovesStores(t *testing.T) {
	o, _, stream := newTradingOrchestrator(t)

	placed, err := o.PlaceOrder(context.Background(), limitBuy(1))
	if err != nil {
		t.Fatal(err)
	}
	if len(o.OpenOrders(tradeSym())) != 1 {
		t.Fatal("placed order should be open")
	}

	// Streaming FILLED event for the same order.
	filled := *placed
	filled.Status = domain.OrderStatusFilled
	filled.FilledQty = filled.Quantity
	stream.handlers.Order(&filled)

	if len(o.OpenOrders(tradeSym())) != 0 {
		t.Error("terminal order must leave the open store")
	}
	if o.ExecutedOrderCount(tradeSym()) != 1 {
		t.Error("terminal order must enter the executed cache")
	}

	got, err := o.GetOrder(context.Background(), tradeSym(), placed.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.OrderStatusFilled {
		t.Errorf("expected FILLED, got %s", got.Status)
	}
}

func TestOrchestrator_TerminalOrderImmutable(t *testing.T) {
	o, _, stream := newTradingOrchestrator(t)

	placed, _ := o.PlaceOrder(context.Background(), limitBuy(1))

	canceled := *placed
	canceled.Status = domain.OrderStatusCanceled
	stream.handlers.Order(&canceled)

	// A late event must not resurrect or mutate the terminal order.
	late := *placed
	late.Status = domain.OrderStatusPartiallyFilled
	late.FilledQty = decimal.NewFromInt(1)
	stream.handlers.Order(&late)

	got, err := o.GetOrder(context.Background(), tradeSym(), placed.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.OrderStatusCanceled {
		t.Errorf("terminal order mutated: %s", got.Status)
	}
	if !got.FilledQty.IsZero() {
		t.Errorf("terminal order fields mutated: filled=%v", got.FilledQty)
	}
	if len(o.OpenOrders(tradeSym())) != 0 {
		t.Error("order must exist in exactly one store")
	}
}

func TestOrchestrator_CancelOrderRoundTrip(t *testing.T) {
	o, _, _ := newTradingOrchestrator(t)

	placed, _ := o.PlaceOrder(context.Background(), limitBuy(1))
	canceled, err := o.CancelOrder(context.Background(), tradeSym(), placed.ID)
	if err != nil {
		t.Fatal(err)
	}
	if canceled.Status != domain.OrderStatusCanceled {
		t.Fatalf("expected CANCELED, got %s", canceled.Status)
	}

	got, err := o.GetOrder(context.Background(), tradeSym(), placed.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.OrderStatusCanceled {
		t.Errorf("lookup inconsistent after cancel: %s", got.Status)
	}
}

func TestOrchestrator_GetOrderFallbackPopulatesCache(t *testing.T) {
	o, rest, _ := newTradingOrchestrator(t)

	rest.fetchable["77"] = &domain.Order{
		ID:     "77",
		Symbol: tradeSym(),
		Status: domain.OrderStatusFilled,
	}

	got, err := o.GetOrder(context.Background(), tradeSym(), "77")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.OrderStatusFilled {
		t.Errorf("expected FILLED, got %s", got.Status)
	}
	if o.ExecutedOrderCount(tradeSym()) != 1 {
		t.Error("fallback hit must populate the executed cache")
	}

	// Second lookup must not hit REST again.
	rest.fetchErr = errors.New("rest down")
	if _, err := o.GetOrder(context.Background(), tradeSym(), "77"); err != nil {
		t.Errorf("cached terminal order must be served locally: %v", err)
	}
}

func TestOrchestrator_GetOrderErrorKinds(t *testing.T) {
	o, rest, _ := newTradingOrchestrator(t)

	// Unknown everywhere: not found.
	_, err := o.GetOrder(context.Background(), tradeSym(), "nope")
	if !errors.Is(err, domain.ErrOrderNotFound) {
		t.Errorf("expected ErrOrderNotFound, got %v", err)
	}

	// REST fallback failure: a distinguishable lookup error.
	rest.fetchErr = errors.New("502")
	_, err = o.GetOrder(context.Background(), tradeSym(), "nope")
	var lookupErr *domain.LookupError
	if !errors.As(err, &lookupErr) {
		t.Fatalf("expected LookupError, got %v", err)
	}
	if errors.Is(err, domain.ErrOrderNotFound) {
		t.Error("lookup failure must not masquerade as not-found")
	}
	if !domain.IsRetriable(err) {
		t.Error("lookup failure should be retriable")
	}
}

func TestOrchestrator_BalanceWholesaleReplaceAndMerge(t *testing.T) {
	o, rest, stream := newTradingOrchestrator(t)

	if _, ok := o.Balance("USDT"); !ok {
		t.Fatal("bootstrap balances missing")
	}

	// Streaming event merges per asset; BTC keeps its last value.
	stream.handlers.Balance(&domain.BalanceUpdate{
		Balances: []domain.AssetBalance{
			{Asset: "USDT", Free: decimal.NewFromInt(900), Locked: decimal.NewFromInt(100)},
		},
	})

	usdt, _ := o.Balance("USDT")
	if !usdt.Free.Equal(decimal.NewFromInt(900)) || !usdt.Locked.Equal(decimal.NewFromInt(100)) {
		t.Errorf("merge failed: %+v", usdt)
	}
	if btc, ok := o.Balance("BTC"); !ok || !btc.Free.Equal(decimal.NewFromInt(1)) {
		t.Error("assets absent from the event must keep their value")
	}

	// Reconnect path replaces the map wholesale.
	rest.mu.Lock()
	rest.balances = []domain.AssetBalance{{Asset: "ETH", Free: decimal.NewFromInt(5)}}
	rest.mu.Unlock()
	stream.handlers.Reconnect()

	if _, ok := o.Balance("USDT"); ok {
		t.Error("wholesale replace must drop absent assets")
	}
	if eth, ok := o.Balance("ETH"); !ok || !eth.Free.Equal(decimal.NewFromInt(5)) {
		t.Error("wholesale replace must install the fresh set")
	}
}

func TestOrchestrator_OrderUpdatesNeverTouchBalances(t *testing.T) {
	o, _, stream := newTradingOrchestrator(t)
	before := o.Balances()

	placed, _ := o.PlaceOrder(context.Background(), limitBuy(1))
	filled := *placed
	filled.Status = domain.OrderStatusFilled
	stream.handlers.Order(&filled)

	after := o.Balances()
	if len(before) != len(after) {
		t.Fatal("order state changes must not mutate the balance store")
	}
	for asset, b := range before {
		if !after[asset].Free.Equal(b.Free) || !after[asset].Locked.Equal(b.Locked) {
			t.Errorf("balance %s changed by order update", asset)
		}
	}
}

func TestOrchestrator_ExecutionEventsAdvanceFill(t *testing.T) {
	o, _, stream := newTradingOrchestrator(t)

	placed, _ := o.PlaceOrder(context.Background(), limitBuy(2))

	stream.handlers.Execution(&domain.Execution{
		OrderID: placed.ID,
		Symbol:  tradeSym(),
		Qty:     decimal.NewFromInt(1),
	})

	got, _ := o.GetOrder(context.Background(), tradeSym(), placed.ID)
	if got.Status != domain.OrderStatusPartiallyFilled {
		t.Fatalf("expected PARTIALLY_FILLED, got %s", got.Status)
	}
	if !got.FilledQty.Equal(decimal.NewFromInt(1)) {
		t.Errorf("expected filled 1, got %v", got.FilledQty)
	}

	stream.handlers.Execution(&domain.Execution{
		OrderID: placed.ID,
		Symbol:  tradeSym(),
		Qty:     decimal.NewFromInt(1),
	})

	got, _ = o.GetOrder(context.Background(), tradeSym(), placed.ID)
	if got.Status != domain.OrderStatusFilled {
		t.Errorf("completing fill must promote to FILLED, got %s", got.Status)
	}
	if o.ExecutedOrderCount(tradeSym()) != 1 {
		t.Error("filled order must move to the executed cache")
	}
}

func TestOrchestrator_WithdrawValidationAndPassThrough(t *testing.T) {
	o, rest, _ := newTradingOrchestrator(t)

	if _, err := o.Withdraw(context.Background(), domain.WithdrawRequest{Asset: "", Amount: decimal.NewFromInt(1), Address: "x"}); err == nil {
		t.Error("empty asset must be rejected")
	}
	if _, err := o.Withdraw(context.Background(), domain.WithdrawRequest{Asset: "BTC", Amount: decimal.Zero, Address: "x"}); err == nil {
		t.Error("non-positive amount must be rejected")
	}
	if _, err := o.Withdraw(context.Background(), domain.WithdrawRequest{Asset: "BTC", Amount: decimal.NewFromInt(1), Address: ""}); err == nil {
		t.Error("empty address must be rejected")
	}

	before := o.Balances()
	id, err := o.Withdraw(context.Background(), domain.WithdrawRequest{
		Asset: "BTC", Amount: decimal.NewFromInt(1), Address: "bc1q...",
	})
	if err != nil {
		t.Fatal(err)
	}
	if id != "wd-1" || len(rest.withdrawn) != 1 {
		t.Error("withdraw must pass through to REST")
	}
	if len(o.Balances()) != len(before) {
		t.Error("withdraw must not touch the balance store")
	}
}

func TestOrchestrator_ReconnectDropsVanishedOrders(t *testing.T) {
	o, rest, stream := newTradingOrchestrator(t)

	placed, err := o.PlaceOrder(context.Background(), limitBuy(1))
	if err != nil {
		t.Fatal(err)
	}

	// The order filled during the outage: its FILLED event is lost and
	// the resync reports no open orders.
	rest.mu.Lock()
	rest.openOrders = nil
	rest.fetchable[placed.ID] = &domain.Order{
		ID:     placed.ID,
		Symbol: tradeSym(),
		Status: domain.OrderStatusFilled,
	}
	rest.mu.Unlock()
	stream.handlers.Reconnect()

	if n := len(o.OpenOrders(tradeSym())); n != 0 {
		t.Fatalf("vanished order still served as open: %d open", n)
	}

	// The next lookup must come from the REST tier, not a stale store.
	got, err := o.GetOrder(context.Background(), tradeSym(), placed.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.OrderStatusFilled {
		t.Errorf("expected FILLED from the fallback tier, got %s", got.Status)
	}
	if o.ExecutedOrderCount(tradeSym()) != 1 {
		t.Error("terminal order must land in the executed cache")
	}
}

func TestOrchestrator_ReconnectKeepsReportedOrders(t *testing.T) {
	o, rest, stream := newTradingOrchestrator(t)

	placed, err := o.PlaceOrder(context.Background(), limitBuy(1))
	if err != nil {
		t.Fatal(err)
	}

	rest.mu.Lock()
	rest.openOrders = []domain.Order{*placed}
	rest.mu.Unlock()
	stream.handlers.Reconnect()

	open := o.OpenOrders(tradeSym())
	if len(open) != 1 || open[0].ID != placed.ID {
		t.Errorf("resynced order must stay open: %+v", open)
	}
}

func TestOrchestrator_SameStatusResyncDoesNotWarn(t *testing.T) {
	o, _, stream := newTradingOrchestrator(t)
	var buf bytes.Buffer
	o.logger = slog.New(slog.NewTextHandler(&buf, nil))

	placed, err := o.PlaceOrder(context.Background(), limitBuy(1))
	if err != nil {
		t.Fatal(err)
	}

	again := *placed
	stream.handlers.Order(&again)

	if strings.Contains(buf.String(), "unexpected order status transition") {
		t.Error("re-observing an unchanged order must not warn")
	}
	if len(o.OpenOrders(tradeSym())) != 1 {
		t.Error("order must remain open")
	}
}

func TestOrchestrator_ExecutionVolumeWeightedAvgPrice(t *testing.T) {
	o, _, stream := newTradingOrchestrator(t)

	placed, err := o.PlaceOrder(context.Background(), limitBuy(2))
	if err != nil {
		t.Fatal(err)
	}

	stream.handlers.Execution(&domain.Execution{
		OrderID: placed.ID,
		Symbol:  tradeSym(),
		Price:   decimal.NewFromInt(100),
		Qty:     decimal.NewFromInt(1),
	})
	stream.handlers.Execution(&domain.Execution{
		OrderID: placed.ID,
		Symbol:  tradeSym(),
		Price:   decimal.NewFromInt(200),
		Qty:     decimal.NewFromInt(1),
	})

	got, err := o.GetOrder(context.Background(), tradeSym(), placed.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !got.AvgPrice.Equal(decimal.NewFromInt(150)) {
		t.Errorf("expected volume-weighted average 150, got %v", got.AvgPrice)
	}
}

func TestOrchestrator_ClosedRejectsTrading(t *testing.T) {
	o, _, _ := newTradingOrchestrator(t)
	if err := o.Close(); err != nil {
		t.Fatal(err)
	}

	if _, err := o.PlaceOrder(context.Background(), limitBuy(1)); !errors.Is(err, domain.ErrOrchestratorClosed) {
		t.Errorf("place after close: expected ErrOrchestratorClosed, got %v", err)
	}
	if _, err := o.CancelOrder(context.Background(), tradeSym(), "1"); !errors.Is(err, domain.ErrOrchestratorClosed) {
		t.Errorf("cancel after close: expected ErrOrchestratorClosed, got %v", err)
	}
	req := domain.WithdrawRequest{Asset: "BTC", Amount: decimal.NewFromInt(1), Address: "x"}
	if _, err := o.Withdraw(context.Background(), req); !errors.Is(err, domain.ErrOrchestratorClosed) {
		t.Errorf("withdraw after close: expected ErrOrchestratorClosed, got %v", err)
	}
}

func TestOrchestrator_CloseIdempotent(t *testing.T) {
	o, _, stream := newTradingOrchestrator(t)

	if err := o.Close(); err != nil {
		t.Fatal(err)
	}
	if err := o.Close(); err != nil {
		t.Fatal(err)
	}
	if stream.closed != 1 {
		t.Errorf("stream must be closed exactly once, got %d", stream.closed)
	}
}
