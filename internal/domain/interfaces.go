package domain

import (
	"context"
)

// PublicRest is the unauthenticated REST capability of one exchange.
// Retry and backoff are the implementation's responsibility; errors
// surface here only after retry exhaustion.
type PublicRest interface {
	SymbolsInfo(ctx context.Context) ([]SymbolInfo, error)
	OrderBookSnapshot(ctx context.Context, symbol Symbol) (*OrderBook, error)
}

// PublicHandlers is the handler bundle injected into a public streaming
// client. The client calls exactly one handler per decoded event and
// never reaches back into orchestrator internals beyond this contract.
// Reconnect, when set, is called after the client re-establishes a
// dropped connection and before any post-reconnect event is delivered.
type PublicHandlers struct {
	OrderBook  func(diff *OrderBookDiff)
	BookTicker func(ticker *BookTicker)
	Trade      func(trade *Trade)
	Reconnect  func()
}

// PublicStream is the push channel for market data.
type PublicStream interface {
	Activate(ctx context.Context, handlers PublicHandlers) error
	Subscribe(symbols []Symbol) error
	Unsubscribe(symbols []Symbol) error
	Close() error
}

// PrivateRest is the authenticated REST capability of one exchange.
// Credential handling lives inside the implementation.
type PrivateRest interface {
	Balances(ctx context.Context) ([]AssetBalance, error)
	OpenOrders(ctx context.Context) ([]Order, error)
	PlaceOrder(ctx context.Context, req OrderRequest) (*Order, error)
	CancelOrder(ctx context.Context, symbol Symbol, orderID string) (*Order, error)
	FetchOrder(ctx context.Context, symbol Symbol, orderID string) (*Order, error)
	Withdraw(ctx context.Context, req WithdrawRequest) (string, error)
}

// PrivateHandlers is the handler bundle for the private stream.
type PrivateHandlers struct {
	Order     func(order *Order)
	Balance   func(update *BalanceUpdate)
	Execution func(exec *Execution)
	Reconnect func()
}

// PrivateStream is the push channel for account events.
type PrivateStream interface {
	Activate(ctx context.Context, handlers PrivateHandlers) error
	Close() error
}

// MetadataProvider is the read-only symbol/exchange metadata lookup,
// consumed at initialization time only.
type MetadataProvider interface {
	SymbolInfo(symbol Symbol) (*SymbolInfo, error)
	AllSymbols(exchange string) ([]SymbolInfo, error)
}
