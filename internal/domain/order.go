package domain

import (
	"github.com/shopspring/decimal"
)

// Order side and type constants.
const (
	SideBuy  = "BUY"
	SideSell = "SELL"

	OrderTypeLimit  = "LIMIT"
	OrderTypeMarket = "MARKET"
)

// OrderStatus is the lifecycle state of an order.
type OrderStatus string

const (
	OrderStatusNew             OrderStatus = "NEW"
	OrderStatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderStatusFilled          OrderStatus = "FILLED"
	OrderStatusCanceled        OrderStatus = "CANCELED"
	OrderStatusRejected        OrderStatus = "REJECTED"
	OrderStatusExpired         OrderStatus = "EXPIRED"
)

// IsTerminal reports whether the status admits no further transition.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCanceled, OrderStatusRejected, OrderStatusExpired:
		return true
	default:
		return false
	}
}

// CanTransitionTo validates a status transition:
//
//	NEW -> PARTIALLY_FILLED -> FILLED
//	NEW -> {CANCELED, REJECTED, EXPIRED}
//	PARTIALLY_FILLED -> CANCELED
//
// Repeated PARTIALLY_FILLED updates are allowed (fill progress).
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	if s.IsTerminal() {
		return false
	}
	switch s {
	case OrderStatusNew:
		return next != OrderStatusNew
	case OrderStatusPartiallyFilled:
		return next == OrderStatusPartiallyFilled ||
			next == OrderStatusFilled ||
			next == OrderStatusCanceled
	default:
		return false
	}
}

// Order is one exchange order. Identity fields (ID, ClientOrderID,
// Symbol, Side, Type) never change; the rest mutate until the order
// reaches a terminal status, after which the whole struct is immutable.
type Order struct {
	ID            string          `json:"id"`
	ClientOrderID string          `json:"client_order_id"`
	Symbol        Symbol          `json:"symbol"`
	Side          string          `json:"side"`
	Type          string          `json:"type"`
	Status        OrderStatus     `json:"status"`
	Price         decimal.Decimal `json:"price"`
	Quantity      decimal.Decimal `json:"quantity"`
	FilledQty     decimal.Decimal `json:"filled_qty"`
	AvgPrice      decimal.Decimal `json:"avg_price"`
	CreatedAt     int64           `json:"created_at"`
	UpdatedAt     int64           `json:"updated_at"`
}

// IsOpen reports whether the order is still working on the exchange.
func (o *Order) IsOpen() bool {
	return !o.Status.IsTerminal()
}

// Execution is a decoded per-fill event from the private stream.
type Execution struct {
	OrderID   string
	Symbol    Symbol
	Price     decimal.Decimal
	Qty       decimal.Decimal
	Timestamp int64
}

// OrderRequest is the caller-facing order placement request.
type OrderRequest struct {
	Symbol        Symbol
	Side          string
	Type          string
	Price         decimal.Decimal
	Quantity      decimal.Decimal
	ClientOrderID string
}

// WithdrawRequest is the caller-facing withdrawal request.
type WithdrawRequest struct {
	Asset   string
	Amount  decimal.Decimal
	Address string
	Network string
}
