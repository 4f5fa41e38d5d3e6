package domain

import (
	"github.com/shopspring/decimal"
)

// AssetBalance is the per-asset available/locked quantity. Balances are
// always sourced fresh from REST or the private stream; they are never
// derived from order state and never served from a write-once cache.
type AssetBalance struct {
	Asset     string          `json:"asset"`
	Free      decimal.Decimal `json:"free"`
	Locked    decimal.Decimal `json:"locked"`
	UpdatedAt int64           `json:"updated_at"`
}

// Total returns free + locked.
func (b AssetBalance) Total() decimal.Decimal {
	return b.Free.Add(b.Locked)
}

// IsNegative reports a balance invariant violation. Negative values
// indicate an upstream data-quality fault, logged but never fatal.
func (b AssetBalance) IsNegative() bool {
	return b.Free.IsNegative() || b.Locked.IsNegative()
}

// BalanceUpdate is a decoded streaming balance event. Only the assets
// present in Balances are merged; absent assets keep their last value.
type BalanceUpdate struct {
	Balances  []AssetBalance
	Timestamp int64
}
