package domain

import (
	"sort"

	"github.com/shopspring/decimal"
)

// PriceLevel is one price/quantity pair on a book side.
type PriceLevel struct {
	Price decimal.Decimal `json:"price"`
	Qty   decimal.Decimal `json:"qty"`
}

// OrderBook holds the sorted bid/ask levels for one symbol.
// Bids are sorted descending, asks ascending. UpdatedAt is the
// exchange-side unix-milli timestamp of the last accepted update;
// LastSeq is the exchange sequence number where the feed provides one.
type OrderBook struct {
	Symbol    Symbol       `json:"symbol"`
	Bids      []PriceLevel `json:"bids"`
	Asks      []PriceLevel `json:"asks"`
	UpdatedAt int64        `json:"updated_at"`
	LastSeq   uint64       `json:"last_seq"`
}

// OrderBookDiff is a decoded incremental book update from the stream.
// A level with zero quantity removes that price from the book.
type OrderBookDiff struct {
	Symbol    Symbol
	Bids      []PriceLevel
	Asks      []PriceLevel
	Timestamp int64
	Seq       uint64
}

// IsNewerThan reports whether the diff passes the freshness check
// against the current book. Sequence wins when both sides carry one;
// otherwise the timestamp decides. Equal is stale.
func (d *OrderBookDiff) IsNewerThan(book *OrderBook) bool {
	if d.Seq != 0 && book.LastSeq != 0 {
		return d.Seq > book.LastSeq
	}
	return d.Timestamp > book.UpdatedAt
}

// ApplyDiff merges an incremental update into the book in place.
// Callers must run the freshness check first; ApplyDiff does not.
func (b *OrderBook) ApplyDiff(diff *OrderBookDiff) {
	b.Bids = mergeLevels(b.Bids, diff.Bids, true)
	b.Asks = mergeLevels(b.Asks, diff.Asks, false)
	b.UpdatedAt = diff.Timestamp
	if diff.Seq != 0 {
		b.LastSeq = diff.Seq
	}
}

// mergeLevels upserts the given levels into side, removing zero-qty
// entries and keeping the side sorted.
func mergeLevels(side, updates []PriceLevel, descending bool) []PriceLevel {
	for _, u := range updates {
		idx := -1
		for i := range side {
			if side[i].Price.Equal(u.Price) {
				idx = i
				break
			}
		}
		switch {
		case u.Qty.IsZero() && idx >= 0:
			side = append(side[:idx], side[idx+1:]...)
		case u.Qty.IsZero():
			// Removal of an unknown level: nothing to do.
		case idx >= 0:
			side[idx].Qty = u.Qty
		default:
			side = append(side, u)
		}
	}
	sort.Slice(side, func(i, j int) bool {
		if descending {
			return side[i].Price.GreaterThan(side[j].Price)
		}
		return side[i].Price.LessThan(side[j].Price)
	})
	return side
}

// BestBid returns the top bid level, or false when the side is empty.
func (b *OrderBook) BestBid() (PriceLevel, bool) {
	if len(b.Bids) == 0 {
		return PriceLevel{}, false
	}
	return b.Bids[0], true
}

// BestAsk returns the top ask level, or false when the side is empty.
func (b *OrderBook) BestAsk() (PriceLevel, bool) {
	if len(b.Asks) == 0 {
		return PriceLevel{}, false
	}
	return b.Asks[0], true
}

// IsCrossed reports a crossed book (best ask below best bid) once both
// sides are populated. A crossed book is an upstream data-quality fault.
func (b *OrderBook) IsCrossed() bool {
	bid, okB := b.BestBid()
	ask, okA := b.BestAsk()
	return okB && okA && ask.Price.LessThan(bid.Price)
}

// Clone returns a deep copy safe to hand to external readers.
func (b *OrderBook) Clone() *OrderBook {
	cp := *b
	cp.Bids = append([]PriceLevel(nil), b.Bids...)
	cp.Asks = append([]PriceLevel(nil), b.Asks...)
	return &cp
}

// BookTicker is the single best bid/ask pair for one symbol. It is kept
// separate from the full book because the detector reads only this
// field at high frequency.
type BookTicker struct {
	Symbol    Symbol          `json:"symbol"`
	BidPrice  decimal.Decimal `json:"bid_price"`
	BidQty    decimal.Decimal `json:"bid_qty"`
	AskPrice  decimal.Decimal `json:"ask_price"`
	AskQty    decimal.Decimal `json:"ask_qty"`
	UpdatedAt int64           `json:"updated_at"`
}

// IsNewerThan is the freshness check for book ticker updates.
func (t *BookTicker) IsNewerThan(cur *BookTicker) bool {
	return t.UpdatedAt > cur.UpdatedAt
}

// Trade is a decoded public trade event. The orchestrator forwards it
// to subscribers without storing it.
type Trade struct {
	Symbol    Symbol
	Price     decimal.Decimal
	Qty       decimal.Decimal
	IsBuyer   bool
	Timestamp int64
}
