package market

import (
	"testing"

	"arb_go/internal/domain"

	"github.com/shopspring/decimal"
)

func sym(base string) domain.Symbol {
	return domain.NewSymbol(base, "USDT", "BINANCE", domain.MarketSpot)
}

func lvl(price, qty int64) domain.PriceLevel {
	return domain.PriceLevel{Price: decimal.NewFromInt(price), Qty: decimal.NewFromInt(qty)}
}

func TestStore_StaleDiffRejected(t *testing.T) {
	s := NewStore()

	applied, _ := s.ApplyDiff(&domain.OrderBookDiff{
		Symbol:    sym("BTC"),
		Bids:      []domain.PriceLevel{lvl(100, 1)},
		Timestamp: 10,
	})
	if !applied {
		t.Fatal("first diff should apply")
	}

	// Older event arrives after: must be a no-op.
	applied, _ = s.ApplyDiff(&domain.OrderBookDiff{
		Symbol:    sym("BTC"),
		Bids:      []domain.PriceLevel{lvl(90, 1)},
		Timestamp: 5,
	})
	if applied {
		t.Fatal("stale diff must be rejected")
	}

	book, ok := s.OrderBook(sym("BTC"))
	if !ok {
		t.Fatal("book should exist")
	}
	if book.UpdatedAt != 10 {
		t.Errorf("state must remain at t=10, got %d", book.UpdatedAt)
	}
	if !book.Bids[0].Price.Equal(decimal.NewFromInt(100)) {
		t.Errorf("bid must remain 100, got %v", book.Bids[0].Price)
	}
}

func TestStore_FreshnessMonotonic(t *testing.T) {
	s := NewStore()
	stamps := []int64{3, 1, 7, 7, 5, 9}
	var stored int64

	for _, ts := range stamps {
		applied, _ := s.ApplyDiff(&domain.OrderBookDiff{Symbol: sym("ETH"), Timestamp: ts})
		if applied {
			if ts <= stored {
				t.Fatalf("applied non-increasing timestamp %d after %d", ts, stored)
			}
			stored = ts
		}
	}

	book, _ := s.OrderBook(sym("ETH"))
	if book.UpdatedAt != 9 {
		t.Errorf("expected final timestamp 9, got %d", book.UpdatedAt)
	}
}

func TestStore_SnapshotReplacesAndGuards(t *testing.T) {
	s := NewStore()

	if !s.ApplySnapshot(&domain.OrderBook{Symbol: sym("BTC"), UpdatedAt: 20, Bids: []domain.PriceLevel{lvl(100, 1)}}) {
		t.Fatal("first snapshot should apply")
	}
	// Reconnect replaying an older snapshot must be rejected.
	if s.ApplySnapshot(&domain.OrderBook{Symbol: sym("BTC"), UpdatedAt: 10}) {
		t.Fatal("older snapshot must be rejected")
	}

	book, _ := s.OrderBook(sym("BTC"))
	if book.UpdatedAt != 20 || len(book.Bids) != 1 {
		t.Errorf("state must remain from the newer snapshot")
	}
}

func TestStore_ApplyDiffCrossedBook(t *testing.T) {
	s := NewStore()

	_, crossed := s.ApplyDiff(&domain.OrderBookDiff{
		Symbol:    sym("BTC"),
		Bids:      []domain.PriceLevel{lvl(102, 1)},
		Asks:      []domain.PriceLevel{lvl(101, 1)},
		Timestamp: 1,
	})
	if !crossed {
		t.Error("merge producing ask < bid must be reported as crossed")
	}
}

func TestStore_TickerFreshness(t *testing.T) {
	s := NewStore()

	if !s.ApplyTicker(&domain.BookTicker{Symbol: sym("BTC"), BidPrice: decimal.NewFromInt(100), UpdatedAt: 10}) {
		t.Fatal("first ticker should apply")
	}
	if s.ApplyTicker(&domain.BookTicker{Symbol: sym("BTC"), BidPrice: decimal.NewFromInt(90), UpdatedAt: 10}) {
		t.Fatal("equal-timestamp ticker must be rejected")
	}

	got, ok := s.BestBidAsk(sym("BTC"))
	if !ok {
		t.Fatal("ticker should exist")
	}
	if !got.BidPrice.Equal(decimal.NewFromInt(100)) {
		t.Errorf("expected bid 100, got %v", got.BidPrice)
	}

	if _, ok := s.BestBidAsk(sym("DOGE")); ok {
		t.Error("unknown symbol should report not found")
	}
}

func TestStore_Remove(t *testing.T) {
	s := NewStore()
	s.ApplySnapshot(&domain.OrderBook{Symbol: sym("BTC"), UpdatedAt: 1})
	s.ApplyTicker(&domain.BookTicker{Symbol: sym("BTC"), UpdatedAt: 1})

	s.Remove(sym("BTC"))

	if _, ok := s.OrderBook(sym("BTC")); ok {
		t.Error("book should be gone")
	}
	if _, ok := s.BestBidAsk(sym("BTC")); ok {
		t.Error("ticker should be gone")
	}
}
