package arb

import (
	"testing"

	"arb_go/internal/domain"
	"arb_go/internal/market"

	"github.com/shopspring/decimal"
)

func quote(exchange string, bid, ask int64, ts int64) domain.BookTicker {
	return domain.BookTicker{
		Symbol:    domain.NewSymbol("BTC", "USDT", exchange, domain.MarketSpot),
		BidPrice:  decimal.NewFromInt(bid),
		AskPrice:  decimal.NewFromInt(ask),
		UpdatedAt: ts,
	}
}

func deliver(sub market.Subscriber, q domain.BookTicker) {
	sub(market.Update{Symbol: q.Symbol, Type: market.UpdateDiff, Ticker: &q})
}

func TestDetector_CrossExchangePremium(t *testing.T) {
	var found []Opportunity
	d := NewDetector(decimal.RequireFromString("0.5"), func(op Opportunity) {
		found = append(found, op)
	})
	sub := d.Subscriber()

	// Single exchange: nothing to compare against.
	deliver(sub, quote("BINANCE", 100, 101, 1))
	if len(found) != 0 {
		t.Fatal("one exchange cannot arbitrage with itself")
	}

	// Second exchange bids 102 vs a 101 ask: premium ~0.99% >= 0.5%.
	deliver(sub, quote("UPBIT", 102, 103, 2))
	if len(found) != 1 {
		t.Fatalf("expected 1 opportunity, got %d", len(found))
	}

	op := found[0]
	if op.BuyExchange != "BINANCE" || op.SellExchange != "UPBIT" {
		t.Errorf("expected buy BINANCE / sell UPBIT, got %s/%s", op.BuyExchange, op.SellExchange)
	}
	if !op.BuyPrice.Equal(decimal.NewFromInt(101)) || !op.SellPrice.Equal(decimal.NewFromInt(102)) {
		t.Errorf("wrong prices: buy=%v sell=%v", op.BuyPrice, op.SellPrice)
	}
	if op.Pair != "BTC/USDT" {
		t.Errorf("expected pair BTC/USDT, got %s", op.Pair)
	}
	if op.Timestamp != 2 {
		t.Errorf("expected newest quote timestamp, got %d", op.Timestamp)
	}
}

func TestDetector_BelowThresholdIgnored(t *testing.T) {
	var found []Opportunity
	d := NewDetector(decimal.NewFromInt(1), func(op Opportunity) {
		found = append(found, op)
	})
	sub := d.Subscriber()

	deliver(sub, quote("BINANCE", 100, 101, 1))
	deliver(sub, quote("UPBIT", 101, 102, 2)) // ~0% either way

	if len(found) != 0 {
		t.Errorf("sub-threshold spread must be ignored, got %v", found)
	}
}

func TestDetector_ReverseDirection(t *testing.T) {
	var found []Opportunity
	d := NewDetector(decimal.RequireFromString("0.5"), func(op Opportunity) {
		found = append(found, op)
	})
	sub := d.Subscriber()

	// The arriving quote is the cheap side this time.
	deliver(sub, quote("UPBIT", 102, 103, 1))
	deliver(sub, quote("BINANCE", 100, 101, 2))

	if len(found) != 1 {
		t.Fatalf("expected 1 opportunity, got %d", len(found))
	}
	if found[0].BuyExchange != "BINANCE" || found[0].SellExchange != "UPBIT" {
		t.Errorf("direction wrong: %+v", found[0])
	}
}

func TestDetector_NonTickerUpdatesIgnored(t *testing.T) {
	called := false
	d := NewDetector(decimal.Zero, func(Opportunity) { called = true })
	sub := d.Subscriber()

	sub(market.Update{
		Symbol: domain.NewSymbol("BTC", "USDT", "BINANCE", domain.MarketSpot),
		Type:   market.UpdateSnapshot,
		Book:   &domain.OrderBook{},
	})

	if called {
		t.Error("full book updates must pass through the detector untouched")
	}
}

func TestDetector_ZeroPricesSkipped(t *testing.T) {
	var found []Opportunity
	d := NewDetector(decimal.Zero, func(op Opportunity) { found = append(found, op) })
	sub := d.Subscriber()

	deliver(sub, quote("BINANCE", 0, 0, 1))
	deliver(sub, quote("UPBIT", 102, 103, 2))

	for _, op := range found {
		if op.BuyPrice.IsZero() || op.SellPrice.IsZero() {
			t.Errorf("opportunity built from empty quote: %+v", op)
		}
	}
}
