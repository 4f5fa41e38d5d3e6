package arb

import (
	"log/slog"
	"sync"

	"arb_go/internal/domain"
	"arb_go/internal/market"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Opportunity is a detected cross-exchange spread: buy at BuyExchange's
// ask, sell at SellExchange's bid, for a premium above the threshold.
type Opportunity struct {
	Pair         string
	BuyExchange  string
	SellExchange string
	BuyPrice     decimal.Decimal
	SellPrice    decimal.Decimal
	Premium      decimal.Decimal // percent
	Timestamp    int64
}

// Detector watches best bid/ask updates from several market
// orchestrators through their fan-out and reports cross-exchange
// spreads. It never touches orchestrator state directly: everything it
// knows arrived through a subscriber callback.
type Detector struct {
	mu        sync.RWMutex
	threshold decimal.Decimal
	quotes    map[string]map[string]domain.BookTicker // pair -> exchange -> quote
	onFound   func(Opportunity)
	logger    *slog.Logger
}

// NewDetector creates a detector. onFound is called on the delivering
// orchestrator's goroutine for every opportunity at or above threshold.
func NewDetector(threshold decimal.Decimal, onFound func(Opportunity)) *Detector {
	return &Detector{
		threshold: threshold,
		quotes:    make(map[string]map[string]domain.BookTicker),
		onFound:   onFound,
		logger:    slog.Default().With("module", "arb"),
	}
}

// Subscriber returns the fan-out callback to register with a market
// orchestrator. Only book ticker updates are considered; full book and
// trade updates pass through untouched.
func (d *Detector) Subscriber() market.Subscriber {
	return func(update market.Update) {
		if update.Ticker == nil {
			return
		}
		d.onTicker(*update.Ticker)
	}
}

func (d *Detector) onTicker(quote domain.BookTicker) {
	pair := quote.Symbol.Pair()

	d.mu.Lock()
	byExchange, ok := d.quotes[pair]
	if !ok {
		byExchange = make(map[string]domain.BookTicker)
		d.quotes[pair] = byExchange
	}
	byExchange[quote.Symbol.Exchange] = quote

	others := make([]domain.BookTicker, 0, len(byExchange)-1)
	for ex, q := range byExchange {
		if ex != quote.Symbol.Exchange {
			others = append(others, q)
		}
	}
	d.mu.Unlock()

	for _, other := range others {
		d.compare(pair, quote, other)
		d.compare(pair, other, quote)
	}
}

// compare checks buying at buy's ask and selling at sell's bid.
func (d *Detector) compare(pair string, buy, sell domain.BookTicker) {
	if !buy.AskPrice.IsPositive() || !sell.BidPrice.IsPositive() {
		return
	}

	premium := sell.BidPrice.Sub(buy.AskPrice).Div(buy.AskPrice).Mul(hundred)
	if premium.LessThan(d.threshold) {
		return
	}

	op := Opportunity{
		Pair:         pair,
		BuyExchange:  buy.Symbol.Exchange,
		SellExchange: sell.Symbol.Exchange,
		BuyPrice:     buy.AskPrice,
		SellPrice:    sell.BidPrice,
		Premium:      premium,
		Timestamp:    maxInt64(buy.UpdatedAt, sell.UpdatedAt),
	}

	d.logger.Info("arbitrage opportunity",
		slog.String("pair", op.Pair),
		slog.String("buy", op.BuyExchange),
		slog.String("sell", op.SellExchange),
		slog.String("premium_pct", op.Premium.StringFixed(4)))

	if d.onFound != nil {
		d.onFound(op)
	}
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
