package domain

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// MarketType distinguishes spot and futures markets.
type MarketType string

const (
	MarketSpot    MarketType = "spot"
	MarketFutures MarketType = "futures"
)

// Symbol identifies a tradable instrument on one exchange.
// Immutable once constructed; used as the map key throughout.
type Symbol struct {
	Base     string     // e.g. "BTC"
	Quote    string     // e.g. "USDT"
	Exchange string     // e.g. "BINANCE"
	Market   MarketType // spot or futures
}

// NewSymbol constructs a Symbol with normalized (upper-case) parts.
func NewSymbol(base, quote, exchange string, market MarketType) Symbol {
	return Symbol{
		Base:     strings.ToUpper(base),
		Quote:    strings.ToUpper(quote),
		Exchange: strings.ToUpper(exchange),
		Market:   market,
	}
}

// Pair returns the exchange-agnostic pair name, e.g. "BTC/USDT".
func (s Symbol) Pair() string {
	return s.Base + "/" + s.Quote
}

// String returns the full key form, e.g. "BTC/USDT@BINANCE:spot".
func (s Symbol) String() string {
	return fmt.Sprintf("%s/%s@%s:%s", s.Base, s.Quote, s.Exchange, s.Market)
}

// SymbolInfo carries the static metadata for a symbol: precision and
// step rules loaded once at initialization from the metadata provider.
type SymbolInfo struct {
	Symbol       Symbol
	PricePrec    int
	QtyPrec      int
	MinQty       decimal.Decimal
	MinNotional  decimal.Decimal
	ExchangeName string // exchange-native name, e.g. "BTCUSDT"
	Active       bool
}
