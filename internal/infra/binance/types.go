package binance

import (
	"encoding/json"
	"strings"
	"time"

	"arb_go/internal/domain"

	"github.com/shopspring/decimal"
)

const (
	ExchangeName = "BINANCE"

	maxRetries        = 10
	pingInterval      = 30 * time.Second
	readTimeout       = 60 * time.Second
	keepAliveInterval = 30 * time.Minute
)

// NativeSymbol converts a domain symbol to the exchange-native name,
// e.g. BTC/USDT -> "BTCUSDT".
func NativeSymbol(s domain.Symbol) string {
	return s.Base + s.Quote
}

// subscribeRequest is the combined-stream management frame.
type subscribeRequest struct {
	Method string   `json:"method"` // SUBSCRIBE / UNSUBSCRIBE
	Params []string `json:"params"`
	ID     int64    `json:"id"`
}

// streamEnvelope wraps every combined-stream payload.
type streamEnvelope struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

// depthUpdateEvent is the incremental book payload.
type depthUpdateEvent struct {
	EventType string     `json:"e"` // depthUpdate
	EventTime int64      `json:"E"`
	Symbol    string     `json:"s"`
	FirstID   uint64     `json:"U"`
	FinalID   uint64     `json:"u"`
	Bids      [][]string `json:"b"`
	Asks      [][]string `json:"a"`
}

// bookTickerEvent is the best bid/ask payload.
type bookTickerEvent struct {
	UpdateID uint64 `json:"u"`
	Symbol   string `json:"s"`
	BidPrice string `json:"b"`
	BidQty   string `json:"B"`
	AskPrice string `json:"a"`
	AskQty   string `json:"A"`
}

// tradeEvent is the public trade payload.
type tradeEvent struct {
	EventType string `json:"e"` // trade
	EventTime int64  `json:"E"`
	Symbol    string `json:"s"`
	Price     string `json:"p"`
	Qty       string `json:"q"`
	TradeTime int64  `json:"T"`
	IsMaker   bool   `json:"m"`
}

// depthSnapshot is the REST orderbook response.
type depthSnapshot struct {
	LastUpdateID uint64     `json:"lastUpdateId"`
	Bids         [][]string `json:"bids"`
	Asks         [][]string `json:"asks"`
}

// exchangeInfo is the REST symbol metadata response.
type exchangeInfo struct {
	Symbols []struct {
		Symbol         string `json:"symbol"`
		Status         string `json:"status"`
		BaseAsset      string `json:"baseAsset"`
		QuoteAsset     string `json:"quoteAsset"`
		BasePrecision  int    `json:"baseAssetPrecision"`
		QuotePrecision int    `json:"quotePrecision"`
		Filters        []struct {
			FilterType  string `json:"filterType"`
			MinQty      string `json:"minQty"`
			MinNotional string `json:"minNotional"`
		} `json:"filters"`
	} `json:"symbols"`
}

// restOrder is the REST order representation (place/cancel/query).
type restOrder struct {
	Symbol        string `json:"symbol"`
	OrderID       int64  `json:"orderId"`
	ClientOrderID string `json:"clientOrderId"`
	Price         string `json:"price"`
	OrigQty       string `json:"origQty"`
	ExecutedQty   string `json:"executedQty"`
	Status        string `json:"status"`
	Type          string `json:"type"`
	Side          string `json:"side"`
	Time          int64  `json:"time"`
	UpdateTime    int64  `json:"updateTime"`
	// cancel responses use these names instead
	OrigClientOrderID string `json:"origClientOrderId"`
	TransactTime      int64  `json:"transactTime"`
}

// accountInfo is the REST balances response.
type accountInfo struct {
	Balances []struct {
		Asset  string `json:"asset"`
		Free   string `json:"free"`
		Locked string `json:"locked"`
	} `json:"balances"`
}

// executionReport is the private-stream order event.
type executionReport struct {
	EventType        string `json:"e"` // executionReport
	EventTime        int64  `json:"E"`
	Symbol           string `json:"s"`
	ClientOrderID    string `json:"c"`
	Side             string `json:"S"`
	OrderType        string `json:"o"`
	OrigQty          string `json:"q"`
	Price            string `json:"p"`
	ExecType         string `json:"x"` // NEW / TRADE / CANCELED ...
	OrderStatus      string `json:"X"`
	OrderID          int64  `json:"i"`
	LastFilledQty    string `json:"l"`
	CumFilledQty     string `json:"z"`
	LastFilledPrice  string `json:"L"`
	TransactionTime  int64  `json:"T"`
	OrderCreatedTime int64  `json:"O"`
}

// accountPosition is the private-stream balance event.
type accountPosition struct {
	EventType string `json:"e"` // outboundAccountPosition
	EventTime int64  `json:"E"`
	Balances  []struct {
		Asset  string `json:"a"`
		Free   string `json:"f"`
		Locked string `json:"l"`
	} `json:"B"`
}

// listenKeyResponse is the user-data-stream key response.
type listenKeyResponse struct {
	ListenKey string `json:"listenKey"`
}

// apiError is the REST error envelope.
type apiError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// mapOrderStatus converts an exchange status string to the domain FSM.
func mapOrderStatus(status string) domain.OrderStatus {
	switch status {
	case "NEW", "PENDING_NEW":
		return domain.OrderStatusNew
	case "PARTIALLY_FILLED":
		return domain.OrderStatusPartiallyFilled
	case "FILLED":
		return domain.OrderStatusFilled
	case "CANCELED", "PENDING_CANCEL":
		return domain.OrderStatusCanceled
	case "REJECTED":
		return domain.OrderStatusRejected
	case "EXPIRED", "EXPIRED_IN_MATCH":
		return domain.OrderStatusExpired
	default:
		return domain.OrderStatus(status)
	}
}

// parseLevels converts [["price","qty"],...] into domain levels.
// Unparseable rows are skipped rather than poisoning the whole update.
func parseLevels(raw [][]string) []domain.PriceLevel {
	levels := make([]domain.PriceLevel, 0, len(raw))
	for _, pair := range raw {
		if len(pair) < 2 {
			continue
		}
		price, err1 := decimal.NewFromString(pair[0])
		qty, err2 := decimal.NewFromString(pair[1])
		if err1 != nil || err2 != nil {
			continue
		}
		levels = append(levels, domain.PriceLevel{Price: price, Qty: qty})
	}
	return levels
}

func parseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// streamName builds a combined-stream name, e.g. "btcusdt@depth".
func streamName(sym domain.Symbol, channel string) string {
	return strings.ToLower(NativeSymbol(sym)) + "@" + channel
}
