package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"arb_go/internal/domain"
	"arb_go/internal/infra"
)

const orderNotFoundCode = -2013 // "Order does not exist."

// Client is the Binance REST client. It implements both
// domain.PublicRest and domain.PrivateRest; credential handling stays
// inside the signer.
type Client struct {
	baseURL    string
	httpClient *http.Client
	signer     *Signer
	logger     *slog.Logger
}

// NewClient creates a Binance REST client from the exchange config.
func NewClient(cfg infra.ExchangeConfig) *Client {
	return &Client{
		baseURL: cfg.RestURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:    10,
				IdleConnTimeout: 30 * time.Second,
			},
		},
		signer: NewSigner(cfg.APIKey, cfg.SecretKey),
		logger: slog.Default().With("module", "binance_client"),
	}
}

// SymbolsInfo fetches the exchange symbol metadata.
func (c *Client) SymbolsInfo(ctx context.Context) ([]domain.SymbolInfo, error) {
	var info exchangeInfo
	if err := c.get(ctx, "/api/v3/exchangeInfo", nil, false, &info); err != nil {
		return nil, fmt.Errorf("exchange info: %w", err)
	}

	out := make([]domain.SymbolInfo, 0, len(info.Symbols))
	for _, s := range info.Symbols {
		si := domain.SymbolInfo{
			Symbol:       domain.NewSymbol(s.BaseAsset, s.QuoteAsset, ExchangeName, domain.MarketSpot),
			PricePrec:    s.QuotePrecision,
			QtyPrec:      s.BasePrecision,
			ExchangeName: s.Symbol,
			Active:       s.Status == "TRADING",
		}
		for _, f := range s.Filters {
			switch f.FilterType {
			case "LOT_SIZE":
				si.MinQty = parseDecimal(f.MinQty)
			case "NOTIONAL", "MIN_NOTIONAL":
				si.MinNotional = parseDecimal(f.MinNotional)
			}
		}
		out = append(out, si)
	}
	return out, nil
}

// OrderBookSnapshot fetches a full book snapshot for one symbol.
func (c *Client) OrderBookSnapshot(ctx context.Context, symbol domain.Symbol) (*domain.OrderBook, error) {
	params := url.Values{}
	params.Set("symbol", NativeSymbol(symbol))
	params.Set("limit", "100")

	var snap depthSnapshot
	if err := c.get(ctx, "/api/v3/depth", params, false, &snap); err != nil {
		return nil, fmt.Errorf("depth snapshot %s: %w", symbol, err)
	}

	return &domain.OrderBook{
		Symbol:    symbol,
		Bids:      parseLevels(snap.Bids),
		Asks:      parseLevels(snap.Asks),
		UpdatedAt: time.Now().UnixMilli(),
		LastSeq:   snap.LastUpdateID,
	}, nil
}

// Balances fetches the account balances.
func (c *Client) Balances(ctx context.Context) ([]domain.AssetBalance, error) {
	var acct accountInfo
	if err := c.get(ctx, "/api/v3/account", url.Values{}, true, &acct); err != nil {
		return nil, fmt.Errorf("account: %w", err)
	}

	now := time.Now().UnixMilli()
	out := make([]domain.AssetBalance, 0, len(acct.Balances))
	for _, b := range acct.Balances {
		out = append(out, domain.AssetBalance{
			Asset:     b.Asset,
			Free:      parseDecimal(b.Free),
			Locked:    parseDecimal(b.Locked),
			UpdatedAt: now,
		})
	}
	return out, nil
}

// OpenOrders fetches all currently open orders.
func (c *Client) OpenOrders(ctx context.Context) ([]domain.Order, error) {
	var raw []restOrder
	if err := c.get(ctx, "/api/v3/openOrders", url.Values{}, true, &raw); err != nil {
		return nil, fmt.Errorf("open orders: %w", err)
	}

	out := make([]domain.Order, 0, len(raw))
	for _, r := range raw {
		out = append(out, *c.toOrder(r))
	}
	return out, nil
}

// PlaceOrder submits a new order and returns the exchange's view of it.
func (c *Client) PlaceOrder(ctx context.Context, req domain.OrderRequest) (*domain.Order, error) {
	params := url.Values{}
	params.Set("symbol", NativeSymbol(req.Symbol))
	params.Set("side", req.Side)
	params.Set("type", req.Type)
	params.Set("quantity", req.Quantity.String())
	params.Set("newClientOrderId", req.ClientOrderID)
	params.Set("newOrderRespType", "RESULT")
	if req.Type == domain.OrderTypeLimit {
		params.Set("price", req.Price.String())
		params.Set("timeInForce", "GTC")
	}

	var raw restOrder
	if err := c.signedCall(ctx, http.MethodPost, "/api/v3/order", params, &raw); err != nil {
		return nil, fmt.Errorf("place order: %w", err)
	}

	order := c.toOrder(raw)
	order.Symbol = req.Symbol
	return order, nil
}

// CancelOrder cancels an order and returns its final representation.
func (c *Client) CancelOrder(ctx context.Context, symbol domain.Symbol, orderID string) (*domain.Order, error) {
	params := url.Values{}
	params.Set("symbol", NativeSymbol(symbol))
	params.Set("orderId", orderID)

	var raw restOrder
	if err := c.signedCall(ctx, http.MethodDelete, "/api/v3/order", params, &raw); err != nil {
		return nil, fmt.Errorf("cancel order %s: %w", orderID, err)
	}

	order := c.toOrder(raw)
	order.Symbol = symbol
	return order, nil
}

// FetchOrder queries one order by id.
func (c *Client) FetchOrder(ctx context.Context, symbol domain.Symbol, orderID string) (*domain.Order, error) {
	params := url.Values{}
	params.Set("symbol", NativeSymbol(symbol))
	params.Set("orderId", orderID)

	var raw restOrder
	if err := c.get(ctx, "/api/v3/order", params, true, &raw); err != nil {
		return nil, err
	}

	order := c.toOrder(raw)
	order.Symbol = symbol
	return order, nil
}

// Withdraw submits a withdrawal and returns the exchange withdrawal id.
func (c *Client) Withdraw(ctx context.Context, req domain.WithdrawRequest) (string, error) {
	params := url.Values{}
	params.Set("coin", req.Asset)
	params.Set("amount", req.Amount.String())
	params.Set("address", req.Address)
	if req.Network != "" {
		params.Set("network", req.Network)
	}

	var resp struct {
		ID string `json:"id"`
	}
	if err := c.signedCall(ctx, http.MethodPost, "/sapi/v1/capital/withdraw/apply", params, &resp); err != nil {
		return "", err
	}
	return resp.ID, nil
}

// CreateListenKey opens a user data stream.
func (c *Client) CreateListenKey(ctx context.Context) (string, error) {
	var resp listenKeyResponse
	if err := c.keyedCall(ctx, http.MethodPost, "/api/v3/userDataStream", &resp); err != nil {
		return "", fmt.Errorf("create listen key: %w", err)
	}
	return resp.ListenKey, nil
}

// KeepAliveListenKey extends a user data stream's validity.
func (c *Client) KeepAliveListenKey(ctx context.Context, listenKey string) error {
	path := "/api/v3/userDataStream?listenKey=" + url.QueryEscape(listenKey)
	return c.keyedCall(ctx, http.MethodPut, path, nil)
}

// toOrder converts a REST order payload into the domain model.
func (c *Client) toOrder(r restOrder) *domain.Order {
	clientID := r.ClientOrderID
	if clientID == "" {
		clientID = r.OrigClientOrderID
	}
	created := r.Time
	if created == 0 {
		created = r.TransactTime
	}
	updated := r.UpdateTime
	if updated == 0 {
		updated = r.TransactTime
	}
	return &domain.Order{
		ID:            strconv.FormatInt(r.OrderID, 10),
		ClientOrderID: clientID,
		Side:          r.Side,
		Type:          r.Type,
		Status:        mapOrderStatus(r.Status),
		Price:         parseDecimal(r.Price),
		Quantity:      parseDecimal(r.OrigQty),
		FilledQty:     parseDecimal(r.ExecutedQty),
		CreatedAt:     created,
		UpdatedAt:     updated,
	}
}

// get performs a GET request, signed when signed is true.
func (c *Client) get(ctx context.Context, path string, params url.Values, signed bool, out interface{}) error {
	query := ""
	if params != nil {
		query = params.Encode()
	}
	if signed {
		query = c.signer.SignQuery(query)
	}
	reqURL := c.baseURL + path
	if query != "" {
		reqURL += "?" + query
	}
	return c.do(ctx, http.MethodGet, reqURL, signed, out)
}

// signedCall performs a signed non-GET request with the parameters in
// the query string, which is how the exchange expects trading calls.
func (c *Client) signedCall(ctx context.Context, method, path string, params url.Values, out interface{}) error {
	query := c.signer.SignQuery(params.Encode())
	return c.do(ctx, method, c.baseURL+path+"?"+query, true, out)
}

// keyedCall performs a request that needs the API key header only.
func (c *Client) keyedCall(ctx context.Context, method, path string, out interface{}) error {
	return c.do(ctx, method, c.baseURL+path, true, out)
}

func (c *Client) do(ctx context.Context, method, reqURL string, keyed bool, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, reqURL, nil)
	if err != nil {
		return err
	}
	if keyed {
		req.Header.Set("X-MBX-APIKEY", c.signer.APIKey())
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.NewNetworkError(method+" "+reqURL, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.NewNetworkError("read body", err)
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr apiError
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Code != 0 {
			if apiErr.Code == orderNotFoundCode {
				return domain.ErrOrderNotFound
			}
			return fmt.Errorf("binance api error: code=%d msg=%s", apiErr.Code, apiErr.Msg)
		}
		// 5xx and 429 are worth retrying, 4xx generally not.
		err := fmt.Errorf("binance http error: status=%d body=%s", resp.StatusCode, string(body))
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return domain.NewNetworkError("http "+strconv.Itoa(resp.StatusCode), err)
		}
		return err
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}
