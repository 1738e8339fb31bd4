// Package binanceclient implements ports.ExchangeClient for Binance
// USDT-M futures.
//
// Two request paths exist. The default path goes through the go-binance
// futures client. The testnet sandbox has a history of rejecting
// requests issued through the generic client, so when UseTestnet is set
// every authenticated call is issued directly: an HMAC-SHA256 signature
// over the exact query string, submitted with the API key in the
// X-MBX-APIKEY header. Public market data on testnet uses the
// unauthenticated ticker endpoint; no credentials are involved.
package binanceclient

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"

	"tradebridge/internal/ports"
)

const (
	baseURLProduction = "https://fapi.binance.com"
	baseURLTestnet    = "https://testnet.binancefuture.com"

	defaultQtyStep  = "0.001"
	defaultMinQty   = "0.001"
	defaultTickSize = "0.01"
)

// Client implements the ports.ExchangeClient interface for Binance.
type Client struct {
	futuresClient *futures.Client
	httpClient    *http.Client
	logger        ports.Logger
	apiKey        string
	secretKey     string
	useTestnet    bool
	baseURL       string

	rulesMu    sync.RWMutex
	rulesCache map[string]*ports.SymbolRules
}

// Config holds configuration specific to the Binance client adapter.
type Config struct {
	APIKey      string
	SecretKey   string
	UseTestnet  bool
	Logger      ports.Logger
	HTTPTimeout time.Duration // Timeout for the direct signed path (default 10s)
}

// New creates a new Binance client adapter.
func New(cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for Binance client")
	}
	if cfg.APIKey == "" || cfg.SecretKey == "" {
		cfg.Logger.Warn(context.Background(), "APIKey or SecretKey is empty. Client will only work for public endpoints.")
	}

	client := futures.NewClient(cfg.APIKey, cfg.SecretKey)
	baseURL := baseURLProduction
	if cfg.UseTestnet {
		baseURL = baseURLTestnet
	}
	client.BaseURL = baseURL
	cfg.Logger.Info(context.Background(), "Binance client configured", map[string]interface{}{
		"baseURL": baseURL,
		"testnet": cfg.UseTestnet,
	})

	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &Client{
		futuresClient: client,
		httpClient:    &http.Client{Timeout: timeout},
		logger:        cfg.Logger,
		apiKey:        cfg.APIKey,
		secretKey:     cfg.SecretKey,
		useTestnet:    cfg.UseTestnet,
		baseURL:       baseURL,
		rulesCache:    make(map[string]*ports.SymbolRules),
	}, nil
}

// handleError translates common Binance API errors into standardized ports errors.
func (c *Client) handleError(ctx context.Context, err error, operation string) error {
	if err == nil {
		return nil
	}

	fields := map[string]interface{}{"operation": operation, "originalError": err.Error()}

	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		fields["apiErrorCode"] = apiErr.Code
		fields["apiErrorMessage"] = apiErr.Message

		var mappedErr error
		switch apiErr.Code {
		case -1003:
			mappedErr = ports.ErrRateLimited
		case -1021:
			mappedErr = ports.ErrTimeout
		case -1022:
			mappedErr = ports.ErrAuthenticationFailed
		case -1102, -1104, -1111, -1116, -1117, -1121, -4003, -4014:
			mappedErr = ports.ErrInvalidRequest
		case -2010, -2022:
			mappedErr = ports.ErrOrderPlacementFailed
		case -2011:
			mappedErr = ports.ErrOrderCancelFailed
		case -2014, -2015:
			mappedErr = ports.ErrInvalidAPIKeys
		case -2019, -3005, -3041:
			mappedErr = ports.ErrInsufficientFunds
		case -4044:
			mappedErr = ports.ErrPositionNotFound
		default:
			mappedErr = ports.ErrExchangeResponse
		}
		finalErr := fmt.Errorf("%s failed: %w: %w", operation, mappedErr, err)
		c.logger.Error(ctx, err, fmt.Sprintf("%s failed with API error", operation), fields)
		return finalErr
	}

	var finalErr error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrTimeout, err)
	case errors.Is(err, context.Canceled):
		finalErr = fmt.Errorf("%s canceled: %w: %w", operation, ports.ErrContextCanceled, err)
	case strings.Contains(err.Error(), "connection refused"),
		strings.Contains(err.Error(), "connection reset by peer"),
		strings.Contains(err.Error(), "no such host"):
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrConnectionFailed, err)
	default:
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrUnknown, err)
	}

	c.logger.Error(ctx, err, fmt.Sprintf("%s failed", operation), fields)
	return finalErr
}

// --- Direct signed path (testnet bypass) ---

// sign computes the HMAC-SHA256 signature over the exact query string.
func (c *Client) sign(queryString string) string {
	mac := hmac.New(sha256.New, []byte(c.secretKey))
	mac.Write([]byte(queryString))
	return hex.EncodeToString(mac.Sum(nil))
}

// doSigned issues a signed request on the direct path. Parameters are
// encoded into a query string, a millisecond timestamp is appended, and
// the signature over that exact string is added as the final parameter.
// POST requests carry the signed string as a form body; other methods
// carry it in the URL.
func (c *Client) doSigned(ctx context.Context, method, path string, params url.Values) ([]byte, error) {
	if params == nil {
		params = url.Values{}
	}
	params.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
	queryString := params.Encode()
	signed := queryString + "&signature=" + c.sign(queryString)

	var req *http.Request
	var err error
	if method == http.MethodPost {
		req, err = http.NewRequestWithContext(ctx, method, c.baseURL+path, strings.NewReader(signed))
		if err == nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	} else {
		req, err = http.NewRequestWithContext(ctx, method, c.baseURL+path+"?"+signed, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to build request for %s: %w", path, err)
	}
	req.Header.Set("X-MBX-APIKEY", c.apiKey)

	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response from %s: %w", path, err)
	}

	if res.StatusCode >= 400 {
		// Binance errors carry {"code": ..., "msg": ...}; surface them as
		// an APIError so handleError maps them like the generic path.
		var apiErr common.APIError
		if jsonErr := json.Unmarshal(body, &apiErr); jsonErr == nil && apiErr.Code != 0 {
			return nil, &apiErr
		}
		return nil, fmt.Errorf("%w: status %d: %s", ports.ErrExchangeResponse, res.StatusCode, string(body))
	}

	return body, nil
}

// doPublic issues an unauthenticated request on the direct path.
func (c *Client) doPublic(ctx context.Context, path string, params url.Values) ([]byte, error) {
	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request for %s: %w", path, err)
	}

	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response from %s: %w", path, err)
	}
	if res.StatusCode >= 400 {
		return nil, fmt.Errorf("%w: status %d: %s", ports.ErrExchangeResponse, res.StatusCode, string(body))
	}
	return body, nil
}

// --- ports.ExchangeClient implementation ---

// PlaceMarketOrder submits a market order and returns its fill details.
func (c *Client) PlaceMarketOrder(ctx context.Context, order ports.MarketOrder) (*ports.OrderResponse, error) {
	op := "PlaceMarketOrder"
	if c.useTestnet {
		return c.placeMarketOrderSigned(ctx, order)
	}

	svc := c.futuresClient.NewCreateOrderService().
		Symbol(order.Symbol).
		Side(futures.SideType(order.Side)).
		Type(futures.OrderTypeMarket).
		Quantity(order.Quantity)
	if order.ReduceOnly {
		svc = svc.ReduceOnly(true)
	}

	res, err := svc.Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}

	resp := translateOrderResponse(res)
	c.logger.Info(ctx, op+" successful", map[string]interface{}{
		"symbol":   order.Symbol,
		"side":     order.Side,
		"quantity": order.Quantity,
		"orderID":  resp.OrderID,
		"avgPrice": resp.AvgPrice,
	})
	return resp, nil
}

// placeMarketOrderSigned places an order through the direct signed path.
func (c *Client) placeMarketOrderSigned(ctx context.Context, order ports.MarketOrder) (*ports.OrderResponse, error) {
	op := "PlaceMarketOrder(signed)"
	params := url.Values{}
	params.Set("symbol", order.Symbol)
	params.Set("side", string(order.Side))
	params.Set("type", "MARKET")
	params.Set("quantity", order.Quantity)
	if order.ReduceOnly {
		params.Set("reduceOnly", "true")
	}

	body, err := c.doSigned(ctx, http.MethodPost, "/fapi/v1/order", params)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}

	var raw struct {
		OrderID     int64  `json:"orderId"`
		Symbol      string `json:"symbol"`
		Status      string `json:"status"`
		Price       string `json:"price"`
		AvgPrice    string `json:"avgPrice"`
		OrigQty     string `json:"origQty"`
		ExecutedQty string `json:"executedQty"`
		Side        string `json:"side"`
		UpdateTime  int64  `json:"updateTime"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, c.handleError(ctx, fmt.Errorf("could not decode order response: %w", err), op)
	}

	price, _ := strconv.ParseFloat(raw.Price, 64)
	avgPrice, _ := strconv.ParseFloat(raw.AvgPrice, 64)
	origQty, _ := strconv.ParseFloat(raw.OrigQty, 64)
	execQty, _ := strconv.ParseFloat(raw.ExecutedQty, 64)

	resp := &ports.OrderResponse{
		OrderID:      strconv.FormatInt(raw.OrderID, 10),
		Symbol:       raw.Symbol,
		Price:        price,
		AvgPrice:     avgPrice,
		OrigQuantity: origQty,
		ExecutedQty:  execQty,
		Status:       raw.Status,
		Side:         raw.Side,
		Timestamp:    time.UnixMilli(raw.UpdateTime),
	}
	c.logger.Info(ctx, op+" successful", map[string]interface{}{
		"symbol":  order.Symbol,
		"side":    order.Side,
		"orderID": resp.OrderID,
	})
	return resp, nil
}

// CancelAllOrders cancels every resting order for the symbol.
func (c *Client) CancelAllOrders(ctx context.Context, symbol string) error {
	op := "CancelAllOrders"
	if c.useTestnet {
		params := url.Values{}
		params.Set("symbol", symbol)
		if _, err := c.doSigned(ctx, http.MethodDelete, "/fapi/v1/allOpenOrders", params); err != nil {
			return c.handleError(ctx, err, op+"(signed)")
		}
		c.logger.Info(ctx, op+" successful", map[string]interface{}{"symbol": symbol})
		return nil
	}

	if err := c.futuresClient.NewCancelAllOpenOrdersService().Symbol(symbol).Do(ctx); err != nil {
		return c.handleError(ctx, err, op)
	}
	c.logger.Info(ctx, op+" successful", map[string]interface{}{"symbol": symbol})
	return nil
}

// GetOpenPositionSize returns the venue's authoritative open position
// size for the symbol. Zero means no open position.
func (c *Client) GetOpenPositionSize(ctx context.Context, symbol string) (float64, error) {
	op := "GetOpenPositionSize"
	if c.useTestnet {
		params := url.Values{}
		params.Set("symbol", symbol)
		body, err := c.doSigned(ctx, http.MethodGet, "/fapi/v2/positionRisk", params)
		if err != nil {
			return 0, c.handleError(ctx, err, op+"(signed)")
		}
		var positions []struct {
			Symbol      string `json:"symbol"`
			PositionAmt string `json:"positionAmt"`
		}
		if err := json.Unmarshal(body, &positions); err != nil {
			return 0, c.handleError(ctx, fmt.Errorf("could not decode position response: %w", err), op)
		}
		for _, p := range positions {
			if p.Symbol == symbol {
				amt, err := strconv.ParseFloat(p.PositionAmt, 64)
				if err != nil {
					return 0, c.handleError(ctx, fmt.Errorf("could not parse position amount '%s': %w", p.PositionAmt, err), op)
				}
				return amt, nil
			}
		}
		return 0, nil
	}

	positions, err := c.futuresClient.NewGetPositionRiskService().Symbol(symbol).Do(ctx)
	if err != nil {
		return 0, c.handleError(ctx, err, op)
	}
	for _, p := range positions {
		if p.Symbol == symbol {
			amt, err := strconv.ParseFloat(p.PositionAmt, 64)
			if err != nil {
				return 0, c.handleError(ctx, fmt.Errorf("could not parse position amount '%s': %w", p.PositionAmt, err), op)
			}
			return amt, nil
		}
	}
	return 0, nil
}

// GetCurrentPrice returns the last traded price for the symbol. On
// testnet this uses the dedicated unauthenticated ticker endpoint; the
// signed path is not needed for public market data.
func (c *Client) GetCurrentPrice(ctx context.Context, symbol string) (float64, error) {
	op := "GetCurrentPrice"
	if c.useTestnet {
		params := url.Values{}
		params.Set("symbol", symbol)
		body, err := c.doPublic(ctx, "/fapi/v1/ticker/price", params)
		if err != nil {
			return 0, c.handleError(ctx, err, op)
		}
		var ticker struct {
			Price string `json:"price"`
		}
		if err := json.Unmarshal(body, &ticker); err != nil {
			return 0, c.handleError(ctx, fmt.Errorf("could not decode ticker response: %w", err), op)
		}
		price, err := strconv.ParseFloat(ticker.Price, 64)
		if err != nil {
			return 0, c.handleError(ctx, fmt.Errorf("could not parse price '%s': %w", ticker.Price, err), op)
		}
		return price, nil
	}

	prices, err := c.futuresClient.NewListPricesService().Symbol(symbol).Do(ctx)
	if err != nil {
		return 0, c.handleError(ctx, err, op)
	}
	if len(prices) == 0 {
		return 0, c.handleError(ctx, fmt.Errorf("no price data returned for symbol %s", symbol), op)
	}
	price, err := strconv.ParseFloat(prices[0].Price, 64)
	if err != nil {
		return 0, c.handleError(ctx, fmt.Errorf("could not parse price '%s': %w", prices[0].Price, err), op)
	}
	return price, nil
}

// GetAccountBalance retrieves the available balance for a specific asset.
func (c *Client) GetAccountBalance(ctx context.Context, asset string) (float64, error) {
	op := "GetAccountBalance"
	if c.useTestnet {
		body, err := c.doSigned(ctx, http.MethodGet, "/fapi/v2/balance", nil)
		if err != nil {
			return 0, c.handleError(ctx, err, op+"(signed)")
		}
		var balances []struct {
			Asset            string `json:"asset"`
			AvailableBalance string `json:"availableBalance"`
		}
		if err := json.Unmarshal(body, &balances); err != nil {
			return 0, c.handleError(ctx, fmt.Errorf("could not decode balance response: %w", err), op)
		}
		for _, b := range balances {
			if b.Asset == asset {
				balance, err := strconv.ParseFloat(b.AvailableBalance, 64)
				if err != nil {
					return 0, c.handleError(ctx, fmt.Errorf("could not parse balance '%s': %w", b.AvailableBalance, err), op)
				}
				return balance, nil
			}
		}
		return 0, nil
	}

	account, err := c.futuresClient.NewGetAccountService().Do(ctx)
	if err != nil {
		return 0, c.handleError(ctx, err, op)
	}
	for _, bal := range account.Assets {
		if bal.Asset == asset {
			balance, err := strconv.ParseFloat(bal.AvailableBalance, 64)
			if err != nil {
				return 0, c.handleError(ctx, fmt.Errorf("could not parse balance '%s' for asset %s: %w", bal.AvailableBalance, asset, err), op)
			}
			return balance, nil
		}
	}
	return 0, nil
}

// GetSymbolRules returns the lot-size and tick rules for the symbol from
// exchange metadata. Results are cached for the client's lifetime; when
// the metadata is unavailable, conservative defaults are returned.
func (c *Client) GetSymbolRules(ctx context.Context, symbol string) (*ports.SymbolRules, error) {
	op := "GetSymbolRules"

	c.rulesMu.RLock()
	cached, ok := c.rulesCache[symbol]
	c.rulesMu.RUnlock()
	if ok {
		return cached, nil
	}

	// The exchange info endpoint is public, so the generic client is safe
	// to use here even on testnet.
	info, err := c.futuresClient.NewExchangeInfoService().Do(ctx)
	if err != nil {
		c.logger.Warn(ctx, op+": exchange info unavailable, using defaults", map[string]interface{}{
			"symbol": symbol,
			"error":  err.Error(),
		})
		return defaultRules(symbol), nil
	}

	for i := range info.Symbols {
		s := &info.Symbols[i]
		if s.Symbol != symbol {
			continue
		}
		rules := defaultRules(symbol)
		if lot := s.LotSizeFilter(); lot != nil {
			rules.QtyStep = lot.StepSize
			rules.MinQty = lot.MinQuantity
		}
		if pf := s.PriceFilter(); pf != nil {
			rules.TickSize = pf.TickSize
		}
		c.rulesMu.Lock()
		c.rulesCache[symbol] = rules
		c.rulesMu.Unlock()
		return rules, nil
	}

	c.logger.Warn(ctx, op+": symbol not in exchange info, using defaults", map[string]interface{}{"symbol": symbol})
	return defaultRules(symbol), nil
}

func defaultRules(symbol string) *ports.SymbolRules {
	return &ports.SymbolRules{
		Symbol:   symbol,
		QtyStep:  defaultQtyStep,
		MinQty:   defaultMinQty,
		TickSize: defaultTickSize,
	}
}

// --- Translation Helpers ---

func translateOrderResponse(order *futures.CreateOrderResponse) *ports.OrderResponse {
	if order == nil {
		return nil
	}
	price, _ := strconv.ParseFloat(order.Price, 64)
	avgPrice, _ := strconv.ParseFloat(order.AvgPrice, 64)
	origQty, _ := strconv.ParseFloat(order.OrigQuantity, 64)
	execQty, _ := strconv.ParseFloat(order.ExecutedQuantity, 64)

	return &ports.OrderResponse{
		OrderID:      strconv.FormatInt(order.OrderID, 10),
		Symbol:       order.Symbol,
		Price:        price,
		AvgPrice:     avgPrice,
		OrigQuantity: origQty,
		ExecutedQty:  execQty,
		Status:       string(order.Status),
		Side:         string(order.Side),
		Timestamp:    time.UnixMilli(order.UpdateTime),
	}
}
