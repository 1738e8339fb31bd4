// Package bybitclient implements ports.ExchangeClient for Bybit
// linear perpetuals over the signed V5 REST API.
//
// There is no venue-specific bypass here: all requests go through one
// signed client with rate-limit awareness. Sandbox mode substitutes the
// testnet base URL, which is Bybit's own sandbox mechanism.
package bybitclient

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

	"golang.org/x/time/rate"

	"tradebridge/internal/domain"
	"tradebridge/internal/ports"
)

const (
	baseURLProduction = "https://api.bybit.com"
	baseURLTestnet    = "https://api-testnet.bybit.com"

	category   = "linear"
	recvWindow = "5000"

	defaultQtyStep  = "0.001"
	defaultMinQty   = "0.001"
	defaultTickSize = "0.01"
)

// Client implements the ports.ExchangeClient interface for Bybit.
type Client struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     ports.Logger
	apiKey     string
	secretKey  string
	baseURL    string

	rulesMu    sync.RWMutex
	rulesCache map[string]*ports.SymbolRules
}

// Config holds configuration specific to the Bybit client adapter.
type Config struct {
	APIKey      string
	SecretKey   string
	UseTestnet  bool
	Logger      ports.Logger
	HTTPTimeout time.Duration // Default 10s
	RateLimit   rate.Limit    // Requests per second, default 10
}

// New creates a new Bybit client adapter.
func New(cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for Bybit client")
	}
	if cfg.APIKey == "" || cfg.SecretKey == "" {
		cfg.Logger.Warn(context.Background(), "APIKey or SecretKey is empty. Client will only work for public endpoints.")
	}

	baseURL := baseURLProduction
	if cfg.UseTestnet {
		baseURL = baseURLTestnet
	}
	cfg.Logger.Info(context.Background(), "Bybit client configured", map[string]interface{}{
		"baseURL": baseURL,
		"testnet": cfg.UseTestnet,
	})

	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	limit := cfg.RateLimit
	if limit <= 0 {
		limit = 10
	}

	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(limit, int(limit)),
		logger:     cfg.Logger,
		apiKey:     cfg.APIKey,
		secretKey:  cfg.SecretKey,
		baseURL:    baseURL,
		rulesCache: make(map[string]*ports.SymbolRules),
	}, nil
}

// envelope is the common Bybit V5 response wrapper.
type envelope struct {
	RetCode int             `json:"retCode"`
	RetMsg  string          `json:"retMsg"`
	Result  json.RawMessage `json:"result"`
}

// sign computes the V5 request signature:
// HMAC-SHA256(timestamp + apiKey + recvWindow + payload).
func (c *Client) sign(timestamp, payload string) string {
	mac := hmac.New(sha256.New, []byte(c.secretKey))
	mac.Write([]byte(timestamp + c.apiKey + recvWindow + payload))
	return hex.EncodeToString(mac.Sum(nil))
}

// do issues a request against the V5 API. GET parameters are signed as
// the encoded query string; POST bodies are signed as raw JSON. The
// rate limiter gates every request.
func (c *Client) do(ctx context.Context, method, path string, params url.Values, body interface{}, signed bool) (json.RawMessage, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: %w", ports.ErrContextCanceled, err)
	}

	var payload string
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		payload = string(raw)
		reader = strings.NewReader(payload)
	} else if len(params) > 0 {
		payload = params.Encode()
	}

	u := c.baseURL + path
	if body == nil && payload != "" {
		u += "?" + payload
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to build request for %s: %w", path, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if signed {
		timestamp := strconv.FormatInt(time.Now().UnixMilli(), 10)
		req.Header.Set("X-BAPI-API-KEY", c.apiKey)
		req.Header.Set("X-BAPI-TIMESTAMP", timestamp)
		req.Header.Set("X-BAPI-RECV-WINDOW", recvWindow)
		req.Header.Set("X-BAPI-SIGN", c.sign(timestamp, payload))
	}

	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response from %s: %w", path, err)
	}
	if res.StatusCode >= 400 {
		return nil, fmt.Errorf("%w: status %d: %s", ports.ErrExchangeResponse, res.StatusCode, string(raw))
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: could not decode response: %v", ports.ErrExchangeResponse, err)
	}
	if env.RetCode != 0 {
		return nil, &apiError{Code: env.RetCode, Message: env.RetMsg}
	}
	return env.Result, nil
}

// apiError is a Bybit business-level error (retCode != 0).
type apiError struct {
	Code    int
	Message string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("bybit api error %d: %s", e.Code, e.Message)
}

// handleError translates Bybit API errors into standardized ports errors.
func (c *Client) handleError(ctx context.Context, err error, operation string) error {
	if err == nil {
		return nil
	}

	fields := map[string]interface{}{"operation": operation, "originalError": err.Error()}

	var apiErr *apiError
	if errors.As(err, &apiErr) {
		fields["retCode"] = apiErr.Code
		fields["retMsg"] = apiErr.Message

		var mappedErr error
		switch apiErr.Code {
		case 10002: // Request not authorized within recv window
			mappedErr = ports.ErrTimeout
		case 10003, 10004, 33004: // Invalid key / signature / expired key
			mappedErr = ports.ErrInvalidAPIKeys
		case 10006, 10018: // Rate limits
			mappedErr = ports.ErrRateLimited
		case 110004, 110007, 110012: // Insufficient balance/margin
			mappedErr = ports.ErrInsufficientFunds
		case 110001: // Order does not exist
			mappedErr = ports.ErrOrderCancelFailed
		case 110017: // Reduce-only rule violated
			mappedErr = ports.ErrOrderPlacementFailed
		case 10001: // Parameter error
			mappedErr = ports.ErrInvalidRequest
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

// sideString maps a domain side onto Bybit's capitalized form.
func sideString(side domain.OrderSide) string {
	if side == domain.Buy {
		return "Buy"
	}
	return "Sell"
}

// PlaceMarketOrder submits a market order and returns its details.
// Bybit does not report the fill price in the create response, so
// AvgPrice is zero and callers fall back to their own price source.
func (c *Client) PlaceMarketOrder(ctx context.Context, order ports.MarketOrder) (*ports.OrderResponse, error) {
	op := "PlaceMarketOrder"
	req := map[string]interface{}{
		"category":  category,
		"symbol":    order.Symbol,
		"side":      sideString(order.Side),
		"orderType": "Market",
		"qty":       order.Quantity,
	}
	if order.ReduceOnly {
		req["reduceOnly"] = true
	}

	result, err := c.do(ctx, http.MethodPost, "/v5/order/create", nil, req, true)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}

	var raw struct {
		OrderID string `json:"orderId"`
	}
	if err := json.Unmarshal(result, &raw); err != nil {
		return nil, c.handleError(ctx, fmt.Errorf("could not decode order response: %w", err), op)
	}

	origQty, _ := strconv.ParseFloat(order.Quantity, 64)
	resp := &ports.OrderResponse{
		OrderID:      raw.OrderID,
		Symbol:       order.Symbol,
		OrigQuantity: origQty,
		Status:       "NEW",
		Side:         string(order.Side),
		Timestamp:    time.Now(),
	}
	c.logger.Info(ctx, op+" successful", map[string]interface{}{
		"symbol":   order.Symbol,
		"side":     order.Side,
		"quantity": order.Quantity,
		"orderID":  resp.OrderID,
	})
	return resp, nil
}

// CancelAllOrders cancels every resting order for the symbol.
func (c *Client) CancelAllOrders(ctx context.Context, symbol string) error {
	op := "CancelAllOrders"
	req := map[string]interface{}{
		"category": category,
		"symbol":   symbol,
	}
	if _, err := c.do(ctx, http.MethodPost, "/v5/order/cancel-all", nil, req, true); err != nil {
		return c.handleError(ctx, err, op)
	}
	c.logger.Info(ctx, op+" successful", map[string]interface{}{"symbol": symbol})
	return nil
}

// GetOpenPositionSize returns the authoritative open position size.
// Short positions are reported negative.
func (c *Client) GetOpenPositionSize(ctx context.Context, symbol string) (float64, error) {
	op := "GetOpenPositionSize"
	params := url.Values{}
	params.Set("category", category)
	params.Set("symbol", symbol)

	result, err := c.do(ctx, http.MethodGet, "/v5/position/list", params, nil, true)
	if err != nil {
		return 0, c.handleError(ctx, err, op)
	}

	var raw struct {
		List []struct {
			Symbol string `json:"symbol"`
			Side   string `json:"side"`
			Size   string `json:"size"`
		} `json:"list"`
	}
	if err := json.Unmarshal(result, &raw); err != nil {
		return 0, c.handleError(ctx, fmt.Errorf("could not decode position response: %w", err), op)
	}

	for _, p := range raw.List {
		if p.Symbol != symbol || p.Size == "" {
			continue
		}
		size, err := strconv.ParseFloat(p.Size, 64)
		if err != nil {
			return 0, c.handleError(ctx, fmt.Errorf("could not parse position size '%s': %w", p.Size, err), op)
		}
		if p.Side == "Sell" {
			size = -size
		}
		return size, nil
	}
	return 0, nil
}

// GetCurrentPrice returns the last traded price for the symbol.
func (c *Client) GetCurrentPrice(ctx context.Context, symbol string) (float64, error) {
	op := "GetCurrentPrice"
	params := url.Values{}
	params.Set("category", category)
	params.Set("symbol", symbol)

	result, err := c.do(ctx, http.MethodGet, "/v5/market/tickers", params, nil, false)
	if err != nil {
		return 0, c.handleError(ctx, err, op)
	}

	var raw struct {
		List []struct {
			LastPrice string `json:"lastPrice"`
		} `json:"list"`
	}
	if err := json.Unmarshal(result, &raw); err != nil {
		return 0, c.handleError(ctx, fmt.Errorf("could not decode ticker response: %w", err), op)
	}
	if len(raw.List) == 0 {
		return 0, c.handleError(ctx, fmt.Errorf("no ticker data returned for symbol %s", symbol), op)
	}
	price, err := strconv.ParseFloat(raw.List[0].LastPrice, 64)
	if err != nil {
		return 0, c.handleError(ctx, fmt.Errorf("could not parse price '%s': %w", raw.List[0].LastPrice, err), op)
	}
	return price, nil
}

// GetAccountBalance retrieves the available balance for a specific coin.
func (c *Client) GetAccountBalance(ctx context.Context, asset string) (float64, error) {
	op := "GetAccountBalance"
	params := url.Values{}
	params.Set("accountType", "UNIFIED")
	params.Set("coin", asset)

	result, err := c.do(ctx, http.MethodGet, "/v5/account/wallet-balance", params, nil, true)
	if err != nil {
		return 0, c.handleError(ctx, err, op)
	}

	var raw struct {
		List []struct {
			Coin []struct {
				Coin          string `json:"coin"`
				WalletBalance string `json:"walletBalance"`
			} `json:"coin"`
		} `json:"list"`
	}
	if err := json.Unmarshal(result, &raw); err != nil {
		return 0, c.handleError(ctx, fmt.Errorf("could not decode balance response: %w", err), op)
	}
	for _, acc := range raw.List {
		for _, coin := range acc.Coin {
			if coin.Coin == asset {
				balance, err := strconv.ParseFloat(coin.WalletBalance, 64)
				if err != nil {
					return 0, c.handleError(ctx, fmt.Errorf("could not parse balance '%s': %w", coin.WalletBalance, err), op)
				}
				return balance, nil
			}
		}
	}
	return 0, nil
}

// GetSymbolRules returns the lot-size and tick rules from the
// instruments-info endpoint. Results are cached for the client's
// lifetime; defaults are returned when the metadata is unavailable.
func (c *Client) GetSymbolRules(ctx context.Context, symbol string) (*ports.SymbolRules, error) {
	op := "GetSymbolRules"

	c.rulesMu.RLock()
	cached, ok := c.rulesCache[symbol]
	c.rulesMu.RUnlock()
	if ok {
		return cached, nil
	}

	params := url.Values{}
	params.Set("category", category)
	params.Set("symbol", symbol)

	result, err := c.do(ctx, http.MethodGet, "/v5/market/instruments-info", params, nil, false)
	if err != nil {
		c.logger.Warn(ctx, op+": instruments info unavailable, using defaults", map[string]interface{}{
			"symbol": symbol,
			"error":  err.Error(),
		})
		return defaultRules(symbol), nil
	}

	var raw struct {
		List []struct {
			LotSizeFilter struct {
				QtyStep     string `json:"qtyStep"`
				MinOrderQty string `json:"minOrderQty"`
			} `json:"lotSizeFilter"`
			PriceFilter struct {
				TickSize string `json:"tickSize"`
			} `json:"priceFilter"`
		} `json:"list"`
	}
	if err := json.Unmarshal(result, &raw); err != nil || len(raw.List) == 0 {
		c.logger.Warn(ctx, op+": could not decode instruments info, using defaults", map[string]interface{}{"symbol": symbol})
		return defaultRules(symbol), nil
	}

	rules := defaultRules(symbol)
	if raw.List[0].LotSizeFilter.QtyStep != "" {
		rules.QtyStep = raw.List[0].LotSizeFilter.QtyStep
	}
	if raw.List[0].LotSizeFilter.MinOrderQty != "" {
		rules.MinQty = raw.List[0].LotSizeFilter.MinOrderQty
	}
	if raw.List[0].PriceFilter.TickSize != "" {
		rules.TickSize = raw.List[0].PriceFilter.TickSize
	}

	c.rulesMu.Lock()
	c.rulesCache[symbol] = rules
	c.rulesMu.Unlock()
	return rules, nil
}

func defaultRules(symbol string) *ports.SymbolRules {
	return &ports.SymbolRules{
		Symbol:   symbol,
		QtyStep:  defaultQtyStep,
		MinQty:   defaultMinQty,
		TickSize: defaultTickSize,
	}
}
