package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"scalp-trading-bot/internal/logging"
)

// unreachableThreshold is the number of consecutive transport failures after
// which errors escalate to KindUnreachable.
const unreachableThreshold = 5

// BinanceGateway is the spot REST adapter.
type BinanceGateway struct {
	apiKey     string
	secretKey  string
	baseURL    string
	recvWindow int
	httpClient *http.Client
	bucket     *TokenBucket
	failures   atomic.Int64
	logger     zerolog.Logger
}

// BinanceConfig holds adapter settings.
type BinanceConfig struct {
	APIKey       string
	SecretKey    string
	BaseURL      string
	RecvWindowMs int
}

// NewBinanceGateway creates the REST adapter with a 5s connect / 10s read
// timeout and a global token bucket.
func NewBinanceGateway(cfg BinanceConfig) *BinanceGateway {
	transport := &http.Transport{
		DialContext:         (&net.Dialer{Timeout: 5 * time.Second}).DialContext,
		TLSHandshakeTimeout: 5 * time.Second,
		MaxIdleConnsPerHost: 8,
	}
	recvWindow := cfg.RecvWindowMs
	if recvWindow == 0 {
		recvWindow = 5000
	}
	return &BinanceGateway{
		apiKey:     cfg.APIKey,
		secretKey:  cfg.SecretKey,
		baseURL:    cfg.BaseURL,
		recvWindow: recvWindow,
		httpClient: &http.Client{Timeout: 10 * time.Second, Transport: transport},
		bucket:     NewTokenBucket(40, 20),
		logger:     logging.Component("binance"),
	}
}

// PlaceOrder submits an order and normalizes the response.
func (g *BinanceGateway) PlaceOrder(ctx context.Context, req OrderRequest) (*Order, error) {
	if req.Quantity.Sign() <= 0 {
		return nil, &APIError{Kind: KindValidation, Message: "order quantity must be positive"}
	}

	params := url.Values{}
	params.Set("symbol", req.Symbol)
	params.Set("side", string(req.Side))
	params.Set("type", string(req.Type))
	params.Set("quantity", req.Quantity.String())
	if req.Type == OrderTypeLimit {
		params.Set("price", req.Price.String())
		params.Set("timeInForce", "GTC")
	}

	var resp binanceOrderResponse
	if err := g.signedRequest(ctx, http.MethodPost, "/api/v3/order", params, &resp); err != nil {
		return nil, err
	}
	return resp.toOrder(), nil
}

// CancelOrder cancels an open order.
func (g *BinanceGateway) CancelOrder(ctx context.Context, symbol string, orderID int64) error {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("orderId", strconv.FormatInt(orderID, 10))
	return g.signedRequest(ctx, http.MethodDelete, "/api/v3/order", params, &struct{}{})
}

// GetOrderStatus fetches a single order.
func (g *BinanceGateway) GetOrderStatus(ctx context.Context, symbol string, orderID int64) (*Order, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("orderId", strconv.FormatInt(orderID, 10))

	var resp binanceOrderResponse
	if err := g.signedRequest(ctx, http.MethodGet, "/api/v3/order", params, &resp); err != nil {
		return nil, err
	}
	return resp.toOrder(), nil
}

// GetTicker fetches the 24h ticker for one symbol.
func (g *BinanceGateway) GetTicker(ctx context.Context, symbol string) (*Ticker, error) {
	params := url.Values{}
	params.Set("symbol", symbol)

	var resp struct {
		Symbol             string `json:"symbol"`
		LastPrice          string `json:"lastPrice"`
		BidPrice           string `json:"bidPrice"`
		AskPrice           string `json:"askPrice"`
		Volume             string `json:"volume"`
		QuoteVolume        string `json:"quoteVolume"`
		PriceChangePercent string `json:"priceChangePercent"`
	}
	if err := g.publicRequest(ctx, "/api/v3/ticker/24hr", params, &resp); err != nil {
		return nil, err
	}

	return &Ticker{
		Symbol:         resp.Symbol,
		LastPrice:      mustDecimal(resp.LastPrice),
		BestBid:        mustDecimal(resp.BidPrice),
		BestAsk:        mustDecimal(resp.AskPrice),
		Volume24h:      mustDecimal(resp.Volume),
		QuoteVolume24h: mustDecimal(resp.QuoteVolume),
		ChangePct24h:   mustDecimal(resp.PriceChangePercent),
		At:             time.Now().UTC(),
	}, nil
}

// GetKlines fetches up to limit candles for strategy evaluation.
func (g *BinanceGateway) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]Kline, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("interval", interval)
	params.Set("limit", strconv.Itoa(limit))

	var raw [][]interface{}
	if err := g.publicRequest(ctx, "/api/v3/klines", params, &raw); err != nil {
		return nil, err
	}

	klines := make([]Kline, 0, len(raw))
	for _, row := range raw {
		if len(row) < 7 {
			continue
		}
		klines = append(klines, Kline{
			OpenTime:  time.UnixMilli(int64(asFloat(row[0]))),
			Open:      mustDecimal(asString(row[1])),
			High:      mustDecimal(asString(row[2])),
			Low:       mustDecimal(asString(row[3])),
			Close:     mustDecimal(asString(row[4])),
			Volume:    mustDecimal(asString(row[5])),
			CloseTime: time.UnixMilli(int64(asFloat(row[6]))),
		})
	}
	return klines, nil
}

// GetBalances fetches the spot account balances.
func (g *BinanceGateway) GetBalances(ctx context.Context) ([]Balance, error) {
	var resp struct {
		Balances []struct {
			Asset  string `json:"asset"`
			Free   string `json:"free"`
			Locked string `json:"locked"`
		} `json:"balances"`
	}
	if err := g.signedRequest(ctx, http.MethodGet, "/api/v3/account", url.Values{}, &resp); err != nil {
		return nil, err
	}

	balances := make([]Balance, 0, len(resp.Balances))
	for _, b := range resp.Balances {
		balances = append(balances, Balance{
			Asset:  b.Asset,
			Free:   mustDecimal(b.Free),
			Locked: mustDecimal(b.Locked),
		})
	}
	return balances, nil
}

// GetServerTime fetches the exchange clock.
func (g *BinanceGateway) GetServerTime(ctx context.Context) (time.Time, error) {
	var resp struct {
		ServerTime int64 `json:"serverTime"`
	}
	if err := g.publicRequest(ctx, "/api/v3/time", url.Values{}, &resp); err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(resp.ServerTime), nil
}

// GetOpenOrders lists open orders for a symbol.
func (g *BinanceGateway) GetOpenOrders(ctx context.Context, symbol string) ([]Order, error) {
	params := url.Values{}
	params.Set("symbol", symbol)

	var resp []binanceOrderResponse
	if err := g.signedRequest(ctx, http.MethodGet, "/api/v3/openOrders", params, &resp); err != nil {
		return nil, err
	}

	orders := make([]Order, 0, len(resp))
	for i := range resp {
		orders = append(orders, *resp[i].toOrder())
	}
	return orders, nil
}

// GetExchangePosition converts the base-asset balance into a synthetic spot
// position.
func (g *BinanceGateway) GetExchangePosition(ctx context.Context, symbol, baseAsset string) (*Position, error) {
	balances, err := g.GetBalances(ctx)
	if err != nil {
		return nil, err
	}
	for _, b := range balances {
		if b.Asset == baseAsset {
			return &Position{Symbol: symbol, BaseAsset: baseAsset, Quantity: b.Total()}, nil
		}
	}
	return &Position{Symbol: symbol, BaseAsset: baseAsset, Quantity: decimal.Zero}, nil
}

// ============================================================================
// TRANSPORT
// ============================================================================

type binanceOrderResponse struct {
	Symbol              string `json:"symbol"`
	OrderID             int64  `json:"orderId"`
	ClientOrderID       string `json:"clientOrderId"`
	TransactTime        int64  `json:"transactTime"`
	Price               string `json:"price"`
	ExecutedQty         string `json:"executedQty"`
	CummulativeQuoteQty string `json:"cummulativeQuoteQty"`
	Status              string `json:"status"`
	Type                string `json:"type"`
	Side                string `json:"side"`
}

func (r *binanceOrderResponse) toOrder() *Order {
	return &Order{
		ExchangeOrderID: r.OrderID,
		ClientOrderID:   r.ClientOrderID,
		Symbol:          r.Symbol,
		Side:            Side(r.Side),
		Type:            OrderType(r.Type),
		Status:          NormalizeStatus(r.Status),
		Price:           mustDecimal(r.Price),
		ExecutedQty:     mustDecimal(r.ExecutedQty),
		QuoteQty:        mustDecimal(r.CummulativeQuoteQty),
		TransactTime:    time.UnixMilli(r.TransactTime),
	}
}

func (g *BinanceGateway) publicRequest(ctx context.Context, path string, params url.Values, out interface{}) error {
	return g.do(ctx, http.MethodGet, path, params, false, out)
}

func (g *BinanceGateway) signedRequest(ctx context.Context, method, path string, params url.Values, out interface{}) error {
	params.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
	params.Set("recvWindow", strconv.Itoa(g.recvWindow))
	params.Set("signature", g.sign(params.Encode()))
	return g.do(ctx, method, path, params, true, out)
}

func (g *BinanceGateway) do(ctx context.Context, method, path string, params url.Values, signed bool, out interface{}) error {
	if ok, retryAfter := g.bucket.TryAcquire(); !ok {
		return NewRateLimitError(retryAfter)
	}

	endpoint := g.baseURL + path
	req, err := http.NewRequestWithContext(ctx, method, endpoint, nil)
	if err != nil {
		return &APIError{Kind: KindValidation, Message: err.Error()}
	}
	req.URL.RawQuery = params.Encode()
	if signed {
		req.Header.Set("X-MBX-APIKEY", g.apiKey)
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return g.transportFailure(err)
	}
	defer resp.Body.Close()
	g.failures.Store(0)

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return g.transportFailure(err)
	}

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusTeapot {
		retryAfter := time.Minute
		if sec, convErr := strconv.Atoi(resp.Header.Get("Retry-After")); convErr == nil && sec > 0 {
			retryAfter = time.Duration(sec) * time.Second
		}
		g.logger.Warn().Int("status", resp.StatusCode).Dur("retry_after", retryAfter).Msg("rate limited by exchange")
		return NewRateLimitError(retryAfter)
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Code int    `json:"code"`
			Msg  string `json:"msg"`
		}
		_ = json.Unmarshal(body, &apiErr)
		msg := apiErr.Msg
		if msg == "" {
			msg = string(body)
		}
		return &APIError{
			Kind:      KindAPI,
			Code:      apiErr.Code,
			Message:   msg,
			Retryable: resp.StatusCode >= http.StatusInternalServerError,
		}
	}

	if err := json.Unmarshal(body, out); err != nil {
		return &APIError{Kind: KindAPI, Message: fmt.Sprintf("malformed response: %v", err)}
	}
	return nil
}

func (g *BinanceGateway) transportFailure(err error) *APIError {
	n := g.failures.Add(1)
	if n >= unreachableThreshold {
		g.logger.Error().Int64("failures", n).Err(err).Msg("exchange unreachable")
		return NewUnreachableError(int(n))
	}
	return NewTransportError(err.Error())
}

func (g *BinanceGateway) sign(payload string) string {
	mac := hmac.New(sha256.New, []byte(g.secretKey))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

func mustDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func asString(v interface{}) string {
	s, _ := v.(string)
	return s
}

func asFloat(v interface{}) float64 {
	f, _ := v.(float64)
	return f
}
