package kiwoom

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"kiwoom-trade-bot-go/internal/config"
)

const (
	pathToken     = "/oauth2/token"
	pathOrder     = "/api/dostk/ordr"
	pathStockInfo = "/api/dostk/stkinfo"
	pathAccount   = "/api/dostk/acnt"

	apiIDBuyOrder    = "kt10000"
	apiIDSellOrder   = "kt10001"
	apiIDCancelOrder = "kt10003"
	apiIDPrice       = "ka10001"
	apiIDBalance     = "ka01690"
	apiIDOutstanding = "ka10075"

	exchangeKRX     = "KRX"
	tradeTypeMarket = "3"
	tradeTypeLimit  = "0"
)

// Gateway is the broker contract the trading core consumes.
type Gateway interface {
	PlaceBuy(ctx context.Context, stockCode string, quantity int64, orderType OrderType, price int64) (*OrderResult, error)
	PlaceSell(ctx context.Context, stockCode string, quantity int64, orderType OrderType, price int64) (*OrderResult, error)
	CurrentPrice(ctx context.Context, stockCode string) (int64, error)
	Holdings(ctx context.Context) ([]Holding, error)
	OutstandingOrders(ctx context.Context) ([]OutstandingOrder, error)
	CancelOrder(ctx context.Context, orderID, stockCode string, quantity int64) error
}

// RestClient is a client for the Kiwoom REST trading API.
// It implements the Gateway interface.
type RestClient struct {
	client    *resty.Client
	appKey    string
	secretKey string
	accountNo string
	logger    *zap.Logger
	limiter   *rate.Limiter

	mu    sync.Mutex
	token string
}

// ensure RestClient implements the interface
var _ Gateway = (*RestClient)(nil)

// NewRestClient creates a new Kiwoom REST API client.
func NewRestClient(cfg *config.Kiwoom, logger *zap.Logger) *RestClient {
	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetHeader("Content-Type", "application/json;charset=UTF-8")

	// rate.Limit is requests per second.
	limiter := rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateLimitBurst)

	return &RestClient{
		client:    client,
		appKey:    cfg.AppKey,
		secretKey: cfg.SecretKey,
		accountNo: cfg.AccountNo,
		logger:    logger,
		limiter:   limiter,
	}
}

// EnsureToken returns the cached access token, fetching one first if needed.
// The same token authenticates both REST calls and the WebSocket login.
func (c *RestClient) EnsureToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	token := c.token
	c.mu.Unlock()
	if token != "" {
		return token, nil
	}
	return c.authenticate(ctx)
}

func (c *RestClient) authenticate(ctx context.Context) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limiter wait failed: %w", err)
	}

	var result tokenResponse
	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(tokenRequest{GrantType: "client_credentials", AppKey: c.appKey, SecretKey: c.secretKey}).
		SetResult(&result).
		Post(pathToken)
	if err != nil {
		return "", fmt.Errorf("token request failed: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("token request failed with status %s: %s", resp.Status(), resp.String())
	}
	if result.Token == "" {
		return "", &APIError{Code: result.ReturnCode, Message: result.ReturnMsg}
	}

	c.mu.Lock()
	c.token = result.Token
	c.mu.Unlock()

	c.logger.Info("Access token issued", zap.String("expires", result.ExpiresDt))
	return result.Token, nil
}

func (c *RestClient) invalidateToken() {
	c.mu.Lock()
	c.token = ""
	c.mu.Unlock()
}

// call executes one TR request with rate limiting and retry logic. An
// expired token (401) is refreshed once per call; 429 and 5xx responses
// are retried with exponential backoff honoring Retry-After.
func (c *RestClient) call(ctx context.Context, apiID, url string, body, result any) error {
	var resp *resty.Response
	var err error
	const maxRetries = 3
	reauthed := false

	for i := 0; i < maxRetries; i++ {
		token, terr := c.EnsureToken(ctx)
		if terr != nil {
			return terr
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter wait failed: %w", err)
		}

		c.logger.Debug("Executing request", zap.String("api_id", apiID), zap.String("url", c.client.BaseURL+url))
		resp, err = c.client.R().
			SetContext(ctx).
			SetHeader("api-id", apiID).
			SetHeader("authorization", "Bearer "+token).
			SetBody(body).
			SetResult(result).
			Post(url)

		if err == nil && !resp.IsError() {
			return nil // Success
		}

		// Analyze error and decide whether to retry
		shouldRetry := false
		var retryAfter time.Duration

		if resp != nil && err == nil {
			statusCode := resp.StatusCode()
			switch {
			case statusCode == http.StatusUnauthorized && !reauthed:
				c.invalidateToken()
				reauthed = true
				shouldRetry = true
			case statusCode == http.StatusTooManyRequests:
				shouldRetry = true
				retryAfterHeader := resp.Header().Get("Retry-After")
				if seconds, err := strconv.Atoi(retryAfterHeader); err == nil {
					retryAfter = time.Duration(seconds) * time.Second
				}
			case statusCode >= 500:
				shouldRetry = true
			}
			if !shouldRetry {
				return fmt.Errorf("request %s failed with status %s: %s", apiID, resp.Status(), resp.String())
			}
		} else { // Network or other client-side errors
			shouldRetry = true
		}

		if retryAfter == 0 {
			// Exponential backoff: 1s, 2s, 4s
			retryAfter = time.Duration(math.Pow(2, float64(i))) * time.Second
		}

		c.logger.Warn("Request failed, retrying...",
			zap.String("api_id", apiID),
			zap.Int("attempt", i+1),
			zap.Duration("retry_after", retryAfter),
			zap.Error(err),
		)

		select {
		case <-time.After(retryAfter):
			continue
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return fmt.Errorf("request %s failed after %d attempts: %w", apiID, maxRetries, err)
}

var availableQtyPattern = regexp.MustCompile(`(\d+)주\s*매수가능`)

// PlaceBuy submits a buy order. Market orders carry no price. A rejection
// for insufficient margin that names the orderable quantity is retried once
// with that reduced quantity.
func (c *RestClient) PlaceBuy(ctx context.Context, stockCode string, quantity int64, orderType OrderType, price int64) (*OrderResult, error) {
	retried := false
	for {
		result, err := c.placeOrder(ctx, apiIDBuyOrder, stockCode, quantity, orderType, price)
		if err == nil {
			return result, nil
		}

		var apiErr *APIError
		if !errors.As(err, &apiErr) || retried || apiErr.Code != insufficientFundsCode {
			return nil, err
		}
		m := availableQtyPattern.FindStringSubmatch(apiErr.Message)
		if m == nil {
			return nil, err
		}
		available, _ := strconv.ParseInt(m[1], 10, 64)
		if available <= 0 || available >= quantity {
			return nil, err
		}

		c.logger.Warn("Insufficient margin, retrying with orderable quantity",
			zap.String("stock_code", stockCode),
			zap.Int64("requested", quantity),
			zap.Int64("available", available),
		)
		quantity = available
		retried = true
	}
}

// PlaceSell submits a sell order. Market orders carry no price.
func (c *RestClient) PlaceSell(ctx context.Context, stockCode string, quantity int64, orderType OrderType, price int64) (*OrderResult, error) {
	return c.placeOrder(ctx, apiIDSellOrder, stockCode, quantity, orderType, price)
}

func (c *RestClient) placeOrder(ctx context.Context, apiID, stockCode string, quantity int64, orderType OrderType, price int64) (*OrderResult, error) {
	body := orderRequest{
		Exchange:  exchangeKRX,
		StockCode: stockCode,
		Quantity:  strconv.FormatInt(quantity, 10),
		TradeType: tradeTypeMarket,
	}
	if orderType == OrderTypeLimit {
		body.TradeType = tradeTypeLimit
		body.Price = strconv.FormatInt(price, 10)
	}

	var result orderResponse
	if err := c.call(ctx, apiID, pathOrder, body, &result); err != nil {
		return nil, err
	}
	if result.OrderNo == "" {
		return nil, &APIError{Code: result.ReturnCode, Message: result.ReturnMsg}
	}

	c.logger.Info("Order accepted",
		zap.String("api_id", apiID),
		zap.String("stock_code", stockCode),
		zap.Int64("quantity", quantity),
		zap.String("order_type", string(orderType)),
		zap.Int64("price", price),
		zap.String("order_no", result.OrderNo),
	)
	return &OrderResult{OrderID: result.OrderNo, Exchange: result.Exchange, Quantity: quantity}, nil
}

// CurrentPrice fetches the latest traded price for a stock.
func (c *RestClient) CurrentPrice(ctx context.Context, stockCode string) (int64, error) {
	var result priceResponse
	if err := c.call(ctx, apiIDPrice, pathStockInfo, priceRequest{StockCode: stockCode}, &result); err != nil {
		return 0, fmt.Errorf("failed to get current price: %w", err)
	}

	price := parseWireInt(result.CurrentPrice)
	if price <= 0 {
		return 0, &APIError{Code: result.ReturnCode, Message: result.ReturnMsg}
	}
	return price, nil
}

// Holdings fetches the account balance, keeping only rows that name a stock.
func (c *RestClient) Holdings(ctx context.Context) ([]Holding, error) {
	body := accountRequest{QueryDate: time.Now().Format("20060102")}
	var result balanceResponse
	if err := c.call(ctx, apiIDBalance, pathAccount, body, &result); err != nil {
		return nil, fmt.Errorf("failed to get account balance: %w", err)
	}

	holdings := make([]Holding, 0, len(result.Rows))
	for _, row := range result.Rows {
		if row.StockCode == "" {
			continue
		}
		holdings = append(holdings, Holding{
			StockCode:    row.StockCode,
			StockName:    row.StockName,
			Quantity:     parseWireInt(row.Quantity),
			AvgPrice:     parseWireInt(row.BuyPrice),
			CurrentPrice: parseWireInt(row.CurrentPrice),
		})
	}
	return holdings, nil
}

// OutstandingOrders fetches the open (not fully filled) orders for today.
func (c *RestClient) OutstandingOrders(ctx context.Context) ([]OutstandingOrder, error) {
	body := accountRequest{QueryDate: time.Now().Format("20060102")}
	var result outstandingResponse
	if err := c.call(ctx, apiIDOutstanding, pathAccount, body, &result); err != nil {
		return nil, fmt.Errorf("failed to get outstanding orders: %w", err)
	}

	rows := result.rows()
	orders := make([]OutstandingOrder, 0, len(rows))
	for _, row := range rows {
		orders = append(orders, OutstandingOrder{
			OrderID:           row.OrderNo,
			StockCode:         row.StockCode,
			StockName:         row.StockName,
			OrderQuantity:     parseWireInt(row.OrderQty),
			RemainingQuantity: row.remaining(),
			OrderPrice:        parseWireInt(row.OrderPrice),
		})
	}
	return orders, nil
}

// CancelOrder cancels an outstanding order. Quantity 0 cancels the full
// remainder.
func (c *RestClient) CancelOrder(ctx context.Context, orderID, stockCode string, quantity int64) error {
	body := cancelRequest{
		Exchange:    exchangeKRX,
		OrigOrderNo: orderID,
		StockCode:   stockCode,
		Quantity:    strconv.FormatInt(quantity, 10),
	}

	var result orderResponse
	if err := c.call(ctx, apiIDCancelOrder, pathOrder, body, &result); err != nil {
		return err
	}
	if result.OrderNo == "" {
		return &APIError{Code: result.ReturnCode, Message: result.ReturnMsg}
	}

	c.logger.Info("Order cancelled",
		zap.String("orig_order_no", orderID),
		zap.String("cancel_order_no", result.OrderNo),
		zap.String("stock_code", stockCode),
		zap.Int64("quantity", quantity),
	)
	return nil
}
