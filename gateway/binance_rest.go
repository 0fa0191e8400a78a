package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// BinanceSpotEndpoint 现货 REST 默认端点。
const BinanceSpotEndpoint = "https://api.binance.com"

// timeNowMillis 可在测试中覆盖，保证签名请求的时间戳可复现。
var timeNowMillis = func() int64 { return time.Now().UnixMilli() }

// BinanceClient 现货市价客户端。HTTPClient 可注入 httptest；
// 引擎用的精度/名义约束来自配置（exchangeInfo 的快照），
// GetSymbolInfo 供运维工具在线核对快照是否漂移。
type BinanceClient struct {
	BaseURL    string
	APIKey     string
	Secret     string
	HTTPClient *http.Client
	Limiter    RateLimiter // 可为 nil
	RecvWindow int64       // 毫秒，0 取 5000
}

// NewBinanceClient 创建客户端，带默认超时与限流。
func NewBinanceClient(baseURL, apiKey, secret string, limiter RateLimiter) *BinanceClient {
	if baseURL == "" {
		baseURL = BinanceSpotEndpoint
	}
	return &BinanceClient{
		BaseURL:    baseURL,
		APIKey:     apiKey,
		Secret:     secret,
		HTTPClient: NewDefaultHTTPClient(),
		Limiter:    limiter,
	}
}

// NewDefaultHTTPClient 提供一个带超时的 http.Client。
func NewDefaultHTTPClient() *http.Client {
	return &http.Client{Timeout: 10 * time.Second}
}

// signQuery 在参数上追加时间戳并做 HMAC-SHA256 签名。
func (c *BinanceClient) signQuery(params url.Values) string {
	recv := c.RecvWindow
	if recv <= 0 {
		recv = 5000
	}
	params.Set("timestamp", strconv.FormatInt(timeNowMillis(), 10))
	params.Set("recvWindow", strconv.FormatInt(recv, 10))
	query := params.Encode()
	mac := hmac.New(sha256.New, []byte(c.Secret))
	mac.Write([]byte(query))
	return query + "&signature=" + hex.EncodeToString(mac.Sum(nil))
}

func (c *BinanceClient) wait(ctx context.Context) error {
	if c.Limiter == nil {
		return nil
	}
	return c.Limiter.Wait(ctx)
}

type binanceError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

func decodeError(status int, body []byte) error {
	var be binanceError
	if err := json.Unmarshal(body, &be); err == nil && be.Msg != "" {
		if be.Code == -2010 {
			return fmt.Errorf("%w: %s", ErrInsufficientBalance, be.Msg)
		}
		return fmt.Errorf("binance status %d code %d: %s", status, be.Code, be.Msg)
	}
	return fmt.Errorf("binance status %d", status)
}

// GetPrice 调用 /api/v3/ticker/price 获取最新成交价。
func (c *BinanceClient) GetPrice(ctx context.Context, symbol string) (float64, error) {
	if err := c.wait(ctx); err != nil {
		return 0, err
	}
	endpoint := c.BaseURL + "/api/v3/ticker/price?symbol=" + url.QueryEscape(symbol)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, err
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrPriceUnavailable, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrPriceUnavailable, err)
	}
	if resp.StatusCode >= 300 {
		return 0, fmt.Errorf("%w: %v", ErrPriceUnavailable, decodeError(resp.StatusCode, body))
	}
	var tick struct {
		Symbol string `json:"symbol"`
		Price  string `json:"price"`
	}
	if err := json.Unmarshal(body, &tick); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrPriceUnavailable, err)
	}
	price, err := strconv.ParseFloat(tick.Price, 64)
	if err != nil || price <= 0 {
		return 0, ErrPriceUnavailable
	}
	return price, nil
}

type binanceOrderResp struct {
	Symbol              string `json:"symbol"`
	OrderID             int64  `json:"orderId"`
	ClientOrderID       string `json:"clientOrderId"`
	Status              string `json:"status"`
	ExecutedQty         string `json:"executedQty"`
	CummulativeQuoteQty string `json:"cummulativeQuoteQty"`
	Fills               []struct {
		Price string `json:"price"`
		Qty   string `json:"qty"`
	} `json:"fills"`
}

// PlaceMarketOrder 调用 /api/v3/order 下市价单（FULL 回报含逐笔成交）。
func (c *BinanceClient) PlaceMarketOrder(ctx context.Context, symbol, side string, quantity float64) (*OrderResult, error) {
	if quantity <= 0 {
		return nil, fmt.Errorf("gateway: quantity %v must be > 0", quantity)
	}
	if err := c.wait(ctx); err != nil {
		return nil, err
	}

	clientID := uuid.NewString()
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("side", side)
	params.Set("type", "MARKET")
	params.Set("quantity", strconv.FormatFloat(quantity, 'f', -1, 64))
	params.Set("newClientOrderId", clientID)
	params.Set("newOrderRespType", "FULL")

	endpoint := c.BaseURL + "/api/v3/order?" + c.signQuery(params)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-MBX-APIKEY", c.APIKey)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		return nil, decodeError(resp.StatusCode, body)
	}

	var or binanceOrderResp
	if err := json.Unmarshal(body, &or); err != nil {
		return nil, fmt.Errorf("parse order response: %w", err)
	}
	result := &OrderResult{
		OrderID:  strconv.FormatInt(or.OrderID, 10),
		ClientID: or.ClientOrderID,
		Symbol:   or.Symbol,
		Side:     side,
		Status:   or.Status,
	}
	result.ExecutedQty, _ = strconv.ParseFloat(or.ExecutedQty, 64)
	quote, _ := strconv.ParseFloat(or.CummulativeQuoteQty, 64)
	for _, f := range or.Fills {
		price, _ := strconv.ParseFloat(f.Price, 64)
		qty, _ := strconv.ParseFloat(f.Qty, 64)
		result.Fills = append(result.Fills, Fill{Price: price, Quantity: qty})
	}
	if result.ExecutedQty > 0 && quote > 0 {
		result.AvgPrice = quote / result.ExecutedQty
	}

	// 市价单没有挂单中间态：非成交即拒单。
	switch or.Status {
	case "FILLED", "PARTIALLY_FILLED":
		result.Status = StatusFilled
		return result, nil
	default:
		result.Status = StatusRejected
		return result, fmt.Errorf("%w: status %s", ErrOrderRejected, or.Status)
	}
}

// SymbolInfo exchangeInfo 中与市价下单相关的字段子集。
type SymbolInfo struct {
	Symbol  string
	Status  string
	Base    string
	Quote   string
	Filters SymbolFilters
}

// GetSymbolInfo 调用 /api/v3/exchangeInfo 读取交易对状态与
// LOT_SIZE / NOTIONAL 过滤器。
func (c *BinanceClient) GetSymbolInfo(ctx context.Context, symbol string) (SymbolInfo, error) {
	if err := c.wait(ctx); err != nil {
		return SymbolInfo{}, err
	}
	endpoint := c.BaseURL + "/api/v3/exchangeInfo?symbol=" + url.QueryEscape(symbol)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return SymbolInfo{}, err
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return SymbolInfo{}, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return SymbolInfo{}, err
	}
	if resp.StatusCode >= 300 {
		return SymbolInfo{}, decodeError(resp.StatusCode, body)
	}

	var info struct {
		Symbols []struct {
			Symbol     string `json:"symbol"`
			Status     string `json:"status"`
			BaseAsset  string `json:"baseAsset"`
			QuoteAsset string `json:"quoteAsset"`
			Filters    []struct {
				FilterType  string `json:"filterType"`
				StepSize    string `json:"stepSize"`
				MinQty      string `json:"minQty"`
				MaxQty      string `json:"maxQty"`
				MinNotional string `json:"minNotional"`
			} `json:"filters"`
		} `json:"symbols"`
	}
	if err := json.Unmarshal(body, &info); err != nil {
		return SymbolInfo{}, fmt.Errorf("parse exchangeInfo response: %w", err)
	}
	for _, s := range info.Symbols {
		if s.Symbol != symbol {
			continue
		}
		si := SymbolInfo{
			Symbol: s.Symbol,
			Status: s.Status,
			Base:   s.BaseAsset,
			Quote:  s.QuoteAsset,
		}
		for _, f := range s.Filters {
			switch f.FilterType {
			case "LOT_SIZE":
				si.Filters.StepSize, _ = strconv.ParseFloat(f.StepSize, 64)
				si.Filters.MinQty, _ = strconv.ParseFloat(f.MinQty, 64)
				si.Filters.MaxQty, _ = strconv.ParseFloat(f.MaxQty, 64)
			case "NOTIONAL", "MIN_NOTIONAL":
				si.Filters.MinNotional, _ = strconv.ParseFloat(f.MinNotional, 64)
			}
		}
		return si, nil
	}
	return SymbolInfo{}, fmt.Errorf("symbol %s not in exchangeInfo", symbol)
}

// GetBalance 调用 /api/v3/account 读取某资产的可用余额。
func (c *BinanceClient) GetBalance(ctx context.Context, asset string) (float64, error) {
	if err := c.wait(ctx); err != nil {
		return 0, err
	}
	endpoint := c.BaseURL + "/api/v3/account?" + c.signQuery(url.Values{})
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("X-MBX-APIKEY", c.APIKey)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, err
	}
	if resp.StatusCode >= 300 {
		return 0, decodeError(resp.StatusCode, body)
	}

	var account struct {
		Balances []struct {
			Asset string `json:"asset"`
			Free  string `json:"free"`
		} `json:"balances"`
	}
	if err := json.Unmarshal(body, &account); err != nil {
		return 0, fmt.Errorf("parse account response: %w", err)
	}
	for _, b := range account.Balances {
		if b.Asset == asset {
			free, err := strconv.ParseFloat(b.Free, 64)
			if err != nil {
				return 0, fmt.Errorf("parse balance %q: %w", b.Free, err)
			}
			return free, nil
		}
	}
	return 0, nil
}
