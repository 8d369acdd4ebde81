// Package binancefut is the reference HMAC adapter: Binance USDT-M futures.
// Requests are signed by appending an HMAC-SHA256 signature over the encoded
// query (timestamp included); no token refresh is ever needed.
package binancefut

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"execution-core/pkg/exchanges/common"
)

// Config holds Binance USDT-M futures credentials.
type Config struct {
	APIKey      string
	APISecret   string
	Environment common.Environment
	RecvWindow  int64 // ms
}

// Client implements common.Adapter for Binance USDT-M futures.
type Client struct {
	cfg        Config
	baseURL    string
	httpClient *http.Client
	pacer      *common.Pacer
	retry      common.RetryPolicy
}

// New creates the adapter. Sandbox routes to the Binance futures testnet.
func New(cfg Config) *Client {
	base := "https://fapi.binance.com"
	if cfg.Environment == common.EnvSandbox {
		base = "https://testnet.binancefuture.com"
	}
	if cfg.RecvWindow == 0 {
		cfg.RecvWindow = 5000
	}
	return &Client{
		cfg:        cfg,
		baseURL:    base,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		pacer:      common.NewPacer(20, 40),
		retry:      common.DefaultRetryPolicy(),
	}
}

func (c *Client) Capabilities() common.Capabilities {
	return common.Capabilities{
		ExchangeID:           "binance-futures",
		SupportsStopOrders:   true,
		SupportsTakeProfit:   true,
		SupportsTrailingStop: true,
		HasSandbox:           true,
	}
}

// venueSymbol renders BTC/USDT:USDT as BTCUSDT.
func venueSymbol(symbol string) string {
	return common.VenueSymbol(symbol, "")
}

func (c *Client) GetBalance(ctx context.Context) ([]common.AssetBalance, error) {
	body, err := c.doSigned(ctx, http.MethodGet, "/fapi/v2/balance", url.Values{})
	if err != nil {
		return nil, err
	}
	var rows []struct {
		Asset            string `json:"asset"`
		Balance          string `json:"balance"`
		AvailableBalance string `json:"availableBalance"`
	}
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("decode balance: %w", err)
	}
	out := make([]common.AssetBalance, 0, len(rows))
	for _, r := range rows {
		total, _ := strconv.ParseFloat(r.Balance, 64)
		avail, _ := strconv.ParseFloat(r.AvailableBalance, 64)
		if total == 0 && avail == 0 {
			continue
		}
		out = append(out, common.AssetBalance{Asset: r.Asset, Available: avail, Total: total})
	}
	return out, nil
}

func (c *Client) GetAvailableMargin(ctx context.Context) (float64, error) {
	body, err := c.doSigned(ctx, http.MethodGet, "/fapi/v2/account", url.Values{})
	if err != nil {
		return 0, err
	}
	var acct struct {
		AvailableBalance string `json:"availableBalance"`
	}
	if err := json.Unmarshal(body, &acct); err != nil {
		return 0, fmt.Errorf("decode account: %w", err)
	}
	margin, err := strconv.ParseFloat(acct.AvailableBalance, 64)
	if err != nil {
		return 0, fmt.Errorf("parse available balance %q: %w", acct.AvailableBalance, err)
	}
	return margin, nil
}

func (c *Client) GetPositions(ctx context.Context) ([]common.ExchangePosition, error) {
	return c.positions(ctx, "")
}

func (c *Client) GetPosition(ctx context.Context, symbol string) (*common.ExchangePosition, error) {
	rows, err := c.positions(ctx, symbol)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, common.ErrNoPosition
	}
	return &rows[0], nil
}

func (c *Client) HasOpenPosition(ctx context.Context, symbol string) (bool, error) {
	_, err := c.GetPosition(ctx, symbol)
	if errors.Is(err, common.ErrNoPosition) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (c *Client) positions(ctx context.Context, symbol string) ([]common.ExchangePosition, error) {
	params := url.Values{}
	if symbol != "" {
		params.Set("symbol", venueSymbol(symbol))
	}
	body, err := c.doSigned(ctx, http.MethodGet, "/fapi/v2/positionRisk", params)
	if err != nil {
		return nil, err
	}
	var rows []struct {
		Symbol      string `json:"symbol"`
		PositionAmt string `json:"positionAmt"`
		EntryPrice  string `json:"entryPrice"`
		MarkPrice   string `json:"markPrice"`
	}
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("decode positions: %w", err)
	}
	out := make([]common.ExchangePosition, 0, len(rows))
	for _, r := range rows {
		amt, _ := strconv.ParseFloat(r.PositionAmt, 64)
		if amt == 0 {
			continue
		}
		entry, _ := strconv.ParseFloat(r.EntryPrice, 64)
		mark, _ := strconv.ParseFloat(r.MarkPrice, 64)
		side := common.SideLong
		if amt < 0 {
			side = common.SideShort
		}
		out = append(out, common.ExchangePosition{
			Symbol:     common.NormalizeSymbol(r.Symbol),
			Side:       side,
			Quantity:   math.Abs(amt),
			EntryPrice: entry,
			MarkPrice:  mark,
		})
	}
	return out, nil
}

func (c *Client) GetTicker(ctx context.Context, symbol string) (common.Ticker, error) {
	params := url.Values{}
	params.Set("symbol", venueSymbol(symbol))
	body, err := c.doPublic(ctx, "/fapi/v1/ticker/bookTicker", params)
	if err != nil {
		return common.Ticker{}, err
	}
	var tk struct {
		BidPrice string `json:"bidPrice"`
		AskPrice string `json:"askPrice"`
	}
	if err := json.Unmarshal(body, &tk); err != nil {
		return common.Ticker{}, fmt.Errorf("decode ticker: %w", err)
	}
	bid, _ := strconv.ParseFloat(tk.BidPrice, 64)
	ask, _ := strconv.ParseFloat(tk.AskPrice, 64)
	return common.Ticker{
		Symbol: common.NormalizeSymbol(symbol),
		Last:   (bid + ask) / 2,
		Bid:    bid,
		Ask:    ask,
		At:     time.Now(),
	}, nil
}

func (c *Client) PlaceMarketOrder(ctx context.Context, symbol string, side common.Side, qty float64) (common.OrderResult, error) {
	params := c.orderParams(symbol, side, qty)
	params.Set("type", "MARKET")
	return c.submitOrder(ctx, params, symbol, side, qty, 0)
}

func (c *Client) PlaceLimitOrder(ctx context.Context, symbol string, side common.Side, qty, price float64) (common.OrderResult, error) {
	params := c.orderParams(symbol, side, qty)
	params.Set("type", "LIMIT")
	params.Set("price", formatFloat(price))
	params.Set("timeInForce", "GTC")
	return c.submitOrder(ctx, params, symbol, side, qty, price)
}

func (c *Client) PlaceStopLoss(ctx context.Context, symbol string, side common.Side, qty, stopPrice float64) (common.OrderResult, error) {
	// Protective order: opposite verb, reduce-only, triggered at stopPrice.
	params := c.orderParams(symbol, side.Opposite(), qty)
	params.Set("type", "STOP_MARKET")
	params.Set("stopPrice", formatFloat(stopPrice))
	params.Set("reduceOnly", "true")
	return c.submitOrder(ctx, params, symbol, side.Opposite(), qty, stopPrice)
}

func (c *Client) PlaceTakeProfit(ctx context.Context, symbol string, side common.Side, qty, price float64) (common.OrderResult, error) {
	params := c.orderParams(symbol, side.Opposite(), qty)
	params.Set("type", "TAKE_PROFIT_MARKET")
	params.Set("stopPrice", formatFloat(price))
	params.Set("reduceOnly", "true")
	return c.submitOrder(ctx, params, symbol, side.Opposite(), qty, price)
}

func (c *Client) ClosePosition(ctx context.Context, symbol string, side common.Side, qty float64) (common.OrderResult, error) {
	params := c.orderParams(symbol, side.Opposite(), qty)
	params.Set("type", "MARKET")
	params.Set("reduceOnly", "true")
	return c.submitOrder(ctx, params, symbol, side.Opposite(), qty, 0)
}

func (c *Client) CancelOrder(ctx context.Context, symbol, orderID string) error {
	params := url.Values{}
	params.Set("symbol", venueSymbol(symbol))
	params.Set("orderId", orderID)
	_, err := c.doSigned(ctx, http.MethodDelete, "/fapi/v1/order", params)
	var ae *common.APIError
	if errors.As(err, &ae) && ae.Code == "-2011" { // unknown order
		return common.ErrOrderNotFound
	}
	return err
}

func (c *Client) GetOrder(ctx context.Context, symbol, orderID string) (common.OrderResult, error) {
	params := url.Values{}
	params.Set("symbol", venueSymbol(symbol))
	params.Set("orderId", orderID)
	body, err := c.doSigned(ctx, http.MethodGet, "/fapi/v1/order", params)
	if err != nil {
		var ae *common.APIError
		if errors.As(err, &ae) && ae.Code == "-2013" { // order does not exist
			return common.OrderResult{}, common.ErrOrderNotFound
		}
		return common.OrderResult{}, err
	}
	var resp orderResp
	if err := json.Unmarshal(body, &resp); err != nil {
		return common.OrderResult{}, fmt.Errorf("decode order: %w", err)
	}
	return resp.toResult(symbol), nil
}

func (c *Client) orderParams(symbol string, side common.Side, qty float64) url.Values {
	params := url.Values{}
	params.Set("symbol", venueSymbol(symbol))
	params.Set("side", side.OrderSide())
	params.Set("quantity", formatFloat(qty))
	return params
}

func (c *Client) submitOrder(ctx context.Context, params url.Values, symbol string, side common.Side, qty, price float64) (common.OrderResult, error) {
	body, err := c.doSigned(ctx, http.MethodPost, "/fapi/v1/order", params)
	if err != nil {
		return common.OrderResult{}, err
	}
	var resp orderResp
	if err := json.Unmarshal(body, &resp); err != nil {
		return common.OrderResult{}, fmt.Errorf("decode order ack: %w", err)
	}
	res := resp.toResult(symbol)
	res.Side = side
	if res.Quantity == 0 {
		res.Quantity = qty
	}
	if res.Price == 0 {
		res.Price = price
	}
	return res, nil
}

// doSigned signs timestamp+params per request and sends it under the retry
// policy. Only 429/5xx/network failures are retried.
func (c *Client) doSigned(ctx context.Context, method, path string, params url.Values) ([]byte, error) {
	if c.cfg.APIKey == "" || c.cfg.APISecret == "" {
		return nil, errors.New("binancefut: API key/secret required")
	}

	var body []byte
	err := c.retry.Do(ctx, func() error {
		if err := c.pacer.Wait(ctx); err != nil {
			return err
		}
		p := cloneValues(params)
		p.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
		p.Set("recvWindow", strconv.FormatInt(c.cfg.RecvWindow, 10))

		// Signature is computed over the encoded params and appended last.
		encoded := p.Encode()
		encoded += "&signature=" + signHMAC(encoded, c.cfg.APISecret)
		var (
			req *http.Request
			err error
		)
		switch method {
		case http.MethodGet, http.MethodDelete:
			req, err = http.NewRequestWithContext(ctx, method, c.baseURL+path+"?"+encoded, nil)
		default:
			req, err = http.NewRequestWithContext(ctx, method, c.baseURL+path, strings.NewReader(encoded))
			if req != nil {
				req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			}
		}
		if err != nil {
			return err
		}
		req.Header.Set("X-MBX-APIKEY", c.cfg.APIKey)

		body, err = c.send(req)
		return err
	})
	return body, err
}

func (c *Client) doPublic(ctx context.Context, path string, params url.Values) ([]byte, error) {
	var body []byte
	err := c.retry.Do(ctx, func() error {
		if err := c.pacer.Wait(ctx); err != nil {
			return err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+params.Encode(), nil)
		if err != nil {
			return err
		}
		body, err = c.send(req)
		return err
	})
	return body, err
}

func (c *Client) send(req *http.Request) ([]byte, error) {
	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	body, _ := io.ReadAll(res.Body)
	if res.StatusCode >= 300 {
		var venueErr struct {
			Code int    `json:"code"`
			Msg  string `json:"msg"`
		}
		_ = json.Unmarshal(body, &venueErr)
		code := ""
		if venueErr.Code != 0 {
			code = strconv.Itoa(venueErr.Code)
		}
		msg := venueErr.Msg
		if msg == "" {
			msg = string(body)
		}
		return nil, &common.APIError{Status: res.StatusCode, Code: code, Message: msg}
	}
	return body, nil
}

type orderResp struct {
	OrderID  int64  `json:"orderId"`
	Symbol   string `json:"symbol"`
	Status   string `json:"status"`
	OrigQty  string `json:"origQty"`
	Price    string `json:"price"`
	AvgPrice string `json:"avgPrice"`
	Side     string `json:"side"`
}

func (r orderResp) toResult(symbol string) common.OrderResult {
	qty, _ := strconv.ParseFloat(r.OrigQty, 64)
	price, _ := strconv.ParseFloat(r.Price, 64)
	avg, _ := strconv.ParseFloat(r.AvgPrice, 64)
	side := common.SideLong
	if strings.EqualFold(r.Side, "SELL") {
		side = common.SideShort
	}
	return common.OrderResult{
		OrderID:   strconv.FormatInt(r.OrderID, 10),
		Symbol:    common.NormalizeSymbol(symbol),
		Side:      side,
		Quantity:  qty,
		Price:     price,
		Status:    mapStatus(r.Status),
		AvgFillPx: avg,
	}
}

func mapStatus(s string) common.OrderStatus {
	switch strings.ToUpper(s) {
	case "NEW":
		return common.StatusNew
	case "PARTIALLY_FILLED":
		return common.StatusPartial
	case "FILLED":
		return common.StatusFilled
	case "CANCELED", "EXPIRED":
		return common.StatusCanceled
	case "REJECTED":
		return common.StatusRejected
	default:
		return common.StatusUnknown
	}
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func cloneValues(in url.Values) url.Values {
	out := make(url.Values, len(in))
	for k, vs := range in {
		out[k] = append([]string(nil), vs...)
	}
	return out
}
