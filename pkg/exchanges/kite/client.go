// Package kite is the daily-expiry adapter (Zerodha Kite-style). The access
// token comes from a one-time OAuth-ish authorization flow and dies at a fixed
// wall-clock boundary every day; there is no refresh endpoint. The adapter
// never retries auth failures; it surfaces ErrReauthorizationRequired so the
// caller can prompt the owner to re-authorize.
package kite

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"execution-core/pkg/exchanges/common"
)

// Config holds the authorized token pair.
type Config struct {
	APIKey      string
	AccessToken string
	// IssuedAt is when the access token was obtained; used for the proactive
	// wall-clock expiry check.
	IssuedAt    time.Time
	Environment common.Environment
}

// Tokens expire at 06:00 in the venue's reference timezone.
var venueTZ = time.FixedZone("IST", int(5*time.Hour+30*time.Minute)/int(time.Second))

const expiryHour = 6

// Client implements common.Adapter.
type Client struct {
	cfg        Config
	baseURL    string
	httpClient *http.Client
	pacer      *common.Pacer
	retry      common.RetryPolicy
	now        func() time.Time
}

func New(cfg Config) *Client {
	return &Client{
		cfg:        cfg,
		baseURL:    "https://api.kite.trade",
		httpClient: &http.Client{Timeout: 10 * time.Second},
		pacer:      common.NewPacer(3, 6),
		retry:      common.DefaultRetryPolicy(),
		now:        time.Now,
	}
}

func (c *Client) Capabilities() common.Capabilities {
	return common.Capabilities{
		ExchangeID:         "kite",
		SupportsStopOrders: true,
		SupportsTakeProfit: false,
	}
}

// tokenExpired reports whether the daily boundary has passed since issuance.
func (c *Client) tokenExpired() bool {
	if c.cfg.IssuedAt.IsZero() {
		return c.cfg.AccessToken == ""
	}
	issued := c.cfg.IssuedAt.In(venueTZ)
	boundary := time.Date(issued.Year(), issued.Month(), issued.Day(), expiryHour, 0, 0, 0, venueTZ)
	if !issued.Before(boundary) {
		boundary = boundary.Add(24 * time.Hour)
	}
	return !c.now().In(venueTZ).Before(boundary)
}

// venueSymbol renders BTC/INR as BTCINR-style tradingsymbols.
func venueSymbol(symbol string) string {
	return common.VenueSymbol(symbol, "")
}

func (c *Client) do(ctx context.Context, method, path string, form url.Values) ([]byte, error) {
	if c.tokenExpired() {
		return nil, common.ErrReauthorizationRequired
	}
	var body []byte
	err := c.retry.Do(ctx, func() error {
		if err := c.pacer.Wait(ctx); err != nil {
			return err
		}
		var reader io.Reader
		if form != nil && method != http.MethodGet {
			reader = strings.NewReader(form.Encode())
		}
		target := c.baseURL + path
		if form != nil && method == http.MethodGet {
			target += "?" + form.Encode()
		}
		req, err := http.NewRequestWithContext(ctx, method, target, reader)
		if err != nil {
			return err
		}
		if reader != nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
		req.Header.Set("X-Kite-Version", "3")
		req.Header.Set("Authorization", "token "+c.cfg.APIKey+":"+c.cfg.AccessToken)

		res, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer res.Body.Close()

		body, _ = io.ReadAll(res.Body)
		if res.StatusCode >= 300 {
			var venueErr struct {
				ErrorType string `json:"error_type"`
				Message   string `json:"message"`
			}
			_ = json.Unmarshal(body, &venueErr)
			if venueErr.ErrorType == "TokenException" ||
				res.StatusCode == http.StatusUnauthorized || res.StatusCode == http.StatusForbidden {
				return common.ErrReauthorizationRequired
			}
			msg := venueErr.Message
			if msg == "" {
				msg = string(body)
			}
			return &common.APIError{Status: res.StatusCode, Code: venueErr.ErrorType, Message: msg}
		}
		return nil
	})
	return body, err
}

func (c *Client) GetBalance(ctx context.Context) ([]common.AssetBalance, error) {
	body, err := c.do(ctx, http.MethodGet, "/user/margins", nil)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Data struct {
			Equity struct {
				Available struct {
					Cash float64 `json:"cash"`
				} `json:"available"`
				Net float64 `json:"net"`
			} `json:"equity"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode margins: %w", err)
	}
	return []common.AssetBalance{{
		Asset:     "INR",
		Available: resp.Data.Equity.Available.Cash,
		Total:     resp.Data.Equity.Net,
	}}, nil
}

func (c *Client) GetAvailableMargin(ctx context.Context) (float64, error) {
	balances, err := c.GetBalance(ctx)
	if err != nil {
		return 0, err
	}
	return balances[0].Available, nil
}

func (c *Client) GetPositions(ctx context.Context) ([]common.ExchangePosition, error) {
	body, err := c.do(ctx, http.MethodGet, "/portfolio/positions", nil)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Data struct {
			Net []struct {
				TradingSymbol string  `json:"tradingsymbol"`
				Quantity      float64 `json:"quantity"`
				AveragePrice  float64 `json:"average_price"`
				LastPrice     float64 `json:"last_price"`
			} `json:"net"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode positions: %w", err)
	}
	out := make([]common.ExchangePosition, 0, len(resp.Data.Net))
	for _, r := range resp.Data.Net {
		if r.Quantity == 0 {
			continue
		}
		side := common.SideLong
		qty := r.Quantity
		if qty < 0 {
			side = common.SideShort
			qty = -qty
		}
		out = append(out, common.ExchangePosition{
			Symbol:     common.NormalizeSymbol(r.TradingSymbol),
			Side:       side,
			Quantity:   qty,
			EntryPrice: r.AveragePrice,
			MarkPrice:  r.LastPrice,
		})
	}
	return out, nil
}

func (c *Client) GetPosition(ctx context.Context, symbol string) (*common.ExchangePosition, error) {
	rows, err := c.GetPositions(ctx)
	if err != nil {
		return nil, err
	}
	want := common.NormalizeSymbol(symbol)
	for i := range rows {
		if rows[i].Symbol == want {
			return &rows[i], nil
		}
	}
	return nil, common.ErrNoPosition
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

func (c *Client) GetTicker(ctx context.Context, symbol string) (common.Ticker, error) {
	form := url.Values{}
	form.Set("i", "NSE:"+venueSymbol(symbol))
	body, err := c.do(ctx, http.MethodGet, "/quote/ltp", form)
	if err != nil {
		return common.Ticker{}, err
	}
	var resp struct {
		Data map[string]struct {
			LastPrice float64 `json:"last_price"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return common.Ticker{}, fmt.Errorf("decode ltp: %w", err)
	}
	for _, q := range resp.Data {
		return common.Ticker{
			Symbol: common.NormalizeSymbol(symbol),
			Last:   q.LastPrice,
			Bid:    q.LastPrice,
			Ask:    q.LastPrice,
			At:     time.Now(),
		}, nil
	}
	return common.Ticker{}, fmt.Errorf("kite: no quote for %s", symbol)
}

func (c *Client) placeOrder(ctx context.Context, symbol string, side common.Side, qty float64, variety string, extra url.Values) (common.OrderResult, error) {
	form := url.Values{}
	form.Set("tradingsymbol", venueSymbol(symbol))
	form.Set("exchange", "NSE")
	form.Set("transaction_type", side.OrderSide())
	form.Set("quantity", fmt.Sprintf("%.0f", qty))
	form.Set("product", "MIS")
	for k, vs := range extra {
		for _, v := range vs {
			form.Add(k, v)
		}
	}
	body, err := c.do(ctx, http.MethodPost, "/orders/"+variety, form)
	if err != nil {
		return common.OrderResult{}, err
	}
	var resp struct {
		Data struct {
			OrderID string `json:"order_id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return common.OrderResult{}, fmt.Errorf("decode order ack: %w", err)
	}
	return common.OrderResult{
		OrderID:  resp.Data.OrderID,
		Symbol:   common.NormalizeSymbol(symbol),
		Side:     side,
		Quantity: qty,
		Status:   common.StatusNew,
	}, nil
}

func (c *Client) PlaceMarketOrder(ctx context.Context, symbol string, side common.Side, qty float64) (common.OrderResult, error) {
	extra := url.Values{}
	extra.Set("order_type", "MARKET")
	return c.placeOrder(ctx, symbol, side, qty, "regular", extra)
}

func (c *Client) PlaceLimitOrder(ctx context.Context, symbol string, side common.Side, qty, price float64) (common.OrderResult, error) {
	extra := url.Values{}
	extra.Set("order_type", "LIMIT")
	extra.Set("price", fmt.Sprintf("%f", price))
	return c.placeOrder(ctx, symbol, side, qty, "regular", extra)
}

func (c *Client) PlaceStopLoss(ctx context.Context, symbol string, side common.Side, qty, stopPrice float64) (common.OrderResult, error) {
	extra := url.Values{}
	extra.Set("order_type", "SL-M")
	extra.Set("trigger_price", fmt.Sprintf("%f", stopPrice))
	return c.placeOrder(ctx, symbol, side.Opposite(), qty, "regular", extra)
}

func (c *Client) PlaceTakeProfit(ctx context.Context, symbol string, side common.Side, qty, price float64) (common.OrderResult, error) {
	// Capability descriptor says no native take-profit; a plain limit on the
	// opposing side is the closest the venue offers.
	extra := url.Values{}
	extra.Set("order_type", "LIMIT")
	extra.Set("price", fmt.Sprintf("%f", price))
	return c.placeOrder(ctx, symbol, side.Opposite(), qty, "regular", extra)
}

func (c *Client) ClosePosition(ctx context.Context, symbol string, side common.Side, qty float64) (common.OrderResult, error) {
	extra := url.Values{}
	extra.Set("order_type", "MARKET")
	return c.placeOrder(ctx, symbol, side.Opposite(), qty, "regular", extra)
}

func (c *Client) CancelOrder(ctx context.Context, symbol, orderID string) error {
	_, err := c.do(ctx, http.MethodDelete, "/orders/regular/"+orderID, nil)
	var ae *common.APIError
	if errors.As(err, &ae) && ae.Status == http.StatusNotFound {
		return common.ErrOrderNotFound
	}
	return err
}

func (c *Client) GetOrder(ctx context.Context, symbol, orderID string) (common.OrderResult, error) {
	body, err := c.do(ctx, http.MethodGet, "/orders/"+orderID, nil)
	if err != nil {
		var ae *common.APIError
		if errors.As(err, &ae) && ae.Status == http.StatusNotFound {
			return common.OrderResult{}, common.ErrOrderNotFound
		}
		return common.OrderResult{}, err
	}
	var resp struct {
		Data []struct {
			OrderID         string  `json:"order_id"`
			Status          string  `json:"status"`
			TransactionType string  `json:"transaction_type"`
			Quantity        float64 `json:"quantity"`
			AveragePrice    float64 `json:"average_price"`
			Price           float64 `json:"price"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return common.OrderResult{}, fmt.Errorf("decode order history: %w", err)
	}
	if len(resp.Data) == 0 {
		return common.OrderResult{}, common.ErrOrderNotFound
	}
	last := resp.Data[len(resp.Data)-1]
	side := common.SideLong
	if strings.EqualFold(last.TransactionType, "SELL") {
		side = common.SideShort
	}
	return common.OrderResult{
		OrderID:   last.OrderID,
		Symbol:    common.NormalizeSymbol(symbol),
		Side:      side,
		Quantity:  last.Quantity,
		Price:     last.Price,
		Status:    mapStatus(last.Status),
		AvgFillPx: last.AveragePrice,
	}, nil
}

func mapStatus(s string) common.OrderStatus {
	switch strings.ToUpper(s) {
	case "OPEN", "TRIGGER PENDING":
		return common.StatusNew
	case "COMPLETE":
		return common.StatusFilled
	case "CANCELLED":
		return common.StatusCanceled
	case "REJECTED":
		return common.StatusRejected
	default:
		return common.StatusUnknown
	}
}
