// Package backpack is the Ed25519 adapter. Every request is signed over
// {apiKey}{timestamp}{path}{method}{body} with a raw 32-byte seed key; there
// is no token to refresh, but a signature rejection is retried exactly once
// with a fresh timestamp (clock skew is the usual culprit).
package backpack

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"execution-core/pkg/exchanges/common"
)

// Config holds the Ed25519 key material. Seed is the base64-encoded 32-byte
// private key seed.
type Config struct {
	APIKey      string
	Seed        string
	Environment common.Environment
}

// Client implements common.Adapter.
type Client struct {
	cfg        Config
	key        ed25519.PrivateKey
	baseURL    string
	httpClient *http.Client
	pacer      *common.Pacer
	retry      common.RetryPolicy
}

// New decodes the seed and builds the adapter.
func New(cfg Config) (*Client, error) {
	seed, err := base64.StdEncoding.DecodeString(cfg.Seed)
	if err != nil {
		return nil, fmt.Errorf("backpack: decode seed: %w", err)
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("backpack: seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	base := "https://api.backpack.exchange"
	if cfg.Environment == common.EnvSandbox {
		base = "https://api.sandbox.backpack.exchange"
	}
	return &Client{
		cfg:        cfg,
		key:        ed25519.NewKeyFromSeed(seed),
		baseURL:    base,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		pacer:      common.NewPacer(10, 20),
		retry:      common.DefaultRetryPolicy(),
	}, nil
}

func (c *Client) Capabilities() common.Capabilities {
	return common.Capabilities{
		ExchangeID:         "backpack",
		SupportsStopOrders: true,
		SupportsTakeProfit: true,
		HasSandbox:         true,
	}
}

// venueSymbol renders BTC/USDC as BTC_USDC.
func venueSymbol(symbol string) string {
	return common.VenueSymbol(symbol, "_")
}

func (c *Client) GetBalance(ctx context.Context) ([]common.AssetBalance, error) {
	body, err := c.do(ctx, http.MethodGet, "/api/v1/capital", nil)
	if err != nil {
		return nil, err
	}
	var rows map[string]struct {
		Available string `json:"available"`
		Locked    string `json:"locked"`
	}
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("decode capital: %w", err)
	}
	out := make([]common.AssetBalance, 0, len(rows))
	for asset, r := range rows {
		avail, _ := strconv.ParseFloat(r.Available, 64)
		locked, _ := strconv.ParseFloat(r.Locked, 64)
		out = append(out, common.AssetBalance{Asset: asset, Available: avail, Total: avail + locked})
	}
	return out, nil
}

func (c *Client) GetAvailableMargin(ctx context.Context) (float64, error) {
	balances, err := c.GetBalance(ctx)
	if err != nil {
		return 0, err
	}
	// Collateral is USDC-denominated on this venue.
	for _, b := range balances {
		if b.Asset == "USDC" {
			return b.Available, nil
		}
	}
	return 0, nil
}

func (c *Client) GetPositions(ctx context.Context) ([]common.ExchangePosition, error) {
	body, err := c.do(ctx, http.MethodGet, "/api/v1/position", nil)
	if err != nil {
		return nil, err
	}
	var rows []positionRow
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("decode positions: %w", err)
	}
	out := make([]common.ExchangePosition, 0, len(rows))
	for _, r := range rows {
		if p, ok := r.toPosition(); ok {
			out = append(out, p)
		}
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
	body, err := c.do(ctx, http.MethodGet, "/api/v1/ticker?symbol="+venueSymbol(symbol), nil)
	if err != nil {
		return common.Ticker{}, err
	}
	var tk struct {
		LastPrice string `json:"lastPrice"`
		Bid       string `json:"bid"`
		Ask       string `json:"ask"`
	}
	if err := json.Unmarshal(body, &tk); err != nil {
		return common.Ticker{}, fmt.Errorf("decode ticker: %w", err)
	}
	last, _ := strconv.ParseFloat(tk.LastPrice, 64)
	bid, _ := strconv.ParseFloat(tk.Bid, 64)
	ask, _ := strconv.ParseFloat(tk.Ask, 64)
	return common.Ticker{Symbol: common.NormalizeSymbol(symbol), Last: last, Bid: bid, Ask: ask, At: time.Now()}, nil
}

type orderBody struct {
	Symbol       string `json:"symbol"`
	Side         string `json:"side"`
	OrderType    string `json:"orderType"`
	Quantity     string `json:"quantity"`
	Price        string `json:"price,omitempty"`
	TriggerPrice string `json:"triggerPrice,omitempty"`
	ReduceOnly   bool   `json:"reduceOnly,omitempty"`
}

func (c *Client) PlaceMarketOrder(ctx context.Context, symbol string, side common.Side, qty float64) (common.OrderResult, error) {
	return c.placeOrder(ctx, orderBody{
		Symbol:    venueSymbol(symbol),
		Side:      sideVerb(side),
		OrderType: "Market",
		Quantity:  formatFloat(qty),
	}, symbol, side)
}

func (c *Client) PlaceLimitOrder(ctx context.Context, symbol string, side common.Side, qty, price float64) (common.OrderResult, error) {
	return c.placeOrder(ctx, orderBody{
		Symbol:    venueSymbol(symbol),
		Side:      sideVerb(side),
		OrderType: "Limit",
		Quantity:  formatFloat(qty),
		Price:     formatFloat(price),
	}, symbol, side)
}

func (c *Client) PlaceStopLoss(ctx context.Context, symbol string, side common.Side, qty, stopPrice float64) (common.OrderResult, error) {
	return c.placeOrder(ctx, orderBody{
		Symbol:       venueSymbol(symbol),
		Side:         sideVerb(side.Opposite()),
		OrderType:    "Market",
		Quantity:     formatFloat(qty),
		TriggerPrice: formatFloat(stopPrice),
		ReduceOnly:   true,
	}, symbol, side.Opposite())
}

func (c *Client) PlaceTakeProfit(ctx context.Context, symbol string, side common.Side, qty, price float64) (common.OrderResult, error) {
	return c.placeOrder(ctx, orderBody{
		Symbol:     venueSymbol(symbol),
		Side:       sideVerb(side.Opposite()),
		OrderType:  "Limit",
		Quantity:   formatFloat(qty),
		Price:      formatFloat(price),
		ReduceOnly: true,
	}, symbol, side.Opposite())
}

func (c *Client) ClosePosition(ctx context.Context, symbol string, side common.Side, qty float64) (common.OrderResult, error) {
	return c.placeOrder(ctx, orderBody{
		Symbol:     venueSymbol(symbol),
		Side:       sideVerb(side.Opposite()),
		OrderType:  "Market",
		Quantity:   formatFloat(qty),
		ReduceOnly: true,
	}, symbol, side.Opposite())
}

func (c *Client) placeOrder(ctx context.Context, ob orderBody, symbol string, side common.Side) (common.OrderResult, error) {
	payload, err := json.Marshal(ob)
	if err != nil {
		return common.OrderResult{}, err
	}
	body, err := c.do(ctx, http.MethodPost, "/api/v1/order", payload)
	if err != nil {
		return common.OrderResult{}, err
	}
	var resp struct {
		ID       string `json:"id"`
		Status   string `json:"status"`
		Quantity string `json:"quantity"`
		Price    string `json:"price"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return common.OrderResult{}, fmt.Errorf("decode order ack: %w", err)
	}
	qty, _ := strconv.ParseFloat(resp.Quantity, 64)
	price, _ := strconv.ParseFloat(resp.Price, 64)
	return common.OrderResult{
		OrderID:  resp.ID,
		Symbol:   common.NormalizeSymbol(symbol),
		Side:     side,
		Quantity: qty,
		Price:    price,
		Status:   mapStatus(resp.Status),
	}, nil
}

func (c *Client) CancelOrder(ctx context.Context, symbol, orderID string) error {
	payload, _ := json.Marshal(map[string]string{
		"symbol":  venueSymbol(symbol),
		"orderId": orderID,
	})
	_, err := c.do(ctx, http.MethodDelete, "/api/v1/order", payload)
	var ae *common.APIError
	if errors.As(err, &ae) && ae.Status == http.StatusNotFound {
		return common.ErrOrderNotFound
	}
	return err
}

func (c *Client) GetOrder(ctx context.Context, symbol, orderID string) (common.OrderResult, error) {
	path := "/api/v1/order?symbol=" + venueSymbol(symbol) + "&orderId=" + orderID
	body, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		var ae *common.APIError
		if errors.As(err, &ae) && ae.Status == http.StatusNotFound {
			return common.OrderResult{}, common.ErrOrderNotFound
		}
		return common.OrderResult{}, err
	}
	var resp struct {
		ID       string `json:"id"`
		Side     string `json:"side"`
		Status   string `json:"status"`
		Quantity string `json:"quantity"`
		Price    string `json:"price"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return common.OrderResult{}, fmt.Errorf("decode order: %w", err)
	}
	qty, _ := strconv.ParseFloat(resp.Quantity, 64)
	price, _ := strconv.ParseFloat(resp.Price, 64)
	side := common.SideLong
	if strings.EqualFold(resp.Side, "Ask") || strings.EqualFold(resp.Side, "SELL") {
		side = common.SideShort
	}
	return common.OrderResult{
		OrderID:  resp.ID,
		Symbol:   common.NormalizeSymbol(symbol),
		Side:     side,
		Quantity: qty,
		Price:    price,
		Status:   mapStatus(resp.Status),
	}, nil
}

// do signs and sends one request under the retry policy. A signature
// rejection (401 with the venue's invalid-signature code) gets exactly one
// extra attempt with a fresh timestamp before being surfaced.
func (c *Client) do(ctx context.Context, method, path string, payload []byte) ([]byte, error) {
	var body []byte
	err := c.retry.Do(ctx, func() error {
		var err error
		body, err = c.send(ctx, method, path, payload)
		if isSignatureRejection(err) {
			// Fresh timestamp, single retry.
			body, err = c.send(ctx, method, path, payload)
		}
		return err
	})
	return body, err
}

func (c *Client) send(ctx context.Context, method, path string, payload []byte) ([]byte, error) {
	if err := c.pacer.Wait(ctx); err != nil {
		return nil, err
	}
	ts := strconv.FormatInt(time.Now().UnixMilli(), 10)

	// Signing payload: {apiKey}{timestamp}{path}{method}{body}.
	var msg bytes.Buffer
	msg.WriteString(c.cfg.APIKey)
	msg.WriteString(ts)
	msg.WriteString(path)
	msg.WriteString(method)
	msg.Write(payload)
	sig := base64.StdEncoding.EncodeToString(ed25519.Sign(c.key, msg.Bytes()))

	var reader io.Reader
	if len(payload) > 0 {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	if len(payload) > 0 {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("X-API-KEY", c.cfg.APIKey)
	req.Header.Set("X-TIMESTAMP", ts)
	req.Header.Set("X-SIGNATURE", sig)

	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	body, _ := io.ReadAll(res.Body)
	if res.StatusCode >= 300 {
		var venueErr struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		}
		_ = json.Unmarshal(body, &venueErr)
		msg := venueErr.Message
		if msg == "" {
			msg = string(body)
		}
		return nil, &common.APIError{Status: res.StatusCode, Code: venueErr.Code, Message: msg}
	}
	return body, nil
}

func isSignatureRejection(err error) bool {
	var ae *common.APIError
	return errors.As(err, &ae) && ae.Status == http.StatusUnauthorized &&
		strings.Contains(strings.ToUpper(ae.Code), "SIGNATURE")
}

type positionRow struct {
	Symbol     string `json:"symbol"`
	NetQty     string `json:"netQuantity"`
	EntryPrice string `json:"entryPrice"`
	MarkPrice  string `json:"markPrice"`
}

func (r positionRow) toPosition() (common.ExchangePosition, bool) {
	qty, _ := strconv.ParseFloat(r.NetQty, 64)
	if qty == 0 {
		return common.ExchangePosition{}, false
	}
	entry, _ := strconv.ParseFloat(r.EntryPrice, 64)
	mark, _ := strconv.ParseFloat(r.MarkPrice, 64)
	side := common.SideLong
	if qty < 0 {
		side = common.SideShort
		qty = -qty
	}
	return common.ExchangePosition{
		Symbol:     common.NormalizeSymbol(r.Symbol),
		Side:       side,
		Quantity:   qty,
		EntryPrice: entry,
		MarkPrice:  mark,
	}, true
}

func sideVerb(s common.Side) string {
	if s == common.SideLong {
		return "Bid"
	}
	return "Ask"
}

func mapStatus(s string) common.OrderStatus {
	switch strings.ToUpper(s) {
	case "NEW", "TRIGGERPENDING":
		return common.StatusNew
	case "PARTIALLYFILLED":
		return common.StatusPartial
	case "FILLED":
		return common.StatusFilled
	case "CANCELLED", "CANCELED", "EXPIRED":
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
