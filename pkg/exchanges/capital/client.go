// Package capital is the session-token adapter (Capital.com-style CFD API).
// Authentication is a session login that yields two short-lived header tokens;
// the adapter refreshes them proactively before expiry and transparently
// retries exactly once on a 401 after forcing a fresh login. Instruments are
// addressed by venue "epic" tokens, translated from canonical symbols.
package capital

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"execution-core/pkg/exchanges/common"
)

// sessionLifetime is how long the venue keeps the token pair alive; we renew
// with a margin so in-flight calls never race expiry.
const (
	sessionLifetime = 10 * time.Minute
	renewMargin     = 1 * time.Minute
)

// Config holds session login credentials. PIN is the optional dealing PIN
// some accounts require on the session endpoint.
type Config struct {
	APIKey      string
	Identifier  string
	Password    string
	PIN         string
	Environment common.Environment
}

// Client implements common.Adapter.
type Client struct {
	cfg        Config
	baseURL    string
	httpClient *http.Client
	pacer      *common.Pacer
	retry      common.RetryPolicy

	mu         sync.Mutex
	cst        string
	secToken   string
	sessionExp time.Time
}

func New(cfg Config) *Client {
	base := "https://api-capital.backend-capital.com"
	if cfg.Environment == common.EnvSandbox {
		base = "https://demo-api-capital.backend-capital.com"
	}
	return &Client{
		cfg:        cfg,
		baseURL:    base,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		pacer:      common.NewPacer(8, 16),
		retry:      common.DefaultRetryPolicy(),
	}
}

func (c *Client) Capabilities() common.Capabilities {
	return common.Capabilities{
		ExchangeID:         "capital",
		SupportsStopOrders: true,
		SupportsTakeProfit: true,
		RequiresPIN:        c.cfg.PIN != "",
		HasSandbox:         true,
	}
}

// Venue epics for the common crypto pairs; anything unmapped falls back to
// the concatenated form, which matches the venue's convention for the rest.
var epicBySymbol = map[string]string{
	"BTC/USD": "BTCUSD",
	"ETH/USD": "ETHUSD",
	"SOL/USD": "SOLUSD",
	"XRP/USD": "XRPUSD",
}

func toEpic(symbol string) string {
	canon := common.NormalizeSymbol(symbol)
	if epic, ok := epicBySymbol[canon]; ok {
		return epic
	}
	return common.VenueSymbol(canon, "")
}

func fromEpic(epic string) string {
	for sym, e := range epicBySymbol {
		if e == epic {
			return sym
		}
	}
	return common.NormalizeSymbol(epic)
}

// login opens a fresh session and stores the token pair.
func (c *Client) login(ctx context.Context) error {
	payload := map[string]string{
		"identifier": c.cfg.Identifier,
		"password":   c.cfg.Password,
	}
	if c.cfg.PIN != "" {
		payload["pin"] = c.cfg.PIN
	}
	body, _ := json.Marshal(payload)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/session", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-CAP-API-KEY", c.cfg.APIKey)

	res, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode >= 300 {
		b, _ := io.ReadAll(res.Body)
		return &common.APIError{Status: res.StatusCode, Message: "session login: " + string(b)}
	}

	c.mu.Lock()
	c.cst = res.Header.Get("CST")
	c.secToken = res.Header.Get("X-SECURITY-TOKEN")
	c.sessionExp = time.Now().Add(sessionLifetime)
	c.mu.Unlock()

	if c.cst == "" || c.secToken == "" {
		return errors.New("capital: session login returned no tokens")
	}
	return nil
}

// ensureSession logs in when no session exists or it is close to expiry.
func (c *Client) ensureSession(ctx context.Context) error {
	c.mu.Lock()
	valid := c.cst != "" && time.Until(c.sessionExp) > renewMargin
	c.mu.Unlock()
	if valid {
		return nil
	}
	return c.login(ctx)
}

// do sends one authenticated request. On a 401 the session is re-established
// and the request replayed exactly once.
func (c *Client) do(ctx context.Context, method, path string, payload any) ([]byte, error) {
	var out []byte
	err := c.retry.Do(ctx, func() error {
		var err error
		out, err = c.send(ctx, method, path, payload)
		var ae *common.APIError
		if errors.As(err, &ae) && ae.Status == http.StatusUnauthorized {
			if lerr := c.login(ctx); lerr != nil {
				return lerr
			}
			out, err = c.send(ctx, method, path, payload)
		}
		return err
	})
	return out, err
}

func (c *Client) send(ctx context.Context, method, path string, payload any) ([]byte, error) {
	if err := c.ensureSession(ctx); err != nil {
		return nil, err
	}
	if err := c.pacer.Wait(ctx); err != nil {
		return nil, err
	}

	var reader io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.mu.Lock()
	req.Header.Set("CST", c.cst)
	req.Header.Set("X-SECURITY-TOKEN", c.secToken)
	c.mu.Unlock()
	req.Header.Set("X-CAP-API-KEY", c.cfg.APIKey)

	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	body, _ := io.ReadAll(res.Body)
	if res.StatusCode >= 300 {
		var venueErr struct {
			ErrorCode string `json:"errorCode"`
		}
		_ = json.Unmarshal(body, &venueErr)
		msg := venueErr.ErrorCode
		if msg == "" {
			msg = string(body)
		}
		return nil, &common.APIError{Status: res.StatusCode, Code: venueErr.ErrorCode, Message: msg}
	}
	return body, nil
}

func (c *Client) GetBalance(ctx context.Context) ([]common.AssetBalance, error) {
	body, err := c.do(ctx, http.MethodGet, "/api/v1/accounts", nil)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Accounts []struct {
			Currency string `json:"currency"`
			Balance  struct {
				Balance   float64 `json:"balance"`
				Available float64 `json:"available"`
			} `json:"balance"`
		} `json:"accounts"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode accounts: %w", err)
	}
	out := make([]common.AssetBalance, 0, len(resp.Accounts))
	for _, a := range resp.Accounts {
		out = append(out, common.AssetBalance{
			Asset:     a.Currency,
			Available: a.Balance.Available,
			Total:     a.Balance.Balance,
		})
	}
	return out, nil
}

func (c *Client) GetAvailableMargin(ctx context.Context) (float64, error) {
	balances, err := c.GetBalance(ctx)
	if err != nil {
		return 0, err
	}
	var total float64
	for _, b := range balances {
		total += b.Available
	}
	return total, nil
}

type dealRow struct {
	Position struct {
		DealID    string  `json:"dealId"`
		Direction string  `json:"direction"`
		Size      float64 `json:"size"`
		Level     float64 `json:"level"`
	} `json:"position"`
	Market struct {
		Epic string  `json:"epic"`
		Bid  float64 `json:"bid"`
		Offer float64 `json:"offer"`
	} `json:"market"`
}

func (c *Client) GetPositions(ctx context.Context) ([]common.ExchangePosition, error) {
	body, err := c.do(ctx, http.MethodGet, "/api/v1/positions", nil)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Positions []dealRow `json:"positions"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode positions: %w", err)
	}
	out := make([]common.ExchangePosition, 0, len(resp.Positions))
	for _, r := range resp.Positions {
		side := common.SideLong
		if strings.EqualFold(r.Position.Direction, "SELL") {
			side = common.SideShort
		}
		out = append(out, common.ExchangePosition{
			Symbol:     fromEpic(r.Market.Epic),
			Side:       side,
			Quantity:   r.Position.Size,
			EntryPrice: r.Position.Level,
			MarkPrice:  (r.Market.Bid + r.Market.Offer) / 2,
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
	body, err := c.do(ctx, http.MethodGet, "/api/v1/markets/"+toEpic(symbol), nil)
	if err != nil {
		return common.Ticker{}, err
	}
	var resp struct {
		Snapshot struct {
			Bid   float64 `json:"bid"`
			Offer float64 `json:"offer"`
		} `json:"snapshot"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return common.Ticker{}, fmt.Errorf("decode market: %w", err)
	}
	return common.Ticker{
		Symbol: common.NormalizeSymbol(symbol),
		Last:   (resp.Snapshot.Bid + resp.Snapshot.Offer) / 2,
		Bid:    resp.Snapshot.Bid,
		Ask:    resp.Snapshot.Offer,
		At:     time.Now(),
	}, nil
}

func (c *Client) PlaceMarketOrder(ctx context.Context, symbol string, side common.Side, qty float64) (common.OrderResult, error) {
	return c.createDeal(ctx, symbol, side, qty, map[string]any{
		"epic":      toEpic(symbol),
		"direction": side.OrderSide(),
		"size":      qty,
	})
}

func (c *Client) PlaceLimitOrder(ctx context.Context, symbol string, side common.Side, qty, price float64) (common.OrderResult, error) {
	body, err := c.do(ctx, http.MethodPost, "/api/v1/workingorders", map[string]any{
		"epic":      toEpic(symbol),
		"direction": side.OrderSide(),
		"size":      qty,
		"level":     price,
		"type":      "LIMIT",
	})
	if err != nil {
		return common.OrderResult{}, err
	}
	return c.confirm(ctx, body, symbol, side, qty, price)
}

func (c *Client) PlaceStopLoss(ctx context.Context, symbol string, side common.Side, qty, stopPrice float64) (common.OrderResult, error) {
	body, err := c.do(ctx, http.MethodPost, "/api/v1/workingorders", map[string]any{
		"epic":      toEpic(symbol),
		"direction": side.Opposite().OrderSide(),
		"size":      qty,
		"level":     stopPrice,
		"type":      "STOP",
	})
	if err != nil {
		return common.OrderResult{}, err
	}
	return c.confirm(ctx, body, symbol, side.Opposite(), qty, stopPrice)
}

func (c *Client) PlaceTakeProfit(ctx context.Context, symbol string, side common.Side, qty, price float64) (common.OrderResult, error) {
	body, err := c.do(ctx, http.MethodPost, "/api/v1/workingorders", map[string]any{
		"epic":      toEpic(symbol),
		"direction": side.Opposite().OrderSide(),
		"size":      qty,
		"level":     price,
		"type":      "LIMIT",
	})
	if err != nil {
		return common.OrderResult{}, err
	}
	return c.confirm(ctx, body, symbol, side.Opposite(), qty, price)
}

func (c *Client) ClosePosition(ctx context.Context, symbol string, side common.Side, qty float64) (common.OrderResult, error) {
	return c.createDeal(ctx, symbol, side.Opposite(), qty, map[string]any{
		"epic":      toEpic(symbol),
		"direction": side.Opposite().OrderSide(),
		"size":      qty,
	})
}

func (c *Client) createDeal(ctx context.Context, symbol string, side common.Side, qty float64, payload map[string]any) (common.OrderResult, error) {
	body, err := c.do(ctx, http.MethodPost, "/api/v1/positions", payload)
	if err != nil {
		return common.OrderResult{}, err
	}
	return c.confirm(ctx, body, symbol, side, qty, 0)
}

// confirm resolves a deal reference into its accepted/rejected outcome.
func (c *Client) confirm(ctx context.Context, ackBody []byte, symbol string, side common.Side, qty, price float64) (common.OrderResult, error) {
	var ack struct {
		DealReference string `json:"dealReference"`
	}
	if err := json.Unmarshal(ackBody, &ack); err != nil {
		return common.OrderResult{}, fmt.Errorf("decode deal ref: %w", err)
	}
	body, err := c.do(ctx, http.MethodGet, "/api/v1/confirms/"+ack.DealReference, nil)
	if err != nil {
		return common.OrderResult{}, err
	}
	var conf struct {
		DealID string  `json:"dealId"`
		Status string  `json:"dealStatus"`
		Level  float64 `json:"level"`
		Reason string  `json:"rejectReason"`
	}
	if err := json.Unmarshal(body, &conf); err != nil {
		return common.OrderResult{}, fmt.Errorf("decode confirm: %w", err)
	}
	status := common.StatusFilled
	if !strings.EqualFold(conf.Status, "ACCEPTED") {
		status = common.StatusRejected
	}
	if status == common.StatusRejected {
		return common.OrderResult{}, &common.APIError{
			Status:  http.StatusUnprocessableEntity,
			Code:    conf.Reason,
			Message: "deal rejected: " + conf.Reason,
		}
	}
	fill := conf.Level
	if fill == 0 {
		fill = price
	}
	return common.OrderResult{
		OrderID:   conf.DealID,
		Symbol:    common.NormalizeSymbol(symbol),
		Side:      side,
		Quantity:  qty,
		Price:     price,
		Status:    status,
		AvgFillPx: fill,
	}, nil
}

func (c *Client) CancelOrder(ctx context.Context, symbol, orderID string) error {
	_, err := c.do(ctx, http.MethodDelete, "/api/v1/workingorders/"+orderID, nil)
	var ae *common.APIError
	if errors.As(err, &ae) && ae.Status == http.StatusNotFound {
		return common.ErrOrderNotFound
	}
	return err
}

func (c *Client) GetOrder(ctx context.Context, symbol, orderID string) (common.OrderResult, error) {
	body, err := c.do(ctx, http.MethodGet, "/api/v1/workingorders", nil)
	if err != nil {
		return common.OrderResult{}, err
	}
	var resp struct {
		WorkingOrders []struct {
			WorkingOrderData struct {
				DealID    string  `json:"dealId"`
				Direction string  `json:"direction"`
				Size      float64 `json:"orderSize"`
				Level     float64 `json:"orderLevel"`
			} `json:"workingOrderData"`
		} `json:"workingOrders"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return common.OrderResult{}, fmt.Errorf("decode working orders: %w", err)
	}
	for _, wo := range resp.WorkingOrders {
		if wo.WorkingOrderData.DealID == orderID {
			side := common.SideLong
			if strings.EqualFold(wo.WorkingOrderData.Direction, "SELL") {
				side = common.SideShort
			}
			return common.OrderResult{
				OrderID:  wo.WorkingOrderData.DealID,
				Symbol:   common.NormalizeSymbol(symbol),
				Side:     side,
				Quantity: wo.WorkingOrderData.Size,
				Price:    wo.WorkingOrderData.Level,
				Status:   common.StatusNew,
			}, nil
		}
	}
	return common.OrderResult{}, common.ErrOrderNotFound
}
