package market

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"execution-core/pkg/cache"
	"execution-core/pkg/exchanges/common"
)

// StreamClient feeds mark prices from Binance futures public
// websockets into a shared price cache. REST lookups stay the
// fallback when the stream is cold.
type StreamClient struct {
	streamURL string
	dialer    *websocket.Dialer
	cache     *cache.PriceCache

	// reconnect backoff bounds
	minBackoff time.Duration
	maxBackoff time.Duration
}

// NewStreamClient builds a websocket client writing into cache.
func NewStreamClient(c *cache.PriceCache) *StreamClient {
	return &StreamClient{
		streamURL:  (&url.URL{Scheme: "wss", Host: "fstream.binance.com", Path: "/stream"}).String(),
		dialer:     websocket.DefaultDialer,
		cache:      c,
		minBackoff: time.Second,
		maxBackoff: 30 * time.Second,
	}
}

// Run subscribes to the miniTicker stream for the given venue symbols
// and keeps the cache updated until ctx is cancelled. Reconnects with
// backoff on read failures.
func (c *StreamClient) Run(ctx context.Context, venueSymbols []string) {
	if len(venueSymbols) == 0 {
		return
	}
	streams := make([]string, 0, len(venueSymbols))
	for _, s := range venueSymbols {
		streams = append(streams, strings.ToLower(s)+"@miniTicker")
	}
	u := fmt.Sprintf("%s?streams=%s", c.streamURL, strings.Join(streams, "/"))

	backoff := c.minBackoff
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		err := c.readLoop(ctx, u)
		if ctx.Err() != nil {
			return
		}
		log.Printf("market stream: disconnected: %v, reconnecting in %s", err, backoff)
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > c.maxBackoff {
			backoff = c.maxBackoff
		}
	}
}

func (c *StreamClient) readLoop(ctx context.Context, u string) error {
	conn, _, err := c.dialer.DialContext(ctx, u, nil)
	if err != nil {
		return fmt.Errorf("dial stream: %w", err)
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		_ = conn.Close()
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) ||
				strings.Contains(err.Error(), "use of closed network connection") {
				return nil
			}
			return err
		}

		tick, err := parseMiniTicker(msg)
		if err != nil {
			log.Printf("market stream: parse error: %v", err)
			continue
		}
		c.cache.Set(common.NormalizeSymbol(tick.Symbol), tick.Last)
	}
}

// MiniTicker is the subset of the miniTicker payload we keep.
type MiniTicker struct {
	Symbol string
	Last   float64
	Time   int64
}

func parseMiniTicker(msg []byte) (MiniTicker, error) {
	var raw struct {
		Data struct {
			// EventType must be declared: without it Go's
			// case-insensitive field matching feeds the "e"
			// string into the int64 "E" field.
			EventType string `json:"e"`
			Symbol    string `json:"s"`
			Close     string `json:"c"`
			EventTime int64  `json:"E"`
		} `json:"data"`
	}
	if err := json.Unmarshal(msg, &raw); err != nil {
		return MiniTicker{}, err
	}
	if raw.Data.Symbol == "" {
		return MiniTicker{}, fmt.Errorf("empty miniTicker payload")
	}
	last, err := strconv.ParseFloat(raw.Data.Close, 64)
	if err != nil {
		return MiniTicker{}, fmt.Errorf("bad close price %q", raw.Data.Close)
	}
	return MiniTicker{Symbol: raw.Data.Symbol, Last: last, Time: raw.Data.EventTime}, nil
}
