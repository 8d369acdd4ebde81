package binancefut

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"execution-core/pkg/exchanges/common"
)

// signedServer validates the HMAC over the query string excluding the
// trailing signature parameter, same as the venue does.
func signedServer(t *testing.T, secret string, respond func(w http.ResponseWriter, r *http.Request)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := r.URL.RawQuery
		i := strings.LastIndex(raw, "&signature=")
		if i < 0 {
			t.Error("request missing signature parameter")
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if want := signHMAC(raw[:i], secret); raw[i+len("&signature="):] != want {
			w.WriteHeader(http.StatusUnauthorized)
			fmt.Fprint(w, `{"code":-1022,"msg":"Signature for this request is not valid."}`)
			return
		}
		if r.Header.Get("X-MBX-APIKEY") == "" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		respond(w, r)
	}))
}

func TestSignedRequestAcceptedByVenue(t *testing.T) {
	secret := "test-secret"
	ts := signedServer(t, secret, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"availableBalance":"2500.75"}`)
	})
	t.Cleanup(ts.Close)

	c := New(Config{APIKey: "key", APISecret: secret})
	c.baseURL = ts.URL

	margin, err := c.GetAvailableMargin(context.Background())
	if err != nil {
		t.Fatalf("GetAvailableMargin: %v", err)
	}
	if margin != 2500.75 {
		t.Errorf("margin = %v, want 2500.75", margin)
	}
}

func TestVenueErrorMapping(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"code":-4164,"msg":"Order's notional must be no smaller than 5"}`)
	}))
	t.Cleanup(ts.Close)

	c := New(Config{APIKey: "key", APISecret: "secret"})
	c.baseURL = ts.URL

	_, err := c.GetAvailableMargin(context.Background())
	if !common.IsRejected(err) {
		t.Fatalf("expected venue rejection, got %v", err)
	}
}

func TestTransientErrorsRetried(t *testing.T) {
	var requests atomic.Int64
	secret := "test-secret"
	ts := signedServer(t, secret, func(w http.ResponseWriter, r *http.Request) {
		if requests.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, `{"availableBalance":"100"}`)
	})
	t.Cleanup(ts.Close)

	c := New(Config{APIKey: "key", APISecret: secret})
	c.baseURL = ts.URL
	c.retry = common.RetryPolicy{MaxAttempts: 3, BaseDelay: 0}

	margin, err := c.GetAvailableMargin(context.Background())
	if err != nil {
		t.Fatalf("GetAvailableMargin after retry: %v", err)
	}
	if margin != 100 {
		t.Errorf("margin = %v", margin)
	}
	if got := requests.Load(); got != 2 {
		t.Errorf("requests = %d, want 2", got)
	}
}

func TestSandboxRoutesToTestnet(t *testing.T) {
	c := New(Config{APIKey: "k", APISecret: "s", Environment: common.EnvSandbox})
	if c.baseURL != "https://testnet.binancefuture.com" {
		t.Errorf("sandbox baseURL = %q", c.baseURL)
	}
}

func TestVenueSymbolDropsSettleSuffix(t *testing.T) {
	if got := venueSymbol("BTC/USDT:USDT"); got != "BTCUSDT" {
		t.Errorf("venueSymbol = %q", got)
	}
}
