package capital

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

// sessionServer fakes the venue: the session endpoint mints numbered token
// pairs, the accounts endpoint rejects tokens below minValidToken with 401.
type sessionServer struct {
	logins        atomic.Int64
	requests      atomic.Int64
	minValidToken int64
}

func (s *sessionServer) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/session", func(w http.ResponseWriter, r *http.Request) {
		n := s.logins.Add(1)
		w.Header().Set("CST", fmt.Sprintf("cst-%d", n))
		w.Header().Set("X-SECURITY-TOKEN", fmt.Sprintf("sec-%d", n))
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/api/v1/accounts", func(w http.ResponseWriter, r *http.Request) {
		s.requests.Add(1)
		var n int64
		fmt.Sscanf(r.Header.Get("CST"), "cst-%d", &n)
		if n < s.minValidToken {
			w.WriteHeader(http.StatusUnauthorized)
			fmt.Fprint(w, `{"errorCode":"error.security.token-invalid"}`)
			return
		}
		fmt.Fprint(w, `{"accounts":[{"currency":"USD","balance":{"balance":1000,"available":800}}]}`)
	})
	return mux
}

func newSessionClient(t *testing.T, srv *sessionServer) *Client {
	t.Helper()
	ts := httptest.NewServer(srv.handler())
	t.Cleanup(ts.Close)
	c := New(Config{APIKey: "k", Identifier: "user", Password: "pw"})
	c.baseURL = ts.URL
	return c
}

func TestSessionEstablishedLazilyAndReused(t *testing.T) {
	srv := &sessionServer{minValidToken: 1}
	c := newSessionClient(t, srv)

	for i := 0; i < 3; i++ {
		margin, err := c.GetAvailableMargin(context.Background())
		if err != nil {
			t.Fatalf("GetAvailableMargin: %v", err)
		}
		if margin != 800 {
			t.Errorf("margin = %v, want 800", margin)
		}
	}
	if got := srv.logins.Load(); got != 1 {
		t.Errorf("logins = %d, want 1 (session not reused)", got)
	}
}

func TestExpiredSessionReplayedOnce(t *testing.T) {
	// First token pair is already stale; the 401 must trigger exactly one
	// re-login and one replay.
	srv := &sessionServer{minValidToken: 2}
	c := newSessionClient(t, srv)

	margin, err := c.GetAvailableMargin(context.Background())
	if err != nil {
		t.Fatalf("GetAvailableMargin after forced re-login: %v", err)
	}
	if margin != 800 {
		t.Errorf("margin = %v, want 800", margin)
	}
	if got := srv.logins.Load(); got != 2 {
		t.Errorf("logins = %d, want 2", got)
	}
	if got := srv.requests.Load(); got != 2 {
		t.Errorf("account requests = %d, want 2 (one rejected, one replay)", got)
	}
}

func TestPersistentUnauthorizedSurfaces(t *testing.T) {
	srv := &sessionServer{minValidToken: 100}
	c := newSessionClient(t, srv)

	if _, err := c.GetAvailableMargin(context.Background()); err == nil {
		t.Error("persistent 401 did not surface an error")
	}
	// One initial attempt plus one replay after re-login, never a loop.
	if got := srv.requests.Load(); got != 2 {
		t.Errorf("account requests = %d, want 2", got)
	}
}

func TestEpicMapping(t *testing.T) {
	cases := []struct {
		symbol string
		epic   string
	}{
		{"BTC/USD", "BTCUSD"},
		{"btcusd", "BTCUSD"},
		{"ETH/USD", "ETHUSD"},
		// Unmapped symbols fall through to the plain concatenation.
		{"GOLD/USD", "GOLDUSD"},
	}
	for _, tc := range cases {
		if got := toEpic(tc.symbol); got != tc.epic {
			t.Errorf("toEpic(%q) = %q, want %q", tc.symbol, got, tc.epic)
		}
	}
}

func TestFromEpicRoundTrip(t *testing.T) {
	for _, sym := range []string{"BTC/USD", "ETH/USD", "SOL/USD", "XRP/USD"} {
		if got := fromEpic(toEpic(sym)); got != sym {
			t.Errorf("fromEpic(toEpic(%q)) = %q", sym, got)
		}
	}
}
