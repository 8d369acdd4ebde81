package exchanges

import (
	"crypto/ed25519"
	"encoding/base64"
	"testing"
)

func TestNewKnownExchanges(t *testing.T) {
	seed := base64.StdEncoding.EncodeToString(make([]byte, ed25519.SeedSize))
	cases := []struct {
		exchangeID string
		creds      Credentials
	}{
		{"binance-futures", Credentials{APIKey: "k", APISecret: "s"}},
		{"backpack", Credentials{APIKey: "k", APISecret: seed}},
		{"capital", Credentials{APIKey: "k", Identifier: "user", Password: "pw"}},
		{"kite", Credentials{APIKey: "k", AccessToken: "t"}},
	}
	for _, tc := range cases {
		t.Run(tc.exchangeID, func(t *testing.T) {
			adapter, err := New(tc.exchangeID, tc.creds)
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			if got := adapter.Capabilities().ExchangeID; got != tc.exchangeID {
				t.Errorf("ExchangeID = %q", got)
			}
		})
	}
}

func TestNewUnknownExchange(t *testing.T) {
	if _, err := New("vertex", Credentials{}); err == nil {
		t.Error("unknown exchange id accepted")
	}
}
