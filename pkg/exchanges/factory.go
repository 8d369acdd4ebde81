// Package exchanges constructs venue adapters from resolved credentials.
package exchanges

import (
	"fmt"
	"time"

	"execution-core/pkg/exchanges/backpack"
	"execution-core/pkg/exchanges/binancefut"
	"execution-core/pkg/exchanges/capital"
	"execution-core/pkg/exchanges/common"
	"execution-core/pkg/exchanges/kite"
)

// Credentials carries decrypted secret material for one (owner, exchange,
// environment). Which fields matter depends on the venue's auth family.
type Credentials struct {
	APIKey      string
	APISecret   string // HMAC secret or base64 Ed25519 seed
	Identifier  string // session-login identifier
	Password    string // session-login password
	PIN         string
	AccessToken string // daily-expiry venues
	IssuedAt    time.Time
	Environment common.Environment
}

// New builds the adapter for exchangeID. Unknown ids are a hard error,
// surfaced before any order is attempted.
func New(exchangeID string, creds Credentials) (common.Adapter, error) {
	switch exchangeID {
	case "binance-futures":
		return binancefut.New(binancefut.Config{
			APIKey:      creds.APIKey,
			APISecret:   creds.APISecret,
			Environment: creds.Environment,
		}), nil

	case "backpack":
		return backpack.New(backpack.Config{
			APIKey:      creds.APIKey,
			Seed:        creds.APISecret,
			Environment: creds.Environment,
		})

	case "capital":
		return capital.New(capital.Config{
			APIKey:      creds.APIKey,
			Identifier:  creds.Identifier,
			Password:    creds.Password,
			PIN:         creds.PIN,
			Environment: creds.Environment,
		}), nil

	case "kite":
		return kite.New(kite.Config{
			APIKey:      creds.APIKey,
			AccessToken: creds.AccessToken,
			IssuedAt:    creds.IssuedAt,
			Environment: creds.Environment,
		}), nil

	default:
		return nil, fmt.Errorf("unsupported exchange id: %s", exchangeID)
	}
}
