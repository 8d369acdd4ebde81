package credentials

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"execution-core/pkg/cache"
	"execution-core/pkg/crypto"
	"execution-core/pkg/db"
	"execution-core/pkg/exchanges"
	"execution-core/pkg/exchanges/common"
)

// ErrCredentialNotFound is returned when no usable credential exists
// for an (owner, exchange, environment) tuple. Store errors collapse
// into this so callers never act on a partially resolved credential.
var ErrCredentialNotFound = errors.New("credential not found")

// cacheTTL bounds how long a decrypted credential may be reused
// before the store is consulted again.
const cacheTTL = 30 * time.Second

// Store is the subset of the database the resolver needs.
type Store interface {
	GetCredential(ctx context.Context, ownerID, exchangeID, environment string) (*db.Credential, error)
}

// Resolver turns (owner, exchange, environment) tuples into decrypted
// exchange credentials, caching results briefly to keep hot execution
// paths off the database.
type Resolver struct {
	store Store
	ring  *crypto.KeyRing
	cache *cache.TTL[exchanges.Credentials]
}

// NewResolver builds a Resolver over the given store and key ring.
func NewResolver(store Store, ring *crypto.KeyRing) *Resolver {
	return &Resolver{
		store: store,
		ring:  ring,
		cache: cache.NewTTL[exchanges.Credentials](cacheTTL),
	}
}

func cacheKey(ownerID, exchangeID, environment string) string {
	return ownerID + "|" + exchangeID + "|" + environment
}

// Resolve returns decrypted credentials for the tuple. Lookups that
// fail for any reason surface as ErrCredentialNotFound; the underlying
// cause is logged, never returned, so secrets and store internals stay
// out of caller-visible errors.
func (r *Resolver) Resolve(ctx context.Context, ownerID, exchangeID, environment string) (exchanges.Credentials, error) {
	key := cacheKey(ownerID, exchangeID, environment)
	if creds, ok := r.cache.Get(key); ok {
		return creds, nil
	}

	row, err := r.store.GetCredential(ctx, ownerID, exchangeID, environment)
	if err != nil {
		if !errors.Is(err, db.ErrNotFound) {
			log.Printf("credentials: store lookup failed for owner=%s exchange=%s: %v", ownerID, exchangeID, err)
		}
		return exchanges.Credentials{}, ErrCredentialNotFound
	}

	creds, err := r.open(row)
	if err != nil {
		log.Printf("credentials: decrypt failed for owner=%s exchange=%s: %v", ownerID, exchangeID, err)
		return exchanges.Credentials{}, ErrCredentialNotFound
	}

	r.cache.Set(key, creds)
	return creds, nil
}

// Adapter resolves credentials and constructs the matching exchange
// adapter in one step.
func (r *Resolver) Adapter(ctx context.Context, ownerID, exchangeID, environment string) (common.Adapter, error) {
	creds, err := r.Resolve(ctx, ownerID, exchangeID, environment)
	if err != nil {
		return nil, err
	}
	adapter, err := exchanges.New(exchangeID, creds)
	if err != nil {
		return nil, fmt.Errorf("build adapter: %w", err)
	}
	return adapter, nil
}

// Invalidate drops any cached credential for the tuple. Called after
// credential rotation and when a venue rejects authentication.
func (r *Resolver) Invalidate(ownerID, exchangeID, environment string) {
	r.cache.Invalidate(cacheKey(ownerID, exchangeID, environment))
}

func (r *Resolver) open(row *db.Credential) (exchanges.Credentials, error) {
	apiKey, err := r.ring.Open(row.APIKey)
	if err != nil {
		return exchanges.Credentials{}, fmt.Errorf("api key: %w", err)
	}
	apiSecret, err := r.ring.Open(row.APISecret)
	if err != nil {
		return exchanges.Credentials{}, fmt.Errorf("api secret: %w", err)
	}
	password, err := r.ring.Open(row.Password)
	if err != nil {
		return exchanges.Credentials{}, fmt.Errorf("password: %w", err)
	}
	pin, err := r.ring.Open(row.PIN)
	if err != nil {
		return exchanges.Credentials{}, fmt.Errorf("pin: %w", err)
	}
	accessToken, err := r.ring.Open(row.AccessToken)
	if err != nil {
		return exchanges.Credentials{}, fmt.Errorf("access token: %w", err)
	}

	return exchanges.Credentials{
		APIKey:      apiKey,
		APISecret:   apiSecret,
		Identifier:  row.Identifier,
		Password:    password,
		PIN:         pin,
		AccessToken: accessToken,
		IssuedAt:    row.TokenIssuedAt,
		Environment: common.Environment(row.Environment),
	}, nil
}
