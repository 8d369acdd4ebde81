package credentials

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"testing"

	"execution-core/pkg/crypto"
	"execution-core/pkg/db"
)

type fakeStore struct {
	rows  map[string]*db.Credential
	err   error
	calls int
}

func (f *fakeStore) GetCredential(_ context.Context, ownerID, exchangeID, environment string) (*db.Credential, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	row, ok := f.rows[ownerID+"|"+exchangeID+"|"+environment]
	if !ok {
		return nil, db.ErrNotFound
	}
	return row, nil
}

func testRing(t *testing.T) *crypto.KeyRing {
	t.Helper()
	key := base64.StdEncoding.EncodeToString(make([]byte, 32))
	t.Setenv("CREDENTIAL_MASTER_KEY", key)
	ring, err := crypto.LoadKeyRing()
	if err != nil {
		t.Fatalf("load key ring: %v", err)
	}
	return ring
}

func TestResolveDecryptsSealedSecrets(t *testing.T) {
	ring := testRing(t)
	sealedKey, err := ring.Seal("my-api-key")
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	sealedSecret, err := ring.Seal("my-api-secret")
	if err != nil {
		t.Fatalf("seal: %v", err)
	}

	store := &fakeStore{rows: map[string]*db.Credential{
		"owner-1|binance-futures|production": {
			OwnerID:    "owner-1",
			ExchangeID: "binance-futures",
			APIKey:     sealedKey,
			APISecret:  sealedSecret,
		},
	}}
	r := NewResolver(store, ring)

	creds, err := r.Resolve(context.Background(), "owner-1", "binance-futures", "production")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if creds.APIKey != "my-api-key" || creds.APISecret != "my-api-secret" {
		t.Errorf("secrets not opened: %+v", creds)
	}
}

func TestResolveCachesWithinTTL(t *testing.T) {
	ring := testRing(t)
	store := &fakeStore{rows: map[string]*db.Credential{
		"owner-1|backpack|production": {OwnerID: "owner-1", ExchangeID: "backpack", APIKey: "k", APISecret: "s"},
	}}
	r := NewResolver(store, ring)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := r.Resolve(ctx, "owner-1", "backpack", "production"); err != nil {
			t.Fatalf("resolve %d: %v", i, err)
		}
	}
	if store.calls != 1 {
		t.Errorf("expected 1 store call, got %d", store.calls)
	}

	r.Invalidate("owner-1", "backpack", "production")
	if _, err := r.Resolve(ctx, "owner-1", "backpack", "production"); err != nil {
		t.Fatalf("resolve after invalidate: %v", err)
	}
	if store.calls != 2 {
		t.Errorf("expected store re-read after invalidate, got %d calls", store.calls)
	}
}

func TestResolveMissingRow(t *testing.T) {
	r := NewResolver(&fakeStore{}, testRing(t))
	_, err := r.Resolve(context.Background(), "owner-1", "kite", "production")
	if !errors.Is(err, ErrCredentialNotFound) {
		t.Errorf("expected ErrCredentialNotFound, got %v", err)
	}
}

func TestResolveStoreFailureCollapses(t *testing.T) {
	r := NewResolver(&fakeStore{err: fmt.Errorf("disk on fire")}, testRing(t))
	_, err := r.Resolve(context.Background(), "owner-1", "kite", "production")
	if !errors.Is(err, ErrCredentialNotFound) {
		t.Errorf("store failure must surface as ErrCredentialNotFound, got %v", err)
	}
}

func TestResolveBadCiphertext(t *testing.T) {
	store := &fakeStore{rows: map[string]*db.Credential{
		"owner-1|capital|production": {
			OwnerID: "owner-1", ExchangeID: "capital",
			APIKey: "enc:v1:not-base64!!!", APISecret: "s",
		},
	}}
	r := NewResolver(store, testRing(t))
	_, err := r.Resolve(context.Background(), "owner-1", "capital", "production")
	if !errors.Is(err, ErrCredentialNotFound) {
		t.Errorf("decrypt failure must surface as ErrCredentialNotFound, got %v", err)
	}
}
