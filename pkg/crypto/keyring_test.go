package crypto

import (
	"encoding/base64"
	"errors"
	"strings"
	"testing"
)

func encodedKey(fill byte) string {
	return base64.StdEncoding.EncodeToString(testKey(fill))
}

func TestLoadKeyRingRequiresBaseKey(t *testing.T) {
	t.Setenv(envKeyName, "")
	if _, err := LoadKeyRing(); !errors.Is(err, ErrNoKey) {
		t.Errorf("LoadKeyRing without key = %v, want ErrNoKey", err)
	}
}

func TestKeyRingSealsWithNewestVersion(t *testing.T) {
	t.Setenv(envKeyName, encodedKey(0x01))
	t.Setenv(envKeyName+"_V2", encodedKey(0x02))

	kr, err := LoadKeyRing()
	if err != nil {
		t.Fatalf("LoadKeyRing: %v", err)
	}
	sealed, err := kr.Seal("rotated")
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if !strings.HasPrefix(sealed, "enc:v2:") {
		t.Errorf("sealed with %q, want v2 envelope", sealed[:strings.LastIndexByte(sealed, ':')+1])
	}
}

func TestKeyRingOpensOlderVersions(t *testing.T) {
	t.Setenv(envKeyName, encodedKey(0x01))

	old, err := LoadKeyRing()
	if err != nil {
		t.Fatalf("LoadKeyRing: %v", err)
	}
	sealedV1, err := old.Seal("pre-rotation secret")
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}

	t.Setenv(envKeyName+"_V2", encodedKey(0x02))
	kr, err := LoadKeyRing()
	if err != nil {
		t.Fatalf("LoadKeyRing after rotation: %v", err)
	}
	got, err := kr.Open(sealedV1)
	if err != nil {
		t.Fatalf("Open v1 ciphertext: %v", err)
	}
	if got != "pre-rotation secret" {
		t.Errorf("Open = %q", got)
	}
}

func TestKeyRingPassesThroughPlaintext(t *testing.T) {
	t.Setenv(envKeyName, encodedKey(0x01))
	kr, err := LoadKeyRing()
	if err != nil {
		t.Fatalf("LoadKeyRing: %v", err)
	}
	got, err := kr.Open("legacy-plaintext-key")
	if err != nil {
		t.Fatalf("Open plaintext: %v", err)
	}
	if got != "legacy-plaintext-key" {
		t.Errorf("plaintext passthrough = %q", got)
	}
}

func TestKeyRingRejectsUnknownVersion(t *testing.T) {
	t.Setenv(envKeyName, encodedKey(0x01))
	kr, err := LoadKeyRing()
	if err != nil {
		t.Fatalf("LoadKeyRing: %v", err)
	}
	other, _ := NewSecretCipher(testKey(0x09), 9)
	sealed, _ := other.Seal("secret")
	if _, err := kr.Open(sealed); err == nil {
		t.Error("opened ciphertext for a key version the ring never loaded")
	}
}

func TestDecodeKeyAcceptsHex(t *testing.T) {
	hexKey := strings.Repeat("ab", 32)
	key, err := decodeKey(hexKey)
	if err != nil {
		t.Fatalf("decodeKey hex: %v", err)
	}
	if len(key) != 32 {
		t.Errorf("len = %d", len(key))
	}
	if _, err := decodeKey("not a key"); err == nil {
		t.Error("garbage key accepted")
	}
}
