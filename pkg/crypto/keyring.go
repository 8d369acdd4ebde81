package crypto

import (
	"errors"
	"fmt"
	"os"
	"sync"
)

var ErrNoKey = errors.New("no credential encryption key configured")

// envKeyName is the base environment variable; rotated versions append _V<n>.
const envKeyName = "CREDENTIAL_MASTER_KEY"

// KeyRing holds every loaded key version and seals with the newest one.
// Older versions stay available so rows sealed before a rotation still open.
type KeyRing struct {
	mu      sync.RWMutex
	ciphers map[int]*SecretCipher
	current int
}

// LoadKeyRing reads base64 keys from the environment:
// CREDENTIAL_MASTER_KEY (v1), CREDENTIAL_MASTER_KEY_V2, ... The highest
// present version becomes the sealing key.
func LoadKeyRing() (*KeyRing, error) {
	kr := &KeyRing{ciphers: make(map[int]*SecretCipher)}

	if err := kr.addFromEnv(1, envKeyName); err != nil {
		return nil, err
	}
	kr.current = 1
	for v := 2; v <= 10; v++ {
		if err := kr.addFromEnv(v, fmt.Sprintf("%s_V%d", envKeyName, v)); err == nil {
			kr.current = v
		}
	}
	return kr, nil
}

func (kr *KeyRing) addFromEnv(version int, envName string) error {
	raw := os.Getenv(envName)
	if raw == "" {
		return ErrNoKey
	}
	key, err := decodeKey(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", envName, err)
	}
	c, err := NewSecretCipher(key, version)
	if err != nil {
		return fmt.Errorf("%s: %w", envName, err)
	}
	kr.mu.Lock()
	kr.ciphers[version] = c
	kr.mu.Unlock()
	return nil
}

// Seal encrypts with the newest key version.
func (kr *KeyRing) Seal(plaintext string) (string, error) {
	kr.mu.RLock()
	c := kr.ciphers[kr.current]
	kr.mu.RUnlock()
	if c == nil {
		return "", ErrNoKey
	}
	return c.Seal(plaintext)
}

// Open decrypts with whichever key version sealed the value. Unsealed input
// is returned unchanged so legacy plaintext rows keep working.
func (kr *KeyRing) Open(value string) (string, error) {
	if !IsSealed(value) {
		return value, nil
	}
	version, _, err := splitCiphertext(value)
	if err != nil {
		return "", err
	}
	kr.mu.RLock()
	c := kr.ciphers[version]
	kr.mu.RUnlock()
	if c == nil {
		return "", fmt.Errorf("no key loaded for ciphertext version %d", version)
	}
	return c.Open(value)
}
