// Package crypto encrypts credential secret material at rest.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

const (
	keySize   = 32 // AES-256
	nonceSize = 12 // GCM standard
	prefix    = "enc:v"
)

var (
	ErrBadKey        = errors.New("encryption key must be 32 bytes")
	ErrBadCiphertext = errors.New("malformed ciphertext")
)

// SecretCipher seals and opens strings with AES-256-GCM. Output format is
// enc:v<N>:<base64(nonce || ciphertext)> so key rotation can dispatch on N.
type SecretCipher struct {
	aead    cipher.AEAD
	version int
}

// NewSecretCipher builds a cipher for one key version.
func NewSecretCipher(key []byte, version int) (*SecretCipher, error) {
	if len(key) != keySize {
		return nil, ErrBadKey
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aes cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("gcm: %w", err)
	}
	return &SecretCipher{aead: aead, version: version}, nil
}

// Seal encrypts plaintext and prepends the version tag.
func (c *SecretCipher) Seal(plaintext string) (string, error) {
	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("nonce: %w", err)
	}
	sealed := c.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return prefix + strconv.Itoa(c.version) + ":" + base64.StdEncoding.EncodeToString(sealed), nil
}

// Open decrypts output of Seal for this cipher's version.
func (c *SecretCipher) Open(ciphertext string) (string, error) {
	_, payload, err := splitCiphertext(ciphertext)
	if err != nil {
		return "", err
	}
	if len(payload) < nonceSize {
		return "", ErrBadCiphertext
	}
	plain, err := c.aead.Open(nil, payload[:nonceSize], payload[nonceSize:], nil)
	if err != nil {
		return "", fmt.Errorf("open ciphertext: %w", err)
	}
	return string(plain), nil
}

// IsSealed reports whether s carries the envelope prefix. Plaintext rows from
// before encryption was enabled pass through untouched.
func IsSealed(s string) bool {
	return strings.HasPrefix(s, prefix)
}

func splitCiphertext(s string) (version int, payload []byte, err error) {
	if !strings.HasPrefix(s, prefix) {
		return 0, nil, ErrBadCiphertext
	}
	rest := s[len(prefix):]
	i := strings.IndexByte(rest, ':')
	if i <= 0 {
		return 0, nil, ErrBadCiphertext
	}
	version, err = strconv.Atoi(rest[:i])
	if err != nil {
		return 0, nil, ErrBadCiphertext
	}
	payload, err = base64.StdEncoding.DecodeString(rest[i+1:])
	if err != nil {
		return 0, nil, ErrBadCiphertext
	}
	return version, payload, nil
}
