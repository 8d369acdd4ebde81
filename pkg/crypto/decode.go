package crypto

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

// decodeKey accepts base64 or hex encoded 32-byte keys.
func decodeKey(raw string) ([]byte, error) {
	if b, err := base64.StdEncoding.DecodeString(raw); err == nil && len(b) == keySize {
		return b, nil
	}
	if b, err := hex.DecodeString(raw); err == nil && len(b) == keySize {
		return b, nil
	}
	return nil, fmt.Errorf("key must decode to %d bytes (base64 or hex)", keySize)
}
