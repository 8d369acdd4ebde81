package binancefut

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// signHMAC returns the hex HMAC-SHA256 of the encoded query string.
func signHMAC(data, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(data))
	return hex.EncodeToString(h.Sum(nil))
}
