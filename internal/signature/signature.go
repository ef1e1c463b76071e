// Package signature signs and checks partner payloads with HMAC-SHA256.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Header carries the hex signature on requests in both directions.
const Header = "X-Signature"

// Sign returns hex(HMAC-SHA256(secret, body)).
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify compares a presented signature against the body in constant time.
func Verify(secret string, body []byte, presented string) bool {
	decoded, err := hex.DecodeString(strings.TrimSpace(presented))
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), decoded)
}
