package platform

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
)

func hmacSHA256(payload []byte, secret string) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return mac.Sum(nil)
}

func hmacSHA256Hex(payload []byte, secret string) string {
	return hex.EncodeToString(hmacSHA256(payload, secret))
}

func hmacSHA256Base64(payload []byte, secret string) string {
	return base64.StdEncoding.EncodeToString(hmacSHA256(payload, secret))
}

// equalSignatures compares signature strings in constant time. Signature
// checks sit on a trust boundary, so plain string comparison is off limits.
func equalSignatures(got, want string) bool {
	return hmac.Equal([]byte(got), []byte(want))
}
