package relay

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
)

const AuthHeader = "X-Auth-Token"

// GenerateHMACToken derives the shared token clients put in X-Auth-Token.
func GenerateHMACToken(secret string) string {
	hash := hmac.New(sha256.New, []byte(secret))
	hash.Write([]byte("fixed-data"))
	return hex.EncodeToString(hash.Sum(nil))
}

// HMACAuthenticator checks X-Auth-Token against the token for secret. An empty
// secret lets everyone in.
func HMACAuthenticator(secret string) func(*http.Request) bool {
	if secret == "" {
		return func(*http.Request) bool { return true }
	}

	expected := []byte(GenerateHMACToken(secret))
	return func(r *http.Request) bool {
		sent := []byte(r.Header.Get(AuthHeader))
		return hmac.Equal(sent, expected)
	}
}
