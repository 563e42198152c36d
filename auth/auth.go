// Package auth guards admin operations with a shared secret.
package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// Verifier decides whether a supplied admin token is acceptable.
type Verifier interface {
	Verify(token string) bool
}

// SharedSecret accepts exactly one process-wide token.
type SharedSecret struct {
	secret []byte
}

// NewSharedSecret creates a verifier for secret. An empty secret rejects every token.
func NewSharedSecret(secret string) *SharedSecret {
	return &SharedSecret{secret: []byte(secret)}
}

// Verify compares token to the secret in constant time.
func (s *SharedSecret) Verify(token string) bool {
	if len(s.secret) == 0 || token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), s.secret) == 1
}

// TokenFromRequest extracts the admin token from the admin_token query
// parameter or an Authorization: Bearer header. The query parameter wins.
func TokenFromRequest(r *http.Request) string {
	if t := r.URL.Query().Get("admin_token"); t != "" {
		return t
	}
	h := r.Header.Get("Authorization")
	const prefix = "bearer "
	if len(h) > len(prefix) && strings.EqualFold(h[:len(prefix)], prefix) {
		return strings.TrimSpace(h[len(prefix):])
	}
	return ""
}
