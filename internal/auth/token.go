// Package auth provides token generation, timing-safe comparison, and
// failed-attempt rate limiting for the session and dashboard servers.
package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
)

// TokenLength is the length in hex characters of session and master tokens.
// 64 hex characters encode 256 bits of entropy.
const TokenLength = 64

// NewToken generates a fresh 256-bit random token rendered as 64 lowercase
// hex characters. Used for both session tokens and the hub master token.
func NewToken() (string, error) {
	raw := make([]byte, TokenLength/2)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("auth: failed to generate token: %w", err)
	}
	return hex.EncodeToString(raw), nil
}

// TokenEqual compares a presented token against the expected one in constant
// time, so the comparison cannot leak the position of the first differing
// byte through timing.
//
// A length mismatch is rejected up front; length is not a secret (all valid
// tokens are exactly TokenLength characters).
func TokenEqual(expected, presented string) bool {
	if len(expected) != len(presented) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(expected), []byte(presented)) == 1
}
