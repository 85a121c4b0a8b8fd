// Package signing issues and checks HMAC-signed session tokens of the form
// <key>.<expires-unix>.<hex signature>.
package signing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	ErrMalformed = errors.New("malformed session token")
	ErrSignature = errors.New("session token signature mismatch")
	ErrExpired   = errors.New("session token expired")
)

// Signer generates and validates HMAC based signatures.
type Signer struct {
	secret []byte
}

// NewSigner creates a Signer.
func NewSigner(secret []byte) *Signer {
	return &Signer{secret: secret}
}

// Sign returns the hex signature over key and expiry.
func (s *Signer) Sign(key string, expiresUnix int64) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(fmt.Sprintf("%s:%d", key, expiresUnix)))
	return hex.EncodeToString(mac.Sum(nil))
}

// Validate compares the provided signature with the expected one in
// constant time.
func (s *Signer) Validate(key, expires, signature string) bool {
	exp, err := strconv.ParseInt(expires, 10, 64)
	if err != nil {
		return false
	}
	return hmac.Equal([]byte(s.Sign(key, exp)), []byte(signature))
}

// Token encodes key with its expiry and signature. key must not contain dots.
func (s *Signer) Token(key string, expires time.Time) string {
	exp := expires.Unix()
	return fmt.Sprintf("%s.%d.%s", key, exp, s.Sign(key, exp))
}

// Verify returns the session key carried by token if the signature matches
// and it has not expired at now.
func (s *Signer) Verify(token string, now time.Time) (string, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 || parts[0] == "" {
		return "", ErrMalformed
	}
	if !s.Validate(parts[0], parts[1], parts[2]) {
		return "", ErrSignature
	}
	exp, _ := strconv.ParseInt(parts[1], 10, 64)
	if !now.Before(time.Unix(exp, 0)) {
		return "", ErrExpired
	}
	return parts[0], nil
}
