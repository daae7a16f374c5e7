// Package signing provides a tamper-evidence primitive for tokens issued
// by the surrounding system, such as signed deep links.
package signing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
)

// ErrEmptySecret is returned when a Signer is constructed without a secret.
var ErrEmptySecret = errors.New("signing: secret must not be empty")

// Signer produces and verifies keyed HMAC-SHA256 signatures. The secret
// must remain stable across restarts or previously issued signatures
// become unverifiable.
type Signer struct {
	secret []byte
}

// New creates a Signer with the given shared secret.
func New(secret string) (*Signer, error) {
	if secret == "" {
		return nil, ErrEmptySecret
	}
	return &Signer{secret: []byte(secret)}, nil
}

// Sign returns the hex-encoded HMAC-SHA256 signature of data.
func (s *Signer) Sign(data string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(data))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether signature is a valid signature of data. The
// comparison is constant time.
func (s *Signer) Verify(data, signature string) bool {
	expected, err := hex.DecodeString(s.Sign(data))
	if err != nil {
		return false
	}
	provided, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	return hmac.Equal(expected, provided)
}
