// Package signing issues and checks HMAC-signed, expiring media URLs.
package signing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/url"
	"strconv"
	"time"
)

const (
	expiresParam   = "expires"
	signatureParam = "signature"
)

var (
	// ErrInvalidSignature is returned for tampered or malformed URLs.
	ErrInvalidSignature = errors.New("invalid signature")
	// ErrExpired is returned once a signed URL's expiry has passed.
	ErrExpired = errors.New("url expired")
)

// Signer signs object keys with a shared secret.
type Signer struct {
	secret []byte
}

// NewSigner creates a Signer.
func NewSigner(secret []byte) *Signer {
	return &Signer{secret: secret}
}

// Sign returns the hex signature of key valid until expiresUnix.
func (s *Signer) Sign(key string, expiresUnix int64) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(key))
	mac.Write([]byte{':'})
	mac.Write(strconv.AppendInt(nil, expiresUnix, 10))
	return hex.EncodeToString(mac.Sum(nil))
}

// Query returns the expires and signature parameters for key.
func (s *Signer) Query(key string, expires time.Time) url.Values {
	exp := expires.Unix()
	q := url.Values{}
	q.Set(expiresParam, strconv.FormatInt(exp, 10))
	q.Set(signatureParam, s.Sign(key, exp))
	return q
}

// Verify checks a request's parameters for key. Expiry is checked first so a
// stale link reports ErrExpired rather than a signature mismatch.
func (s *Signer) Verify(key, expires, signature string, now time.Time) error {
	exp, err := strconv.ParseInt(expires, 10, 64)
	if err != nil {
		return ErrInvalidSignature
	}
	if time.Unix(exp, 0).Before(now) {
		return ErrExpired
	}
	if !s.Validate(key, expires, signature) {
		return ErrInvalidSignature
	}
	return nil
}

// Validate reports whether signature matches key and expires, ignoring the
// clock.
func (s *Signer) Validate(key, expires, signature string) bool {
	exp, err := strconv.ParseInt(expires, 10, 64)
	if err != nil {
		return false
	}
	return hmac.Equal([]byte(s.Sign(key, exp)), []byte(signature))
}
