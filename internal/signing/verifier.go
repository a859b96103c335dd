// Package signing verifies queue message signatures. A signature is an HS256
// JWT whose "body" claim is the unpadded base64url SHA-256 of the request
// body, signed with either the current or the next signing key so keys can
// rotate without dropping messages.
package signing

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// HeaderName is the request header carrying the signature.
const HeaderName = "Upstash-Signature"

// Issuer is the expected "iss" claim.
const Issuer = "Upstash"

// ErrInvalidSignature is returned for any signature that does not verify.
var ErrInvalidSignature = errors.New("invalid signature")

// Claims is the signed payload.
type Claims struct {
	Body string `json:"body"`
	jwt.RegisteredClaims
}

// Verifier checks signatures against a current and an optional next key.
type Verifier struct {
	keys    [][]byte
	timeNow func() time.Time
}

// NewVerifier creates a Verifier. It returns nil when no keys are
// configured; a nil Verifier accepts every message.
func NewVerifier(currentKey, nextKey string, timeNow func() time.Time) *Verifier {
	var keys [][]byte
	for _, k := range []string{currentKey, nextKey} {
		if k != "" {
			keys = append(keys, []byte(k))
		}
	}
	if len(keys) == 0 {
		return nil
	}
	if timeNow == nil {
		timeNow = time.Now
	}
	return &Verifier{keys: keys, timeNow: timeNow}
}

// Enabled reports whether signatures are checked.
func (v *Verifier) Enabled() bool {
	return v != nil
}

// Verify checks signature against body. A nil Verifier always succeeds.
func (v *Verifier) Verify(signature string, body []byte) error {
	if v == nil {
		return nil
	}
	if signature == "" {
		return fmt.Errorf("%w: missing %s header", ErrInvalidSignature, HeaderName)
	}
	var lastErr error
	for _, key := range v.keys {
		if err := v.verifyWithKey(signature, body, key); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return fmt.Errorf("%w: %v", ErrInvalidSignature, lastErr)
}

func (v *Verifier) verifyWithKey(signature string, body, key []byte) error {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(signature, claims, func(*jwt.Token) (any, error) {
		return key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(Issuer),
		jwt.WithTimeFunc(v.timeNow),
		jwt.WithLeeway(time.Second),
	)
	if err != nil {
		return err
	}
	want := BodyHash(body)
	got := strings.TrimRight(claims.Body, "=")
	if subtle.ConstantTimeCompare([]byte(got), []byte(want)) != 1 {
		return errors.New("body hash mismatch")
	}
	return nil
}

// BodyHash returns the unpadded base64url SHA-256 of body.
func BodyHash(body []byte) string {
	sum := sha256.Sum256(body)
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// Sign produces a signature for body in the format Verify accepts.
// Production signatures come from the queue provider.
func Sign(key, subject string, body []byte, now time.Time, ttl time.Duration) (string, error) {
	claims := Claims{
		Body: BodyHash(body),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    Issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(key))
	if err != nil {
		return "", fmt.Errorf("sign message: %w", err)
	}
	return token, nil
}
