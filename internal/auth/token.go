// Package auth provides the session gate: signed session cookies backed
// by server-side session rows, credential validation rules, and the
// typed authorization check used before every mutation.
package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ScopeSession marks tokens issued for the browser session cookie.
const ScopeSession = "chaton.session"

// ErrInvalidToken is returned for malformed, expired, or forged tokens.
var ErrInvalidToken = errors.New("auth: invalid token")

// Claims extends the standard JWT claims with a scope. The subject is the
// session id, not the user id: a token is only honoured while its session
// row exists.
type Claims struct {
	jwt.RegisteredClaims
	Scope string `json:"scope"`
}

// TokenSigner signs and validates session tokens using HS256.
type TokenSigner struct {
	secret []byte
	issuer string
}

// NewTokenSigner creates a signer with the given HMAC secret and issuer.
func NewTokenSigner(secret, issuer string) *TokenSigner {
	return &TokenSigner{
		secret: []byte(secret),
		issuer: issuer,
	}
}

// GenerateSecret returns a random 32-byte hex string for use as a
// session secret.
func GenerateSecret() string {
	b := make([]byte, 32)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// Sign returns a token for sessionID that expires at expires.
func (s *TokenSigner) Sign(sessionID uuid.UUID, expires time.Time) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sessionID.String(),
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
		Scope: ScopeSession,
	})
	str, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("auth: sign session token: %w", err)
	}
	return str, nil
}

// Parse validates a token and returns the session id it carries.
func (s *TokenSigner) Parse(tokenStr string) (uuid.UUID, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("auth: unexpected signing method: %v", t.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithIssuer(s.issuer), jwt.WithExpirationRequired())
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return uuid.Nil, fmt.Errorf("%w: bad claims", ErrInvalidToken)
	}
	if claims.Scope != ScopeSession {
		return uuid.Nil, fmt.Errorf("%w: wrong scope %q", ErrInvalidToken, claims.Scope)
	}

	id, err := uuid.Parse(claims.Subject)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: bad subject", ErrInvalidToken)
	}
	return id, nil
}
