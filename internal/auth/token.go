// Package auth mints short-lived bearer tokens for subscriptions that
// request token auth in addition to HMAC signing.
package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenMinter issues HS256 bearer tokens keyed by the subscription secret,
// so receivers can validate them with the same shared secret they verify
// signatures with.
type TokenMinter struct {
	issuer string
	ttl    time.Duration
}

// NewTokenMinter creates a minter. ttl <= 0 defaults to 5 minutes.
func NewTokenMinter(issuer string, ttl time.Duration) *TokenMinter {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &TokenMinter{issuer: issuer, ttl: ttl}
}

// Mint issues a token for one delivery attempt. jti carries the event id so
// receivers can de-duplicate.
func (m *TokenMinter) Mint(secret, subscriptionID, eventID string, now time.Time) (string, error) {
	if secret == "" {
		return "", fmt.Errorf("empty secret")
	}
	claims := jwt.MapClaims{
		"iss": m.issuer,
		"sub": subscriptionID,
		"jti": eventID,
		"iat": now.Unix(),
		"exp": now.Add(m.ttl).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// Validate checks a minted token against the shared secret and returns the
// subscription id claim. Used by the test receiver.
func (m *TokenMinter) Validate(tokenString, secret string) (string, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to parse token: %v", err)
	}
	if !token.Valid {
		return "", fmt.Errorf("invalid token")
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", fmt.Errorf("invalid claims")
	}
	if iss, ok := claims["iss"].(string); !ok || iss != m.issuer {
		return "", fmt.Errorf("invalid issuer")
	}
	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return "", fmt.Errorf("missing sub claim")
	}
	return sub, nil
}
