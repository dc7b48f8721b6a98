package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken covers every token rejection: bad signature, expiry,
// malformed claims. Callers treat all of them as an authentication
// failure and never surface the distinction.
var ErrInvalidToken = errors.New("auth: invalid token")

// Claims is the payload stored inside a Halcyon session token. The token
// is stateless: the username it names is the whole identity.
type Claims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// TokenSource mints and verifies HS256 session tokens.
type TokenSource struct {
	secret []byte
	ttl    time.Duration
}

// NewTokenSource builds a TokenSource signing with secret. Tokens expire
// after ttl; a non-positive ttl falls back to 24 hours.
func NewTokenSource(secret []byte, ttl time.Duration) *TokenSource {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &TokenSource{secret: secret, ttl: ttl}
}

// Issue creates a signed session token for a username.
func (ts *TokenSource) Issue(username string) (string, error) {
	now := time.Now()
	claims := &Claims{
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   username,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ts.ttl)),
			Issuer:    "halcyon",
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(ts.secret)
}

// Verify parses a token string and returns the username it was issued
// for. Returns ErrInvalidToken on any failure.
func (ts *TokenSource) Verify(tokenString string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return ts.secret, nil
	})
	if err != nil || !token.Valid {
		return "", ErrInvalidToken
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || claims.Username == "" {
		return "", ErrInvalidToken
	}
	return claims.Username, nil
}
