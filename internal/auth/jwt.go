// Package auth issues and verifies the admin API's bearer tokens.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken wraps every verification failure.
var ErrInvalidToken = errors.New("auth: invalid token")

// Token kinds carried in the "typ" claim.
const (
	KindAccess  = "access"
	KindRefresh = "refresh"
)

// TokenPair holds access and refresh tokens.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	AccessExp    time.Time
	RefreshExp   time.Time
}

// Claims represents JWT payload.
type Claims struct {
	Role string `json:"role"`
	Kind string `json:"typ"`
	jwt.RegisteredClaims
}

// Issue issues signed access and refresh tokens.
func Issue(subject, role, issuer, key string, accessTTL, refreshTTL time.Duration) (TokenPair, error) {
	now := time.Now()
	pair := TokenPair{
		AccessExp:  now.Add(accessTTL),
		RefreshExp: now.Add(refreshTTL),
	}

	var err error
	if pair.AccessToken, err = sign(subject, role, KindAccess, issuer, key, now, pair.AccessExp); err != nil {
		return TokenPair{}, err
	}
	if pair.RefreshToken, err = sign(subject, role, KindRefresh, issuer, key, now, pair.RefreshExp); err != nil {
		return TokenPair{}, err
	}
	return pair, nil
}

func sign(subject, role, kind, issuer, key string, now, exp time.Time) (string, error) {
	claims := Claims{
		Role: role,
		Kind: kind,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(key))
}

// Parse validates an access token and returns claims. Refresh tokens are
// rejected.
func Parse(tokenStr, key, issuer string) (Claims, error) {
	return parseKind(tokenStr, key, issuer, KindAccess)
}

// ParseRefresh validates a refresh token. Access tokens are rejected.
func ParseRefresh(tokenStr, key, issuer string) (Claims, error) {
	return parseKind(tokenStr, key, issuer, KindRefresh)
}

func parseKind(tokenStr, key, issuer, kind string) (Claims, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}

	var claims Claims
	_, err := jwt.ParseWithClaims(tokenStr, &claims, func(*jwt.Token) (interface{}, error) {
		return []byte(key), nil
	}, opts...)
	if err != nil {
		return Claims{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Kind != kind {
		return Claims{}, fmt.Errorf("%w: not a %s token", ErrInvalidToken, kind)
	}
	return claims, nil
}
