package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("invalid token")

// Claims identify the tenant a caller acts for.
type Claims struct {
	TenantID string `json:"tid"`
	jwt.RegisteredClaims
}

func SignJWT(tenantID, secret string, ttl time.Duration) (string, error) {
	if tenantID == "" {
		return "", errors.New("tenant id required")
	}
	now := time.Now()
	claims := Claims{
		TenantID: tenantID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   tenantID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// ParseJWT validates signature, algorithm and expiry and returns the tenant id.
func ParseJWT(tokenStr, secret string) (string, error) {
	var claims Claims
	token, err := jwt.ParseWithClaims(tokenStr, &claims, func(t *jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid || claims.TenantID == "" {
		return "", ErrInvalidToken
	}
	return claims.TenantID, nil
}
