// Package auth provides optional bearer-token protection for the query
// endpoints.
package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ContextKey is a custom type for context keys to avoid collisions
type ContextKey string

const ClaimsContextKey ContextKey = "claims"

type Claims struct {
	jwt.RegisteredClaims
}

var authConfig *Config

type Config struct {
	JwtSecret []byte
	Enabled   bool
}

// Initialize sets up the auth configuration
func Initialize(jwtSecret string, enabled bool) {
	authConfig = &Config{
		JwtSecret: []byte(jwtSecret),
		Enabled:   enabled,
	}
}

// IsEnabled returns whether authentication is enabled
func IsEnabled() bool {
	return authConfig != nil && authConfig.Enabled
}

// GenerateToken issues an HS256 token for the given subject.
func GenerateToken(subject string, ttl time.Duration) (string, error) {
	if authConfig == nil || len(authConfig.JwtSecret) == 0 {
		return "", errors.New("auth not initialized")
	}
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(authConfig.JwtSecret)
}

// ValidateToken parses and verifies a bearer token.
func ValidateToken(tokenString string) (*Claims, error) {
	if authConfig == nil {
		return nil, errors.New("auth not initialized")
	}
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return authConfig.JwtSecret, nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}

// OptionalAuthMiddleware enforces a bearer token only when auth is enabled.
func OptionalAuthMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !IsEnabled() {
			next(w, r)
			return
		}

		authHeader := r.Header.Get("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			http.Error(w, "No authentication token", http.StatusUnauthorized)
			return
		}

		claims, err := ValidateToken(strings.TrimPrefix(authHeader, "Bearer "))
		if err != nil {
			http.Error(w, "Invalid token", http.StatusUnauthorized)
			return
		}

		next(w, r.WithContext(context.WithValue(r.Context(), ClaimsContextKey, claims)))
	}
}
