package web

import (
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ===== Service-token primitives =====
//
// The orchestrator API is internal: callers (the marketplace frontend
// backend, the observer CLI) authenticate with short-lived HS256 tokens
// minted from a shared secret.

type ServiceClaims struct {
	Client string `json:"client"`
	jwt.RegisteredClaims
}

// MintServiceToken signs a token identifying client, valid for ttl.
func MintServiceToken(secret []byte, client string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := ServiceClaims{
		Client: client,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Subject:   client,
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

func verifyServiceToken(secret []byte, raw string) (*ServiceClaims, error) {
	var claims ServiceClaims
	_, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (interface{}, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	return &claims, nil
}

// authMiddleware enforces the bearer service token on every API route.
// An empty configured secret disables the guard (dev mode).
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(s.secret) == 0 {
			next.ServeHTTP(w, r)
			return
		}
		header := r.Header.Get("Authorization")
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		if _, err := verifyServiceToken(s.secret, parts[1]); err != nil {
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}
