package auth

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Claims are the token claims the control plane consumes.
type Claims struct {
	jwt.RegisteredClaims
	Roles []string `json:"roles"`
}

// TokenVerifier parses and validates bearer tokens.
type TokenVerifier struct {
	keyFunc jwt.Keyfunc
}

// NewHMACVerifier validates tokens signed with an HS256 shared secret.
func NewHMACVerifier(secret []byte) *TokenVerifier {
	return &TokenVerifier{keyFunc: func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return secret, nil
	}}
}

// NewVerifier validates tokens against a caller-supplied key function,
// for deployments where keys come from the identity provider's JWKS.
func NewVerifier(keyFunc jwt.Keyfunc) *TokenVerifier {
	return &TokenVerifier{keyFunc: keyFunc}
}

// Verify parses and validates a token string.
func (v *TokenVerifier) Verify(tokenStr string) (*Claims, error) {
	if v == nil || v.keyFunc == nil {
		return nil, fmt.Errorf("verifier uninitialized")
	}
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, v.keyFunc)
	if err != nil {
		return nil, fmt.Errorf("token validation failed: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	return claims, nil
}

// publicPaths are reachable without authentication.
var publicPaths = []string{
	"/healthz",
	"/readyz",
}

func isPublicPath(path string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	return false
}

// NewMiddleware builds JWT auth middleware. A nil verifier fails closed:
// every non-public request is rejected.
func NewMiddleware(verifier *TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isPublicPath(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			header := r.Header.Get("Authorization")
			if header == "" {
				writeUnauthorized(w, "missing Authorization header")
				return
			}
			parts := strings.SplitN(header, " ", 2)
			if len(parts) != 2 || parts[0] != "Bearer" {
				writeUnauthorized(w, "Authorization header must be 'Bearer <token>'")
				return
			}
			if verifier == nil {
				writeUnauthorized(w, "authentication not configured")
				return
			}

			claims, err := verifier.Verify(parts[1])
			if err != nil {
				writeUnauthorized(w, "invalid or expired token")
				return
			}
			if claims.Subject == "" {
				writeUnauthorized(w, "token subject is required")
				return
			}

			principal := &BasePrincipal{ID: claims.Subject, Roles: claims.Roles}
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), principal)))
		})
	}
}

// writeUnauthorized emits the standard error envelope without importing
// the api package, which sits above this one.
func writeUnauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error":   "ForbiddenError",
		"message": message,
		"details": map[string]any{},
	})
}
