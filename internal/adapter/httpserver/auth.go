package httpserver

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/octup/sentinel/internal/domain"
)

// adminClaims is the token shape accepted on admin endpoints.
type adminClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// RequireAdmin enforces a bearer JWT (HS256) carrying role=admin. Admin
// routes are only mounted when a secret is configured.
func RequireAdmin(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			if !strings.HasPrefix(auth, "Bearer ") {
				writeError(w, r, fmt.Errorf("%w: bearer token required", domain.ErrUnauthorized), nil)
				return
			}
			raw := strings.TrimPrefix(auth, "Bearer ")

			var claims adminClaims
			token, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
				if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
				}
				return []byte(secret), nil
			}, jwt.WithValidMethods([]string{"HS256"}))
			if err != nil || !token.Valid {
				writeError(w, r, fmt.Errorf("%w: invalid token", domain.ErrUnauthorized), nil)
				return
			}
			if claims.Role != "admin" {
				writeError(w, r, fmt.Errorf("%w: admin role required", domain.ErrForbidden), nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
