package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/aetherflow/sessionpool/internal/api/auth"
)

// JWT 校验 Bearer 令牌
func JWT(manager *auth.Manager) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			token := ExtractToken(r)
			if token == "" {
				http.Error(w, "Missing authorization header", http.StatusUnauthorized)
				return
			}

			claims, err := manager.Verify(token)
			if err != nil {
				switch {
				case errors.Is(err, auth.ErrExpiredToken):
					http.Error(w, "Token has expired", http.StatusUnauthorized)
				case errors.Is(err, auth.ErrInvalidSignature):
					http.Error(w, "Invalid token signature", http.StatusUnauthorized)
				default:
					http.Error(w, "Invalid token", http.StatusUnauthorized)
				}
				return
			}

			next(w, r.WithContext(operatorToContext(r.Context(), claims.Operator)))
		}
	}
}

// ExtractToken 从请求头提取Token
func ExtractToken(r *http.Request) string {
	parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" {
		return ""
	}
	return parts[1]
}
