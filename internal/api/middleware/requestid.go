package middleware

import (
	"net/http"

	"github.com/google/uuid"
)

// RequestIDHeader 请求ID的Header名称
const RequestIDHeader = "X-Request-ID"

// RequestID 沿用请求头中的ID，没有则生成 UUIDv7
func RequestID(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(RequestIDHeader)
		if requestID == "" {
			if id, err := uuid.NewV7(); err == nil {
				requestID = id.String()
			} else {
				requestID = uuid.NewString()
			}
		}

		w.Header().Set(RequestIDHeader, requestID)
		next(w, r.WithContext(requestIDToContext(r.Context(), requestID)))
	}
}
