package middleware

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/aetherflow/sessionpool/internal/metrics"
)

// responseWriter 包装http.ResponseWriter以记录状态码
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	size       int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	size, err := rw.ResponseWriter.Write(b)
	rw.size += size
	return size, err
}

// Logger 记录请求日志和 HTTP 指标，m 可以为 nil
func Logger(logger *zap.Logger, m *metrics.Metrics) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			requestID := RequestIDFromContext(r.Context())

			logger.Info("HTTP Request",
				zap.String("request_id", requestID),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.String("remote_addr", r.RemoteAddr),
			)

			m.IncActiveRequests(r.Method, r.URL.Path)
			next(wrapped, r)
			m.DecActiveRequests(r.Method, r.URL.Path)

			duration := time.Since(start)
			m.RecordHTTPRequest(r.Method, r.URL.Path, wrapped.statusCode, duration)

			logger.Info("HTTP Response",
				zap.String("request_id", requestID),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", wrapped.statusCode),
				zap.Int("size", wrapped.size),
				zap.Duration("duration", duration),
			)
		}
	}
}
