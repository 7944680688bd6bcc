package handler

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/zeromicro/go-zero/rest/httpx"

	"github.com/aetherflow/sessionpool/internal/api/svc"
)

// HealthResponse 健康检查响应
type HealthResponse struct {
	Status    string         `json:"status"`
	Timestamp time.Time      `json:"timestamp"`
	Service   string         `json:"service"`
	Sessions  int            `json:"sessions"`
	ByState   map[string]int `json:"by_state"`
}

// HealthCheckHandler 健康检查
func HealthCheckHandler(svcCtx *svc.ServiceContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap := svcCtx.Pool.Snapshot()
		httpx.WriteJson(w, http.StatusOK, HealthResponse{
			Status:    "UP",
			Timestamp: time.Now(),
			Service:   svcCtx.Config.Name,
			Sessions:  svcCtx.Pool.Len(),
			ByState:   snap.ByState,
		})
	}
}

// PingHandler Ping处理器
func PingHandler(svcCtx *svc.ServiceContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("pong"))
	}
}

// MetricsHandler Prometheus 指标
func MetricsHandler(svcCtx *svc.ServiceContext) http.HandlerFunc {
	h := promhttp.HandlerFor(svcCtx.Gatherer, promhttp.HandlerOpts{})
	return h.ServeHTTP
}
