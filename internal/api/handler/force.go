package handler

import (
	"net/http"

	"github.com/zeromicro/go-zero/rest/httpx"
	"go.uber.org/zap"

	"github.com/aetherflow/sessionpool/internal/api/middleware"
	"github.com/aetherflow/sessionpool/internal/api/svc"
)

// ForceRequest 设置强制目标，ID 为空时广播到所有会话
type ForceRequest struct {
	Target string `json:"target"`
	ID     string `json:"id,optional"`
}

// ClearForceRequest 清除强制目标，ID 为空时清除所有会话
type ClearForceRequest struct {
	ID string `form:"id,optional"`
}

// ForceHandler 设置强制目标
func ForceHandler(svcCtx *svc.ServiceContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		requestID := middleware.RequestIDFromContext(r.Context())

		var req ForceRequest
		if err := httpx.Parse(r, &req); err != nil {
			BadRequestResponse(w, "Invalid request body: "+err.Error(), requestID)
			return
		}

		if req.ID != "" {
			if err := svcCtx.Pool.Force(req.ID, req.Target); err != nil {
				SessionErrorResponse(w, err, requestID)
				return
			}
			SuccessResponse(w, map[string]int{"applied": 1}, requestID)
			return
		}

		applied, err := svcCtx.Pool.BroadcastForce(req.Target)
		if err != nil {
			SessionErrorResponse(w, err, requestID)
			return
		}
		SuccessResponse(w, map[string]int{"applied": applied}, requestID)
	}
}

// ClearForceHandler 清除强制目标
func ClearForceHandler(svcCtx *svc.ServiceContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		requestID := middleware.RequestIDFromContext(r.Context())

		var req ClearForceRequest
		if err := httpx.Parse(r, &req); err != nil {
			BadRequestResponse(w, err.Error(), requestID)
			return
		}

		if req.ID != "" {
			cleared, err := svcCtx.Pool.Unforce(req.ID)
			if err != nil {
				SessionErrorResponse(w, err, requestID)
				return
			}
			n := 0
			if cleared {
				n = 1
			}
			SuccessResponse(w, map[string]int{"cleared": n}, requestID)
			return
		}

		SuccessResponse(w, map[string]int{"cleared": svcCtx.Pool.ClearForce()}, requestID)
	}
}

// StopAllHandler 停止所有会话
func StopAllHandler(svcCtx *svc.ServiceContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		requestID := middleware.RequestIDFromContext(r.Context())

		stopped, err := svcCtx.Pool.StopAll(r.Context())
		if err != nil {
			// 会话已全部移除，关闭连接的错误只记录
			svcCtx.Logger.Warn("Errors while stopping sessions",
				zap.String("request_id", requestID),
				zap.Error(err))
		}
		SuccessResponse(w, map[string]int{"stopped": stopped}, requestID)
	}
}
