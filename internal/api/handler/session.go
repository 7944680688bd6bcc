package handler

import (
	"net/http"

	"github.com/zeromicro/go-zero/rest/httpx"
	"go.uber.org/zap"

	"github.com/aetherflow/sessionpool/internal/api/middleware"
	"github.com/aetherflow/sessionpool/internal/api/svc"
)

// AddSessionRequest 添加会话请求
type AddSessionRequest struct {
	ID         string `json:"id,optional"`
	Credential string `json:"credential"`
	Endpoint   string `json:"endpoint,optional"`
}

// SessionPathRequest 路径中的会话ID
type SessionPathRequest struct {
	ID string `path:"id"`
}

// SendRequest 直接发送消息请求
type SendRequest struct {
	ID   string `path:"id"`
	Text string `json:"text"`
}

// AddSessionHandler 添加会话并等待握手。握手失败但会话已注册时返回 202
func AddSessionHandler(svcCtx *svc.ServiceContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		requestID := middleware.RequestIDFromContext(r.Context())

		var req AddSessionRequest
		if err := httpx.Parse(r, &req); err != nil {
			BadRequestResponse(w, "Invalid request body: "+err.Error(), requestID)
			return
		}

		sum, err := svcCtx.Pool.Add(r.Context(), req.ID, req.Credential, req.Endpoint)
		switch {
		case err == nil:
			SuccessResponse(w, sum, requestID)
		case sum.ID != "":
			svcCtx.Logger.Warn("Session registered without handshake",
				zap.String("request_id", requestID),
				zap.String("session_id", sum.ID),
				zap.Error(err))
			AcceptedResponse(w, sum, err.Error(), requestID)
		default:
			SessionErrorResponse(w, err, requestID)
		}
	}
}

// ListSessionsHandler 列出会话
func ListSessionsHandler(svcCtx *svc.ServiceContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		requestID := middleware.RequestIDFromContext(r.Context())
		sessions := svcCtx.Pool.Status()

		SuccessResponse(w, map[string]interface{}{
			"sessions": sessions,
			"total":    len(sessions),
		}, requestID)
	}
}

// GetSessionHandler 获取会话
func GetSessionHandler(svcCtx *svc.ServiceContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		requestID := middleware.RequestIDFromContext(r.Context())

		var req SessionPathRequest
		if err := httpx.Parse(r, &req); err != nil {
			BadRequestResponse(w, err.Error(), requestID)
			return
		}

		sum, err := svcCtx.Pool.Get(req.ID)
		if err != nil {
			SessionErrorResponse(w, err, requestID)
			return
		}
		SuccessResponse(w, sum, requestID)
	}
}

// RemoveSessionHandler 移除会话
func RemoveSessionHandler(svcCtx *svc.ServiceContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		requestID := middleware.RequestIDFromContext(r.Context())

		var req SessionPathRequest
		if err := httpx.Parse(r, &req); err != nil {
			BadRequestResponse(w, err.Error(), requestID)
			return
		}

		if err := svcCtx.Pool.Remove(r.Context(), req.ID); err != nil {
			SessionErrorResponse(w, err, requestID)
			return
		}
		SuccessResponse(w, map[string]string{"id": req.ID}, requestID)
	}
}

// ReconnectSessionHandler 立即重连一个已断开的会话
func ReconnectSessionHandler(svcCtx *svc.ServiceContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		requestID := middleware.RequestIDFromContext(r.Context())

		var req SessionPathRequest
		if err := httpx.Parse(r, &req); err != nil {
			BadRequestResponse(w, err.Error(), requestID)
			return
		}

		sum, err := svcCtx.Pool.Reconnect(r.Context(), req.ID)
		switch {
		case err == nil:
			SuccessResponse(w, sum, requestID)
		case sum.ID != "" && StatusFor(err) == http.StatusInternalServerError:
			AcceptedResponse(w, sum, err.Error(), requestID)
		default:
			SessionErrorResponse(w, err, requestID)
		}
	}
}

// SendHandler 通过指定会话直接发送一行消息
func SendHandler(svcCtx *svc.ServiceContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		requestID := middleware.RequestIDFromContext(r.Context())

		var req SendRequest
		if err := httpx.Parse(r, &req); err != nil {
			BadRequestResponse(w, "Invalid request body: "+err.Error(), requestID)
			return
		}

		if err := svcCtx.Pool.Send(req.ID, req.Text); err != nil {
			SessionErrorResponse(w, err, requestID)
			return
		}
		SuccessResponse(w, nil, requestID)
	}
}
