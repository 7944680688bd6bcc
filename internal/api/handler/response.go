package handler

import (
	"errors"
	"net/http"

	"github.com/zeromicro/go-zero/rest/httpx"

	"github.com/aetherflow/sessionpool/internal/session"
)

// Response 通用响应结构
type Response struct {
	Code      int         `json:"code"`
	Message   string      `json:"message"`
	Data      interface{} `json:"data,omitempty"`
	RequestID string      `json:"request_id,omitempty"`
}

// SuccessResponse 成功响应
func SuccessResponse(w http.ResponseWriter, data interface{}, requestID string) {
	httpx.WriteJson(w, http.StatusOK, Response{
		Code:      0,
		Message:   "success",
		Data:      data,
		RequestID: requestID,
	})
}

// AcceptedResponse 请求已受理但尚未完成
func AcceptedResponse(w http.ResponseWriter, data interface{}, message, requestID string) {
	httpx.WriteJson(w, http.StatusAccepted, Response{
		Code:      0,
		Message:   message,
		Data:      data,
		RequestID: requestID,
	})
}

// ErrorResponse 错误响应
func ErrorResponse(w http.ResponseWriter, statusCode int, message string, requestID string) {
	httpx.WriteJson(w, statusCode, Response{
		Code:      statusCode,
		Message:   message,
		RequestID: requestID,
	})
}

// BadRequestResponse 400错误
func BadRequestResponse(w http.ResponseWriter, message string, requestID string) {
	ErrorResponse(w, http.StatusBadRequest, message, requestID)
}

// SessionErrorResponse 按会话错误类型选择状态码
func SessionErrorResponse(w http.ResponseWriter, err error, requestID string) {
	ErrorResponse(w, StatusFor(err), err.Error(), requestID)
}

// StatusFor 将会话错误映射为 HTTP 状态码
func StatusFor(err error) int {
	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, session.ErrAlreadyRunning),
		errors.Is(err, session.ErrNotConnected),
		errors.Is(err, session.ErrBanned):
		return http.StatusConflict
	case errors.Is(err, session.ErrMalformedCredential),
		errors.Is(err, session.ErrEndpointRequired),
		errors.Is(err, session.ErrEmptyTarget):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrPoolClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
