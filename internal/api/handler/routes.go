package handler

import (
	"net/http"
	"path"

	"github.com/zeromicro/go-zero/rest"

	"github.com/aetherflow/sessionpool/internal/api/middleware"
	"github.com/aetherflow/sessionpool/internal/api/svc"
)

// APIPrefix 控制接口前缀
const APIPrefix = "/api/v1"

// RegisterHandlers 注册所有路由
func RegisterHandlers(server *rest.Server, svcCtx *svc.ServiceContext) {
	server.AddRoutes(Routes(svcCtx))
}

// Routes 返回带完整路径的全部路由；控制路由在配置了 Auth 时需要 JWT
func Routes(svcCtx *svc.ServiceContext) []rest.Route {
	// 健康检查和监控
	routes := []rest.Route{
		{
			Method:  http.MethodGet,
			Path:    "/health",
			Handler: HealthCheckHandler(svcCtx),
		},
		{
			Method:  http.MethodGet,
			Path:    "/ping",
			Handler: PingHandler(svcCtx),
		},
	}
	if svcCtx.Config.Metrics.Enable {
		routes = append(routes, rest.Route{
			Method:  http.MethodGet,
			Path:    svcCtx.Config.Metrics.Path,
			Handler: MetricsHandler(svcCtx),
		})
	}

	// 会话控制
	control := ControlRoutes(svcCtx)
	if svcCtx.Auth != nil {
		control = rest.WithMiddlewares([]rest.Middleware{middleware.JWT(svcCtx.Auth)}, control...)
	}
	for _, r := range control {
		r.Path = path.Join(APIPrefix, r.Path)
		routes = append(routes, r)
	}
	return routes
}

// ControlRoutes 会话控制路由，不含前缀
func ControlRoutes(svcCtx *svc.ServiceContext) []rest.Route {
	return []rest.Route{
		{
			Method:  http.MethodPost,
			Path:    "/sessions",
			Handler: AddSessionHandler(svcCtx),
		},
		{
			Method:  http.MethodGet,
			Path:    "/sessions",
			Handler: ListSessionsHandler(svcCtx),
		},
		{
			Method:  http.MethodGet,
			Path:    "/sessions/:id",
			Handler: GetSessionHandler(svcCtx),
		},
		{
			Method:  http.MethodDelete,
			Path:    "/sessions/:id",
			Handler: RemoveSessionHandler(svcCtx),
		},
		{
			Method:  http.MethodPost,
			Path:    "/sessions/:id/reconnect",
			Handler: ReconnectSessionHandler(svcCtx),
		},
		{
			Method:  http.MethodPost,
			Path:    "/sessions/:id/send",
			Handler: SendHandler(svcCtx),
		},
		{
			Method:  http.MethodPost,
			Path:    "/force",
			Handler: ForceHandler(svcCtx),
		},
		{
			Method:  http.MethodDelete,
			Path:    "/force",
			Handler: ClearForceHandler(svcCtx),
		},
		{
			Method:  http.MethodPost,
			Path:    "/stop",
			Handler: StopAllHandler(svcCtx),
		},
	}
}
