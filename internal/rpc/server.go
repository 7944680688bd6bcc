package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/aetherflow/sessionpool/internal/metrics"
	"github.com/aetherflow/sessionpool/internal/session"
)

// Config gRPC 控制服务配置
type Config struct {
	Pool    *session.Pool
	Logger  *zap.Logger
	Metrics *metrics.Metrics
	Tracer  trace.Tracer
}

// Server 会话池 gRPC 控制服务
type Server struct {
	pool    *session.Pool
	logger  *zap.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer

	grpcServer *grpc.Server
	health     *health.Server
}

// NewServer 创建控制服务并注册 health 和 reflection
func NewServer(config Config) *Server {
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}
	if config.Tracer == nil {
		config.Tracer = noop.NewTracerProvider().Tracer(ServiceName)
	}

	s := &Server{
		pool:    config.Pool,
		logger:  config.Logger,
		metrics: config.Metrics,
		tracer:  config.Tracer,
		health:  health.NewServer(),
	}

	s.grpcServer = grpc.NewServer(grpc.ChainUnaryInterceptor(
		s.unaryTracingInterceptor(),
		s.unaryLoggingInterceptor(),
	))
	RegisterControlServer(s.grpcServer, s)
	grpc_health_v1.RegisterHealthServer(s.grpcServer, s.health)
	s.health.SetServingStatus(ServiceName, grpc_health_v1.HealthCheckResponse_SERVING)
	reflection.Register(s.grpcServer)

	return s
}

// Serve 在 lis 上提供服务，阻塞直到 Stop
func (s *Server) Serve(lis net.Listener) error {
	s.logger.Info("gRPC control server started", zap.String("address", lis.Addr().String()))
	if err := s.grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}

// Stop 优雅停止
func (s *Server) Stop() {
	s.health.Shutdown()
	s.grpcServer.GracefulStop()
	s.logger.Info("gRPC control server stopped")
}

// Add 添加会话：{id?, credential, endpoint?}
func (s *Server) Add(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	credential := field(in, "credential")
	if credential == "" {
		return nil, status.Error(codes.InvalidArgument, "credential is required")
	}

	sum, err := s.pool.Add(ctx, field(in, "id"), credential, field(in, "endpoint"))
	if err != nil && sum.ID == "" {
		return nil, statusError(err)
	}

	out, convErr := toStruct(map[string]interface{}{"session": sum})
	if convErr != nil {
		return nil, status.Error(codes.Internal, convErr.Error())
	}
	if err != nil {
		// 已注册但握手未完成，会话按重连策略继续
		out.Fields["error"] = structpb.NewStringValue(err.Error())
	}
	return out, nil
}

// Remove 移除会话：{id}
func (s *Server) Remove(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	id := field(in, "id")
	if id == "" {
		return nil, status.Error(codes.InvalidArgument, "id is required")
	}
	if err := s.pool.Remove(ctx, id); err != nil {
		return nil, statusError(err)
	}
	return toStruct(map[string]interface{}{"id": id})
}

// Status 列出会话；带 id 时只返回该会话
func (s *Server) Status(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if id := field(in, "id"); id != "" {
		sum, err := s.pool.Get(id)
		if err != nil {
			return nil, statusError(err)
		}
		return toStruct(map[string]interface{}{"sessions": []session.Summary{sum}, "total": 1})
	}

	sessions := s.pool.Status()
	return toStruct(map[string]interface{}{"sessions": sessions, "total": len(sessions)})
}

// BroadcastForce 设置强制目标：{target, id?}
func (s *Server) BroadcastForce(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	target := field(in, "target")
	if id := field(in, "id"); id != "" {
		if err := s.pool.Force(id, target); err != nil {
			return nil, statusError(err)
		}
		return toStruct(map[string]interface{}{"applied": 1})
	}

	applied, err := s.pool.BroadcastForce(target)
	if err != nil {
		return nil, statusError(err)
	}
	return toStruct(map[string]interface{}{"applied": applied})
}

// ClearForce 清除强制目标：{id?}
func (s *Server) ClearForce(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if id := field(in, "id"); id != "" {
		cleared, err := s.pool.Unforce(id)
		if err != nil {
			return nil, statusError(err)
		}
		n := 0
		if cleared {
			n = 1
		}
		return toStruct(map[string]interface{}{"cleared": n})
	}
	return toStruct(map[string]interface{}{"cleared": s.pool.ClearForce()})
}

// StopAll 停止所有会话
func (s *Server) StopAll(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	stopped, err := s.pool.StopAll(ctx)
	if err != nil {
		s.logger.Warn("errors while stopping sessions", zap.Error(err))
	}
	return toStruct(map[string]interface{}{"stopped": stopped})
}

// Send 直接发送：{id, text}
func (s *Server) Send(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	id, text := field(in, "id"), field(in, "text")
	if id == "" || text == "" {
		return nil, status.Error(codes.InvalidArgument, "id and text are required")
	}
	if err := s.pool.Send(id, text); err != nil {
		return nil, statusError(err)
	}
	return toStruct(map[string]interface{}{"id": id})
}

// statusError 将会话错误映射为 gRPC 状态
func statusError(err error) error {
	var code codes.Code
	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		code = codes.NotFound
	case errors.Is(err, session.ErrAlreadyRunning):
		code = codes.AlreadyExists
	case errors.Is(err, session.ErrNotConnected), errors.Is(err, session.ErrBanned):
		code = codes.FailedPrecondition
	case errors.Is(err, session.ErrMalformedCredential),
		errors.Is(err, session.ErrEndpointRequired),
		errors.Is(err, session.ErrEmptyTarget):
		code = codes.InvalidArgument
	case errors.Is(err, session.ErrPoolClosed):
		code = codes.Unavailable
	case errors.Is(err, context.Canceled):
		code = codes.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		code = codes.DeadlineExceeded
	default:
		code = codes.Internal
	}
	return status.Error(code, err.Error())
}

func field(in *structpb.Struct, key string) string {
	if in == nil {
		return ""
	}
	return in.GetFields()[key].GetStringValue()
}

// toStruct 经 JSON 转换，使 Summary 的字段名与 HTTP 接口一致
func toStruct(v map[string]interface{}) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal response: %w", err)
	}
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	return structpb.NewStruct(m)
}

// unaryLoggingInterceptor 记录调用日志和指标
func (s *Server) unaryLoggingInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		duration := time.Since(start)

		code := status.Code(err)
		s.metrics.RecordGRPCRequest(info.FullMethod, code.String(), duration)

		fields := []zap.Field{
			zap.String("method", info.FullMethod),
			zap.String("code", code.String()),
			zap.Duration("duration", duration),
		}
		if err != nil {
			s.logger.Warn("gRPC request failed", append(fields, zap.Error(err))...)
		} else {
			s.logger.Debug("gRPC request", fields...)
		}
		return resp, err
	}
}

// unaryTracingInterceptor 从 metadata 提取追踪上下文并创建 span
func (s *Server) unaryTracingInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			ctx = otel.GetTextMapPropagator().Extract(ctx, metadataCarrier(md))
		}

		ctx, span := s.tracer.Start(ctx, info.FullMethod,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("rpc.system", "grpc"),
				attribute.String("rpc.service", ServiceName),
			),
		)
		defer span.End()

		resp, err := handler(ctx, req)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(otelcodes.Error, err.Error())
		} else {
			span.SetStatus(otelcodes.Ok, "")
		}
		span.SetAttributes(attribute.String("rpc.grpc.status_code", status.Code(err).String()))
		return resp, err
	}
}

// metadataCarrier 让 gRPC metadata 满足 TextMapCarrier
type metadataCarrier metadata.MD

var _ propagation.TextMapCarrier = metadataCarrier(nil)

func (c metadataCarrier) Get(key string) string {
	values := metadata.MD(c).Get(key)
	if len(values) == 0 {
		return ""
	}
	return values[0]
}

func (c metadataCarrier) Set(key, value string) {
	metadata.MD(c).Set(key, value)
}

func (c metadataCarrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	return keys
}
