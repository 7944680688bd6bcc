package svc

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/aetherflow/sessionpool/internal/api/auth"
	"github.com/aetherflow/sessionpool/internal/config"
	"github.com/aetherflow/sessionpool/internal/discovery"
	"github.com/aetherflow/sessionpool/internal/metrics"
	"github.com/aetherflow/sessionpool/internal/protocol"
	"github.com/aetherflow/sessionpool/internal/protocol/breaker"
	"github.com/aetherflow/sessionpool/internal/protocol/wsclient"
	"github.com/aetherflow/sessionpool/internal/session"
	"github.com/aetherflow/sessionpool/internal/tracing"
)

// ServiceContext 服务上下文
type ServiceContext struct {
	Config   config.Config
	Logger   *zap.Logger
	Pool     *session.Pool
	Store    session.Store
	Metrics  *metrics.Metrics
	Gatherer prometheus.Gatherer
	Tracing  *tracing.Provider

	// Auth 为 nil 时控制接口不鉴权
	Auth *auth.Manager

	collector *metrics.Collector
	registry  *discovery.Registry
	closers   []func() error
}

// NewLogger 按配置创建 zap logger
func NewLogger(c config.LoggingConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(c.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(level)
	if c.Encoding != "" {
		zc.Encoding = c.Encoding
	}
	if c.Encoding == "console" {
		zc.EncoderConfig = zap.NewDevelopmentEncoderConfig()
	}
	return zc.Build()
}

// NewServiceContext 创建服务上下文。dialer 为 nil 时使用 websocket 客户端
func NewServiceContext(c config.Config, logger *zap.Logger, dialer protocol.Dialer) (*ServiceContext, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx := &ServiceContext{Config: c, Logger: logger}

	// 创建指标
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	ctx.Gatherer = reg
	if c.Metrics.Enable {
		ctx.Metrics = metrics.NewMetrics(c.Metrics.Namespace, "", reg)
	}

	// 创建链路追踪
	tp, err := tracing.New(c.Tracing, logger)
	if err != nil {
		return nil, fmt.Errorf("tracing initialization failed: %w", err)
	}
	ctx.Tracing = tp
	ctx.closers = append(ctx.closers, func() error {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return tp.Shutdown(shutdownCtx)
	})

	// 创建凭据缓存
	store, err := newStore(c.Store, logger)
	if err != nil {
		ctx.Close()
		return nil, err
	}
	ctx.Store = store
	if rs, ok := store.(*session.RedisStore); ok {
		ctx.closers = append(ctx.closers, rs.Close)
	}

	sessionConfig, err := c.Pool.Session()
	if err != nil {
		ctx.Close()
		return nil, fmt.Errorf("invalid pool config: %w", err)
	}

	if dialer == nil {
		dialer = wsclient.NewDialer(wsclient.Config{Logger: logger})
	}
	if c.Breaker.Enable {
		dialer = breaker.New(dialer, breaker.Config{
			Failures:    c.Breaker.Failures,
			OpenTimeout: time.Duration(c.Breaker.OpenTimeout) * time.Millisecond,
			Logger:      logger.Named("breaker"),
		})
	}

	ctx.Pool = session.NewPool(&session.PoolConfig{
		Session:            sessionConfig,
		Dialer:             dialer,
		Store:              store,
		Logger:             logger,
		Metrics:            ctx.Metrics,
		Tracer:             tp.Tracer(session.TracerName),
		DefaultEndpoint:    c.Pool.DefaultEndpoint,
		RestoreConcurrency: c.Pool.RestoreConcurrency,
	})

	if c.Metrics.Enable {
		ctx.collector = metrics.NewCollector(ctx.Metrics, ctx.Pool,
			time.Duration(c.Metrics.CollectInterval)*time.Millisecond, logger)
		ctx.collector.Start()
	}

	if c.Auth.Secret != "" {
		ctx.Auth = auth.NewManager(c.Auth.Secret, c.Auth.Issuer)
		logger.Info("Control API authentication enabled")
	}

	return ctx, nil
}

func newStore(c config.StoreConfig, logger *zap.Logger) (session.Store, error) {
	switch c.Type {
	case "memory", "":
		logger.Info("Using MemoryStore")
		return session.NewMemoryStore(), nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     c.Addr,
			Password: c.Password,
			DB:       c.DB,
		})
		store, err := session.NewRedisStore(&session.RedisStoreConfig{
			Client:    client,
			Logger:    logger,
			KeyPrefix: c.KeyPrefix,
			TTL:       time.Duration(c.TTL) * time.Second,
		})
		if err != nil {
			client.Close()
			return nil, fmt.Errorf("failed to create RedisStore: %w", err)
		}

		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := store.Ping(pingCtx); err != nil {
			client.Close()
			return nil, fmt.Errorf("failed to connect to Redis: %w", err)
		}
		logger.Info("Using RedisStore", zap.String("addr", c.Addr))
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported store type: %s", c.Type)
	}
}

// Register 将服务注册到 etcd，未配置 Hosts 时跳过
func (ctx *ServiceContext) Register(inst discovery.Instance) error {
	c := ctx.Config.Etcd
	if len(c.Hosts) == 0 {
		return nil
	}
	if c.ServiceAddr != "" {
		inst.HTTP = c.ServiceAddr
	}

	registry, err := discovery.NewRegistry(&discovery.Config{
		Endpoints:   c.Hosts,
		DialTimeout: time.Duration(c.DialTimeout) * time.Millisecond,
		Username:    c.Username,
		Password:    c.Password,
		TTL:         c.TTL,
	}, ctx.Logger)
	if err != nil {
		return err
	}

	key := discovery.ServiceKey(c.Prefix, c.ServiceName, inst.HTTP)
	if err := registry.Register(key, inst.Encode()); err != nil {
		registry.Close()
		return err
	}
	ctx.registry = registry
	return nil
}

// LoadAccounts 添加账号文件中的会话，返回成功注册的数量
func (ctx *ServiceContext) LoadAccounts(c context.Context) (int, error) {
	if ctx.Config.AccountsFile == "" {
		return 0, nil
	}
	accounts, err := config.LoadAccounts(ctx.Config.AccountsFile)
	if err != nil {
		return 0, err
	}

	added := 0
	for _, a := range accounts {
		sum, err := ctx.Pool.Add(c, a.ID, a.Credential, a.Endpoint)
		if err != nil {
			ctx.Logger.Warn("Account not started",
				zap.String("session_id", a.ID),
				zap.Error(err))
		}
		if sum.ID != "" {
			added++
		}
	}
	return added, nil
}

// Close 关闭服务上下文
func (ctx *ServiceContext) Close() error {
	var err error

	// 先注销服务
	if ctx.registry != nil {
		err = multierr.Append(err, ctx.registry.Close())
	}
	if ctx.collector != nil {
		ctx.collector.Stop()
	}
	if ctx.Pool != nil {
		err = multierr.Append(err, ctx.Pool.Close())
	}
	for i := len(ctx.closers) - 1; i >= 0; i-- {
		err = multierr.Append(err, ctx.closers[i]())
	}

	if err != nil {
		ctx.Logger.Error("Failed to close service context", zap.Error(err))
	}
	_ = ctx.Logger.Sync()
	return err
}
