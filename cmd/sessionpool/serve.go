package main

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/spf13/cobra"
	"github.com/zeromicro/go-zero/core/conf"
	"github.com/zeromicro/go-zero/core/logx"
	"github.com/zeromicro/go-zero/core/proc"
	"github.com/zeromicro/go-zero/rest"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/aetherflow/sessionpool/internal/api/handler"
	"github.com/aetherflow/sessionpool/internal/api/middleware"
	"github.com/aetherflow/sessionpool/internal/api/svc"
	"github.com/aetherflow/sessionpool/internal/config"
	"github.com/aetherflow/sessionpool/internal/discovery"
	"github.com/aetherflow/sessionpool/internal/rpc"
)

const defaultConfigFile = "configs/sessionpool.yaml"

func newServeCmd() *cobra.Command {
	var configFile string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the session pool with its HTTP and gRPC control surfaces",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var c config.Config
			if err := conf.Load(configFile, &c); err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			return serve(cmd.Context(), c)
		},
	}
	cmd.Flags().StringVarP(&configFile, "config", "f", defaultConfigFile, "the config file")
	return cmd
}

func serve(ctx context.Context, c config.Config) error {
	logger, err := svc.NewLogger(c.Logging)
	if err != nil {
		return err
	}
	logx.MustSetup(c.Log)

	logger.Info("Starting sessionpool",
		zap.String("version", version),
		zap.String("build_time", buildTime))

	svcCtx, err := svc.NewServiceContext(c, logger, nil)
	if err != nil {
		return err
	}
	defer svcCtx.Close()

	server, err := rest.NewServer(c.RestConf)
	if err != nil {
		return fmt.Errorf("create http server: %w", err)
	}

	server.Use(middleware.RequestID)
	if svcCtx.Tracing.Enabled() {
		server.Use(middleware.Tracing(svcCtx.Tracing.Tracer("sessionpool/http")))
	}
	server.Use(middleware.Logger(logger, svcCtx.Metrics))
	if c.RateLimit.Enable {
		server.Use(middleware.RateLimit(c.RateLimit.Rate, c.RateLimit.Burst))
	}
	handler.RegisterHandlers(server, svcCtx)

	var rpcServer *rpc.Server
	var lis net.Listener
	if c.GRPC.Enable {
		lis, err = net.Listen("tcp", c.GRPC.ListenAddr)
		if err != nil {
			return fmt.Errorf("listen %s: %w", c.GRPC.ListenAddr, err)
		}
		rpcServer = rpc.NewServer(rpc.Config{
			Pool:    svcCtx.Pool,
			Logger:  logger,
			Metrics: svcCtx.Metrics,
			Tracer:  svcCtx.Tracing.Tracer(rpc.ServiceName),
		})
	}

	g, gctx := errgroup.WithContext(ctx)

	httpDone := make(chan struct{})
	g.Go(func() error {
		defer close(httpDone)
		logger.Info("HTTP control server started", zap.String("host", c.Host), zap.Int("port", c.Port))
		server.Start()
		return nil
	})

	if rpcServer != nil {
		g.Go(func() error {
			return rpcServer.Serve(lis)
		})
	}

	// 恢复缓存的会话并加载账号文件
	g.Go(func() error {
		restored, err := svcCtx.Pool.Restore(gctx)
		if err != nil {
			logger.Warn("Restore failed", zap.Error(err))
		}
		added, err := svcCtx.LoadAccounts(gctx)
		if err != nil {
			logger.Warn("Accounts file not loaded", zap.Error(err))
		}
		logger.Info("Sessions started", zap.Int("restored", restored), zap.Int("accounts", added))
		return nil
	})

	inst := discovery.Instance{HTTP: fmt.Sprintf("%s:%d", c.Host, c.Port)}
	if c.GRPC.Enable {
		inst.GRPC = c.GRPC.ListenAddr
	}
	if err := svcCtx.Register(inst); err != nil {
		logger.Warn("Service registration failed", zap.Error(err))
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down")
		stopHTTP(httpDone)
		server.Stop()
		if rpcServer != nil {
			rpcServer.Stop()
		}
		return nil
	})

	return g.Wait()
}

// stopHTTP 触发 go-zero 的 shutdown 监听器关闭 HTTP 服务。
// Start 可能尚未注册监听器，因此重复触发直到服务退出
func stopHTTP(done <-chan struct{}) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		proc.Shutdown()
		select {
		case <-done:
			return
		case <-ticker.C:
		}
	}
}
