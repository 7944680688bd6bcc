package discovery

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sync"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
)

// DefaultTTL 默认租约时长（秒）
const DefaultTTL int64 = 10

// ErrClosed 客户端已关闭
var ErrClosed = errors.New("discovery: client is closed")

// Config Etcd配置
type Config struct {
	Endpoints   []string
	DialTimeout time.Duration
	Username    string
	Password    string
	Prefix      string // 服务注册前缀
	TTL         int64  // 租约时长（秒）
}

// ServiceKey 生成服务注册的 key：{prefix}/{service}/{addr}
func ServiceKey(prefix, service, addr string) string {
	if prefix == "" {
		prefix = "/services"
	}
	return path.Join(prefix, service, addr)
}

// Registry 基于 etcd 租约的服务注册
type Registry struct {
	client *clientv3.Client
	logger *zap.Logger
	ttl    int64

	mu      sync.Mutex
	leaseID clientv3.LeaseID
	key     string
	value   string
	closed  bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRegistry 创建服务注册客户端
func NewRegistry(config *Config, logger *zap.Logger) (*Registry, error) {
	if config == nil {
		return nil, fmt.Errorf("config is nil")
	}
	if len(config.Endpoints) == 0 {
		return nil, fmt.Errorf("no etcd endpoints")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	clientConfig := clientv3.Config{
		Endpoints:   config.Endpoints,
		DialTimeout: config.DialTimeout,
	}
	if config.Username != "" {
		clientConfig.Username = config.Username
		clientConfig.Password = config.Password
	}

	client, err := clientv3.New(clientConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create etcd client: %w", err)
	}

	ttl := config.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	ctx, cancel := context.WithCancel(context.Background())
	logger.Info("Etcd client created", zap.Strings("endpoints", config.Endpoints))

	return &Registry{
		client: client,
		logger: logger,
		ttl:    ttl,
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

// Register 注册服务并保持心跳，租约丢失后自动重新注册
func (r *Registry) Register(key, value string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrClosed
	}
	r.key = key
	r.value = value
	return r.registerLocked()
}

func (r *Registry) registerLocked() error {
	lease, err := r.client.Grant(r.ctx, r.ttl)
	if err != nil {
		return fmt.Errorf("failed to create lease: %w", err)
	}
	if _, err := r.client.Put(r.ctx, r.key, r.value, clientv3.WithLease(lease.ID)); err != nil {
		return fmt.Errorf("failed to register service: %w", err)
	}
	keepAliveCh, err := r.client.KeepAlive(r.ctx, lease.ID)
	if err != nil {
		return fmt.Errorf("failed to keep alive: %w", err)
	}
	r.leaseID = lease.ID

	r.wg.Add(1)
	go r.watchKeepAlive(keepAliveCh)

	r.logger.Info("Service registered",
		zap.String("key", r.key),
		zap.String("value", r.value),
		zap.Int64("ttl", r.ttl),
		zap.Int64("lease_id", int64(lease.ID)),
	)
	return nil
}

// watchKeepAlive 监听心跳；通道关闭说明租约丢失
func (r *Registry) watchKeepAlive(ch <-chan *clientv3.LeaseKeepAliveResponse) {
	defer r.wg.Done()

	for {
		select {
		case <-r.ctx.Done():
			return
		case resp, ok := <-ch:
			if !ok {
				r.logger.Warn("Keep alive channel closed, re-registering")
				r.mu.Lock()
				if !r.closed && r.key != "" {
					if err := r.registerLocked(); err != nil {
						r.logger.Error("Failed to re-register service", zap.Error(err))
					}
				}
				r.mu.Unlock()
				return
			}
			r.logger.Debug("Keep alive", zap.Int64("ttl", resp.TTL))
		}
	}
}

// Close 注销服务并关闭客户端
func (r *Registry) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if r.key != "" {
		if _, err := r.client.Delete(ctx, r.key); err != nil {
			r.logger.Warn("Failed to delete service key", zap.Error(err))
		}
	}
	if r.leaseID != 0 {
		if _, err := r.client.Revoke(ctx, r.leaseID); err != nil {
			r.logger.Warn("Failed to revoke lease", zap.Error(err))
		}
	}
	r.cancel()
	r.mu.Unlock()

	r.wg.Wait()
	r.logger.Info("Etcd client closed", zap.String("key", r.key))
	return r.client.Close()
}
