package discovery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
)

// ErrNoInstance 没有可用的服务实例
var ErrNoInstance = errors.New("discovery: no instance registered")

// Instance 注册到 etcd 的实例地址
type Instance struct {
	HTTP string `json:"http,omitempty"`
	GRPC string `json:"grpc,omitempty"`
}

// Encode 编码为注册值
func (i Instance) Encode() string {
	b, _ := json.Marshal(i)
	return string(b)
}

// Resolver 查询已注册的服务实例
type Resolver struct {
	client *clientv3.Client
	prefix string
	logger *zap.Logger
}

// NewResolver 创建服务解析器
func NewResolver(config *Config, logger *zap.Logger) (*Resolver, error) {
	if config == nil || len(config.Endpoints) == 0 {
		return nil, fmt.Errorf("no etcd endpoints")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	client, err := clientv3.New(clientv3.Config{
		Endpoints:   config.Endpoints,
		DialTimeout: config.DialTimeout,
		Username:    config.Username,
		Password:    config.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create etcd client: %w", err)
	}
	return &Resolver{client: client, prefix: config.Prefix, logger: logger}, nil
}

// Instances 返回 service 下的全部实例
func (r *Resolver) Instances(ctx context.Context, service string) ([]Instance, error) {
	prefix := ServiceKey(r.prefix, service, "") + "/"
	resp, err := r.client.Get(ctx, prefix, clientv3.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", prefix, err)
	}

	values := make([][]byte, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		values = append(values, kv.Value)
	}
	instances := decodeInstances(values, r.logger)

	r.logger.Debug("Service instances resolved",
		zap.String("service", service),
		zap.Int("count", len(instances)),
	)
	return instances, nil
}

// GRPCAddr 返回第一个提供 gRPC 接口的实例地址
func (r *Resolver) GRPCAddr(ctx context.Context, service string) (string, error) {
	instances, err := r.Instances(ctx, service)
	if err != nil {
		return "", err
	}
	return pickGRPC(instances, service)
}

// Close 关闭客户端
func (r *Resolver) Close() error {
	return r.client.Close()
}

// decodeInstances 兼容只写了地址的旧注册值
func decodeInstances(values [][]byte, logger *zap.Logger) []Instance {
	instances := make([]Instance, 0, len(values))
	for _, v := range values {
		var inst Instance
		if err := json.Unmarshal(v, &inst); err != nil {
			if len(v) == 0 {
				logger.Warn("Skipping empty service value")
				continue
			}
			inst = Instance{HTTP: string(v)}
		}
		instances = append(instances, inst)
	}
	return instances
}

func pickGRPC(instances []Instance, service string) (string, error) {
	for _, inst := range instances {
		if inst.GRPC != "" {
			return inst.GRPC, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrNoInstance, service)
}
