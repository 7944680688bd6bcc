package config

import (
	"fmt"
	"os"
	"time"

	"github.com/zeromicro/go-zero/rest"
	"gopkg.in/yaml.v2"

	"github.com/aetherflow/sessionpool/internal/dispatch"
	"github.com/aetherflow/sessionpool/internal/session"
	"github.com/aetherflow/sessionpool/internal/tracing"
)

// Config sessionpool 服务配置。各配置段不能标记 optional，
// 否则缺省时 go-zero 不会填充段内的 default 值
type Config struct {
	rest.RestConf

	// 会话池配置
	Pool PoolConfig

	// zap 日志配置
	Logging LoggingConfig

	// 凭据缓存
	Store StoreConfig

	// 限流配置
	RateLimit RateLimitConfig

	// 控制接口认证
	Auth AuthConfig

	// gRPC 控制接口
	GRPC GRPCConfig

	// 链路追踪
	Tracing tracing.Config

	// 服务注册
	Etcd EtcdConfig

	// 指标
	Metrics MetricsConfig

	// 拨号熔断
	Breaker BreakerConfig

	// 启动时加载的账号文件
	AccountsFile string `json:",optional"`
}

// PoolConfig 会话池配置，时间单位均为毫秒
type PoolConfig struct {
	DefaultEndpoint      string  `json:",optional"`
	TickInterval         int64   `json:",default=100"`
	SendInterval         int64   `json:",default=2000"`
	Cooldown             int64   `json:",default=5000"`
	QueueCapacity        int     `json:",default=100"`
	QueueMode            string  `json:",default=continuous,options=continuous|cycle"`
	Message              string  `json:",default=hello"`
	MessageTemplate      string  `json:",default=/msg {target} {message}"`
	HandshakeTimeout     int64   `json:",default=30000"`
	ReconnectDelay       int64   `json:",default=10000"`
	ReconnectMultiplier  float64 `json:",default=1"`
	MaxReconnectDelay    int64   `json:",optional"`
	MaxReconnectAttempts int     `json:",default=3"` // 负数表示不重连
	BannedGrace          int64   `json:",default=1000"`
	RestoreConcurrency   int     `json:",default=8"`
}

// BreakerConfig 按服务器地址的拨号熔断配置
type BreakerConfig struct {
	Enable      bool  `json:",default=true"`
	Failures    int   `json:",default=5"`     // 连续失败次数
	OpenTimeout int64 `json:",default=30000"` // 毫秒
}

// LoggingConfig zap 日志配置
type LoggingConfig struct {
	Level    string `json:",default=info,options=debug|info|warn|error"`
	Encoding string `json:",default=json,options=json|console"`
}

// StoreConfig 凭据缓存配置
type StoreConfig struct {
	Type      string `json:",default=memory,options=memory|redis"`
	Addr      string `json:",default=localhost:6379"`
	Password  string `json:",optional"`
	DB        int    `json:",default=0"`
	KeyPrefix string `json:",default=sessionpool:"`
	TTL       int64  `json:",optional"` // 秒，0 表示不过期
}

// RateLimitConfig 限流配置
type RateLimitConfig struct {
	Enable bool `json:",default=true"`
	Rate   int  `json:",default=100"` // 每秒请求数
	Burst  int  `json:",default=200"` // 突发容量
}

// AuthConfig 控制接口 JWT 认证，Secret 为空时不启用
type AuthConfig struct {
	Secret string `json:",optional"`
	Issuer string `json:",default=sessionpool"`
}

// GRPCConfig gRPC 控制接口配置
type GRPCConfig struct {
	Enable     bool   `json:",default=true"`
	ListenAddr string `json:",default=0.0.0.0:9090"`
}

// EtcdConfig Etcd配置
type EtcdConfig struct {
	Hosts       []string `json:",optional"`
	Prefix      string   `json:",default=/services"`
	ServiceName string   `json:",default=sessionpool"`
	ServiceAddr string   `json:",optional"`
	TTL         int64    `json:",default=10"`   // 秒
	DialTimeout int64    `json:",default=5000"` // 毫秒
	Username    string   `json:",optional"`
	Password    string   `json:",optional"`
}

// MetricsConfig 指标配置
type MetricsConfig struct {
	Enable          bool   `json:",default=true"`
	Namespace       string `json:",default=sessionpool"`
	Path            string `json:",default=/metrics"`
	CollectInterval int64  `json:",default=15000"` // 毫秒
}

func millis(ms int64) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

// Session 转换为会话配置
func (c PoolConfig) Session() (session.Config, error) {
	mode, err := dispatch.ParseMode(c.QueueMode)
	if err != nil {
		return session.Config{}, err
	}

	return session.Config{
		TickInterval:         millis(c.TickInterval),
		SendInterval:         millis(c.SendInterval),
		Cooldown:             millis(c.Cooldown),
		QueueCapacity:        c.QueueCapacity,
		QueueMode:            mode,
		Message:              c.Message,
		MessageTemplate:      c.MessageTemplate,
		HandshakeTimeout:     millis(c.HandshakeTimeout),
		ReconnectDelay:       millis(c.ReconnectDelay),
		ReconnectMultiplier:  c.ReconnectMultiplier,
		MaxReconnectDelay:    millis(c.MaxReconnectDelay),
		MaxReconnectAttempts: c.MaxReconnectAttempts,
		BannedGrace:          millis(c.BannedGrace),
	}, nil
}

// Account 账号文件中的一条记录
type Account struct {
	ID         string `yaml:"id"`
	Credential string `yaml:"credential"`
	Endpoint   string `yaml:"endpoint"`
}

type accountsFile struct {
	Accounts []Account `yaml:"accounts"`
}

// LoadAccounts 读取账号文件
func LoadAccounts(path string) ([]Account, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read accounts file: %w", err)
	}
	return ParseAccounts(data)
}

// ParseAccounts 解析账号 YAML，凭据为空的记录视为错误
func ParseAccounts(data []byte) ([]Account, error) {
	var f accountsFile
	if err := yaml.UnmarshalStrict(data, &f); err != nil {
		return nil, fmt.Errorf("parse accounts file: %w", err)
	}
	for i, a := range f.Accounts {
		if a.Credential == "" {
			return nil, fmt.Errorf("parse accounts file: entry %d has no credential", i)
		}
	}
	return f.Accounts, nil
}
