package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics 指标集合。所有 Record* 方法对 nil 接收者安全。
type Metrics struct {
	// HTTP 请求指标
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPActiveRequests  *prometheus.GaugeVec

	// gRPC 请求指标
	GRPCRequestsTotal   *prometheus.CounterVec
	GRPCRequestDuration *prometheus.HistogramVec

	// 会话指标
	Sessions          *prometheus.GaugeVec
	SessionsTotal     *prometheus.CounterVec
	HandshakeDuration *prometheus.HistogramVec
	DisconnectsTotal  *prometheus.CounterVec
	ReconnectsTotal   prometheus.Counter

	// 派发指标
	SendsTotal           *prometheus.CounterVec
	QueueRejectionsTotal prometheus.Counter
	QueueDepth           prometheus.Gauge
	CooldownEntries      prometheus.Gauge
	ForcedSessions       prometheus.Gauge

	// 系统指标
	GoRoutines prometheus.Gauge
}

// NewMetrics 创建并注册指标，reg 为 nil 时使用默认注册表
func NewMetrics(namespace, subsystem string, reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status_code"},
		),
		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request latency distributions",
				Buckets:   prometheus.ExponentialBuckets(0.001, 2, 15), // 1ms to ~16s
			},
			[]string{"method", "path"},
		),
		HTTPActiveRequests: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "http_active_requests",
				Help:      "Number of active HTTP requests",
			},
			[]string{"method", "path"},
		),

		GRPCRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "grpc_requests_total",
				Help:      "Total number of gRPC requests",
			},
			[]string{"method", "status"},
		),
		GRPCRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "grpc_request_duration_seconds",
				Help:      "gRPC request latency distributions",
				Buckets:   prometheus.ExponentialBuckets(0.001, 2, 15),
			},
			[]string{"method"},
		),

		Sessions: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "sessions",
				Help:      "Number of registered sessions by state",
			},
			[]string{"state"},
		),
		SessionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "sessions_total",
				Help:      "Total number of session registry changes",
			},
			[]string{"action"}, // action: added/removed/evicted
		),
		HandshakeDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "handshake_duration_seconds",
				Help:      "Time from dial to ready",
				Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12), // 50ms to ~100s
			},
			[]string{"result"},
		),
		DisconnectsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "disconnects_total",
				Help:      "Total number of disconnects by failure class",
			},
			[]string{"class"},
		),
		ReconnectsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "reconnects_total",
				Help:      "Total number of scheduled reconnects",
			},
		),

		SendsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "sends_total",
				Help:      "Total number of outbound messages",
			},
			[]string{"status"}, // status: success/failed
		),
		QueueRejectionsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "queue_rejections_total",
				Help:      "Total number of targets rejected by a queue",
			},
		),
		QueueDepth: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "queue_depth",
				Help:      "Pending targets across all sessions",
			},
		),
		CooldownEntries: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "cooldown_entries",
				Help:      "Targets cooling down across all sessions",
			},
		),
		ForcedSessions: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "forced_sessions",
				Help:      "Number of sessions in force mode",
			},
		),

		GoRoutines: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "goroutines",
				Help:      "Number of goroutines",
			},
		),
	}
}

// RecordHTTPRequest 记录 HTTP 请求
func (m *Metrics) RecordHTTPRequest(method, path string, statusCode int, duration time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, path, strconv.Itoa(statusCode)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// IncActiveRequests 增加活跃请求数
func (m *Metrics) IncActiveRequests(method, path string) {
	if m == nil {
		return
	}
	m.HTTPActiveRequests.WithLabelValues(method, path).Inc()
}

// DecActiveRequests 减少活跃请求数
func (m *Metrics) DecActiveRequests(method, path string) {
	if m == nil {
		return
	}
	m.HTTPActiveRequests.WithLabelValues(method, path).Dec()
}

// RecordGRPCRequest 记录 gRPC 请求
func (m *Metrics) RecordGRPCRequest(method, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.GRPCRequestsTotal.WithLabelValues(method, status).Inc()
	m.GRPCRequestDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// RecordSessionAction 记录注册表变化
func (m *Metrics) RecordSessionAction(action string) {
	if m == nil {
		return
	}
	m.SessionsTotal.WithLabelValues(action).Inc()
}

// RecordHandshake 记录握手耗时
func (m *Metrics) RecordHandshake(ok bool, duration time.Duration) {
	if m == nil {
		return
	}
	result := "success"
	if !ok {
		result = "failed"
	}
	m.HandshakeDuration.WithLabelValues(result).Observe(duration.Seconds())
}

// RecordDisconnect 记录断开
func (m *Metrics) RecordDisconnect(class string) {
	if m == nil {
		return
	}
	m.DisconnectsTotal.WithLabelValues(class).Inc()
}

// RecordReconnect 记录重连
func (m *Metrics) RecordReconnect() {
	if m == nil {
		return
	}
	m.ReconnectsTotal.Inc()
}

// RecordSend 记录发送
func (m *Metrics) RecordSend(ok bool) {
	if m == nil {
		return
	}
	status := "success"
	if !ok {
		status = "failed"
	}
	m.SendsTotal.WithLabelValues(status).Inc()
}

// RecordQueueRejection 记录入队被拒
func (m *Metrics) RecordQueueRejection() {
	if m == nil {
		return
	}
	m.QueueRejectionsTotal.Inc()
}

// Observe 用快照更新会话相关的仪表
func (m *Metrics) Observe(s Snapshot) {
	if m == nil {
		return
	}
	m.Sessions.Reset()
	for state, n := range s.ByState {
		m.Sessions.WithLabelValues(state).Set(float64(n))
	}
	m.QueueDepth.Set(float64(s.QueueDepth))
	m.CooldownEntries.Set(float64(s.Cooldowns))
	m.ForcedSessions.Set(float64(s.Forced))
}
