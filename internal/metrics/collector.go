package metrics

import (
	"runtime"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultCollectInterval 默认采集周期
const DefaultCollectInterval = 10 * time.Second

// Snapshot 会话池的瞬时统计
type Snapshot struct {
	ByState    map[string]int
	QueueDepth int
	Cooldowns  int
	Forced     int
}

// Source 提供快照
type Source interface {
	Snapshot() Snapshot
}

// Collector 指标收集器
type Collector struct {
	metrics  *Metrics
	source   Source
	logger   *zap.Logger
	interval time.Duration

	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
}

// NewCollector 创建指标收集器
func NewCollector(metrics *Metrics, source Source, interval time.Duration, logger *zap.Logger) *Collector {
	if interval <= 0 {
		interval = DefaultCollectInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Collector{
		metrics:  metrics,
		source:   source,
		logger:   logger,
		interval: interval,
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start 开始收集
func (c *Collector) Start() {
	go c.collectLoop()
	c.logger.Info("Metrics collector started")
}

// Stop 停止收集并等待循环退出
func (c *Collector) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopCh)
		<-c.done
		c.logger.Info("Metrics collector stopped")
	})
}

// collectLoop 收集循环
func (c *Collector) collectLoop() {
	defer close(c.done)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.Collect()
	for {
		select {
		case <-ticker.C:
			c.Collect()
		case <-c.stopCh:
			return
		}
	}
}

// Collect 采集一次
func (c *Collector) Collect() {
	numGoroutines := runtime.NumGoroutine()
	if c.metrics != nil {
		c.metrics.GoRoutines.Set(float64(numGoroutines))
	}

	if c.source == nil {
		return
	}
	snap := c.source.Snapshot()
	c.metrics.Observe(snap)

	c.logger.Debug("Pool metrics collected",
		zap.Int("goroutines", numGoroutines),
		zap.Int("queue_depth", snap.QueueDepth),
		zap.Int("cooldowns", snap.Cooldowns),
		zap.Int("forced", snap.Forced),
	)
}
