package metrics

import (
	"context"
	"database/sql"
	"time"

	"go.uber.org/zap"
)

// ChunkCounter 返回索引中的分块数
type ChunkCounter interface {
	Count(ctx context.Context) (int64, error)
}

// Collector 定期采集数据库连接与索引规模
type Collector struct {
	db       *sql.DB
	index    ChunkCounter
	interval time.Duration
	logger   *zap.Logger
}

// NewCollector 创建采集器，db 与 index 均可为 nil
func NewCollector(db *sql.DB, index ChunkCounter, interval time.Duration, logger *zap.Logger) *Collector {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Collector{db: db, index: index, interval: interval, logger: logger}
}

// Run 阻塞运行直到 ctx 取消
func (c *Collector) Run(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.CollectOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.CollectOnce(ctx)
		}
	}
}

// CollectOnce 采集一次
func (c *Collector) CollectOnce(ctx context.Context) {
	if c.db != nil {
		stats := c.db.Stats()
		DBConnections.WithLabelValues("open").Set(float64(stats.OpenConnections))
		DBConnections.WithLabelValues("in_use").Set(float64(stats.InUse))
		DBConnections.WithLabelValues("idle").Set(float64(stats.Idle))
	}

	if c.index != nil {
		ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		n, err := c.index.Count(ctx)
		if err != nil {
			c.logger.Warn("采集索引规模失败", zap.Error(err))
			return
		}
		IndexChunks.Set(float64(n))
	}
}

// RecordRetrieval 记录一次检索的耗时、证据数量与失败
func RecordRetrieval(mode string, fn func() (int, error)) (int, error) {
	start := time.Now()
	n, err := fn()
	RetrievalDuration.WithLabelValues(mode).Observe(time.Since(start).Seconds())
	if err != nil {
		RetrievalErrorsTotal.WithLabelValues(mode).Inc()
		return n, err
	}
	RetrievalEvidence.WithLabelValues(mode).Observe(float64(n))
	return n, nil
}
