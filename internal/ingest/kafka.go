package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"logwatch/internal/analyze"
	"logwatch/internal/config"
	"logwatch/internal/metrics"

	"github.com/gin-gonic/gin/binding"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// ErrInvalidMessage 消息无法解析或未通过校验
var ErrInvalidMessage = errors.New("非法的访问日志消息")

// Analyzer 访问日志风险分析
type Analyzer interface {
	Analyze(ctx context.Context, req *analyze.Request) (*analyze.Response, error)
}

// MessageReader *kafka.Reader 的子集
type MessageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// MessageWriter *kafka.Writer 的子集
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer 从 Kafka 读取分析请求，结果写回结果主题。
// 每条消息的格式与 POST /api/analyze 的请求体相同。
type Consumer struct {
	reader   MessageReader
	writer   MessageWriter
	analyzer Analyzer
	logger   *zap.Logger

	// 读取失败后的退避区间，每次连续失败翻倍
	minBackoff time.Duration
	maxBackoff time.Duration
	wait       func(ctx context.Context, d time.Duration) error
}

// NewConsumer 按配置创建消费者；ResultTopic 为空时不回写结果
func NewConsumer(cfg config.KafkaConfig, analyzer Analyzer, logger *zap.Logger) (*Consumer, error) {
	if len(cfg.Brokers) == 0 || cfg.Topic == "" {
		return nil, fmt.Errorf("kafka brokers 与 topic 不能为空")
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: 1e3,
		MaxBytes: 10e6,
	})

	var writer MessageWriter
	if cfg.ResultTopic != "" {
		writer = &kafka.Writer{
			Addr:                   kafka.TCP(cfg.Brokers...),
			Topic:                  cfg.ResultTopic,
			Balancer:               &kafka.Hash{},
			AllowAutoTopicCreation: true,
		}
	}

	return newConsumer(reader, writer, analyzer, logger), nil
}

func newConsumer(reader MessageReader, writer MessageWriter, analyzer Analyzer, logger *zap.Logger) *Consumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Consumer{
		reader:     reader,
		writer:     writer,
		analyzer:   analyzer,
		logger:     logger,
		minBackoff: 200 * time.Millisecond,
		maxBackoff: 10 * time.Second,
		wait:       sleepContext,
	}
}

// Run 阻塞消费直到 ctx 取消，取消时返回 nil。
// 单条消息失败只记录日志；读取失败按指数退避重试，reader 被关闭时返回错误。
func (c *Consumer) Run(ctx context.Context) error {
	defer c.close()

	backoff := c.minBackoff
	for {
		m, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, io.EOF) {
				return fmt.Errorf("kafka reader 已关闭: %w", err)
			}
			c.logger.Warn("kafka 读取失败", zap.Duration("backoff", backoff), zap.Error(err))
			if c.wait(ctx, backoff) != nil {
				return nil
			}
			backoff = min(backoff*2, c.maxBackoff)
			continue
		}
		backoff = c.minBackoff

		if err := c.processMessage(ctx, m); err != nil {
			status := "failed"
			if errors.Is(err, ErrInvalidMessage) {
				status = "invalid"
			}
			metrics.IngestMessagesTotal.WithLabelValues(status).Inc()
			c.logger.Warn("kafka 消息处理失败",
				zap.Int("partition", m.Partition),
				zap.Int64("offset", m.Offset),
				zap.Error(err),
			)
			continue
		}
		metrics.IngestMessagesTotal.WithLabelValues("ok").Inc()
	}
}

func (c *Consumer) processMessage(ctx context.Context, m kafka.Message) error {
	var req analyze.Request
	if err := json.Unmarshal(m.Value, &req); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if err := binding.Validator.ValidateStruct(&req); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if req.RequestID == "" && len(m.Key) > 0 {
		req.RequestID = string(m.Key)
	}

	resp, err := c.analyzer.Analyze(ctx, &req)
	if err != nil {
		return fmt.Errorf("分析失败: %w", err)
	}

	c.logger.Info("kafka 消息分析完成",
		zap.String("request_id", resp.RequestID),
		zap.String("decision", string(resp.Summary.Decision)),
		zap.Int("risk_score", resp.Summary.RiskScore),
	)

	if c.writer == nil {
		return nil
	}
	value, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("序列化结果失败: %w", err)
	}
	if err := c.writer.WriteMessages(ctx, kafka.Message{Key: []byte(resp.RequestID), Value: value}); err != nil {
		return fmt.Errorf("写入结果主题失败: %w", err)
	}
	return nil
}

func (c *Consumer) close() {
	if err := c.reader.Close(); err != nil {
		c.logger.Warn("关闭 kafka reader 失败", zap.Error(err))
	}
	if c.writer != nil {
		if err := c.writer.Close(); err != nil {
			c.logger.Warn("关闭 kafka writer 失败", zap.Error(err))
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
