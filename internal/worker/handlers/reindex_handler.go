package handlers

import (
	"context"
	"encoding/json"
	"fmt"

	"logwatch/internal/rag"
	"logwatch/internal/worker/tasks"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

// IndexBuilder 重建政策索引
type IndexBuilder interface {
	Build(ctx context.Context, dir string, opts rag.BuildOptions) (*rag.BuildReport, error)
}

// ReindexHandler 处理政策语料重建任务
type ReindexHandler struct {
	builder    IndexBuilder
	defaultDir string
	logger     *zap.Logger
}

func NewReindexHandler(builder IndexBuilder, defaultDir string, logger *zap.Logger) *ReindexHandler {
	return &ReindexHandler{
		builder:    builder,
		defaultDir: defaultDir,
		logger:     logger,
	}
}

func (h *ReindexHandler) HandleReindexPolicies(ctx context.Context, t *asynq.Task) error {
	var p tasks.ReindexPoliciesPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("json unmarshal failed: %w: %w", err, asynq.SkipRetry)
	}

	dir := p.PolicyDir
	if dir == "" {
		dir = h.defaultDir
	}
	log := h.logger.With(zap.String("policy_dir", dir), zap.String("requested_by", p.RequestedBy))
	log.Info("开始重建政策索引", zap.Bool("reset", p.Reset))

	report, err := h.builder.Build(ctx, dir, rag.BuildOptions{Reset: p.Reset})
	if err != nil {
		log.Error("政策索引重建失败", zap.Error(err))
		return err
	}

	log.Info("政策索引重建完成",
		zap.Int("sections", report.Sections),
		zap.Int("chunks", report.Chunks),
		zap.Int("upserted", report.Upserted))
	return nil
}
