package analyze

import (
	"context"
	"fmt"
	"maps"

	"logwatch/internal/logger"
	"logwatch/internal/metrics"
	"logwatch/internal/rag"
	"logwatch/internal/risk"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// 写入 debug 的护栏字段
const (
	DebugNoEvidence = "guardrail.no_evidence"
	DebugDowngraded = "guardrail.downgraded"
)

// StrategySource 按检索模式提供策略，*rag.StrategyRegistry 实现此接口
type StrategySource interface {
	Get(ctx context.Context, mode rag.Mode) (rag.Strategy, error)
}

// Recorder 保存分析结果留痕；失败只记录日志，不影响分析结果
type Recorder interface {
	Record(ctx context.Context, req *Request, resp *Response) error
}

// Service 访问日志风险分析
type Service struct {
	queries     *rag.QueryTable
	strategies  StrategySource
	recorder    Recorder
	defaultMode rag.Mode
	logger      *zap.Logger
	tracer      trace.Tracer
}

// NewService 创建分析服务；defaultMode 为空时使用 hybrid
func NewService(queries *rag.QueryTable, strategies StrategySource, defaultMode rag.Mode, logger *zap.Logger) *Service {
	if queries == nil {
		queries = rag.DefaultQueryTable()
	}
	if defaultMode == "" {
		defaultMode = rag.DefaultMode
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		queries:     queries,
		strategies:  strategies,
		defaultMode: defaultMode,
		logger:      logger,
		tracer:      otel.Tracer("logwatch/internal/analyze"),
	}
}

// WithRecorder 设置分析记录器
func (s *Service) WithRecorder(r Recorder) *Service {
	s.recorder = r
	return s
}

// Analyze 特征提取 → 评分 → 生成查询 → 检索政策依据 → 护栏
func (s *Service) Analyze(ctx context.Context, req *Request) (*Response, error) {
	ctx, span := s.tracer.Start(ctx, "Service.Analyze")
	defer span.End()

	requestID := req.RequestID
	if requestID == "" {
		requestID = uuid.New().String()
	}
	log := logger.FromContext(ctx, s.logger).With(zap.String("analyze_id", requestID))
	span.SetAttributes(
		attribute.String("request_id", requestID),
		attribute.Int("logs_count", len(req.Logs)),
	)

	mode := s.defaultMode
	if m := req.retrievalMode(); m != "" {
		parsed, err := rag.ParseMode(m)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "invalid retrieval mode")
			return nil, err
		}
		mode = parsed
	}

	features, err := risk.ExtractFeatures(req.Logs, req.baseline())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "feature extraction failed")
		return nil, err
	}
	summary, signals, actions := risk.Score(features)
	span.SetAttributes(
		attribute.Int("risk_score", summary.RiskScore),
		attribute.String("risk_level", string(summary.RiskLevel)),
	)

	queries := s.queries.Build(signals)
	evidence, retrievalDebug, err := s.retrieve(ctx, mode, queries)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "policy retrieval failed")
		log.Error("政策检索失败", zap.String("mode", string(mode)), zap.Error(err))
		return nil, err
	}

	guarded, noEvidence := ApplyGuardrail(summary, evidence)
	downgraded := guarded.Decision != summary.Decision

	debug := make(map[string]any, len(retrievalDebug)+3)
	maps.Copy(debug, retrievalDebug)
	debug["features"] = features
	debug[DebugNoEvidence] = noEvidence
	debug[DebugDowngraded] = downgraded

	metrics.AnalyzeTotal.WithLabelValues(string(guarded.Decision)).Inc()
	if downgraded {
		metrics.GuardrailDowngradesTotal.Inc()
		log.Warn("缺少政策依据，决策由 ESCALATE 降级为 REVIEW", zap.Int("risk_score", guarded.RiskScore))
	}
	log.Info("分析完成",
		zap.Int("risk_score", guarded.RiskScore),
		zap.String("decision", string(guarded.Decision)),
		zap.Int("signals", len(signals)),
		zap.Int("evidence", len(evidence)),
		zap.String("mode", string(mode)))

	resp := &Response{
		RequestID:          requestID,
		Summary:            guarded,
		Signals:            nonNil(signals),
		RecommendedActions: nonNil(actions),
		Evidence:           nonNil(evidence),
		Debug:              debug,
	}
	if s.recorder != nil {
		if err := s.recorder.Record(ctx, req, resp); err != nil {
			log.Warn("保存分析记录失败", zap.Error(err))
		}
	}
	return resp, nil
}

func (s *Service) retrieve(ctx context.Context, mode rag.Mode, queries []string) ([]rag.Evidence, rag.Debug, error) {
	ctx, span := s.tracer.Start(ctx, "Service.retrieve")
	defer span.End()
	span.SetAttributes(
		attribute.String("mode", string(mode)),
		attribute.Int("queries_count", len(queries)),
	)

	strategy, err := s.strategies.Get(ctx, mode)
	if err != nil {
		span.RecordError(err)
		return nil, nil, err
	}

	var (
		evidence []rag.Evidence
		debug    rag.Debug
	)
	_, err = metrics.RecordRetrieval(string(mode), func() (int, error) {
		var rerr error
		evidence, debug, rerr = strategy.Retrieve(ctx, queries)
		return len(evidence), rerr
	})
	if err != nil {
		span.RecordError(err)
		return nil, nil, fmt.Errorf("政策检索失败: %w", err)
	}
	span.SetAttributes(attribute.Int("evidence_count", len(evidence)))
	return evidence, debug, nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
