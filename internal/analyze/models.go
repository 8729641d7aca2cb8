package analyze

import (
	"logwatch/internal/rag"
	"logwatch/internal/risk"
)

// Request 分析请求
type Request struct {
	RequestID string          `json:"request_id"`
	TenantID  string          `json:"tenant_id"`
	Logs      []risk.LogEvent `json:"logs" binding:"required,dive"`
	Context   *RequestContext `json:"context,omitempty"`
}

// RequestContext 可选的分析上下文
type RequestContext struct {
	Baseline *risk.Baseline `json:"baseline,omitempty"`
	// RetrievalMode vector 或 hybrid，为空时使用服务默认值
	RetrievalMode string `json:"retrieval_mode,omitempty"`
}

// Response 分析结果
type Response struct {
	RequestID          string            `json:"request_id"`
	Summary            risk.Summary      `json:"summary"`
	Signals            []risk.Signal     `json:"signals"`
	RecommendedActions []risk.ActionItem `json:"recommended_actions"`
	Evidence           []rag.Evidence    `json:"evidence"`
	Debug              map[string]any    `json:"debug"`
}

func (r *Request) baseline() *risk.Baseline {
	if r.Context == nil {
		return nil
	}
	return r.Context.Baseline
}

func (r *Request) retrievalMode() string {
	if r.Context == nil {
		return ""
	}
	return r.Context.RetrievalMode
}
