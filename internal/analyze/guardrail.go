package analyze

import (
	"logwatch/internal/rag"
	"logwatch/internal/risk"
)

// ApplyGuardrail 没有政策依据时不允许直接升级：ESCALATE 降为 REVIEW。
// 第二个返回值表示证据是否为空。
func ApplyGuardrail(summary risk.Summary, evidence []rag.Evidence) (risk.Summary, bool) {
	noEvidence := len(evidence) == 0
	if noEvidence && summary.Decision == risk.DecisionEscalate {
		summary.Decision = risk.DecisionReview
	}
	return summary, noEvidence
}
