package analyze

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"logwatch/internal/rag"
	"logwatch/internal/risk"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeStrategy struct {
	mode     rag.Mode
	evidence []rag.Evidence
	err      error

	mu      sync.Mutex
	queries [][]string
}

func (f *fakeStrategy) Mode() rag.Mode { return f.mode }

func (f *fakeStrategy) Retrieve(ctx context.Context, queries []string) ([]rag.Evidence, rag.Debug, error) {
	f.mu.Lock()
	f.queries = append(f.queries, queries)
	f.mu.Unlock()
	if f.err != nil {
		return nil, nil, f.err
	}
	return f.evidence, rag.Debug{"mode": string(f.mode), "evidence_count": len(f.evidence)}, nil
}

type fakeSource struct {
	strategies map[rag.Mode]*fakeStrategy
	err        error
	requested  []rag.Mode
}

func (f *fakeSource) Get(ctx context.Context, mode rag.Mode) (rag.Strategy, error) {
	f.requested = append(f.requested, mode)
	if f.err != nil {
		return nil, f.err
	}
	return f.strategies[mode], nil
}

func newSource(evidence []rag.Evidence) *fakeSource {
	return &fakeSource{strategies: map[rag.Mode]*fakeStrategy{
		rag.ModeVector: {mode: rag.ModeVector, evidence: evidence},
		rag.ModeHybrid: {mode: rag.ModeHybrid, evidence: evidence},
	}}
}

var oneEvidence = []rag.Evidence{{DocID: "lockout", Title: "lockout.md", ChunkID: "lockout::s0::c0", Quote: "Lock after five failures."}}

func event(id, ts string, action string, result risk.Result, country string) risk.LogEvent {
	return risk.LogEvent{
		EventID: id,
		TS:      ts,
		Actor:   risk.Actor{UserID: "u-1"},
		Action:  action,
		Result:  result,
		Source:  risk.Source{IP: "10.0.0.1", Country: country},
		Target:  risk.Target{Resource: "admin-console"},
	}
}

// failedLogins 以 anchor 为最后一个事件，向前每隔 step 生成一次失败登录
func failedLogins(n int, anchor time.Time, step time.Duration, country string) []risk.LogEvent {
	logs := make([]risk.LogEvent, 0, n)
	for i := n - 1; i >= 0; i-- {
		ts := anchor.Add(-time.Duration(i) * step).Format(time.RFC3339)
		logs = append(logs, event(fmt.Sprintf("e%d", i), ts, "LOGIN", risk.ResultFail, country))
	}
	return logs
}

func newTestService(t *testing.T, src StrategySource) *Service {
	return NewService(rag.DefaultQueryTable(), src, rag.ModeHybrid, zaptest.NewLogger(t))
}

func TestAnalyze_Scenarios(t *testing.T) {
	ctx := context.Background()
	anchor := time.Date(2024, 5, 1, 14, 0, 0, 0, time.UTC)

	t.Run("A: 四分钟内五次失败登录", func(t *testing.T) {
		src := newSource(oneEvidence)
		svc := newTestService(t, src)

		resp, err := svc.Analyze(ctx, &Request{RequestID: "req-a", Logs: failedLogins(5, anchor, time.Minute, "KR")})
		require.NoError(t, err)

		assert.Equal(t, "req-a", resp.RequestID)
		assert.Equal(t, risk.Summary{RiskScore: 40, RiskLevel: risk.LevelMed, Decision: risk.DecisionReview}, resp.Summary)
		require.Len(t, resp.Signals, 1)
		assert.Equal(t, risk.SignalFailedLoginBurst, resp.Signals[0].Key)
		require.Len(t, resp.RecommendedActions, 1)
		assert.Equal(t, risk.PriorityP0, resp.RecommendedActions[0].Priority)
		assert.Equal(t, oneEvidence, resp.Evidence)
		assert.Equal(t, false, resp.Debug[DebugNoEvidence])
		assert.Equal(t, false, resp.Debug[DebugDowngraded])
	})

	t.Run("B: 凌晨两点访问", func(t *testing.T) {
		svc := newTestService(t, newSource(nil))
		logs := []risk.LogEvent{event("e1", "2024-05-01T02:10:00Z", "READ", risk.ResultSuccess, "KR")}

		resp, err := svc.Analyze(ctx, &Request{Logs: logs})
		require.NoError(t, err)
		assert.Equal(t, risk.Summary{RiskScore: 15, RiskLevel: risk.LevelLow, Decision: risk.DecisionAllow}, resp.Summary)
		require.Len(t, resp.Signals, 1)
		assert.Equal(t, risk.SignalNightAccess, resp.Signals[0].Key)
		// 证据为空但决策不是 ESCALATE，不降级
		assert.Equal(t, true, resp.Debug[DebugNoEvidence])
		assert.Equal(t, false, resp.Debug[DebugDowngraded])
	})

	t.Run("C: 新国家登录", func(t *testing.T) {
		svc := newTestService(t, newSource(oneEvidence))
		logs := []risk.LogEvent{event("e1", "2024-05-01T12:00:00Z", "LOGIN", risk.ResultSuccess, "US")}

		resp, err := svc.Analyze(ctx, &Request{
			Logs:    logs,
			Context: &RequestContext{Baseline: &risk.Baseline{KnownCountries: []string{"KR"}}},
		})
		require.NoError(t, err)
		assert.Equal(t, risk.Summary{RiskScore: 25, RiskLevel: risk.LevelLow, Decision: risk.DecisionAllow}, resp.Summary)
		require.Len(t, resp.Signals, 1)
		assert.Equal(t, risk.SignalNewCountry, resp.Signals[0].Key)
	})

	t.Run("D: 高风险且无证据时降级为 REVIEW", func(t *testing.T) {
		src := newSource(nil)
		svc := newTestService(t, src)

		resp, err := svc.Analyze(ctx, &Request{
			Logs:    failedLogins(6, anchor, 30*time.Second, "US"),
			Context: &RequestContext{Baseline: &risk.Baseline{KnownCountries: []string{"KR"}}},
		})
		require.NoError(t, err)
		assert.Equal(t, 65, resp.Summary.RiskScore)
		assert.Equal(t, risk.LevelHigh, resp.Summary.RiskLevel)
		assert.Equal(t, risk.DecisionReview, resp.Summary.Decision)
		assert.Equal(t, true, resp.Debug[DebugNoEvidence])
		assert.Equal(t, true, resp.Debug[DebugDowngraded])
		assert.NotNil(t, resp.Evidence)
		assert.Empty(t, resp.Evidence)

		// 每个信号一个查询，顺序与信号一致
		calls := src.strategies[rag.ModeHybrid].queries
		require.Len(t, calls, 1)
		assert.Equal(t, rag.DefaultQueryTable().Build(resp.Signals), calls[0])
		assert.Len(t, calls[0], 2)
	})

	t.Run("D: 有证据时保持 ESCALATE", func(t *testing.T) {
		svc := newTestService(t, newSource(oneEvidence))

		resp, err := svc.Analyze(ctx, &Request{
			Logs:    failedLogins(6, anchor, 30*time.Second, "US"),
			Context: &RequestContext{Baseline: &risk.Baseline{KnownCountries: []string{"KR"}}},
		})
		require.NoError(t, err)
		assert.Equal(t, risk.DecisionEscalate, resp.Summary.Decision)
		assert.Equal(t, false, resp.Debug[DebugDowngraded])
	})

	t.Run("E: 空日志", func(t *testing.T) {
		src := newSource(nil)
		svc := newTestService(t, src)

		resp, err := svc.Analyze(ctx, &Request{Logs: []risk.LogEvent{}})
		require.NoError(t, err)
		assert.Equal(t, risk.Summary{RiskScore: 0, RiskLevel: risk.LevelLow, Decision: risk.DecisionAllow}, resp.Summary)
		assert.NotNil(t, resp.Signals)
		assert.Empty(t, resp.Signals)
		assert.NotNil(t, resp.RecommendedActions)
		assert.Empty(t, resp.RecommendedActions)
		assert.Equal(t, risk.Features{}, resp.Debug["features"])

		// 无信号时使用兜底查询
		assert.Equal(t, [][]string{{rag.FallbackQuery}}, src.strategies[rag.ModeHybrid].queries)
	})
}

func TestAnalyze_RequestID(t *testing.T) {
	svc := newTestService(t, newSource(nil))
	resp, err := svc.Analyze(context.Background(), &Request{Logs: []risk.LogEvent{}})
	require.NoError(t, err)

	_, err = uuid.Parse(resp.RequestID)
	assert.NoError(t, err)
}

func TestAnalyze_ModeSelection(t *testing.T) {
	src := newSource(oneEvidence)
	svc := NewService(nil, src, rag.ModeVector, nil)

	resp, err := svc.Analyze(context.Background(), &Request{Logs: []risk.LogEvent{}})
	require.NoError(t, err)
	assert.Equal(t, "vector", resp.Debug["mode"])

	_, err = svc.Analyze(context.Background(), &Request{
		Logs:    []risk.LogEvent{},
		Context: &RequestContext{RetrievalMode: "HYBRID"},
	})
	require.NoError(t, err)
	assert.Equal(t, []rag.Mode{rag.ModeVector, rag.ModeHybrid}, src.requested)
}

func TestAnalyze_Errors(t *testing.T) {
	ctx := context.Background()

	t.Run("时间戳非法时不检索", func(t *testing.T) {
		src := newSource(oneEvidence)
		svc := newTestService(t, src)

		_, err := svc.Analyze(ctx, &Request{Logs: []risk.LogEvent{event("bad", "yesterday", "LOGIN", risk.ResultFail, "")}})
		var parseErr *risk.ParseError
		require.ErrorAs(t, err, &parseErr)
		assert.Equal(t, "bad", parseErr.EventID)
		assert.Empty(t, src.requested)
	})

	t.Run("未知检索模式", func(t *testing.T) {
		svc := newTestService(t, newSource(nil))
		_, err := svc.Analyze(ctx, &Request{Logs: []risk.LogEvent{}, Context: &RequestContext{RetrievalMode: "keyword"}})
		assert.ErrorIs(t, err, rag.ErrUnknownMode)
	})

	t.Run("检索配置错误", func(t *testing.T) {
		src := &fakeSource{err: &rag.ConfigurationError{Mode: rag.ModeHybrid, Reason: "关键词检索器构建失败", Err: rag.ErrEmptyCorpus}}
		svc := newTestService(t, src)

		_, err := svc.Analyze(ctx, &Request{Logs: []risk.LogEvent{}})
		var cfgErr *rag.ConfigurationError
		require.ErrorAs(t, err, &cfgErr)
		assert.Equal(t, rag.ModeHybrid, cfgErr.Mode)
	})

	t.Run("检索失败", func(t *testing.T) {
		boom := errors.New("qdrant unavailable")
		src := newSource(nil)
		src.strategies[rag.ModeHybrid].err = boom
		svc := newTestService(t, src)

		_, err := svc.Analyze(ctx, &Request{Logs: []risk.LogEvent{}})
		assert.ErrorIs(t, err, boom)
	})
}

func TestApplyGuardrail(t *testing.T) {
	escalate := risk.Summary{RiskScore: 70, RiskLevel: risk.LevelHigh, Decision: risk.DecisionEscalate}

	got, noEvidence := ApplyGuardrail(escalate, nil)
	assert.True(t, noEvidence)
	assert.Equal(t, risk.Summary{RiskScore: 70, RiskLevel: risk.LevelHigh, Decision: risk.DecisionReview}, got)

	got, noEvidence = ApplyGuardrail(escalate, oneEvidence)
	assert.False(t, noEvidence)
	assert.Equal(t, escalate, got)

	for _, d := range []risk.Decision{risk.DecisionAllow, risk.DecisionReview} {
		s := risk.Summary{Decision: d}
		got, noEvidence = ApplyGuardrail(s, []rag.Evidence{})
		assert.True(t, noEvidence)
		assert.Equal(t, s, got)
	}
}

type fakeRecorder struct {
	got []*Response
	err error
}

func (f *fakeRecorder) Record(ctx context.Context, req *Request, resp *Response) error {
	f.got = append(f.got, resp)
	return f.err
}

func TestAnalyze_Recorder(t *testing.T) {
	ctx := context.Background()

	rec := &fakeRecorder{}
	svc := newTestService(t, newSource(oneEvidence)).WithRecorder(rec)
	resp, err := svc.Analyze(ctx, &Request{RequestID: "req-r", Logs: []risk.LogEvent{}})
	require.NoError(t, err)
	require.Len(t, rec.got, 1)
	assert.Same(t, resp, rec.got[0])

	// 记录失败不影响分析结果
	failing := &fakeRecorder{err: errors.New("db down")}
	svc = newTestService(t, newSource(oneEvidence)).WithRecorder(failing)
	_, err = svc.Analyze(ctx, &Request{Logs: []risk.LogEvent{}})
	assert.NoError(t, err)

	// 分析失败时不记录
	failing.got = nil
	_, err = svc.Analyze(ctx, &Request{Logs: []risk.LogEvent{event("bad", "nope", "LOGIN", risk.ResultFail, "")}})
	assert.Error(t, err)
	assert.Empty(t, failing.got)
}
