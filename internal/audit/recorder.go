package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"logwatch/internal/analyze"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ErrRecordNotFound 分析记录不存在
var ErrRecordNotFound = errors.New("分析记录不存在")

// AnalysisRecord 一次分析的决策留痕，request_id 为主键
type AnalysisRecord struct {
	RequestID     string         `json:"request_id" gorm:"primaryKey;size:64"`
	TenantID      string         `json:"tenant_id,omitempty" gorm:"size:64;index"`
	UserIDs       string         `json:"user_ids,omitempty" gorm:"size:512"` // 逗号分隔，按首次出现顺序
	LogCount      int            `json:"log_count"`
	RiskScore     int            `json:"risk_score"`
	RiskLevel     string         `json:"risk_level" gorm:"size:8"`
	Decision      string         `json:"decision" gorm:"size:16;index"`
	Downgraded    bool           `json:"downgraded"`
	EvidenceCount int            `json:"evidence_count"`
	RetrievalMode string         `json:"retrieval_mode,omitempty" gorm:"size:16"`
	Signals       datatypes.JSON `json:"signals"`
	Response      datatypes.JSON `json:"response"`
	CreatedAt     time.Time      `json:"created_at" gorm:"index"`
}

// TableName 表名
func (AnalysisRecord) TableName() string {
	return "analysis_records"
}

// Filter 查询条件
type Filter struct {
	TenantID string
	Decision string
	From     *time.Time
	To       *time.Time
	Limit    int
	Offset   int
}

// GormRecorder 将分析结果写入 analysis_records 表
type GormRecorder struct {
	db *gorm.DB
}

// NewGormRecorder 创建记录器
func NewGormRecorder(db *gorm.DB) *GormRecorder {
	return &GormRecorder{db: db}
}

// Migrate 确保 analysis_records 表存在
func (r *GormRecorder) Migrate(ctx context.Context) error {
	if err := r.db.WithContext(ctx).AutoMigrate(&AnalysisRecord{}); err != nil {
		return fmt.Errorf("迁移 analysis_records 失败: %w", err)
	}
	return nil
}

// Record 保存一次分析；相同 request_id 重复提交时覆盖旧记录
func (r *GormRecorder) Record(ctx context.Context, req *analyze.Request, resp *analyze.Response) error {
	rec, err := newRecord(req, resp)
	if err != nil {
		return err
	}
	return r.db.WithContext(ctx).Save(rec).Error
}

// Get 按 request_id 查询
func (r *GormRecorder) Get(ctx context.Context, requestID string) (*AnalysisRecord, error) {
	var rec AnalysisRecord
	err := r.db.WithContext(ctx).Where("request_id = ?", requestID).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// List 按时间倒序分页查询
func (r *GormRecorder) List(ctx context.Context, f Filter) ([]AnalysisRecord, error) {
	q := r.db.WithContext(ctx).Model(&AnalysisRecord{})
	if f.TenantID != "" {
		q = q.Where("tenant_id = ?", f.TenantID)
	}
	if f.Decision != "" {
		q = q.Where("decision = ?", strings.ToUpper(f.Decision))
	}
	if f.From != nil {
		q = q.Where("created_at >= ?", *f.From)
	}
	if f.To != nil {
		q = q.Where("created_at <= ?", *f.To)
	}

	limit := f.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	var records []AnalysisRecord
	err := q.Order("created_at DESC").Limit(limit).Offset(f.Offset).Find(&records).Error
	return records, err
}

func newRecord(req *analyze.Request, resp *analyze.Response) (*AnalysisRecord, error) {
	signals, err := json.Marshal(resp.Signals)
	if err != nil {
		return nil, fmt.Errorf("序列化信号失败: %w", err)
	}
	full, err := json.Marshal(resp)
	if err != nil {
		return nil, fmt.Errorf("序列化分析结果失败: %w", err)
	}

	var users []string
	seen := make(map[string]struct{})
	for _, ev := range req.Logs {
		if _, ok := seen[ev.Actor.UserID]; ok || ev.Actor.UserID == "" {
			continue
		}
		seen[ev.Actor.UserID] = struct{}{}
		users = append(users, ev.Actor.UserID)
	}

	downgraded, _ := resp.Debug[analyze.DebugDowngraded].(bool)
	mode, _ := resp.Debug["mode"].(string)

	return &AnalysisRecord{
		RequestID:     resp.RequestID,
		TenantID:      req.TenantID,
		UserIDs:       strings.Join(users, ","),
		LogCount:      len(req.Logs),
		RiskScore:     resp.Summary.RiskScore,
		RiskLevel:     string(resp.Summary.RiskLevel),
		Decision:      string(resp.Summary.Decision),
		Downgraded:    downgraded,
		EvidenceCount: len(resp.Evidence),
		RetrievalMode: mode,
		Signals:       datatypes.JSON(signals),
		Response:      datatypes.JSON(full),
		CreatedAt:     time.Now().UTC(),
	}, nil
}
