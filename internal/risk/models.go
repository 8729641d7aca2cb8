package risk

import "fmt"

// Result 事件结果
type Result string

const (
	ResultSuccess Result = "SUCCESS"
	ResultFail    Result = "FAIL"
)

// Sensitivity 目标资源敏感级别
type Sensitivity string

const (
	SensitivityLow  Sensitivity = "LOW"
	SensitivityMed  Sensitivity = "MED"
	SensitivityHigh Sensitivity = "HIGH"
)

// Level 风险等级
type Level string

const (
	LevelLow  Level = "LOW"
	LevelMed  Level = "MED"
	LevelHigh Level = "HIGH"
)

// Decision 运营处置决策
type Decision string

const (
	DecisionAllow    Decision = "ALLOW"
	DecisionReview   Decision = "REVIEW"
	DecisionEscalate Decision = "ESCALATE"
)

// Priority 建议处置优先级，P0 最紧急
type Priority string

const (
	PriorityP0 Priority = "P0"
	PriorityP1 Priority = "P1"
	PriorityP2 Priority = "P2"
)

// Actor 访问主体
type Actor struct {
	UserID string `json:"user_id" binding:"required"`
	Email  string `json:"email,omitempty"`
	Role   string `json:"role,omitempty"`
}

// Source 访问来源
type Source struct {
	IP        string `json:"ip" binding:"required"`
	Country   string `json:"country,omitempty"`
	DeviceID  string `json:"device_id,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
}

// Target 访问目标
type Target struct {
	Resource    string      `json:"resource" binding:"required"`
	Sensitivity Sensitivity `json:"sensitivity,omitempty" binding:"omitempty,oneof=LOW MED HIGH"`
}

// Level 返回敏感级别，未填写时视为 LOW
func (t Target) Level() Sensitivity {
	if t.Sensitivity == "" {
		return SensitivityLow
	}
	return t.Sensitivity
}

// Meta 事件附加信息
type Meta struct {
	MFAUsed *bool  `json:"mfa_used,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// LogEvent 标准化的访问日志事件，接收后只读
type LogEvent struct {
	EventID string `json:"event_id" binding:"required"`
	TS      string `json:"ts" binding:"required"`
	Actor   Actor  `json:"actor" binding:"required"`
	Action  string `json:"action" binding:"required"`
	Result  Result `json:"result" binding:"required,oneof=SUCCESS FAIL"`
	Source  Source `json:"source" binding:"required"`
	Target  Target `json:"target" binding:"required"`
	Meta    *Meta  `json:"meta,omitempty"`
}

// Baseline 用户的正常行为基线
type Baseline struct {
	KnownCountries    []string `json:"known_countries"`
	KnownDevices      []string `json:"known_devices"`
	TypicalLoginHours []int    `json:"typical_login_hours"`
}

// Features 从日志窗口中提取的风险特征
type Features struct {
	FailedLoginBurstCount int  `json:"failed_login_burst_count"`
	NightAccess           bool `json:"night_access"`
	NewCountry            bool `json:"new_country"`
	// NewDevice 预留特征，提取器目前不设置
	NewDevice bool `json:"new_device"`
}

// Signal 触发的风险信号
type Signal struct {
	Key    string `json:"key"`
	Value  any    `json:"value"`
	Weight int    `json:"weight"`
	Reason string `json:"reason"`
}

// ActionItem 建议运营处置
type ActionItem struct {
	Action   string   `json:"action"`
	Priority Priority `json:"priority"`
	Why      string   `json:"why"`
}

// Summary 风险评分汇总
type Summary struct {
	RiskScore int      `json:"risk_score"`
	RiskLevel Level    `json:"risk_level"`
	Decision  Decision `json:"decision"`
}

// ParseError 日志时间戳无法解析
type ParseError struct {
	EventID string
	Value   string
	Err     error
}

func (e *ParseError) Error() string {
	if e.EventID != "" {
		return fmt.Sprintf("事件 %s 时间戳格式错误 %q: %v", e.EventID, e.Value, e.Err)
	}
	return fmt.Sprintf("时间戳格式错误 %q: %v", e.Value, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}
