package rag

import (
	"fmt"
	"maps"
	"os"

	"logwatch/internal/risk"

	"gopkg.in/yaml.v3"
)

// FallbackQuery 没有任何信号映射到查询时使用的兜底查询
const FallbackQuery = "access log risk assessment criteria and operator response guidance (REVIEW/ESCALATE) policy evidence"

var defaultSignalQueries = map[string]string{
	risk.SignalFailedLoginBurst: "authentication failure monitoring, failed login burst threshold, rate limiting, temporary lockout, escalation guidance",
	risk.SignalNewCountry:       "new country login, geo-velocity, step-up authentication (MFA challenge), verification policy, escalation criteria",
	risk.SignalNightAccess:      "night access 00:00-06:00, after-hours access review, exception list, escalation conditions",
	risk.SignalNewDevice:        "new device login, device verification, step-up authentication (MFA challenge), session termination, escalation criteria",
}

// QueryTable 信号键到政策检索查询的静态映射
type QueryTable struct {
	queries  map[string]string
	fallback string
}

// DefaultQueryTable 内置映射表
func DefaultQueryTable() *QueryTable {
	return &QueryTable{queries: maps.Clone(defaultSignalQueries), fallback: FallbackQuery}
}

type queryTableFile struct {
	Fallback string            `yaml:"fallback"`
	Queries  map[string]string `yaml:"queries"`
}

// LoadQueryTable 在内置映射表基础上合并 YAML 文件中的条目，path 为空时返回内置表
func LoadQueryTable(path string) (*QueryTable, error) {
	table := DefaultQueryTable()
	if path == "" {
		return table, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取查询映射文件失败: %w", err)
	}
	var file queryTableFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("解析查询映射文件失败: %w", err)
	}

	for key, q := range file.Queries {
		if q == "" {
			delete(table.queries, key)
			continue
		}
		table.queries[key] = q
	}
	if file.Fallback != "" {
		table.fallback = file.Fallback
	}
	return table, nil
}

// Build 按信号顺序生成去重后的查询列表，没有任何映射时返回唯一的兜底查询
func (t *QueryTable) Build(signals []risk.Signal) []string {
	out := make([]string, 0, len(signals))
	seen := make(map[string]struct{}, len(signals))
	for _, s := range signals {
		q, ok := t.queries[s.Key]
		if !ok {
			continue
		}
		if _, dup := seen[q]; dup {
			continue
		}
		seen[q] = struct{}{}
		out = append(out, q)
	}
	if len(out) == 0 {
		return []string{t.fallback}
	}
	return out
}
