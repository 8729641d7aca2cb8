package infra

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"logwatch/internal/logger"

	"go.uber.org/zap"
	gormLogger "gorm.io/gorm/logger"
)

// maxLoggedSQL 日志中 SQL 的最大长度。pgvector 写入会把整段向量字面量拼进 SQL。
const maxLoggedSQL = 512

// SQLLogger 把 GORM 日志写入 zap，并带上请求上下文中的 request_id / trace_id
type SQLLogger struct {
	base          *zap.Logger
	level         gormLogger.LogLevel
	slowThreshold time.Duration
}

// NewSQLLogger 创建 GORM 日志适配器
func NewSQLLogger(base *zap.Logger, level gormLogger.LogLevel, slowThreshold time.Duration) *SQLLogger {
	if base == nil {
		base = zap.NewNop()
	}
	return &SQLLogger{
		base:          base.With(zap.String("component", "gorm")),
		level:         level,
		slowThreshold: slowThreshold,
	}
}

// ParseSQLLogLevel 解析 database.log_level，未知值按 warn 处理
func ParseSQLLogLevel(s string) gormLogger.LogLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "silent":
		return gormLogger.Silent
	case "error":
		return gormLogger.Error
	case "info":
		return gormLogger.Info
	default:
		return gormLogger.Warn
	}
}

// LogMode 返回指定级别的副本
func (l *SQLLogger) LogMode(level gormLogger.LogLevel) gormLogger.Interface {
	cp := *l
	cp.level = level
	return &cp
}

func (l *SQLLogger) Info(ctx context.Context, msg string, data ...any) {
	if l.level >= gormLogger.Info {
		l.from(ctx).Info(fmt.Sprintf(msg, data...))
	}
}

func (l *SQLLogger) Warn(ctx context.Context, msg string, data ...any) {
	if l.level >= gormLogger.Warn {
		l.from(ctx).Warn(fmt.Sprintf(msg, data...))
	}
}

func (l *SQLLogger) Error(ctx context.Context, msg string, data ...any) {
	if l.level >= gormLogger.Error {
		l.from(ctx).Error(fmt.Sprintf(msg, data...))
	}
}

// Trace 记录 SQL 执行结果：错误、慢查询，Info 级别下记录全部语句
func (l *SQLLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.level <= gormLogger.Silent {
		return
	}

	elapsed := time.Since(begin)
	failed := err != nil && !errors.Is(err, gormLogger.ErrRecordNotFound)
	slow := l.slowThreshold > 0 && elapsed > l.slowThreshold

	switch {
	case failed && l.level >= gormLogger.Error:
		l.from(ctx).Error("SQL 执行错误", append(l.fields(elapsed, fc), zap.Error(err))...)
	case slow && l.level >= gormLogger.Warn:
		l.from(ctx).Warn("SQL 慢查询", append(l.fields(elapsed, fc), zap.Duration("threshold", l.slowThreshold))...)
	case l.level >= gormLogger.Info:
		l.from(ctx).Debug("SQL 执行", l.fields(elapsed, fc)...)
	}
}

func (l *SQLLogger) from(ctx context.Context) *zap.Logger {
	return logger.FromContext(ctx, l.base)
}

func (l *SQLLogger) fields(elapsed time.Duration, fc func() (string, int64)) []zap.Field {
	sql, rows := fc()
	if len(sql) > maxLoggedSQL {
		sql = sql[:maxLoggedSQL] + "...(truncated)"
	}
	return []zap.Field{
		zap.Duration("elapsed", elapsed),
		zap.String("sql", sql),
		zap.Int64("rows", rows),
	}
}
