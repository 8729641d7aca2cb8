package infra

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"logwatch/internal/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	gormLogger "gorm.io/gorm/logger"
)

func TestSQLLogger_Trace(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	l := NewSQLLogger(zap.New(core), gormLogger.Warn, 200*time.Millisecond)
	fc := func() (string, int64) { return "SELECT 1", 1 }
	ctx := context.Background()

	t.Run("普通语句在 warn 级别不记录", func(t *testing.T) {
		l.Trace(ctx, time.Now(), fc, nil)
		assert.Equal(t, 0, logs.Len())
	})

	t.Run("慢查询", func(t *testing.T) {
		l.Trace(ctx, time.Now().Add(-time.Second), fc, nil)
		assert.Equal(t, 1, logs.FilterMessage("SQL 慢查询").Len())
	})

	t.Run("记录不存在不算错误", func(t *testing.T) {
		l.Trace(ctx, time.Now(), fc, gormLogger.ErrRecordNotFound)
		assert.Equal(t, 0, logs.FilterMessage("SQL 执行错误").Len())
	})

	t.Run("执行错误", func(t *testing.T) {
		l.Trace(ctx, time.Now(), fc, errors.New("syntax error"))
		assert.Equal(t, 1, logs.FilterMessage("SQL 执行错误").Len())
	})

	t.Run("silent 不输出", func(t *testing.T) {
		l.LogMode(gormLogger.Silent).Trace(ctx, time.Now(), fc, errors.New("ignored"))
		assert.Equal(t, 1, logs.FilterMessage("SQL 执行错误").Len())
	})
}

func TestSQLLogger_RequestContext(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	l := NewSQLLogger(zap.New(core), gormLogger.Info, 0)

	ctx := logger.WithRequestID(context.Background(), "req-42")
	long := "INSERT INTO policy_chunks (embedding) VALUES ('[" + strings.Repeat("0.1,", 400) + "0.1]')"
	l.Trace(ctx, time.Now(), func() (string, int64) { return long, 1 }, nil)

	entries := logs.FilterMessage("SQL 执行").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "req-42", fields["request_id"])
	assert.Equal(t, "gorm", fields["component"])
	sql := fields["sql"].(string)
	assert.True(t, strings.HasSuffix(sql, "...(truncated)"))
	assert.Less(t, len(sql), len(long))
}

func TestParseSQLLogLevel(t *testing.T) {
	assert.Equal(t, gormLogger.Silent, ParseSQLLogLevel("silent"))
	assert.Equal(t, gormLogger.Error, ParseSQLLogLevel("ERROR"))
	assert.Equal(t, gormLogger.Info, ParseSQLLogLevel("info"))
	assert.Equal(t, gormLogger.Warn, ParseSQLLogLevel(""))
}
