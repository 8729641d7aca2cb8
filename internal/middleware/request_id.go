package middleware

import (
	"context"

	"logwatch/internal/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// HTTP 头常量
const (
	HeaderRequestID = "X-Request-ID"
	HeaderTraceID   = "X-Trace-ID"
)

const ginRequestIDKey = "request_id"

// RequestIDMiddleware 请求 ID 中间件
// 优先使用上游传入的 X-Request-ID，否则生成 UUID；Trace ID 缺省与请求 ID 相同
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(HeaderRequestID)
		if requestID == "" {
			requestID = uuid.New().String()
		}
		traceID := c.GetHeader(HeaderTraceID)
		if traceID == "" {
			traceID = requestID
		}

		c.Set(ginRequestIDKey, requestID)
		ctx := logger.WithTraceID(logger.WithRequestID(c.Request.Context(), requestID), traceID)
		c.Request = c.Request.WithContext(ctx)

		c.Header(HeaderRequestID, requestID)
		c.Header(HeaderTraceID, traceID)

		c.Next()
	}
}

// GetRequestID 从上下文获取请求 ID
func GetRequestID(ctx context.Context) string {
	return logger.GetRequestID(ctx)
}

// GetRequestIDFromGin 从 Gin 上下文获取请求 ID
func GetRequestIDFromGin(c *gin.Context) string {
	return c.GetString(ginRequestIDKey)
}
