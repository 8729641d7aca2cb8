package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"logwatch/internal/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type seenIDs struct {
	ctxRequestID string
	ginRequestID string
	traceID      string
}

func newTestRouter(seen *seenIDs) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestIDMiddleware())
	r.GET("/ping", func(c *gin.Context) {
		seen.ctxRequestID = GetRequestID(c.Request.Context())
		seen.ginRequestID = GetRequestIDFromGin(c)
		seen.traceID = logger.GetTraceID(c.Request.Context())
		c.Status(http.StatusNoContent)
	})
	return r
}

func TestRequestIDMiddleware(t *testing.T) {
	t.Run("生成请求 ID", func(t *testing.T) {
		var seen seenIDs
		w := httptest.NewRecorder()
		newTestRouter(&seen).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))

		id := w.Header().Get(HeaderRequestID)
		_, err := uuid.Parse(id)
		require.NoError(t, err)
		assert.Equal(t, id, seen.ctxRequestID)
		assert.Equal(t, id, seen.ginRequestID)
		assert.Equal(t, id, seen.traceID)
		assert.Equal(t, id, w.Header().Get(HeaderTraceID))
	})

	t.Run("沿用上游请求 ID", func(t *testing.T) {
		var seen seenIDs
		req := httptest.NewRequest(http.MethodGet, "/ping", nil)
		req.Header.Set(HeaderRequestID, "upstream-1")
		req.Header.Set(HeaderTraceID, "trace-9")
		w := httptest.NewRecorder()
		newTestRouter(&seen).ServeHTTP(w, req)

		assert.Equal(t, "upstream-1", w.Header().Get(HeaderRequestID))
		assert.Equal(t, "upstream-1", seen.ctxRequestID)
		assert.Equal(t, "trace-9", seen.traceID)
	})
}
