package analyze

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	response "logwatch/api/handlers/common"
	"logwatch/internal/audit"
	"logwatch/internal/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// RecordStore 分析记录查询
type RecordStore interface {
	Get(ctx context.Context, requestID string) (*audit.AnalysisRecord, error)
	List(ctx context.Context, f audit.Filter) ([]audit.AnalysisRecord, error)
}

// WithRecords 启用分析记录查询接口
func (h *Handler) WithRecords(store RecordStore) *Handler {
	h.records = store
	return h
}

// GetRecord 查询单次分析记录
// @Summary 查询分析记录
// @Tags Analyze
// @Produce json
// @Param request_id path string true "请求 ID"
// @Success 200 {object} audit.AnalysisRecord
// @Failure 404 {object} response.ErrorResponse
// @Failure 503 {object} response.ErrorResponse
// @Router /api/analyses/{request_id} [get]
func (h *Handler) GetRecord(c *gin.Context) {
	if h.records == nil {
		c.JSON(http.StatusServiceUnavailable, response.NewError(response.CodeRecordsDisabled, "未启用分析记录"))
		return
	}

	rec, err := h.records.Get(c.Request.Context(), c.Param("request_id"))
	if errors.Is(err, audit.ErrRecordNotFound) {
		c.JSON(http.StatusNotFound, response.NewError(response.CodeNotFound, err.Error()))
		return
	}
	if err != nil {
		logger.FromContext(c.Request.Context(), h.logger).Error("查询分析记录失败", zap.Error(err))
		c.JSON(http.StatusInternalServerError, response.NewError(response.CodeInternal, "查询分析记录失败"))
		return
	}
	c.JSON(http.StatusOK, rec)
}

// ListRecords 分页查询分析记录
// @Summary 分析记录列表
// @Tags Analyze
// @Produce json
// @Param tenant_id query string false "租户"
// @Param decision query string false "ALLOW/REVIEW/ESCALATE"
// @Param from query string false "起始时间 RFC3339"
// @Param to query string false "结束时间 RFC3339"
// @Param limit query int false "每页数量，默认 50"
// @Param offset query int false "偏移"
// @Success 200 {object} response.APIResponse
// @Failure 400 {object} response.ErrorResponse
// @Router /api/analyses [get]
func (h *Handler) ListRecords(c *gin.Context) {
	if h.records == nil {
		c.JSON(http.StatusServiceUnavailable, response.NewError(response.CodeRecordsDisabled, "未启用分析记录"))
		return
	}

	f := audit.Filter{
		TenantID: c.Query("tenant_id"),
		Decision: c.Query("decision"),
	}
	var err error
	if f.From, err = parseTimeQuery(c, "from"); err != nil {
		c.JSON(http.StatusBadRequest, response.NewError(response.CodeInvalidRequest, "from 参数格式错误"))
		return
	}
	if f.To, err = parseTimeQuery(c, "to"); err != nil {
		c.JSON(http.StatusBadRequest, response.NewError(response.CodeInvalidRequest, "to 参数格式错误"))
		return
	}
	if f.Limit, err = parseIntQuery(c, "limit"); err != nil {
		c.JSON(http.StatusBadRequest, response.NewError(response.CodeInvalidRequest, "limit 参数格式错误"))
		return
	}
	if f.Offset, err = parseIntQuery(c, "offset"); err != nil {
		c.JSON(http.StatusBadRequest, response.NewError(response.CodeInvalidRequest, "offset 参数格式错误"))
		return
	}

	records, err := h.records.List(c.Request.Context(), f)
	if err != nil {
		logger.FromContext(c.Request.Context(), h.logger).Error("查询分析记录失败", zap.Error(err))
		c.JSON(http.StatusInternalServerError, response.NewError(response.CodeInternal, "查询分析记录失败"))
		return
	}
	c.JSON(http.StatusOK, response.APIResponse{Success: true, Data: records})
}

func parseTimeQuery(c *gin.Context, key string) (*time.Time, error) {
	raw := c.Query(key)
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func parseIntQuery(c *gin.Context, key string) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, errors.New("invalid")
	}
	return n, nil
}
