package analyze

import (
	"context"
	"errors"
	"net/http"

	response "logwatch/api/handlers/common"
	"logwatch/internal/analyze"
	"logwatch/internal/logger"
	"logwatch/internal/rag"
	"logwatch/internal/risk"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Analyzer 访问日志风险分析
type Analyzer interface {
	Analyze(ctx context.Context, req *analyze.Request) (*analyze.Response, error)
}

// Handler 风险分析处理器
type Handler struct {
	analyzer Analyzer
	records  RecordStore
	logger   *zap.Logger
}

// NewHandler 创建风险分析处理器
func NewHandler(analyzer Analyzer, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{analyzer: analyzer, logger: logger}
}

// Analyze 分析访问日志
// @Summary 访问日志风险分析
// @Description 提取特征、评分、检索政策依据并给出处置建议
// @Tags Analyze
// @Accept json
// @Produce json
// @Param request body analyze.Request true "分析请求"
// @Success 200 {object} analyze.Response
// @Failure 400 {object} response.ErrorResponse
// @Failure 500 {object} response.ErrorResponse
// @Router /api/analyze [post]
func (h *Handler) Analyze(c *gin.Context) {
	var req analyze.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.NewError(response.CodeInvalidRequest, "参数错误: "+err.Error()))
		return
	}

	resp, err := h.analyzer.Analyze(c.Request.Context(), &req)
	if err != nil {
		status, body := classify(err)
		if status >= http.StatusInternalServerError {
			logger.FromContext(c.Request.Context(), h.logger).Error("分析失败", zap.Error(err))
		}
		c.JSON(status, body)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func classify(err error) (int, response.ErrorResponse) {
	var parseErr *risk.ParseError
	var cfgErr *rag.ConfigurationError
	switch {
	case errors.As(err, &parseErr):
		return http.StatusBadRequest, response.NewError(response.CodeInvalidTimestamp, err.Error())
	case errors.Is(err, rag.ErrUnknownMode):
		return http.StatusBadRequest, response.NewError(response.CodeUnknownMode, err.Error())
	case errors.As(err, &cfgErr):
		return http.StatusInternalServerError, response.NewError(response.CodeRetrievalConfig, err.Error())
	default:
		return http.StatusInternalServerError, response.NewError(response.CodeInternal, "分析失败")
	}
}
