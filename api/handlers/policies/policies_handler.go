package policies

import (
	"errors"
	"fmt"
	"net/http"

	response "logwatch/api/handlers/common"
	"logwatch/internal/infra/queue"
	"logwatch/internal/logger"
	"logwatch/internal/middleware"
	"logwatch/internal/rag"
	"logwatch/internal/worker/tasks"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// FileSource 政策原文读取
type FileSource interface {
	Open(name string) ([]byte, string, error)
}

// Handler 政策文件处理器
type Handler struct {
	files  FileSource
	queue  queue.Client
	logger *zap.Logger
}

// NewHandler 创建政策文件处理器；queue 为 nil 时重建接口不可用
func NewHandler(files FileSource, q queue.Client, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{files: files, queue: q, logger: logger}
}

// ReindexRequest 重建请求
type ReindexRequest struct {
	Reset bool `json:"reset"`
}

// ReindexResponse 重建任务提交结果
type ReindexResponse struct {
	TaskID string `json:"task_id"`
	Status string `json:"status"`
}

// GetFile 获取政策原文
// @Summary 获取政策原文
// @Description 以内联方式返回政策目录下的文件，供证据引用跳转
// @Tags Policies
// @Produce octet-stream
// @Param filename path string true "文件名"
// @Success 200 {file} binary
// @Failure 400 {object} response.ErrorResponse
// @Failure 404 {object} response.ErrorResponse
// @Router /api/policies/{filename} [get]
func (h *Handler) GetFile(c *gin.Context) {
	name := c.Param("filename")

	data, contentType, err := h.files.Open(name)
	switch {
	case errors.Is(err, rag.ErrInvalidFileName):
		c.JSON(http.StatusBadRequest, response.NewError(response.CodeInvalidFileName, "非法文件名"))
		return
	case errors.Is(err, rag.ErrPolicyNotFound):
		c.JSON(http.StatusNotFound, response.NewError(response.CodeNotFound, "政策文件不存在"))
		return
	case err != nil:
		logger.FromContext(c.Request.Context(), h.logger).Error("读取政策文件失败", zap.String("file", name), zap.Error(err))
		c.JSON(http.StatusInternalServerError, response.NewError(response.CodeInternal, "读取政策文件失败"))
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("inline; filename=%q", name))
	c.Data(http.StatusOK, contentType, data)
}

// Reindex 提交政策语料重建任务
// @Summary 重建政策索引
// @Description 异步重建政策语料，同一时间只允许一个排队任务
// @Tags Policies
// @Accept json
// @Produce json
// @Param request body ReindexRequest false "重建参数"
// @Success 202 {object} ReindexResponse
// @Failure 409 {object} response.ErrorResponse
// @Failure 503 {object} response.ErrorResponse
// @Router /api/policies/reindex [post]
func (h *Handler) Reindex(c *gin.Context) {
	if h.queue == nil {
		c.JSON(http.StatusServiceUnavailable, response.NewError(response.CodeQueueDisabled, "任务队列未启用"))
		return
	}

	var req ReindexRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, response.NewError(response.CodeInvalidRequest, "参数错误: "+err.Error()))
			return
		}
	}

	taskID, err := h.queue.EnqueueReindex(tasks.ReindexPoliciesPayload{
		Reset:       req.Reset,
		RequestedBy: middleware.GetRequestIDFromGin(c),
	})
	if errors.Is(err, queue.ErrReindexInProgress) {
		c.JSON(http.StatusConflict, response.NewError(response.CodeConflict, err.Error()))
		return
	}
	if err != nil {
		logger.FromContext(c.Request.Context(), h.logger).Error("提交重建任务失败", zap.Error(err))
		c.JSON(http.StatusInternalServerError, response.NewError(response.CodeInternal, "提交重建任务失败"))
		return
	}

	c.JSON(http.StatusAccepted, ReindexResponse{TaskID: taskID, Status: "queued"})
}
