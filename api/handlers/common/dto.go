package common

// APIResponse 通用响应结构，用于封装成功或失败结果。
type APIResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// ErrorResponse 统一错误返回结构。
type ErrorResponse struct {
	Success bool   `json:"success"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// 错误码
const (
	CodeInvalidRequest   = "invalid_request"
	CodeInvalidTimestamp = "invalid_timestamp"
	CodeUnknownMode      = "unknown_retrieval_mode"
	CodeRetrievalConfig  = "retrieval_unavailable"
	CodeInternal         = "internal_error"
	CodeInvalidFileName  = "invalid_filename"
	CodeNotFound         = "not_found"
	CodeQueueDisabled    = "queue_disabled"
	CodeConflict         = "conflict"
	CodeRecordsDisabled  = "records_disabled"
)

// NewError 构造错误响应
func NewError(code, message string) ErrorResponse {
	return ErrorResponse{Success: false, Code: code, Message: message}
}
