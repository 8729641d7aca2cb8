package tasks

// 任务类型
const (
	TypeReindexPolicies = "policies:reindex"
)

// QueuePolicies 政策索引任务队列
const QueuePolicies = "policies"

// ReindexPoliciesPayload 政策语料重建任务载荷
type ReindexPoliciesPayload struct {
	PolicyDir   string `json:"policy_dir,omitempty"` // 为空时使用服务配置的目录
	Reset       bool   `json:"reset"`
	RequestedBy string `json:"requested_by,omitempty"` // 触发请求的 request_id
}
