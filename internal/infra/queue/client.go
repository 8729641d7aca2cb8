package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"logwatch/internal/worker/tasks"

	"github.com/hibiken/asynq"
)

// ErrReindexInProgress 已有相同的重建任务在排队
var ErrReindexInProgress = errors.New("政策索引重建任务已在队列中")

// Client 任务队列客户端接口
type Client interface {
	EnqueueReindex(payload tasks.ReindexPoliciesPayload) (string, error)
	Close() error
}

type asynqClient struct {
	client *asynq.Client
}

// NewClient 创建任务队列客户端
func NewClient(opt asynq.RedisConnOpt) Client {
	return &asynqClient{client: asynq.NewClient(opt)}
}

// EnqueueReindex 提交政策语料重建任务，10 分钟内重复提交会被拒绝
func (c *asynqClient) EnqueueReindex(payload tasks.ReindexPoliciesPayload) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload failed: %w", err)
	}

	task := asynq.NewTask(tasks.TypeReindexPolicies, data)
	info, err := c.client.Enqueue(task,
		asynq.MaxRetry(2),
		asynq.Timeout(15*time.Minute),
		asynq.Unique(10*time.Minute),
		asynq.Queue(tasks.QueuePolicies),
	)
	if errors.Is(err, asynq.ErrDuplicateTask) {
		return "", ErrReindexInProgress
	}
	if err != nil {
		return "", fmt.Errorf("enqueue task failed: %w", err)
	}
	return info.ID, nil
}

func (c *asynqClient) Close() error {
	return c.client.Close()
}
