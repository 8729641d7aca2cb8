package worker

import (
	"context"

	"logwatch/internal/worker/handlers"
	"logwatch/internal/worker/tasks"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

type Server struct {
	server *asynq.Server
	mux    *asynq.ServeMux
	logger *zap.Logger
}

func NewServer(
	opt asynq.RedisConnOpt,
	concurrency int,
	builder handlers.IndexBuilder,
	policyDir string,
	logger *zap.Logger,
) *Server {
	if concurrency <= 0 {
		concurrency = 2
	}
	srv := asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			tasks.QueuePolicies: 3,
			"default":           1,
		},
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			logger.Error("任务执行失败",
				zap.String("type", task.Type()),
				zap.Error(err),
			)
		}),
	})

	mux := asynq.NewServeMux()
	reindex := handlers.NewReindexHandler(builder, policyDir, logger)
	mux.HandleFunc(tasks.TypeReindexPolicies, reindex.HandleReindexPolicies)

	return &Server{
		server: srv,
		mux:    mux,
		logger: logger,
	}
}

// Start 非阻塞启动
func (s *Server) Start() error {
	s.logger.Info("Worker 服务器启动中 (后台)...")
	return s.server.Start(s.mux)
}

// Shutdown 停止 Worker 服务器
func (s *Server) Shutdown() {
	s.logger.Info("Worker 服务器停止中...")
	s.server.Shutdown()
}
