package infra

import (
	"context"
	"fmt"
	"time"

	"logwatch/internal/config"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// OpenRedis 连接单节点 Redis 并做连通性检查
func OpenRedis(ctx context.Context, cfg *config.RedisConfig, log *zap.Logger) (redis.UniversalClient, error) {
	if log == nil {
		log = zap.NewNop()
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr(),
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("Redis 连接失败: %w", err)
	}

	log.Info("Redis 连接成功", zap.String("addr", cfg.Addr()), zap.Int("db", cfg.DB))
	return rdb, nil
}

// AsynqRedisOpt asynq 使用的 Redis 连接参数
func AsynqRedisOpt(cfg *config.RedisConfig) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	}
}
