package main

// @title LogWatch API
// @version 1.0
// @description 访问日志风险分析与政策依据检索
// @BasePath /
// @schemes http https

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"logwatch/api"
	"logwatch/internal/config"
	"logwatch/internal/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {
	// 0. 统一加载 .env，便于集中管理 APP_* 环境变量
	config.LoadEnvFile()
	env := config.Env()

	// 1. 加载配置
	cfg, err := config.Load(env, os.Getenv("APP_CONFIG"))
	if err != nil {
		fmt.Printf("加载配置失败: %v\n", err)
		os.Exit(1)
	}

	// 2. 初始化日志
	if err := logger.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath); err != nil {
		fmt.Printf("初始化日志失败: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	log := logger.Get()

	log.Info("应用启动中...",
		zap.String("env", env),
		zap.String("mode", cfg.Server.Mode),
		zap.String("vector_store", cfg.RAG.VectorStore.Type),
		zap.String("default_retrieval_mode", cfg.Analyze.DefaultMode),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 3. 组装组件
	comps, err := api.BuildComponents(ctx, cfg, log)
	if err != nil {
		log.Fatal("初始化组件失败", zap.Error(err))
	}
	comps.Bootstrap(ctx)

	// 4. 后台任务
	var wg sync.WaitGroup
	startBackground(ctx, &wg, comps, log)

	// 5. HTTP 服务器
	gin.SetMode(cfg.Server.Mode)
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      api.SetupRouter(comps, log),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		log.Info("HTTP 服务器启动", zap.Int("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("HTTP 服务器启动失败", zap.Error(err))
		}
	}()

	// 6. 优雅关闭
	gracefulShutdown(server, comps, cancel, &wg, log)
}

func startBackground(ctx context.Context, wg *sync.WaitGroup, comps *api.Components, log *zap.Logger) {
	if comps.Worker != nil {
		if err := comps.Worker.Start(); err != nil {
			log.Fatal("Worker 服务器启动失败", zap.Error(err))
		}
	}

	run := func(name string, fn func(context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Info("后台任务启动", zap.String("task", name))
			fn(ctx)
		}()
	}

	run("metrics_collector", comps.Collector.Run)
	if comps.Watcher != nil {
		run("policy_watcher", func(ctx context.Context) {
			if err := comps.Watcher.Run(ctx); err != nil {
				log.Error("政策目录监听退出", zap.Error(err))
			}
		})
	}
	if comps.Consumer != nil {
		run("kafka_consumer", func(ctx context.Context) {
			if err := comps.Consumer.Run(ctx); err != nil {
				log.Error("kafka 消费退出", zap.Error(err))
			}
		})
	}
}

// gracefulShutdown 优雅关闭
func gracefulShutdown(server *http.Server, comps *api.Components, cancel context.CancelFunc, wg *sync.WaitGroup, log *zap.Logger) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("正在关闭服务器...")

	ctx, timeout := context.WithTimeout(context.Background(), 10*time.Second)
	defer timeout()

	if err := server.Shutdown(ctx); err != nil {
		log.Error("服务器关闭异常", zap.Error(err))
	}

	cancel()
	if comps.Worker != nil {
		comps.Worker.Shutdown()
	}
	wg.Wait()
	comps.Close()

	log.Info("服务器已安全关闭")
}
