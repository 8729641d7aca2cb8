package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"logwatch/api"
	"logwatch/internal/config"
	"logwatch/internal/logger"
	"logwatch/internal/rag"
	"logwatch/internal/worker/tasks"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		flagConfig string
		flagEnv    string
	)

	rootCmd := &cobra.Command{
		Use:           "logwatch-indexer",
		Short:         "政策语料离线构建与检索调试",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "配置文件路径 (env: APP_CONFIG)")
	rootCmd.PersistentFlags().StringVar(&flagEnv, "env", "", "环境名 (env: APP_ENV)")

	setup := func(ctx context.Context) (*api.Components, *zap.Logger, error) {
		config.LoadEnvFile()
		env := flagEnv
		if env == "" {
			env = config.Env()
		}
		path := flagConfig
		if path == "" {
			path = os.Getenv("APP_CONFIG")
		}
		cfg, err := config.Load(env, path)
		if err != nil {
			return nil, nil, err
		}
		// 命令行只需要检索组件
		cfg.Worker.Enabled = false
		cfg.RAG.Watch.Enabled = false
		cfg.Ingest.Kafka.Enabled = false

		log, err := logger.New(cfg.Log.Level, cfg.Log.Format, "stderr")
		if err != nil {
			return nil, nil, err
		}
		comps, err := api.BuildComponents(ctx, cfg, log)
		if err != nil {
			return nil, nil, err
		}
		return comps, log, nil
	}

	rootCmd.AddCommand(newBuildCmd(setup), newEnqueueCmd(setup), newSearchCmd(setup))
	return rootCmd
}

type setupFunc func(ctx context.Context) (*api.Components, *zap.Logger, error)

func newBuildCmd(setup setupFunc) *cobra.Command {
	var (
		flagDir   string
		flagReset bool
		flagPurge bool
	)

	cmd := &cobra.Command{
		Use:   "build",
		Short: "加载政策目录、分块、向量化并写入向量存储",
		Long: `按 chunk_id 幂等构建政策索引。使用内存向量存储时构建结果只在本进程内有效，
持久化请配置 pgvector 或 qdrant。

Examples:
  logwatch-indexer build
  logwatch-indexer build --dir ./data/policies --reset
  logwatch-indexer build --purge   # 更换向量化模型或维度后使用
  APP_RAG_VECTOR_STORE_TYPE=qdrant logwatch-indexer build`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			comps, log, err := setup(ctx)
			if err != nil {
				return err
			}
			defer comps.Close()
			defer log.Sync()

			dir := flagDir
			if dir == "" {
				dir = comps.Config.RAG.PolicyDir
			}
			if flagPurge {
				if err := comps.Store.Reset(ctx); err != nil {
					return fmt.Errorf("清空向量存储失败: %w", err)
				}
				log.Warn("向量存储已清空", zap.String("policy_dir", dir))
			}
			report, err := comps.Indexer.Build(ctx, dir, rag.BuildOptions{Reset: flagReset})
			if err != nil {
				return fmt.Errorf("构建政策索引失败: %w", err)
			}
			return printJSON(cmd, report)
		},
	}
	cmd.Flags().StringVar(&flagDir, "dir", "", "政策目录，默认使用 rag.policy_dir")
	cmd.Flags().BoolVar(&flagReset, "reset", false, "构建后删除不在政策目录中的旧分块")
	cmd.Flags().BoolVar(&flagPurge, "purge", false, "构建前清空整个向量存储，构建期间索引为空")
	return cmd
}

func newEnqueueCmd(setup setupFunc) *cobra.Command {
	var flagReset bool

	cmd := &cobra.Command{
		Use:   "enqueue",
		Short: "向后台任务队列提交重建任务（需要 Redis）",
		RunE: func(cmd *cobra.Command, args []string) error {
			comps, log, err := setup(cmd.Context())
			if err != nil {
				return err
			}
			defer comps.Close()
			defer log.Sync()

			if comps.Queue == nil {
				return fmt.Errorf("未配置 Redis，无法提交任务")
			}
			taskID, err := comps.Queue.EnqueueReindex(tasks.ReindexPoliciesPayload{Reset: flagReset, RequestedBy: "cli"})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "task_id=%s\n", taskID)
			return nil
		},
	}
	cmd.Flags().BoolVar(&flagReset, "reset", false, "构建后删除不在政策目录中的旧分块")
	return cmd
}

func newSearchCmd(setup setupFunc) *cobra.Command {
	var (
		flagMode  string
		flagBuild bool
	)

	cmd := &cobra.Command{
		Use:   "search [query...]",
		Short: "对政策索引执行检索并输出证据",
		Long: `调试检索效果。每个参数是一条查询，多条查询的结果会合并去重。

Examples:
  logwatch-indexer search "failed login burst threshold"
  logwatch-indexer search --mode vector --build "new country login" "night access"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			comps, log, err := setup(ctx)
			if err != nil {
				return err
			}
			defer comps.Close()
			defer log.Sync()

			if flagBuild {
				comps.Bootstrap(ctx)
			}
			mode, err := rag.ParseMode(flagMode)
			if err != nil {
				return err
			}
			strategy, err := comps.Strategies.Get(ctx, mode)
			if err != nil {
				return err
			}
			evidence, debug, err := strategy.Retrieve(ctx, args)
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]any{"evidence": evidence, "debug": debug})
		},
	}
	cmd.Flags().StringVar(&flagMode, "mode", "", "检索模式 vector|hybrid，默认 hybrid")
	cmd.Flags().BoolVar(&flagBuild, "build", false, "索引为空时先构建（内存存储需要）")
	return cmd
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
