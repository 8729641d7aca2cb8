package api

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"logwatch/internal/analyze"
	"logwatch/internal/audit"
	"logwatch/internal/config"
	"logwatch/internal/infra"
	"logwatch/internal/infra/queue"
	"logwatch/internal/ingest"
	"logwatch/internal/metrics"
	"logwatch/internal/rag"
	"logwatch/internal/worker"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Components 服务运行所需的全部组件
type Components struct {
	Config *config.Config
	Logger *zap.Logger

	DB    *gorm.DB
	Redis redis.UniversalClient

	Store      rag.VectorStore
	Embedder   rag.EmbeddingProvider
	Indexer    *rag.Indexer
	Strategies *rag.StrategyRegistry
	Files      *rag.PolicyFiles
	Analyzer   *analyze.Service
	Records    *audit.GormRecorder

	Queue     queue.Client
	Worker    *worker.Server
	Watcher   *rag.PolicyWatcher
	Consumer  *ingest.Consumer
	Collector *metrics.Collector
}

// BuildComponents 按配置组装组件；数据库与 Redis 只在配置了地址时连接
func BuildComponents(ctx context.Context, cfg *config.Config, log *zap.Logger) (*Components, error) {
	if log == nil {
		log = zap.NewNop()
	}
	c := &Components{Config: cfg, Logger: log}

	if cfg.Database.Enabled() {
		db, err := infra.OpenDatabase(&cfg.Database, log)
		if err != nil {
			return nil, err
		}
		c.DB = db
	}

	if cfg.Redis.Enabled() {
		rdb, err := infra.OpenRedis(ctx, &cfg.Redis, log)
		if err != nil {
			c.Close()
			return nil, err
		}
		c.Redis = rdb
	}

	if err := c.initRAG(ctx); err != nil {
		c.Close()
		return nil, err
	}

	defaultMode, err := rag.ParseMode(cfg.Analyze.DefaultMode)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("analyze.default_mode 配置错误: %w", err)
	}
	queries, err := rag.LoadQueryTable(cfg.RAG.QueryTablePath)
	if err != nil {
		c.Close()
		return nil, err
	}
	c.Analyzer = analyze.NewService(queries, c.Strategies, defaultMode, log.Named("analyze"))

	if c.DB != nil && cfg.Analyze.RecordResults {
		c.Records = audit.NewGormRecorder(c.DB)
		if cfg.Database.AutoMigrate {
			if err := c.Records.Migrate(ctx); err != nil {
				c.Close()
				return nil, err
			}
		}
		c.Analyzer.WithRecorder(c.Records)
	}

	if err := c.initBackground(); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

func (c *Components) initRAG(ctx context.Context) error {
	cfg := c.Config.RAG

	store, err := c.newVectorStore(ctx)
	if err != nil {
		return err
	}
	c.Store = store

	c.Embedder, err = c.newEmbedder()
	if err != nil {
		return err
	}

	lexical, err := c.newLexical(ctx)
	if err != nil {
		return err
	}

	c.Strategies = rag.NewStrategyRegistry(&rag.StrategyBuilder{
		Embedder: c.Embedder,
		Store:    c.Store,
		Lexical:  lexical,
		VectorOptions: rag.Options{
			TopK:             cfg.TopK,
			ThresholdEnabled: cfg.Vector.ThresholdEnabled,
			Threshold:        cfg.Vector.DistanceThreshold,
			SnippetMaxChars:  cfg.SnippetMaxChars,
			Concurrency:      cfg.QueryConcurrency,
		},
		HybridOptions: rag.Options{
			TopK:             cfg.TopK,
			ThresholdEnabled: cfg.Hybrid.ThresholdEnabled,
			Threshold:        cfg.Hybrid.DistanceThreshold,
			SnippetMaxChars:  cfg.SnippetMaxChars,
			Concurrency:      cfg.QueryConcurrency,
		},
		Weights: rag.HybridWeights{Lexical: cfg.Hybrid.LexicalWeight, Vector: cfg.Hybrid.VectorWeight},
	}, c.Logger.Named("retrieval"))

	chunker := rag.NewChunker(cfg.ChunkSize, cfg.ChunkOverlap)
	if strings.EqualFold(cfg.Embedding.Provider, "openai") {
		chunker.CountTokens = rag.TiktokenCounter(c.Embedder.GetModel(), c.Logger.Named("tokens"))
	}
	c.Indexer = rag.NewIndexer(c.Embedder, c.Store, chunker,
		rag.WithIndexerLogger(c.Logger.Named("indexer")),
		rag.OnBuilt(func(report rag.BuildReport) {
			c.Strategies.Reset()
			if n, err := c.Store.Count(context.Background()); err == nil {
				metrics.IndexChunks.Set(float64(n))
			}
		}),
	)
	c.Files = rag.NewPolicyFiles(cfg.PolicyDir)
	return nil
}

func (c *Components) newVectorStore(ctx context.Context) (rag.VectorStore, error) {
	vs := c.Config.RAG.VectorStore
	switch strings.ToLower(strings.TrimSpace(vs.Type)) {
	case "", "memory":
		return rag.NewMemoryStore(), nil
	case "pgvector":
		if c.DB == nil {
			return nil, errors.New("pgvector 需要配置 database")
		}
		store := rag.NewPGVectorStore(c.DB)
		if c.Config.Database.AutoMigrate {
			if err := store.Migrate(ctx); err != nil {
				return nil, err
			}
		}
		return store, nil
	case "qdrant":
		q := vs.Qdrant
		if strings.TrimSpace(q.Endpoint) == "" {
			return nil, errors.New("未配置 Qdrant endpoint")
		}
		return rag.NewQdrantStore(rag.QdrantOptions{
			Endpoint:        q.Endpoint,
			APIKey:          q.APIKey,
			Collection:      q.Collection,
			VectorDimension: q.VectorDimension,
			TimeoutSeconds:  q.TimeoutSeconds,
		})
	default:
		return nil, fmt.Errorf("不支持的向量存储类型: %s", vs.Type)
	}
}

func (c *Components) newEmbedder() (rag.EmbeddingProvider, error) {
	ec := c.Config.RAG.Embedding

	var provider rag.EmbeddingProvider
	switch strings.ToLower(strings.TrimSpace(ec.Provider)) {
	case "", "hash":
		provider = rag.NewHashEmbeddingProvider(ec.Dimension)
	case "openai":
		apiKey := ec.APIKey
		if apiKey == "" {
			apiKey = os.Getenv("OPENAI_API_KEY")
		}
		if apiKey == "" {
			return nil, errors.New("openai 向量化需要 api_key")
		}
		provider = rag.NewOpenAIEmbeddingProvider(apiKey, ec.BaseURL, ec.Model)
	default:
		return nil, fmt.Errorf("不支持的向量化提供者: %s", ec.Provider)
	}

	if ec.Cache.Enabled {
		cache := rag.NewEmbeddingCache(c.Redis, ec.Cache.Prefix, ec.Cache.TTL, c.Logger.Named("embedding_cache"))
		provider = rag.NewCachedEmbeddingProvider(provider, cache)
	}
	return provider, nil
}

func (c *Components) newLexical(ctx context.Context) (rag.LexicalFactory, error) {
	switch strings.ToLower(strings.TrimSpace(c.Config.RAG.Lexical.Type)) {
	case "", "bm25":
		return rag.BM25FromStore(c.Store), nil
	case "postgres":
		if _, ok := c.Store.(*rag.PGVectorStore); !ok {
			return nil, errors.New("postgres 全文检索需要 pgvector 向量存储")
		}
		searcher := rag.NewPGKeywordSearcher(c.DB)
		if err := searcher.EnsureFullTextIndex(ctx); err != nil {
			return nil, fmt.Errorf("创建全文索引失败: %w", err)
		}
		return rag.PostgresLexical(searcher, c.Store), nil
	default:
		return nil, fmt.Errorf("不支持的关键词检索类型: %s", c.Config.RAG.Lexical.Type)
	}
}

func (c *Components) initBackground() error {
	cfg := c.Config

	if c.Redis != nil {
		opt := infra.AsynqRedisOpt(&cfg.Redis)
		c.Queue = queue.NewClient(opt)
		if cfg.Worker.Enabled {
			c.Worker = worker.NewServer(opt, cfg.Worker.Concurrency, c.Indexer, cfg.RAG.PolicyDir, c.Logger.Named("worker"))
		}
	} else if cfg.Worker.Enabled {
		c.Logger.Warn("未配置 Redis，后台任务已禁用")
	}

	if cfg.RAG.Watch.Enabled {
		w, err := rag.NewPolicyWatcher(cfg.RAG.PolicyDir, c.Indexer, cfg.RAG.Watch.Debounce, c.Logger.Named("watcher"))
		if err != nil {
			return err
		}
		c.Watcher = w
	}

	if cfg.Ingest.Kafka.Enabled {
		consumer, err := ingest.NewConsumer(cfg.Ingest.Kafka, c.Analyzer, c.Logger.Named("kafka"))
		if err != nil {
			return err
		}
		c.Consumer = consumer
	}

	c.Collector = metrics.NewCollector(c.sqlDB(), c.Store, 30*time.Second, c.Logger.Named("metrics"))
	return nil
}

// Bootstrap 索引为空时从政策目录构建一次；内存存储每次启动都需要
func (c *Components) Bootstrap(ctx context.Context) {
	n, err := c.Store.Count(ctx)
	if err != nil {
		c.Logger.Warn("读取索引规模失败", zap.Error(err))
		return
	}
	metrics.IndexChunks.Set(float64(n))
	if n > 0 {
		return
	}

	report, err := c.Indexer.Build(ctx, c.Config.RAG.PolicyDir, rag.BuildOptions{})
	if err != nil {
		c.Logger.Warn("启动时构建政策索引失败，混合检索在语料就绪前不可用",
			zap.String("policy_dir", c.Config.RAG.PolicyDir),
			zap.Error(err),
		)
		return
	}
	c.Logger.Info("启动时已构建政策索引", zap.Int("chunks", report.Chunks))
}

// Close 释放外部连接
func (c *Components) Close() {
	if c.Queue != nil {
		if err := c.Queue.Close(); err != nil {
			c.Logger.Warn("关闭任务队列失败", zap.Error(err))
		}
	}
	if c.Redis != nil {
		if err := c.Redis.Close(); err != nil {
			c.Logger.Warn("关闭 Redis 失败", zap.Error(err))
		}
	}
	if err := infra.CloseDatabase(c.DB); err != nil {
		c.Logger.Warn("关闭数据库失败", zap.Error(err))
	}
}
