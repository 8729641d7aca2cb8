package rag

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// StrategyFactory 按模式构建检索策略
type StrategyFactory interface {
	Build(ctx context.Context, mode Mode) (Strategy, error)
}

// StrategyRegistry 按模式懒加载并缓存检索策略。
// 每个模式最多构建一次；构建失败不缓存，下次请求会重试。
type StrategyRegistry struct {
	factory StrategyFactory
	logger  *zap.Logger

	mu      sync.Mutex
	entries map[Mode]*registryEntry
}

type registryEntry struct {
	mu       sync.Mutex
	strategy Strategy
}

// NewStrategyRegistry 创建策略注册表
func NewStrategyRegistry(factory StrategyFactory, logger *zap.Logger) *StrategyRegistry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StrategyRegistry{
		factory: factory,
		logger:  logger,
		entries: make(map[Mode]*registryEntry),
	}
}

// Get 返回模式对应的策略，首次调用时构建
func (r *StrategyRegistry) Get(ctx context.Context, mode Mode) (Strategy, error) {
	r.mu.Lock()
	entry, ok := r.entries[mode]
	if !ok {
		entry = &registryEntry{}
		r.entries[mode] = entry
	}
	r.mu.Unlock()

	entry.mu.Lock()
	defer entry.mu.Unlock()
	if entry.strategy != nil {
		return entry.strategy, nil
	}

	strategy, err := r.factory.Build(ctx, mode)
	if err != nil {
		return nil, err
	}
	entry.strategy = strategy
	r.logger.Info("检索策略已构建", zap.String("mode", string(mode)))
	return strategy, nil
}

// Reset 丢弃已缓存的策略，语料重建后调用
func (r *StrategyRegistry) Reset() {
	r.mu.Lock()
	r.entries = make(map[Mode]*registryEntry)
	r.mu.Unlock()
	r.logger.Info("检索策略缓存已清空")
}

// LexicalFactory 构建关键词检索器；语料为空时应返回 ErrEmptyCorpus
type LexicalFactory func(ctx context.Context) (KeywordSearcher, error)

// BM25FromStore 从向量存储中的全部分块构建内存 BM25 索引
func BM25FromStore(store VectorStore) LexicalFactory {
	return func(ctx context.Context) (KeywordSearcher, error) {
		chunks, err := store.ListChunks(ctx)
		if err != nil {
			return nil, fmt.Errorf("读取语料失败: %w", err)
		}
		return NewBM25Searcher(chunks)
	}
}

// PostgresLexical 使用 PostgreSQL 全文检索，policy_chunks 为空时视为不可用
func PostgresLexical(searcher *PGKeywordSearcher, store VectorStore) LexicalFactory {
	return func(ctx context.Context) (KeywordSearcher, error) {
		n, err := store.Count(ctx)
		if err != nil {
			return nil, err
		}
		if n == 0 {
			return nil, ErrEmptyCorpus
		}
		return searcher, nil
	}
}

// StrategyBuilder 默认的策略工厂，持有各模式共享的协作组件
type StrategyBuilder struct {
	Embedder      EmbeddingProvider
	Store         VectorStore
	Lexical       LexicalFactory
	VectorOptions Options
	HybridOptions Options
	Weights       HybridWeights
}

// Build 按模式构建策略；协作组件缺失时返回 *ConfigurationError
func (b *StrategyBuilder) Build(ctx context.Context, mode Mode) (Strategy, error) {
	if b.Embedder == nil || b.Store == nil {
		return nil, &ConfigurationError{Mode: mode, Reason: "未配置向量化服务或向量存储"}
	}

	switch mode {
	case ModeVector:
		return NewVectorStrategy(b.Embedder, b.Store, b.VectorOptions), nil
	case ModeHybrid:
		if b.Lexical == nil {
			return nil, &ConfigurationError{Mode: mode, Reason: "未配置关键词检索"}
		}
		lexical, err := b.Lexical(ctx)
		if err != nil {
			return nil, &ConfigurationError{Mode: mode, Reason: "关键词检索器构建失败", Err: err}
		}
		return NewHybridStrategy(b.Embedder, b.Store, lexical, b.Weights, b.HybridOptions), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMode, mode)
	}
}
