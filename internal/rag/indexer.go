package rag

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// ErrNoChunks 语料没有产生任何分块，放弃构建
var ErrNoChunks = errors.New("没有可索引的分块")

// BuildOptions 构建参数。
// Reset 为 true 时，新语料全部写入后删除不在新语料中的旧分块。
type BuildOptions struct {
	Reset bool
}

// BuildReport 构建结果
type BuildReport struct {
	Sections int           `json:"sections"`
	Chunks   int           `json:"chunks"`
	Upserted int           `json:"upserted"`
	Removed  int           `json:"removed"`
	Model    string        `json:"embedding_model"`
	Duration time.Duration `json:"duration"`
}

// Indexer 离线构建政策语料索引
type Indexer struct {
	embedder  EmbeddingProvider
	store     VectorStore
	chunker   *Chunker
	batchSize int
	logger    *zap.Logger
	onBuilt   func(BuildReport)
}

// IndexerOption Indexer 可选项
type IndexerOption func(*Indexer)

// WithBatchSize 每批向量化并写入的分块数
func WithBatchSize(n int) IndexerOption {
	return func(ix *Indexer) {
		if n > 0 {
			ix.batchSize = n
		}
	}
}

// WithIndexerLogger 设置日志
func WithIndexerLogger(l *zap.Logger) IndexerOption {
	return func(ix *Indexer) {
		if l != nil {
			ix.logger = l
		}
	}
}

// OnBuilt 构建成功后的回调（如刷新指标、清空策略缓存）
func OnBuilt(fn func(BuildReport)) IndexerOption {
	return func(ix *Indexer) { ix.onBuilt = fn }
}

// NewIndexer 创建索引构建器
func NewIndexer(embedder EmbeddingProvider, store VectorStore, chunker *Chunker, opts ...IndexerOption) *Indexer {
	if chunker == nil {
		chunker = NewChunker(DefaultChunkSize, DefaultChunkOverlap)
	}
	ix := &Indexer{
		embedder:  embedder,
		store:     store,
		chunker:   chunker,
		batchSize: 64,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(ix)
	}
	return ix
}

// Build 加载目录、分块、向量化并写入存储。按 chunk_id 幂等：重复构建不改变 id 集合与数量。
// 全部分块向量化成功后才写入存储，向量化失败时现有索引保持不变；
// 重置模式先写入新分块再删除旧分块，构建期间索引不会为空。
func (ix *Indexer) Build(ctx context.Context, dir string, opts BuildOptions) (*BuildReport, error) {
	start := time.Now()
	log := ix.logger.With(zap.String("policy_dir", dir))

	sections, err := LoadPolicies(dir)
	if err != nil {
		return nil, err
	}
	log.Info("政策文档已加载", zap.Int("sections", len(sections)))

	chunks := ix.chunker.ChunkSections(sections)
	log.Info("分块完成", zap.Int("chunks", len(chunks)))
	if len(chunks) == 0 {
		return nil, ErrNoChunks
	}

	vectors, err := ix.embed(ctx, chunks)
	if err != nil {
		return nil, err
	}

	upserted := 0
	for from := 0; from < len(vectors); from += ix.batchSize {
		to := min(from+ix.batchSize, len(vectors))
		if err := ix.store.Upsert(ctx, vectors[from:to]); err != nil {
			return nil, fmt.Errorf("写入索引失败: %w", err)
		}
		upserted += to - from
	}

	removed := 0
	if opts.Reset {
		removed, err = ix.removeStale(ctx, chunks)
		if err != nil {
			return nil, err
		}
		log.Info("已删除旧分块", zap.Int("removed", removed))
	}

	report := &BuildReport{
		Sections: len(sections),
		Chunks:   len(chunks),
		Upserted: upserted,
		Removed:  removed,
		Model:    ix.embedder.GetModel(),
		Duration: time.Since(start),
	}
	log.Info("索引构建完成",
		zap.Int("upserted", upserted),
		zap.String("model", report.Model),
		zap.Duration("duration", report.Duration))
	if ix.onBuilt != nil {
		ix.onBuilt(*report)
	}
	return report, nil
}

// embed 分批向量化全部分块，不触碰存储
func (ix *Indexer) embed(ctx context.Context, chunks []Chunk) ([]*Vector, error) {
	model := ix.embedder.GetModel()
	vectors := make([]*Vector, 0, len(chunks))
	for from := 0; from < len(chunks); from += ix.batchSize {
		to := min(from+ix.batchSize, len(chunks))
		batch := chunks[from:to]

		texts := make([]string, len(batch))
		for i, c := range batch {
			texts[i] = c.Text
		}
		embeddings, err := ix.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return nil, fmt.Errorf("向量化失败: %w", err)
		}
		if len(embeddings) != len(batch) {
			return nil, fmt.Errorf("向量数量不匹配: 期望 %d, 实际 %d", len(batch), len(embeddings))
		}
		for i, c := range batch {
			vectors = append(vectors, &Vector{Chunk: c, Embedding: embeddings[i], EmbeddingModel: model})
		}
	}
	return vectors, nil
}

// removeStale 删除存储中不属于本次语料的分块
func (ix *Indexer) removeStale(ctx context.Context, chunks []Chunk) (int, error) {
	keep := make(map[string]struct{}, len(chunks))
	for _, c := range chunks {
		keep[c.ChunkID] = struct{}{}
	}

	existing, err := ix.store.ListChunks(ctx)
	if err != nil {
		return 0, fmt.Errorf("读取现有索引失败: %w", err)
	}
	var stale []string
	for _, c := range existing {
		if _, ok := keep[c.ChunkID]; !ok {
			stale = append(stale, c.ChunkID)
		}
	}
	if err := ix.store.Delete(ctx, stale); err != nil {
		return 0, fmt.Errorf("删除旧分块失败: %w", err)
	}
	return len(stale), nil
}
