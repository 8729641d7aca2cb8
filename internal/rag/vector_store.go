package rag

import "context"

// VectorStore 抽象政策分块的向量写入与检索，可由不同后端实现（内存、pgvector、Qdrant）。
// Upsert 以 ChunkID 为键，重复写入同一分块不会产生重复记录。
type VectorStore interface {
	Upsert(ctx context.Context, vectors []*Vector) error
	// Search 返回最多 topK 条命中，按余弦距离升序
	Search(ctx context.Context, queryVector []float32, topK int) ([]*SearchResult, error)
	ListChunks(ctx context.Context) ([]Chunk, error)
	Count(ctx context.Context) (int64, error)
	// Delete 按 ChunkID 删除，不存在的 id 忽略
	Delete(ctx context.Context, chunkIDs []string) error
	Reset(ctx context.Context) error
}

// KeywordSearcher 关键词检索接口，命中按相关度降序且没有距离
type KeywordSearcher interface {
	SearchKeywords(ctx context.Context, query string, topK int) ([]*SearchResult, error)
}
