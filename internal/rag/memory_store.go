package rag

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
)

// MemoryStore 进程内向量存储，用于本地开发和测试。
// 检索为暴力余弦距离计算，适合几千条以内的政策语料。
type MemoryStore struct {
	mu      sync.RWMutex
	order   []string
	vectors map[string]*Vector
}

// NewMemoryStore 创建内存向量存储
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{vectors: make(map[string]*Vector)}
}

// Upsert 写入或覆盖分块向量
func (s *MemoryStore) Upsert(ctx context.Context, vectors []*Vector) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, vec := range vectors {
		if vec == nil {
			continue
		}
		if vec.ChunkID == "" {
			return fmt.Errorf("分块 ID 不能为空")
		}
		if _, exists := s.vectors[vec.ChunkID]; !exists {
			s.order = append(s.order, vec.ChunkID)
		}
		cp := *vec
		cp.Embedding = append([]float32(nil), vec.Embedding...)
		s.vectors[vec.ChunkID] = &cp
	}
	return nil
}

// Search 按余弦距离升序返回 topK 条命中，距离相同时保持写入顺序
func (s *MemoryStore) Search(ctx context.Context, queryVector []float32, topK int) ([]*SearchResult, error) {
	if len(queryVector) == 0 {
		return nil, fmt.Errorf("查询向量不能为空")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if topK <= 0 {
		topK = 5
	}

	s.mu.RLock()
	results := make([]*SearchResult, 0, len(s.order))
	for _, id := range s.order {
		vec := s.vectors[id]
		if len(vec.Embedding) != len(queryVector) {
			continue
		}
		dist := cosineDistance(queryVector, vec.Embedding)
		results = append(results, &SearchResult{
			Chunk:    vec.Chunk,
			Distance: &dist,
			Score:    1 - dist,
		})
	}
	s.mu.RUnlock()

	sort.SliceStable(results, func(i, j int) bool {
		return *results[i].Distance < *results[j].Distance
	})
	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// ListChunks 按写入顺序返回全部分块
func (s *MemoryStore) ListChunks(ctx context.Context) ([]Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	chunks := make([]Chunk, 0, len(s.order))
	for _, id := range s.order {
		chunks = append(chunks, s.vectors[id].Chunk)
	}
	return chunks, nil
}

// Count 返回分块数量
func (s *MemoryStore) Count(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.order)), nil
}

// Delete 删除指定分块，保持其余分块的写入顺序
func (s *MemoryStore) Delete(ctx context.Context, chunkIDs []string) error {
	if len(chunkIDs) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range chunkIDs {
		delete(s.vectors, id)
	}
	kept := s.order[:0]
	for _, id := range s.order {
		if _, ok := s.vectors[id]; ok {
			kept = append(kept, id)
		}
	}
	s.order = kept
	return nil
}

// Reset 清空存储
func (s *MemoryStore) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.order = nil
	s.vectors = make(map[string]*Vector)
	return nil
}

// cosineDistance 计算 1 - cos(a, b)；零向量视为距离 1
func cosineDistance(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 1
	}
	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
}
