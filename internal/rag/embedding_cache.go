package rag

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// EmbeddingCache 查询向量缓存：本地 L1 + Redis L2。
// 同一批信号会反复生成相同的检索查询，缓存可避免重复调用向量化服务。
type EmbeddingCache struct {
	redis        redis.UniversalClient
	prefix       string
	ttl          time.Duration
	maxLocalSize int
	logger       *zap.Logger

	mu    sync.Mutex
	local map[string][]float32
}

type cachedEmbedding struct {
	Vector    []float32 `json:"vector"`
	Model     string    `json:"model"`
	CreatedAt time.Time `json:"createdAt"`
}

// NewEmbeddingCache 创建向量缓存，redisClient 为 nil 时仅使用本地缓存
func NewEmbeddingCache(redisClient redis.UniversalClient, prefix string, ttl time.Duration, logger *zap.Logger) *EmbeddingCache {
	if prefix == "" {
		prefix = "logwatch:emb:"
	}
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EmbeddingCache{
		redis:        redisClient,
		prefix:       prefix,
		ttl:          ttl,
		maxLocalSize: 10000,
		logger:       logger,
		local:        make(map[string][]float32),
	}
}

// Get 获取缓存的向量
func (c *EmbeddingCache) Get(ctx context.Context, text, model string) ([]float32, bool) {
	key := c.makeKey(text, model)

	c.mu.Lock()
	vec, ok := c.local[key]
	c.mu.Unlock()
	if ok {
		return vec, true
	}

	if c.redis == nil {
		return nil, false
	}
	data, err := c.redis.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.Warn("读取向量缓存失败", zap.Error(err))
		}
		return nil, false
	}
	var cached cachedEmbedding
	if err := json.Unmarshal(data, &cached); err != nil {
		return nil, false
	}
	c.setLocal(key, cached.Vector)
	return cached.Vector, true
}

// Set 写入缓存；Redis 写入失败只记录日志
func (c *EmbeddingCache) Set(ctx context.Context, text, model string, vector []float32) {
	key := c.makeKey(text, model)
	c.setLocal(key, vector)

	if c.redis == nil {
		return
	}
	data, err := json.Marshal(cachedEmbedding{Vector: vector, Model: model, CreatedAt: time.Now()})
	if err != nil {
		return
	}
	if err := c.redis.Set(ctx, key, data, c.ttl).Err(); err != nil {
		c.logger.Warn("写入向量缓存失败", zap.Error(err))
	}
}

// LocalSize 本地缓存条数
func (c *EmbeddingCache) LocalSize() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.local)
}

func (c *EmbeddingCache) makeKey(text, model string) string {
	hash := sha256.Sum256([]byte(text))
	return c.prefix + model + ":" + hex.EncodeToString(hash[:16])
}

func (c *EmbeddingCache) setLocal(key string, vec []float32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// 本地缓存已满时清理一半
	if len(c.local) >= c.maxLocalSize {
		n := 0
		for k := range c.local {
			if n >= c.maxLocalSize/2 {
				break
			}
			delete(c.local, k)
			n++
		}
	}
	c.local[key] = vec
}

// CachedEmbeddingProvider 带缓存的 Embedding 提供者包装器
type CachedEmbeddingProvider struct {
	provider EmbeddingProvider
	cache    *EmbeddingCache
}

// NewCachedEmbeddingProvider 创建带缓存的 Embedding 提供者
func NewCachedEmbeddingProvider(provider EmbeddingProvider, cache *EmbeddingCache) *CachedEmbeddingProvider {
	return &CachedEmbeddingProvider{provider: provider, cache: cache}
}

// Embed 单条向量化 (带缓存)
func (p *CachedEmbeddingProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	model := p.provider.GetModel()
	if vec, ok := p.cache.Get(ctx, text, model); ok {
		return vec, nil
	}

	vec, err := p.provider.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	p.cache.Set(ctx, text, model, vec)
	return vec, nil
}

// EmbedBatch 批量向量化 (带缓存)，只对未命中的文本调用底层提供者
func (p *CachedEmbeddingProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	model := p.provider.GetModel()
	result := make([][]float32, len(texts))

	var missing []string
	var missingIdx []int
	for i, text := range texts {
		if vec, ok := p.cache.Get(ctx, text, model); ok {
			result[i] = vec
			continue
		}
		missing = append(missing, text)
		missingIdx = append(missingIdx, i)
	}
	if len(missing) == 0 {
		return result, nil
	}

	vectors, err := p.provider.EmbedBatch(ctx, missing)
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(missing) {
		return nil, fmt.Errorf("向量数量不匹配: 期望 %d 实际 %d", len(missing), len(vectors))
	}
	for j, vec := range vectors {
		result[missingIdx[j]] = vec
		p.cache.Set(ctx, missing[j], model, vec)
	}
	return result, nil
}

// GetModel 获取模型名称
func (p *CachedEmbeddingProvider) GetModel() string {
	return p.provider.GetModel()
}

// GetProviderName 获取提供者名称
func (p *CachedEmbeddingProvider) GetProviderName() string {
	return p.provider.GetProviderName()
}
