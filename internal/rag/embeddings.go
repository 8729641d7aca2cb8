package rag

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// EmbeddingProvider 抽象不同向量模型/服务的统一接口。
type EmbeddingProvider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	GetModel() string
	GetProviderName() string
}

// HashEmbeddingProvider 基于词项哈希的本地向量化，不依赖外部服务。
// 用于离线开发与测试，语义能力有限但结果稳定。
type HashEmbeddingProvider struct {
	dim int
}

// NewHashEmbeddingProvider 创建哈希向量化提供者
func NewHashEmbeddingProvider(dim int) *HashEmbeddingProvider {
	if dim <= 0 {
		dim = 256
	}
	return &HashEmbeddingProvider{dim: dim}
}

// Embed 将文本转换为 L2 归一化的词袋哈希向量
func (p *HashEmbeddingProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("文本不能为空")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	vec := make([]float32, p.dim)
	for _, term := range tokenize(text) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(term))
		sum := h.Sum32()
		sign := float32(1)
		if sum&1 == 1 {
			sign = -1
		}
		vec[int(sum>>1)%p.dim] += sign
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		scale := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= scale
		}
	}
	return vec, nil
}

// EmbedBatch 批量向量化
func (p *HashEmbeddingProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		vec, err := p.Embed(ctx, t)
		if err != nil {
			return nil, fmt.Errorf("第 %d 条文本向量化失败: %w", i, err)
		}
		out[i] = vec
	}
	return out, nil
}

// GetDimension 向量维度
func (p *HashEmbeddingProvider) GetDimension() int { return p.dim }

// GetModel 模型名
func (p *HashEmbeddingProvider) GetModel() string { return fmt.Sprintf("hash-%d", p.dim) }

// GetProviderName 提供商名
func (p *HashEmbeddingProvider) GetProviderName() string { return "hash" }

// tokenize 小写化并按非字母数字切分
func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
