package rag

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// countingEmbedder 记录底层调用次数
type countingEmbedder struct {
	inner *HashEmbeddingProvider
	calls atomic.Int32
}

func (c *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	c.calls.Add(1)
	return c.inner.Embed(ctx, text)
}

func (c *countingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	c.calls.Add(1)
	return c.inner.EmbedBatch(ctx, texts)
}

func (c *countingEmbedder) GetModel() string        { return c.inner.GetModel() }
func (c *countingEmbedder) GetProviderName() string { return c.inner.GetProviderName() }

func TestHashEmbeddingProvider(t *testing.T) {
	ctx := context.Background()
	p := NewHashEmbeddingProvider(64)

	a, err := p.Embed(ctx, "Failed login burst threshold")
	require.NoError(t, err)
	b, err := p.Embed(ctx, "failed LOGIN burst, threshold")
	require.NoError(t, err)
	assert.Len(t, a, 64)
	assert.InDelta(t, 0, cosineDistance(a, b), 1e-6)

	c, err := p.Embed(ctx, "night access exception list")
	require.NoError(t, err)
	assert.Greater(t, cosineDistance(a, c), 0.1)

	_, err = p.Embed(ctx, "   ")
	assert.Error(t, err)
}

func TestCachedEmbeddingProvider(t *testing.T) {
	ctx := context.Background()
	inner := &countingEmbedder{inner: NewHashEmbeddingProvider(16)}
	cache := NewEmbeddingCache(nil, "", 0, zaptest.NewLogger(t))
	p := NewCachedEmbeddingProvider(inner, cache)

	t.Run("单条命中缓存", func(t *testing.T) {
		v1, err := p.Embed(ctx, "rate limiting")
		require.NoError(t, err)
		v2, err := p.Embed(ctx, "rate limiting")
		require.NoError(t, err)
		assert.Equal(t, v1, v2)
		assert.EqualValues(t, 1, inner.calls.Load())
	})

	t.Run("批量只向量化未命中的文本并保持顺序", func(t *testing.T) {
		inner.calls.Store(0)
		vecs, err := p.EmbedBatch(ctx, []string{"geo velocity", "rate limiting", "lockout"})
		require.NoError(t, err)
		require.Len(t, vecs, 3)
		assert.EqualValues(t, 1, inner.calls.Load())

		expected, _ := inner.inner.Embed(ctx, "lockout")
		assert.Equal(t, expected, vecs[2])
		assert.Equal(t, 3, cache.LocalSize())
	})
}

func TestOpenAIEmbeddingProvider_EmbedBatch(t *testing.T) {
	var gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		var req struct {
			Input []string `json:"input"`
			Model string   `json:"model"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)

		data := make([]map[string]any, 0, len(req.Input))
		for i := range req.Input {
			data = append(data, map[string]any{
				"object":    "embedding",
				"index":     i,
				"embedding": []float32{float32(i), 1},
			})
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"object": "list",
			"model":  req.Model,
			"data":   data,
		})
	}))
	defer server.Close()

	p := NewOpenAIEmbeddingProvider("test-key", server.URL+"/v1", "")
	vecs, err := p.EmbedBatch(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	require.Len(t, vecs, 2)
	assert.Equal(t, []float32{1, 1}, vecs[1])
	assert.Equal(t, "/v1/embeddings", gotPath)
	assert.Equal(t, "text-embedding-3-small", p.GetModel())
	assert.Equal(t, 1536, p.GetDimension())
}
