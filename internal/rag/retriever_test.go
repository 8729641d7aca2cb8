package rag

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEmbeddingProvider struct{}

func (fakeEmbeddingProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{float32(len(text))}, nil
}

func (fakeEmbeddingProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	res := make([][]float32, len(texts))
	for i, txt := range texts {
		res[i] = []float32{float32(len(txt))}
	}
	return res, nil
}

func (fakeEmbeddingProvider) GetModel() string        { return "test-model" }
func (fakeEmbeddingProvider) GetProviderName() string { return "test-provider" }

// fakeVectorStore 按查询向量（查询长度）返回预设命中
type fakeVectorStore struct {
	replies map[int][]*SearchResult
	delay   map[int]time.Duration
	err     error
}

func (f *fakeVectorStore) Upsert(ctx context.Context, vectors []*Vector) error { return nil }

func (f *fakeVectorStore) Search(ctx context.Context, queryVector []float32, topK int) ([]*SearchResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	key := int(queryVector[0])
	if d := f.delay[key]; d > 0 {
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	hits := f.replies[key]
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

func (f *fakeVectorStore) ListChunks(ctx context.Context) ([]Chunk, error) { return nil, nil }
func (f *fakeVectorStore) Count(ctx context.Context) (int64, error)        { return 0, nil }
func (f *fakeVectorStore) Reset(ctx context.Context) error                 { return nil }
func (f *fakeVectorStore) Delete(ctx context.Context, ids []string) error  { return nil }

type fakeKeywordSearcher struct {
	replies map[string][]*SearchResult
}

func (f *fakeKeywordSearcher) SearchKeywords(ctx context.Context, query string, topK int) ([]*SearchResult, error) {
	return f.replies[query], nil
}

func dist(v float64) *float64 { return &v }

func vhit(id string, d float64) *SearchResult {
	return &SearchResult{
		Chunk:    Chunk{ChunkID: id, DocID: strings.Split(id, "::")[0], Title: "policy.md", Text: "text of " + id},
		Distance: dist(d),
	}
}

func khit(id string) *SearchResult {
	return &SearchResult{Chunk: Chunk{ChunkID: id, DocID: strings.Split(id, "::")[0], Title: "policy.md", Text: "text of " + id}}
}

func chunkIDs(evidence []Evidence) []string {
	ids := make([]string, 0, len(evidence))
	for _, e := range evidence {
		ids = append(ids, e.ChunkID)
	}
	return ids
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, ModeHybrid, m)

	m, err = ParseMode(" Vector ")
	require.NoError(t, err)
	assert.Equal(t, ModeVector, m)

	_, err = ParseMode("keyword")
	assert.ErrorIs(t, err, ErrUnknownMode)
}

func TestVectorStrategy_DedupeAndOrder(t *testing.T) {
	// 查询长度决定 fake 向量，q1 长度 2，q2 长度 3
	store := &fakeVectorStore{replies: map[int][]*SearchResult{
		2: {vhit("a::s0::c0", 0.30), vhit("b::s0::c0", 0.10)},
		3: {vhit("a::s0::c0", 0.05), vhit("c::s0::c0", 0.20)},
	}}
	s := NewVectorStrategy(fakeEmbeddingProvider{}, store, Options{TopK: 5})

	evidence, debug, err := s.Retrieve(context.Background(), []string{"q1", "q22"})
	require.NoError(t, err)

	// a 首次出现在 q1（距离 0.30），第二次出现被丢弃
	assert.Equal(t, []string{"b::s0::c0", "c::s0::c0", "a::s0::c0"}, chunkIDs(evidence))
	require.NotNil(t, evidence[2].Distance)
	assert.InDelta(t, 0.30, *evidence[2].Distance, 1e-9)

	assert.Equal(t, "vector", debug["mode"])
	assert.Equal(t, false, debug["threshold_enabled"])
	assert.Equal(t, 3, debug["evidence_count"])
	perQuery := debug["per_query"].([]map[string]any)
	require.Len(t, perQuery, 2)
	assert.Equal(t, 2, perQuery[0]["vector_hits"])
}

func TestVectorStrategy_Threshold(t *testing.T) {
	store := &fakeVectorStore{replies: map[int][]*SearchResult{
		2: {vhit("a::s0::c0", 0.30), vhit("b::s0::c0", 0.90), vhit("c::s0::c0", 0.50)},
	}}

	t.Run("启用阈值时丢弃超出阈值的命中", func(t *testing.T) {
		s := NewVectorStrategy(fakeEmbeddingProvider{}, store, Options{ThresholdEnabled: true, Threshold: 0.5})
		evidence, debug, err := s.Retrieve(context.Background(), []string{"q1"})
		require.NoError(t, err)
		assert.Equal(t, []string{"a::s0::c0", "c::s0::c0"}, chunkIDs(evidence))
		assert.Equal(t, true, debug["threshold_enabled"])
		assert.Equal(t, 0.5, debug["threshold"])
		perQuery := debug["per_query"].([]map[string]any)
		assert.Equal(t, 3, perQuery[0]["vector_hits"])
		assert.Equal(t, 2, perQuery[0]["kept"])
	})

	t.Run("未启用阈值时全部保留", func(t *testing.T) {
		s := NewVectorStrategy(fakeEmbeddingProvider{}, store, Options{Threshold: 0.5})
		evidence, _, err := s.Retrieve(context.Background(), []string{"q1"})
		require.NoError(t, err)
		assert.Len(t, evidence, 3)
	})
}

func TestVectorStrategy_MergeFollowsQueryOrder(t *testing.T) {
	// 第一个查询更慢，合并顺序仍以查询顺序为准
	first, second := vhit("a::s0::c0", 0.2), vhit("a::s0::c0", 0.2)
	first.Text = "from first query"
	second.Text = "from second query"
	store := &fakeVectorStore{
		replies: map[int][]*SearchResult{2: {first}, 3: {second}},
		delay:   map[int]time.Duration{2: 30 * time.Millisecond},
	}

	s := NewVectorStrategy(fakeEmbeddingProvider{}, store, Options{Concurrency: 2})
	evidence, _, err := s.Retrieve(context.Background(), []string{"q1", "q22"})
	require.NoError(t, err)
	require.Len(t, evidence, 1)
	assert.Equal(t, "from first query", evidence[0].Quote)
}

func TestVectorStrategy_Errors(t *testing.T) {
	t.Run("存储错误向上返回", func(t *testing.T) {
		boom := errors.New("connection refused")
		s := NewVectorStrategy(fakeEmbeddingProvider{}, &fakeVectorStore{err: boom}, Options{})
		_, _, err := s.Retrieve(context.Background(), []string{"q1"})
		assert.ErrorIs(t, err, boom)
	})

	t.Run("上下文取消", func(t *testing.T) {
		store := &fakeVectorStore{delay: map[int]time.Duration{2: time.Second}}
		s := NewVectorStrategy(fakeEmbeddingProvider{}, store, Options{})
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()
		_, _, err := s.Retrieve(ctx, []string{"q1"})
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("无命中返回空列表", func(t *testing.T) {
		s := NewVectorStrategy(fakeEmbeddingProvider{}, &fakeVectorStore{}, Options{})
		evidence, debug, err := s.Retrieve(context.Background(), []string{"q1"})
		require.NoError(t, err)
		assert.Empty(t, evidence)
		assert.Equal(t, 0, debug["evidence_count"])
	})
}

func TestHybridStrategy_Fusion(t *testing.T) {
	store := &fakeVectorStore{replies: map[int][]*SearchResult{
		2: {vhit("v1::s0::c0", 0.1), vhit("both::s0::c0", 0.2)},
	}}
	lexical := &fakeKeywordSearcher{replies: map[string][]*SearchResult{
		"q1": {khit("both::s0::c0"), khit("k1::s0::c0")},
	}}
	s := NewHybridStrategy(fakeEmbeddingProvider{}, store, lexical, HybridWeights{}, Options{})

	evidence, debug, err := s.Retrieve(context.Background(), []string{"q1"})
	require.NoError(t, err)

	// both: 0.4/61 + 0.6/62；v1: 0.6/61；k1: 0.4/62
	assert.Equal(t, []string{"both::s0::c0", "v1::s0::c0", "k1::s0::c0"}, chunkIDs(evidence))
	for _, e := range evidence {
		assert.Nil(t, e.Distance)
	}

	assert.Equal(t, "hybrid", debug["mode"])
	perQuery := debug["per_query"].([]map[string]any)
	assert.Equal(t, 2, perQuery[0]["lexical_hits"])
	assert.Equal(t, 2, perQuery[0]["vector_hits"])
	assert.Equal(t, 3, perQuery[0]["fused_hits"])
	assert.Equal(t, map[string]float64{"lexical": 0.4, "vector": 0.6}, debug["weights"])
}

func TestHybridStrategy_CrossQueryDedupeKeepsFirst(t *testing.T) {
	store := &fakeVectorStore{replies: map[int][]*SearchResult{
		2: {vhit("a::s0::c0", 0.1)},
		3: {vhit("b::s0::c0", 0.1), vhit("a::s0::c0", 0.2)},
	}}
	s := NewHybridStrategy(fakeEmbeddingProvider{}, store, &fakeKeywordSearcher{}, DefaultHybridWeights, Options{})

	evidence, _, err := s.Retrieve(context.Background(), []string{"q1", "q22"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a::s0::c0", "b::s0::c0"}, chunkIDs(evidence))
}

func TestWeightedRRF_TiesKeepFirstAppearance(t *testing.T) {
	fused := weightedRRF(
		[][]*SearchResult{{khit("x")}, {vhit("y", 0.1)}},
		[]float64{0.5, 0.5},
		rrfC,
	)
	require.Len(t, fused, 2)
	assert.Equal(t, "x", fused[0].ChunkID)
	assert.Equal(t, "y", fused[1].ChunkID)
	assert.Nil(t, fused[1].Distance)
}

func TestSortByDistance_MissingLast(t *testing.T) {
	items := []Evidence{
		{ChunkID: "none-1"},
		{ChunkID: "far", Distance: dist(0.9)},
		{ChunkID: "none-2"},
		{ChunkID: "near", Distance: dist(0.1)},
	}
	assert.Equal(t, []string{"near", "far", "none-1", "none-2"}, chunkIDs(sortByDistance(items)))
}

func TestSnip(t *testing.T) {
	assert.Equal(t, "short", snip("  short \n", 10))
	assert.Equal(t, "exactly10!", snip("exactly10!", 10))
	assert.Equal(t, "abc...", snip("abc   defghij", 9))
	assert.Equal(t, "가나다...", snip("가나다라마바사", 6))
	assert.Equal(t, "", snip("   ", 5))
}

func TestToEvidence_TitleFallback(t *testing.T) {
	ev := toEvidence(&SearchResult{Chunk: Chunk{ChunkID: "doc::s0::c0", DocID: "doc"}}, 100, true)
	assert.Equal(t, "doc", ev.Title)

	ev = toEvidence(&SearchResult{Chunk: Chunk{ChunkID: "x"}}, 100, true)
	assert.Equal(t, "unknown", ev.Title)
	assert.Equal(t, "unknown", ev.DocID)
	assert.Nil(t, ev.Distance)
}

type countingFactory struct {
	calls atomic.Int32
	fail  atomic.Bool
}

func (f *countingFactory) Build(ctx context.Context, mode Mode) (Strategy, error) {
	f.calls.Add(1)
	time.Sleep(5 * time.Millisecond)
	if f.fail.Load() {
		return nil, &ConfigurationError{Mode: mode, Reason: "unavailable"}
	}
	return NewVectorStrategy(fakeEmbeddingProvider{}, &fakeVectorStore{}, Options{}), nil
}

func TestStrategyRegistry(t *testing.T) {
	t.Run("并发获取只构建一次", func(t *testing.T) {
		factory := &countingFactory{}
		reg := NewStrategyRegistry(factory, nil)

		var wg sync.WaitGroup
		strategies := make([]Strategy, 16)
		for i := range strategies {
			wg.Add(1)
			go func() {
				defer wg.Done()
				s, err := reg.Get(context.Background(), ModeVector)
				assert.NoError(t, err)
				strategies[i] = s
			}()
		}
		wg.Wait()

		assert.EqualValues(t, 1, factory.calls.Load())
		for _, s := range strategies {
			assert.Same(t, strategies[0], s)
		}
	})

	t.Run("构建失败不缓存", func(t *testing.T) {
		factory := &countingFactory{}
		factory.fail.Store(true)
		reg := NewStrategyRegistry(factory, nil)

		_, err := reg.Get(context.Background(), ModeHybrid)
		var cfgErr *ConfigurationError
		require.ErrorAs(t, err, &cfgErr)

		factory.fail.Store(false)
		s, err := reg.Get(context.Background(), ModeHybrid)
		require.NoError(t, err)
		assert.NotNil(t, s)
		assert.EqualValues(t, 2, factory.calls.Load())
	})

	t.Run("Reset 后重新构建", func(t *testing.T) {
		factory := &countingFactory{}
		reg := NewStrategyRegistry(factory, nil)
		_, err := reg.Get(context.Background(), ModeVector)
		require.NoError(t, err)
		reg.Reset()
		_, err = reg.Get(context.Background(), ModeVector)
		require.NoError(t, err)
		assert.EqualValues(t, 2, factory.calls.Load())
	})
}

func TestStrategyBuilder(t *testing.T) {
	store := NewMemoryStore()
	builder := &StrategyBuilder{
		Embedder: NewHashEmbeddingProvider(32),
		Store:    store,
		Lexical:  BM25FromStore(store),
	}

	t.Run("空语料无法构建混合检索", func(t *testing.T) {
		_, err := builder.Build(context.Background(), ModeHybrid)
		var cfgErr *ConfigurationError
		require.ErrorAs(t, err, &cfgErr)
		assert.Equal(t, ModeHybrid, cfgErr.Mode)
		assert.ErrorIs(t, err, ErrEmptyCorpus)
	})

	t.Run("空语料仍可构建向量检索", func(t *testing.T) {
		s, err := builder.Build(context.Background(), ModeVector)
		require.NoError(t, err)
		assert.Equal(t, ModeVector, s.Mode())
	})

	t.Run("有语料后可构建混合检索", func(t *testing.T) {
		require.NoError(t, store.Upsert(context.Background(), []*Vector{
			{Chunk: Chunk{ChunkID: "a::s0::c0", Text: "lockout"}, Embedding: []float32{1}},
		}))
		s, err := builder.Build(context.Background(), ModeHybrid)
		require.NoError(t, err)
		assert.Equal(t, ModeHybrid, s.Mode())
	})

	t.Run("未知模式", func(t *testing.T) {
		_, err := builder.Build(context.Background(), Mode("keyword"))
		assert.ErrorIs(t, err, ErrUnknownMode)
	})
}
