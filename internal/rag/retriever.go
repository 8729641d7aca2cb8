package rag

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"unicode"

	"golang.org/x/sync/errgroup"
)

// Mode 检索模式
type Mode string

const (
	ModeVector Mode = "vector"
	ModeHybrid Mode = "hybrid"

	// DefaultMode 未指定时使用混合检索
	DefaultMode = ModeHybrid
)

// ErrUnknownMode 不支持的检索模式
var ErrUnknownMode = errors.New("不支持的检索模式")

// ParseMode 解析检索模式，空字符串返回默认模式
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "":
		return DefaultMode, nil
	case ModeVector:
		return ModeVector, nil
	case ModeHybrid:
		return ModeHybrid, nil
	default:
		return "", fmt.Errorf("%w: %q (可选: vector, hybrid)", ErrUnknownMode, s)
	}
}

// ConfigurationError 检索模式所需的协作组件不可用，属于部署问题
type ConfigurationError struct {
	Mode   Mode
	Reason string
	Err    error
}

func (e *ConfigurationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("检索模式 %s 配置错误: %s: %v", e.Mode, e.Reason, e.Err)
	}
	return fmt.Sprintf("检索模式 %s 配置错误: %s", e.Mode, e.Reason)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// Strategy 一种检索模式的实现。
// 返回的证据按 chunk_id 去重，并按距离升序稳定排序（无距离的排在最后）。
type Strategy interface {
	Mode() Mode
	Retrieve(ctx context.Context, queries []string) ([]Evidence, Debug, error)
}

// Options 检索策略的构造参数
type Options struct {
	TopK int
	// ThresholdEnabled 为 true 时丢弃距离大于 Threshold 的向量命中
	ThresholdEnabled bool
	Threshold        float64
	SnippetMaxChars  int
	// Concurrency 单次请求内并发执行的查询数，<=0 表示不限制
	Concurrency int
}

const (
	defaultTopK            = 5
	defaultSnippetMaxChars = 360
)

func (o Options) withDefaults() Options {
	if o.TopK <= 0 {
		o.TopK = defaultTopK
	}
	if o.SnippetMaxChars <= 0 {
		o.SnippetMaxChars = defaultSnippetMaxChars
	}
	return o
}

func (o Options) debugBase(mode Mode, queries []string) Debug {
	return Debug{
		"mode":              string(mode),
		"queries":           queries,
		"top_k":             o.TopK,
		"threshold_enabled": o.ThresholdEnabled,
		"threshold":         o.Threshold,
	}
}

// VectorStrategy 纯向量检索
type VectorStrategy struct {
	embedder EmbeddingProvider
	store    VectorStore
	opts     Options
}

// NewVectorStrategy 创建向量检索策略
func NewVectorStrategy(embedder EmbeddingProvider, store VectorStore, opts Options) *VectorStrategy {
	return &VectorStrategy{embedder: embedder, store: store, opts: opts.withDefaults()}
}

// Mode 检索模式
func (s *VectorStrategy) Mode() Mode { return ModeVector }

type vectorQueryHits struct {
	raw  int
	hits []*SearchResult
}

// Retrieve 对每个查询做向量检索，证据保留余弦距离
func (s *VectorStrategy) Retrieve(ctx context.Context, queries []string) ([]Evidence, Debug, error) {
	perQuery, err := fanOut(ctx, s.opts.Concurrency, queries, func(ctx context.Context, q string) (vectorQueryHits, error) {
		return searchVector(ctx, s.embedder, s.store, q, s.opts)
	})
	if err != nil {
		return nil, nil, err
	}

	var all []Evidence
	counts := make([]map[string]any, 0, len(queries))
	for i, r := range perQuery {
		for _, hit := range r.hits {
			all = append(all, toEvidence(hit, s.opts.SnippetMaxChars, true))
		}
		counts = append(counts, map[string]any{
			"query":       queries[i],
			"vector_hits": r.raw,
			"kept":        len(r.hits),
		})
	}

	evidence := sortByDistance(dedupeEvidence(all))
	debug := s.opts.debugBase(ModeVector, queries)
	debug["per_query"] = counts
	debug["evidence_count"] = len(evidence)
	return evidence, debug, nil
}

// HybridStrategy 关键词与向量检索的加权倒数排名融合
type HybridStrategy struct {
	embedder      EmbeddingProvider
	store         VectorStore
	lexical       KeywordSearcher
	opts          Options
	lexicalWeight float64
	vectorWeight  float64
}

// HybridWeights 融合权重
type HybridWeights struct {
	Lexical float64
	Vector  float64
}

// DefaultHybridWeights 关键词 0.4 / 向量 0.6
var DefaultHybridWeights = HybridWeights{Lexical: 0.4, Vector: 0.6}

// rrfC 倒数排名融合的平滑常数
const rrfC = 60

// NewHybridStrategy 创建混合检索策略，权重全为零时使用默认权重
func NewHybridStrategy(embedder EmbeddingProvider, store VectorStore, lexical KeywordSearcher, weights HybridWeights, opts Options) *HybridStrategy {
	if weights.Lexical <= 0 && weights.Vector <= 0 {
		weights = DefaultHybridWeights
	}
	return &HybridStrategy{
		embedder:      embedder,
		store:         store,
		lexical:       lexical,
		opts:          opts.withDefaults(),
		lexicalWeight: weights.Lexical,
		vectorWeight:  weights.Vector,
	}
}

// Mode 检索模式
func (s *HybridStrategy) Mode() Mode { return ModeHybrid }

type hybridQueryHits struct {
	vectorRaw int
	vectorHit int
	lexical   int
	fused     []*SearchResult
}

// Retrieve 对每个查询分别做关键词与向量检索后融合；融合结果不带距离
func (s *HybridStrategy) Retrieve(ctx context.Context, queries []string) ([]Evidence, Debug, error) {
	perQuery, err := fanOut(ctx, s.opts.Concurrency, queries, func(ctx context.Context, q string) (hybridQueryHits, error) {
		lexHits, err := s.lexical.SearchKeywords(ctx, q, s.opts.TopK)
		if err != nil {
			return hybridQueryHits{}, fmt.Errorf("关键词检索失败: %w", err)
		}
		vec, err := searchVector(ctx, s.embedder, s.store, q, s.opts)
		if err != nil {
			return hybridQueryHits{}, err
		}
		fused := weightedRRF(
			[][]*SearchResult{lexHits, vec.hits},
			[]float64{s.lexicalWeight, s.vectorWeight},
			rrfC,
		)
		return hybridQueryHits{
			vectorRaw: vec.raw,
			vectorHit: len(vec.hits),
			lexical:   len(lexHits),
			fused:     fused,
		}, nil
	})
	if err != nil {
		return nil, nil, err
	}

	var all []Evidence
	counts := make([]map[string]any, 0, len(queries))
	for i, r := range perQuery {
		for _, hit := range r.fused {
			all = append(all, toEvidence(hit, s.opts.SnippetMaxChars, false))
		}
		counts = append(counts, map[string]any{
			"query":        queries[i],
			"lexical_hits": r.lexical,
			"vector_hits":  r.vectorRaw,
			"vector_kept":  r.vectorHit,
			"fused_hits":   len(r.fused),
		})
	}

	evidence := sortByDistance(dedupeEvidence(all))
	debug := s.opts.debugBase(ModeHybrid, queries)
	debug["weights"] = map[string]float64{"lexical": s.lexicalWeight, "vector": s.vectorWeight}
	debug["per_query"] = counts
	debug["evidence_count"] = len(evidence)
	return evidence, debug, nil
}

// searchVector 向量化查询并检索，按阈值过滤
func searchVector(ctx context.Context, embedder EmbeddingProvider, store VectorStore, q string, opts Options) (vectorQueryHits, error) {
	emb, err := embedder.Embed(ctx, q)
	if err != nil {
		return vectorQueryHits{}, fmt.Errorf("查询向量化失败: %w", err)
	}
	hits, err := store.Search(ctx, emb, opts.TopK)
	if err != nil {
		return vectorQueryHits{}, fmt.Errorf("向量搜索失败: %w", err)
	}
	if !opts.ThresholdEnabled {
		return vectorQueryHits{raw: len(hits), hits: hits}, nil
	}

	kept := make([]*SearchResult, 0, len(hits))
	for _, h := range hits {
		if h.Distance == nil || *h.Distance > opts.Threshold {
			continue
		}
		kept = append(kept, h)
	}
	return vectorQueryHits{raw: len(hits), hits: kept}, nil
}

// fanOut 并发执行每个查询，结果按查询顺序返回；任一失败即取消其余查询
func fanOut[T any](ctx context.Context, limit int, queries []string, fn func(context.Context, string) (T, error)) ([]T, error) {
	results := make([]T, len(queries))
	g, gctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i, q := range queries {
		g.Go(func() error {
			r, err := fn(gctx, q)
			if err != nil {
				return err
			}
			results[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// weightedRRF 加权倒数排名融合：score(d) = Σ w_i / (rank_i(d) + c)，rank 从 1 开始。
// 结果按分数降序，同分时按首次出现顺序（先遍历第一个列表）。
func weightedRRF(lists [][]*SearchResult, weights []float64, c float64) []*SearchResult {
	scores := make(map[string]float64)
	docs := make(map[string]*SearchResult)
	var order []string

	for i, list := range lists {
		for rank, item := range list {
			if _, ok := docs[item.ChunkID]; !ok {
				docs[item.ChunkID] = item
				order = append(order, item.ChunkID)
			}
			scores[item.ChunkID] += weights[i] / (float64(rank+1) + c)
		}
	}

	fused := make([]*SearchResult, 0, len(order))
	for _, id := range order {
		item := *docs[id]
		item.Score = scores[id]
		item.Distance = nil
		fused = append(fused, &item)
	}
	sort.SliceStable(fused, func(i, j int) bool {
		return fused[i].Score > fused[j].Score
	})
	return fused
}

func toEvidence(hit *SearchResult, maxChars int, keepDistance bool) Evidence {
	ev := Evidence{
		DocID:   firstNonEmpty(hit.DocID, "unknown"),
		Title:   firstNonEmpty(hit.Title, hit.DocID, "unknown"),
		Section: hit.Section,
		Page:    hit.Page,
		ChunkID: firstNonEmpty(hit.ChunkID, "unknown"),
		Quote:   snip(hit.Text, maxChars),
	}
	if keepDistance && hit.Distance != nil {
		d := *hit.Distance
		ev.Distance = &d
	}
	return ev
}

// dedupeEvidence 按 chunk_id 去重，保留首次出现
func dedupeEvidence(items []Evidence) []Evidence {
	seen := make(map[string]struct{}, len(items))
	out := make([]Evidence, 0, len(items))
	for _, e := range items {
		if _, ok := seen[e.ChunkID]; ok {
			continue
		}
		seen[e.ChunkID] = struct{}{}
		out = append(out, e)
	}
	return out
}

// sortByDistance 按距离升序稳定排序，无距离视为无穷大
func sortByDistance(items []Evidence) []Evidence {
	key := func(e Evidence) float64 {
		if e.Distance == nil {
			return math.Inf(1)
		}
		return *e.Distance
	}
	sort.SliceStable(items, func(i, j int) bool {
		return key(items[i]) < key(items[j])
	})
	return items
}

// snip 去除首尾空白并按字符数截断，截断时以 ... 结尾
func snip(text string, maxChars int) string {
	t := strings.TrimSpace(text)
	runes := []rune(t)
	if maxChars <= 0 || len(runes) <= maxChars {
		return t
	}
	if maxChars <= 3 {
		return string(runes[:maxChars])
	}
	return strings.TrimRightFunc(string(runes[:maxChars-3]), unicode.IsSpace) + "..."
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
