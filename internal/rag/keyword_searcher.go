package rag

import (
	"context"
	"errors"
	"math"
	"sort"
)

// ErrEmptyCorpus 语料为空，无法构建关键词索引
var ErrEmptyCorpus = errors.New("语料为空，无法构建关键词索引")

const (
	bm25K1 = 1.5
	bm25B  = 0.75
)

// BM25Searcher 基于内存 BM25 的关键词检索器，从已入库分块构建
type BM25Searcher struct {
	chunks   []Chunk
	termFreq []map[string]int
	docLen   []int
	avgLen   float64
	idf      map[string]float64
}

// NewBM25Searcher 构建 BM25 索引；空语料返回 ErrEmptyCorpus
func NewBM25Searcher(chunks []Chunk) (*BM25Searcher, error) {
	if len(chunks) == 0 {
		return nil, ErrEmptyCorpus
	}

	s := &BM25Searcher{
		chunks:   append([]Chunk(nil), chunks...),
		termFreq: make([]map[string]int, len(chunks)),
		docLen:   make([]int, len(chunks)),
		idf:      make(map[string]float64),
	}

	docFreq := make(map[string]int)
	total := 0
	for i, c := range chunks {
		tf := make(map[string]int)
		terms := tokenize(c.Text)
		for _, term := range terms {
			tf[term]++
		}
		for term := range tf {
			docFreq[term]++
		}
		s.termFreq[i] = tf
		s.docLen[i] = len(terms)
		total += len(terms)
	}
	s.avgLen = float64(total) / float64(len(chunks))
	if s.avgLen == 0 {
		s.avgLen = 1
	}

	n := float64(len(chunks))
	for term, df := range docFreq {
		s.idf[term] = math.Log(1 + (n-float64(df)+0.5)/(float64(df)+0.5))
	}
	return s, nil
}

// SearchKeywords 返回得分大于零的前 topK 条命中，同分保持语料顺序
func (s *BM25Searcher) SearchKeywords(ctx context.Context, query string, topK int) ([]*SearchResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if topK <= 0 {
		topK = 5
	}

	terms := tokenize(query)
	if len(terms) == 0 {
		return []*SearchResult{}, nil
	}

	results := make([]*SearchResult, 0)
	for i := range s.chunks {
		score := s.score(i, terms)
		if score <= 0 {
			continue
		}
		results = append(results, &SearchResult{Chunk: s.chunks[i], Score: score})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// Size 索引内分块数量
func (s *BM25Searcher) Size() int {
	return len(s.chunks)
}

func (s *BM25Searcher) score(doc int, terms []string) float64 {
	tf := s.termFreq[doc]
	norm := bm25K1 * (1 - bm25B + bm25B*float64(s.docLen[doc])/s.avgLen)

	var score float64
	for _, term := range terms {
		f := float64(tf[term])
		if f == 0 {
			continue
		}
		score += s.idf[term] * f * (bm25K1 + 1) / (f + norm)
	}
	return score
}
