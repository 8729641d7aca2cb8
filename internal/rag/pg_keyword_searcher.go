package rag

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"gorm.io/gorm"
)

// PGKeywordSearcher PostgreSQL 全文搜索实现，检索 policy_chunks 表
type PGKeywordSearcher struct {
	db *gorm.DB
}

// NewPGKeywordSearcher 创建 PostgreSQL 关键词检索器
func NewPGKeywordSearcher(db *gorm.DB) *PGKeywordSearcher {
	return &PGKeywordSearcher{db: db}
}

// SearchKeywords 使用 ts_rank_cd 排序的全文检索
func (s *PGKeywordSearcher) SearchKeywords(ctx context.Context, query string, topK int) ([]*SearchResult, error) {
	if topK <= 0 {
		topK = 5
	}
	tsQuery := buildTSQuery(query)
	if tsQuery == "" {
		return []*SearchResult{}, nil
	}

	sql := `
		SELECT
			id, doc_id, title, section, page, content, content_hash, token_count,
			ts_rank_cd(to_tsvector('english', content), to_tsquery('english', ?)) AS score
		FROM policy_chunks
		WHERE to_tsvector('english', content) @@ to_tsquery('english', ?)
		ORDER BY score DESC, id
		LIMIT ?
	`

	var rows []struct {
		PolicyChunkRecord
		Score float64 `gorm:"column:score"`
	}
	if err := s.db.WithContext(ctx).Raw(sql, tsQuery, tsQuery, topK).Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("关键词搜索失败: %w", err)
	}

	results := make([]*SearchResult, 0, len(rows))
	for i := range rows {
		results = append(results, &SearchResult{Chunk: rows[i].toChunk(), Score: rows[i].Score})
	}
	return results, nil
}

// EnsureFullTextIndex 确保全文索引存在
func (s *PGKeywordSearcher) EnsureFullTextIndex(ctx context.Context) error {
	return s.db.WithContext(ctx).Exec(`
		CREATE INDEX IF NOT EXISTS idx_policy_chunks_content_fts
		ON policy_chunks
		USING GIN (to_tsvector('english', content))
	`).Error
}

// buildTSQuery 只保留字母数字词项并用 | (OR) 连接，提高召回率
func buildTSQuery(query string) string {
	terms := strings.FieldsFunc(query, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	return strings.Join(terms, " | ")
}
