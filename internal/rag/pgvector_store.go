package rag

import (
	"context"
	"fmt"
	"time"

	"github.com/pgvector/pgvector-go"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PolicyChunkRecord 政策分块表 policy_chunks
type PolicyChunkRecord struct {
	ID             string          `gorm:"type:varchar(255);primaryKey"`
	DocID          string          `gorm:"type:varchar(255);not null;index:idx_policy_chunks_doc"`
	Title          string          `gorm:"type:varchar(500)"`
	Section        string          `gorm:"type:varchar(255)"`
	Page           *int            `gorm:"type:int"`
	Content        string          `gorm:"type:text;not null"`
	ContentHash    string          `gorm:"type:varchar(64)"`
	TokenCount     int             `gorm:"type:int"`
	Embedding      pgvector.Vector `gorm:"type:vector"`
	EmbeddingModel string          `gorm:"type:varchar(100)"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// TableName 表名
func (PolicyChunkRecord) TableName() string {
	return "policy_chunks"
}

func (r *PolicyChunkRecord) toChunk() Chunk {
	return Chunk{
		ChunkID:     r.ID,
		DocID:       r.DocID,
		Title:       r.Title,
		Section:     r.Section,
		Page:        r.Page,
		Text:        r.Content,
		ContentHash: r.ContentHash,
		TokenCount:  r.TokenCount,
	}
}

// PGVectorStore 基于 PostgreSQL pgvector 扩展的向量存储实现
type PGVectorStore struct {
	db        *gorm.DB
	batchSize int
}

// NewPGVectorStore 创建 pgvector 存储实例
func NewPGVectorStore(db *gorm.DB) *PGVectorStore {
	return &PGVectorStore{db: db, batchSize: 100}
}

// Migrate 确保 pgvector 扩展与 policy_chunks 表存在
func (s *PGVectorStore) Migrate(ctx context.Context) error {
	db := s.db.WithContext(ctx)
	if db.Dialector.Name() == "postgres" {
		if err := db.Exec("CREATE EXTENSION IF NOT EXISTS vector").Error; err != nil {
			return fmt.Errorf("确保pgvector扩展失败: %w", err)
		}
	}
	if err := db.AutoMigrate(&PolicyChunkRecord{}); err != nil {
		return fmt.Errorf("迁移 policy_chunks 失败: %w", err)
	}
	return nil
}

// Upsert 按分块 ID 写入或覆盖
func (s *PGVectorStore) Upsert(ctx context.Context, vectors []*Vector) error {
	if len(vectors) == 0 {
		return nil
	}

	records := make([]*PolicyChunkRecord, 0, len(vectors))
	for _, vec := range vectors {
		if vec == nil {
			continue
		}
		records = append(records, &PolicyChunkRecord{
			ID:             vec.ChunkID,
			DocID:          vec.DocID,
			Title:          vec.Title,
			Section:        vec.Section,
			Page:           vec.Page,
			Content:        vec.Text,
			ContentHash:    vec.ContentHash,
			TokenCount:     vec.TokenCount,
			Embedding:      pgvector.NewVector(vec.Embedding),
			EmbeddingModel: vec.EmbeddingModel,
		})
	}

	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"doc_id", "title", "section", "page", "content", "content_hash",
				"token_count", "embedding", "embedding_model", "updated_at",
			}),
		}).
		CreateInBatches(records, s.batchSize).Error
	if err != nil {
		return fmt.Errorf("写入政策分块失败: %w", err)
	}
	return nil
}

// Search 执行余弦距离检索，<=> 为 pgvector 的余弦距离操作符
func (s *PGVectorStore) Search(ctx context.Context, queryVector []float32, topK int) ([]*SearchResult, error) {
	if len(queryVector) == 0 {
		return nil, fmt.Errorf("查询向量不能为空")
	}
	if topK <= 0 {
		topK = 5
	}

	query := `
		SELECT
			id, doc_id, title, section, page, content, content_hash, token_count,
			embedding <=> ? AS distance
		FROM policy_chunks
		ORDER BY embedding <=> ?
		LIMIT ?
	`

	var rows []struct {
		PolicyChunkRecord
		Distance float64 `gorm:"column:distance"`
	}
	vec := pgvector.NewVector(queryVector)
	if err := s.db.WithContext(ctx).Raw(query, vec, vec, topK).Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("向量搜索失败: %w", err)
	}

	results := make([]*SearchResult, 0, len(rows))
	for i := range rows {
		dist := rows[i].Distance
		results = append(results, &SearchResult{
			Chunk:    rows[i].toChunk(),
			Distance: &dist,
			Score:    1 - dist,
		})
	}
	return results, nil
}

// ListChunks 返回全部分块（不含向量）
func (s *PGVectorStore) ListChunks(ctx context.Context) ([]Chunk, error) {
	var records []PolicyChunkRecord
	err := s.db.WithContext(ctx).
		Omit("embedding").
		Order("doc_id, id").
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("查询政策分块失败: %w", err)
	}

	chunks := make([]Chunk, 0, len(records))
	for i := range records {
		chunks = append(chunks, records[i].toChunk())
	}
	return chunks, nil
}

// Count 返回分块数量
func (s *PGVectorStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&PolicyChunkRecord{}).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("查询向量数量失败: %w", err)
	}
	return n, nil
}

// Delete 按主键删除分块
func (s *PGVectorStore) Delete(ctx context.Context, chunkIDs []string) error {
	if len(chunkIDs) == 0 {
		return nil
	}
	for from := 0; from < len(chunkIDs); from += s.batchSize {
		to := min(from+s.batchSize, len(chunkIDs))
		err := s.db.WithContext(ctx).
			Where("id IN ?", chunkIDs[from:to]).
			Delete(&PolicyChunkRecord{}).Error
		if err != nil {
			return fmt.Errorf("删除政策分块失败: %w", err)
		}
	}
	return nil
}

// Reset 删除全部分块
func (s *PGVectorStore) Reset(ctx context.Context) error {
	err := s.db.WithContext(ctx).
		Session(&gorm.Session{AllowGlobalUpdate: true}).
		Delete(&PolicyChunkRecord{}).Error
	if err != nil {
		return fmt.Errorf("清空政策分块失败: %w", err)
	}
	return nil
}
