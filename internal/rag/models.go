package rag

// Chunk 政策文档中的一个检索单元
type Chunk struct {
	ChunkID     string `json:"chunk_id"`
	DocID       string `json:"doc_id"`
	Title       string `json:"title"`
	Section     string `json:"section,omitempty"`
	Page        *int   `json:"page,omitempty"`
	Text        string `json:"text"`
	ContentHash string `json:"content_hash,omitempty"`
	TokenCount  int    `json:"token_count,omitempty"`
}

// Vector 描述一条需要写入向量存储的分块
type Vector struct {
	Chunk
	Embedding      []float32
	EmbeddingModel string
}

// SearchResult 向量或关键词检索的一条命中。
// 向量检索填充 Distance（余弦距离，越小越相似），关键词检索只有 Score。
type SearchResult struct {
	Chunk
	Distance *float64 `json:"distance,omitempty"`
	Score    float64  `json:"score"`
}

// Evidence 返回给调用方的政策依据片段
type Evidence struct {
	DocID    string   `json:"doc_id"`
	Title    string   `json:"title"`
	Section  string   `json:"section,omitempty"`
	Page     *int     `json:"page,omitempty"`
	ChunkID  string   `json:"chunk_id"`
	Quote    string   `json:"quote"`
	Distance *float64 `json:"distance,omitempty"`
}

// Debug 检索诊断信息，只用于日志与排查，不影响排序
type Debug map[string]any
