package rag

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// QdrantOptions 初始化 Qdrant 向量存储的配置
type QdrantOptions struct {
	Endpoint            string
	APIKey              string
	Collection          string
	VectorDimension     int
	TimeoutSeconds      int
	HTTPClient          *http.Client
	SkipCollectionCheck bool
}

// QdrantStore 基于 Qdrant HTTP API 的向量存储实现，集合使用 Cosine 距离
type QdrantStore struct {
	client     *http.Client
	baseURL    string
	apiKey     string
	collection string
	vectorSize int
	skipEnsure bool

	mu      sync.Mutex
	ensured bool
}

// 分块 ID 到 Qdrant 点 ID 的命名空间
var qdrantPointNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("logwatch/policy_chunks"))

// NewQdrantStore 创建 Qdrant 向量存储实例
func NewQdrantStore(opts QdrantOptions) (*QdrantStore, error) {
	baseURL := strings.TrimSpace(opts.Endpoint)
	if baseURL == "" {
		return nil, fmt.Errorf("qdrant endpoint 不能为空")
	}
	baseURL = strings.TrimSuffix(baseURL, "/")

	collection := opts.Collection
	if collection == "" {
		collection = "policies"
	}

	vectorSize := opts.VectorDimension
	if vectorSize <= 0 {
		vectorSize = 1536
	}

	timeout := opts.TimeoutSeconds
	if timeout <= 0 {
		timeout = 10
	}

	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: time.Duration(timeout) * time.Second}
	}

	return &QdrantStore{
		client:     client,
		baseURL:    baseURL,
		apiKey:     opts.APIKey,
		collection: collection,
		vectorSize: vectorSize,
		skipEnsure: opts.SkipCollectionCheck,
	}, nil
}

// PointID 返回分块对应的确定性点 ID，重复写入同一分块会覆盖原点
func PointID(chunkID string) string {
	return uuid.NewSHA1(qdrantPointNamespace, []byte(chunkID)).String()
}

// Upsert 写入或更新一批向量
func (s *QdrantStore) Upsert(ctx context.Context, vectors []*Vector) error {
	if len(vectors) == 0 {
		return nil
	}
	if err := s.ensureCollection(ctx); err != nil {
		return err
	}

	points := make([]qdrantPoint, 0, len(vectors))
	for _, vec := range vectors {
		if vec == nil {
			continue
		}
		if len(vec.Embedding) != s.vectorSize {
			return fmt.Errorf("向量维度不匹配: 期望 %d 实际 %d", s.vectorSize, len(vec.Embedding))
		}
		points = append(points, qdrantPoint{
			ID:      PointID(vec.ChunkID),
			Vector:  vec.Embedding,
			Payload: chunkPayload(vec),
		})
	}

	var resp qdrantOperationResponse
	if err := s.doRequest(ctx, http.MethodPut, s.collectionPath("/points?wait=true"), upsertPointsRequest{Points: points}, &resp); err != nil {
		return err
	}
	if resp.Status != "ok" {
		return fmt.Errorf("qdrant upsert 失败: %s", resp.Error)
	}
	return nil
}

// Search 相似度检索，Cosine 分数换算为距离 1-score
func (s *QdrantStore) Search(ctx context.Context, queryVector []float32, topK int) ([]*SearchResult, error) {
	if len(queryVector) == 0 {
		return nil, fmt.Errorf("查询向量不能为空")
	}
	if err := s.ensureCollection(ctx); err != nil {
		return nil, err
	}
	if topK <= 0 {
		topK = 5
	}

	req := searchRequest{
		Vector:      queryVector,
		Limit:       topK,
		WithPayload: true,
	}
	var resp searchResponse
	if err := s.doRequest(ctx, http.MethodPost, s.collectionPath("/points/search"), req, &resp); err != nil {
		return nil, err
	}
	if resp.Status != "ok" {
		return nil, fmt.Errorf("qdrant search 失败: %s", resp.Error)
	}

	results := make([]*SearchResult, 0, len(resp.Result))
	for _, item := range resp.Result {
		dist := 1 - item.Score
		results = append(results, &SearchResult{
			Chunk:    chunkFromPayload(item.Payload),
			Distance: &dist,
			Score:    item.Score,
		})
	}
	return results, nil
}

// ListChunks 通过 scroll 接口分页拉取全部分块
func (s *QdrantStore) ListChunks(ctx context.Context) ([]Chunk, error) {
	if err := s.ensureCollection(ctx); err != nil {
		return nil, err
	}

	var chunks []Chunk
	var offset any
	for {
		req := scrollRequest{Limit: 256, WithPayload: true, WithVector: false, Offset: offset}
		var resp scrollResponse
		if err := s.doRequest(ctx, http.MethodPost, s.collectionPath("/points/scroll"), req, &resp); err != nil {
			return nil, err
		}
		if resp.Status != "ok" {
			return nil, fmt.Errorf("qdrant scroll 失败: %s", resp.Error)
		}
		for _, p := range resp.Result.Points {
			chunks = append(chunks, chunkFromPayload(p.Payload))
		}
		if resp.Result.NextPageOffset == nil {
			break
		}
		offset = resp.Result.NextPageOffset
	}
	return chunks, nil
}

// Count 查询集合内点数量
func (s *QdrantStore) Count(ctx context.Context) (int64, error) {
	if err := s.ensureCollection(ctx); err != nil {
		return 0, err
	}
	var resp countResponse
	if err := s.doRequest(ctx, http.MethodPost, s.collectionPath("/points/count"), countRequest{Exact: true}, &resp); err != nil {
		return 0, err
	}
	if resp.Status != "ok" {
		return 0, fmt.Errorf("qdrant count 失败: %s", resp.Error)
	}
	return resp.Result.Count, nil
}

// Delete 按分块 ID 删除点
func (s *QdrantStore) Delete(ctx context.Context, chunkIDs []string) error {
	if len(chunkIDs) == 0 {
		return nil
	}
	if err := s.ensureCollection(ctx); err != nil {
		return err
	}

	ids := make([]string, len(chunkIDs))
	for i, id := range chunkIDs {
		ids[i] = PointID(id)
	}
	var resp qdrantOperationResponse
	if err := s.doRequest(ctx, http.MethodPost, s.collectionPath("/points/delete?wait=true"), deletePointsRequest{Points: ids}, &resp); err != nil {
		return err
	}
	if resp.Status != "ok" {
		return fmt.Errorf("qdrant delete 失败: %s", resp.Error)
	}
	return nil
}

// Reset 删除集合，下次写入时重新创建
func (s *QdrantStore) Reset(ctx context.Context) error {
	var resp qdrantOperationResponse
	if err := s.doRequest(ctx, http.MethodDelete, s.collectionPath(""), nil, &resp); err != nil {
		return err
	}
	s.mu.Lock()
	s.ensured = false
	s.mu.Unlock()
	return nil
}

// --- 内部辅助 ---

func (s *QdrantStore) collectionPath(path string) string {
	return fmt.Sprintf("/collections/%s%s", url.PathEscape(s.collection), path)
}

func (s *QdrantStore) ensureCollection(ctx context.Context) error {
	if s.skipEnsure {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ensured {
		return nil
	}

	// 先尝试探测集合
	var resp qdrantOperationResponse
	if err := s.doRequest(ctx, http.MethodGet, s.collectionPath(""), nil, &resp); err == nil && resp.Status == "ok" {
		s.ensured = true
		return nil
	}

	createReq := createCollectionRequest{
		Vectors: qdrantVectorParams{Size: s.vectorSize, Distance: "Cosine"},
	}
	if err := s.doRequest(ctx, http.MethodPut, s.collectionPath(""), createReq, &resp); err != nil {
		return fmt.Errorf("创建 Qdrant 集合失败: %w", err)
	}
	if resp.Status != "ok" {
		return fmt.Errorf("创建 Qdrant 集合失败: %s", resp.Error)
	}
	s.ensured = true
	return nil
}

func (s *QdrantStore) doRequest(ctx context.Context, method, path string, payload any, dest any) error {
	var bodyReader *bytes.Reader
	if payload != nil {
		buf, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("序列化请求失败: %w", err)
		}
		bodyReader = bytes.NewReader(buf)
	} else {
		bodyReader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, bodyReader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("api-key", s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("qdrant 请求失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var errBody map[string]any
		_ = json.NewDecoder(resp.Body).Decode(&errBody)
		return fmt.Errorf("qdrant API 错误: %v (%d)", errBody["status"], resp.StatusCode)
	}

	if dest == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(dest)
}

func chunkPayload(vec *Vector) map[string]any {
	payload := map[string]any{
		"chunk_id":        vec.ChunkID,
		"doc_id":          vec.DocID,
		"title":           vec.Title,
		"section":         vec.Section,
		"content":         vec.Text,
		"content_hash":    vec.ContentHash,
		"token_count":     vec.TokenCount,
		"embedding_model": vec.EmbeddingModel,
	}
	if vec.Page != nil {
		payload["page"] = *vec.Page
	}
	return payload
}

func chunkFromPayload(payload map[string]any) Chunk {
	c := Chunk{
		ChunkID:     stringFromPayload(payload, "chunk_id"),
		DocID:       stringFromPayload(payload, "doc_id"),
		Title:       stringFromPayload(payload, "title"),
		Section:     stringFromPayload(payload, "section"),
		Text:        stringFromPayload(payload, "content"),
		ContentHash: stringFromPayload(payload, "content_hash"),
		TokenCount:  toInt(payload["token_count"]),
	}
	if v, ok := payload["page"]; ok && v != nil {
		page := toInt(v)
		c.Page = &page
	}
	return c
}

func stringFromPayload(payload map[string]any, key string) string {
	if payload == nil {
		return ""
	}
	if v, ok := payload[key]; ok && v != nil {
		return fmt.Sprint(v)
	}
	return ""
}

func toInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	case json.Number:
		i, _ := n.Int64()
		return int(i)
	default:
		return 0
	}
}

// --- Qdrant API payloads ---

type qdrantVectorParams struct {
	Size     int    `json:"size"`
	Distance string `json:"distance"`
}

type createCollectionRequest struct {
	Vectors qdrantVectorParams `json:"vectors"`
}

type qdrantPoint struct {
	ID      string         `json:"id"`
	Vector  []float32      `json:"vector"`
	Payload map[string]any `json:"payload"`
}

type upsertPointsRequest struct {
	Points []qdrantPoint `json:"points"`
}

type deletePointsRequest struct {
	Points []string `json:"points"`
}

type searchRequest struct {
	Vector      []float32 `json:"vector"`
	Limit       int       `json:"limit"`
	WithPayload bool      `json:"with_payload"`
}

type searchResponse struct {
	Status string              `json:"status"`
	Result []searchResultEntry `json:"result"`
	Error  string              `json:"error"`
}

type searchResultEntry struct {
	ID      any            `json:"id"`
	Score   float64        `json:"score"`
	Payload map[string]any `json:"payload"`
}

type scrollRequest struct {
	Limit       int  `json:"limit"`
	WithPayload bool `json:"with_payload"`
	WithVector  bool `json:"with_vector"`
	Offset      any  `json:"offset,omitempty"`
}

type scrollResponse struct {
	Status string `json:"status"`
	Result struct {
		Points         []searchResultEntry `json:"points"`
		NextPageOffset any                 `json:"next_page_offset"`
	} `json:"result"`
	Error string `json:"error"`
}

type qdrantOperationResponse struct {
	Status string `json:"status"`
	Error  string `json:"error"`
}

type countRequest struct {
	Exact bool `json:"exact"`
}

type countResponse struct {
	Status string `json:"status"`
	Result struct {
		Count int64 `json:"count"`
	} `json:"result"`
	Error string `json:"error"`
}
