package rag

import (
	"crypto/sha256"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	DefaultChunkSize    = 900
	DefaultChunkOverlap = 150
)

// Chunker 段落合并分块器
type Chunker struct {
	ChunkSize    int // 合并后的最大字符数
	ChunkOverlap int // 从上一个合并块末尾拼到下一块前面的字符数
	// CountTokens 统计分块 token 数，仅用于记录，不影响切分
	CountTokens func(string) int
}

// NewChunker 创建分块器
func NewChunker(chunkSize, chunkOverlap int) *Chunker {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if chunkOverlap < 0 {
		chunkOverlap = 0
	}
	if chunkOverlap >= chunkSize {
		chunkOverlap = chunkSize / 10
	}
	return &Chunker{ChunkSize: chunkSize, ChunkOverlap: chunkOverlap, CountTokens: estimateTokenCount}
}

var paragraphBreak = regexp.MustCompile(`\n\s*\n`)

// SplitText 按空行切分段落，相邻段落在不超过 ChunkSize 时用空行合并，
// 之后每块（第一块除外）前面拼接上一合并块末尾 ChunkOverlap 个字符
func (c *Chunker) SplitText(text string) []string {
	var paras []string
	for _, p := range paragraphBreak.Split(text, -1) {
		if p = strings.TrimSpace(p); p != "" {
			paras = append(paras, p)
		}
	}
	if len(paras) == 0 {
		return nil
	}

	var merged []string
	cur := ""
	for _, p := range paras {
		if cur == "" {
			cur = p
			continue
		}
		if utf8.RuneCountInString(cur)+2+utf8.RuneCountInString(p) <= c.ChunkSize {
			cur += "\n\n" + p
			continue
		}
		merged = append(merged, cur)
		cur = p
	}
	merged = append(merged, cur)

	if c.ChunkOverlap <= 0 || len(merged) == 1 {
		return merged
	}

	out := make([]string, len(merged))
	out[0] = merged[0]
	for i := 1; i < len(merged); i++ {
		out[i] = strings.TrimSpace(tail(merged[i-1], c.ChunkOverlap) + "\n" + merged[i])
	}
	return out
}

// ChunkSections 对全部区块分块，chunk_id 为 {doc_id}::s{区块序号}::c{块序号}；
// 区块序号是在整个语料中的全局位置
func (c *Chunker) ChunkSections(sections []PolicySection) []Chunk {
	count := c.CountTokens
	if count == nil {
		count = estimateTokenCount
	}
	var chunks []Chunk
	for si, sec := range sections {
		for ci, part := range c.SplitText(sec.Text) {
			chunks = append(chunks, Chunk{
				ChunkID:     fmt.Sprintf("%s::s%d::c%d", sec.DocID, si, ci),
				DocID:       sec.DocID,
				Title:       sec.Title,
				Section:     sec.Section,
				Page:        sec.Page,
				Text:        part,
				ContentHash: hashContent(part),
				TokenCount:  count(part),
			})
		}
	}
	return chunks
}

func tail(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[len(r)-n:])
}

// estimateTokenCount 估算 Token 数：英文按单词，中文约 1.5 字一个 token
func estimateTokenCount(text string) int {
	chineseCount := 0
	for _, r := range text {
		if r >= 0x4E00 && r <= 0x9FA5 {
			chineseCount++
		}
	}
	return len(strings.Fields(text)) + int(float64(chineseCount)/1.5)
}

func hashContent(content string) string {
	return fmt.Sprintf("%x", sha256.Sum256([]byte(content)))
}
