package rag

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunker_SplitText(t *testing.T) {
	t.Run("空文本不产生分块", func(t *testing.T) {
		assert.Empty(t, NewChunker(900, 150).SplitText(" \n\n \n"))
	})

	t.Run("短段落合并为一块", func(t *testing.T) {
		parts := NewChunker(900, 150).SplitText("alpha\n\n  \n\nbeta\n\ngamma")
		assert.Equal(t, []string{"alpha\n\nbeta\n\ngamma"}, parts)
	})

	t.Run("超长时切分并拼接重叠", func(t *testing.T) {
		a := strings.Repeat("a", 30)
		b := strings.Repeat("b", 30)
		c := strings.Repeat("c", 30)
		parts := NewChunker(62, 5).SplitText(a + "\n\n" + b + "\n\n" + c)
		require.Len(t, parts, 2)
		assert.Equal(t, a+"\n\n"+b, parts[0])
		// 上一合并块末尾 5 个字符 + 换行 + 本块
		assert.Equal(t, "bbbbb\n"+c, parts[1])
	})

	t.Run("关闭重叠", func(t *testing.T) {
		parts := NewChunker(10, 0).SplitText("0123456789\n\nabcdefghij")
		assert.Equal(t, []string{"0123456789", "abcdefghij"}, parts)
	})

	t.Run("按字符而非字节计算长度", func(t *testing.T) {
		parts := NewChunker(8, 0).SplitText("账户锁定\n\n夜间")
		assert.Equal(t, []string{"账户锁定\n\n夜间"}, parts)
	})
}

func TestChunker_ChunkSections(t *testing.T) {
	page := 2
	sections := []PolicySection{
		{DocID: "lockout", Title: "lockout.md", Section: "root", Text: "one\n\ntwo"},
		{DocID: "lockout", Title: "lockout.md", Section: "Empty", Text: "  "},
		{DocID: "handbook", Title: "handbook.pdf", Section: "page2", Page: &page, Text: strings.Repeat("x ", 20) + "\n\n" + strings.Repeat("y ", 20)},
	}
	chunks := NewChunker(50, 10).ChunkSections(sections)
	require.Len(t, chunks, 3)

	assert.Equal(t, "lockout::s0::c0", chunks[0].ChunkID)
	assert.Equal(t, "handbook::s2::c0", chunks[1].ChunkID)
	assert.Equal(t, "handbook::s2::c1", chunks[2].ChunkID)

	assert.Equal(t, "handbook.pdf", chunks[1].Title)
	require.NotNil(t, chunks[1].Page)
	assert.Equal(t, 2, *chunks[1].Page)
	assert.Equal(t, hashContent(chunks[0].Text), chunks[0].ContentHash)
	assert.Len(t, chunks[0].ContentHash, 64)
	assert.Equal(t, 2, chunks[0].TokenCount)
}

func TestNewChunker_Defaults(t *testing.T) {
	c := NewChunker(0, -1)
	assert.Equal(t, DefaultChunkSize, c.ChunkSize)
	assert.Equal(t, 0, c.ChunkOverlap)

	c = NewChunker(100, 200)
	assert.Equal(t, 10, c.ChunkOverlap)
}

func TestChunker_CustomTokenCounter(t *testing.T) {
	c := NewChunker(900, 150)
	c.CountTokens = func(s string) int { return len(s) }

	chunks := c.ChunkSections([]PolicySection{{DocID: "d", Title: "d.md", Section: "root", Text: "lock account"}})
	require.Len(t, chunks, 1)
	assert.Equal(t, 12, chunks[0].TokenCount)
}
