package parsers

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

const (
	rootSection     = "root"
	emptyHeading    = "heading"
	maxSectionLabel = 120
)

// TextParser 文本/Markdown 解析器。
// 以 # 开头的行是区块边界，标题文本（去掉 #）作为区块名。
type TextParser struct{}

// NewTextParser 创建文本解析器
func NewTextParser() *TextParser {
	return &TextParser{}
}

// Parse 按标题行拆分区块，空白区块被丢弃
func (p *TextParser) Parse(reader io.Reader) ([]Section, error) {
	var (
		sections []Section
		label    = rootSection
		buf      []string
	)
	flush := func() {
		text := strings.TrimSpace(strings.Join(buf, "\n"))
		if text != "" {
			sections = append(sections, Section{Label: label, Text: text})
		}
		buf = buf[:0]
	}

	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "#") {
			flush()
			label = headingLabel(trimmed)
			continue
		}
		buf = append(buf, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("读取文件失败: %w", err)
	}
	flush()
	return sections, nil
}

func headingLabel(line string) string {
	label := strings.TrimSpace(strings.Trim(line, "#"))
	if label == "" {
		return emptyHeading
	}
	if r := []rune(label); len(r) > maxSectionLabel {
		label = string(r[:maxSectionLabel])
	}
	return label
}

// SupportedExtensions 支持的文件扩展名
func (p *TextParser) SupportedExtensions() []string {
	return []string{".txt", ".md", ".markdown"}
}
