package parsers

import "io"

// Section 文档中的一个段落区块（标题下的正文或 PDF 的一页）
type Section struct {
	Label string
	Page  *int
	Text  string
}

// Parser 按扩展名解析政策文档，输出有序的区块列表
type Parser interface {
	// Parse 读取文档并拆分为区块，空文档返回空列表
	Parse(reader io.Reader) ([]Section, error)

	// SupportedExtensions 支持的扩展名（如 ".md"）
	SupportedExtensions() []string
}

func supports(p Parser, extension string) bool {
	for _, ext := range p.SupportedExtensions() {
		if ext == extension {
			return true
		}
	}
	return false
}
