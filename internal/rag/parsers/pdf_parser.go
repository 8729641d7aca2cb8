package parsers

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/dslipak/pdf"
)

// PDFParser PDF 解析器，每页一个区块（page{N}）
type PDFParser struct{}

// NewPDFParser 创建 PDF 解析器
func NewPDFParser() *PDFParser {
	return &PDFParser{}
}

// Parse 逐页提取纯文本，无法解析的页面保留为空区块
func (p *PDFParser) Parse(reader io.Reader) ([]Section, error) {
	// pdf.NewReader 需要 ReaderAt
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("读取 PDF 内容失败: %w", err)
	}

	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("打开 PDF 失败: %w", err)
	}

	numPages := r.NumPage()
	sections := make([]Section, 0, numPages)
	for i := 1; i <= numPages; i++ {
		page := i
		sec := Section{Label: fmt.Sprintf("page%d", i), Page: &page}

		pg := r.Page(i)
		if !pg.V.IsNull() {
			if text, err := pg.GetPlainText(nil); err == nil {
				sec.Text = strings.TrimSpace(text)
			}
		}
		sections = append(sections, sec)
	}
	return sections, nil
}

// SupportedExtensions 支持的文件扩展名
func (p *PDFParser) SupportedExtensions() []string {
	return []string{".pdf"}
}
