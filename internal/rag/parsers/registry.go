package parsers

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
)

// ErrUnsupported 没有解析器支持该扩展名
var ErrUnsupported = errors.New("不支持的文件类型")

// ParserRegistry 按扩展名选择解析器
type ParserRegistry struct {
	parsers []Parser
}

// NewParserRegistry 创建带默认解析器（文本、PDF）的注册表
func NewParserRegistry() *ParserRegistry {
	r := &ParserRegistry{}
	r.Register(NewTextParser())
	r.Register(NewPDFParser())
	return r
}

// Register 注册解析器，先注册的优先
func (r *ParserRegistry) Register(p Parser) {
	r.parsers = append(r.parsers, p)
}

// Supports 是否有解析器支持该文件
func (r *ParserRegistry) Supports(fileName string) bool {
	return r.find(fileName) != nil
}

// Parse 选择解析器并解析文档
func (r *ParserRegistry) Parse(fileName string, reader io.Reader) ([]Section, error) {
	p := r.find(fileName)
	if p == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, filepath.Ext(fileName))
	}
	return p.Parse(reader)
}

func (r *ParserRegistry) find(fileName string) Parser {
	ext := strings.ToLower(filepath.Ext(fileName))
	for _, p := range r.parsers {
		if supports(p, ext) {
			return p
		}
	}
	return nil
}
