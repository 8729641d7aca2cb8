package rag

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var (
	// ErrInvalidFileName 文件名包含路径分隔符或 ..
	ErrInvalidFileName = errors.New("非法文件名")
	// ErrPolicyNotFound 政策文件不存在
	ErrPolicyNotFound = errors.New("政策文件不存在")
)

// PolicyFiles 提供政策目录下原始文件的只读访问
type PolicyFiles struct {
	dir string
}

// NewPolicyFiles 创建文件访问器
func NewPolicyFiles(dir string) *PolicyFiles {
	return &PolicyFiles{dir: dir}
}

// Open 读取政策文件，返回内容与 Content-Type
func (p *PolicyFiles) Open(name string) ([]byte, string, error) {
	if name == "" || strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
		return nil, "", ErrInvalidFileName
	}

	path := filepath.Join(p.dir, name)
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return nil, "", fmt.Errorf("%w: %s", ErrPolicyNotFound, name)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("读取政策文件失败: %w", err)
	}
	return data, ContentTypeFor(name), nil
}

// ContentTypeFor 按扩展名推断 Content-Type
func ContentTypeFor(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".pdf":
		return "application/pdf"
	case ".md", ".markdown":
		return "text/markdown; charset=utf-8"
	default:
		return "text/plain; charset=utf-8"
	}
}
