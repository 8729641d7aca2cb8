package rag

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"logwatch/internal/rag/parsers"
)

// ErrPolicyDirNotFound 政策目录不存在
var ErrPolicyDirNotFound = errors.New("政策目录不存在")

// PolicySection 政策文档中的一个区块
type PolicySection struct {
	DocID   string
	Title   string
	Section string
	Page    *int
	Text    string
}

// LoadPolicies 读取目录下（不递归）全部支持的政策文档，按文件名排序。
// doc_id 为去掉扩展名的文件名，title 为文件名。
func LoadPolicies(dir string) ([]PolicySection, error) {
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrPolicyDirNotFound, dir)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("读取政策目录失败: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	registry := parsers.NewParserRegistry()
	var out []PolicySection
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !registry.Supports(name) {
			continue
		}
		sections, err := parseFile(registry, filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("解析 %s 失败: %w", name, err)
		}
		docID := strings.TrimSuffix(name, filepath.Ext(name))
		for _, s := range sections {
			out = append(out, PolicySection{
				DocID:   docID,
				Title:   name,
				Section: s.Label,
				Page:    s.Page,
				Text:    s.Text,
			})
		}
	}
	return out, nil
}

func parseFile(registry *parsers.ParserRegistry, path string) ([]parsers.Section, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return registry.Parse(path, f)
}
