package parsers

import (
	"fmt"
	"io"
	"strings"
	"unicode/utf8"
)

// TextParser 纯文本与 Markdown 解析器
type TextParser struct{}

// NewTextParser 创建文本解析器
func NewTextParser() *TextParser {
	return &TextParser{}
}

// Parse 读取 UTF-8 文本，去掉 BOM 并统一换行符
func (p *TextParser) Parse(reader io.Reader) (string, error) {
	content, err := io.ReadAll(reader)
	if err != nil {
		return "", fmt.Errorf("读取文件失败: %w", err)
	}
	if !utf8.Valid(content) {
		return "", fmt.Errorf("文件不是有效的 UTF-8 文本")
	}

	text := strings.TrimPrefix(string(content), "\ufeff")
	text = strings.ReplaceAll(text, "\r\n", "\n")
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyDocument
	}
	return text, nil
}

// SupportedExtensions 支持的文件扩展名
func (p *TextParser) SupportedExtensions() []string {
	return []string{".txt", ".md", ".markdown"}
}
