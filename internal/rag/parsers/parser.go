// Package parsers 从上传的文档中提取纯文本
package parsers

import (
	"errors"
	"io"
)

// ErrEmptyDocument 文档中没有可提取的文本
var ErrEmptyDocument = errors.New("文档内容为空或无法解析文本")

// Parser 文档解析器
type Parser interface {
	// Parse 读取文档并返回纯文本，格式损坏时返回错误
	Parse(reader io.Reader) (string, error)

	// SupportedExtensions 支持的扩展名，小写并带点，如 ".pdf"
	SupportedExtensions() []string
}
