package parsers

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"zeno/internal/logger"

	"github.com/dslipak/pdf"
	"go.uber.org/zap"
)

// PDFParser PDF 文件解析器，页与页之间以空行分隔
type PDFParser struct{}

// NewPDFParser 创建 PDF 解析器
func NewPDFParser() *PDFParser {
	return &PDFParser{}
}

// Parse 解析 PDF 文件
// reader 同时实现 io.ReaderAt 和 io.Seeker 时（如 *os.File）不会整体读入内存
func (p *PDFParser) Parse(reader io.Reader) (text string, err error) {
	ra, size, err := readerAt(reader)
	if err != nil {
		return "", err
	}

	// 损坏的文件可能让底层库 panic
	defer func() {
		if rec := recover(); rec != nil {
			text, err = "", fmt.Errorf("PDF 文件已损坏: %v", rec)
		}
	}()

	r, err := pdf.NewReader(ra, size)
	if err != nil {
		return "", fmt.Errorf("打开 PDF 失败: %w", err)
	}

	pages := make([]string, 0, r.NumPage())
	for i := 1; i <= r.NumPage(); i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		content, err := page.GetPlainText(nil)
		if err != nil {
			logger.Warn("解析 PDF 页面失败", zap.Int("page", i), zap.Error(err))
			continue
		}
		if content = strings.TrimSpace(content); content != "" {
			pages = append(pages, content)
		}
	}

	if len(pages) == 0 {
		return "", ErrEmptyDocument
	}
	return strings.Join(pages, "\n\n"), nil
}

func readerAt(reader io.Reader) (io.ReaderAt, int64, error) {
	if rs, ok := reader.(interface {
		io.ReaderAt
		io.Seeker
	}); ok {
		size, err := rs.Seek(0, io.SeekEnd)
		if err == nil {
			return rs, size, nil
		}
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, 0, fmt.Errorf("读取文件失败: %w", err)
	}
	return bytes.NewReader(data), int64(len(data)), nil
}

// SupportedExtensions 支持的文件扩展名
func (p *PDFParser) SupportedExtensions() []string {
	return []string{".pdf"}
}
