package parsers

import (
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"

	"zeno/internal/apperr"
)

// ParserRegistry 按扩展名选择解析器
type ParserRegistry struct {
	byExt map[string]Parser
}

// NewParserRegistry 创建注册了默认解析器的注册表
func NewParserRegistry() *ParserRegistry {
	r := &ParserRegistry{byExt: make(map[string]Parser)}
	r.Register(NewPDFParser())
	r.Register(NewTextParser())
	r.Register(NewDocxParser())
	return r
}

// Register 注册解析器，后注册的覆盖同扩展名的旧解析器
func (r *ParserRegistry) Register(p Parser) {
	for _, ext := range p.SupportedExtensions() {
		r.byExt[strings.ToLower(ext)] = p
	}
}

// Supports 是否支持该文件名
func (r *ParserRegistry) Supports(fileName string) bool {
	_, ok := r.byExt[strings.ToLower(filepath.Ext(fileName))]
	return ok
}

// Extensions 已注册的扩展名
func (r *ParserRegistry) Extensions() []string {
	exts := make([]string, 0, len(r.byExt))
	for ext := range r.byExt {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}

// Parse 选择解析器提取文本，失败统一返回 extraction 错误
func (r *ParserRegistry) Parse(fileName string, reader io.Reader) (string, error) {
	ext := strings.ToLower(filepath.Ext(fileName))
	p, ok := r.byExt[ext]
	if !ok {
		return "", apperr.New(apperr.KindExtraction, fmt.Sprintf("unsupported file type %q", ext))
	}
	text, err := p.Parse(reader)
	if err != nil {
		return "", apperr.Wrap(apperr.KindExtraction, "could not extract text from "+filepath.Base(fileName), err)
	}
	return text, nil
}
