package parsers

import (
	"archive/zip"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
)

// DocxParser Word 文档解析器（.docx）
// .docx 是 ZIP 包，正文位于 word/document.xml
type DocxParser struct{}

// NewDocxParser 创建 DOCX 解析器
func NewDocxParser() *DocxParser {
	return &DocxParser{}
}

// Parse 解析 DOCX 文档，每个段落一行
func (p *DocxParser) Parse(reader io.Reader) (string, error) {
	ra, size, err := readerAt(reader)
	if err != nil {
		return "", err
	}
	zr, err := zip.NewReader(ra, size)
	if err != nil {
		return "", fmt.Errorf("打开 DOCX 失败: %w", err)
	}

	var doc *zip.File
	for _, f := range zr.File {
		if f.Name == "word/document.xml" {
			doc = f
			break
		}
	}
	if doc == nil {
		return "", fmt.Errorf("无效的 DOCX 文件：找不到 document.xml")
	}

	rc, err := doc.Open()
	if err != nil {
		return "", fmt.Errorf("打开 document.xml 失败: %w", err)
	}
	defer rc.Close()

	text, err := extractDocxText(rc)
	if err != nil {
		return "", fmt.Errorf("解析文档内容失败: %w", err)
	}
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyDocument
	}
	return text, nil
}

// extractDocxText 流式读取 WordprocessingML，w:t 为文本，w:tab/w:br 转为空白
func extractDocxText(r io.Reader) (string, error) {
	dec := xml.NewDecoder(r)
	var (
		out    strings.Builder
		para   strings.Builder
		inText bool
	)
	flush := func() {
		line := strings.TrimSpace(para.String())
		para.Reset()
		if line == "" {
			return
		}
		if out.Len() > 0 {
			out.WriteByte('\n')
		}
		out.WriteString(line)
	}

	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "t":
				inText = true
			case "tab":
				para.WriteByte('\t')
			case "br", "cr":
				para.WriteByte('\n')
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				flush()
			}
		case xml.CharData:
			if inText {
				para.Write(t)
			}
		}
	}
	flush()
	return out.String(), nil
}

// SupportedExtensions 支持的扩展名
func (p *DocxParser) SupportedExtensions() []string {
	return []string{".docx"}
}
