package rag

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

const citationPreviewRunes = 120

// Citations 从检索结果生成来源列表，顺序与检索结果一致
func Citations(results []*RetrievalResult) []SourceCitation {
	out := make([]SourceCitation, 0, len(results))
	for _, r := range results {
		if r == nil || r.Chunk == nil {
			continue
		}
		m := r.Chunk.Metadata
		out = append(out, SourceCitation{
			Filename:       m.Filename,
			ChunkIndex:     m.ChunkIndex,
			TotalChunks:    m.TotalChunks,
			ContentPreview: preview(r.Chunk.Text, citationPreviewRunes),
		})
	}
	return out
}

// FormatSources 渲染追加在回答末尾的来源块，没有来源时返回空串
//
//	\n\nSources:\n1. notes.pdf (1/3)\n2. ...
func FormatSources(citations []SourceCitation) string {
	if len(citations) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("\n\nSources:")
	for i, c := range citations {
		fmt.Fprintf(&b, "\n%d. %s (%d/%d)", i+1, c.Filename, c.ChunkIndex+1, c.TotalChunks)
	}
	return b.String()
}

func preview(text string, limit int) string {
	text = strings.Join(strings.Fields(text), " ")
	if utf8.RuneCountInString(text) <= limit {
		return text
	}
	r := []rune(text)
	return string(r[:limit]) + "..."
}
