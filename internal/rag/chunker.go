package rag

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode/utf8"
)

// DefaultSeparators 默认分隔符，按优先级从段落到单字符
var DefaultSeparators = []string{"\n\n", "\n", ". ", " ", ""}

// Chunker 递归字符分块器
// 分隔符保留在前一段末尾，去掉相邻分块的重叠部分后按顺序拼接即可还原原文
type Chunker struct {
	ChunkSize    int      // 分块大小(字符数)
	ChunkOverlap int      // 重叠大小(字符数)
	Separators   []string // 空字符串表示按字符硬切
}

// NewChunker 创建新的分块器
func NewChunker(chunkSize, chunkOverlap int) *Chunker {
	if chunkSize <= 0 {
		chunkSize = 1000
	}
	if chunkOverlap < 0 {
		chunkOverlap = 0
	}
	if chunkOverlap >= chunkSize {
		chunkOverlap = chunkSize / 5
	}

	return &Chunker{
		ChunkSize:    chunkSize,
		ChunkOverlap: chunkOverlap,
		Separators:   DefaultSeparators,
	}
}

// ChunkResult 分块结果，偏移量为原文中的字节位置
type ChunkResult struct {
	Content     string // 分块内容
	ChunkIndex  int    // 分块索引(从0开始)
	StartOffset int    // 起始偏移量
	EndOffset   int    // 结束偏移量(不含)
	ContentHash string // 内容哈希(SHA256)
}

// Split 返回分块文本，空输入返回空切片
func (c *Chunker) Split(text string) []string {
	chunks := c.ChunkDocument(text)
	out := make([]string, len(chunks))
	for i, chunk := range chunks {
		out[i] = chunk.Content
	}
	return out
}

// ChunkDocument 对文档进行分块
func (c *Chunker) ChunkDocument(text string) []*ChunkResult {
	if text == "" {
		return []*ChunkResult{}
	}

	pieces := c.splitRecursive(text, c.separators())

	n := len(pieces)
	lens := make([]int, n)
	offsets := make([]int, n+1)
	for i, p := range pieces {
		lens[i] = utf8.RuneCountInString(p)
		offsets[i+1] = offsets[i] + len(p)
	}

	var chunks []*ChunkResult
	i := 0
	for i < n {
		j, total := i, 0
		for j < n && total+lens[j] <= c.ChunkSize {
			total += lens[j]
			j++
		}
		if j == i {
			// 单个片段超长且没有可用的分隔符
			j = i + 1
		}

		content := text[offsets[i]:offsets[j]]
		chunks = append(chunks, &ChunkResult{
			Content:     content,
			ChunkIndex:  len(chunks),
			StartOffset: offsets[i],
			EndOffset:   offsets[j],
			ContentHash: hashContent(content),
		})
		if j >= n {
			break
		}

		// 下一块从尾部不超过 ChunkOverlap 的片段开始，且至少前进一个片段
		s, tail := j, 0
		for s > i+1 && tail+lens[s-1] <= c.ChunkOverlap {
			tail += lens[s-1]
			s--
		}
		for s < j && tail+lens[j] > c.ChunkSize {
			tail -= lens[s]
			s++
		}
		i = s
	}

	return chunks
}

// Reconstruct 去掉重叠部分后拼接分块，得到原文
func Reconstruct(chunks []*ChunkResult) string {
	var b strings.Builder
	end := 0
	for _, chunk := range chunks {
		if chunk.EndOffset <= end {
			continue
		}
		skip := end - chunk.StartOffset
		if skip < 0 {
			skip = 0
		}
		b.WriteString(chunk.Content[skip:])
		end = chunk.EndOffset
	}
	return b.String()
}

func (c *Chunker) separators() []string {
	if len(c.Separators) == 0 {
		return DefaultSeparators
	}
	return c.Separators
}

// splitRecursive 切成不超过 ChunkSize 的片段，片段按顺序拼接等于输入
func (c *Chunker) splitRecursive(text string, seps []string) []string {
	if utf8.RuneCountInString(text) <= c.ChunkSize {
		return []string{text}
	}

	sep, rest, found := "", []string(nil), false
	for i, s := range seps {
		if s == "" || strings.Contains(text, s) {
			sep, rest, found = s, seps[i+1:], true
			break
		}
	}
	if !found {
		return []string{text}
	}
	if sep == "" {
		return hardCut(text, c.ChunkSize)
	}

	var out []string
	for _, part := range strings.SplitAfter(text, sep) {
		if part == "" {
			continue
		}
		if utf8.RuneCountInString(part) <= c.ChunkSize {
			out = append(out, part)
			continue
		}
		out = append(out, c.splitRecursive(part, rest)...)
	}
	return out
}

// hardCut 按字符数硬切，切点落在字符边界上
func hardCut(text string, size int) []string {
	var out []string
	for len(text) > 0 {
		i, n := 0, 0
		for i < len(text) && n < size {
			_, w := utf8.DecodeRuneInString(text[i:])
			i += w
			n++
		}
		out = append(out, text[:i])
		text = text[i:]
	}
	return out
}

// hashContent 计算内容哈希
func hashContent(content string) string {
	hash := sha256.Sum256([]byte(content))
	return hex.EncodeToString(hash[:])
}
