package rag

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// chunkIDNamespace 用于从文件名、上传时间和分块序号派生稳定的分块 ID
var chunkIDNamespace = uuid.MustParse("6f1c0f7e-3b0a-4d8e-9a57-1d8f0b7f2c11")

// ChunkMetadata 分块元数据，同一次上传的分块共享 Filename 与 UploadTime
type ChunkMetadata struct {
	Filename    string    `json:"filename" bson:"filename"`
	UploadTime  time.Time `json:"uploadTime" bson:"uploadTime"`
	ChunkIndex  int       `json:"chunkIndex" bson:"chunkIndex"`
	ChunkLength int       `json:"chunkLength" bson:"chunkLength"` // 字符数
	TotalChunks int       `json:"totalChunks" bson:"totalChunks"`
}

// Validate 校验 ChunkIndex < TotalChunks
func (m ChunkMetadata) Validate() error {
	if m.TotalChunks <= 0 || m.ChunkIndex < 0 || m.ChunkIndex >= m.TotalChunks {
		return fmt.Errorf("分块序号非法: %d/%d", m.ChunkIndex, m.TotalChunks)
	}
	return nil
}

// DocumentChunk 入库后的文档片段，创建后不再修改
type DocumentChunk struct {
	ID          string        `json:"id"`
	Text        string        `json:"text"`
	Embedding   []float32     `json:"embedding,omitempty"`
	ContentHash string        `json:"contentHash"`
	Metadata    ChunkMetadata `json:"metadata"`
}

// ChunkID 生成稳定的分块 ID，重复写入同一分块会覆盖而不是新增
func ChunkID(filename string, uploadTime time.Time, chunkIndex int) string {
	key := fmt.Sprintf("%s|%s|%d", filename, uploadTime.UTC().Format(time.RFC3339Nano), chunkIndex)
	return uuid.NewSHA1(chunkIDNamespace, []byte(key)).String()
}

// RetrievalResult 检索结果，按相关度降序排列
type RetrievalResult struct {
	Chunk *DocumentChunk `json:"chunk"`
	Score float64        `json:"score"`
}

// SourceCitation 回答末尾展示的来源信息，不落库
type SourceCitation struct {
	Filename       string `json:"filename"`
	ChunkIndex     int    `json:"chunkIndex"`
	TotalChunks    int    `json:"totalChunks"`
	ContentPreview string `json:"contentPreview"`
}

// Strategy 检索策略
type Strategy string

const (
	StrategySimilarity Strategy = "similarity"
	StrategyMMR        Strategy = "mmr"
)

// SearchOptions 检索参数
type SearchOptions struct {
	Strategy Strategy
	FetchK   int     // MMR 预取数量，不小于 k
	Lambda   float64 // MMR 相关性权重，1 表示只看相关性
}
