package rag

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"zeno/internal/apperr"
	"zeno/internal/logger"
	"zeno/internal/metrics"
	"zeno/internal/rag/parsers"

	"github.com/panjf2000/ants/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// UploadedFile 待入库的文件，Open 每次调用返回新的读取流
type UploadedFile struct {
	Filename string
	Size     int64
	Open     func() (io.ReadCloser, error)
}

// FileResult 单个文件入库成功
type FileResult struct {
	Filename string `json:"filename"`
	Chunks   int    `json:"chunks"`
}

// FileFailure 单个文件入库失败
type FileFailure struct {
	Filename string     `json:"filename"`
	Error    string     `json:"error"`
	Kind     apperr.Kind `json:"kind"`
}

// IngestReport 批量入库结果，条目顺序与输入一致
type IngestReport struct {
	Files       []FileResult  `json:"files"`
	Failed      []FileFailure `json:"failed"`
	TotalChunks int           `json:"totalChunks"`
}

// AllFailed 没有任何文件成功
func (r *IngestReport) AllFailed() bool {
	return len(r.Files) == 0 && len(r.Failed) > 0
}

// IngestorOptions 入库参数
type IngestorOptions struct {
	ChunkSize    int
	ChunkOverlap int
	Workers      int    // 并发处理的文件数，<=1 时顺序处理
	TempDir      string // 上传内容落盘的临时目录，空表示系统默认
}

// Ingestor 文档入库流水线：解析 → 分块 → 向量化 → 写入
type Ingestor struct {
	gateway *Gateway
	parsers *parsers.ParserRegistry
	chunker *Chunker
	workers int
	tempDir string
	now     func() time.Time
}

// NewIngestor 创建入库流水线
func NewIngestor(gateway *Gateway, registry *parsers.ParserRegistry, opts IngestorOptions) *Ingestor {
	if registry == nil {
		registry = parsers.NewParserRegistry()
	}
	workers := opts.Workers
	if workers < 1 {
		workers = 1
	}
	return &Ingestor{
		gateway: gateway,
		parsers: registry,
		chunker: NewChunker(opts.ChunkSize, opts.ChunkOverlap),
		workers: workers,
		tempDir: opts.TempDir,
		now:     time.Now,
	}
}

// Supports 是否支持该文件类型
func (in *Ingestor) Supports(filename string) bool {
	return in.parsers.Supports(filename)
}

// Ingest 逐个文件入库，单个文件失败只记录在报告中，不影响其他文件
// 只有在没有文件或 ctx 被取消时返回错误
func (in *Ingestor) Ingest(ctx context.Context, files []UploadedFile) (*IngestReport, error) {
	if len(files) == 0 {
		return nil, apperr.New(apperr.KindValidation, "no file provided")
	}

	ctx, span := tracer.Start(ctx, "rag.ingest")
	defer span.End()
	span.SetAttributes(attribute.Int("rag.files", len(files)))

	counts := make([]int, len(files))
	errs := make([]error, len(files))
	run := func(i int) {
		counts[i], errs[i] = in.IngestFile(ctx, files[i])
	}

	if in.workers > 1 && len(files) > 1 {
		if err := in.runPooled(len(files), run); err != nil {
			return nil, err
		}
	} else {
		for i := range files {
			if ctx.Err() != nil {
				break
			}
			run(i)
		}
	}
	if err := ctx.Err(); err != nil {
		recordSpanError(span, err)
		return nil, err
	}

	report := &IngestReport{Files: []FileResult{}, Failed: []FileFailure{}}
	for i, f := range files {
		name := filepath.Base(f.Filename)
		if errs[i] != nil {
			report.Failed = append(report.Failed, FileFailure{
				Filename: name,
				Error:    apperr.MessageOf(errs[i]),
				Kind:     apperr.KindOf(errs[i]),
			})
			continue
		}
		report.Files = append(report.Files, FileResult{Filename: name, Chunks: counts[i]})
		report.TotalChunks += counts[i]
	}
	span.SetAttributes(attribute.Int("rag.chunks", report.TotalChunks), attribute.Int("rag.failed", len(report.Failed)))
	return report, nil
}

func (in *Ingestor) runPooled(n int, run func(int)) error {
	pool, err := ants.NewPool(in.workers)
	if err != nil {
		return fmt.Errorf("创建入库协程池失败: %w", err)
	}
	defer pool.Release()

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		i := i
		wg.Add(1)
		if err := pool.Submit(func() {
			defer wg.Done()
			run(i)
		}); err != nil {
			wg.Done()
			wg.Wait()
			return fmt.Errorf("提交入库任务失败: %w", err)
		}
	}
	wg.Wait()
	return nil
}

// IngestFile 处理单个文件，返回写入的分块数
func (in *Ingestor) IngestFile(ctx context.Context, file UploadedFile) (n int, err error) {
	name := filepath.Base(file.Filename)
	log := logger.WithContext(ctx).With(zap.String("filename", name), zap.Int64("size", file.Size))
	start := time.Now()

	defer func() {
		status, kind := "success", ""
		if err != nil {
			status, kind = "error", string(apperr.KindOf(err))
			log.Error("文档入库失败", zap.String("kind", kind), zap.Error(err))
		} else {
			log.Info("文档入库完成", zap.Int("chunks", n), zap.Duration("duration", time.Since(start)))
			metrics.IngestChunksTotal.Add(float64(n))
		}
		metrics.IngestFilesTotal.WithLabelValues(status, kind).Inc()
	}()

	if !in.parsers.Supports(name) {
		return 0, apperr.New(apperr.KindExtraction, "unsupported file type: "+name)
	}
	text, err := in.extract(name, file)
	if err != nil {
		return 0, err
	}

	chunks := in.buildChunks(name, text)
	if len(chunks) == 0 {
		return 0, apperr.New(apperr.KindExtraction, "no text found in "+name)
	}
	if err := in.gateway.Upsert(ctx, chunks); err != nil {
		return 0, err
	}
	return len(chunks), nil
}

// extract 先把上传内容写入临时文件再解析，临时文件在返回前删除
func (in *Ingestor) extract(name string, file UploadedFile) (string, error) {
	src, err := file.Open()
	if err != nil {
		return "", apperr.Wrap(apperr.KindExtraction, "could not read "+name, err)
	}
	defer src.Close()

	tmp, err := os.CreateTemp(in.tempDir, "zeno-upload-*"+strings.ToLower(filepath.Ext(name)))
	if err != nil {
		return "", fmt.Errorf("创建临时文件失败: %w", err)
	}
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
	}()

	if _, err := io.Copy(tmp, src); err != nil {
		return "", apperr.Wrap(apperr.KindExtraction, "could not read "+name, err)
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return "", fmt.Errorf("重置临时文件失败: %w", err)
	}
	return in.parsers.Parse(name, tmp)
}

// buildChunks 切分文本并附加元数据，空白分块被丢弃，序号连续
func (in *Ingestor) buildChunks(name, text string) []*DocumentChunk {
	uploaded := in.now().UTC()

	var pieces []*ChunkResult
	for _, c := range in.chunker.ChunkDocument(text) {
		if strings.TrimSpace(c.Content) != "" {
			pieces = append(pieces, c)
		}
	}

	chunks := make([]*DocumentChunk, len(pieces))
	for i, p := range pieces {
		chunks[i] = &DocumentChunk{
			ID:          ChunkID(name, uploaded, i),
			Text:        p.Content,
			ContentHash: p.ContentHash,
			Metadata: ChunkMetadata{
				Filename:    name,
				UploadTime:  uploaded,
				ChunkIndex:  i,
				ChunkLength: utf8.RuneCountInString(p.Content),
				TotalChunks: len(pieces),
			},
		}
	}
	return chunks
}
