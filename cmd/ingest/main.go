package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"log"
	"os"
	"path/filepath"

	"zeno/internal/app"
	"zeno/internal/config"
	"zeno/internal/logger"
	"zeno/internal/rag"
)

func main() {
	env := flag.String("env", "dev", "配置环境 dev/prod/test")
	configPath := flag.String("config", "", "配置文件路径，指定后忽略 -env")
	dir := flag.String("dir", "", "待入库的资料目录（递归）")
	batchSize := flag.Int("batch", 20, "每批入库的文件数")
	dryRun := flag.Bool("dry-run", false, "仅列出文件不写入向量库")
	flag.Parse()

	if *dir == "" {
		log.Fatal("必须指定 -dir")
	}

	cfg, err := config.Load(*env, *configPath)
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("配置校验失败: %v", err)
	}
	if err := logger.Init(cfg.Log.Level, cfg.Log.Format, "stderr"); err != nil {
		log.Fatalf("初始化日志失败: %v", err)
	}
	defer logger.Sync()

	if err := run(context.Background(), cfg, *dir, *batchSize, *dryRun); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// run 扫描目录并分批入库，全部文件失败时返回错误
func run(ctx context.Context, cfg *config.Config, dir string, batchSize int, dryRun bool) error {
	application, err := app.New(ctx, cfg, app.WithoutChat())
	if err != nil {
		return fmt.Errorf("初始化组件失败: %w", err)
	}
	defer application.Close(context.Background())

	files, skipped, err := collectFiles(dir, application.Ingestor.Supports)
	if err != nil {
		return fmt.Errorf("扫描目录失败: %w", err)
	}
	for _, path := range skipped {
		fmt.Printf("跳过不支持的文件 %s\n", path)
	}
	if dryRun {
		fmt.Printf("[dry-run] 计划入库 %d 个文件\n", len(files))
		for _, f := range files {
			fmt.Printf("  %s (%d bytes)\n", f.Filename, f.Size)
		}
		return nil
	}

	batchSize = max(batchSize, 1)
	processed, chunks, failed := 0, 0, 0
	for start := 0; start < len(files); start += batchSize {
		end := min(start+batchSize, len(files))
		report, err := application.Ingestor.Ingest(ctx, files[start:end])
		if err != nil {
			return fmt.Errorf("入库失败: %w", err)
		}
		for _, f := range report.Failed {
			fmt.Printf("失败 %s: %s (%s)\n", f.Filename, f.Error, f.Kind)
		}
		processed += len(report.Files)
		chunks += report.TotalChunks
		failed += len(report.Failed)
		fmt.Printf("已处理 %d/%d 个文件\n", end, len(files))
	}

	fmt.Printf("完成：成功 %d 个文件，%d 个分块，失败 %d 个文件\n", processed, chunks, failed)
	if failed > 0 && processed == 0 {
		return fmt.Errorf("全部 %d 个文件入库失败", failed)
	}
	return nil
}

// collectFiles 递归收集支持的文件，按路径字典序返回
func collectFiles(root string, supports func(string) bool) ([]rag.UploadedFile, []string, error) {
	var files []rag.UploadedFile
	var skipped []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if !supports(path) {
			skipped = append(skipped, path)
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		files = append(files, rag.UploadedFile{
			Filename: filepath.Base(path),
			Size:     info.Size(),
			Open: func() (io.ReadCloser, error) {
				return os.Open(path)
			},
		})
		return nil
	})
	return files, skipped, err
}
