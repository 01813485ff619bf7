package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"zeno/api"
	docs "zeno/api/docs"
	"zeno/internal/app"
	"zeno/internal/config"
	"zeno/internal/logger"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

// @title Zeno API
// @version 1.0
// @description AI 学习助手：基于上传资料的检索增强对话
// @BasePath /
// @schemes http https
func main() {
	// 0. 统一加载 .env，便于集中管理 APP_* 与 OPENAI_API_KEY 等环境变量
	loadEnvFile()

	env := os.Getenv("APP_ENV")
	if env == "" {
		env = "dev"
	}

	// 1. 加载并校验配置，缺少必需项时直接退出
	cfg, err := config.Load(env, os.Getenv("APP_CONFIG"))
	if err != nil {
		fmt.Printf("加载配置失败: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Printf("配置校验失败: %v\n", err)
		os.Exit(1)
	}

	docs.SwaggerInfo.Host = fmt.Sprintf("localhost:%d", cfg.Server.Port)

	// 2. 初始化日志
	if err := logger.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath); err != nil {
		fmt.Printf("初始化日志失败: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("应用启动中...",
		zap.String("env", env),
		zap.String("mode", cfg.Server.Mode),
		zap.String("vector_store", cfg.RAG.VectorStore.Type),
	)

	// 3. 打开向量库、模型和流水线
	startCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	application, err := app.New(startCtx, cfg)
	cancel()
	if err != nil {
		logger.Fatal("初始化组件失败", zap.Error(err))
	}

	// 4. 创建路由
	router := api.SetupRouter(api.Deps{
		Config:   cfg,
		Chat:     application.Chat,
		Ingester: application.Ingestor,
		Backend:  application.Gateway,
		Limiter:  application.Limiter,
	})

	// 5. 创建 HTTP 服务器，WriteTimeout 为 0 时不限制流式回答
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		logger.Info("HTTP 服务器启动", zap.Int("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("HTTP 服务器启动失败", zap.Error(err))
		}
	}()

	// 6. 优雅关闭
	gracefulShutdown(server, application)
}

// loadEnvFile 依次尝试加载当前目录及上级目录的 .env 文件
func loadEnvFile() {
	if path := resolveEnvPath(); path != "" {
		if err := godotenv.Load(path); err != nil {
			fmt.Printf("加载环境变量文件 %s 失败: %v\n", path, err)
		} else {
			fmt.Printf("已加载环境变量文件: %s\n", path)
		}
	} else {
		fmt.Println("未找到 .env 文件，将仅使用系统环境变量和 config/* 配置")
	}
}

// resolveEnvPath 从当前工作目录向上查找 .env
func resolveEnvPath() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for i := 0; i < 8; i++ {
		path := filepath.Join(dir, ".env")
		if _, err := os.Stat(path); err == nil {
			return path
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return ""
}

// gracefulShutdown 等待中断信号，先停止接收请求再释放组件
func gracefulShutdown(server *http.Server, application *app.App) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("正在关闭服务器...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("服务器关闭异常", zap.Error(err))
	}
	if err := application.Close(ctx); err != nil {
		logger.Error("组件关闭异常", zap.Error(err))
	}

	logger.Info("服务器已安全关闭")
}
