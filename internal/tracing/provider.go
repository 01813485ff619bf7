// Package tracing 初始化 OpenTelemetry 链路追踪
package tracing

import (
	"context"
	"fmt"
	"io"
	"os"

	"zeno/internal/config"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
)

// 导出器类型
const (
	ExporterOTLPHTTP = "otlp_http"
	ExporterStdout   = "stdout"
)

// Provider 管理 TracerProvider 生命周期
type Provider struct {
	tp *sdktrace.TracerProvider
}

// NewProvider 按配置创建并注册全局 TracerProvider
// 未启用时返回空 Provider，全局 tracer 保持 no-op
func NewProvider(ctx context.Context, cfg config.TracingConfig) (*Provider, error) {
	return newProvider(ctx, cfg, os.Stdout)
}

func newProvider(ctx context.Context, cfg config.TracingConfig, stdout io.Writer) (*Provider, error) {
	if !cfg.Enabled {
		return &Provider{}, nil
	}

	exporter, err := newExporter(ctx, cfg, stdout)
	if err != nil {
		return nil, fmt.Errorf("创建链路导出器失败: %w", err)
	}

	name := cfg.ProjectName
	if name == "" {
		name = "zeno"
	}
	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName(name)))
	if err != nil {
		return nil, fmt.Errorf("创建链路资源失败: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(newSampler(cfg.SampleRate)),
		sdktrace.WithBatcher(exporter),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return &Provider{tp: tp}, nil
}

// Enabled 是否真正导出链路
func (p *Provider) Enabled() bool {
	return p.tp != nil
}

// Shutdown 刷新并关闭导出器
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.tp == nil {
		return nil
	}
	return p.tp.Shutdown(ctx)
}

func newExporter(ctx context.Context, cfg config.TracingConfig, stdout io.Writer) (sdktrace.SpanExporter, error) {
	switch cfg.Exporter {
	case ExporterOTLPHTTP, "":
		opts := []otlptracehttp.Option{}
		if cfg.Endpoint != "" {
			opts = append(opts, otlptracehttp.WithEndpointURL(cfg.Endpoint))
		}
		if cfg.Insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		if headers := exportHeaders(cfg); len(headers) > 0 {
			opts = append(opts, otlptracehttp.WithHeaders(headers))
		}
		return otlptrace.New(ctx, otlptracehttp.NewClient(opts...))
	case ExporterStdout:
		return stdouttrace.New(stdouttrace.WithWriter(stdout))
	default:
		return nil, fmt.Errorf("不支持的导出器类型: %s", cfg.Exporter)
	}
}

// exportHeaders 追踪服务的鉴权头
func exportHeaders(cfg config.TracingConfig) map[string]string {
	headers := map[string]string{}
	if cfg.APIKey != "" {
		headers["x-api-key"] = cfg.APIKey
	}
	return headers
}

func newSampler(rate float64) sdktrace.Sampler {
	switch {
	case rate <= 0:
		return sdktrace.ParentBased(sdktrace.NeverSample())
	case rate >= 1:
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	default:
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(rate))
	}
}
