package observability

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/wordflowlab/devtrail"
)

// StdoutEndpoint 使用控制台导出器
const StdoutEndpoint = "stdout"

// TracingConfig 追踪配置
type TracingConfig struct {
	Enabled        bool
	ServiceName    string
	ServiceVersion string
	Environment    string

	// Endpoint OTLP HTTP 地址, 如 "localhost:4318"; "stdout" 输出到 Writer
	Endpoint string
	Insecure bool
	// Writer stdout 导出器的输出, 默认 os.Stdout
	Writer io.Writer

	SamplingRate float64 // 0.0 - 1.0
}

// TracingManager 追踪管理器
type TracingManager struct {
	config   TracingConfig
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
}

// NewTracingManager 创建追踪管理器并设置全局 TracerProvider。
// 未启用时返回的管理器所有方法均为空操作。
func NewTracingManager(config TracingConfig) (*TracingManager, error) {
	if !config.Enabled {
		return &TracingManager{config: config}, nil
	}

	if config.ServiceName == "" {
		config.ServiceName = "devtrail"
	}
	if config.ServiceVersion == "" {
		config.ServiceVersion = devtrail.Version
	}
	if config.Environment == "" {
		config.Environment = "development"
	}
	if config.Endpoint == "" {
		config.Endpoint = "localhost:4318"
	}
	if config.SamplingRate <= 0 {
		config.SamplingRate = 1.0
	}

	exporter, err := newExporter(config)
	if err != nil {
		return nil, err
	}

	res, err := resource.New(
		context.Background(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String(config.ServiceName),
			semconv.ServiceVersionKey.String(config.ServiceVersion),
			semconv.DeploymentEnvironmentKey.String(config.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(config.SamplingRate))),
	)

	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return &TracingManager{
		config:   config,
		provider: provider,
		tracer:   provider.Tracer(config.ServiceName),
	}, nil
}

func newExporter(config TracingConfig) (sdktrace.SpanExporter, error) {
	if config.Endpoint == StdoutEndpoint {
		w := config.Writer
		if w == nil {
			w = os.Stdout
		}
		exporter, err := stdouttrace.New(stdouttrace.WithWriter(w))
		if err != nil {
			return nil, fmt.Errorf("failed to create stdout exporter: %w", err)
		}
		return exporter, nil
	}

	opts := []otlptracehttp.Option{
		otlptracehttp.WithEndpoint(config.Endpoint),
	}
	if config.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	exporter, err := otlptracehttp.New(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
	}
	return exporter, nil
}

// Enabled 是否启用
func (t *TracingManager) Enabled() bool {
	return t != nil && t.provider != nil
}

// Middleware 返回 Gin 追踪中间件
func (t *TracingManager) Middleware() gin.HandlerFunc {
	if !t.Enabled() {
		return func(c *gin.Context) {
			c.Next()
		}
	}
	return otelgin.Middleware(t.config.ServiceName, otelgin.WithTracerProvider(t.provider))
}

// Tracer 返回 tracer 实例, 未启用时使用全局 provider
func (t *TracingManager) Tracer() trace.Tracer {
	if t.tracer == nil {
		return otel.Tracer("devtrail")
	}
	return t.tracer
}

// Shutdown 刷新并关闭追踪提供者
func (t *TracingManager) Shutdown(ctx context.Context) error {
	if t.provider != nil {
		return t.provider.Shutdown(ctx)
	}
	return nil
}

// TraceID 获取当前 trace ID, 无 span 时返回空字符串
func TraceID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return ""
	}
	return sc.TraceID().String()
}
