package server

import (
	"time"

	"github.com/wordflowlab/devtrail"
	"github.com/wordflowlab/devtrail/pkg/appconfig"
)

// Config HTTP 服务配置
type Config struct {
	Host string
	Port int
	Mode string // development / production / test

	CORS          CORSConfig
	Auth          AuthConfig
	RateLimit     RateLimitConfig
	Logging       LoggingConfig
	Observability ObservabilityConfig
	Webhook       WebhookConfig

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	TLS TLSConfig
}

// CORSConfig 跨域配置
type CORSConfig struct {
	Enabled          bool
	AllowOrigins     []string
	AllowMethods     []string
	AllowHeaders     []string
	ExposeHeaders    []string
	AllowCredentials bool
	MaxAge           int
}

// AuthConfig 查询 API 的认证配置, webhook 只校验签名
type AuthConfig struct {
	APIKey APIKeyConfig
	JWT    JWTConfig
}

// APIKeyConfig API Key 认证
type APIKeyConfig struct {
	Enabled    bool
	HeaderName string
	Keys       []string
}

// JWTConfig JWT 认证
type JWTConfig struct {
	Enabled  bool
	Secret   string
	Issuer   string
	Audience string
}

// RateLimitConfig /api 限流配置
type RateLimitConfig struct {
	Enabled           bool
	RequestsPerMinute int
	Burst             int
}

// LoggingConfig 请求日志配置
type LoggingConfig struct {
	// SkipPaths 不记录日志的路径, 如健康检查
	SkipPaths []string
}

// ObservabilityConfig 可观测性配置
type ObservabilityConfig struct {
	Metrics MetricsConfig
	Tracing TracingConfig
}

// MetricsConfig 指标配置
type MetricsConfig struct {
	Enabled  bool
	Endpoint string
}

// TracingConfig 追踪配置
type TracingConfig struct {
	Enabled        bool
	ServiceName    string
	ServiceVersion string
	Environment    string
	Endpoint       string  // OTLP 地址 (如 "localhost:4318") 或 "stdout"
	Insecure       bool    // 不使用 TLS
	SamplingRate   float64 // 0.0 - 1.0
}

// WebhookConfig webhook 接收配置
type WebhookConfig struct {
	Secret       string
	MaxBodyBytes int64
}

// TLSConfig TLS 配置
type TLSConfig struct {
	Enabled  bool
	CertFile string
	KeyFile  string
}

// DefaultConfig 开发环境默认配置
func DefaultConfig() *Config {
	return &Config{
		Host: "0.0.0.0",
		Port: 8080,
		Mode: "development",
		CORS: CORSConfig{
			Enabled:       true,
			AllowOrigins:  []string{"*"},
			AllowMethods:  []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization", "X-API-Key"},
			ExposeHeaders: []string{"Content-Length", "X-Request-ID"},
			MaxAge:        86400,
		},
		Auth: AuthConfig{
			APIKey: APIKeyConfig{HeaderName: "X-API-Key"},
			JWT:    JWTConfig{Issuer: "devtrail", Audience: "devtrail-api"},
		},
		RateLimit: RateLimitConfig{
			Enabled:           true,
			RequestsPerMinute: 600,
			Burst:             50,
		},
		Logging: LoggingConfig{
			SkipPaths: []string{"/health", "/metrics"},
		},
		Observability: ObservabilityConfig{
			Metrics: MetricsConfig{
				Enabled:  true,
				Endpoint: "/metrics",
			},
			Tracing: TracingConfig{
				ServiceName:    "devtrail",
				ServiceVersion: devtrail.Version,
				Environment:    "development",
				Endpoint:       "localhost:4318",
				Insecure:       true,
				SamplingRate:   1.0,
			},
		},
		Webhook: WebhookConfig{
			MaxBodyBytes: 25 << 20,
		},
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
}

// FromAppConfig 将配置文件映射为服务配置
func FromAppConfig(app *appconfig.Config) *Config {
	config := DefaultConfig()
	config.Host = app.Server.Host
	config.Port = app.Server.Port
	config.Mode = app.Server.Mode
	if app.Server.ReadTimeout > 0 {
		config.ReadTimeout = app.Server.ReadTimeout
	}
	if app.Server.WriteTimeout > 0 {
		config.WriteTimeout = app.Server.WriteTimeout
	}
	if app.Server.IdleTimeout > 0 {
		config.IdleTimeout = app.Server.IdleTimeout
	}

	config.Auth.APIKey = APIKeyConfig{
		Enabled:    app.Auth.APIKey.Enabled,
		HeaderName: app.Auth.APIKey.Header,
		Keys:       app.Auth.APIKey.Keys,
	}
	config.Auth.JWT = JWTConfig{
		Enabled:  app.Auth.JWT.Enabled,
		Secret:   app.Auth.JWT.Secret,
		Issuer:   app.Auth.JWT.Issuer,
		Audience: app.Auth.JWT.Audience,
	}
	config.RateLimit = RateLimitConfig{
		Enabled:           app.RateLimit.Enabled,
		RequestsPerMinute: app.RateLimit.RequestsPerMinute,
		Burst:             app.RateLimit.Burst,
	}

	config.Observability.Metrics.Enabled = app.Observability.Metrics
	tr := app.Observability.Tracing
	config.Observability.Tracing.Enabled = tr.Enabled
	config.Observability.Tracing.Endpoint = tr.Endpoint
	config.Observability.Tracing.Insecure = tr.Insecure
	config.Observability.Tracing.SamplingRate = tr.SamplingRate
	config.Observability.Tracing.Environment = app.Server.Mode

	config.Webhook = WebhookConfig{
		Secret:       app.Webhook.Secret,
		MaxBodyBytes: app.Webhook.MaxBodyBytes,
	}
	if config.Webhook.MaxBodyBytes <= 0 {
		config.Webhook.MaxBodyBytes = 25 << 20
	}
	return config
}

// ProductionConfig 生产环境配置
func ProductionConfig() *Config {
	config := DefaultConfig()
	config.Mode = "production"
	config.CORS.Enabled = false
	config.Auth.APIKey.Enabled = true
	config.Observability.Tracing.Enabled = true
	config.Observability.Tracing.Environment = "production"
	config.Observability.Tracing.SamplingRate = 0.1
	return config
}
