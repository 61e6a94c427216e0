// Package appconfig 加载 devtrail 的 YAML 配置。
package appconfig

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// 环境变量覆盖
const (
	EnvDatabaseDSN   = "DEVTRAIL_DATABASE_DSN"
	EnvWebhookSecret = "GITHUB_WEBHOOK_SECRET"
	EnvOpenAIAPIKey  = "OPENAI_API_KEY"
	EnvVectorDSN     = "DEVTRAIL_VECTOR_DSN"
	EnvLogLevel      = "DEVTRAIL_LOG_LEVEL"
)

// ServerConfig HTTP 监听配置
type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	Mode         string        `yaml:"mode"` // "development" | "production"
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
}

// DatabaseConfig 事件存储配置
type DatabaseConfig struct {
	Driver          string        `yaml:"driver"` // "postgres" | "mysql" | "memory"
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	LogLevel        string        `yaml:"log_level"` // gorm: silent | error | warn | info
	AutoMigrate     bool          `yaml:"auto_migrate"`
	// TextSearchConfig postgres 全文检索的语言配置
	TextSearchConfig string `yaml:"text_search_config"`
}

// VectorConfig 向量存储配置
type VectorConfig struct {
	Kind      string `yaml:"kind"` // "memory" | "pgvector" | "none"
	DSN       string `yaml:"dsn,omitempty"`
	Table     string `yaml:"table,omitempty"`
	Dimension int    `yaml:"dimension,omitempty"`
}

// EmbedderConfig 向量化服务配置
type EmbedderConfig struct {
	Kind      string        `yaml:"kind"` // "openai" | "mock" | "none"
	BaseURL   string        `yaml:"base_url,omitempty"`
	Model     string        `yaml:"model,omitempty"`
	APIKey    string        `yaml:"api_key,omitempty"`
	Dimension int           `yaml:"dimension,omitempty"`
	Timeout   time.Duration `yaml:"timeout,omitempty"`
}

// WebhookConfig webhook 接入配置
type WebhookConfig struct {
	Secret string `yaml:"secret"`
	// AllowedRepositories doublestar 模式, 为空表示全部接收
	AllowedRepositories []string `yaml:"allowed_repositories,omitempty"`
	MaxBodyBytes        int64    `yaml:"max_body_bytes"`
}

// SearchConfig 检索调优参数, 支持热更新
type SearchConfig struct {
	RRFK              int           `yaml:"rrf_k"`
	MinRRFScore       float64       `yaml:"min_rrf_score"`
	SemanticThreshold float64       `yaml:"semantic_threshold"`
	SemanticTimeout   time.Duration `yaml:"semantic_timeout"`
	KeywordLimit      int           `yaml:"keyword_limit"`
	SemanticLimit     int           `yaml:"semantic_limit"`
	IndexQueueSize    int           `yaml:"index_queue_size"`
	ResyncBatchSize   int           `yaml:"resync_batch_size"`
}

// LoggingConfig 日志配置
type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file,omitempty"`
}

// TracingConfig OpenTelemetry 配置
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Endpoint     string  `yaml:"endpoint"` // "stdout" 使用控制台导出
	Insecure     bool    `yaml:"insecure"`
	SamplingRate float64 `yaml:"sampling_rate"`
}

// ObservabilityConfig 指标与链路追踪
type ObservabilityConfig struct {
	Metrics bool          `yaml:"metrics"`
	Tracing TracingConfig `yaml:"tracing"`
}

// APIKeyConfig API Key 认证
type APIKeyConfig struct {
	Enabled bool     `yaml:"enabled"`
	Header  string   `yaml:"header"`
	Keys    []string `yaml:"keys"`
}

// JWTConfig JWT 认证
type JWTConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Secret   string `yaml:"secret"`
	Issuer   string `yaml:"issuer"`
	Audience string `yaml:"audience"`
}

// AuthConfig 查询接口认证, webhook 只依赖签名
type AuthConfig struct {
	APIKey APIKeyConfig `yaml:"api_key"`
	JWT    JWTConfig    `yaml:"jwt"`
}

// RateLimitConfig 查询接口限流
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled"`
	RequestsPerMinute int  `yaml:"requests_per_minute"`
	Burst             int  `yaml:"burst"`
}

// Config 顶层配置
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Database      DatabaseConfig      `yaml:"database"`
	Vector        VectorConfig        `yaml:"vector"`
	Embedder      EmbedderConfig      `yaml:"embedder"`
	Webhook       WebhookConfig       `yaml:"webhook"`
	Search        SearchConfig        `yaml:"search"`
	Logging       LoggingConfig       `yaml:"logging"`
	Observability ObservabilityConfig `yaml:"observability"`
	Auth          AuthConfig          `yaml:"auth"`
	RateLimit     RateLimitConfig     `yaml:"rate_limit"`
}

// Default 开发环境默认配置: 内存存储 + mock 向量化
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			Mode:         "development",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
		Database: DatabaseConfig{
			Driver:           "memory",
			MaxOpenConns:     20,
			MaxIdleConns:     5,
			ConnMaxLifetime:  time.Hour,
			LogLevel:         "warn",
			AutoMigrate:      true,
			TextSearchConfig: "english",
		},
		Vector: VectorConfig{
			Kind:      "memory",
			Table:     "object_embeddings",
			Dimension: 1536,
		},
		Embedder: EmbedderConfig{
			Kind:      "mock",
			BaseURL:   "https://api.openai.com",
			Model:     "text-embedding-3-small",
			Dimension: 1536,
			Timeout:   30 * time.Second,
		},
		Webhook: WebhookConfig{
			MaxBodyBytes: 25 << 20,
		},
		Search:  DefaultSearch(),
		Logging: LoggingConfig{Level: "info"},
		Observability: ObservabilityConfig{
			Metrics: true,
			Tracing: TracingConfig{
				Endpoint:     "localhost:4318",
				Insecure:     true,
				SamplingRate: 1.0,
			},
		},
		Auth: AuthConfig{
			APIKey: APIKeyConfig{Header: "X-API-Key"},
			JWT:    JWTConfig{Issuer: "devtrail", Audience: "devtrail-api"},
		},
		RateLimit: RateLimitConfig{
			Enabled:           true,
			RequestsPerMinute: 600,
			Burst:             50,
		},
	}
}

// DefaultSearch 检索默认参数
func DefaultSearch() SearchConfig {
	return SearchConfig{
		RRFK:              60,
		MinRRFScore:       0.01,
		SemanticThreshold: 0.35,
		SemanticTimeout:   5 * time.Second,
		KeywordLimit:      50,
		SemanticLimit:     50,
		IndexQueueSize:    256,
		ResyncBatchSize:   100,
	}
}

// Load 读取 YAML, 叠加默认值与环境变量后校验。
// path 为空时只使用默认值与环境变量。
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config yaml: %w", err)
		}
	}
	cfg.ApplyEnv(os.LookupEnv)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv 用环境变量覆盖敏感或部署相关字段
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvDatabaseDSN); ok && v != "" {
		c.Database.DSN = v
	}
	if v, ok := lookup(EnvWebhookSecret); ok && v != "" {
		c.Webhook.Secret = v
	}
	if v, ok := lookup(EnvOpenAIAPIKey); ok && v != "" {
		c.Embedder.APIKey = v
	}
	if v, ok := lookup(EnvVectorDSN); ok && v != "" {
		c.Vector.DSN = v
	}
	if v, ok := lookup(EnvLogLevel); ok && v != "" {
		c.Logging.Level = v
	}
}

// Validate 校验配置
func (c *Config) Validate() error {
	var errs []error

	switch c.Database.Driver {
	case "memory":
	case "postgres", "mysql":
		if c.Database.DSN == "" {
			errs = append(errs, fmt.Errorf("database.dsn is required for driver %q", c.Database.Driver))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown database.driver %q", c.Database.Driver))
	}

	switch c.Vector.Kind {
	case "memory", "none", "":
	case "pgvector":
		if c.Vector.DSN == "" && c.Database.Driver == "postgres" {
			c.Vector.DSN = c.Database.DSN
		}
		if c.Vector.DSN == "" {
			errs = append(errs, errors.New("vector.dsn is required for pgvector"))
		}
		if c.Vector.Dimension <= 0 {
			errs = append(errs, errors.New("vector.dimension must be positive"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown vector.kind %q", c.Vector.Kind))
	}

	switch c.Embedder.Kind {
	case "openai", "mock", "none", "":
	default:
		errs = append(errs, fmt.Errorf("unknown embedder.kind %q", c.Embedder.Kind))
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if err := c.Search.Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.Auth.JWT.Enabled && c.Auth.JWT.Secret == "" {
		errs = append(errs, errors.New("auth.jwt.secret is required when jwt is enabled"))
	}
	switch strings.ToLower(c.Server.Mode) {
	case "development", "production", "test":
	default:
		errs = append(errs, fmt.Errorf("unknown server.mode %q", c.Server.Mode))
	}

	return errors.Join(errs...)
}

// Validate 校验检索参数
func (s SearchConfig) Validate() error {
	var errs []error
	if s.RRFK <= 0 {
		errs = append(errs, errors.New("search.rrf_k must be positive"))
	}
	if s.MinRRFScore < 0 {
		errs = append(errs, errors.New("search.min_rrf_score must not be negative"))
	}
	if s.SemanticThreshold < 0 || s.SemanticThreshold > 1 {
		errs = append(errs, errors.New("search.semantic_threshold must be within [0,1]"))
	}
	if s.SemanticTimeout <= 0 {
		errs = append(errs, errors.New("search.semantic_timeout must be positive"))
	}
	return errors.Join(errs...)
}
