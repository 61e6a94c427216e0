package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/wordflowlab/devtrail"
	"github.com/wordflowlab/devtrail/pkg/logging"
	"github.com/wordflowlab/devtrail/pkg/search"
	"github.com/wordflowlab/devtrail/pkg/semantic"
	"github.com/wordflowlab/devtrail/pkg/store"
	"github.com/wordflowlab/devtrail/pkg/timeline"
	"github.com/wordflowlab/devtrail/server/auth"
	"github.com/wordflowlab/devtrail/server/handlers"
	"github.com/wordflowlab/devtrail/server/observability"
	"github.com/wordflowlab/devtrail/server/ratelimit"
)

// Server devtrail HTTP 服务: webhook 接入与查询 API
type Server struct {
	config *Config
	router *gin.Engine
	server *http.Server
	deps   *Dependencies

	webhook *handlers.WebhookHandler

	// 认证与可观测性
	authManager   *auth.Manager
	metrics       *observability.MetricsManager
	healthChecker *observability.HealthChecker
	tracing       *observability.TracingManager
	rateLimiter   *ratelimit.TokenBucketLimiter
}

// Dependencies 服务依赖
type Dependencies struct {
	Store    store.Store
	Ingestor handlers.Ingester
	Search   *search.Service
	Timeline *timeline.Service
	// Indexer 可选, 设置后 /health 检查其向量存储
	Indexer *semantic.Indexer
}

// New 创建 Server, config 为 nil 时使用 DefaultConfig
func New(config *Config, deps *Dependencies, opts ...Option) (*Server, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if deps == nil {
		return nil, fmt.Errorf("dependencies cannot be nil")
	}
	if deps.Store == nil || deps.Ingestor == nil || deps.Search == nil || deps.Timeline == nil {
		return nil, fmt.Errorf("store, ingestor, search and timeline are required")
	}

	switch config.Mode {
	case "production":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.DebugMode)
	}

	s := &Server{
		config: config,
		router: gin.New(),
		deps:   deps,
	}
	// 对象 ID 含 '/', 客户端以 %2F 转义
	s.router.UseRawPath = true
	s.router.UnescapePathValues = true

	s.initializeAuthAndObservability()

	for _, opt := range opts {
		opt(s)
	}

	s.setupMiddleware()
	s.setupRoutes()

	// 在 New 中创建, Start 与 Stop 可在不同 goroutine 中调用
	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", config.Host, config.Port),
		Handler:      s.router,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  config.IdleTimeout,
	}

	return s, nil
}

// initializeAuthAndObservability 初始化认证与可观测性组件
func (s *Server) initializeAuthAndObservability() {
	s.authManager = auth.NewManager()
	if s.config.Auth.APIKey.Enabled {
		s.authManager.Register(auth.NewAPIKeyAuthenticator(s.config.Auth.APIKey.HeaderName, s.config.Auth.APIKey.Keys))
	}
	if s.config.Auth.JWT.Enabled {
		s.authManager.Register(auth.NewJWTAuthenticator(auth.JWTConfig{
			SecretKey: s.config.Auth.JWT.Secret,
			Issuer:    s.config.Auth.JWT.Issuer,
			Audience:  s.config.Auth.JWT.Audience,
		}))
	}

	if s.config.Observability.Metrics.Enabled {
		s.metrics = observability.NewMetricsManager("devtrail")
	}

	s.healthChecker = observability.NewHealthChecker(devtrail.Version)
	s.healthChecker.RegisterCheck(observability.NewFuncCheck("store", s.deps.Store.Ping))
	if ix := s.deps.Indexer; ix != nil && ix.Enabled() {
		// 向量存储不可用只影响混合与语义搜索
		s.healthChecker.RegisterOptional(observability.NewFuncCheck("vector", ix.Ping))
	}

	if s.config.RateLimit.Enabled {
		s.rateLimiter = ratelimit.NewLimiterFromConfig(ratelimit.Config{
			Enabled:           true,
			RequestsPerMinute: s.config.RateLimit.RequestsPerMinute,
			Burst:             s.config.RateLimit.Burst,
		})
	}

	if s.config.Observability.Tracing.Enabled {
		tc := s.config.Observability.Tracing
		tracing, err := observability.NewTracingManager(observability.TracingConfig{
			Enabled:        true,
			ServiceName:    tc.ServiceName,
			ServiceVersion: tc.ServiceVersion,
			Environment:    tc.Environment,
			Endpoint:       tc.Endpoint,
			Insecure:       tc.Insecure,
			SamplingRate:   tc.SamplingRate,
		})
		if err != nil {
			// 追踪初始化失败不阻止启动
			logging.Warn(context.Background(), "server.tracing_disabled", map[string]interface{}{
				"error": err.Error(),
			})
		} else {
			s.tracing = tracing
		}
	}

	var recorder handlers.Recorder
	if s.metrics != nil {
		recorder = s.metrics
	}
	s.webhook = handlers.NewWebhookHandler(s.deps.Ingestor, s.config.Webhook.Secret, s.config.Webhook.MaxBodyBytes, recorder)
}

// setupMiddleware 注册中间件
func (s *Server) setupMiddleware() {
	s.router.Use(recoveryMiddleware())
	s.router.Use(requestIDMiddleware())

	// 追踪中间件需靠前
	if s.tracing != nil {
		s.router.Use(s.tracing.Middleware())
	}

	s.router.Use(structuredLoggingMiddleware(s.config.Logging))

	if s.config.CORS.Enabled {
		s.router.Use(corsMiddleware(s.config.CORS))
	}

	if s.metrics != nil {
		s.router.Use(s.metrics.Middleware())
	}
}

// Start 启动 HTTP 服务并阻塞到服务停止。
// Stop 之后 (包括先于 Start 调用) 返回 nil。
func (s *Server) Start() error {
	logging.Info(context.Background(), "server.starting", map[string]interface{}{
		"addr":    s.server.Addr,
		"mode":    s.config.Mode,
		"version": devtrail.Version,
		"tls":     s.config.TLS.Enabled,
		"metrics": s.metrics != nil,
		"tracing": s.tracing != nil,
	})

	var err error
	if s.config.TLS.Enabled {
		err = s.server.ListenAndServeTLS(s.config.TLS.CertFile, s.config.TLS.KeyFile)
	} else {
		err = s.server.ListenAndServe()
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop 优雅关闭 HTTP 服务, 可重复调用
func (s *Server) Stop(ctx context.Context) error {
	if s.rateLimiter != nil {
		s.rateLimiter.Close()
	}
	if s.tracing != nil {
		if err := s.tracing.Shutdown(ctx); err != nil {
			logging.Warn(ctx, "server.tracing_shutdown_failed", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}
	logging.Info(ctx, "server.stopping", nil)
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	logging.Info(ctx, "server.stopped", nil)
	return nil
}

// Router 返回底层 Gin 路由
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Metrics 返回指标管理器, 未启用时为 nil
func (s *Server) Metrics() *observability.MetricsManager {
	return s.metrics
}

// SetWebhookSecret 热更新 webhook 密钥
func (s *Server) SetWebhookSecret(secret string) {
	s.webhook.SetSecret(secret)
}

// healthCheck 仅在关键依赖不可用时返回 503
func (s *Server) healthCheck(c *gin.Context) {
	info := s.healthChecker.Check(c.Request.Context())
	status := http.StatusOK
	if info.Status == observability.HealthStatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, info)
}
