package server

import (
	"github.com/gin-gonic/gin"

	"github.com/wordflowlab/devtrail/server/auth"
	"github.com/wordflowlab/devtrail/server/handlers"
	"github.com/wordflowlab/devtrail/server/ratelimit"
)

// setupRoutes 注册路由
func (s *Server) setupRoutes() {
	// 健康检查与指标, 无需认证
	s.router.GET("/health", s.healthCheck)
	if s.metrics != nil {
		s.router.GET(s.config.Observability.Metrics.Endpoint, s.metrics.Handler())
	}

	s.registerWebhookRoutes(s.router.Group("/webhooks"))

	api := s.router.Group("/api")
	api.Use(auth.Middleware(s.authManager))
	if s.rateLimiter != nil {
		api.Use(ratelimit.Middleware(ratelimit.Config{Enabled: true}, s.rateLimiter))
	}

	s.registerSearchRoutes(api)
	s.registerTimelineRoutes(api)
	s.registerObjectRoutes(api)
}

// registerWebhookRoutes 注册 webhook 接收端, 以签名认证
func (s *Server) registerWebhookRoutes(rg *gin.RouterGroup) {
	rg.POST("/github", s.webhook.Handle)
}

func (s *Server) registerSearchRoutes(rg *gin.RouterGroup) {
	var recorder handlers.Recorder
	if s.metrics != nil {
		recorder = s.metrics
	}
	h := handlers.NewSearchHandler(s.deps.Search, recorder)

	search := rg.Group("/search")
	{
		search.GET("", h.Lexical)
		search.GET("/semantic", h.Semantic)
		search.GET("/hybrid", h.Hybrid)
	}
}

func (s *Server) registerTimelineRoutes(rg *gin.RouterGroup) {
	h := handlers.NewTimelineHandler(s.deps.Timeline)
	rg.GET("/timeline", h.Get)
}

func (s *Server) registerObjectRoutes(rg *gin.RouterGroup) {
	h := handlers.NewObjectHandler(s.deps.Store)

	objects := rg.Group("/objects")
	{
		objects.GET("/:id", h.Get)
		objects.GET("/:id/history", h.History)
	}
}
