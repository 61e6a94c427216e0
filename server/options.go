package server

import (
	"github.com/gin-gonic/gin"

	"github.com/wordflowlab/devtrail/server/observability"
)

// Option Server 配置项
type Option func(*Server)

// WithCustomRouter 在 Gin 路由上追加自定义路由
func WithCustomRouter(setupFunc func(*Server)) Option {
	return func(s *Server) {
		setupFunc(s)
	}
}

// WithMiddleware 在内置中间件之前添加自定义中间件
func WithMiddleware(middlewares ...gin.HandlerFunc) Option {
	return func(s *Server) {
		s.router.Use(middlewares...)
	}
}

// WithHealthCheck 在 /health 注册额外的依赖检查。
// 非关键检查失败只会使状态降级。
func WithHealthCheck(check observability.HealthCheck, critical bool) Option {
	return func(s *Server) {
		if critical {
			s.healthChecker.RegisterCheck(check)
			return
		}
		s.healthChecker.RegisterOptional(check)
	}
}
