package ratelimit

import (
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/wordflowlab/devtrail/server/auth"
)

// Config 速率限制配置
type Config struct {
	Enabled           bool
	RequestsPerMinute int
	Burst             int
	// KeyFunc 自定义 key 提取, 默认优先使用认证主体, 其次客户端 IP
	KeyFunc func(*gin.Context) string
}

// NewLimiterFromConfig 根据配置创建限流器
func NewLimiterFromConfig(config Config) *TokenBucketLimiter {
	return NewTokenBucketLimiter(config.RequestsPerMinute, config.Burst, 10*time.Minute)
}

// DefaultKey 认证主体或客户端 IP
func DefaultKey(c *gin.Context) string {
	if p, ok := auth.PrincipalFrom(c); ok && p.Subject != "" {
		return "principal:" + p.Subject
	}
	return "ip:" + c.ClientIP()
}

// Middleware 创建速率限制中间件
func Middleware(config Config, limiter Limiter) gin.HandlerFunc {
	if !config.Enabled || limiter == nil {
		return func(c *gin.Context) {
			c.Next()
		}
	}

	keyFunc := config.KeyFunc
	if keyFunc == nil {
		keyFunc = DefaultKey
	}

	return func(c *gin.Context) {
		allowed, info := limiter.Allow(keyFunc(c))
		c.Header("X-RateLimit-Limit", strconv.Itoa(info.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(info.Remaining))

		if !allowed {
			retry := int(math.Ceil(info.RetryAfter.Seconds()))
			if retry < 1 {
				retry = 1
			}
			c.Header("Retry-After", strconv.Itoa(retry))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"success": false,
				"error": gin.H{
					"code":        "rate_limit_exceeded",
					"message":     "Too many requests. Please try again later.",
					"retry_after": retry,
				},
			})
			return
		}
		c.Next()
	}
}
