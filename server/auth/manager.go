// Package auth 为查询接口提供可选的 API Key / JWT 认证。
// webhook 路由不经过这里, 只校验 HMAC 签名。
package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

var (
	ErrMissingCredentials = errors.New("missing credentials")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidToken       = errors.New("invalid token")
	ErrExpiredToken       = errors.New("expired token")
)

// AuthMethod 认证方法类型
type AuthMethod string

const (
	AuthMethodAPIKey AuthMethod = "apikey"
	AuthMethodJWT    AuthMethod = "jwt"
)

// Principal 认证通过的调用方
type Principal struct {
	Subject string     `json:"subject"`
	Method  AuthMethod `json:"method"`
}

// Authenticator 认证器接口
type Authenticator interface {
	// Credential 从请求中提取凭证, 没有时返回空字符串
	Credential(r *http.Request) string
	// Validate 校验凭证
	Validate(ctx context.Context, credential string) (*Principal, error)
	Method() AuthMethod
}

// Manager 按注册顺序尝试各认证器
type Manager struct {
	authenticators []Authenticator
}

// NewManager 创建认证管理器
func NewManager(authenticators ...Authenticator) *Manager {
	return &Manager{authenticators: authenticators}
}

// Register 注册认证器
func (m *Manager) Register(a Authenticator) {
	m.authenticators = append(m.authenticators, a)
}

// Enabled 是否注册了任何认证器
func (m *Manager) Enabled() bool {
	return m != nil && len(m.authenticators) > 0
}

// Authenticate 使用请求中出现的第一个凭证认证
func (m *Manager) Authenticate(r *http.Request) (*Principal, error) {
	for _, a := range m.authenticators {
		cred := a.Credential(r)
		if cred == "" {
			continue
		}
		return a.Validate(r.Context(), cred)
	}
	return nil, ErrMissingCredentials
}

// 上下文中的调用方
const principalKey = "auth.principal"

// Middleware gin 认证中间件, 未注册认证器时直接放行
func Middleware(m *Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !m.Enabled() {
			c.Next()
			return
		}
		p, err := m.Authenticate(c.Request)
		if err != nil {
			code := "invalid_credentials"
			switch {
			case errors.Is(err, ErrMissingCredentials):
				code = "missing_credentials"
			case errors.Is(err, ErrExpiredToken):
				code = "expired_token"
			case errors.Is(err, ErrInvalidToken):
				code = "invalid_token"
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"error": gin.H{
					"code":    code,
					"message": err.Error(),
				},
			})
			return
		}
		c.Set(principalKey, p)
		c.Next()
	}
}

// PrincipalFrom 读取中间件写入的调用方
func PrincipalFrom(c *gin.Context) (*Principal, bool) {
	v, ok := c.Get(principalKey)
	if !ok {
		return nil, false
	}
	p, ok := v.(*Principal)
	return p, ok
}

// bearerToken 解析 "Authorization: Bearer <token>"
func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
