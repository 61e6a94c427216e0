package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
)

// DefaultAPIKeyHeader API Key 请求头
const DefaultAPIKeyHeader = "X-API-Key"

// APIKeyAuthenticator 静态 API Key 认证器, 只保存 key 的摘要
type APIKeyAuthenticator struct {
	header  string
	digests [][sha256.Size]byte
}

// NewAPIKeyAuthenticator 创建 API Key 认证器, 空 key 被忽略
func NewAPIKeyAuthenticator(header string, keys []string) *APIKeyAuthenticator {
	if header == "" {
		header = DefaultAPIKeyHeader
	}
	a := &APIKeyAuthenticator{header: header}
	for _, k := range keys {
		if k != "" {
			a.digests = append(a.digests, sha256.Sum256([]byte(k)))
		}
	}
	return a
}

// Method 返回认证方法类型
func (a *APIKeyAuthenticator) Method() AuthMethod {
	return AuthMethodAPIKey
}

// Credential 读取 API Key 请求头
func (a *APIKeyAuthenticator) Credential(r *http.Request) string {
	return r.Header.Get(a.header)
}

// Validate 常量时间比较摘要
func (a *APIKeyAuthenticator) Validate(_ context.Context, key string) (*Principal, error) {
	if key == "" {
		return nil, ErrMissingCredentials
	}
	sum := sha256.Sum256([]byte(key))
	matched := 0
	for _, d := range a.digests {
		matched |= subtle.ConstantTimeCompare(sum[:], d[:])
	}
	if matched != 1 {
		return nil, ErrInvalidCredentials
	}
	return &Principal{Subject: "apikey:" + hex.EncodeToString(sum[:4]), Method: AuthMethodAPIKey}, nil
}

// GenerateAPIKey 生成新的 API Key
func GenerateAPIKey() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return "dt_" + hex.EncodeToString(b), nil
}
