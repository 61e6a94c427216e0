// Package webhook 实现 GitHub webhook 的签名校验。
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
)

// SignatureHeader GitHub 签名头
const SignatureHeader = "X-Hub-Signature-256"

const signaturePrefix = "sha256="

var (
	// ErrSecretNotConfigured 未配置共享密钥, 一律拒绝
	ErrSecretNotConfigured = errors.New("webhook secret not configured")
	// ErrMissingSignature 请求未携带签名头
	ErrMissingSignature = errors.New("missing webhook signature")
	// ErrMissingBody 原始请求体不可用
	ErrMissingBody = errors.New("raw request body unavailable")
	// ErrInvalidSignature 签名格式错误或不匹配
	ErrInvalidSignature = errors.New("invalid webhook signature")
)

// Verify 使用 HMAC-SHA256 校验原始请求体。
// 必须传入未经重新序列化的原始字节, 比较采用常量时间。
func Verify(rawBody []byte, headerSignature, secret string) error {
	if secret == "" {
		return ErrSecretNotConfigured
	}
	headerSignature = strings.TrimSpace(headerSignature)
	if headerSignature == "" {
		return ErrMissingSignature
	}
	if rawBody == nil {
		return ErrMissingBody
	}
	if !strings.HasPrefix(headerSignature, signaturePrefix) {
		return ErrInvalidSignature
	}

	provided, err := hex.DecodeString(strings.TrimPrefix(headerSignature, signaturePrefix))
	if err != nil || len(provided) != sha256.Size {
		return ErrInvalidSignature
	}

	if !hmac.Equal(provided, computeMAC(rawBody, secret)) {
		return ErrInvalidSignature
	}
	return nil
}

// Valid 是 Verify 的布尔形式
func Valid(rawBody []byte, headerSignature, secret string) bool {
	return Verify(rawBody, headerSignature, secret) == nil
}

// Sign 计算请求体签名, 返回 "sha256=<hex>" 形式
func Sign(rawBody []byte, secret string) string {
	return signaturePrefix + hex.EncodeToString(computeMAC(rawBody, secret))
}

// IsAuthError 判断错误是否应返回 401
func IsAuthError(err error) bool {
	return errors.Is(err, ErrMissingSignature) || errors.Is(err, ErrInvalidSignature)
}

func computeMAC(body []byte, secret string) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return mac.Sum(nil)
}
