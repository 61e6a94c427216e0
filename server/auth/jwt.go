package auth

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// JWTConfig JWT 配置
type JWTConfig struct {
	SecretKey string
	Issuer    string
	Audience  string
	// ExpiryDuration 仅用于 GenerateToken, 默认 24 小时
	ExpiryDuration time.Duration
}

// JWTAuthenticator HS256 Bearer 令牌认证器
type JWTAuthenticator struct {
	secretKey      []byte
	issuer         string
	audience       string
	expiryDuration time.Duration
}

// NewJWTAuthenticator 创建 JWT 认证器
func NewJWTAuthenticator(config JWTConfig) *JWTAuthenticator {
	if config.ExpiryDuration == 0 {
		config.ExpiryDuration = 24 * time.Hour
	}
	if config.Issuer == "" {
		config.Issuer = "devtrail"
	}
	return &JWTAuthenticator{
		secretKey:      []byte(config.SecretKey),
		issuer:         config.Issuer,
		audience:       config.Audience,
		expiryDuration: config.ExpiryDuration,
	}
}

// Method 返回认证方法类型
func (a *JWTAuthenticator) Method() AuthMethod {
	return AuthMethodJWT
}

// Credential 读取 Bearer 令牌
func (a *JWTAuthenticator) Credential(r *http.Request) string {
	return bearerToken(r)
}

// Validate 校验签名、有效期、签发方与受众
func (a *JWTAuthenticator) Validate(_ context.Context, tokenString string) (*Principal, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(a.issuer),
		jwt.WithExpirationRequired(),
	}
	if a.audience != "" {
		opts = append(opts, jwt.WithAudience(a.audience))
	}

	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return a.secretKey, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}
	if !token.Valid || claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return &Principal{Subject: claims.Subject, Method: AuthMethodJWT}, nil
}

// GenerateToken 为 subject 签发令牌
func (a *JWTAuthenticator) GenerateToken(subject string) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(a.expiryDuration)
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    a.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}
	if a.audience != "" {
		claims.Audience = jwt.ClaimStrings{a.audience}
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secretKey)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}
