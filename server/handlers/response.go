// Package handlers devtrail HTTP 接口实现
package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/wordflowlab/devtrail/pkg/types"
)

// 响应中的错误码
const (
	CodeBadRequest           = "bad_request"
	CodeMissingParameter     = "missing_parameter"
	CodeInvalidParameter     = "invalid_parameter"
	CodeNotFound             = "not_found"
	CodeInvalidSignature     = "invalid_signature"
	CodeMissingEventHeader   = "missing_event_header"
	CodeMalformedPayload     = "malformed_payload"
	CodePayloadTooLarge      = "payload_too_large"
	CodeWebhookNotConfigured = "webhook_not_configured"
	CodeProcessingFailed     = "processing_failed"
	CodeSearchDegraded       = "search_degraded"
	CodeEmbeddingUnavailable = "embedding_unavailable"
	CodeInternal             = "internal_error"
)

// Recorder 记录每个请求的结果
type Recorder interface {
	WebhookDelivery(event, result string)
	SearchRequest(mode, result string, elapsed time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) WebhookDelivery(string, string) {}
func (nopRecorder) SearchRequest(string, string, time.Duration) {}

func recorderOrNop(r Recorder) Recorder {
	if r == nil {
		return nopRecorder{}
	}
	return r
}

func respondError(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, gin.H{
		"success": false,
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	})
}

func respondInternal(c *gin.Context, err error) {
	_ = c.Error(err)
	respondError(c, http.StatusInternalServerError, CodeInternal, "internal server error")
}

// bindQuery 绑定查询参数, 失败时写入 400 并返回 false
func bindQuery(c *gin.Context, dst interface{}) bool {
	if err := c.ShouldBindQuery(dst); err != nil {
		respondError(c, http.StatusBadRequest, CodeInvalidParameter, err.Error())
		return false
	}
	return true
}

// requireQuery 返回去空白的 q 参数, 为空时写入 400
func requireQuery(c *gin.Context, q string) (string, bool) {
	q = strings.TrimSpace(q)
	if q == "" {
		respondError(c, http.StatusBadRequest, CodeMissingParameter, "query parameter q is required")
		return "", false
	}
	return q, true
}

// parseObjectType 接受空值或已知的对象类型
func parseObjectType(c *gin.Context, raw string) (types.EventType, bool) {
	if raw == "" {
		return "", true
	}
	t := types.EventType(strings.ToLower(raw))
	if !t.Valid() {
		respondError(c, http.StatusBadRequest, CodeInvalidParameter, "unknown objectType "+raw)
		return "", false
	}
	return t, true
}
