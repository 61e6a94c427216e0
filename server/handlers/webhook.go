package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"

	"github.com/wordflowlab/devtrail/pkg/ingest"
	"github.com/wordflowlab/devtrail/pkg/logging"
	"github.com/wordflowlab/devtrail/pkg/webhook"
	"github.com/wordflowlab/devtrail/server/observability"
)

// GitHub 投递请求头
const (
	EventHeader    = "X-GitHub-Event"
	DeliveryHeader = "X-GitHub-Delivery"
)

// DefaultMaxBodyBytes 与 GitHub 的负载上限一致
const DefaultMaxBodyBytes int64 = 25 << 20

// Ingester 将一次已验签的投递写入事件存储
type Ingester interface {
	Ingest(ctx context.Context, eventName string, body []byte) (*ingest.Result, error)
}

// WebhookHandler 接收 GitHub webhook 投递
type WebhookHandler struct {
	ingestor Ingester
	maxBody  int64
	metrics  Recorder

	mu     sync.RWMutex
	secret string
}

// NewWebhookHandler 创建 WebhookHandler
func NewWebhookHandler(ing Ingester, secret string, maxBody int64, metrics Recorder) *WebhookHandler {
	if maxBody <= 0 {
		maxBody = DefaultMaxBodyBytes
	}
	return &WebhookHandler{
		ingestor: ing,
		maxBody:  maxBody,
		metrics:  recorderOrNop(metrics),
		secret:   secret,
	}
}

// SetSecret 替换共享密钥, 用于配置热更新
func (h *WebhookHandler) SetSecret(secret string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.secret = secret
}

func (h *WebhookHandler) currentSecret() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.secret
}

// Handle 先对原始请求体验签, 再写入投递
func (h *WebhookHandler) Handle(c *gin.Context) {
	ctx := c.Request.Context()
	event := c.GetHeader(EventHeader)
	delivery := c.GetHeader(DeliveryHeader)

	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, h.maxBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.metrics.WebhookDelivery(event, observability.ResultInvalid)
			respondError(c, http.StatusRequestEntityTooLarge, CodePayloadTooLarge, "payload exceeds size limit")
			return
		}
		h.metrics.WebhookDelivery(event, observability.ResultInvalid)
		respondError(c, http.StatusBadRequest, CodeBadRequest, "failed to read request body")
		return
	}

	if err := webhook.Verify(body, c.GetHeader(webhook.SignatureHeader), h.currentSecret()); err != nil {
		if webhook.IsAuthError(err) {
			logging.Warn(ctx, "webhook.rejected", map[string]interface{}{
				"event":    event,
				"delivery": delivery,
				"reason":   err.Error(),
			})
			h.metrics.WebhookDelivery(event, observability.ResultRejected)
			respondError(c, http.StatusUnauthorized, CodeInvalidSignature, err.Error())
			return
		}
		logging.Error(ctx, "webhook.misconfigured", map[string]interface{}{
			"delivery": delivery,
			"error":    err.Error(),
		})
		h.metrics.WebhookDelivery(event, observability.ResultFailed)
		respondError(c, http.StatusInternalServerError, CodeWebhookNotConfigured, err.Error())
		return
	}

	if event == "" {
		h.metrics.WebhookDelivery(event, observability.ResultInvalid)
		respondError(c, http.StatusBadRequest, CodeMissingEventHeader, "missing "+EventHeader+" header")
		return
	}

	res, err := h.ingestor.Ingest(ctx, event, body)
	if err != nil {
		if ingest.IsClientError(err) {
			h.metrics.WebhookDelivery(event, observability.ResultInvalid)
			respondError(c, http.StatusBadRequest, CodeMalformedPayload, err.Error())
			return
		}
		fields := map[string]interface{}{
			"event":    event,
			"delivery": delivery,
			"error":    err.Error(),
		}
		var batch *ingest.BatchError
		if errors.As(err, &batch) {
			fields["stored"] = batch.Stored
			fields["failed"] = len(batch.Failures)
		}
		logging.Error(ctx, "webhook.failed", fields)
		h.metrics.WebhookDelivery(event, observability.ResultFailed)
		respondError(c, http.StatusInternalServerError, CodeProcessingFailed, "failed to process delivery")
		return
	}

	result := observability.ResultProcessed
	if res.Ignored {
		result = observability.ResultIgnored
	}
	h.metrics.WebhookDelivery(event, result)
	logging.Info(ctx, "webhook.accepted", map[string]interface{}{
		"event":     event,
		"delivery":  delivery,
		"processed": res.Processed,
		"ignored":   res.Ignored,
	})

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    res,
	})
}
