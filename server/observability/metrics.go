package observability

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// webhook 投递结果标签
const (
	ResultProcessed   = "processed"
	ResultIgnored     = "ignored"
	ResultRejected    = "rejected"
	ResultInvalid     = "invalid"
	ResultFailed      = "failed"
	ResultOK          = "ok"
	ResultDegraded    = "degraded"
	ResultUnavailable = "unavailable"
	ResultError       = "error"
)

// MetricsManager Prometheus 指标管理器, 使用独立的 registry
type MetricsManager struct {
	// HTTP 指标
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	responseSize    *prometheus.HistogramVec

	// 业务指标
	webhookDeliveries *prometheus.CounterVec
	eventsStored      *prometheus.CounterVec
	searchRequests    *prometheus.CounterVec
	searchDuration    *prometheus.HistogramVec
	vectorUpserts     *prometheus.CounterVec
	busDropped        prometheus.Counter

	registry *prometheus.Registry
}

// NewMetricsManager 创建指标管理器
func NewMetricsManager(namespace string) *MetricsManager {
	if namespace == "" {
		namespace = "devtrail"
	}

	m := &MetricsManager{
		registry: prometheus.NewRegistry(),
	}

	m.requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)
	m.requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
	m.responseSize = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_response_size_bytes",
			Help:      "HTTP response size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "path"},
	)

	m.webhookDeliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_deliveries_total",
			Help:      "Webhook deliveries by event name and outcome",
		},
		[]string{"event", "result"},
	)
	m.eventsStored = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_stored_total",
			Help:      "Events appended to the event log",
		},
		[]string{"event_type"},
	)
	m.searchRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "search_requests_total",
			Help:      "Search requests by mode and outcome",
		},
		[]string{"mode", "result"},
	)
	m.searchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "search_duration_seconds",
			Help:      "Search latency by mode",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"mode"},
	)
	m.vectorUpserts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "vector_upserts_total",
			Help:      "Embedding upserts by outcome",
		},
		[]string{"result"},
	)
	m.busDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "index_queue_dropped_total",
			Help:      "Change notifications dropped because the index queue was full",
		},
	)

	m.registry.MustRegister(
		m.requestsTotal,
		m.requestDuration,
		m.responseSize,
		m.webhookDeliveries,
		m.eventsStored,
		m.searchRequests,
		m.searchDuration,
		m.vectorUpserts,
		m.busDropped,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// Registry 返回底层 registry
func (m *MetricsManager) Registry() *prometheus.Registry {
	return m.registry
}

// Middleware Prometheus 中间件
func (m *MetricsManager) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		// 未匹配路由统一归入一个标签, 避免基数膨胀
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		method := c.Request.Method
		m.requestsTotal.WithLabelValues(method, path, statusClass(c.Writer.Status())).Inc()
		m.requestDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
		if size := c.Writer.Size(); size > 0 {
			m.responseSize.WithLabelValues(method, path).Observe(float64(size))
		}
	}
}

// Handler Prometheus 指标暴露端点
func (m *MetricsManager) Handler() gin.HandlerFunc {
	h := promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
	return gin.WrapH(h)
}

// WebhookDelivery 记录一次 webhook 投递
func (m *MetricsManager) WebhookDelivery(event, result string) {
	if event == "" {
		event = "unknown"
	}
	m.webhookDeliveries.WithLabelValues(event, result).Inc()
}

// EventStored 记录写入日志的事件
func (m *MetricsManager) EventStored(eventType string) {
	m.eventsStored.WithLabelValues(eventType).Inc()
}

// SearchRequest 记录一次检索
func (m *MetricsManager) SearchRequest(mode, result string, elapsed time.Duration) {
	m.searchRequests.WithLabelValues(mode, result).Inc()
	m.searchDuration.WithLabelValues(mode).Observe(elapsed.Seconds())
}

// VectorUpsert 记录一次向量写入
func (m *MetricsManager) VectorUpsert(err error) {
	result := ResultOK
	if err != nil {
		result = ResultError
	}
	m.vectorUpserts.WithLabelValues(result).Inc()
}

// IndexDropped 记录被丢弃的索引通知
func (m *MetricsManager) IndexDropped() {
	m.busDropped.Inc()
}

// statusClass 返回 HTTP 状态码类别
func statusClass(status int) string {
	switch {
	case status >= 200 && status < 300:
		return "2xx"
	case status >= 300 && status < 400:
		return "3xx"
	case status >= 400 && status < 500:
		return "4xx"
	case status >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
