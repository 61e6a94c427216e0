package observability

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthCheckerStatus(t *testing.T) {
	ok := NewFuncCheck("store", func(context.Context) error { return nil })
	broken := func(name string) *FuncCheck {
		return NewFuncCheck(name, func(context.Context) error { return errors.New("connection refused") })
	}

	t.Run("all healthy", func(t *testing.T) {
		h := NewHealthChecker("test")
		h.RegisterCheck(ok)
		info := h.Check(context.Background())
		assert.Equal(t, HealthStatusHealthy, info.Status)
		assert.Equal(t, "test", info.Version)
		assert.True(t, info.Checks["store"].Critical)
	})

	t.Run("optional failure degrades", func(t *testing.T) {
		h := NewHealthChecker("test")
		h.RegisterCheck(ok)
		h.RegisterOptional(broken("vector"))
		info := h.Check(context.Background())
		assert.Equal(t, HealthStatusDegraded, info.Status)
		assert.Equal(t, "connection refused", info.Checks["vector"].Error)
	})

	t.Run("critical failure is unhealthy", func(t *testing.T) {
		h := NewHealthChecker("test")
		h.RegisterCheck(broken("store"))
		h.RegisterOptional(broken("vector"))
		info := h.Check(context.Background())
		assert.Equal(t, HealthStatusUnhealthy, info.Status)
	})

	t.Run("checks are bounded by the timeout", func(t *testing.T) {
		h := NewHealthChecker("test")
		h.timeout = 20 * time.Millisecond
		h.RegisterCheck(NewFuncCheck("slow", func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		}))
		info := h.Check(context.Background())
		assert.Equal(t, HealthStatusUnhealthy, info.Status)
		assert.Contains(t, info.Checks["slow"].Error, "deadline")
	})
}

func TestMetricsManager(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := NewMetricsManager("")

	r := gin.New()
	r.Use(m.Middleware())
	r.GET("/api/timeline", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	r.GET("/metrics", m.Handler())

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/timeline", nil))
	require.Equal(t, http.StatusOK, w.Code)

	m.WebhookDelivery("pull_request", ResultProcessed)
	m.WebhookDelivery("", ResultInvalid)
	m.EventStored("pull_request.opened")
	m.SearchRequest("hybrid", ResultOK, 5*time.Millisecond)
	m.VectorUpsert(nil)
	m.VectorUpsert(errors.New("boom"))
	m.IndexDropped()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.requestsTotal.WithLabelValues("GET", "/api/timeline", "2xx")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.webhookDeliveries.WithLabelValues("unknown", ResultInvalid)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.eventsStored.WithLabelValues("pull_request.opened")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.vectorUpserts.WithLabelValues(ResultError)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.busDropped))

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "devtrail_webhook_deliveries_total")
	assert.Contains(t, w.Body.String(), "devtrail_search_requests_total")
}

func TestStatusClass(t *testing.T) {
	assert.Equal(t, "2xx", statusClass(204))
	assert.Equal(t, "4xx", statusClass(401))
	assert.Equal(t, "5xx", statusClass(503))
	assert.Equal(t, "unknown", statusClass(100))
}

func TestTracingManager(t *testing.T) {
	t.Run("disabled is a no-op", func(t *testing.T) {
		tm, err := NewTracingManager(TracingConfig{})
		require.NoError(t, err)
		assert.False(t, tm.Enabled())
		assert.NotNil(t, tm.Tracer())
		assert.NoError(t, tm.Shutdown(context.Background()))
	})

	t.Run("stdout exporter", func(t *testing.T) {
		var buf bytes.Buffer
		tm, err := NewTracingManager(TracingConfig{Enabled: true, Endpoint: StdoutEndpoint, Writer: &buf})
		require.NoError(t, err)
		require.True(t, tm.Enabled())

		ctx, span := tm.Tracer().Start(context.Background(), "search.hybrid")
		assert.NotEmpty(t, TraceID(ctx))
		span.End()

		require.NoError(t, tm.Shutdown(context.Background()))
		assert.Contains(t, buf.String(), "search.hybrid")
	})

	assert.Empty(t, TraceID(context.Background()))
}
