package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLimiter(perMinute, burst int) (*TokenBucketLimiter, *time.Time) {
	l := NewTokenBucketLimiter(perMinute, burst, time.Hour)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }
	return l, &now
}

func TestTokenBucketBurstAndRefill(t *testing.T) {
	l, now := newTestLimiter(60, 3)
	defer l.Close()

	for i := 0; i < 3; i++ {
		ok, _ := l.Allow("a")
		require.True(t, ok, "request %d", i)
	}
	ok, info := l.Allow("a")
	assert.False(t, ok)
	assert.Equal(t, 3, info.Limit)
	assert.Equal(t, time.Second, info.RetryAfter)

	// 不同 key 各自独立计数
	ok, _ = l.Allow("b")
	assert.True(t, ok)

	*now = now.Add(time.Second)
	ok, _ = l.Allow("a")
	assert.True(t, ok)
	ok, _ = l.Allow("a")
	assert.False(t, ok)

	l.Reset("a")
	ok, info = l.Allow("a")
	assert.True(t, ok)
	assert.Equal(t, 2, info.Remaining)
}

func TestEvictIdle(t *testing.T) {
	l, now := newTestLimiter(60, 1)
	defer l.Close()

	l.Allow("a")
	*now = now.Add(2 * time.Hour)
	l.evictIdle()

	l.mu.Lock()
	defer l.mu.Unlock()
	assert.Empty(t, l.buckets)
}

func TestMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	l, _ := newTestLimiter(60, 2)
	defer l.Close()

	r := gin.New()
	r.Use(Middleware(Config{Enabled: true}, l))
	r.GET("/api/timeline", func(c *gin.Context) { c.Status(http.StatusOK) })

	call := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/api/timeline", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	assert.Equal(t, http.StatusOK, call().Code)
	w := call()
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))

	w = call()
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))
	assert.Contains(t, w.Body.String(), "rate_limit_exceeded")
}

func TestMiddlewareDisabled(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Middleware(Config{Enabled: false}, nil))
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)
}
