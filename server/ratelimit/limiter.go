// Package ratelimit 为查询接口提供按调用方的令牌桶限流。
package ratelimit

import (
	"math"
	"sync"
	"time"
)

// Limiter 速率限制器接口
type Limiter interface {
	// Allow 消费一个令牌, 返回是否放行以及当前状态
	Allow(key string) (bool, LimitInfo)
	// Reset 重置指定 key 的限制
	Reset(key string)
}

// LimitInfo 限制信息
type LimitInfo struct {
	Limit     int
	Remaining int
	// RetryAfter 下一个令牌可用前的等待时间, 有剩余令牌时为 0
	RetryAfter time.Duration
}

// TokenBucketLimiter 令牌桶限流器, 每个 key 一个桶
type TokenBucketLimiter struct {
	mu       sync.Mutex
	buckets  map[string]*bucket
	perSec   float64
	capacity int
	idleTTL  time.Duration

	now  func() time.Time
	stop chan struct{}
	once sync.Once
}

type bucket struct {
	tokens   float64
	lastSeen time.Time
}

// NewTokenBucketLimiter 创建令牌桶限流器。
// perMinute 为持续速率, burst 为桶容量; 空闲超过 idleTTL 的桶会被回收。
func NewTokenBucketLimiter(perMinute, burst int, idleTTL time.Duration) *TokenBucketLimiter {
	if perMinute <= 0 {
		perMinute = 600
	}
	if burst <= 0 {
		burst = 1
	}
	if idleTTL <= 0 {
		idleTTL = 10 * time.Minute
	}
	l := &TokenBucketLimiter{
		buckets:  make(map[string]*bucket),
		perSec:   float64(perMinute) / 60,
		capacity: burst,
		idleTTL:  idleTTL,
		now:      time.Now,
		stop:     make(chan struct{}),
	}
	go l.cleanup()
	return l
}

// Allow 补充令牌后尝试消费一个
func (l *TokenBucketLimiter) Allow(key string) (bool, LimitInfo) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{tokens: float64(l.capacity), lastSeen: now}
		l.buckets[key] = b
	}
	elapsed := now.Sub(b.lastSeen).Seconds()
	if elapsed > 0 {
		b.tokens = math.Min(b.tokens+elapsed*l.perSec, float64(l.capacity))
	}
	b.lastSeen = now

	info := LimitInfo{Limit: l.capacity}
	if b.tokens >= 1 {
		b.tokens--
		info.Remaining = int(b.tokens)
		return true, info
	}
	info.RetryAfter = time.Duration((1 - b.tokens) / l.perSec * float64(time.Second))
	return false, info
}

// Reset 重置指定 key 的限制
func (l *TokenBucketLimiter) Reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.buckets, key)
}

// Close 停止回收协程
func (l *TokenBucketLimiter) Close() {
	l.once.Do(func() { close(l.stop) })
}

func (l *TokenBucketLimiter) cleanup() {
	ticker := time.NewTicker(l.idleTTL)
	defer ticker.Stop()
	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			l.evictIdle()
		}
	}
}

func (l *TokenBucketLimiter) evictIdle() {
	l.mu.Lock()
	defer l.mu.Unlock()
	cutoff := l.now().Add(-l.idleTTL)
	for key, b := range l.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(l.buckets, key)
		}
	}
}
