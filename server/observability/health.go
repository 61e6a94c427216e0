package observability

import (
	"context"
	"sync"
	"time"
)

// HealthStatus 健康状态
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// DefaultCheckTimeout 单项检查超时
const DefaultCheckTimeout = 3 * time.Second

// HealthCheck 健康检查接口
type HealthCheck interface {
	Name() string
	Check(ctx context.Context) error
}

// HealthInfo 健康信息
type HealthInfo struct {
	Status    HealthStatus           `json:"status"`
	Version   string                 `json:"version"`
	Uptime    string                 `json:"uptime"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
}

// CheckResult 检查结果
type CheckResult struct {
	Status   HealthStatus `json:"status"`
	Critical bool         `json:"critical"`
	Error    string       `json:"error,omitempty"`
	Latency  string       `json:"latency"`
}

type registeredCheck struct {
	check    HealthCheck
	critical bool
}

// HealthChecker 健康检查器。
// 关键依赖失败时整体为 unhealthy, 非关键依赖失败时为 degraded。
type HealthChecker struct {
	mu        sync.RWMutex
	checks    map[string]registeredCheck
	startTime time.Time
	version   string
	timeout   time.Duration
}

// NewHealthChecker 创建健康检查器
func NewHealthChecker(version string) *HealthChecker {
	return &HealthChecker{
		checks:    make(map[string]registeredCheck),
		startTime: time.Now(),
		version:   version,
		timeout:   DefaultCheckTimeout,
	}
}

// RegisterCheck 注册关键检查
func (h *HealthChecker) RegisterCheck(check HealthCheck) {
	h.register(check, true)
}

// RegisterOptional 注册非关键检查
func (h *HealthChecker) RegisterOptional(check HealthCheck) {
	h.register(check, false)
}

func (h *HealthChecker) register(check HealthCheck, critical bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks[check.Name()] = registeredCheck{check: check, critical: critical}
}

// Check 并发执行所有检查
func (h *HealthChecker) Check(ctx context.Context) *HealthInfo {
	h.mu.RLock()
	checks := make(map[string]registeredCheck, len(h.checks))
	for name, c := range h.checks {
		checks[name] = c
	}
	timeout := h.timeout
	h.mu.RUnlock()

	info := &HealthInfo{
		Status:    HealthStatusHealthy,
		Version:   h.version,
		Uptime:    time.Since(h.startTime).Round(time.Second).String(),
		Timestamp: time.Now().UTC(),
		Checks:    make(map[string]CheckResult, len(checks)),
	}

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for name, rc := range checks {
		wg.Add(1)
		go func(name string, rc registeredCheck) {
			defer wg.Done()
			cctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			start := time.Now()
			err := rc.check.Check(cctx)
			result := CheckResult{
				Status:   HealthStatusHealthy,
				Critical: rc.critical,
				Latency:  time.Since(start).String(),
			}
			if err != nil {
				result.Status = HealthStatusUnhealthy
				result.Error = err.Error()
			}

			mu.Lock()
			info.Checks[name] = result
			mu.Unlock()
		}(name, rc)
	}
	wg.Wait()

	for _, r := range info.Checks {
		if r.Status != HealthStatusUnhealthy {
			continue
		}
		if r.Critical {
			info.Status = HealthStatusUnhealthy
			break
		}
		info.Status = HealthStatusDegraded
	}
	return info
}

// Uptime 返回运行时间
func (h *HealthChecker) Uptime() time.Duration {
	return time.Since(h.startTime)
}

// FuncCheck 由函数构造的健康检查
type FuncCheck struct {
	name string
	fn   func(context.Context) error
}

// NewFuncCheck 创建函数健康检查
func NewFuncCheck(name string, fn func(context.Context) error) *FuncCheck {
	return &FuncCheck{name: name, fn: fn}
}

func (c *FuncCheck) Name() string {
	return c.name
}

func (c *FuncCheck) Check(ctx context.Context) error {
	if c.fn == nil {
		return nil
	}
	return c.fn(ctx)
}
