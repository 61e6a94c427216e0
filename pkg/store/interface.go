// Package store 定义事件日志与对象当前状态的持久化接口。
package store

import (
	"context"
	"errors"
	"time"

	"github.com/wordflowlab/devtrail/pkg/events"
	"github.com/wordflowlab/devtrail/pkg/types"
)

// Writer 事件写入
type Writer interface {
	// StoreEvent 在同一事务内追加日志行并覆盖对象当前状态, 返回日志序号
	StoreEvent(ctx context.Context, ev *types.InternalEvent) (int64, error)
}

// ObjectReader 对象读取
type ObjectReader interface {
	// GetCanonicalObject 不存在时返回 ErrNotFound
	GetCanonicalObject(ctx context.Context, id string) (*types.CanonicalObject, error)
	// GetCanonicalObjects 批量读取, 不存在的 id 不出现在结果中
	GetCanonicalObjects(ctx context.Context, ids []string) (map[string]*types.CanonicalObject, error)
	// GetEventHistory 对象的事件日志, 新的在前
	GetEventHistory(ctx context.Context, id string, limit int) ([]types.EventLogRecord, error)
}

// ObjectLister 按 id 键集分页遍历全部对象
type ObjectLister interface {
	ListCanonicalObjects(ctx context.Context, afterID string, limit int) ([]types.CanonicalObject, error)
}

// LexicalSearcher 全文检索
type LexicalSearcher interface {
	SearchObjects(ctx context.Context, query string, filter LexicalFilter) ([]types.LexicalResult, int, error)
}

// TimelineReader 时间线读取
type TimelineReader interface {
	Timeline(ctx context.Context, filter TimelineFilter) ([]types.TimelineEntry, int, error)
	TimelineStats(ctx context.Context, filter TimelineFilter) (*types.TimelineStats, error)
}

// Store 事件存储的完整能力
type Store interface {
	Writer
	ObjectReader
	ObjectLister
	LexicalSearcher
	TimelineReader

	Ping(ctx context.Context) error
	Close() error
}

// 分页限制
const (
	DefaultLexicalLimit  = 20
	MaxLexicalLimit      = 100
	DefaultTimelineLimit = 50
	MaxTimelineLimit     = 100
	DefaultHistoryLimit  = 50
	MaxHistoryLimit      = 500
)

// LexicalFilter 全文检索过滤条件, 各条件为 AND 关系
type LexicalFilter struct {
	ObjectType types.EventType
	Repository string
	Limit      int
	Offset     int
}

// Normalize 将 Limit 限制在 [1, 100], 默认 20
func (f LexicalFilter) Normalize() LexicalFilter {
	f.Limit = ClampLimit(f.Limit, DefaultLexicalLimit, MaxLexicalLimit)
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}

// TimelineFilter 时间线过滤条件
type TimelineFilter struct {
	Repository string
	ObjectType types.EventType
	Actor      string
	Limit      int
	Offset     int
}

// Normalize 将 Limit 限制在 [1, 100], 默认 50
func (f TimelineFilter) Normalize() TimelineFilter {
	f.Limit = ClampLimit(f.Limit, DefaultTimelineLimit, MaxTimelineLimit)
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}

// ClampLimit limit <= 0 时取默认值, 超过上限时截断
func ClampLimit(limit, def, max int) int {
	if limit <= 0 {
		return def
	}
	if limit > max {
		return max
	}
	return limit
}

// Prepare 由内部事件构造日志行与对象行
func Prepare(ev *types.InternalEvent, receivedAt time.Time) (*types.EventLogRecord, types.CanonicalObject) {
	return types.NewEventLogRecord(ev, receivedAt), events.CanonicalFromEvent(*ev)
}

var (
	// ErrNotFound 资源未找到错误
	ErrNotFound = &StoreError{Code: "not_found", Message: "resource not found"}
	// ErrInvalidEvent 事件缺少必要字段
	ErrInvalidEvent = &StoreError{Code: "invalid_event", Message: "invalid event"}
)

// StoreError Store 错误类型
type StoreError struct {
	Code    string
	Message string
	Err     error
}

func (e *StoreError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// Is 按 Code 比较, 使包装后的错误仍能匹配哨兵
func (e *StoreError) Is(target error) bool {
	var t *StoreError
	if errors.As(target, &t) {
		return t.Code == e.Code
	}
	return false
}

// Wrap 包装底层错误
func Wrap(code, message string, err error) error {
	return &StoreError{Code: code, Message: message, Err: err}
}

// ValidateEvent 校验写入前的事件
func ValidateEvent(ev *types.InternalEvent) error {
	if ev == nil {
		return Wrap(ErrInvalidEvent.Code, "invalid event", errors.New("nil event"))
	}
	if ev.ObjectID == "" {
		return Wrap(ErrInvalidEvent.Code, "invalid event", errors.New("object id is empty"))
	}
	if !ev.ObjectType.Valid() {
		return Wrap(ErrInvalidEvent.Code, "invalid event", errors.New("unknown object type "+string(ev.ObjectType)))
	}
	return nil
}
