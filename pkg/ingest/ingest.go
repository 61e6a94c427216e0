// Package ingest 将一次 webhook 投递转换为事件并写入存储。
package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/wordflowlab/devtrail/pkg/events"
	"github.com/wordflowlab/devtrail/pkg/logging"
	"github.com/wordflowlab/devtrail/pkg/store"
	"github.com/wordflowlab/devtrail/pkg/types"
)

// 忽略投递的原因
const (
	ReasonUnsupportedEvent   = "unsupported_event"
	ReasonPing               = "ping"
	ReasonRepositoryFiltered = "repository_not_allowed"
)

// Result 一次投递的处理结果
type Result struct {
	Event     string  `json:"event"`
	Processed int     `json:"processed"`
	Ignored   bool    `json:"ignored"`
	Reason    string  `json:"reason,omitempty"`
	EventIDs  []int64 `json:"eventIds"`
}

// Failure 单个事件的写入失败
type Failure struct {
	ObjectID string
	Err      error
}

// BatchError 一次投递中部分事件写入失败。
// 已成功的事件保留, 调用方应返回 5xx 使发送方重试。
type BatchError struct {
	Stored   int
	Failures []Failure
}

func (e *BatchError) Error() string {
	if len(e.Failures) == 0 {
		return "batch failed"
	}
	return fmt.Sprintf("%d of %d events failed to store: %s: %v",
		len(e.Failures), e.Stored+len(e.Failures), e.Failures[0].ObjectID, e.Failures[0].Err)
}

// Unwrap 支持 errors.Is / errors.As 匹配任一失败原因
func (e *BatchError) Unwrap() []error {
	errs := make([]error, len(e.Failures))
	for i, f := range e.Failures {
		errs[i] = f.Err
	}
	return errs
}

// Config Ingestor 配置
type Config struct {
	// AllowedRepositories 仓库全名的 glob 列表(doublestar 语法), 为空表示全部允许
	AllowedRepositories []string
}

// Ingestor 投递处理器
type Ingestor struct {
	normalizer *events.Normalizer
	store      store.Writer
	bus        *events.Bus
	allowed    []string

	// OnStored 每个事件写入成功后调用
	OnStored func(ev *types.InternalEvent, eventID int64)
}

// New 创建 Ingestor, bus 可为 nil
func New(w store.Writer, bus *events.Bus, cfg Config) (*Ingestor, error) {
	allowed := make([]string, 0, len(cfg.AllowedRepositories))
	for _, p := range cfg.AllowedRepositories {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("invalid repository pattern %q", p)
		}
		allowed = append(allowed, p)
	}
	return &Ingestor{
		normalizer: events.NewNormalizer(),
		store:      w,
		bus:        bus,
		allowed:    allowed,
	}, nil
}

// SetNormalizer 替换归一化器
func (i *Ingestor) SetNormalizer(n *events.Normalizer) {
	i.normalizer = n
}

// Allowed 仓库是否在允许列表中
func (i *Ingestor) Allowed(repo string) bool {
	if len(i.allowed) == 0 {
		return true
	}
	for _, p := range i.allowed {
		if ok, _ := doublestar.Match(p, repo); ok {
			return true
		}
	}
	return false
}

// Ingest 解码、归一化并逐个写入事件。
// 每个事件独立提交; 任一失败时返回 *BatchError(多事件)或包装的存储错误(单事件)。
// 负载格式错误返回 events.ErrMalformedPayload。
func (i *Ingestor) Ingest(ctx context.Context, eventName string, body []byte) (*Result, error) {
	res := &Result{Event: eventName, EventIDs: []int64{}}

	p, err := events.Decode(eventName, body)
	if err != nil {
		return nil, err
	}

	switch p.(type) {
	case *events.IgnoredPayload:
		res.Ignored, res.Reason = true, ReasonUnsupportedEvent
		logging.Info(ctx, "webhook.ignored", map[string]interface{}{"event": eventName, "reason": res.Reason})
		return res, nil
	case *events.PingPayload:
		res.Ignored, res.Reason = true, ReasonPing
		logging.Info(ctx, "webhook.ping", map[string]interface{}{"repository": events.RepositoryName(p)})
		return res, nil
	}

	repo := events.RepositoryName(p)
	if !i.Allowed(repo) {
		res.Ignored, res.Reason = true, ReasonRepositoryFiltered
		logging.Info(ctx, "webhook.ignored", map[string]interface{}{
			"event":      eventName,
			"repository": repo,
			"reason":     res.Reason,
		})
		return res, nil
	}

	evs := i.normalizer.FromPayload(p, body)
	var batch BatchError
	for idx := range evs {
		ev := &evs[idx]
		id, err := i.store.StoreEvent(ctx, ev)
		if err != nil {
			batch.Failures = append(batch.Failures, Failure{ObjectID: ev.ObjectID, Err: err})
			logging.Error(ctx, "store.event.failed", map[string]interface{}{
				"event_type": ev.LogEventType(),
				"object_id":  ev.ObjectID,
				"error":      err.Error(),
			})
			continue
		}
		batch.Stored++
		res.EventIDs = append(res.EventIDs, id)
		logging.Debug(ctx, "store.event.appended", map[string]interface{}{
			"event_id":   id,
			"event_type": ev.LogEventType(),
			"object_id":  ev.ObjectID,
		})
		if i.OnStored != nil {
			i.OnStored(ev, id)
		}
		if i.bus != nil {
			i.bus.Publish(events.Change{
				Kind:       events.KindObjectUpserted,
				ObjectID:   ev.ObjectID,
				ObjectType: string(ev.ObjectType),
				EventID:    id,
				At:         time.Now().UTC(),
			})
		}
	}
	res.Processed = batch.Stored

	if len(batch.Failures) > 0 {
		if len(evs) == 1 {
			return res, fmt.Errorf("store event %s: %w", batch.Failures[0].ObjectID, batch.Failures[0].Err)
		}
		return res, &batch
	}
	return res, nil
}

// IsClientError 是否为请求本身的问题(应返回 4xx)
func IsClientError(err error) bool {
	return errors.Is(err, events.ErrMalformedPayload)
}
