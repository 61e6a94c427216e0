package events

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// 变更通知类型
const (
	KindObjectUpserted = "object.upserted"
)

// Change 存储层提交后发出的变更通知
type Change struct {
	Kind       string    `json:"kind"`
	ObjectID   string    `json:"object_id"`
	ObjectType string    `json:"object_type"`
	EventID    int64     `json:"event_id"`
	At         time.Time `json:"at"`
}

// Envelope 带游标的通知
type Envelope struct {
	Cursor int64  `json:"cursor"`
	Change Change `json:"change"`
}

// SubscribeOptions 订阅选项
type SubscribeOptions struct {
	// Kinds 为空表示全部
	Kinds []string
	// Replay 为 true 时先回放游标大于 Since 且仍保留在历史中的通知
	Replay bool
	Since  int64
	// Buffer 通道容量, 默认 100
	Buffer int
}

type subscription struct {
	ch    chan Envelope
	kinds map[string]bool
}

func (s *subscription) wants(kind string) bool {
	return len(s.kinds) == 0 || s.kinds[kind]
}

// Bus 进程内变更总线。
// 发送不阻塞: 订阅者通道满时丢弃通知并计数。
type Bus struct {
	mu sync.RWMutex

	cursor   int64
	history  []Envelope
	capacity int

	subs map[string]*subscription

	dropped atomic.Int64

	// OnDrop 在通知被丢弃时同步调用, 不得阻塞
	OnDrop func(Envelope)
}

// NewBus 创建变更总线, historySize 为回放保留的通知数
func NewBus(historySize int) *Bus {
	if historySize <= 0 {
		historySize = 1000
	}
	return &Bus{
		history:  make([]Envelope, 0, historySize),
		capacity: historySize,
		subs:     make(map[string]*subscription),
	}
}

// Publish 发布通知
func (b *Bus) Publish(change Change) Envelope {
	if change.At.IsZero() {
		change.At = time.Now().UTC()
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.cursor++
	env := Envelope{Cursor: b.cursor, Change: change}

	if len(b.history) == b.capacity {
		copy(b.history, b.history[1:])
		b.history = b.history[:len(b.history)-1]
	}
	b.history = append(b.history, env)

	for _, sub := range b.subs {
		if !sub.wants(change.Kind) {
			continue
		}
		select {
		case sub.ch <- env:
		default:
			b.drop(env)
		}
	}
	return env
}

// Subscribe 订阅通知, 返回只读通道
func (b *Bus) Subscribe(opts *SubscribeOptions) <-chan Envelope {
	if opts == nil {
		opts = &SubscribeOptions{}
	}
	buffer := opts.Buffer
	if buffer <= 0 {
		buffer = 100
	}
	sub := &subscription{ch: make(chan Envelope, buffer)}
	if len(opts.Kinds) > 0 {
		sub.kinds = make(map[string]bool, len(opts.Kinds))
		for _, k := range opts.Kinds {
			sub.kinds[k] = true
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	// 回放与注册在同一把锁内, 订阅者不会漏收或重复收到通知
	if opts.Replay {
		for _, env := range b.history {
			if env.Cursor <= opts.Since || !sub.wants(env.Change.Kind) {
				continue
			}
			select {
			case sub.ch <- env:
			default:
				b.drop(env)
			}
		}
	}
	b.subs[uuid.NewString()] = sub
	return sub.ch
}

// Unsubscribe 取消订阅并关闭通道
func (b *Bus) Unsubscribe(ch <-chan Envelope) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, sub := range b.subs {
		if sub.ch == ch {
			delete(b.subs, id)
			close(sub.ch)
			return
		}
	}
}

// Cursor 当前游标
func (b *Bus) Cursor() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.cursor
}

func (b *Bus) drop(env Envelope) {
	b.dropped.Add(1)
	if b.OnDrop != nil {
		b.OnDrop(env)
	}
}

// Dropped 因订阅者通道已满而丢弃的通知数
func (b *Bus) Dropped() int64 {
	return b.dropped.Load()
}

// Close 关闭所有订阅
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, sub := range b.subs {
		close(sub.ch)
		delete(b.subs, id)
	}
}
