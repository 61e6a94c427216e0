package semantic

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/wordflowlab/devtrail/pkg/events"
	"github.com/wordflowlab/devtrail/pkg/logging"
	"github.com/wordflowlab/devtrail/pkg/store"
)

// DefaultQueueSize 索引队列容量
const DefaultQueueSize = 256

// Worker 订阅对象变更并异步写入向量。
// 队列满时变更通知被丢弃, 由下一次 Resync 补齐。
// Stop 后再次 Start 会从已处理的游标处回放 bus 历史中错过的通知。
type Worker struct {
	indexer   *Indexer
	reader    store.ObjectReader
	bus       *events.Bus
	queueSize int

	// OnIndexed 每次写入完成后调用, err 为 nil 表示成功
	OnIndexed func(objectID string, err error)

	mu     sync.Mutex
	queue  <-chan events.Envelope
	cursor atomic.Int64
	wg     sync.WaitGroup
}

// NewWorker 创建 Worker, queueSize <= 0 时为 DefaultQueueSize。
// 创建之后发布的变更在 Start 时回放。
func NewWorker(indexer *Indexer, reader store.ObjectReader, bus *events.Bus, queueSize int) *Worker {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	w := &Worker{
		indexer:   indexer,
		reader:    reader,
		bus:       bus,
		queueSize: queueSize,
	}
	w.cursor.Store(bus.Cursor())
	return w
}

// Start 订阅 bus 并在后台处理队列, 直到 ctx 取消或 Stop; 重复调用无效
func (w *Worker) Start(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.queue != nil {
		return
	}
	since := w.cursor.Load()
	queue := w.bus.Subscribe(&events.SubscribeOptions{
		Kinds:  []string{events.KindObjectUpserted},
		Replay: true,
		Since:  since,
		Buffer: w.queueSize,
	})
	w.queue = queue
	logging.Info(ctx, "semantic.worker.started", map[string]interface{}{
		"since":  since,
		"cursor": w.bus.Cursor(),
	})

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.run(ctx, queue)
	}()
}

// Stop 取消订阅并等待在途任务结束
func (w *Worker) Stop() {
	w.mu.Lock()
	queue := w.queue
	w.queue = nil
	w.mu.Unlock()

	if queue != nil {
		w.bus.Unsubscribe(queue)
	}
	w.wg.Wait()

	processed := w.cursor.Load()
	logging.Info(context.Background(), "semantic.worker.stopped", map[string]interface{}{
		"cursor": processed,
		"lag":    w.bus.Cursor() - processed,
	})
}

// Cursor 最后处理的通知游标
func (w *Worker) Cursor() int64 {
	return w.cursor.Load()
}

func (w *Worker) run(ctx context.Context, queue <-chan events.Envelope) {
	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-queue:
			if !ok {
				return
			}
			w.handle(ctx, env)
			w.cursor.Store(env.Cursor)
		}
	}
}

func (w *Worker) handle(ctx context.Context, env events.Envelope) {
	id := env.Change.ObjectID
	obj, err := w.reader.GetCanonicalObject(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return
	}
	if err == nil {
		err = w.indexer.StoreVector(ctx, obj)
	}
	if err != nil {
		logging.Warn(ctx, "semantic.index.failed", map[string]interface{}{
			"object_id": id,
			"cursor":    env.Cursor,
			"error":     err.Error(),
		})
	} else {
		logging.Debug(ctx, "semantic.index.stored", map[string]interface{}{
			"object_id": id,
		})
	}
	if w.OnIndexed != nil {
		w.OnIndexed(id, err)
	}
}

// LogDropped 可作为 events.Bus.OnDrop, 记录被丢弃的变更
func LogDropped(env events.Envelope) {
	logging.Warn(context.Background(), "semantic.index.dropped", map[string]interface{}{
		"object_id": env.Change.ObjectID,
		"cursor":    env.Cursor,
	})
}
