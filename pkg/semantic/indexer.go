// Package semantic 负责对象的向量化、向量写入与相似度检索。
// 向量索引与事件存储不在同一事务内, 两者之间存在最终一致的窗口。
package semantic

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wordflowlab/devtrail/pkg/logging"
	"github.com/wordflowlab/devtrail/pkg/store"
	"github.com/wordflowlab/devtrail/pkg/types"
	"github.com/wordflowlab/devtrail/pkg/vector"
)

var (
	// ErrEmbedderNotConfigured 未配置 embedding 服务或向量存储
	ErrEmbedderNotConfigured = errors.New("embedding provider not configured")
	// ErrUnavailable embedding 服务或向量存储调用失败
	ErrUnavailable = errors.New("semantic search unavailable")
)

// 检索默认值
const (
	DefaultThreshold   = 0.35
	DefaultSearchLimit = 10
	MaxSearchLimit     = 50
	DefaultBatchSize   = 100
)

// Config Indexer 配置
type Config struct {
	Embedder vector.Embedder
	Store    vector.VectorStore
	// Threshold 默认相似度下限, <= 0 时为 DefaultThreshold
	Threshold float64
}

// Indexer 向量化与检索
type Indexer struct {
	embedder  vector.Embedder
	store     vector.VectorStore
	threshold float64
}

// NewIndexer 创建 Indexer; Embedder 或 Store 为空时检索返回 ErrEmbedderNotConfigured
func NewIndexer(cfg Config) *Indexer {
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultThreshold
	}
	return &Indexer{embedder: cfg.Embedder, store: cfg.Store, threshold: cfg.Threshold}
}

// Enabled 是否可用
func (ix *Indexer) Enabled() bool {
	return ix != nil && ix.embedder != nil && ix.store != nil
}

// Store 底层向量存储
func (ix *Indexer) Store() vector.VectorStore {
	if ix == nil {
		return nil
	}
	return ix.store
}

// Ping 检查向量存储
func (ix *Indexer) Ping(ctx context.Context) error {
	if !ix.Enabled() {
		return ErrEmbedderNotConfigured
	}
	if p, ok := ix.store.(vector.Pinger); ok {
		if err := p.Ping(ctx); err != nil {
			return fmt.Errorf("%w: %w", ErrUnavailable, err)
		}
	}
	return nil
}

// Embed 向量化单段文本
func (ix *Indexer) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := ix.embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (ix *Indexer) embed(ctx context.Context, texts []string) ([][]float32, error) {
	if ix == nil || ix.embedder == nil {
		return nil, ErrEmbedderNotConfigured
	}
	vecs, err := ix.embedder.EmbedText(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("%w: embed: %w", ErrUnavailable, err)
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("%w: embedder returned %d vectors for %d texts", ErrUnavailable, len(vecs), len(texts))
	}
	return vecs, nil
}

// StoreVector 向量化并写入单个对象
func (ix *Indexer) StoreVector(ctx context.Context, obj *types.CanonicalObject) error {
	if obj == nil {
		return nil
	}
	_, err := ix.StoreVectors(ctx, []types.CanonicalObject{*obj})
	return err
}

// StoreVectors 批量向量化并写入, 向量 ID 为 vector.ObjectUUID(对象标识)。
// 返回写入的对象数。
func (ix *Indexer) StoreVectors(ctx context.Context, objs []types.CanonicalObject) (int, error) {
	if !ix.Enabled() {
		return 0, ErrEmbedderNotConfigured
	}
	if len(objs) == 0 {
		return 0, nil
	}

	texts := make([]string, len(objs))
	for i := range objs {
		texts[i] = PrepareForEmbedding(&objs[i])
	}
	vecs, err := ix.embed(ctx, texts)
	if err != nil {
		return 0, err
	}

	docs := make([]vector.Document, len(objs))
	for i := range objs {
		docs[i] = vector.Document{
			ID:        vector.ObjectUUID(objs[i].ID),
			Text:      texts[i],
			Embedding: vecs[i],
			Metadata:  Payload(&objs[i]),
		}
	}
	if err := ix.store.Upsert(ctx, docs); err != nil {
		return 0, fmt.Errorf("%w: upsert: %w", ErrUnavailable, err)
	}
	return len(docs), nil
}

// Options 语义检索选项
type Options struct {
	Limit      int
	ObjectType types.EventType
	Repository string
	// ScoreThreshold <= 0 时使用 Indexer 的默认值
	ScoreThreshold float64
}

// Search 返回与查询相似度不低于阈值的对象, 相似度降序
func (ix *Indexer) Search(ctx context.Context, query string, opts Options) ([]types.VectorResult, error) {
	if !ix.Enabled() {
		return nil, ErrEmbedderNotConfigured
	}
	limit := store.ClampLimit(opts.Limit, DefaultSearchLimit, MaxSearchLimit)
	threshold := opts.ScoreThreshold
	if threshold <= 0 {
		threshold = ix.threshold
	}

	qv, err := ix.Embed(ctx, query)
	if err != nil {
		return nil, err
	}

	filter := map[string]string{}
	if opts.ObjectType != "" {
		filter["object_type"] = string(opts.ObjectType)
	}
	if opts.Repository != "" {
		filter["repository"] = opts.Repository
	}

	hits, err := ix.store.Query(ctx, vector.Query{Vector: qv, TopK: limit, Filter: filter, MinScore: threshold})
	if err != nil {
		return nil, fmt.Errorf("%w: query: %w", ErrUnavailable, err)
	}

	results := make([]types.VectorResult, 0, len(hits))
	for _, h := range hits {
		if h.Score < threshold {
			continue
		}
		objectID, _ := h.Metadata["object_id"].(string)
		if objectID == "" {
			continue
		}
		results = append(results, types.VectorResult{
			ObjectID:   objectID,
			VectorID:   h.ID,
			Similarity: h.Score,
			Payload:    h.Metadata,
		})
	}
	return results, nil
}

// ResyncStats 全量重建统计
type ResyncStats struct {
	Objects  int           `json:"objects"`
	Embedded int           `json:"embedded"`
	Failed   int           `json:"failed"`
	Batches  int           `json:"batches"`
	Duration time.Duration `json:"duration"`
}

// Resync 按 id 顺序分页遍历全部对象并重新向量化。
// 单批失败只记录日志并计数, 继续下一批; ctx 取消时返回已完成的统计。
func (ix *Indexer) Resync(ctx context.Context, lister store.ObjectLister, batchSize int) (stats ResyncStats, err error) {
	if !ix.Enabled() {
		return stats, ErrEmbedderNotConfigured
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	start := time.Now()
	defer func() { stats.Duration = time.Since(start) }()

	after := ""
	for {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		objs, lerr := lister.ListCanonicalObjects(ctx, after, batchSize)
		if lerr != nil {
			return stats, fmt.Errorf("list canonical objects: %w", lerr)
		}
		if len(objs) == 0 {
			break
		}
		stats.Batches++
		stats.Objects += len(objs)
		after = objs[len(objs)-1].ID

		n, serr := ix.StoreVectors(ctx, objs)
		if serr != nil {
			stats.Failed += len(objs)
			logging.Warn(ctx, "semantic.resync.batch_failed", map[string]interface{}{
				"after": after,
				"size":  len(objs),
				"error": serr.Error(),
			})
		} else {
			stats.Embedded += n
		}

		if len(objs) < batchSize {
			break
		}
	}

	logging.Info(ctx, "semantic.resync.completed", map[string]interface{}{
		"objects":  stats.Objects,
		"embedded": stats.Embedded,
		"failed":   stats.Failed,
		"batches":  stats.Batches,
	})
	return stats, nil
}

// IsDegraded 是否为向量侧不可用(未配置或调用失败)
func IsDegraded(err error) bool {
	return errors.Is(err, ErrEmbedderNotConfigured) || errors.Is(err, ErrUnavailable)
}
