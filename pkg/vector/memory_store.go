package vector

import (
	"context"
	"math"
	"sort"
	"sync"
)

// MemoryStore 内存向量存储, 线性扫描余弦相似度。
// 用于测试与开发模式。
type MemoryStore struct {
	mu   sync.RWMutex
	docs map[string]Document
}

// NewMemoryStore 创建内存向量存储
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[string]Document)}
}

var _ VectorStore = (*MemoryStore)(nil)

// Upsert 插入或覆盖文档
func (s *MemoryStore) Upsert(_ context.Context, docs []Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range docs {
		if d.ID == "" || len(d.Embedding) == 0 {
			continue
		}
		d.Embedding = append([]float32(nil), d.Embedding...)
		s.docs[d.ID] = d
	}
	return nil
}

// Delete 删除文档, 不存在的 ID 忽略
func (s *MemoryStore) Delete(_ context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		delete(s.docs, id)
	}
	return nil
}

// Query 余弦相似度检索, 先过滤再取 TopK
func (s *MemoryStore) Query(_ context.Context, q Query) ([]Hit, error) {
	topK := q.TopK
	if topK <= 0 {
		topK = 5
	}

	s.mu.RLock()
	hits := make([]Hit, 0, len(s.docs))
	for id, doc := range s.docs {
		if !MatchesFilter(doc.Metadata, q.Filter) {
			continue
		}
		score := CosineSimilarity(q.Vector, doc.Embedding)
		if math.IsNaN(score) || score < q.MinScore {
			continue
		}
		hits = append(hits, Hit{ID: id, Score: score, Metadata: doc.Metadata})
	}
	s.mu.RUnlock()

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ID < hits[j].ID
	})
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

// Len 当前文档数
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs)
}

// Get 按 ID 读取文档
func (s *MemoryStore) Get(id string) (Document, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.docs[id]
	return d, ok
}

// Ping 内存存储始终可用
func (s *MemoryStore) Ping(context.Context) error { return nil }

// Close 对内存存储无实际作用
func (s *MemoryStore) Close() error { return nil }

// CosineSimilarity 维度不一致或零向量时返回 0
func CosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		av := float64(a[i])
		bv := float64(b[i])
		dot += av * bv
		na += av * av
		nb += bv * bv
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
