// Package vector 定义向量化与向量存储的抽象, 以及内存实现。
package vector

import "context"

// Document 一条向量索引文档
type Document struct {
	ID        string                 // 向量 ID, 通常为 ObjectUUID(objectID)
	Text      string                 // 参与向量化的文本(可选)
	Embedding []float32              // 文本向量
	Metadata  map[string]interface{} // 可过滤的载荷字段
}

// Query 一次向量检索请求
type Query struct {
	Vector []float32
	TopK   int
	// Filter 载荷字段等值过滤, 各条件为 AND 关系
	Filter map[string]string
	// MinScore 相似度下限, 0 表示不过滤
	MinScore float64
}

// Hit 检索命中
type Hit struct {
	ID       string                 // 向量 ID
	Score    float64                // 余弦相似度, 越大越相关
	Metadata map[string]interface{} // 载荷
}

// VectorStore 向量存储接口
type VectorStore interface {
	Upsert(ctx context.Context, docs []Document) error
	Delete(ctx context.Context, ids []string) error
	Query(ctx context.Context, q Query) ([]Hit, error)
	Close() error
}

// Pinger 支持健康检查的存储
type Pinger interface {
	Ping(ctx context.Context) error
}

// MatchesFilter 判断载荷是否满足等值过滤
func MatchesFilter(meta map[string]interface{}, filter map[string]string) bool {
	for k, want := range filter {
		got, ok := meta[k]
		if !ok {
			return false
		}
		s, ok := got.(string)
		if !ok || s != want {
			return false
		}
	}
	return true
}
