package vector

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// MockEmbedder 基于特征哈希的确定性 Embedder。
// 共享词越多的文本向量越接近, 足以在测试与开发模式下模拟语义检索。
type MockEmbedder struct {
	Dim int
	// Err 非空时 EmbedText 直接返回该错误, 用于模拟服务不可用
	Err error
}

// NewMockEmbedder 创建 MockEmbedder, 默认 64 维
func NewMockEmbedder(dim int) *MockEmbedder {
	if dim <= 0 {
		dim = 64
	}
	return &MockEmbedder{Dim: dim}
}

// EmbedText 对每个小写词做 FNV 哈希并累加到对应维度, 结果 L2 归一化
func (e *MockEmbedder) EmbedText(ctx context.Context, texts []string) ([][]float32, error) {
	if e.Err != nil {
		return nil, e.Err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	result := make([][]float32, len(texts))
	for i, t := range texts {
		vec := make([]float32, e.Dim)
		words := strings.FieldsFunc(strings.ToLower(t), func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		})
		for _, w := range words {
			h := fnv.New32a()
			h.Write([]byte(w))
			sum := h.Sum32()
			sign := float32(1)
			if sum&1 == 1 {
				sign = -1
			}
			vec[int(sum>>1)%e.Dim] += sign
		}
		var norm float64
		for _, v := range vec {
			norm += float64(v) * float64(v)
		}
		if norm > 0 {
			n := float32(math.Sqrt(norm))
			for j := range vec {
				vec[j] /= n
			}
		}
		result[i] = vec
	}
	return result, nil
}
