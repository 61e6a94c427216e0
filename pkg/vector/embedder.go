package vector

import "context"

// Embedder 批量将文本转换为向量。
// 返回的切片与输入一一对应。
type Embedder interface {
	EmbedText(ctx context.Context, texts []string) ([][]float32, error)
}

// EmbedderFunc 将函数适配为 Embedder
type EmbedderFunc func(ctx context.Context, texts []string) ([][]float32, error)

// EmbedText 实现 Embedder
func (f EmbedderFunc) EmbedText(ctx context.Context, texts []string) ([][]float32, error) {
	return f(ctx, texts)
}
