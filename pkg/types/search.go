package types

// MatchType 混合检索结果的命中来源
type MatchType string

const (
	MatchKeyword  MatchType = "keyword"
	MatchSemantic MatchType = "semantic"
	MatchHybrid   MatchType = "hybrid"
)

// LexicalResult 全文检索命中
type LexicalResult struct {
	Object *CanonicalObject `json:"object"`
	Rank   int              `json:"rank"`
	Score  float64          `json:"score"`
}

// VectorResult 向量检索命中
type VectorResult struct {
	ObjectID   string                 `json:"object_id"`
	VectorID   string                 `json:"vector_id"`
	Similarity float64                `json:"similarity"`
	Payload    map[string]interface{} `json:"payload,omitempty"`
}

// HybridResult 融合后的检索结果
type HybridResult struct {
	Object          *CanonicalObject `json:"object"`
	KeywordRank     int              `json:"keyword_rank,omitempty"`
	KeywordScore    float64          `json:"keyword_score,omitempty"`
	SemanticRank    int              `json:"semantic_rank,omitempty"`
	SemanticScore   float64          `json:"semantic_score,omitempty"`
	RRFScore        float64          `json:"rrf_score"`
	NormalizedScore float64          `json:"normalized_score"`
	MatchType       MatchType        `json:"match_type"`
}
