// Package search 组合全文检索与语义检索, 用 RRF 融合两路结果。
package search

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/wordflowlab/devtrail/pkg/logging"
	"github.com/wordflowlab/devtrail/pkg/rrf"
	"github.com/wordflowlab/devtrail/pkg/semantic"
	"github.com/wordflowlab/devtrail/pkg/store"
	"github.com/wordflowlab/devtrail/pkg/types"
)

// ErrDegraded 语义侧未配置、不可用或超时, 混合检索无法完成
var ErrDegraded = errors.New("hybrid search degraded")

// 混合检索限制
const (
	DefaultHybridLimit = 20
	MaxHybridLimit     = 50
	// MinSemanticHits 全文无命中时, 语义命中少于该值直接返回空结果
	MinSemanticHits = 3
)

// Backend 检索所需的存储能力
type Backend interface {
	store.LexicalSearcher
	store.ObjectReader
}

// SemanticSearcher 语义检索
type SemanticSearcher interface {
	Search(ctx context.Context, query string, opts semantic.Options) ([]types.VectorResult, error)
}

// Config 检索调优参数, 可热更新
type Config struct {
	RRFK              int
	MinRRFScore       float64
	SemanticThreshold float64
	SemanticTimeout   time.Duration
	KeywordLimit      int
	SemanticLimit     int
}

// DefaultConfig 默认调优参数
func DefaultConfig() Config {
	return Config{
		RRFK:              rrf.DefaultK,
		MinRRFScore:       0.01,
		SemanticThreshold: semantic.DefaultThreshold,
		SemanticTimeout:   5 * time.Second,
		KeywordLimit:      50,
		SemanticLimit:     50,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.RRFK <= 0 {
		c.RRFK = def.RRFK
	}
	if c.MinRRFScore <= 0 {
		c.MinRRFScore = def.MinRRFScore
	}
	if c.SemanticThreshold <= 0 {
		c.SemanticThreshold = def.SemanticThreshold
	}
	if c.SemanticTimeout <= 0 {
		c.SemanticTimeout = def.SemanticTimeout
	}
	c.KeywordLimit = store.ClampLimit(c.KeywordLimit, def.KeywordLimit, store.MaxLexicalLimit)
	c.SemanticLimit = store.ClampLimit(c.SemanticLimit, def.SemanticLimit, semantic.MaxSearchLimit)
	return c
}

// Service 检索服务
type Service struct {
	backend  Backend
	semantic SemanticSearcher
	tracer   trace.Tracer

	mu  sync.RWMutex
	cfg Config
}

// NewService 创建检索服务; sem 为 nil 时语义与混合检索返回降级错误
func NewService(backend Backend, sem SemanticSearcher, cfg Config) *Service {
	return &Service{
		backend:  backend,
		semantic: sem,
		tracer:   otel.Tracer("github.com/wordflowlab/devtrail/pkg/search"),
		cfg:      cfg.withDefaults(),
	}
}

// Config 当前调优参数
func (s *Service) Config() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// UpdateConfig 替换调优参数, 对之后的请求生效
func (s *Service) UpdateConfig(cfg Config) {
	s.mu.Lock()
	s.cfg = cfg.withDefaults()
	s.mu.Unlock()
}

// LexicalPage 全文检索分页结果
type LexicalPage struct {
	Results    []types.LexicalResult
	Pagination types.Pagination
}

// Lexical 全文检索; 空查询返回空结果
func (s *Service) Lexical(ctx context.Context, query string, filter store.LexicalFilter) (*LexicalPage, error) {
	filter = filter.Normalize()
	query = strings.TrimSpace(query)
	if query == "" {
		return &LexicalPage{Results: []types.LexicalResult{}, Pagination: types.NewPagination(filter.Limit, filter.Offset, 0)}, nil
	}

	ctx, span := s.tracer.Start(ctx, "search.lexical")
	defer span.End()

	results, total, err := s.backend.SearchObjects(ctx, query, filter)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("lexical search: %w", err)
	}
	span.SetAttributes(attribute.Int("search.results", len(results)))
	if results == nil {
		results = []types.LexicalResult{}
	}
	return &LexicalPage{Results: results, Pagination: types.NewPagination(filter.Limit, filter.Offset, total)}, nil
}

// Semantic 语义检索, 错误为 semantic.ErrEmbedderNotConfigured 或 semantic.ErrUnavailable
func (s *Service) Semantic(ctx context.Context, query string, opts semantic.Options) ([]types.VectorResult, error) {
	if s.semantic == nil {
		return nil, semantic.ErrEmbedderNotConfigured
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return []types.VectorResult{}, nil
	}
	cfg := s.Config()
	if opts.ScoreThreshold <= 0 {
		opts.ScoreThreshold = cfg.SemanticThreshold
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.SemanticTimeout)
	defer cancel()
	ctx, span := s.tracer.Start(ctx, "search.semantic")
	defer span.End()

	results, err := s.semantic.Search(ctx, query, opts)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if !semantic.IsDegraded(err) {
			err = fmt.Errorf("%w: %w", semantic.ErrUnavailable, err)
		}
		return nil, err
	}
	span.SetAttributes(attribute.Int("search.results", len(results)))
	if results == nil {
		results = []types.VectorResult{}
	}
	return results, nil
}

// HybridOptions 混合检索参数, 零值字段取 Config 中的默认值
type HybridOptions struct {
	ObjectType        types.EventType
	Repository        string
	Limit             int
	Offset            int
	RRFK              int
	KeywordLimit      int
	SemanticLimit     int
	MinSources        int
	SemanticThreshold float64
	IncludeStats      bool
}

// HybridStats 混合检索过程统计
type HybridStats struct {
	KeywordCandidates  int                     `json:"keyword_candidates"`
	SemanticCandidates int                     `json:"semantic_candidates"`
	Fused              int                     `json:"fused"`
	DroppedByScore     int                     `json:"dropped_by_score"`
	MissingObjects     int                     `json:"missing_objects"`
	Gated              bool                    `json:"gated"`
	MatchTypes         map[types.MatchType]int `json:"match_types"`
	KeywordMillis      int64                   `json:"keyword_ms"`
	SemanticMillis     int64                   `json:"semantic_ms"`
	TotalMillis        int64                   `json:"total_ms"`
}

// HybridPage 混合检索分页结果
type HybridPage struct {
	Results    []types.HybridResult
	Pagination types.Pagination
	Stats      *HybridStats
}

// Hybrid 并发执行两路检索并融合。
// 语义侧失败或超时返回包装了原因的 ErrDegraded, 不退化为纯全文结果。
func (s *Service) Hybrid(ctx context.Context, query string, opts HybridOptions) (*HybridPage, error) {
	start := time.Now()
	cfg := s.Config()
	opts = s.resolve(cfg, opts)
	stats := &HybridStats{MatchTypes: map[types.MatchType]int{}}

	page := &HybridPage{Results: []types.HybridResult{}}
	finish := func() (*HybridPage, error) {
		stats.TotalMillis = time.Since(start).Milliseconds()
		if page.Pagination.Limit == 0 {
			page.Pagination = types.NewPagination(opts.Limit, opts.Offset, 0)
		}
		if opts.IncludeStats {
			page.Stats = stats
		}
		return page, nil
	}

	query = strings.TrimSpace(query)
	if query == "" {
		return finish()
	}
	if s.semantic == nil {
		return nil, fmt.Errorf("%w: %w", ErrDegraded, semantic.ErrEmbedderNotConfigured)
	}

	var (
		lexical []types.LexicalResult
		vectors []types.VectorResult
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		t0 := time.Now()
		defer func() { stats.KeywordMillis = time.Since(t0).Milliseconds() }()

		lctx, span := s.tracer.Start(gctx, "search.lexical")
		defer span.End()
		res, _, err := s.backend.SearchObjects(lctx, query, store.LexicalFilter{
			ObjectType: opts.ObjectType,
			Repository: opts.Repository,
			Limit:      opts.KeywordLimit,
		})
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return fmt.Errorf("lexical search: %w", err)
		}
		span.SetAttributes(attribute.Int("search.results", len(res)))
		lexical = res
		return nil
	})
	g.Go(func() error {
		t0 := time.Now()
		defer func() { stats.SemanticMillis = time.Since(t0).Milliseconds() }()

		sctx, cancel := context.WithTimeout(gctx, cfg.SemanticTimeout)
		defer cancel()
		sctx, span := s.tracer.Start(sctx, "search.semantic")
		defer span.End()
		res, err := s.semantic.Search(sctx, query, semantic.Options{
			Limit:          opts.SemanticLimit,
			ObjectType:     opts.ObjectType,
			Repository:     opts.Repository,
			ScoreThreshold: opts.SemanticThreshold,
		})
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return fmt.Errorf("%w: %w", ErrDegraded, err)
		}
		span.SetAttributes(attribute.Int("search.results", len(res)))
		vectors = res
		return nil
	})
	if err := g.Wait(); err != nil {
		if errors.Is(err, ErrDegraded) {
			logging.Warn(ctx, "search.degraded", map[string]interface{}{
				"query": query,
				"error": err.Error(),
			})
		}
		return nil, err
	}

	stats.KeywordCandidates = len(lexical)
	stats.SemanticCandidates = len(vectors)
	if len(lexical) == 0 && len(vectors) < MinSemanticHits {
		stats.Gated = true
		return finish()
	}

	_, span := s.tracer.Start(ctx, "search.fuse")
	fused := s.fuse(lexical, vectors, opts)
	stats.Fused = len(fused)

	kept := fused[:0]
	for _, r := range fused {
		if r.Score < cfg.MinRRFScore {
			stats.DroppedByScore++
			continue
		}
		kept = append(kept, r)
	}
	kept = rrf.Normalize(kept)
	span.SetAttributes(attribute.Int("search.fused", len(fused)), attribute.Int("search.kept", len(kept)))
	span.End()

	ids := make([]string, len(kept))
	for i, r := range kept {
		ids[i] = r.ID
	}
	objects, err := s.backend.GetCanonicalObjects(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("fetch canonical objects: %w", err)
	}

	results := make([]types.HybridResult, 0, len(kept))
	for _, r := range kept {
		obj, ok := objects[r.ID]
		if !ok {
			stats.MissingObjects++
			continue
		}
		hr := types.HybridResult{
			Object:          obj,
			RRFScore:        r.Score,
			NormalizedScore: r.NormalizedScore,
			MatchType:       rrf.Classify(r.Contributions),
		}
		if c, ok := r.Contribution(rrf.SourceKeyword); ok {
			hr.KeywordRank, hr.KeywordScore = c.Rank, c.Score
		}
		if c, ok := r.Contribution(rrf.SourceSemantic); ok {
			hr.SemanticRank, hr.SemanticScore = c.Rank, c.Score
		}
		stats.MatchTypes[hr.MatchType]++
		results = append(results, hr)
	}

	page.Pagination = types.NewPagination(opts.Limit, opts.Offset, len(results))
	if opts.Offset < len(results) {
		end := opts.Offset + opts.Limit
		if end > len(results) {
			end = len(results)
		}
		page.Results = results[opts.Offset:end]
	}
	return finish()
}

func (s *Service) resolve(cfg Config, opts HybridOptions) HybridOptions {
	opts.Limit = store.ClampLimit(opts.Limit, DefaultHybridLimit, MaxHybridLimit)
	if opts.Offset < 0 {
		opts.Offset = 0
	}
	if opts.RRFK <= 0 {
		opts.RRFK = cfg.RRFK
	}
	opts.KeywordLimit = store.ClampLimit(opts.KeywordLimit, cfg.KeywordLimit, store.MaxLexicalLimit)
	opts.SemanticLimit = store.ClampLimit(opts.SemanticLimit, cfg.SemanticLimit, semantic.MaxSearchLimit)
	if opts.MinSources <= 0 {
		opts.MinSources = 1
	}
	if opts.MinSources > 2 {
		opts.MinSources = 2
	}
	if opts.SemanticThreshold <= 0 {
		opts.SemanticThreshold = cfg.SemanticThreshold
	}
	return opts
}

func (s *Service) fuse(lexical []types.LexicalResult, vectors []types.VectorResult, opts HybridOptions) []rrf.Result {
	kw := rrf.RankedList{Source: rrf.SourceKeyword}
	for _, r := range lexical {
		if r.Object == nil {
			continue
		}
		kw.IDs = append(kw.IDs, r.Object.ID)
		kw.Scores = append(kw.Scores, r.Score)
	}
	sem := rrf.RankedList{Source: rrf.SourceSemantic}
	for _, v := range vectors {
		sem.IDs = append(sem.IDs, v.ObjectID)
		sem.Scores = append(sem.Scores, v.Similarity)
	}
	return rrf.Fuse([]rrf.RankedList{kw, sem}, rrf.Options{K: opts.RRFK, MinSources: opts.MinSources})
}
