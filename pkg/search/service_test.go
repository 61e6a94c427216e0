package search

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wordflowlab/devtrail/pkg/semantic"
	"github.com/wordflowlab/devtrail/pkg/store"
	"github.com/wordflowlab/devtrail/pkg/store/storetest"
	"github.com/wordflowlab/devtrail/pkg/types"
	"github.com/wordflowlab/devtrail/pkg/vector"
)

type semanticFunc func(ctx context.Context, query string, opts semantic.Options) ([]types.VectorResult, error)

func (f semanticFunc) Search(ctx context.Context, query string, opts semantic.Options) ([]types.VectorResult, error) {
	return f(ctx, query, opts)
}

// "login"/"oauth" 映射到同一方向, 其余文本正交
func authEmbedder() vector.Embedder {
	return vector.EmbedderFunc(func(ctx context.Context, texts []string) ([][]float32, error) {
		out := make([][]float32, len(texts))
		for i, t := range texts {
			t = strings.ToLower(t)
			switch {
			case strings.Contains(t, "login"), strings.Contains(t, "oauth"):
				out[i] = []float32{1, 0, 0}
			case strings.Contains(t, "deploy"):
				out[i] = []float32{0, 1, 0}
			default:
				out[i] = []float32{0, 0, 1}
			}
		}
		return out, nil
	})
}

func issueID(n int) string {
	return types.ObjectID(types.PlatformGitHub, storetest.Repo, types.EventTypeIssue, n)
}

func prID(n int) string {
	return types.ObjectID(types.PlatformGitHub, storetest.Repo, types.EventTypePullRequest, n)
}

func newFixture(t *testing.T, evs ...*types.InternalEvent) (*store.MemoryStore, *semantic.Indexer) {
	t.Helper()
	ctx := context.Background()
	s := store.NewMemoryStore()
	storetest.Seed(t, s, evs...)

	ix := semantic.NewIndexer(semantic.Config{Embedder: authEmbedder(), Store: vector.NewMemoryStore()})
	_, err := ix.Resync(ctx, s, 100)
	require.NoError(t, err)
	return s, ix
}

func defaultEvents() []*types.InternalEvent {
	return []*types.InternalEvent{
		storetest.Event(types.EventTypeIssue, 1, "Login fails on Safari", "Users cannot sign in."),
		storetest.Event(types.EventTypePullRequest, 2, "Fix login redirect", "Redirect after sign in."),
		storetest.Event(types.EventTypeIssue, 3, "Deploy script broken", "CI deploy stage fails."),
	}
}

func TestHybridFusesBothLegs(t *testing.T) {
	s, ix := newFixture(t, defaultEvents()...)
	svc := NewService(s, ix, DefaultConfig())

	page, err := svc.Hybrid(context.Background(), "login", HybridOptions{IncludeStats: true})
	require.NoError(t, err)
	require.Len(t, page.Results, 2)

	for _, r := range page.Results {
		assert.Equal(t, types.MatchHybrid, r.MatchType)
		assert.Positive(t, r.KeywordRank)
		assert.Positive(t, r.SemanticRank)
		assert.Greater(t, r.RRFScore, 0.01)
		assert.Contains(t, []string{issueID(1), prID(2)}, r.Object.ID)
	}
	assert.GreaterOrEqual(t, page.Results[0].RRFScore, page.Results[1].RRFScore)
	assert.Equal(t, 1.0, page.Results[0].NormalizedScore)

	require.NotNil(t, page.Stats)
	assert.Equal(t, 2, page.Stats.KeywordCandidates)
	assert.Equal(t, 2, page.Stats.SemanticCandidates)
	assert.Equal(t, 2, page.Stats.MatchTypes[types.MatchHybrid])
	assert.False(t, page.Stats.Gated)
	assert.Equal(t, 2, page.Pagination.Total)
}

func TestHybridQualityGate(t *testing.T) {
	s, ix := newFixture(t, defaultEvents()...)
	svc := NewService(s, ix, DefaultConfig())

	// 无全文命中, 仅 2 条语义命中
	page, err := svc.Hybrid(context.Background(), "oauth", HybridOptions{IncludeStats: true})
	require.NoError(t, err)
	assert.Empty(t, page.Results)
	assert.Equal(t, 0, page.Pagination.Total)
	assert.True(t, page.Stats.Gated)
	assert.Equal(t, 2, page.Stats.SemanticCandidates)
}

func TestHybridSemanticOnlyPassesGateWithThreeHits(t *testing.T) {
	evs := append(defaultEvents(), storetest.Event(types.EventTypeIssue, 4, "Login timeout", ""))
	s, ix := newFixture(t, evs...)
	svc := NewService(s, ix, DefaultConfig())

	page, err := svc.Hybrid(context.Background(), "oauth", HybridOptions{})
	require.NoError(t, err)
	require.Len(t, page.Results, 3)
	for _, r := range page.Results {
		assert.Equal(t, types.MatchSemantic, r.MatchType)
		assert.Zero(t, r.KeywordRank)
	}
	assert.Nil(t, page.Stats)
}

func TestHybridLimitIsClamped(t *testing.T) {
	s, ix := newFixture(t, defaultEvents()...)
	svc := NewService(s, ix, DefaultConfig())

	page, err := svc.Hybrid(context.Background(), "login", HybridOptions{Limit: 1000})
	require.NoError(t, err)
	assert.Equal(t, MaxHybridLimit, page.Pagination.Limit)
}

func TestHybridObjectTypeFilter(t *testing.T) {
	s, ix := newFixture(t, defaultEvents()...)
	svc := NewService(s, ix, DefaultConfig())

	page, err := svc.Hybrid(context.Background(), "login", HybridOptions{ObjectType: types.EventTypeIssue})
	require.NoError(t, err)
	require.NotEmpty(t, page.Results)
	for _, r := range page.Results {
		assert.Equal(t, types.EventTypeIssue, r.Object.ObjectType)
	}
}

func TestHybridMinSources(t *testing.T) {
	s, _ := newFixture(t, defaultEvents()...)
	sem := semanticFunc(func(ctx context.Context, q string, opts semantic.Options) ([]types.VectorResult, error) {
		return []types.VectorResult{
			{ObjectID: issueID(3), Similarity: 0.9},
			{ObjectID: issueID(1), Similarity: 0.8},
		}, nil
	})
	svc := NewService(s, sem, DefaultConfig())

	page, err := svc.Hybrid(context.Background(), "login", HybridOptions{MinSources: 2})
	require.NoError(t, err)
	require.Len(t, page.Results, 1)
	assert.Equal(t, issueID(1), page.Results[0].Object.ID)
	assert.Equal(t, 0.8, page.Results[0].SemanticScore)
}

func TestHybridDropsMissingObjects(t *testing.T) {
	s, _ := newFixture(t, defaultEvents()...)
	sem := semanticFunc(func(ctx context.Context, q string, opts semantic.Options) ([]types.VectorResult, error) {
		return []types.VectorResult{
			{ObjectID: issueID(1), Similarity: 0.9},
			{ObjectID: issueID(404), Similarity: 0.8},
			{ObjectID: prID(2), Similarity: 0.7},
		}, nil
	})
	svc := NewService(s, sem, DefaultConfig())

	page, err := svc.Hybrid(context.Background(), "unmatched words", HybridOptions{IncludeStats: true})
	require.NoError(t, err)
	require.Len(t, page.Results, 2)
	assert.Equal(t, issueID(1), page.Results[0].Object.ID)
	assert.Equal(t, prID(2), page.Results[1].Object.ID)
	assert.Equal(t, 1, page.Stats.MissingObjects)
}

func TestHybridScoreGate(t *testing.T) {
	s, _ := newFixture(t, defaultEvents()...)
	sem := semanticFunc(func(ctx context.Context, q string, opts semantic.Options) ([]types.VectorResult, error) {
		return nil, nil
	})
	// k=200 时单一来源的最高分 1/201 低于 0.01
	svc := NewService(s, sem, Config{RRFK: 200, MinRRFScore: 0.01})

	page, err := svc.Hybrid(context.Background(), "login", HybridOptions{IncludeStats: true})
	require.NoError(t, err)
	assert.Empty(t, page.Results)
	assert.Equal(t, 2, page.Stats.DroppedByScore)
}

func TestHybridPagination(t *testing.T) {
	evs := append(defaultEvents(), storetest.Event(types.EventTypeIssue, 4, "Login timeout", ""))
	s, ix := newFixture(t, evs...)
	svc := NewService(s, ix, DefaultConfig())

	all, err := svc.Hybrid(context.Background(), "login", HybridOptions{})
	require.NoError(t, err)
	require.Len(t, all.Results, 3)

	page, err := svc.Hybrid(context.Background(), "login", HybridOptions{Limit: 2, Offset: 2})
	require.NoError(t, err)
	require.Len(t, page.Results, 1)
	assert.Equal(t, all.Results[2].Object.ID, page.Results[0].Object.ID)
	assert.Equal(t, 3, page.Pagination.Total)
	assert.False(t, page.Pagination.HasMore)
}

func TestHybridDegraded(t *testing.T) {
	s, _ := newFixture(t, defaultEvents()...)
	ctx := context.Background()

	_, err := NewService(s, nil, DefaultConfig()).Hybrid(ctx, "login", HybridOptions{})
	assert.ErrorIs(t, err, ErrDegraded)
	assert.ErrorIs(t, err, semantic.ErrEmbedderNotConfigured)

	cause := errors.New("vector store down")
	failing := semanticFunc(func(ctx context.Context, q string, opts semantic.Options) ([]types.VectorResult, error) {
		return nil, cause
	})
	_, err = NewService(s, failing, DefaultConfig()).Hybrid(ctx, "login", HybridOptions{})
	assert.ErrorIs(t, err, ErrDegraded)
	assert.ErrorIs(t, err, cause)
}

func TestHybridSemanticTimeout(t *testing.T) {
	s, _ := newFixture(t, defaultEvents()...)
	slow := semanticFunc(func(ctx context.Context, q string, opts semantic.Options) ([]types.VectorResult, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	cfg := DefaultConfig()
	cfg.SemanticTimeout = 20 * time.Millisecond
	svc := NewService(s, slow, cfg)

	_, err := svc.Hybrid(context.Background(), "login", HybridOptions{})
	assert.ErrorIs(t, err, ErrDegraded)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestHybridEmptyQuery(t *testing.T) {
	svc := NewService(store.NewMemoryStore(), nil, DefaultConfig())
	page, err := svc.Hybrid(context.Background(), "   ", HybridOptions{})
	require.NoError(t, err)
	assert.Empty(t, page.Results)
}

func TestLexical(t *testing.T) {
	s, _ := newFixture(t, defaultEvents()...)
	svc := NewService(s, nil, DefaultConfig())
	ctx := context.Background()

	page, err := svc.Lexical(ctx, "deploy", store.LexicalFilter{})
	require.NoError(t, err)
	require.Len(t, page.Results, 1)
	assert.Equal(t, issueID(3), page.Results[0].Object.ID)
	assert.Equal(t, store.DefaultLexicalLimit, page.Pagination.Limit)

	page, err = svc.Lexical(ctx, "  ", store.LexicalFilter{Limit: 500})
	require.NoError(t, err)
	assert.Empty(t, page.Results)
	assert.Equal(t, store.MaxLexicalLimit, page.Pagination.Limit)
}

func TestSemantic(t *testing.T) {
	s, ix := newFixture(t, defaultEvents()...)
	ctx := context.Background()

	results, err := NewService(s, ix, DefaultConfig()).Semantic(ctx, "oauth", semantic.Options{ObjectType: types.EventTypePullRequest})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, prID(2), results[0].ObjectID)

	_, err = NewService(s, nil, DefaultConfig()).Semantic(ctx, "oauth", semantic.Options{})
	assert.ErrorIs(t, err, semantic.ErrEmbedderNotConfigured)
}

func TestUpdateConfig(t *testing.T) {
	svc := NewService(store.NewMemoryStore(), nil, Config{})
	assert.Equal(t, DefaultConfig(), svc.Config())

	svc.UpdateConfig(Config{RRFK: 10, MinRRFScore: 0.02})
	assert.Equal(t, 10, svc.Config().RRFK)
	assert.Equal(t, 0.02, svc.Config().MinRRFScore)
	assert.Equal(t, 5*time.Second, svc.Config().SemanticTimeout)
}
