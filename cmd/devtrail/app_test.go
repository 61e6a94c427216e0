package main

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wordflowlab/devtrail/pkg/appconfig"
	"github.com/wordflowlab/devtrail/pkg/store"
	"github.com/wordflowlab/devtrail/pkg/vector"
)

func TestOpenStore(t *testing.T) {
	st, err := openStore(appconfig.DatabaseConfig{Driver: "memory"})
	require.NoError(t, err)
	_, ok := st.(*store.MemoryStore)
	assert.True(t, ok)
	assert.NoError(t, st.Close())

	_, err = openStore(appconfig.DatabaseConfig{Driver: "sqlite"})
	assert.ErrorContains(t, err, "unknown database driver")
}

func TestNewEmbedder(t *testing.T) {
	e, err := newEmbedder(appconfig.EmbedderConfig{Kind: "none"})
	require.NoError(t, err)
	assert.Nil(t, e)

	e, err = newEmbedder(appconfig.EmbedderConfig{Kind: "mock", Dimension: 32})
	require.NoError(t, err)
	mock, ok := e.(*vector.MockEmbedder)
	require.True(t, ok)
	assert.Equal(t, 32, mock.Dim)

	_, err = newEmbedder(appconfig.EmbedderConfig{Kind: "openai"})
	assert.ErrorContains(t, err, "api_key")

	e, err = newEmbedder(appconfig.EmbedderConfig{Kind: "openai", APIKey: "sk-test", Dimension: 256, Timeout: time.Second})
	require.NoError(t, err)
	oa, ok := e.(*vector.OpenAIEmbedder)
	require.True(t, ok)
	assert.Equal(t, 256, oa.Dimensions)

	_, err = newEmbedder(appconfig.EmbedderConfig{Kind: "voyage"})
	assert.Error(t, err)
}

func TestNewAppMemory(t *testing.T) {
	cfg := appconfig.Default()
	cfg.Vector.Kind = "memory"
	cfg.Embedder.Kind = "mock"

	a, err := newApp(context.Background(), cfg)
	require.NoError(t, err)
	defer a.Close()

	assert.True(t, a.indexer.Enabled())
	assert.NotNil(t, a.vectors)
	assert.Len(t, a.closers, 2)
}

func TestNewAppWithoutSemantic(t *testing.T) {
	cfg := appconfig.Default()
	cfg.Vector.Kind = "none"
	cfg.Embedder.Kind = "none"

	a, err := newApp(context.Background(), cfg)
	require.NoError(t, err)
	defer a.Close()

	assert.False(t, a.indexer.Enabled())
	assert.Nil(t, a.vectors)
}

func TestSearchConfig(t *testing.T) {
	sc := searchConfig(appconfig.SearchConfig{
		RRFK:              30,
		MinRRFScore:       0.02,
		SemanticThreshold: 0.5,
		SemanticTimeout:   2 * time.Second,
		KeywordLimit:      40,
		SemanticLimit:     25,
	})
	assert.Equal(t, 30, sc.RRFK)
	assert.Equal(t, 0.02, sc.MinRRFScore)
	assert.Equal(t, 0.5, sc.SemanticThreshold)
	assert.Equal(t, 2*time.Second, sc.SemanticTimeout)
	assert.Equal(t, 40, sc.KeywordLimit)
	assert.Equal(t, 25, sc.SemanticLimit)
}
