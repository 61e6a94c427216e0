package pgvector

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/wordflowlab/devtrail/pkg/vector"
)

func TestLiteral(t *testing.T) {
	assert.Equal(t, "[1,0.5,-2]", Literal([]float32{1, 0.5, -2}))
	assert.Equal(t, "[]", Literal(nil))
}

func TestDistanceToScore(t *testing.T) {
	assert.Equal(t, 1.0, DistanceToScore(0))
	assert.Equal(t, 0.0, DistanceToScore(1))
	assert.Equal(t, -1.0, DistanceToScore(2.5))
}

func TestBuildQuery(t *testing.T) {
	s := &Store{table: "object_embeddings", dim: 2}
	q, args := s.buildQuery(vector.Query{
		Vector:   []float32{1, 0},
		Filter:   map[string]string{"repository": "acme/widgets", "object_type": "issue"},
		MinScore: 0.35,
	}, 10)

	assert.Contains(t, q, "payload->>$2 = $3 AND payload->>$4 = $5")
	assert.Contains(t, q, "(embedding <=> $1::text::vector) <= $6")
	assert.Contains(t, q, "LIMIT $7")
	require.Len(t, args, 7)
	assert.Equal(t, "[1,0]", args[0])
	assert.Equal(t, "object_type", args[1])
	assert.InDelta(t, 0.65, args[5].(float64), 1e-9)
	assert.Equal(t, 10, args[6])
}

func TestScanSettings(t *testing.T) {
	s := &Store{table: "object_embeddings", dim: 2}

	assert.Equal(t, []string{"SET LOCAL hnsw.ef_search = 40"},
		s.scanSettings(vector.Query{}, 5))
	assert.Equal(t, []string{"SET LOCAL hnsw.ef_search = 50"},
		s.scanSettings(vector.Query{}, 50))
	assert.Equal(t, []string{"SET LOCAL hnsw.ef_search = 500"},
		s.scanSettings(vector.Query{Filter: map[string]string{"repository": "acme/widgets"}}, 50))
	assert.Equal(t, []string{"SET LOCAL hnsw.ef_search = 1000"},
		s.scanSettings(vector.Query{MinScore: 0.35}, 200))

	s.iterativeScan = true
	assert.Equal(t, []string{
		"SET LOCAL hnsw.ef_search = 500",
		"SET LOCAL hnsw.iterative_scan = relaxed_order",
	}, s.scanSettings(vector.Query{Filter: map[string]string{"object_type": "issue"}}, 50))
	assert.Len(t, s.scanSettings(vector.Query{}, 50), 1)
}

func TestSupportsIterativeScan(t *testing.T) {
	assert.True(t, SupportsIterativeScan("0.8.0"))
	assert.True(t, SupportsIterativeScan("0.10.1"))
	assert.True(t, SupportsIterativeScan("1.0"))
	assert.False(t, SupportsIterativeScan("0.7.4"))
	assert.False(t, SupportsIterativeScan(""))
	assert.False(t, SupportsIterativeScan("dev"))
}

func TestNewValidatesConfig(t *testing.T) {
	ctx := context.Background()
	_, err := New(ctx, nil)
	assert.Error(t, err)
	_, err = New(ctx, &Config{DSN: "postgres://x", Dimension: 0})
	assert.Error(t, err)
	_, err = New(ctx, &Config{DSN: "postgres://x", Dimension: 3, Table: "bad;table"})
	assert.Error(t, err)
}

func TestStoreIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping pgvector integration test in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	ctr, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "pgvector/pgvector:pg16",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "devtrail",
				"POSTGRES_PASSWORD": "devtrail",
				"POSTGRES_DB":       "devtrail",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).WithStartupTimeout(90 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = ctr.Terminate(ctx) })

	host, err := ctr.Host(ctx)
	require.NoError(t, err)
	port, err := ctr.MappedPort(ctx, "5432")
	require.NoError(t, err)

	s, err := New(ctx, &Config{
		DSN:          "postgres://devtrail:devtrail@" + host + ":" + port.Port() + "/devtrail?sslmode=disable",
		Dimension:    3,
		EnsureSchema: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Ping(ctx))

	issueID := vector.ObjectUUID("github:repo:acme/widgets:issue:1")
	prID := vector.ObjectUUID("github:repo:acme/widgets:pull_request:2")
	require.NoError(t, s.Upsert(ctx, []vector.Document{
		{ID: issueID, Embedding: []float32{1, 0, 0}, Metadata: map[string]interface{}{
			"object_id": "github:repo:acme/widgets:issue:1", "object_type": "issue",
		}},
		{ID: prID, Embedding: []float32{0.8, 0.6, 0}, Metadata: map[string]interface{}{
			"object_id": "github:repo:acme/widgets:pull_request:2", "object_type": "pull_request",
		}},
	}))

	hits, err := s.Query(ctx, vector.Query{Vector: []float32{1, 0, 0}, TopK: 5})
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, issueID, hits[0].ID)
	assert.InDelta(t, 1.0, hits[0].Score, 1e-5)
	assert.Equal(t, "github:repo:acme/widgets:issue:1", hits[0].Metadata["object_id"])

	hits, err = s.Query(ctx, vector.Query{Vector: []float32{1, 0, 0}, TopK: 5, Filter: map[string]string{"object_type": "pull_request"}})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, prID, hits[0].ID)

	hits, err = s.Query(ctx, vector.Query{Vector: []float32{0, 0, 1}, TopK: 5, MinScore: 0.35})
	require.NoError(t, err)
	assert.Empty(t, hits)

	require.NoError(t, s.Delete(ctx, []string{issueID}))
	hits, err = s.Query(ctx, vector.Query{Vector: []float32{1, 0, 0}, TopK: 5})
	require.NoError(t, err)
	assert.Len(t, hits, 1)

	t.Run("filtered query beyond default ef_search", func(t *testing.T) {
		// 95 near neighbours from another repository crowd out the 5 matching vectors
		var docs []vector.Document
		for i := 0; i < 95; i++ {
			objectID := fmt.Sprintf("github:repo:acme/other:issue:%d", i)
			docs = append(docs, vector.Document{
				ID:        vector.ObjectUUID(objectID),
				Embedding: []float32{1, float32(i) / 1000, 0},
				Metadata:  map[string]interface{}{"object_id": objectID, "repository": "acme/other"},
			})
		}
		for i := 0; i < 5; i++ {
			objectID := fmt.Sprintf("github:repo:acme/widgets:issue:%d", i)
			docs = append(docs, vector.Document{
				ID:        vector.ObjectUUID(objectID),
				Embedding: []float32{0.1 * float32(i+1), 1, 0},
				Metadata:  map[string]interface{}{"object_id": objectID, "repository": "acme/widgets"},
			})
		}
		require.NoError(t, s.Upsert(ctx, docs))

		hits, err := s.Query(ctx, vector.Query{
			Vector: []float32{1, 0, 0},
			TopK:   50,
			Filter: map[string]string{"repository": "acme/widgets"},
		})
		require.NoError(t, err)
		require.Len(t, hits, 5)
		for i := 1; i < len(hits); i++ {
			assert.GreaterOrEqual(t, hits[i-1].Score, hits[i].Score)
		}
		assert.Equal(t, "acme/widgets", hits[0].Metadata["repository"])
	})
}
