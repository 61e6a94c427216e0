package mysql

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"gorm.io/gorm/logger"

	"github.com/wordflowlab/devtrail/pkg/events"
	"github.com/wordflowlab/devtrail/pkg/store"
	"github.com/wordflowlab/devtrail/pkg/store/sqlstore"
	"github.com/wordflowlab/devtrail/pkg/types"
)

// setupMySQLContainer 启动 MySQL 容器用于测试
func setupMySQLContainer(t *testing.T) (s *Store, cleanup func()) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	req := testcontainers.ContainerRequest{
		Image:        "mysql:8.0",
		ExposedPorts: []string{"3306/tcp"},
		Env: map[string]string{
			"MYSQL_ROOT_PASSWORD": "test",
			"MYSQL_DATABASE":      "testdb",
		},
		WaitingFor: wait.ForLog("port: 3306  MySQL Community Server").
			WithStartupTimeout(120 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err, "Failed to start MySQL container")

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "3306")
	require.NoError(t, err)

	s, err = New(&sqlstore.Config{
		DSN: fmt.Sprintf("root:test@tcp(%s:%s)/testdb?charset=utf8mb4&parseTime=True&loc=UTC",
			host, port.Port()),
		MaxIdleConns:    5,
		MaxOpenConns:    10,
		ConnMaxLifetime: time.Hour,
		LogLevel:        logger.Silent,
		AutoMigrate:     true,
	})
	require.NoError(t, err, "Failed to create MySQL store")

	cleanup = func() {
		s.Close()
		container.Terminate(ctx)
	}
	return s, cleanup
}

const repoJSON = `"repository":{"id":1,"name":"hello","full_name":"octo/hello","owner":{"login":"octo"}},"sender":{"login":"alice"}`

func TestMySQLStore(t *testing.T) {
	s, cleanup := setupMySQLContainer(t)
	defer cleanup()
	ctx := context.Background()

	bodies := []struct{ event, body string }{
		{"issues", `{"action":"opened","issue":{"number":1,"title":"Crash when exporting","body":"stack trace attached","state":"open","user":{"login":"alice"},"updated_at":"2024-03-01T00:00:00Z"},` + repoJSON + `}`},
		{"issues", `{"action":"closed","issue":{"number":1,"title":"Crash when exporting","body":"fixed","state":"closed","user":{"login":"alice"},"updated_at":"2024-03-02T00:00:00Z"},` + repoJSON + `}`},
		{"pull_request", `{"action":"opened","pull_request":{"number":2,"title":"Export crashes fixed","state":"open","user":{"login":"bob"},"updated_at":"2024-03-01T12:00:00Z"},` + repoJSON + `}`},
	}
	for _, b := range bodies {
		evs, err := events.Normalize(b.event, []byte(b.body))
		require.NoError(t, err)
		for i := range evs {
			_, err := s.StoreEvent(ctx, &evs[i])
			require.NoError(t, err)
		}
	}

	obj, err := s.GetCanonicalObject(ctx, "github:repo:octo/hello:issue:1")
	require.NoError(t, err)
	assert.Equal(t, "closed", obj.State())
	assert.Equal(t, "fixed", obj.Body)

	results, total, err := s.SearchObjects(ctx, "crashing exports", store.LexicalFilter{})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Len(t, results, 2)

	results, total, err = s.SearchObjects(ctx, "crash", store.LexicalFilter{ObjectType: types.EventTypePullRequest})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, "github:repo:octo/hello:pull_request:2", results[0].Object.ID)

	entries, total, err := s.Timeline(ctx, store.TimelineFilter{})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Equal(t, "issue.closed", entries[0].EventType)

	history, err := s.GetEventHistory(ctx, obj.ID, 0)
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

func TestBooleanQuery(t *testing.T) {
	assert.Equal(t, "+crash* +export*", BooleanQuery("Crashing on the exports"))
	assert.Equal(t, "+crash*", BooleanQuery("crash crashes"))
	assert.Equal(t, "", BooleanQuery("the a of"))
	// 用户输入中的全文检索运算符在分词时被丢弃
	assert.Equal(t, "+foo* +bar*", BooleanQuery(`-foo "bar" @`))

	// 前缀必须能匹配用户输入的原词
	for _, word := range []string{"dependencies", "queries", "retries", "merged", "releases", "query"} {
		bq := BooleanQuery(word)
		term := strings.TrimSuffix(strings.TrimPrefix(bq, "+"), "*")
		assert.True(t, strings.HasPrefix(word, term), "%q -> %q", word, bq)
	}
	assert.Equal(t, "+depend*", BooleanQuery("dependencies"))
	assert.Equal(t, "+merg*", BooleanQuery("merged"))
	assert.Equal(t, "+releas*", BooleanQuery("releases"))
}
