package appconfig

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 60, cfg.Search.RRFK)
	assert.Equal(t, 0.35, cfg.Search.SemanticThreshold)
	assert.Equal(t, 0.01, cfg.Search.MinRRFScore)
	assert.Equal(t, 5*time.Second, cfg.Search.SemanticTimeout)
	assert.Equal(t, "english", cfg.Database.TextSearchConfig)
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "devtrail.yaml")
	writeFile(t, path, `
server:
  port: 9000
database:
  driver: postgres
  dsn: postgres://u:p@localhost/devtrail
vector:
  kind: pgvector
  dimension: 8
webhook:
  secret: abc
  allowed_repositories: ["octo/*"]
search:
  semantic_timeout: 2s
  rrf_k: 30
`)
	t.Setenv(EnvLogLevel, "debug")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	// pgvector 未配置时使用数据库 DSN
	assert.Equal(t, cfg.Database.DSN, cfg.Vector.DSN)
	assert.Equal(t, []string{"octo/*"}, cfg.Webhook.AllowedRepositories)
	assert.Equal(t, 2*time.Second, cfg.Search.SemanticTimeout)
	assert.Equal(t, 30, cfg.Search.RRFK)
	// 未设置的键保持默认值
	assert.Equal(t, 0.35, cfg.Search.SemanticThreshold)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestApplyEnv(t *testing.T) {
	cfg := Default()
	env := map[string]string{
		EnvDatabaseDSN:   "mysql://x",
		EnvWebhookSecret: "s",
		EnvOpenAIAPIKey:  "sk-test",
		EnvVectorDSN:     "postgres://v",
	}
	cfg.ApplyEnv(func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	})
	assert.Equal(t, "mysql://x", cfg.Database.DSN)
	assert.Equal(t, "s", cfg.Webhook.Secret)
	assert.Equal(t, "sk-test", cfg.Embedder.APIKey)
	assert.Equal(t, "postgres://v", cfg.Vector.DSN)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown driver", func(c *Config) { c.Database.Driver = "oracle" }},
		{"postgres without dsn", func(c *Config) { c.Database.Driver = "postgres" }},
		{"pgvector without dsn", func(c *Config) { c.Vector.Kind = "pgvector" }},
		{"unknown embedder", func(c *Config) { c.Embedder.Kind = "bert" }},
		{"bad port", func(c *Config) { c.Server.Port = 0 }},
		{"negative k", func(c *Config) { c.Search.RRFK = -1 }},
		{"threshold out of range", func(c *Config) { c.Search.SemanticThreshold = 1.5 }},
		{"jwt without secret", func(c *Config) { c.Auth.JWT.Enabled = true }},
		{"unknown mode", func(c *Config) { c.Server.Mode = "staging" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	writeFile(t, path, "server: [")
	_, err = Load(path)
	assert.Error(t, err)
}

func TestWatchReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "devtrail.yaml")
	writeFile(t, path, "search:\n  rrf_k: 60\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes := make(chan *Config, 1)
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, path, func(c *Config) {
			select {
			case changes <- c:
			default:
			}
		}, nil)
	}()

	// 等待 watcher 注册完成
	time.Sleep(100 * time.Millisecond)
	writeFile(t, path, "search:\n  rrf_k: 15\n")

	select {
	case cfg := <-changes:
		assert.Equal(t, 15, cfg.Search.RRFK)
	case <-time.After(5 * time.Second):
		t.Fatal("config change not observed")
	}

	cancel()
	require.NoError(t, <-done)
}
