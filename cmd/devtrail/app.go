package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/wordflowlab/devtrail/pkg/appconfig"
	"github.com/wordflowlab/devtrail/pkg/logging"
	"github.com/wordflowlab/devtrail/pkg/semantic"
	"github.com/wordflowlab/devtrail/pkg/store"
	"github.com/wordflowlab/devtrail/pkg/store/mysql"
	"github.com/wordflowlab/devtrail/pkg/store/postgres"
	"github.com/wordflowlab/devtrail/pkg/store/sqlstore"
	"github.com/wordflowlab/devtrail/pkg/vector"
	"github.com/wordflowlab/devtrail/pkg/vector/pgvector"
)

// app 各子命令共享的长连接客户端, Close 按打开的逆序关闭
type app struct {
	cfg     *appconfig.Config
	store   store.Store
	vectors vector.VectorStore
	indexer *semantic.Indexer

	closers []io.Closer
}

type migrator interface {
	Migrate(ctx context.Context) error
}

// loadConfig 加载配置文件并应用日志配置
func loadConfig(path string) (*appconfig.Config, io.Closer, error) {
	cfg, err := appconfig.Load(path)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	closer, err := logging.Configure(cfg.Logging.Level, cfg.Logging.File)
	if err != nil {
		return nil, nil, fmt.Errorf("configure logging: %w", err)
	}
	return cfg, closer, nil
}

func newApp(ctx context.Context, cfg *appconfig.Config) (*app, error) {
	a := &app{cfg: cfg}

	st, err := openStore(cfg.Database)
	if err != nil {
		return nil, err
	}
	a.store = st
	a.closers = append(a.closers, st)

	vs, err := openVectorStore(ctx, cfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	if vs != nil {
		a.vectors = vs
		a.closers = append(a.closers, vs)
	}

	embedder, err := newEmbedder(cfg.Embedder)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.indexer = semantic.NewIndexer(semantic.Config{
		Embedder:  embedder,
		Store:     a.vectors,
		Threshold: cfg.Search.SemanticThreshold,
	})
	if !a.indexer.Enabled() {
		logging.Warn(ctx, "semantic.disabled", map[string]interface{}{
			"embedder": cfg.Embedder.Kind,
			"vector":   cfg.Vector.Kind,
		})
	}
	return a, nil
}

func openStore(cfg appconfig.DatabaseConfig) (store.Store, error) {
	pool := sqlstore.Config{
		DSN:             cfg.DSN,
		MaxIdleConns:    cfg.MaxIdleConns,
		MaxOpenConns:    cfg.MaxOpenConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		LogLevel:        sqlstore.ParseLogLevel(cfg.LogLevel),
		AutoMigrate:     cfg.AutoMigrate,
	}

	switch cfg.Driver {
	case "memory", "":
		return store.NewMemoryStore(), nil
	case "postgres":
		st, err := postgres.New(&postgres.Config{Config: pool, TextSearchConfig: cfg.TextSearchConfig})
		if err != nil {
			return nil, fmt.Errorf("open postgres store: %w", err)
		}
		return st, nil
	case "mysql":
		st, err := mysql.New(&pool)
		if err != nil {
			return nil, fmt.Errorf("open mysql store: %w", err)
		}
		return st, nil
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
}

// openVectorStore 未启用语义搜索时返回 nil
func openVectorStore(ctx context.Context, cfg *appconfig.Config) (vector.VectorStore, error) {
	switch cfg.Vector.Kind {
	case "none", "":
		return nil, nil
	case "memory":
		return vector.NewMemoryStore(), nil
	case "pgvector":
		vs, err := pgvector.New(ctx, &pgvector.Config{
			DSN:          cfg.Vector.DSN,
			Table:        cfg.Vector.Table,
			Dimension:    cfg.Vector.Dimension,
			EnsureSchema: cfg.Database.AutoMigrate,
		})
		if err != nil {
			return nil, fmt.Errorf("open pgvector store: %w", err)
		}
		return vs, nil
	default:
		return nil, fmt.Errorf("unknown vector kind %q", cfg.Vector.Kind)
	}
}

// newEmbedder 未配置向量模型时返回 nil
func newEmbedder(cfg appconfig.EmbedderConfig) (vector.Embedder, error) {
	switch cfg.Kind {
	case "none", "":
		return nil, nil
	case "mock":
		return vector.NewMockEmbedder(cfg.Dimension), nil
	case "openai":
		if cfg.APIKey == "" {
			return nil, errors.New("embedder.api_key (or OPENAI_API_KEY) is required for the openai embedder")
		}
		e := vector.NewOpenAIEmbedder(cfg.BaseURL, cfg.APIKey, cfg.Model, cfg.Timeout)
		e.Dimensions = cfg.Dimension
		return e, nil
	default:
		return nil, fmt.Errorf("unknown embedder kind %q", cfg.Kind)
	}
}

// Close 按创建的逆序释放客户端
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			logging.Warn(context.Background(), "app.close_failed", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}
	a.closers = nil
}
