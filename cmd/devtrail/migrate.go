package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/wordflowlab/devtrail/pkg/logging"
	"github.com/wordflowlab/devtrail/pkg/vector/pgvector"
)

// runMigrate 创建或更新事件存储与向量表结构
func runMigrate(args []string) error {
	fs := flag.NewFlagSet("migrate", flag.ExitOnError)
	configPath := fs.String("config", "", "YAML config file")
	skipVectors := fs.Bool("skip-vectors", false, "Only migrate the event store")

	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, logCloser, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	defer logCloser.Close()

	ctx := context.Background()

	st, err := openStore(cfg.Database)
	if err != nil {
		return err
	}
	defer st.Close()

	m, ok := st.(migrator)
	if !ok {
		logging.Info(ctx, "migrate.skipped", map[string]interface{}{"driver": cfg.Database.Driver})
	} else {
		if err := m.Migrate(ctx); err != nil {
			return fmt.Errorf("migrate %s store: %w", cfg.Database.Driver, err)
		}
		logging.Info(ctx, "migrate.store.done", map[string]interface{}{"driver": cfg.Database.Driver})
	}

	if *skipVectors || cfg.Vector.Kind != "pgvector" {
		return nil
	}

	vs, err := pgvector.New(ctx, &pgvector.Config{
		DSN:       cfg.Vector.DSN,
		Table:     cfg.Vector.Table,
		Dimension: cfg.Vector.Dimension,
	})
	if err != nil {
		return fmt.Errorf("open pgvector store: %w", err)
	}
	defer vs.Close()

	if err := vs.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("ensure vector schema: %w", err)
	}
	logging.Info(ctx, "migrate.vectors.done", map[string]interface{}{"table": cfg.Vector.Table})
	return nil
}
