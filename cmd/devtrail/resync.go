package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"os/signal"
	"syscall"
)

// runResync 全量重建向量索引
func runResync(args []string) error {
	fs := flag.NewFlagSet("resync", flag.ExitOnError)
	configPath := fs.String("config", "", "YAML config file")
	batch := fs.Int("batch", 0, "Objects per embedding batch (defaults to search.resync_batch_size)")

	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, logCloser, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	defer logCloser.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	size := *batch
	if size <= 0 {
		size = cfg.Search.ResyncBatchSize
	}

	stats, err := a.indexer.Resync(ctx, a.store, size)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(stats)
}
