package main

import (
	"context"
	"flag"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/wordflowlab/devtrail/pkg/appconfig"
	"github.com/wordflowlab/devtrail/pkg/events"
	"github.com/wordflowlab/devtrail/pkg/ingest"
	"github.com/wordflowlab/devtrail/pkg/logging"
	"github.com/wordflowlab/devtrail/pkg/search"
	"github.com/wordflowlab/devtrail/pkg/semantic"
	"github.com/wordflowlab/devtrail/pkg/timeline"
	"github.com/wordflowlab/devtrail/pkg/types"
	"github.com/wordflowlab/devtrail/server"
)

const shutdownTimeout = 15 * time.Second

// runServe 启动 webhook 接收与查询 API
func runServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "YAML config file (defaults + environment when empty)")
	host := fs.String("host", "", "Override server.host")
	port := fs.Int("port", 0, "Override server.port")
	mode := fs.String("mode", "", "Override server.mode: development, production, test")
	watch := fs.Bool("watch", true, "Reload search tuning, log level and webhook secret when the config file changes")

	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, logCloser, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	defer logCloser.Close()

	if *host != "" {
		cfg.Server.Host = *host
	}
	if *port > 0 {
		cfg.Server.Port = *port
	}
	if *mode != "" {
		cfg.Server.Mode = *mode
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	// 队列满时丢弃的通知由 resync 补齐
	bus := events.NewBus(cfg.Search.IndexQueueSize)
	defer bus.Close()

	ing, err := ingest.New(a.store, bus, ingest.Config{AllowedRepositories: cfg.Webhook.AllowedRepositories})
	if err != nil {
		return fmt.Errorf("create ingestor: %w", err)
	}

	searchSvc := search.NewService(a.store, a.indexer, searchConfig(cfg.Search))
	timelineSvc := timeline.NewService(a.store)

	srv, err := server.New(server.FromAppConfig(cfg), &server.Dependencies{
		Store:    a.store,
		Ingestor: ing,
		Search:   searchSvc,
		Timeline: timelineSvc,
		Indexer:  a.indexer,
	})
	if err != nil {
		return fmt.Errorf("create server: %w", err)
	}

	// 指标挂钩, 未启用指标时只保留日志
	metrics := srv.Metrics()
	bus.OnDrop = func(env events.Envelope) {
		semantic.LogDropped(env)
		if metrics != nil {
			metrics.IndexDropped()
		}
	}
	if metrics != nil {
		ing.OnStored = func(ev *types.InternalEvent, _ int64) {
			metrics.EventStored(ev.LogEventType())
		}
	}

	var worker *semantic.Worker
	if a.indexer.Enabled() {
		worker = semantic.NewWorker(a.indexer, a.store, bus, cfg.Search.IndexQueueSize)
		if metrics != nil {
			worker.OnIndexed = func(_ string, err error) {
				metrics.VectorUpsert(err)
			}
		}
		worker.Start(ctx)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(srv.Start)
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Stop(shutdownCtx)
	})
	if *watch && *configPath != "" {
		g.Go(func() error {
			return appconfig.Watch(gctx, *configPath, func(next *appconfig.Config) {
				applyReload(gctx, next, searchSvc, srv)
			}, func(err error) {
				logging.Warn(gctx, "config.reload_failed", map[string]interface{}{
					"path":  *configPath,
					"error": err.Error(),
				})
			})
		})
	}

	err = g.Wait()
	if worker != nil {
		worker.Stop()
	}
	logging.Flush(context.Background())
	return err
}

// applyReload 只应用可热更新的字段, 存储与监听地址需要重启
func applyReload(ctx context.Context, next *appconfig.Config, svc *search.Service, srv *server.Server) {
	svc.UpdateConfig(searchConfig(next.Search))
	srv.SetWebhookSecret(next.Webhook.Secret)
	if lvl, err := logging.ParseLevel(next.Logging.Level); err == nil {
		logging.Default.SetLevel(lvl)
	}
	logging.Info(ctx, "config.reloaded", map[string]interface{}{
		"rrf_k":              next.Search.RRFK,
		"semantic_threshold": next.Search.SemanticThreshold,
		"log_level":          next.Logging.Level,
	})
}

func searchConfig(c appconfig.SearchConfig) search.Config {
	return search.Config{
		RRFK:              c.RRFK,
		MinRRFScore:       c.MinRRFScore,
		SemanticThreshold: c.SemanticThreshold,
		SemanticTimeout:   c.SemanticTimeout,
		KeywordLimit:      c.KeywordLimit,
		SemanticLimit:     c.SemanticLimit,
	}
}
