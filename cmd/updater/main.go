// The updater consumes document-update events from Kafka and applies them
// to the index incrementally.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/arvind-kalyan/knowledge-index-platform/internal/metastore"
	"github.com/arvind-kalyan/knowledge-index-platform/internal/optimizer"
	"github.com/arvind-kalyan/knowledge-index-platform/internal/updates"
	"github.com/arvind-kalyan/knowledge-index-platform/pkg/config"
	"github.com/arvind-kalyan/knowledge-index-platform/pkg/logger"
	"github.com/arvind-kalyan/knowledge-index-platform/pkg/metrics"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting update service",
		"brokers", cfg.Kafka.Brokers,
		"topic", cfg.Kafka.Topics.DocumentUpdates,
		"data_dir", cfg.Index.DataDir,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New(prometheus.DefaultRegisterer)
	if cfg.Metrics.Enabled {
		shutdown := metrics.StartServer(cfg.Metrics.Port)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			shutdown(shutdownCtx)
		}()
	}

	store, err := metastore.Open(cfg)
	if err != nil {
		slog.Error("failed to open metadata store", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	o, err := optimizer.New(cfg, store, m)
	if err != nil {
		slog.Error("failed to open index", "error", err)
		os.Exit(1)
	}
	defer o.Close()
	if o.State() != optimizer.StateReady {
		slog.Error("index not built; run the indexer before starting the updater",
			"data_dir", cfg.Index.DataDir)
		os.Exit(1)
	}

	consumer := updates.NewConsumer(cfg.Kafka, o)
	defer consumer.Close()

	if err := consumer.Start(ctx); err != nil {
		slog.Error("consumer error", "error", err)
		os.Exit(1)
	}
	slog.Info("update service stopped")
}
