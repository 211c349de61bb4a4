// The indexer builds the knowledge index from a document corpus and exits.
// Re-running it against a built index is a no-op unless -force is given.
package main

import (
	"context"
	"encoding/json"
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
	corpusDir := flag.String("corpus", "", "directory of documents to index (required)")
	force := flag.Bool("force", false, "rebuild even if a valid index exists")
	publish := flag.Bool("publish", false, "publish an index-complete event to Kafka")
	report := flag.Bool("report", false, "print the index report after building")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)

	if *corpusDir == "" {
		fmt.Fprintln(os.Stderr, "usage: indexer -corpus <dir> [-config <file>] [-force] [-publish] [-report]")
		os.Exit(2)
	}

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

	stats, err := o.Build(ctx, *corpusDir, *force)
	if err != nil {
		slog.Error("build failed", "error", err)
		os.Exit(1)
	}
	slog.Info("index build finished",
		"total_docs", stats.TotalDocs,
		"skipped_docs", stats.SkippedDocs,
		"total_terms", stats.TotalTerms,
		"duration_sec", stats.BuildSeconds,
	)

	if *publish {
		publisher := updates.NewPublisher(cfg.Kafka)
		defer publisher.Close()
		if err := publisher.PublishBuildComplete(ctx, cfg.Index.DataDir, *stats); err != nil {
			slog.Error("failed to publish index-complete event", "error", err)
			os.Exit(1)
		}
		slog.Info("index-complete event published", "topic", cfg.Kafka.Topics.IndexComplete)
	}

	if *report {
		rep, err := o.Report(ctx)
		if err != nil {
			slog.Error("report failed", "error", err)
			os.Exit(1)
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(rep); err != nil {
			slog.Error("failed to print report", "error", err)
			os.Exit(1)
		}
	}
}
