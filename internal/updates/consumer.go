// Package updates feeds incremental document updates from Kafka into the
// index and publishes index lifecycle events.
package updates

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/arvind-kalyan/knowledge-index-platform/internal/optimizer"
	"github.com/arvind-kalyan/knowledge-index-platform/pkg/config"
	"github.com/arvind-kalyan/knowledge-index-platform/pkg/kafka"
	"github.com/arvind-kalyan/knowledge-index-platform/pkg/resilience"
)

// Applier applies a batch of document updates. Satisfied by
// *optimizer.Optimizer.
type Applier interface {
	Update(ctx context.Context, updates []optimizer.DocumentUpdate) error
}

// Consumer consumes document-update events and applies them to the index.
// Each event carries one whole document; the consumer commits the offset
// only after the update is durably applied.
type Consumer struct {
	consumer *kafka.Consumer
	applier  Applier
	logger   *slog.Logger
}

// NewConsumer wires a Kafka consumer for the document-updates topic to the
// given applier.
func NewConsumer(cfg config.KafkaConfig, applier Applier) *Consumer {
	c := &Consumer{
		applier: applier,
		logger:  slog.Default().With("component", "update-consumer"),
	}
	c.consumer = kafka.NewConsumer(cfg, cfg.Topics.DocumentUpdates, c.handle)
	return c
}

// Start runs the consume loop until ctx is cancelled.
func (c *Consumer) Start(ctx context.Context) error {
	return c.consumer.Start(ctx)
}

// Close closes the underlying Kafka reader.
func (c *Consumer) Close() error {
	return c.consumer.Close()
}

func (c *Consumer) handle(ctx context.Context, key, value []byte) error {
	upd, err := kafka.DecodeJSON[optimizer.DocumentUpdate](value)
	if err != nil {
		// Malformed events are dropped, not retried: redelivery cannot fix
		// them and they would wedge the partition.
		c.logger.Error("dropping malformed update event", "key", string(key), "error", err)
		return nil
	}
	if upd.DocID == "" {
		upd.DocID = string(key)
	}
	if upd.DocID == "" {
		c.logger.Error("dropping update event without doc_id")
		return nil
	}

	// A build in progress rejects updates; back off and retry before letting
	// the message redeliver.
	err = resilience.Retry(ctx, "apply-update", resilience.RetryConfig{
		MaxAttempts:  5,
		InitialDelay: 200 * time.Millisecond,
		MaxDelay:     5 * time.Second,
	}, func() error {
		return c.applier.Update(ctx, []optimizer.DocumentUpdate{upd})
	})
	if err != nil {
		return fmt.Errorf("applying update for %q: %w", upd.DocID, err)
	}
	c.logger.Info("document update applied", "doc_id", upd.DocID)
	return nil
}
