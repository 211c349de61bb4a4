package updates

import (
	"context"
	"time"

	"github.com/arvind-kalyan/knowledge-index-platform/internal/optimizer"
	"github.com/arvind-kalyan/knowledge-index-platform/pkg/config"
	"github.com/arvind-kalyan/knowledge-index-platform/pkg/kafka"
)

// IndexCompleteEvent is published when a build finishes, so downstream
// consumers (cache warmers, dashboards) know a fresh index is live.
type IndexCompleteEvent struct {
	DataDir     string    `json:"data_dir"`
	TotalDocs   int64     `json:"total_docs"`
	SkippedDocs int64     `json:"skipped_docs"`
	TotalTerms  int64     `json:"total_terms"`
	DurationSec float64   `json:"duration_sec"`
	CompletedAt time.Time `json:"completed_at"`
}

// Publisher emits index lifecycle events to Kafka.
type Publisher struct {
	producer *kafka.Producer
}

// NewPublisher creates a Publisher for the index-complete topic.
func NewPublisher(cfg config.KafkaConfig) *Publisher {
	return &Publisher{producer: kafka.NewProducer(cfg, cfg.Topics.IndexComplete)}
}

// PublishBuildComplete emits one IndexCompleteEvent for a finished build.
func (p *Publisher) PublishBuildComplete(ctx context.Context, dataDir string, stats optimizer.BuildStats) error {
	return p.producer.Publish(ctx, kafka.Event{
		Key: dataDir,
		Value: IndexCompleteEvent{
			DataDir:     dataDir,
			TotalDocs:   stats.TotalDocs,
			SkippedDocs: stats.SkippedDocs,
			TotalTerms:  stats.TotalTerms,
			DurationSec: stats.BuildSeconds,
			CompletedAt: time.Now().UTC(),
		},
	})
}

// Close flushes and closes the producer.
func (p *Publisher) Close() error {
	return p.producer.Close()
}
