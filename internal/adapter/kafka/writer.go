package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/couchcryptid/storm-data-shared/retry"
	kafkago "github.com/segmentio/kafka-go"

	"github.com/couchcryptid/cep-locator/internal/config"
	"github.com/couchcryptid/cep-locator/internal/domain"
	"github.com/couchcryptid/cep-locator/internal/locator"
)

const (
	maxAttempts    = 3
	initialBackoff = 200 * time.Millisecond
	maxBackoff     = 2 * time.Second
	batchTimeout   = 10 * time.Millisecond
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Writer publishes resolved addresses to a Kafka topic.
// It implements locator.Publisher.
type Writer struct {
	writer  messageWriter
	logger  *slog.Logger
	backoff time.Duration
}

// NewWriter creates a Kafka producer for the configured topic.
func NewWriter(cfg *config.Config, logger *slog.Logger) *Writer {
	// Publish sends one message per lookup, so a batch never fills; flush
	// each write instead of waiting out the default one-second timeout.
	w := &kafkago.Writer{
		Addr:                   kafkago.TCP(cfg.KafkaBrokers...),
		Topic:                  cfg.KafkaTopic,
		Balancer:               &kafkago.Hash{},
		RequiredAcks:           kafkago.RequireAll,
		AllowAutoTopicCreation: true,
		BatchSize:              1,
		BatchTimeout:           batchTimeout,
	}
	return &Writer{writer: w, logger: logger, backoff: initialBackoff}
}

// Publish writes one message for the resolution. A failed write is retried
// with exponential backoff, up to maxAttempts writes in total; a cancelled
// context stops the retries early.
func (w *Writer) Publish(ctx context.Context, res locator.Resolution) error {
	msg, err := serializeToMessage(res)
	if err != nil {
		return err
	}

	backoff := w.backoff
	for attempt := 1; ; attempt++ {
		err = w.writer.WriteMessages(ctx, msg)
		if err == nil {
			return nil
		}
		if attempt == maxAttempts {
			return fmt.Errorf("publish resolution: %w", err)
		}
		w.logger.Warn("kafka write failed, retrying",
			"attempt", attempt,
			"backoff", backoff,
			"error", err,
		)
		if !retry.SleepWithContext(ctx, backoff) {
			return fmt.Errorf("publish resolution: %w", ctx.Err())
		}
		backoff = retry.NextBackoff(backoff, maxBackoff)
	}
}

func (w *Writer) Close() error {
	return w.writer.Close()
}

// serializeToMessage marshals a Resolution into a Kafka message keyed by the
// postal code digits, so every lookup of one code lands on one partition.
func serializeToMessage(res locator.Resolution) (kafkago.Message, error) {
	data, err := json.Marshal(res)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize resolution: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(domain.NormalizePostalCode(res.PostalCode)),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "postal_code", Value: []byte(res.PostalCode)},
			{Key: "resolved_at", Value: []byte(res.ResolvedAt.Format(time.RFC3339))},
		},
	}, nil
}
