// Package kafka carries document events between the ingestion service and
// the indexer over segmentio/kafka-go. The producer writes JSON values keyed
// by docid; the consumer hands messages to a handler in batches and commits
// offsets only after the handler succeeds.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/Adithya-Monish-Kumar-K/segment-search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/segment-search/pkg/resilience"
)

// Message is one fetched record.
type Message struct {
	Key       []byte
	Value     []byte
	Partition int
	Offset    int64
}

// BatchHandler processes a batch of messages. Offsets are committed when it
// returns nil.
type BatchHandler func(ctx context.Context, batch []Message) error

type reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// ConsumerOptions bound a batch by size and by the time since its first
// message.
type ConsumerOptions struct {
	BatchSize     int
	FlushInterval time.Duration
	Retry         resilience.RetryConfig
}

// Consumer reads messages from a Kafka topic and dispatches them to a
// BatchHandler.
type Consumer struct {
	reader  reader
	opts    ConsumerOptions
	handler BatchHandler
	logger  *slog.Logger
}

// NewConsumer creates a Consumer for the given topic and handler.
func NewConsumer(cfg config.KafkaConfig, topic string, opts ConsumerOptions, handler BatchHandler) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		Topic:       topic,
		GroupID:     cfg.ConsumerGroup,
		MinBytes:    1e3,
		MaxBytes:    10e6,
		StartOffset: kafka.FirstOffset,
	})
	return newConsumer(r, topic, opts, handler)
}

func newConsumer(r reader, topic string, opts ConsumerOptions, handler BatchHandler) *Consumer {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 500
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = 5 * time.Second
	}
	return &Consumer{
		reader:  r,
		opts:    opts,
		handler: handler,
		logger:  slog.Default().With("component", "kafka-consumer", "topic", topic),
	}
}

// Start runs the consume loop until ctx is cancelled. A batch the handler
// keeps rejecting stops the loop with the handler's error, leaving its
// offsets uncommitted.
func (c *Consumer) Start(ctx context.Context) error {
	c.logger.Info("consumer started", "batch_size", c.opts.BatchSize, "flush_interval", c.opts.FlushInterval)
	for {
		batch, err := c.fetchBatch(ctx)
		if len(batch) > 0 {
			if herr := c.process(ctx, batch); herr != nil {
				return herr
			}
		}
		if err != nil {
			if ctx.Err() != nil {
				c.logger.Info("consumer stopping", "reason", ctx.Err())
				return nil
			}
			return err
		}
	}
}

// fetchBatch blocks for the first message, then collects more until the
// batch is full or FlushInterval has passed.
func (c *Consumer) fetchBatch(ctx context.Context) ([]kafka.Message, error) {
	first, err := c.reader.FetchMessage(ctx)
	if err != nil {
		return nil, err
	}
	batch := []kafka.Message{first}

	fillCtx, cancel := context.WithTimeout(ctx, c.opts.FlushInterval)
	defer cancel()
	for len(batch) < c.opts.BatchSize {
		msg, err := c.reader.FetchMessage(fillCtx)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
				return batch, nil
			}
			return batch, err
		}
		batch = append(batch, msg)
	}
	return batch, nil
}

func (c *Consumer) process(ctx context.Context, batch []kafka.Message) error {
	msgs := make([]Message, len(batch))
	for i, m := range batch {
		msgs[i] = Message{Key: m.Key, Value: m.Value, Partition: m.Partition, Offset: m.Offset}
	}
	last := batch[len(batch)-1]
	c.logger.Debug("batch fetched", "count", len(batch), "partition", last.Partition, "offset", last.Offset)

	// The handler's work is not cancelled mid-batch by shutdown.
	work := context.WithoutCancel(ctx)
	err := resilience.Retry(ctx, "apply batch", c.opts.Retry, func(context.Context) error {
		return c.handler(work, msgs)
	})
	if err != nil {
		c.logger.Error("batch failed", "count", len(batch), "offset", last.Offset, "error", err)
		return fmt.Errorf("processing batch ending at offset %d: %w", last.Offset, err)
	}
	if err := c.reader.CommitMessages(work, batch...); err != nil {
		c.logger.Error("failed to commit offsets", "offset", last.Offset, "error", err)
		return fmt.Errorf("committing offsets: %w", err)
	}
	return nil
}

// Close closes the underlying Kafka reader.
func (c *Consumer) Close() error {
	return c.reader.Close()
}

// DecodeJSON unmarshals a Kafka message value into T.
func DecodeJSON[T any](value []byte) (T, error) {
	var result T
	if err := json.Unmarshal(value, &result); err != nil {
		return result, fmt.Errorf("decoding kafka message: %w", err)
	}
	return result, nil
}
