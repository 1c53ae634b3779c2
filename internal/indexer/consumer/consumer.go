// Package consumer applies document events from Kafka to the index engine.
// Each batch is committed to the index as one transaction before its offsets
// are committed, so a crash replays at most the uncommitted batch.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/segment-search/internal/ingestion"
	apperrors "github.com/Adithya-Monish-Kumar-K/segment-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/segment-search/pkg/kafka"
)

// Index is the engine surface the consumer writes through.
type Index interface {
	Insert(ctx context.Context, docid int64, columns ...string) error
	Upsert(ctx context.Context, docid int64, columns ...string) error
	Delete(ctx context.Context, docid int64) error
	Commit(ctx context.Context) error
	Rollback() error
	Generation(ctx context.Context) (string, error)
}

// Notifier receives an event after every committed batch. *kafka.Producer
// satisfies it.
type Notifier interface {
	Publish(ctx context.Context, events ...kafka.Event) error
}

// CommitEvent announces a new index generation.
type CommitEvent struct {
	Generation  string    `json:"generation"`
	Applied     int       `json:"applied"`
	Skipped     int       `json:"skipped"`
	CommittedAt time.Time `json:"committed_at"`
}

type IndexConsumer struct {
	index    Index
	notifier Notifier
	logger   *slog.Logger
}

// New returns a consumer writing to index. notifier may be nil.
func New(index Index, notifier Notifier) *IndexConsumer {
	return &IndexConsumer{
		index:    index,
		notifier: notifier,
		logger:   slog.Default().With("component", "index-consumer"),
	}
}

// HandleBatch is a kafka.BatchHandler. Events that can never apply are
// logged and skipped; any other failure rolls the batch back and returns the
// error so the batch is retried.
func (c *IndexConsumer) HandleBatch(ctx context.Context, batch []kafka.Message) error {
	var applied, skipped int
	for _, msg := range batch {
		event, err := kafka.DecodeJSON[ingestion.DocumentEvent](msg.Value)
		if err != nil {
			c.logger.Error("failed to decode document event",
				"error", err,
				"key", string(msg.Key),
				"offset", msg.Offset,
			)
			skipped++
			continue
		}
		if err := c.apply(ctx, event); err != nil {
			if skippable(err) {
				c.logger.Warn("document event skipped", "op", event.Op, "doc_id", event.DocID, "error", err)
				skipped++
				continue
			}
			if rbErr := c.index.Rollback(); rbErr != nil {
				c.logger.Error("rollback failed", "error", rbErr)
			}
			return fmt.Errorf("applying %s of document %d: %w", event.Op, event.DocID, err)
		}
		applied++
	}

	if err := c.index.Commit(ctx); err != nil {
		if rbErr := c.index.Rollback(); rbErr != nil {
			c.logger.Error("rollback failed", "error", rbErr)
		}
		return fmt.Errorf("committing batch: %w", err)
	}
	c.logger.Info("batch indexed", "applied", applied, "skipped", skipped)
	c.notify(ctx, applied, skipped)
	return nil
}

func (c *IndexConsumer) apply(ctx context.Context, event ingestion.DocumentEvent) error {
	switch event.Op {
	case ingestion.OpInsert:
		return c.index.Insert(ctx, event.DocID, event.Columns...)
	case ingestion.OpUpsert:
		return c.index.Upsert(ctx, event.DocID, event.Columns...)
	case ingestion.OpDelete:
		return c.index.Delete(ctx, event.DocID)
	}
	return fmt.Errorf("%w: unknown op %q", apperrors.ErrInvalidInput, event.Op)
}

// skippable reports errors that a retry would repeat and that left the open
// transaction untouched. A redelivered insert finds its own row already
// present and a redelivered delete finds it gone. Errors wrapping
// ErrRolledBack discarded the earlier events of the batch and are never
// skipped.
func skippable(err error) bool {
	if errors.Is(err, apperrors.ErrRolledBack) {
		return false
	}
	return errors.Is(err, apperrors.ErrDocumentExists) ||
		errors.Is(err, apperrors.ErrDocumentNotFound) ||
		errors.Is(err, apperrors.ErrInvalidInput) ||
		errors.Is(err, apperrors.ErrResourceExhausted)
}

func (c *IndexConsumer) notify(ctx context.Context, applied, skipped int) {
	if c.notifier == nil || applied == 0 {
		return
	}
	gen, err := c.index.Generation(ctx)
	if err != nil {
		c.logger.Warn("reading generation failed", "error", err)
		return
	}
	event := CommitEvent{Generation: gen, Applied: applied, Skipped: skipped, CommittedAt: time.Now().UTC()}
	if err := c.notifier.Publish(ctx, kafka.Event{Key: gen, Value: event}); err != nil {
		c.logger.Warn("publishing commit event failed", "generation", gen, "error", err)
	}
}
