// Package publisher turns accepted document changes into DocumentEvents on
// Kafka. Events are keyed by docid, so all changes to one document land on
// one partition and reach the indexer in order.
package publisher

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/Adithya-Monish-Kumar-K/segment-search/internal/ingestion"
	"github.com/Adithya-Monish-Kumar-K/segment-search/pkg/kafka"
)

// EventWriter is satisfied by *kafka.Producer.
type EventWriter interface {
	Publish(ctx context.Context, events ...kafka.Event) error
}

type Publisher struct {
	writer EventWriter
	now    func() time.Time
	logger *slog.Logger
}

func New(w EventWriter) *Publisher {
	return &Publisher{
		writer: w,
		now:    func() time.Time { return time.Now().UTC() },
		logger: slog.Default().With("component", "publisher"),
	}
}

// Publish sends one change. columns must already be in index column order.
func (p *Publisher) Publish(ctx context.Context, op ingestion.Op, docid int64, columns []string) (*ingestion.DocumentResponse, error) {
	event := ingestion.DocumentEvent{
		Op:         op,
		DocID:      docid,
		Columns:    columns,
		IngestedAt: p.now(),
	}
	if err := p.writer.Publish(ctx, kafka.Event{Key: strconv.FormatInt(docid, 10), Value: event}); err != nil {
		return nil, fmt.Errorf("publishing %s of document %d: %w", op, docid, err)
	}
	p.logger.Debug("document event published", "op", op, "doc_id", docid)
	return &ingestion.DocumentResponse{DocID: docid, Op: op, Status: "accepted"}, nil
}
