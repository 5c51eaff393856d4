package analytics

import (
	"context"
	"errors"

	"github.com/Adithya-Monish-Kumar-K/deep-code-search/pkg/kafka"
)

// Sink receives batches of search events.
type Sink interface {
	PublishBatch(ctx context.Context, events []SearchEvent) error
}

// MultiSink delivers every batch to each of its sinks. A failing sink does
// not stop delivery to the others; their errors are joined.
type MultiSink []Sink

func (m MultiSink) PublishBatch(ctx context.Context, events []SearchEvent) error {
	var errs []error
	for _, s := range m {
		if err := s.PublishBatch(ctx, events); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// KafkaSink publishes events as JSON messages keyed by query, so that all
// events for one query land on the same partition.
type KafkaSink struct {
	producer *kafka.Producer
}

func NewKafkaSink(p *kafka.Producer) *KafkaSink {
	return &KafkaSink{producer: p}
}

func (s *KafkaSink) PublishBatch(ctx context.Context, events []SearchEvent) error {
	batch := make([]kafka.Event, len(events))
	for i, e := range events {
		batch[i] = kafka.Event{Key: e.Query, Value: e}
	}
	return s.producer.PublishBatch(ctx, batch)
}
