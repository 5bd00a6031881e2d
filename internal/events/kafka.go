package events

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"
	"github.com/twmb/franz-go/pkg/kgo"
)

// KafkaPublisher produces typed events to one topic per case stream.
// Records are keyed by correlation ID so every event for one case lands on
// the same partition and is consumed in publish order. Production is
// asynchronous: delivery failures are logged and counted, never returned to
// the caller.
type KafkaPublisher struct {
	client *kgo.Client
	topic  string
	logger *slog.Logger
}

func NewKafkaPublisher(client *kgo.Client, topic string, logger *slog.Logger) *KafkaPublisher {
	return &KafkaPublisher{client: client, topic: topic, logger: logger}
}

type wireEvent struct {
	Kind    Kind            `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

func (p *KafkaPublisher) Publish(ctx context.Context, event Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		p.logger.ErrorContext(ctx, "event marshal failed",
			"kind", event.Kind(),
			"correlation_id", event.Common().CorrelationID,
			"error", err,
		)
		return
	}
	body, err := json.Marshal(wireEvent{Kind: event.Kind(), Payload: payload})
	if err != nil {
		p.logger.ErrorContext(ctx, "event envelope marshal failed",
			"kind", event.Kind(),
			"error", err,
		)
		return
	}

	key := uuid.UUID(event.Common().CorrelationID)
	record := &kgo.Record{
		Topic: p.topic,
		Key:   key[:],
		Value: body,
	}

	kind := event.Kind()
	correlationID := event.Common().CorrelationID
	p.client.Produce(ctx, record, func(_ *kgo.Record, err error) {
		if err != nil {
			p.logger.Error("event delivery failed",
				"kind", kind,
				"correlation_id", correlationID,
				"error", err,
			)
		}
	})
}

// Close flushes outstanding events and releases the client.
func (p *KafkaPublisher) Close(ctx context.Context) error {
	if err := p.client.Flush(ctx); err != nil {
		return err
	}
	p.client.Close()
	return nil
}
