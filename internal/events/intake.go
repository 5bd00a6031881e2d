package events

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/twmb/franz-go/pkg/kgo"
)

// IntakeConsumer reads ingestion events from Kafka and feeds them to the
// pipeline runner over a channel. Malformed records are logged and skipped;
// a poisoned record must never wedge the partition.
type IntakeConsumer struct {
	client *kgo.Client
	out    chan<- IngestionCompleted
	logger *slog.Logger
}

func NewIntakeConsumer(client *kgo.Client, out chan<- IngestionCompleted, logger *slog.Logger) *IntakeConsumer {
	return &IntakeConsumer{client: client, out: out, logger: logger}
}

// Run polls until ctx is cancelled. It returns nil on cancellation and the
// client error otherwise.
func (c *IntakeConsumer) Run(ctx context.Context) error {
	for {
		fetches := c.client.PollFetches(ctx)
		if err := ctx.Err(); err != nil {
			return nil
		}
		if errs := fetches.Errors(); len(errs) > 0 {
			for _, fe := range errs {
				if errors.Is(fe.Err, context.Canceled) {
					return nil
				}
				c.logger.Error("intake fetch error",
					"topic", fe.Topic,
					"partition", fe.Partition,
					"error", fe.Err,
				)
			}
		}

		fetches.EachRecord(func(record *kgo.Record) {
			var evt IngestionCompleted
			if err := json.Unmarshal(record.Value, &evt); err != nil {
				c.logger.Error("intake record malformed",
					"topic", record.Topic,
					"partition", record.Partition,
					"offset", record.Offset,
					"error", err,
				)
				return
			}
			if evt.CaseID.IsNil() {
				c.logger.Error("intake record missing case_id",
					"offset", record.Offset,
				)
				return
			}
			select {
			case c.out <- evt:
			case <-ctx.Done():
			}
		})
	}
}
