package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/plugin/kotel"
	"go.opentelemetry.io/otel"

	"github.com/shortlinkio/shortlink-core/internal/domain"
)

// Consumer polls click_events as a member of a consumer group and validates
// each record against the ClickEvent schema, skipping (never crashing on)
// malformed payloads.
type Consumer struct {
	client *kgo.Client
}

// NewConsumer constructs a Consumer subscribed to topic under groupID. It
// disables franz-go's auto-commit so the caller (the worker's aggregation
// loop) controls exactly when offsets advance relative to its Redis-hash
// aggregation step.
func NewConsumer(brokers []string, groupID, topic string) (*Consumer, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("op=kafka.new_consumer: no seed brokers provided")
	}
	if groupID == "" {
		return nil, fmt.Errorf("op=kafka.new_consumer: missing group id")
	}

	tracer := kotel.NewTracer(kotel.TracerProvider(otel.GetTracerProvider()))
	kotelSvc := kotel.NewKotel(kotel.WithTracer(tracer))

	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ConsumerGroup(groupID),
		kgo.ConsumeTopics(topic),
		kgo.DisableAutoCommit(),
		kgo.WithHooks(kotelSvc.Hooks()...),
	)
	if err != nil {
		return nil, fmt.Errorf("op=kafka.new_consumer: %w", err)
	}

	if err := ensureTopic(context.Background(), client, topic, DefaultPartitions, 1); err != nil {
		slog.Warn("topic ensure failed, assuming it already exists", slog.String("topic", topic), slog.Any("error", err))
	}

	return &Consumer{client: client}, nil
}

// PollBatch blocks until at least one record is fetched (or ctx ends) and
// returns the validated ClickEvents from that poll iteration.
func (c *Consumer) PollBatch(ctx context.Context) ([]domain.ClickEvent, error) {
	fetches := c.client.PollFetches(ctx)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	fetches.EachError(func(topic string, partition int32, err error) {
		slog.Error("kafka fetch error", slog.String("topic", topic), slog.Int("partition", int(partition)), slog.Any("error", err))
	})

	var events []domain.ClickEvent
	fetches.EachRecord(func(r *kgo.Record) {
		var ev domain.ClickEvent
		if err := json.Unmarshal(r.Value, &ev); err != nil {
			slog.Warn("skipping malformed click event", slog.Any("error", err))
			return
		}
		if err := ev.Validate(); err != nil {
			slog.Warn("skipping invalid click event", slog.String("short_code", ev.ShortCode), slog.Any("error", err))
			return
		}
		events = append(events, ev)
	})
	return events, nil
}

// CommitOffsets commits all offsets consumed by PollBatch calls so far.
func (c *Consumer) CommitOffsets(ctx context.Context) error {
	if err := c.client.CommitUncommittedOffsets(ctx); err != nil {
		return fmt.Errorf("op=kafka.commit_offsets: %w", domain.ErrUnavailable)
	}
	return nil
}

// Close releases the underlying client.
func (c *Consumer) Close() error {
	if c.client != nil {
		c.client.Close()
	}
	return nil
}
