// Package fallbackstream implements domain.FallbackStream over a Redis
// Stream: the durable log used when the broker is unreachable at publish
// time.
package fallbackstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/shortlinkio/shortlink-core/internal/domain"
)

const streamKey = "click_fallback_stream"
const payloadField = "payload"

// Stream implements domain.FallbackStream using XADD/XREADGROUP/XACK.
type Stream struct {
	rdb      *redis.Client
	group    string
	consumer string
}

// New constructs a Stream and ensures the consumer group exists, creating the
// stream itself via MKSTREAM if absent, so a worker can start before any
// fallback event has ever been appended.
func New(ctx context.Context, rdb *redis.Client, group string) (*Stream, error) {
	consumer := "consumer-" + uuid.NewString()
	err := rdb.XGroupCreateMkStream(ctx, streamKey, group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return nil, fmt.Errorf("op=fallback_stream.new: %w", domain.ErrUnavailable)
	}
	return &Stream{rdb: rdb, group: group, consumer: consumer}, nil
}

// Append appends a click event to the fallback log.
func (s *Stream) Append(ctx domain.Context, ev domain.ClickEvent) error {
	raw, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("op=fallback_stream.append: %w", err)
	}
	err = s.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: streamKey,
		Values: map[string]interface{}{payloadField: raw},
	}).Err()
	if err != nil {
		return fmt.Errorf("op=fallback_stream.append: %w", domain.ErrUnavailable)
	}
	return nil
}

// Drain reads up to max entries not yet delivered to the consumer group,
// without blocking, invoking fn for each; entries are acked only after fn
// returns nil. An entry that is not acked stays in the group's pending list;
// Drain reads only never-delivered entries, so it does not read it again.
func (s *Stream) Drain(ctx domain.Context, max int64, fn func(domain.Context, domain.ClickEvent) error) error {
	streams, err := s.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    s.group,
		Consumer: s.consumer,
		Streams:  []string{streamKey, ">"},
		Count:    max,
		Block:    -1,
		NoAck:    false,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("op=fallback_stream.drain: %w", domain.ErrUnavailable)
	}

	for _, str := range streams {
		for _, msg := range str.Messages {
			raw, ok := msg.Values[payloadField]
			if !ok {
				continue
			}
			var ev domain.ClickEvent
			rawStr, _ := raw.(string)
			if err := json.Unmarshal([]byte(rawStr), &ev); err != nil {
				continue
			}
			if err := ev.Validate(); err != nil {
				continue
			}
			if err := fn(ctx, ev); err != nil {
				continue
			}
			_ = s.rdb.XAck(ctx, streamKey, s.group, msg.ID).Err()
		}
	}
	return nil
}
