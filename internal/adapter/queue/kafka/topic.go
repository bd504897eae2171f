package kafka

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/pkg/kmsg"
)

// topicAlreadyExistsCode is the Kafka protocol error code for
// TOPIC_ALREADY_EXISTS (https://kafka.apache.org/protocol#protocol_error_codes).
const topicAlreadyExistsCode = 36

// ensureTopic creates topic with the given partition count if absent,
// tolerating a concurrent creator. Adapted from the teacher's
// createTopicIfNotExists, trimmed of the AI evaluator's topic-config
// tuning since click_events only needs a plain partition/replication shape.
func ensureTopic(ctx context.Context, client *kgo.Client, topic string, partitions int32, replicationFactor int16) error {
	if topic == "" {
		return fmt.Errorf("topic name cannot be empty")
	}
	if partitions <= 0 {
		return fmt.Errorf("partitions must be greater than 0")
	}
	if replicationFactor <= 0 {
		return fmt.Errorf("replication factor must be greater than 0")
	}

	req := kmsg.NewCreateTopicsRequest()
	req.TimeoutMillis = 30000

	topicReq := kmsg.NewCreateTopicsRequestTopic()
	topicReq.Topic = topic
	topicReq.NumPartitions = partitions
	topicReq.ReplicationFactor = replicationFactor
	req.Topics = append(req.Topics, topicReq)

	resp, err := client.Request(ctx, &req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	createResp, ok := resp.(*kmsg.CreateTopicsResponse)
	if !ok {
		return fmt.Errorf("unexpected response type: %T", resp)
	}

	for _, t := range createResp.Topics {
		if t.ErrorCode != 0 {
			if t.ErrorCode == topicAlreadyExistsCode {
				slog.Info("topic already exists", slog.String("topic", t.Topic))
				return nil
			}
			msg := ""
			if t.ErrorMessage != nil {
				msg = *t.ErrorMessage
			}
			return fmt.Errorf("create topic error: %s (code %d)", msg, t.ErrorCode)
		}
		slog.Info("topic created", slog.String("topic", t.Topic), slog.Int("partitions", int(partitions)))
	}
	return nil
}
