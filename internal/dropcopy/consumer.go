package dropcopy

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"
)

// Consumer reads the drop-copy topic and hands each decoded event to
// a handler. Used by the verifier binary.
type Consumer struct {
	client *kgo.Client
	logger *zap.Logger
	topic  string
	group  string

	processedCount int64
	errorCount     int64
}

// NewConsumer creates a drop-copy consumer in the given group
func NewConsumer(brokers []string, group, topic string, logger *zap.Logger) (*Consumer, error) {
	opts := []kgo.Opt{
		kgo.SeedBrokers(brokers...),
		kgo.ConsumerGroup(group),
		kgo.ConsumeTopics(topic),
		kgo.DisableAutoCommit(),
	}

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka client: %w", err)
	}

	logger.Info("drop-copy consumer initialized",
		zap.Strings("brokers", brokers),
		zap.String("group", group),
		zap.String("topic", topic),
	)

	return &Consumer{
		client: client,
		logger: logger,
		topic:  topic,
		group:  group,
	}, nil
}

// Run polls until the context is canceled, calling handler for each
// decoded event. Offsets commit only after the handler succeeds.
func (c *Consumer) Run(ctx context.Context, handler func(context.Context, ExecutionEvent) error) error {
	c.logger.Info("starting drop-copy consumer", zap.String("group", c.group))

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("drop-copy consumer stopping")
			return ctx.Err()
		default:
			fetches := c.client.PollFetches(ctx)
			if fetches.IsClientClosed() {
				return fmt.Errorf("kafka client closed")
			}

			iter := fetches.RecordIter()
			for !iter.Done() {
				record := iter.Next()

				var event ExecutionEvent
				if err := json.Unmarshal(record.Value, &event); err != nil {
					atomic.AddInt64(&c.errorCount, 1)
					c.logger.Error("failed to decode drop-copy event",
						zap.String("key", string(record.Key)),
						zap.Error(err),
					)
					c.client.CommitRecords(ctx, record)
					continue
				}

				if err := c.handleWithRetry(ctx, event, handler); err != nil {
					atomic.AddInt64(&c.errorCount, 1)
					c.logger.Error("handler failed after retries",
						zap.String("exec_id", event.ExecID),
						zap.Error(err),
					)
					continue
				}

				c.client.CommitRecords(ctx, record)
				atomic.AddInt64(&c.processedCount, 1)
			}
		}
	}
}

// handleWithRetry calls handler with bounded retries
func (c *Consumer) handleWithRetry(ctx context.Context, event ExecutionEvent, handler func(context.Context, ExecutionEvent) error) error {
	maxRetries := 3
	backoff := 100 * time.Millisecond

	for attempt := 0; attempt < maxRetries; attempt++ {
		err := handler(ctx, event)
		if err == nil {
			return nil
		}

		if attempt < maxRetries-1 {
			c.logger.Warn("handler failed, retrying",
				zap.String("exec_id", event.ExecID),
				zap.Int("attempt", attempt+1),
				zap.Error(err),
			)
			time.Sleep(backoff)
			backoff *= 2
		}
	}

	return fmt.Errorf("handler failed after %d attempts", maxRetries)
}

// Processed returns the number of successfully handled events
func (c *Consumer) Processed() int64 {
	return atomic.LoadInt64(&c.processedCount)
}

// Close closes the Kafka client
func (c *Consumer) Close() {
	if c.client != nil {
		c.client.Close()
	}
}
