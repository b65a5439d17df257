package kafka

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
)

// maxHandlerRetries bounds handler attempts per message before it is parked.
const maxHandlerRetries = 3

// Handler processes one event.
type Handler func(ctx context.Context, event *Event) error

// MessageReader is the part of *kafka.Reader the consumer needs.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// ConsumerConfig holds Kafka consumer configuration.
type ConsumerConfig struct {
	Brokers  []string
	GroupID  string
	Topic    string
	MinBytes int
	MaxBytes int
}

// Consumer reads one topic in a consumer group and commits each message after
// it was handled, parked on the dead-letter topic, or found undecodable.
type Consumer struct {
	reader    MessageReader
	dlq       MessageWriter
	topic     string
	group     string
	handler   Handler
	logger    *slog.Logger
	backoff   time.Duration
	closeOnce sync.Once
}

// NewConsumer creates a consumer backed by a kafka-go Reader. dlq may be nil,
// in which case poison messages are logged and skipped.
func NewConsumer(cfg ConsumerConfig, handler Handler, dlq MessageWriter, logger *slog.Logger) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		GroupID:  cfg.GroupID,
		Topic:    cfg.Topic,
		MinBytes: cfg.MinBytes,
		MaxBytes: cfg.MaxBytes,
	})
	return NewConsumerWithReader(r, cfg.Topic, cfg.GroupID, handler, dlq, logger)
}

// NewConsumerWithReader wraps an existing reader.
func NewConsumerWithReader(r MessageReader, topic, group string, handler Handler, dlq MessageWriter, logger *slog.Logger) *Consumer {
	return &Consumer{
		reader:  r,
		dlq:     dlq,
		topic:   topic,
		group:   group,
		handler: handler,
		logger:  logger,
		backoff: 100 * time.Millisecond,
	}
}

// Start consumes until ctx is cancelled.
func (c *Consumer) Start(ctx context.Context) error {
	c.logger.Info("consumer started", slog.String("topic", c.topic), slog.String("group", c.group))

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.logger.Info("consumer stopping", slog.String("topic", c.topic))
				return c.Close()
			}
			c.logger.Error("failed to fetch message", slog.String("error", err.Error()))
			continue
		}

		if err := c.process(ctx, msg); err != nil {
			// Only cancellation aborts processing; leave the message uncommitted.
			return c.Close()
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			c.logger.Error("failed to commit message",
				slog.String("topic", msg.Topic),
				slog.Int64("offset", msg.Offset),
				slog.String("error", err.Error()),
			)
		}
	}
}

// process returns an error only when ctx was cancelled mid-retry.
func (c *Consumer) process(ctx context.Context, msg kafka.Message) error {
	event, err := UnmarshalEvent(msg.Value)
	if err != nil {
		c.logger.Error("dropping undecodable message",
			slog.String("topic", msg.Topic),
			slog.Int64("offset", msg.Offset),
			slog.String("error", err.Error()),
		)
		c.deadLetter(ctx, msg, err)
		return nil
	}

	ctx = otel.GetTextMapPropagator().Extract(ctx, headerCarrier{msg: &msg})

	var lastErr error
	for attempt := 1; attempt <= maxHandlerRetries; attempt++ {
		if lastErr = c.handler(ctx, event); lastErr == nil {
			consumerProcessed.WithLabelValues(c.topic, c.group).Inc()
			return nil
		}

		c.logger.Warn("handler failed",
			slog.String("event_type", event.EventType),
			slog.String("aggregate_id", event.AggregateID),
			slog.Int("attempt", attempt),
			slog.String("error", lastErr.Error()),
		)
		if attempt == maxHandlerRetries {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * c.backoff):
		}
	}

	consumerFailed.WithLabelValues(c.topic, c.group).Inc()
	c.logger.Error("handler failed after all retries",
		slog.String("event_id", event.EventID),
		slog.String("event_type", event.EventType),
		slog.Int64("offset", msg.Offset),
		slog.String("error", lastErr.Error()),
	)
	c.deadLetter(ctx, msg, lastErr)
	return nil
}

func (c *Consumer) deadLetter(ctx context.Context, msg kafka.Message, cause error) {
	if c.dlq == nil {
		return
	}

	headers := make([]kafka.Header, 0, len(msg.Headers)+5)
	headers = append(headers, msg.Headers...)
	headers = append(headers,
		kafka.Header{Key: "dlq.original_topic", Value: []byte(msg.Topic)},
		kafka.Header{Key: "dlq.original_partition", Value: []byte(strconv.Itoa(msg.Partition))},
		kafka.Header{Key: "dlq.original_offset", Value: []byte(strconv.FormatInt(msg.Offset, 10))},
		kafka.Header{Key: "dlq.consumer_group", Value: []byte(c.group)},
		kafka.Header{Key: "dlq.error", Value: []byte(cause.Error())},
	)

	dead := kafka.Message{Topic: DLQTopic(msg.Topic), Key: msg.Key, Value: msg.Value, Headers: headers}
	if err := c.dlq.WriteMessages(ctx, dead); err != nil {
		c.logger.Error("failed to publish to dead-letter topic",
			slog.String("dlq_topic", dead.Topic),
			slog.String("error", err.Error()),
		)
		return
	}
	consumerDLQ.WithLabelValues(c.topic, c.group).Inc()
}

// Close closes the reader once.
func (c *Consumer) Close() error {
	var err error
	c.closeOnce.Do(func() { err = c.reader.Close() })
	return err
}

// DLQTopic names the dead-letter topic for topic.
func DLQTopic(topic string) string {
	return fmt.Sprintf("%s.dlq.%s", TopicPrefix, topic)
}
