package kafka

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// MessageWriter is the part of *kafka.Writer the producer needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// ProducerConfig holds Kafka producer configuration.
type ProducerConfig struct {
	Brokers      []string
	BatchSize    int
	BatchTimeout time.Duration
	Async        bool
}

// DefaultProducerConfig returns synchronous, small-batch defaults.
func DefaultProducerConfig(brokers []string) ProducerConfig {
	return ProducerConfig{
		Brokers:      brokers,
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
	}
}

// Producer publishes Event envelopes.
type Producer struct {
	writer  MessageWriter
	brokers []string
	logger  *slog.Logger
}

// NewProducer creates a producer backed by a kafka-go Writer.
func NewProducer(cfg ProducerConfig, logger *slog.Logger) *Producer {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               &kafka.Hash{},
		BatchSize:              cfg.BatchSize,
		BatchTimeout:           cfg.BatchTimeout,
		Async:                  cfg.Async,
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}
	return NewProducerWithWriter(w, cfg.Brokers, logger)
}

// NewProducerWithWriter wraps an existing writer.
func NewProducerWithWriter(w MessageWriter, brokers []string, logger *slog.Logger) *Producer {
	return &Producer{writer: w, brokers: brokers, logger: logger}
}

// Publish writes event to topic keyed by aggregate id, so every event for one
// cart or session lands on the same partition in order. The current trace
// context is injected into the message headers.
func (p *Producer) Publish(ctx context.Context, topic string, event *Event) error {
	data, err := event.Marshal()
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	msg := kafka.Message{
		Topic: topic,
		Key:   []byte(event.AggregateID),
		Value: data,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.EventType)},
			{Key: "source", Value: []byte(event.Source)},
		},
	}
	if event.CorrelationID != "" {
		msg.Headers = append(msg.Headers, kafka.Header{Key: "correlation_id", Value: []byte(event.CorrelationID)})
	}
	otel.GetTextMapPropagator().Inject(ctx, headerCarrier{msg: &msg})

	start := time.Now()
	err = p.writer.WriteMessages(ctx, msg)
	producerDuration.WithLabelValues(topic).Observe(time.Since(start).Seconds())
	if err != nil {
		producerErrors.WithLabelValues(topic).Inc()
		return fmt.Errorf("publish event to %s: %w", topic, err)
	}
	producerPublished.WithLabelValues(topic).Inc()

	p.logger.DebugContext(ctx, "event published",
		slog.String("topic", topic),
		slog.String("event_type", event.EventType),
		slog.String("aggregate_id", event.AggregateID),
	)
	return nil
}

// Ping checks that at least one broker answers.
func (p *Producer) Ping(ctx context.Context) error {
	return PingBrokers(ctx, p.brokers)
}

// PingBrokers dials brokers in turn and succeeds on the first that lists the cluster.
func PingBrokers(ctx context.Context, brokers []string) error {
	if len(brokers) == 0 {
		return fmt.Errorf("kafka: no brokers configured")
	}

	var lastErr error
	for _, addr := range brokers {
		conn, err := kafka.DialContext(ctx, "tcp", addr)
		if err != nil {
			lastErr = err
			continue
		}
		_, err = conn.Brokers()
		_ = conn.Close()
		if err == nil {
			return nil
		}
		lastErr = err
	}
	return fmt.Errorf("kafka ping: all brokers unreachable: %w", lastErr)
}

// Close flushes and closes the writer.
func (p *Producer) Close() error {
	return p.writer.Close()
}

// headerCarrier adapts kafka headers to the otel TextMapCarrier interface.
type headerCarrier struct {
	msg *kafka.Message
}

var _ propagation.TextMapCarrier = headerCarrier{}

func (c headerCarrier) Get(key string) string {
	for _, h := range c.msg.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func (c headerCarrier) Set(key, value string) {
	for i, h := range c.msg.Headers {
		if h.Key == key {
			c.msg.Headers[i].Value = []byte(value)
			return
		}
	}
	c.msg.Headers = append(c.msg.Headers, kafka.Header{Key: key, Value: []byte(value)})
}

func (c headerCarrier) Keys() []string {
	keys := make([]string, len(c.msg.Headers))
	for i, h := range c.msg.Headers {
		keys[i] = h.Key
	}
	return keys
}
