package kafka

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	producerPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kafka_producer_messages_published_total",
		Help: "Total number of Kafka messages published",
	}, []string{"topic"})

	producerErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kafka_producer_publish_errors_total",
		Help: "Total number of Kafka publish errors",
	}, []string{"topic"})

	producerDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "kafka_producer_publish_duration_seconds",
		Help:    "Duration of Kafka publish operations in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"topic"})

	consumerProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kafka_consumer_messages_processed_total",
		Help: "Total number of successfully processed Kafka messages",
	}, []string{"topic", "consumer_group"})

	consumerFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kafka_consumer_messages_failed_total",
		Help: "Total number of Kafka messages that exhausted retries",
	}, []string{"topic", "consumer_group"})

	consumerDuplicates = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kafka_consumer_messages_duplicate_total",
		Help: "Total number of duplicate Kafka messages skipped",
	}, []string{"event_type"})

	consumerDLQ = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kafka_consumer_dlq_published_total",
		Help: "Total number of messages published to the dead-letter topic",
	}, []string{"topic", "consumer_group"})
)
