package sink

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/maxpert/tailpub/cfg"
	"github.com/maxpert/tailpub/publisher"
	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
)

const (
	DefaultKafkaBatchSize    = 100
	DefaultKafkaBatchBytes   = 1 << 20 // 1MB
	DefaultKafkaBatchTimeout = 10 * time.Millisecond
	DefaultKafkaWriteTimeout = 10 * time.Second
	DefaultKafkaDialTimeout  = 10 * time.Second
)

func init() {
	// Register kafka sink factory
	publisher.RegisterSink("kafka", func(config *cfg.Configuration) (publisher.Sink, error) {
		acks, err := ParseAcks(config.Broker.Acks)
		if err != nil {
			return nil, err
		}
		compression, err := ParseCompression(config.Broker.Compression)
		if err != nil {
			return nil, err
		}

		kafkaConfig := KafkaConfig{
			Brokers:          config.Broker.Brokers,
			ClientID:         config.ClientID,
			BatchSize:        config.Broker.BatchSize,
			BatchBytes:       DefaultKafkaBatchBytes,
			BatchTimeout:     time.Duration(config.Broker.BatchTimeoutMS) * time.Millisecond,
			WriteTimeout:     time.Duration(config.Broker.WriteTimeoutMS) * time.Millisecond,
			DialTimeout:      time.Duration(config.Broker.ConnectTimeoutMS) * time.Millisecond,
			RequiredAcks:     acks,
			Compression:      compression,
			AutoCreateTopics: config.Broker.AutoCreateTopics,
		}
		return NewKafkaSink(kafkaConfig)
	})
}

// KafkaSink implements the Sink interface for Kafka publishing
type KafkaSink struct {
	writer *kafka.Writer
	dialer *kafka.Dialer
	config KafkaConfig
}

// KafkaConfig holds configuration for KafkaSink
type KafkaConfig struct {
	Brokers          []string           // Kafka broker addresses
	ClientID         string             // Client ID reported to the brokers
	BatchSize        int                // Max messages per produce request (default: 100)
	BatchBytes       int64              // Max batch bytes (default: 1MB)
	BatchTimeout     time.Duration      // Max wait to fill a batch (default: 10ms)
	WriteTimeout     time.Duration      // Produce request timeout (default: 10s)
	DialTimeout      time.Duration      // Connection timeout (default: 10s)
	RequiredAcks     kafka.RequiredAcks // Ack requirement (default: RequireAll)
	Compression      kafka.Compression  // Codec, zero for none
	AutoCreateTopics bool               // Auto-create topics if they don't exist (default: true)
}

// DefaultKafkaConfig returns a KafkaConfig with sensible defaults
func DefaultKafkaConfig(brokers []string) KafkaConfig {
	return KafkaConfig{
		Brokers:          brokers,
		BatchSize:        DefaultKafkaBatchSize,
		BatchBytes:       DefaultKafkaBatchBytes,
		BatchTimeout:     DefaultKafkaBatchTimeout,
		WriteTimeout:     DefaultKafkaWriteTimeout,
		DialTimeout:      DefaultKafkaDialTimeout,
		RequiredAcks:     kafka.RequireAll,
		AutoCreateTopics: true,
	}
}

// NewKafkaSink creates a new KafkaSink with the given configuration
func NewKafkaSink(config KafkaConfig) (*KafkaSink, error) {
	if len(config.Brokers) == 0 {
		return nil, fmt.Errorf("kafka sink requires at least one broker address")
	}
	if config.RequiredAcks == kafka.RequireNone {
		return nil, fmt.Errorf("kafka sink requires broker acknowledgments")
	}

	// Set defaults if not provided
	if config.BatchSize == 0 {
		config.BatchSize = DefaultKafkaBatchSize
	}
	if config.BatchBytes == 0 {
		config.BatchBytes = DefaultKafkaBatchBytes
	}
	if config.BatchTimeout == 0 {
		config.BatchTimeout = DefaultKafkaBatchTimeout
	}
	if config.WriteTimeout == 0 {
		config.WriteTimeout = DefaultKafkaWriteTimeout
	}
	if config.DialTimeout == 0 {
		config.DialTimeout = DefaultKafkaDialTimeout
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(config.Brokers...),
		Balancer:     &kafka.Hash{}, // Partition by key; unkeyed messages are keyed by source
		BatchSize:    config.BatchSize,
		BatchBytes:   config.BatchBytes,
		BatchTimeout: config.BatchTimeout,
		WriteTimeout: config.WriteTimeout,
		RequiredAcks: config.RequiredAcks,
		Compression:  config.Compression,
		MaxAttempts:  1,     // The dispatcher owns retries
		Async:        false, // Sync writes, WriteMessages returns after the ack
		Transport: &kafka.Transport{
			ClientID:    config.ClientID,
			DialTimeout: config.DialTimeout,
		},
		AllowAutoTopicCreation: config.AutoCreateTopics,
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			log.Warn().Str("sink", "kafka").Msgf(msg, args...)
		}),
	}

	dialer := &kafka.Dialer{
		ClientID: config.ClientID,
		Timeout:  config.DialTimeout,
	}

	return &KafkaSink{writer: writer, dialer: dialer, config: config}, nil
}

// Publish sends msgs to Kafka and returns after the configured acks
func (k *KafkaSink) Publish(ctx context.Context, msgs []publisher.Message) error {
	if len(msgs) == 0 {
		return nil
	}

	kmsgs := make([]kafka.Message, len(msgs))
	for i, m := range msgs {
		kmsgs[i] = kafkaMessage(m)
	}

	return classifyKafkaError(k.writer.WriteMessages(ctx, kmsgs...), len(msgs))
}

// Ping dials the brokers until one answers
func (k *KafkaSink) Ping(ctx context.Context) error {
	var errs []error
	for _, broker := range k.config.Brokers {
		conn, err := k.dialer.DialContext(ctx, "tcp", broker)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", broker, err))
			continue
		}
		conn.Close()
		return nil
	}
	return fmt.Errorf("no kafka broker reachable: %w", errors.Join(errs...))
}

// ValidateTopic rejects names reserved for Kafka internal topics
func (k *KafkaSink) ValidateTopic(topic string) error {
	if strings.HasPrefix(topic, "__") {
		return fmt.Errorf("topic %q uses the reserved internal prefix", topic)
	}
	return nil
}

// Close flushes pending writes and releases resources held by the KafkaSink
func (k *KafkaSink) Close() error {
	if k.writer == nil {
		return nil
	}
	return k.writer.Close()
}

// ParseAcks maps the configured acks level to kafka-go's RequiredAcks
func ParseAcks(acks string) (kafka.RequiredAcks, error) {
	switch strings.ToLower(acks) {
	case "", "all", "-1":
		return kafka.RequireAll, nil
	case "one", "1":
		return kafka.RequireOne, nil
	default:
		return kafka.RequireNone, fmt.Errorf("unsupported acks level %q", acks)
	}
}

// ParseCompression maps a codec name to kafka-go's Compression
func ParseCompression(name string) (kafka.Compression, error) {
	switch strings.ToLower(name) {
	case "", "none":
		return 0, nil
	case "gzip":
		return kafka.Gzip, nil
	case "snappy":
		return kafka.Snappy, nil
	case "lz4":
		return kafka.Lz4, nil
	case "zstd":
		return kafka.Zstd, nil
	default:
		return 0, fmt.Errorf("unsupported compression codec %q", name)
	}
}

// kafkaMessage keys unkeyed messages by their source file so one file's
// lines land on one partition and keep their order
func kafkaMessage(m publisher.Message) kafka.Message {
	key := m.Key
	if len(key) == 0 && m.Source != "" {
		key = []byte(m.Source)
	}
	return kafka.Message{
		Topic:   m.Topic,
		Key:     key,
		Value:   m.Value,
		Headers: kafkaHeaders(m.Headers),
	}
}

func kafkaHeaders(headers map[string]string) []kafka.Header {
	if len(headers) == 0 {
		return nil
	}
	out := make([]kafka.Header, 0, len(headers))
	for key, value := range headers {
		out = append(out, kafka.Header{Key: key, Value: []byte(value)})
	}
	return out
}

// classifyKafkaError expands kafka.WriteErrors into a BatchError and marks
// non-retriable broker errors permanent
func classifyKafkaError(err error, n int) error {
	if err == nil {
		return nil
	}

	var writeErrs kafka.WriteErrors
	if errors.As(err, &writeErrs) && len(writeErrs) == n {
		errs := make([]error, n)
		for i, e := range writeErrs {
			errs[i] = classifyOne(e)
		}
		return &publisher.BatchError{Errs: errs}
	}

	return classifyOne(err)
}

func classifyOne(err error) error {
	if err == nil {
		return nil
	}

	var kerr kafka.Error
	if errors.As(err, &kerr) && !kerr.Temporary() {
		return publisher.Permanent(err)
	}
	return err
}
