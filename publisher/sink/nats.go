package sink

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/maxpert/tailpub/cfg"
	"github.com/maxpert/tailpub/publisher"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"
)

const (
	// DefaultStreamCacheSize bounds the subjects remembered as having a stream
	DefaultStreamCacheSize = 1024
	DefaultStreamMaxAge    = 24 * time.Hour
)

// errNotAttempted fails the messages after the first failure of a batch
var errNotAttempted = errors.New("not attempted after earlier failure in batch")

func init() {
	publisher.RegisterSink("nats", func(config *cfg.Configuration) (publisher.Sink, error) {
		if config.Broker.NatsURL == "" {
			return nil, fmt.Errorf("nats sink requires nats_url")
		}
		return NewNatsSink(NatsConfig{
			URL:            config.Broker.NatsURL,
			ClientID:       config.ClientID,
			ConnectTimeout: time.Duration(config.Broker.ConnectTimeoutMS) * time.Millisecond,
			WriteTimeout:   time.Duration(config.Broker.WriteTimeoutMS) * time.Millisecond,
			EnsureStreams:  config.Broker.AutoCreateTopics,
			StreamMaxAge:   time.Duration(config.Broker.StreamMaxAgeH) * time.Hour,
		})
	})
}

// NatsConfig holds configuration for NatsSink
type NatsConfig struct {
	URL            string
	ClientID       string
	ConnectTimeout time.Duration
	WriteTimeout   time.Duration // Per message ack wait
	EnsureStreams  bool          // Create a stream for each new subject
	StreamMaxAge   time.Duration
}

// NatsSink implements the Sink interface for NATS JetStream publishing
type NatsSink struct {
	nc      *nats.Conn
	js      jetstream.JetStream
	config  NatsConfig
	streams *lru.Cache[string, struct{}]
}

// NewNatsSink creates a new NATS JetStream sink
func NewNatsSink(config NatsConfig) (*NatsSink, error) {
	if config.ConnectTimeout <= 0 {
		config.ConnectTimeout = 10 * time.Second
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = 10 * time.Second
	}
	if config.StreamMaxAge <= 0 {
		config.StreamMaxAge = DefaultStreamMaxAge
	}

	// No RetryOnFailedConnect: an unreachable server at startup must fail fast
	nc, err := nats.Connect(config.URL,
		nats.Name(config.ClientID),
		nats.Timeout(config.ConnectTimeout),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			log.Warn().Err(err).Str("sink", "nats").Msg("NATS connection error")
		}),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Str("sink", "nats").Msg("Disconnected from NATS")
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info().Str("sink", "nats").Str("url", c.ConnectedUrl()).Msg("Reconnected to NATS")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	streams, err := lru.New[string, struct{}](DefaultStreamCacheSize)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create stream cache: %w", err)
	}

	return &NatsSink{nc: nc, js: js, config: config, streams: streams}, nil
}

// Publish sends msgs to JetStream one by one, waiting for each ack. After the
// first failure the remaining messages are not sent, keeping file order.
func (n *NatsSink) Publish(ctx context.Context, msgs []publisher.Message) error {
	errs := make([]error, len(msgs))
	failed := false

	for i, m := range msgs {
		if failed {
			errs[i] = errNotAttempted
			continue
		}
		if err := n.publishOne(ctx, m); err != nil {
			errs[i] = err
			failed = true
		}
	}

	if !failed {
		return nil
	}
	if len(msgs) == 1 {
		return errs[0]
	}
	return &publisher.BatchError{Errs: errs}
}

func (n *NatsSink) publishOne(ctx context.Context, m publisher.Message) error {
	ctx, cancel := context.WithTimeout(ctx, n.config.WriteTimeout)
	defer cancel()

	if err := n.ensureStream(ctx, m.Topic); err != nil {
		return err
	}

	msg := &nats.Msg{
		Subject: m.Topic,
		Data:    m.Value,
		Header:  nats.Header{},
	}
	for key, value := range m.Headers {
		msg.Header.Set(key, value)
	}
	if len(m.Key) > 0 {
		msg.Header.Set("key", string(m.Key))
	}

	if _, err := n.js.PublishMsg(ctx, msg); err != nil {
		if errors.Is(err, nats.ErrBadSubject) || errors.Is(err, nats.ErrMaxPayload) {
			return publisher.Permanent(fmt.Errorf("failed to publish to %s: %w", m.Topic, err))
		}
		return fmt.Errorf("failed to publish to %s: %w", m.Topic, err)
	}

	return nil
}

// ensureStream creates the stream for a subject once per process
func (n *NatsSink) ensureStream(ctx context.Context, subject string) error {
	if !n.config.EnsureStreams || n.streams.Contains(subject) {
		return nil
	}

	streamName := sanitizeStreamName(subject)
	_, err := n.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      streamName,
		Subjects:  []string{subject},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    n.config.StreamMaxAge,
	})
	if err != nil {
		return fmt.Errorf("failed to ensure stream %s: %w", streamName, err)
	}

	n.streams.Add(subject, struct{}{})
	log.Debug().Str("stream", streamName).Str("subject", subject).Msg("Ensured JetStream stream")
	return nil
}

// Ping round-trips to the server
func (n *NatsSink) Ping(ctx context.Context) error {
	if err := n.nc.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("nats server unreachable: %w", err)
	}
	return nil
}

// Close releases resources held by the NatsSink
func (n *NatsSink) Close() error {
	if n.nc != nil {
		n.nc.Close()
	}
	return nil
}

// sanitizeStreamName derives the JetStream stream name for a subject. Names
// can't contain "." so it becomes "_"; the subject hash suffix keeps "a.b" and
// "a_b" from sharing a stream, which would replace each other's subject list.
func sanitizeStreamName(subject string) string {
	result := make([]byte, len(subject))
	for i := 0; i < len(subject); i++ {
		if subject[i] == '.' {
			result[i] = '_'
		} else {
			result[i] = subject[i]
		}
	}
	return fmt.Sprintf("%s_%08x", result, uint32(xxhash.Sum64String(subject)))
}
