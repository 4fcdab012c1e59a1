package publisher

import (
	"context"
	"fmt"

	"github.com/jizhuozhi/go-future"
	"github.com/maxpert/tailpub/record"
	"github.com/maxpert/tailpub/router"
	"github.com/maxpert/tailpub/telemetry"
)

// Submitter hands messages to the broker worker
type Submitter interface {
	Submit(ctx context.Context, msg Message) *future.Future[Delivery]
}

// PublisherConfig configures a per-file publisher
type PublisherConfig struct {
	Source      string         // Tailed file path, selects the dispatch lane
	Submitter   Submitter      // Shared dispatcher
	Transformer Transformer    // Payload encoder
	Validator   TopicValidator // Optional broker-specific channel check
	HeaderKey   string         // Header carrying Token(HeaderIndex)
	HeaderIndex int
	KeyField    string // Optional field used as partition key
}

// Publisher turns records of one file into broker messages
type Publisher struct {
	config PublisherConfig
}

// NewPublisher creates a publisher for one tailed file
func NewPublisher(config PublisherConfig) (*Publisher, error) {
	if config.Submitter == nil {
		return nil, fmt.Errorf("submitter is required")
	}
	if config.Transformer == nil {
		return nil, fmt.Errorf("transformer is required")
	}
	if config.HeaderKey == "" {
		return nil, fmt.Errorf("header key is required")
	}
	if config.HeaderIndex < 0 {
		return nil, fmt.Errorf("header index must be >= 0")
	}
	return &Publisher{config: config}, nil
}

// Publish sends rec to channel. The future resolves after the broker
// acknowledged the message; an invalid channel yields an already failed future
// carrying a *RoutingError. offset is the byte offset just past the line.
func (p *Publisher) Publish(ctx context.Context, channel string, rec record.Record, offset int64) *future.Future[Delivery] {
	if err := p.validate(channel); err != nil {
		telemetry.RoutingErrorsTotal.With(p.config.Source).Inc()
		return failed(&RoutingError{Channel: channel, Err: err})
	}

	value, err := p.config.Transformer.Transform(rec)
	if err != nil {
		return failed(Permanent(fmt.Errorf("failed to encode record for %s: %w", channel, err)))
	}

	headers := make(map[string]string, 1)
	if token, ok := rec.Token(p.config.HeaderIndex); ok {
		headers[p.config.HeaderKey] = token
	}

	msg := Message{
		Topic:   channel,
		Value:   value,
		Headers: headers,
		Source:  p.config.Source,
		Offset:  offset,
	}
	if p.config.KeyField != "" {
		if key, ok := rec.Get(p.config.KeyField); ok {
			msg.Key = []byte(key)
		}
	}

	return p.config.Submitter.Submit(ctx, msg)
}

func (p *Publisher) validate(channel string) error {
	if err := router.ValidateChannel(channel); err != nil {
		return err
	}
	if p.config.Validator != nil {
		return p.config.Validator.ValidateTopic(channel)
	}
	return nil
}

func failed(err error) *future.Future[Delivery] {
	promise := future.NewPromise[Delivery]()
	promise.Set(Delivery{}, err)
	return promise.Future()
}
