package publisher

import (
	"context"

	"github.com/maxpert/tailpub/record"
)

// Message is one outbound broker message
type Message struct {
	Topic   string            // Rendered channel name
	Key     []byte            // Optional partition key
	Value   []byte            // Encoded record
	Headers map[string]string // Promoted header fields
	Source  string            // Originating file (selects the dispatch lane)
	Offset  int64             // File offset just past the originating line
}

// Delivery is the resolved value of a successful publish
type Delivery struct {
	Topic    string
	Attempts int
}

// Sink is the broker client (e.g., Kafka, NATS)
type Sink interface {
	// Publish sends msgs in order and returns once the broker acknowledged them.
	// A *BatchError reports per-message outcomes when only some failed.
	Publish(ctx context.Context, msgs []Message) error
	// Ping verifies the broker is reachable
	Ping(ctx context.Context) error
	// Close releases any resources held by the sink
	Close() error
}

// TopicValidator is implemented by sinks with naming rules stricter than
// router.ValidateChannel
type TopicValidator interface {
	ValidateTopic(topic string) error
}

// Transformer converts records to a payload format
type Transformer interface {
	// Transform encodes a record to bytes for publishing
	Transform(rec record.Record) ([]byte, error)
	// ContentType names the payload media type
	ContentType() string
}
