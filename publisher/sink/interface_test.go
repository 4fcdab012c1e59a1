package sink

import "github.com/maxpert/tailpub/publisher"

// Compile-time interface verification
var (
	_ publisher.Sink           = (*KafkaSink)(nil)
	_ publisher.Sink           = (*NatsSink)(nil)
	_ publisher.Sink           = (*MockSink)(nil)
	_ publisher.TopicValidator = (*KafkaSink)(nil)
)
