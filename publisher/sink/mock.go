package sink

import (
	"context"
	"sync"

	"github.com/maxpert/tailpub/publisher"
)

// MockSink is a mock implementation of Sink for testing
type MockSink struct {
	Messages []publisher.Message
	// PublishErr fails every call when set
	PublishErr error
	// FailWith decides the outcome of single messages when set (nil = ack)
	FailWith func(msg publisher.Message) error
	PingErr  error
	Calls    int
	Closed   bool
	mu       sync.Mutex
}

// Publish records messages for later inspection in tests
func (m *MockSink) Publish(ctx context.Context, msgs []publisher.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Calls++
	if m.PublishErr != nil {
		return m.PublishErr
	}

	if m.FailWith == nil {
		m.Messages = append(m.Messages, msgs...)
		return nil
	}

	errs := make([]error, len(msgs))
	failed := false
	for i, msg := range msgs {
		if errs[i] = m.FailWith(msg); errs[i] != nil {
			failed = true
			continue
		}
		m.Messages = append(m.Messages, msg)
	}
	if failed {
		return &publisher.BatchError{Errs: errs}
	}
	return nil
}

// Ping returns PingErr
func (m *MockSink) Ping(ctx context.Context) error {
	return m.PingErr
}

// Close marks the sink closed
func (m *MockSink) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Closed = true
	return nil
}

// Published returns a copy of the acknowledged messages
func (m *MockSink) Published() []publisher.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]publisher.Message, len(m.Messages))
	copy(result, m.Messages)
	return result
}

// IsClosed reports whether Close was called
func (m *MockSink) IsClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Closed
}

// Reset clears all recorded messages
func (m *MockSink) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Messages = nil
	m.Calls = 0
}
