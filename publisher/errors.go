package publisher

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrRetriesExhausted is returned when a message still fails after the last attempt
	ErrRetriesExhausted = errors.New("publish retries exhausted")
	// ErrQueueFull is returned when a lane queue stays full for every attempt
	ErrQueueFull = errors.New("publish queue full")
	// ErrDispatcherClosed is returned for messages submitted or pending after Close
	ErrDispatcherClosed = errors.New("dispatcher closed")
)

// permanentError marks a failure that retrying cannot fix
type permanentError struct {
	err error
}

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent wraps err so the dispatcher fails the message without retrying
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// RoutingError is returned when a record renders to an unusable channel name
type RoutingError struct {
	Channel string
	Err     error
}

func (e *RoutingError) Error() string {
	return fmt.Sprintf("routing failed for channel %q: %v", e.Channel, e.Err)
}

func (e *RoutingError) Unwrap() error { return e.Err }

// BatchError carries one outcome per message of a Sink.Publish call.
// Errs[i] is nil when message i was acknowledged.
type BatchError struct {
	Errs []error
}

func (e *BatchError) Error() string {
	failed := 0
	var first error
	for _, err := range e.Errs {
		if err != nil {
			failed++
			if first == nil {
				first = err
			}
		}
	}
	if first == nil {
		return "batch publish: no failures"
	}
	return fmt.Sprintf("batch publish: %d of %d messages failed: %v", failed, len(e.Errs), first)
}

// outcomes expands a Sink.Publish error to one error per message
func outcomes(err error, n int) []error {
	errs := make([]error, n)
	if err == nil {
		return errs
	}

	var batch *BatchError
	if errors.As(err, &batch) && len(batch.Errs) == n {
		copy(errs, batch.Errs)
		return errs
	}

	for i := range errs {
		errs[i] = err
	}
	return errs
}

// joinTopics renders the distinct topics of a batch for logging
func joinTopics(msgs []Message) string {
	seen := make(map[string]struct{}, len(msgs))
	topics := make([]string, 0, len(msgs))
	for _, m := range msgs {
		if _, ok := seen[m.Topic]; ok {
			continue
		}
		seen[m.Topic] = struct{}{}
		topics = append(topics, m.Topic)
	}
	return strings.Join(topics, ",")
}
