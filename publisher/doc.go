// Package publisher delivers mapped log records to a message broker.
//
// # Architecture
//
// The package consists of three main components:
//
// 1. Dispatcher: the single shared broker worker, with ordered lanes and retry
// 2. Publisher: one per tailed file; routes, encodes, and submits records
// 3. Interfaces: Sink, Transformer, and TopicValidator abstractions
//
// # Dispatcher
//
// Every message carries its source file path. The dispatcher hashes the path
// to pick one of N lanes, so all messages of a file are handed to the Sink in
// the order they were submitted. Each lane drains up to a batch of queued
// messages per Sink.Publish call.
//
// Failed messages are retried with exponential backoff:
//
//	delay = min(RetryInitial * RetryMultiplier^(attempt-1), RetryMax)
//
// Errors wrapped with Permanent are not retried. A message that still fails
// after MaxRetries attempts resolves with ErrRetriesExhausted.
//
// # Delivery futures
//
// Submit returns a future that resolves once the broker acknowledged the
// message or it failed for good. Callers await futures in file order and only
// persist progress up to the last acknowledged line:
//
//	fut := pub.Publish(ctx, "events.login", rec, lineEnd)
//	if _, err := fut.Get(); err != nil {
//		// do not advance the committed offset past this line
//	}
//
// # Sinks and transformers
//
// Sinks register themselves by broker type and transformers by payload format
// (see RegisterSink and RegisterTransformer). Import the sink and transformer
// packages for their side effects:
//
//	import (
//		_ "github.com/maxpert/tailpub/publisher/sink"
//		_ "github.com/maxpert/tailpub/publisher/transformer"
//	)
package publisher
