package publisher

import (
	"fmt"
	"sort"
	"sync"

	"github.com/maxpert/tailpub/cfg"
)

// SinkFactory is a function that creates a Sink from a configuration
type SinkFactory func(*cfg.Configuration) (Sink, error)

// TransformerFactory is a function that creates a Transformer
type TransformerFactory func() Transformer

var (
	sinkFactories        = make(map[string]SinkFactory)
	transformerFactories = make(map[string]TransformerFactory)
	factoryMu            sync.RWMutex
)

// RegisterSink registers a sink factory for a broker type
func RegisterSink(sinkType string, factory SinkFactory) {
	factoryMu.Lock()
	defer factoryMu.Unlock()
	sinkFactories[sinkType] = factory
}

// RegisterTransformer registers a transformer factory for a format
func RegisterTransformer(format string, factory TransformerFactory) {
	factoryMu.Lock()
	defer factoryMu.Unlock()
	transformerFactories[format] = factory
}

// NewSink creates the sink named by config.Broker.Type
func NewSink(config *cfg.Configuration) (Sink, error) {
	factoryMu.RLock()
	factory, exists := sinkFactories[config.Broker.Type]
	factoryMu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("unknown sink type: %s (registered: %v)", config.Broker.Type, registered(sinkFactories))
	}

	return factory(config)
}

// NewTransformer creates a transformer for the given format
func NewTransformer(format string) (Transformer, error) {
	factoryMu.RLock()
	factory, exists := transformerFactories[format]
	factoryMu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("unknown format: %s (registered: %v)", format, registered(transformerFactories))
	}

	return factory(), nil
}

func registered[T any](m map[string]T) []string {
	factoryMu.RLock()
	defer factoryMu.RUnlock()

	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
