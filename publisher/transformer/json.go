// Package transformer provides implementations of the publisher.Transformer
// interface for encoding mapped records as broker payloads.
package transformer

import (
	"github.com/maxpert/tailpub/encoding"
	"github.com/maxpert/tailpub/publisher"
	"github.com/maxpert/tailpub/record"
)

func init() {
	publisher.RegisterTransformer("json", func() publisher.Transformer {
		return NewJSONTransformer()
	})
}

// JSONTransformer encodes a record as one JSON object with fields in
// configured order and the timestamp last. Absent fields are null.
type JSONTransformer struct{}

// NewJSONTransformer creates a new JSON transformer
func NewJSONTransformer() *JSONTransformer {
	return &JSONTransformer{}
}

// Transform encodes rec as JSON
func (t *JSONTransformer) Transform(rec record.Record) ([]byte, error) {
	return encoding.MarshalJSON(rec)
}

// ContentType returns the JSON media type
func (t *JSONTransformer) ContentType() string {
	return "application/json"
}
