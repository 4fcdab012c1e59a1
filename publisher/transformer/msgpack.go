package transformer

import (
	"github.com/maxpert/tailpub/encoding"
	"github.com/maxpert/tailpub/publisher"
	"github.com/maxpert/tailpub/record"
)

func init() {
	publisher.RegisterTransformer("msgpack", func() publisher.Transformer {
		return NewMsgpackTransformer()
	})
}

// MsgpackTransformer encodes a record as a msgpack map, for consumers that
// prefer a compact binary payload
type MsgpackTransformer struct{}

// NewMsgpackTransformer creates a new msgpack transformer
func NewMsgpackTransformer() *MsgpackTransformer {
	return &MsgpackTransformer{}
}

// Transform encodes rec as msgpack
func (t *MsgpackTransformer) Transform(rec record.Record) ([]byte, error) {
	return encoding.Marshal(rec)
}

// ContentType returns the msgpack media type
func (t *MsgpackTransformer) ContentType() string {
	return "application/msgpack"
}
