package transformer

import (
	"testing"
	"time"

	"github.com/maxpert/tailpub/encoding"
	"github.com/maxpert/tailpub/record"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mapLine(line string) record.Record {
	m := record.NewMapper(",", []string{"user", "action"}, true)
	m.Now = func() time.Time { return time.UnixMilli(1700000000000) }
	return m.Map([]byte(line))
}

func TestJSONTransformer(t *testing.T) {
	trans := NewJSONTransformer()

	data, err := trans.Transform(mapLine("alice,login"))
	require.NoError(t, err)
	assert.Equal(t, `{"user":"alice","action":"login","timestamp":1700000000000}`, string(data))
	assert.Equal(t, "application/json", trans.ContentType())
}

func TestJSONTransformer_AbsentFieldsAreNull(t *testing.T) {
	data, err := NewJSONTransformer().Transform(mapLine("charlie"))
	require.NoError(t, err)
	assert.Equal(t, `{"user":"charlie","action":null,"timestamp":1700000000000}`, string(data))
}

func TestJSONTransformer_NoHTMLEscaping(t *testing.T) {
	data, err := NewJSONTransformer().Transform(mapLine("<b>&co,x"))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"<b>&co"`)
}

func TestMsgpackTransformer(t *testing.T) {
	trans := NewMsgpackTransformer()

	data, err := trans.Transform(mapLine("bob"))
	require.NoError(t, err)
	assert.Equal(t, "application/msgpack", trans.ContentType())

	var decoded map[string]interface{}
	require.NoError(t, encoding.Unmarshal(data, &decoded))
	assert.Equal(t, "bob", decoded["user"])
	assert.Nil(t, decoded["action"])
	assert.Contains(t, decoded, "action")
	assert.EqualValues(t, 1700000000000, decoded["timestamp"])
}
