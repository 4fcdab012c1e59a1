package encoding

import (
	"bytes"

	json "github.com/goccy/go-json"
)

// MarshalJSON encodes a value as compact JSON without HTML escaping.
// The output is a broker payload, not markup.
func MarshalJSON(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	if err := enc.Encode(v); err != nil {
		return nil, err
	}

	// Encoder terminates every value with a newline
	return bytes.TrimSuffix(buf.Bytes(), []byte{'\n'}), nil
}

// UnmarshalJSON decodes JSON into v
func UnmarshalJSON(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}
