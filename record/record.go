// Package record turns raw log lines into ordered, named records.
package record

import (
	"bytes"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/vmihailenco/msgpack/v5"
)

// TimestampField is the name of the injected ingestion timestamp
const TimestampField = "timestamp"

// Field is a single named value. Present is false when the line had fewer
// tokens than the schema has fields.
type Field struct {
	Name    string
	Value   string
	Present bool
}

// Record is one parsed line. It is created per line and discarded once published.
type Record struct {
	Fields    []Field
	Tokens    []string  // Raw delimiter-split tokens
	Timestamp time.Time // Ingestion time, not log time
}

// Get returns the value of a named field. The timestamp field renders as epoch
// milliseconds. Absent fields report false.
func (r Record) Get(name string) (string, bool) {
	if name == TimestampField {
		return strconv.FormatInt(r.Timestamp.UnixMilli(), 10), true
	}
	for _, f := range r.Fields {
		if f.Name == name {
			return f.Value, f.Present
		}
	}
	return "", false
}

// Token returns the i-th raw token of the line
func (r Record) Token(i int) (string, bool) {
	if i < 0 || i >= len(r.Tokens) {
		return "", false
	}
	return r.Tokens[i], true
}

// MarshalJSON encodes the record as an object in schema order with the
// timestamp last. Absent fields encode as null.
func (r Record) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for _, f := range r.Fields {
		if f.Name == TimestampField {
			continue
		}
		key, err := json.MarshalNoEscape(f.Name)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		if !f.Present {
			buf.WriteString("null")
		} else {
			val, err := json.MarshalNoEscape(f.Value)
			if err != nil {
				return nil, err
			}
			buf.Write(val)
		}
		buf.WriteByte(',')
	}
	buf.WriteString(`"` + TimestampField + `":`)
	buf.WriteString(strconv.FormatInt(r.Timestamp.UnixMilli(), 10))
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

var _ msgpack.CustomEncoder = Record{}

// EncodeMsgpack encodes the record as a msgpack map in schema order
func (r Record) EncodeMsgpack(enc *msgpack.Encoder) error {
	n := 1
	for _, f := range r.Fields {
		if f.Name != TimestampField {
			n++
		}
	}
	if err := enc.EncodeMapLen(n); err != nil {
		return err
	}
	for _, f := range r.Fields {
		if f.Name == TimestampField {
			continue
		}
		if err := enc.EncodeString(f.Name); err != nil {
			return err
		}
		if !f.Present {
			if err := enc.EncodeNil(); err != nil {
				return err
			}
			continue
		}
		if err := enc.EncodeString(f.Value); err != nil {
			return err
		}
	}
	if err := enc.EncodeString(TimestampField); err != nil {
		return err
	}
	return enc.EncodeInt(r.Timestamp.UnixMilli())
}

// Mapper splits lines on a delimiter and names the tokens
type Mapper struct {
	delimiter string
	fields    []string
	trim      bool

	// Now returns the ingestion timestamp; replaceable in tests
	Now func() time.Time
}

// NewMapper creates a Mapper for the given delimiter and ordered field names
func NewMapper(delimiter string, fields []string, trim bool) *Mapper {
	names := make([]string, len(fields))
	copy(names, fields)
	return &Mapper{
		delimiter: delimiter,
		fields:    names,
		trim:      trim,
		Now:       time.Now,
	}
}

// Map builds a record from one line (without its terminator). Missing tokens
// become absent fields; extra tokens are kept in Tokens but not named.
func (m *Mapper) Map(line []byte) Record {
	text := string(line)
	if m.trim {
		text = strings.TrimSpace(text)
	}

	var tokens []string
	if text != "" {
		tokens = strings.Split(text, m.delimiter)
	}

	rec := Record{
		Fields:    make([]Field, len(m.fields)),
		Tokens:    tokens,
		Timestamp: m.Now(),
	}
	for i, name := range m.fields {
		rec.Fields[i].Name = name
		if i < len(tokens) {
			rec.Fields[i].Value = tokens[i]
			rec.Fields[i].Present = true
		}
	}

	return rec
}
