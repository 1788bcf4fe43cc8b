// Package castchannel encodes and decodes the cast_channel protobuf messages
// exchanged with receiver devices (proto2, package extensions.api.cast_channel).
//
// The schema is expressed as hand-written encoders over protowire. Field
// numbers and required/optional/repeated semantics match the receiver's
// schema exactly; fields are always emitted in field-number order so the same
// logical message always produces the same bytes.
package castchannel

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

var (
	// ErrSchemaViolation is returned by Encode when a required field is absent
	// or a value lies outside its declared enum domain.
	ErrSchemaViolation = errors.New("cast channel schema violation")

	// ErrMalformedMessage is returned by Decode on truncated input, a wire
	// type that does not match the field's declared type, or a missing
	// required field.
	ErrMalformedMessage = errors.New("malformed cast channel message")
)

// Message is implemented by every cast_channel message type.
type Message interface {
	// Kind returns the schema name of the message, e.g. "CastMessage".
	Kind() string

	appendTo(b []byte) ([]byte, error)
	consume(b []byte) error
}

// Encode serializes m. It fails with ErrSchemaViolation if m is incomplete.
func Encode(m Message) ([]byte, error) {
	return m.appendTo(nil)
}

// Decode parses data into m, replacing its previous contents.
func Decode(data []byte, m Message) error {
	return m.consume(data)
}

func schemaErr(kind, format string, args ...any) error {
	return fmt.Errorf("%w: %s: %s", ErrSchemaViolation, kind, fmt.Sprintf(format, args...))
}

func malformedErr(kind, format string, args ...any) error {
	return fmt.Errorf("%w: %s: %s", ErrMalformedMessage, kind, fmt.Sprintf(format, args...))
}

// field is one decoded (number, wire type, raw value) triple.
type field struct {
	num protowire.Number
	typ protowire.Type
	// varint holds the value for VarintType fields.
	varint uint64
	// bytes holds the payload for BytesType fields.
	bytes []byte
}

// walk iterates over the top-level fields of b. Unknown wire types are
// consumed and skipped, matching proto2 unknown-field handling.
func walk(kind string, b []byte, fn func(f field) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return malformedErr(kind, "tag: %v", protowire.ParseError(n))
		}
		b = b[n:]

		f := field{num: num, typ: typ}
		switch typ {
		case protowire.VarintType:
			v, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return malformedErr(kind, "field %d: %v", num, protowire.ParseError(m))
			}
			f.varint = v
			n = m
		case protowire.BytesType:
			v, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return malformedErr(kind, "field %d: %v", num, protowire.ParseError(m))
			}
			f.bytes = v
			n = m
		default:
			m := protowire.ConsumeFieldValue(num, typ, b)
			if m < 0 {
				return malformedErr(kind, "field %d: %v", num, protowire.ParseError(m))
			}
			n = m
		}
		b = b[n:]

		if err := fn(f); err != nil {
			return err
		}
	}
	return nil
}

// expect checks that a known field arrived with its declared wire type.
func expect(kind string, f field, typ protowire.Type) error {
	if f.typ != typ {
		return malformedErr(kind, "field %d: wire type %d, want %d", f.num, f.typ, typ)
	}
	return nil
}

func appendVarintField(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendBytesField(b []byte, num protowire.Number, v []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

func appendStringField(b []byte, num protowire.Number, v string) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, v)
}

// cloneBytes returns a non-nil copy so that present-but-empty bytes fields
// stay distinguishable from absent ones.
func cloneBytes(v []byte) []byte {
	out := make([]byte, len(v))
	copy(out, v)
	return out
}
