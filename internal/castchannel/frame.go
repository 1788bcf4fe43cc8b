package castchannel

import (
	"encoding/binary"
	"fmt"
	"io"
)

// MaxFrameSize is the largest CastMessage a receiver accepts.
const MaxFrameSize = 64 * 1024

// NewTextMessage builds a CastMessage carrying a UTF-8 payload.
func NewTextMessage(source, destination, namespace, payload string) *CastMessage {
	v, t := CastV2_1_0, PayloadString
	return &CastMessage{
		ProtocolVersion: &v,
		SourceID:        &source,
		DestinationID:   &destination,
		Namespace:       &namespace,
		PayloadType:     &t,
		PayloadUTF8:     &payload,
	}
}

// NewBinaryMessage builds a CastMessage carrying a binary payload.
func NewBinaryMessage(source, destination, namespace string, payload []byte) *CastMessage {
	v, t := CastV2_1_0, PayloadBinary
	if payload == nil {
		payload = []byte{}
	}
	return &CastMessage{
		ProtocolVersion: &v,
		SourceID:        &source,
		DestinationID:   &destination,
		Namespace:       &namespace,
		PayloadType:     &t,
		PayloadBinary:   payload,
	}
}

// WriteFrame encodes m and writes it with a 4-byte big-endian length prefix.
func WriteFrame(w io.Writer, m *CastMessage) error {
	body, err := Encode(m)
	if err != nil {
		return err
	}
	if len(body) > MaxFrameSize {
		return schemaErr(m.Kind(), "frame of %d bytes exceeds %d", len(body), MaxFrameSize)
	}
	buf := make([]byte, 4+len(body))
	binary.BigEndian.PutUint32(buf, uint32(len(body)))
	copy(buf[4:], body)
	_, err = w.Write(buf)
	return err
}

// ReadFrame reads one length-prefixed CastMessage. I/O errors (including
// io.EOF before the first header byte) are returned unwrapped so callers can
// tell a closed connection from a malformed message.
func ReadFrame(r io.Reader) (*CastMessage, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(hdr[:])
	if n > MaxFrameSize {
		return nil, fmt.Errorf("%w: frame length %d exceeds %d", ErrMalformedMessage, n, MaxFrameSize)
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}
	m := &CastMessage{}
	if err := Decode(body, m); err != nil {
		return nil, err
	}
	return m, nil
}
