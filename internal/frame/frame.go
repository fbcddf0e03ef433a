// Package frame encodes and decodes the binary signaling frames:
//
//	[1 byte kind][2 bytes body length, big endian][body: JSON text]
//
// The body is omitted when there is no payload.
package frame

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"unicode/utf8"
)

const (
	HeaderSize     = 3
	MaxPayloadSize = 0xFFFF
)

var (
	ErrPayloadTooLarge = errors.New("payload too large")
	ErrMalformedFrame  = errors.New("malformed frame")
)

// Frame is a single decoded message. Payload is nil when the frame has no body.
type Frame struct {
	Kind    EventKind
	Payload json.RawMessage
}

// Encode serializes payload to JSON and prepends the frame header.
func Encode(kind EventKind, payload any) ([]byte, error) {
	if isNoValue(payload) {
		return EncodeRaw(kind, nil)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", kind, err)
	}
	if bytes.Equal(body, []byte("null")) {
		body = nil
	}

	return EncodeRaw(kind, body)
}

// EncodeRaw frames a body that is already serialized.
func EncodeRaw(kind EventKind, body []byte) ([]byte, error) {
	if len(body) > MaxPayloadSize {
		return nil, fmt.Errorf("%w: %s body is %d bytes, max %d", ErrPayloadTooLarge, kind, len(body), MaxPayloadSize)
	}

	buf := make([]byte, HeaderSize+len(body))
	buf[0] = byte(kind)
	binary.BigEndian.PutUint16(buf[1:HeaderSize], uint16(len(body)))
	copy(buf[HeaderSize:], body)

	return buf, nil
}

// Decode parses one frame. Unknown kinds are kept as-is; deciding what to do
// with them is up to the caller.
func Decode(b []byte) (Frame, error) {
	if len(b) < HeaderSize {
		return Frame{}, fmt.Errorf("%w: %d bytes is shorter than the header", ErrMalformedFrame, len(b))
	}

	f := Frame{Kind: EventKind(b[0])}
	length := int(binary.BigEndian.Uint16(b[1:HeaderSize]))
	body := b[HeaderSize:]

	if len(body) != length {
		return Frame{}, fmt.Errorf("%w: declared length %d, got %d body bytes", ErrMalformedFrame, length, len(body))
	}
	if length == 0 {
		return f, nil
	}

	if !utf8.Valid(body) {
		return Frame{}, fmt.Errorf("%w: %s body is not valid UTF-8", ErrMalformedFrame, f.Kind)
	}
	if !json.Valid(body) {
		return Frame{}, fmt.Errorf("%w: %s body is not valid JSON", ErrMalformedFrame, f.Kind)
	}

	f.Payload = make(json.RawMessage, length)
	copy(f.Payload, body)

	return f, nil
}

func isNoValue(payload any) bool {
	if payload == nil {
		return true
	}
	if raw, ok := payload.(json.RawMessage); ok {
		return len(raw) == 0 || bytes.Equal(raw, []byte("null"))
	}

	v := reflect.ValueOf(payload)
	switch v.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface:
		return v.IsNil()
	}
	return false
}
