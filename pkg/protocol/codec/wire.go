package codec

import (
	"encoding"
	"fmt"
)

type wireCodec struct{}

// Wire returns a codec for the negotiation wire format: any message that
// implements encoding.BinaryMarshaler/BinaryUnmarshaler.
// Content-Type: application/x-collective-wire
func Wire() Codec { return wireCodec{} }

func (wireCodec) ContentType() string { return "application/x-collective-wire" }

func (wireCodec) Marshal(v any) ([]byte, error) {
	m, ok := v.(encoding.BinaryMarshaler)
	if !ok {
		return nil, fmt.Errorf("wire: value does not implement BinaryMarshaler: %T", v)
	}
	return m.MarshalBinary()
}

func (wireCodec) Unmarshal(data []byte, v any) error {
	m, ok := v.(encoding.BinaryUnmarshaler)
	if !ok {
		return fmt.Errorf("wire: target does not implement BinaryUnmarshaler: %T", v)
	}
	return m.UnmarshalBinary(data)
}
