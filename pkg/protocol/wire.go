package protocol

import (
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// Wire schema. Field numbers are frozen; changing them breaks interop
// between deployed versions. Encoding is protobuf wire format, emitted
// deterministically: fields in ascending number order, zero scalars and
// empty lists omitted, repeated fields in submission order.
//
//  Request                      RequestList
//    1  request_rank  varint      1  requests  bytes (repeated Request)
//    2  request_type  varint      2  shutdown  varint (bool)
//    3  tensor_type   varint
//    4  root_rank     varint    ResponseList
//    5  device        varint      1  responses bytes (repeated Response)
//    6  tensor_name   bytes       2  shutdown  varint (bool)
//    7  tensor_shape  bytes (packed int64)
//
//  Response
//    1  response_type varint
//    2  tensor_names  bytes (repeated string)
//    3  error_message bytes
//    4  devices       bytes (packed int32)
//    5  tensor_sizes  bytes (packed int64)
//
// Readers skip unknown field numbers, so new trailing fields are safe to
// add. An absent repeated field and an empty one both decode to nil.

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedMessage, fmt.Sprintf(format, args...))
}

func appendInt32(b []byte, num protowire.Number, v int32) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, uint64(int64(v)))
}

func appendEnum(b []byte, num protowire.Number, v uint8) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, uint64(v))
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendBool(b []byte, num protowire.Number, v bool) []byte {
	if !v {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, 1)
}

func appendPackedInt64(b []byte, num protowire.Number, vs []int64) []byte {
	if len(vs) == 0 {
		return b
	}
	var packed []byte
	for _, v := range vs {
		packed = protowire.AppendVarint(packed, uint64(v))
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, packed)
}

func appendPackedInt32(b []byte, num protowire.Number, vs []int32) []byte {
	if len(vs) == 0 {
		return b
	}
	var packed []byte
	for _, v := range vs {
		packed = protowire.AppendVarint(packed, uint64(int64(v)))
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, packed)
}

// consumeVarint reads one varint field, rejecting unexpected wire types.
func consumeVarint(data []byte, typ protowire.Type, field string) (uint64, int, error) {
	if typ != protowire.VarintType {
		return 0, 0, malformed("%s: wire type %d, want varint", field, typ)
	}
	v, n := protowire.ConsumeVarint(data)
	if n < 0 {
		return 0, 0, malformed("%s: truncated varint", field)
	}
	return v, n, nil
}

func consumeInt32(data []byte, typ protowire.Type, field string) (int32, int, error) {
	v, n, err := consumeVarint(data, typ, field)
	if err != nil {
		return 0, 0, err
	}
	s := int64(v)
	if s < math.MinInt32 || s > math.MaxInt32 {
		return 0, 0, malformed("%s: value %d overflows int32", field, s)
	}
	return int32(s), n, nil
}

func consumeString(data []byte, typ protowire.Type, field string) (string, int, error) {
	if typ != protowire.BytesType {
		return "", 0, malformed("%s: wire type %d, want bytes", field, typ)
	}
	v, n := protowire.ConsumeString(data)
	if n < 0 {
		return "", 0, malformed("%s: truncated or oversized length", field)
	}
	return v, n, nil
}

// consumeInt64s reads a packed repeated int64 field and appends onto dst.
// A bare varint is accepted too, as protobuf readers must.
func consumeInt64s(dst []int64, data []byte, typ protowire.Type, field string) ([]int64, int, error) {
	switch typ {
	case protowire.BytesType:
		packed, n := protowire.ConsumeBytes(data)
		if n < 0 {
			return dst, 0, malformed("%s: truncated or oversized length", field)
		}
		for len(packed) > 0 {
			v, m := protowire.ConsumeVarint(packed)
			if m < 0 {
				return dst, 0, malformed("%s: truncated packed varint", field)
			}
			dst = append(dst, int64(v))
			packed = packed[m:]
		}
		return dst, n, nil
	case protowire.VarintType:
		v, n := protowire.ConsumeVarint(data)
		if n < 0 {
			return dst, 0, malformed("%s: truncated varint", field)
		}
		return append(dst, int64(v)), n, nil
	default:
		return dst, 0, malformed("%s: wire type %d, want packed varints", field, typ)
	}
}

func consumeInt32s(dst []int32, data []byte, typ protowire.Type, field string) ([]int32, int, error) {
	wide, n, err := consumeInt64s(nil, data, typ, field)
	if err != nil {
		return dst, 0, err
	}
	for _, v := range wide {
		if v < math.MinInt32 || v > math.MaxInt32 {
			return dst, 0, malformed("%s: value %d overflows int32", field, v)
		}
		dst = append(dst, int32(v))
	}
	return dst, n, nil
}

// skipField consumes an unknown field, validating its framing.
func skipField(data []byte, num protowire.Number, typ protowire.Type) (int, error) {
	n := protowire.ConsumeFieldValue(num, typ, data)
	if n < 0 {
		return 0, malformed("field %d: invalid wire data", num)
	}
	return n, nil
}

func (m *Request) appendWire(b []byte) []byte {
	b = appendInt32(b, 1, m.RequestRank)
	b = appendEnum(b, 2, uint8(m.Type))
	b = appendEnum(b, 3, uint8(m.TensorType))
	b = appendInt32(b, 4, m.RootRank)
	b = appendInt32(b, 5, m.Device)
	b = appendString(b, 6, m.TensorName)
	b = appendPackedInt64(b, 7, m.TensorShape)
	return b
}

// MarshalBinary encodes the request. It never fails for a well-formed
// in-memory value.
func (m *Request) MarshalBinary() ([]byte, error) {
	return m.appendWire(nil), nil
}

// UnmarshalBinary decodes one request from data, consuming the whole buffer.
func (m *Request) UnmarshalBinary(data []byte) error {
	*m = Request{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return malformed("request: bad tag")
		}
		data = data[n:]
		var err error
		switch num {
		case 1:
			m.RequestRank, n, err = consumeInt32(data, typ, "request_rank")
		case 2:
			var v uint64
			v, n, err = consumeVarint(data, typ, "request_type")
			m.Type = RequestType(v)
			if err == nil && (v >= uint64(numRequestTypes)) {
				err = malformed("request_type: unknown ordinal %d", v)
			}
		case 3:
			var v uint64
			v, n, err = consumeVarint(data, typ, "tensor_type")
			m.TensorType = DataType(v)
			if err == nil && (v >= uint64(numDataTypes)) {
				err = malformed("tensor_type: unknown ordinal %d", v)
			}
		case 4:
			m.RootRank, n, err = consumeInt32(data, typ, "root_rank")
		case 5:
			m.Device, n, err = consumeInt32(data, typ, "device")
		case 6:
			m.TensorName, n, err = consumeString(data, typ, "tensor_name")
		case 7:
			m.TensorShape, n, err = consumeInt64s(m.TensorShape, data, typ, "tensor_shape")
		default:
			n, err = skipField(data, num, typ)
		}
		if err != nil {
			return err
		}
		data = data[n:]
	}
	if m.RequestRank < 0 {
		return malformed("request_rank: negative rank %d", m.RequestRank)
	}
	for _, d := range m.TensorShape {
		if d < 0 {
			return malformed("tensor_shape: negative dimension %d", d)
		}
	}
	return nil
}

// MarshalBinary encodes the batch. It never fails for a well-formed
// in-memory value.
func (m *RequestList) MarshalBinary() ([]byte, error) {
	var b []byte
	for i := range m.Requests {
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendBytes(b, m.Requests[i].appendWire(nil))
	}
	b = appendBool(b, 2, m.Shutdown)
	return b, nil
}

// UnmarshalBinary decodes one request batch, consuming the whole buffer.
func (m *RequestList) UnmarshalBinary(data []byte) error {
	*m = RequestList{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return malformed("request list: bad tag")
		}
		data = data[n:]
		var err error
		switch num {
		case 1:
			var raw []byte
			if typ != protowire.BytesType {
				return malformed("requests: wire type %d, want bytes", typ)
			}
			raw, n = protowire.ConsumeBytes(data)
			if n < 0 {
				return malformed("requests: truncated or oversized length")
			}
			var req Request
			if err = req.UnmarshalBinary(raw); err != nil {
				return err
			}
			m.Requests = append(m.Requests, req)
		case 2:
			var v uint64
			v, n, err = consumeVarint(data, typ, "shutdown")
			m.Shutdown = v != 0
		default:
			n, err = skipField(data, num, typ)
		}
		if err != nil {
			return err
		}
		data = data[n:]
	}
	return nil
}

func (m *Response) appendWire(b []byte) []byte {
	b = appendEnum(b, 1, uint8(m.Type))
	for _, name := range m.TensorNames {
		b = appendString(b, 2, name)
	}
	b = appendString(b, 3, m.ErrorMessage)
	b = appendPackedInt32(b, 4, m.Devices)
	b = appendPackedInt64(b, 5, m.TensorSizes)
	return b
}

// MarshalBinary encodes the response. It never fails for a well-formed
// in-memory value.
func (m *Response) MarshalBinary() ([]byte, error) {
	return m.appendWire(nil), nil
}

// UnmarshalBinary decodes one response, consuming the whole buffer and
// enforcing the structural invariants of the message model.
func (m *Response) UnmarshalBinary(data []byte) error {
	*m = Response{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return malformed("response: bad tag")
		}
		data = data[n:]
		var err error
		switch num {
		case 1:
			var v uint64
			v, n, err = consumeVarint(data, typ, "response_type")
			m.Type = ResponseType(v)
			if err == nil && (v >= uint64(numResponseTypes)) {
				err = malformed("response_type: unknown ordinal %d", v)
			}
		case 2:
			var name string
			name, n, err = consumeString(data, typ, "tensor_names")
			if err == nil {
				m.TensorNames = append(m.TensorNames, name)
			}
		case 3:
			m.ErrorMessage, n, err = consumeString(data, typ, "error_message")
		case 4:
			m.Devices, n, err = consumeInt32s(m.Devices, data, typ, "devices")
		case 5:
			m.TensorSizes, n, err = consumeInt64s(m.TensorSizes, data, typ, "tensor_sizes")
		default:
			n, err = skipField(data, num, typ)
		}
		if err != nil {
			return err
		}
		data = data[n:]
	}
	return m.validate()
}

func (m *Response) validate() error {
	if len(m.TensorSizes) > 0 && m.Type != ResponseAllgather {
		return malformed("tensor_sizes present on %s response", m.Type)
	}
	if m.Type == ResponseAllgather &&
		len(m.TensorSizes) != len(m.TensorNames)*len(m.Devices) {
		return malformed("allgather sizes: got %d, want %d tensors x %d devices",
			len(m.TensorSizes), len(m.TensorNames), len(m.Devices))
	}
	if m.ErrorMessage != "" && m.Type != ResponseError {
		return malformed("error_message present on %s response", m.Type)
	}
	if m.Type == ResponseError && m.ErrorMessage == "" {
		return malformed("error response without message")
	}
	return nil
}

// MarshalBinary encodes the batch. It never fails for a well-formed
// in-memory value.
func (m *ResponseList) MarshalBinary() ([]byte, error) {
	var b []byte
	for i := range m.Responses {
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendBytes(b, m.Responses[i].appendWire(nil))
	}
	b = appendBool(b, 2, m.Shutdown)
	return b, nil
}

// UnmarshalBinary decodes one response batch, consuming the whole buffer.
func (m *ResponseList) UnmarshalBinary(data []byte) error {
	*m = ResponseList{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return malformed("response list: bad tag")
		}
		data = data[n:]
		var err error
		switch num {
		case 1:
			var raw []byte
			if typ != protowire.BytesType {
				return malformed("responses: wire type %d, want bytes", typ)
			}
			raw, n = protowire.ConsumeBytes(data)
			if n < 0 {
				return malformed("responses: truncated or oversized length")
			}
			var resp Response
			if err = resp.UnmarshalBinary(raw); err != nil {
				return err
			}
			m.Responses = append(m.Responses, resp)
		case 2:
			var v uint64
			v, n, err = consumeVarint(data, typ, "shutdown")
			m.Shutdown = v != 0
		default:
			n, err = skipField(data, num, typ)
		}
		if err != nil {
			return err
		}
		data = data[n:]
	}
	return nil
}
