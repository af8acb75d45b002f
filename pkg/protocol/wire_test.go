package protocol

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"google.golang.org/protobuf/encoding/protowire"
)

func TestRequestListRoundtrip(t *testing.T) {
	in := RequestList{
		Requests: []Request{
			{
				RequestRank: 2,
				Type:        RequestAllreduce,
				TensorType:  TypeFloat32,
				Device:      -1,
				TensorName:  "grad/dense.0",
				TensorShape: []int64{64, 128},
			},
			{
				RequestRank: 2,
				Type:        RequestBroadcast,
				TensorType:  TypeInt64,
				RootRank:    1,
				Device:      0,
				TensorName:  "global_step",
				// scalar: empty shape
			},
			{
				RequestRank: 2,
				Type:        RequestAllgather,
				TensorType:  TypeUint8,
				Device:      3,
				TensorName:  strings.Repeat("very/long/scope/", 40) + "tensor",
				TensorShape: []int64{7, 3, 3},
			},
		},
		Shutdown: true,
	}

	b, err := in.MarshalBinary()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out RequestList
	if err := out.UnmarshalBinary(b); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(out.Requests) != 3 || !out.Shutdown {
		t.Fatalf("bad roundtrip: %+v", out)
	}
	if out.Requests[0].TensorName != "grad/dense.0" || out.Requests[0].Device != -1 {
		t.Fatalf("request 0 mangled: %+v", out.Requests[0])
	}
	if out.Requests[1].TensorShape != nil {
		t.Fatalf("scalar shape should decode nil, got %v", out.Requests[1].TensorShape)
	}
	if out.Requests[2].TensorShape[2] != 3 {
		t.Fatalf("shape mangled: %v", out.Requests[2].TensorShape)
	}

	// Encoding is deterministic
	b2, _ := in.MarshalBinary()
	if !bytes.Equal(b, b2) {
		t.Fatal("marshal is not deterministic")
	}
}

func TestResponseListRoundtrip(t *testing.T) {
	in := ResponseList{
		Responses: []Response{
			{
				Type:        ResponseAllgather,
				TensorNames: []string{"a", "b"},
				Devices:     []int32{-1, 2},
				TensorSizes: []int64{5, 9, 1, 1},
			},
			{
				Type:         ResponseError,
				TensorNames:  []string{"c"},
				ErrorMessage: "mismatched element types: rank 0 sent float32, rank 1 sent float64",
			},
		},
	}
	b, err := in.MarshalBinary()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out ResponseList
	if err := out.UnmarshalBinary(b); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(out.Responses) != 2 || out.Shutdown {
		t.Fatalf("bad roundtrip: %+v", out)
	}
	if got := out.Responses[0].TensorSizes; len(got) != 4 || got[1] != 9 {
		t.Fatalf("sizes mangled: %v", got)
	}
	if out.Responses[1].ErrorMessage == "" {
		t.Fatal("error message lost")
	}
}

func TestEmptyBatchEncodesEmpty(t *testing.T) {
	var in RequestList
	b, err := in.MarshalBinary()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if len(b) != 0 {
		t.Fatalf("empty batch should encode to zero bytes, got %d", len(b))
	}
	var out RequestList
	if err := out.UnmarshalBinary(nil); err != nil {
		t.Fatalf("unmarshal empty: %v", err)
	}
	if out.Requests != nil || out.Shutdown {
		t.Fatalf("empty batch mangled: %+v", out)
	}
}

func TestUnknownFieldsSkipped(t *testing.T) {
	in := Request{RequestRank: 1, TensorType: TypeFloat64, TensorName: "x"}
	b, _ := in.MarshalBinary()

	// A future writer appends fields this reader has never heard of.
	b = protowire.AppendTag(b, 99, protowire.VarintType)
	b = protowire.AppendVarint(b, 12345)
	b = protowire.AppendTag(b, 100, protowire.BytesType)
	b = protowire.AppendBytes(b, []byte("future payload"))

	var out Request
	if err := out.UnmarshalBinary(b); err != nil {
		t.Fatalf("unknown fields must be skipped: %v", err)
	}
	if out.TensorName != "x" || out.TensorType != TypeFloat64 {
		t.Fatalf("known fields mangled: %+v", out)
	}
}

func TestMalformedRequests(t *testing.T) {
	cases := []struct {
		name string
		data func() []byte
	}{
		{"truncated varint", func() []byte {
			b := protowire.AppendTag(nil, 1, protowire.VarintType)
			return append(b, 0x80) // continuation bit with no next byte
		}},
		{"truncated string", func() []byte {
			b := protowire.AppendTag(nil, 6, protowire.BytesType)
			return protowire.AppendVarint(b, 1000) // length beyond buffer
		}},
		{"unknown request type ordinal", func() []byte {
			b := protowire.AppendTag(nil, 2, protowire.VarintType)
			return protowire.AppendVarint(b, 99)
		}},
		{"unknown tensor type ordinal", func() []byte {
			b := protowire.AppendTag(nil, 3, protowire.VarintType)
			return protowire.AppendVarint(b, uint64(numDataTypes))
		}},
		{"negative rank", func() []byte {
			b := protowire.AppendTag(nil, 1, protowire.VarintType)
			return protowire.AppendVarint(b, uint64(uint32(0xffffffff))) // -1 as int32
		}},
		{"negative dimension", func() []byte {
			var packed []byte
			packed = protowire.AppendVarint(packed, uint64(^uint64(0))) // -1
			b := protowire.AppendTag(nil, 7, protowire.BytesType)
			return protowire.AppendBytes(b, packed)
		}},
		{"wrong wire type for name", func() []byte {
			b := protowire.AppendTag(nil, 6, protowire.VarintType)
			return protowire.AppendVarint(b, 1)
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var out Request
			err := out.UnmarshalBinary(tc.data())
			if err == nil {
				t.Fatal("want error, got nil")
			}
			if !errors.Is(err, ErrMalformedMessage) {
				t.Fatalf("want ErrMalformedMessage, got %v", err)
			}
		})
	}
}

func TestResponseStructuralInvariants(t *testing.T) {
	cases := []struct {
		name string
		resp Response
	}{
		{"sizes on allreduce", Response{Type: ResponseAllreduce, TensorNames: []string{"a"}, TensorSizes: []int64{1}}},
		{"sizes on broadcast", Response{Type: ResponseBroadcast, TensorNames: []string{"a"}, TensorSizes: []int64{1}}},
		{"message on non-error", Response{Type: ResponseAllreduce, TensorNames: []string{"a"}, ErrorMessage: "boom"}},
		{"error without message", Response{Type: ResponseError, TensorNames: []string{"a"}}},
		{"allgather size count mismatch", Response{
			Type:        ResponseAllgather,
			TensorNames: []string{"a", "b"},
			Devices:     []int32{0, 1},
			TensorSizes: []int64{1, 2, 3}, // want 2*2
		}},
		{"allgather sizes without devices", Response{
			Type:        ResponseAllgather,
			TensorNames: []string{"a"},
			TensorSizes: []int64{5, 9},
		}},
		{"allgather devices without sizes", Response{
			Type:        ResponseAllgather,
			TensorNames: []string{"a"},
			Devices:     []int32{0, 1},
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			b, err := tc.resp.MarshalBinary()
			if err != nil {
				t.Fatalf("marshal: %v", err)
			}
			var out Response
			if err := out.UnmarshalBinary(b); !errors.Is(err, ErrMalformedMessage) {
				t.Fatalf("want ErrMalformedMessage, got %v", err)
			}
		})
	}
}

func TestResponseListRejectsBadMember(t *testing.T) {
	bad := Response{Type: ResponseError} // no message
	inner, _ := bad.MarshalBinary()
	b := protowire.AppendTag(nil, 1, protowire.BytesType)
	b = protowire.AppendBytes(b, inner)

	var out ResponseList
	if err := out.UnmarshalBinary(b); !errors.Is(err, ErrMalformedMessage) {
		t.Fatalf("want ErrMalformedMessage, got %v", err)
	}
}
