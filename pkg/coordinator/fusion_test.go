package coordinator

import (
	"slices"
	"testing"

	"github.com/arnoldhuanghk/horovod/pkg/protocol"
)

func TestFuseAllreduceSameDtype(t *testing.T) {
	in := []protocol.Response{
		{Type: protocol.ResponseAllreduce, TensorNames: []string{"a"}, Devices: []int32{-1, -1}},
		{Type: protocol.ResponseAllreduce, TensorNames: []string{"b"}, Devices: []int32{-1, -1}},
		{Type: protocol.ResponseAllreduce, TensorNames: []string{"c"}, Devices: []int32{-1, -1}},
	}
	dtypes := map[string]protocol.DataType{
		"a": protocol.TypeFloat32, "b": protocol.TypeFloat32, "c": protocol.TypeFloat32,
	}
	out, err := fuseResponses(in, dtypes)
	if err != nil {
		t.Fatalf("fuse: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("want one fused response, got %d", len(out))
	}
	if !slices.Equal(out[0].TensorNames, []string{"a", "b", "c"}) {
		t.Fatalf("fused names out of order: %v", out[0].TensorNames)
	}
}

func TestFuseAllreduceSplitsByDtype(t *testing.T) {
	in := []protocol.Response{
		{Type: protocol.ResponseAllreduce, TensorNames: []string{"a"}, Devices: []int32{0}},
		{Type: protocol.ResponseAllreduce, TensorNames: []string{"b"}, Devices: []int32{0}},
		{Type: protocol.ResponseAllreduce, TensorNames: []string{"c"}, Devices: []int32{0}},
	}
	dtypes := map[string]protocol.DataType{
		"a": protocol.TypeFloat32, "b": protocol.TypeFloat64, "c": protocol.TypeFloat32,
	}
	out, err := fuseResponses(in, dtypes)
	if err != nil {
		t.Fatalf("fuse: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("want 2 responses, got %d: %+v", len(out), out)
	}
	// a absorbs c; b stays alone; relative order is preserved
	if !slices.Equal(out[0].TensorNames, []string{"a", "c"}) {
		t.Fatalf("float32 group wrong: %v", out[0].TensorNames)
	}
	if !slices.Equal(out[1].TensorNames, []string{"b"}) {
		t.Fatalf("float64 group wrong: %v", out[1].TensorNames)
	}
}

func TestFuseAllgatherConcatenatesSizes(t *testing.T) {
	in := []protocol.Response{
		{Type: protocol.ResponseAllgather, TensorNames: []string{"x"}, Devices: []int32{-1, -1}, TensorSizes: []int64{2, 3}},
		{Type: protocol.ResponseAllgather, TensorNames: []string{"y"}, Devices: []int32{-1, -1}, TensorSizes: []int64{4, 1}},
	}
	out, err := fuseResponses(in, nil)
	if err != nil {
		t.Fatalf("fuse: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("want one fused response, got %d", len(out))
	}
	if !slices.Equal(out[0].TensorSizes, []int64{2, 3, 4, 1}) {
		t.Fatalf("sizes must concatenate in member order: %v", out[0].TensorSizes)
	}
	if len(out[0].TensorSizes) != len(out[0].TensorNames)*len(out[0].Devices) {
		t.Fatal("fused sizes no longer line up with names x devices")
	}
}

func TestFuseRespectsDeviceLists(t *testing.T) {
	in := []protocol.Response{
		{Type: protocol.ResponseAllreduce, TensorNames: []string{"a"}, Devices: []int32{0, 1}},
		{Type: protocol.ResponseAllreduce, TensorNames: []string{"b"}, Devices: []int32{1, 0}},
	}
	dtypes := map[string]protocol.DataType{"a": protocol.TypeFloat32, "b": protocol.TypeFloat32}
	out, err := fuseResponses(in, dtypes)
	if err != nil {
		t.Fatalf("fuse: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("different device placements must not fuse: %+v", out)
	}
}

func TestFusePassesThroughBroadcastAndErrors(t *testing.T) {
	in := []protocol.Response{
		{Type: protocol.ResponseBroadcast, TensorNames: []string{"a"}, Devices: []int32{0}},
		{Type: protocol.ResponseBroadcast, TensorNames: []string{"b"}, Devices: []int32{0}},
		{Type: protocol.ResponseError, TensorNames: []string{"c"}, ErrorMessage: "boom"},
		{Type: protocol.ResponseError, TensorNames: []string{"d"}, ErrorMessage: "boom"},
	}
	out, err := fuseResponses(in, nil)
	if err != nil {
		t.Fatalf("fuse: %v", err)
	}
	if len(out) != 4 {
		t.Fatalf("broadcast and error responses never fuse: %+v", out)
	}
}

func TestExtendWithRejectsIllegalMerges(t *testing.T) {
	base := protocol.Response{Type: protocol.ResponseAllreduce, TensorNames: []string{"a"}, Devices: []int32{0}}

	other := protocol.Response{Type: protocol.ResponseAllgather, TensorNames: []string{"b"}, Devices: []int32{0}}
	if err := base.ExtendWith(&other); err == nil {
		t.Fatal("cross-kind merge must fail")
	}

	bcast := protocol.Response{Type: protocol.ResponseBroadcast, TensorNames: []string{"a"}, Devices: []int32{0}}
	same := protocol.Response{Type: protocol.ResponseBroadcast, TensorNames: []string{"b"}, Devices: []int32{0}}
	if err := bcast.ExtendWith(&same); err == nil {
		t.Fatal("broadcast merge must fail")
	}
}
