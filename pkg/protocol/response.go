package protocol

import "fmt"

// Response is the coordinator's decision for one or more tensors sharing a
// kind. TensorNames holds more than one entry only for fused allreduce or
// allgather responses.
type Response struct {
	Type ResponseType
	// TensorNames lists the covered tensors in the globally agreed order.
	TensorNames []string
	// ErrorMessage is non-empty iff Type is ResponseError.
	ErrorMessage string
	// Devices lists the participating device hints indexed by rank.
	Devices []int32
	// TensorSizes holds per-rank dimension-zero sizes, allgather only.
	// For a fused allgather it holds len(Devices) entries per member tensor,
	// appended in member order.
	TensorSizes []int64
}

// ResponseList is the single total-ordered schedule agreed for a round.
// Every rank receives bit-identical bytes of it.
type ResponseList struct {
	Responses []Response
	Shutdown  bool
}

// ExtendWith appends other's tensor names (and, for allgather, per-rank
// sizes) onto r, growing a fused response. Both responses must share the
// same fusable kind and an identical ordered device list; anything else is
// ErrInvalidFusion.
func (r *Response) ExtendWith(other *Response) error {
	if r.Type != other.Type {
		return fmt.Errorf("%w: cannot merge %s into %s", ErrInvalidFusion, other.Type, r.Type)
	}
	if r.Type != ResponseAllreduce && r.Type != ResponseAllgather {
		return fmt.Errorf("%w: %s responses are not fusable", ErrInvalidFusion, r.Type)
	}
	if !devicesEqual(r.Devices, other.Devices) {
		return fmt.Errorf("%w: device lists differ", ErrInvalidFusion)
	}
	r.TensorNames = append(r.TensorNames, other.TensorNames...)
	if r.Type == ResponseAllgather {
		r.TensorSizes = append(r.TensorSizes, other.TensorSizes...)
	}
	return nil
}

func devicesEqual(a, b []int32) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
