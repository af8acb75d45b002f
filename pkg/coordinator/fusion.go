package coordinator

import (
	"slices"

	"github.com/arnoldhuanghk/horovod/pkg/protocol"
)

// fuseResponses merges ready allreduce/allgather responses that may legally
// execute as one operation: identical kind and identical ordered device
// list, and for allreduce an identical element type. The input is already
// in ascending tensor-name order, and each response absorbs every later
// compatible one, so fusion changes grouping but never relative order.
// Broadcast and error responses pass through untouched.
//
// Fusion only recombines responses that are already ready; it never makes
// a tensor ready.
func fuseResponses(responses []protocol.Response, dtypes map[string]protocol.DataType) ([]protocol.Response, error) {
	out := make([]protocol.Response, 0, len(responses))
	used := make([]bool, len(responses))
	for i := range responses {
		if used[i] {
			continue
		}
		r := responses[i]
		if fusable(r.Type) {
			for j := i + 1; j < len(responses); j++ {
				if used[j] {
					continue
				}
				o := &responses[j]
				if o.Type != r.Type || !slices.Equal(o.Devices, r.Devices) {
					continue
				}
				if r.Type == protocol.ResponseAllreduce &&
					dtypes[o.TensorNames[0]] != dtypes[r.TensorNames[0]] {
					continue
				}
				if err := r.ExtendWith(o); err != nil {
					return nil, err
				}
				used[j] = true
			}
		}
		out = append(out, r)
	}
	return out, nil
}

func fusable(t protocol.ResponseType) bool {
	return t == protocol.ResponseAllreduce || t == protocol.ResponseAllgather
}
