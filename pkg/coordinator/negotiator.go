// Package coordinator implements the per-round negotiation state machine
// run by the designated coordinator rank: it collects one request batch
// from every rank, decides which tensors are ready, resolves mismatches
// into error responses, fuses compatible operations, and emits the single
// globally agreed response batch for the round.
package coordinator

import (
	"fmt"
	"slices"
	"sort"

	"go.uber.org/zap"

	"github.com/arnoldhuanghk/horovod/pkg/protocol"
)

// tensorEntry tracks one tensor name awaiting full participation.
// The lowest-rank request serves as the canonical type/shape record when
// the tensor is resolved, so decisions and error text never depend on
// arrival order.
type tensorEntry struct {
	requests map[int32]protocol.Request
}

// Negotiator is the round-scoped decision engine. It is not safe for
// concurrent use; the Controller drives it from a single goroutine.
type Negotiator struct {
	size  int32
	round uint64

	// table maps tensor name to its arrival entry. Entries persist until
	// every rank has contributed (then they resolve into a response) so a
	// tensor requested by only some ranks simply waits for the rest.
	table map[string]*tensorEntry

	// per-round bookkeeping, reset when the round closes or aborts
	submitted map[int32]bool
	votes     map[int32]bool
	added     []addition

	log *zap.Logger
}

type addition struct {
	name string
	rank int32
}

// NewNegotiator creates a negotiator for a fixed world of size ranks.
func NewNegotiator(size int32, log *zap.Logger) *Negotiator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Negotiator{
		size:      size,
		round:     1,
		table:     make(map[string]*tensorEntry),
		submitted: make(map[int32]bool),
		votes:     make(map[int32]bool),
		log:       log,
	}
}

// Size returns the number of participating ranks.
func (n *Negotiator) Size() int32 { return n.size }

// Round returns the current round number, starting at 1.
func (n *Negotiator) Round() uint64 { return n.round }

// Pending returns how many tensors are still waiting for full
// participation.
func (n *Negotiator) Pending() int { return len(n.table) }

// SubmitBatch records one rank's batch for the current round. The batch is
// applied atomically: on any protocol violation nothing is recorded and an
// error wrapping protocol.ErrMalformedMessage is returned.
func (n *Negotiator) SubmitBatch(rank int32, batch protocol.RequestList) error {
	if rank < 0 || rank >= n.size {
		return fmt.Errorf("%w: rank %d outside world of size %d", protocol.ErrMalformedMessage, rank, n.size)
	}
	if n.submitted[rank] {
		return fmt.Errorf("%w: rank %d submitted twice in round %d", protocol.ErrMalformedMessage, rank, n.round)
	}
	seen := make(map[string]bool, len(batch.Requests))
	for i := range batch.Requests {
		r := &batch.Requests[i]
		if r.TensorName == "" {
			return fmt.Errorf("%w: request with empty tensor name from rank %d", protocol.ErrMalformedMessage, rank)
		}
		if r.RequestRank != rank {
			return fmt.Errorf("%w: batch from rank %d carries request from rank %d", protocol.ErrMalformedMessage, rank, r.RequestRank)
		}
		if seen[r.TensorName] {
			return fmt.Errorf("%w: duplicate request for tensor %q from rank %d", protocol.ErrMalformedMessage, r.TensorName, rank)
		}
		seen[r.TensorName] = true
		if e := n.table[r.TensorName]; e != nil {
			if _, dup := e.requests[rank]; dup {
				return fmt.Errorf("%w: rank %d re-requested pending tensor %q", protocol.ErrMalformedMessage, rank, r.TensorName)
			}
		}
	}

	for i := range batch.Requests {
		r := batch.Requests[i]
		e := n.table[r.TensorName]
		if e == nil {
			e = &tensorEntry{requests: make(map[int32]protocol.Request, n.size)}
			n.table[r.TensorName] = e
		}
		e.requests[rank] = r
		n.added = append(n.added, addition{name: r.TensorName, rank: rank})
	}
	n.submitted[rank] = true
	n.votes[rank] = batch.Shutdown
	n.log.Debug("batch submitted",
		zap.Uint64("round", n.round),
		zap.Int32("rank", rank),
		zap.Int("requests", len(batch.Requests)),
		zap.Bool("shutdown", batch.Shutdown))
	return nil
}

// RoundComplete reports whether every rank has submitted this round.
func (n *Negotiator) RoundComplete() bool { return len(n.submitted) == int(n.size) }

// SubmittedRanks lists the ranks that have submitted in the current round,
// in ascending order. These are the ranks blocked waiting for the round's
// answer.
func (n *Negotiator) SubmittedRanks() []int32 {
	ranks := make([]int32, 0, len(n.submitted))
	for rank := range n.submitted {
		ranks = append(ranks, rank)
	}
	slices.Sort(ranks)
	return ranks
}

// AbortRound discards everything submitted this round: arrival entries
// added since the last close are removed and round bookkeeping is reset.
// The round number does not advance; ranks resubmit into the same round.
func (n *Negotiator) AbortRound() {
	for _, a := range n.added {
		if e := n.table[a.name]; e != nil {
			delete(e.requests, a.rank)
			if len(e.requests) == 0 {
				delete(n.table, a.name)
			}
		}
	}
	n.resetRound(false)
	n.log.Warn("round aborted", zap.Uint64("round", n.round))
}

// CloseRound resolves the completed round into the agreed response batch.
// Responses appear in ascending tensor-name order; that order is binding
// for every rank's executor. The returned batch is identical regardless of
// the order batches were submitted in.
func (n *Negotiator) CloseRound() (protocol.ResponseList, error) {
	if !n.RoundComplete() {
		return protocol.ResponseList{}, fmt.Errorf("round %d incomplete: %d of %d ranks submitted",
			n.round, len(n.submitted), n.size)
	}

	var ready []string
	for name, e := range n.table {
		if len(e.requests) == int(n.size) {
			ready = append(ready, name)
		}
	}
	sort.Strings(ready)

	responses := make([]protocol.Response, 0, len(ready))
	dtypes := make(map[string]protocol.DataType, len(ready))
	for _, name := range ready {
		e := n.table[name]
		resp := n.resolve(name, e)
		if resp.Type != protocol.ResponseError {
			dtypes[name] = e.requests[0].TensorType
		}
		responses = append(responses, resp)
		delete(n.table, name)
	}

	fused, err := fuseResponses(responses, dtypes)
	if err != nil {
		return protocol.ResponseList{}, err
	}

	shutdown := len(n.table) == 0
	for rank := int32(0); rank < n.size; rank++ {
		if !n.votes[rank] {
			shutdown = false
			break
		}
	}

	list := protocol.ResponseList{Responses: fused, Shutdown: shutdown}
	n.log.Info("round closed",
		zap.Uint64("round", n.round),
		zap.Int("ready", len(ready)),
		zap.Int("responses", len(fused)),
		zap.Int("pending", len(n.table)),
		zap.Bool("shutdown", shutdown))
	n.resetRound(true)
	return list, nil
}

func (n *Negotiator) resetRound(advance bool) {
	n.submitted = make(map[int32]bool)
	n.votes = make(map[int32]bool)
	n.added = nil
	if advance {
		n.round++
	}
}

// resolve turns a fully-participated tensor entry into one response,
// checking every rank's request against the canonical rank-0 record.
func (n *Negotiator) resolve(name string, e *tensorEntry) protocol.Response {
	canon := e.requests[0]
	errorResp := func(msg string) protocol.Response {
		return protocol.Response{
			Type:         protocol.ResponseError,
			TensorNames:  []string{name},
			ErrorMessage: msg,
		}
	}

	for rank := int32(1); rank < n.size; rank++ {
		r := e.requests[rank]
		if r.Type != canon.Type {
			return errorResp(fmt.Sprintf("mismatched collective kinds: rank 0 requested %s, rank %d requested %s",
				canon.Type, rank, r.Type))
		}
		if r.TensorType != canon.TensorType {
			return errorResp(fmt.Sprintf("mismatched element types: rank 0 sent %s, rank %d sent %s",
				canon.TensorType, rank, r.TensorType))
		}
	}

	switch canon.Type {
	case protocol.RequestAllreduce:
		for rank := int32(1); rank < n.size; rank++ {
			if r := e.requests[rank]; !slices.Equal(r.TensorShape, canon.TensorShape) {
				return errorResp(fmt.Sprintf("mismatched allreduce tensor shapes: rank 0 sent %v, rank %d sent %v",
					canon.TensorShape, rank, r.TensorShape))
			}
		}
	case protocol.RequestAllgather:
		if len(canon.TensorShape) == 0 {
			return errorResp("allgather requires a tensor with at least one dimension")
		}
		for rank := int32(1); rank < n.size; rank++ {
			r := e.requests[rank]
			if len(r.TensorShape) != len(canon.TensorShape) ||
				!slices.Equal(r.TensorShape[1:], canon.TensorShape[1:]) {
				return errorResp(fmt.Sprintf("mismatched allgather tensor shapes: rank 0 sent %v, rank %d sent %v",
					canon.TensorShape, rank, r.TensorShape))
			}
		}
	case protocol.RequestBroadcast:
		for rank := int32(1); rank < n.size; rank++ {
			r := e.requests[rank]
			if r.RootRank != canon.RootRank {
				return errorResp(fmt.Sprintf("mismatched broadcast root ranks: rank 0 specified %d, rank %d specified %d",
					canon.RootRank, rank, r.RootRank))
			}
			if !slices.Equal(r.TensorShape, canon.TensorShape) {
				return errorResp(fmt.Sprintf("mismatched broadcast tensor shapes: rank 0 sent %v, rank %d sent %v",
					canon.TensorShape, rank, r.TensorShape))
			}
		}
	}

	devices := make([]int32, n.size)
	for rank := int32(0); rank < n.size; rank++ {
		devices[rank] = e.requests[rank].Device
	}

	resp := protocol.Response{
		Type:        protocol.ResponseType(canon.Type),
		TensorNames: []string{name},
		Devices:     devices,
	}
	if canon.Type == protocol.RequestAllgather {
		sizes := make([]int64, n.size)
		for rank := int32(0); rank < n.size; rank++ {
			sizes[rank] = e.requests[rank].TensorShape[0]
		}
		resp.TensorSizes = sizes
	}
	return resp
}
