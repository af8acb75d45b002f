// Package worker implements the rank-side negotiation loop: submit one
// request batch per round, receive the agreed response batch, and hand
// each response to the downstream executor in the agreed order.
package worker

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/arnoldhuanghk/horovod/pkg/api"
	"github.com/arnoldhuanghk/horovod/pkg/protocol"
	"github.com/arnoldhuanghk/horovod/pkg/transport"
)

// Worker negotiates on behalf of one rank.
type Worker struct {
	rank     int32
	producer api.Producer
	executor api.Executor
	log      *zap.Logger

	stream transport.Stream
}

// New creates a worker for the given rank. producer supplies each round's
// batch; executor runs the agreed collectives.
func New(rank int32, producer api.Producer, executor api.Executor, log *zap.Logger) *Worker {
	if log == nil {
		log = zap.NewNop()
	}
	return &Worker{rank: rank, producer: producer, executor: executor, log: log}
}

// Connect dials the coordinator and opens the control stream.
func (w *Worker) Connect(ctx context.Context, tr transport.Transport, addr string) error {
	peer := transport.PeerInfo{ID: transport.PeerID(fmt.Sprintf("rank-%d", w.rank)), Addr: addr}
	sess, err := tr.Dial(ctx, addr, peer)
	if err != nil {
		return fmt.Errorf("dial coordinator: %w", err)
	}
	st, err := sess.OpenStream(ctx)
	if err != nil {
		_ = sess.Close()
		return fmt.Errorf("open stream: %w", err)
	}
	w.stream = st
	return nil
}

// Run negotiates rounds until the coordinator grants shutdown or ctx is
// canceled. Connect must have succeeded first.
func (w *Worker) Run(ctx context.Context) error {
	if w.stream == nil {
		return fmt.Errorf("rank %d: not connected", w.rank)
	}
	defer func() { _ = w.stream.Close() }()

	for round := uint64(1); ; round++ {
		batch, err := w.producer.NextBatch(ctx)
		if err != nil {
			return fmt.Errorf("rank %d: produce batch: %w", w.rank, err)
		}
		list, err := w.negotiate(ctx, round, &batch)
		if err != nil {
			return err
		}
		for i := range list.Responses {
			resp := &list.Responses[i]
			if err := w.executor.Execute(ctx, *resp); err != nil {
				w.log.Error("executor failed",
					zap.Strings("tensors", resp.TensorNames),
					zap.String("kind", resp.Type.String()),
					zap.Error(err))
			}
		}
		if list.Shutdown {
			w.log.Info("shutdown granted", zap.Uint64("rounds", round))
			return nil
		}
	}
}

// negotiate submits the batch for one round and waits for the agreed
// responses, resubmitting if the coordinator aborts the round.
func (w *Worker) negotiate(ctx context.Context, round uint64, batch *protocol.RequestList) (protocol.ResponseList, error) {
	env, err := protocol.NewEnvelope(protocol.MsgRequestList, uint32(w.rank), round, batch)
	if err != nil {
		return protocol.ResponseList{}, err
	}
	frame, err := env.EncodeFrame()
	if err != nil {
		return protocol.ResponseList{}, err
	}

	for {
		if err := ctx.Err(); err != nil {
			return protocol.ResponseList{}, err
		}
		if err := w.stream.SendBytes(frame); err != nil {
			return protocol.ResponseList{}, fmt.Errorf("rank %d: submit round %d: %w", w.rank, round, err)
		}
		list, err := w.recvResponses(round)
		if err != nil {
			return protocol.ResponseList{}, err
		}
		if isRoundAbort(&list) {
			w.log.Warn("round aborted by coordinator, resubmitting",
				zap.Uint64("round", round),
				zap.String("reason", list.Responses[0].ErrorMessage))
			continue
		}
		return list, nil
	}
}

func (w *Worker) recvResponses(round uint64) (protocol.ResponseList, error) {
	buf, err := w.stream.RecvBytes()
	if err != nil {
		return protocol.ResponseList{}, fmt.Errorf("rank %d: receive round %d: %w", w.rank, round, err)
	}
	var env protocol.Envelope
	if err := env.DecodeFrame(buf); err != nil {
		return protocol.ResponseList{}, fmt.Errorf("rank %d: envelope: %w", w.rank, err)
	}
	if env.Header.Type != protocol.MsgResponseList {
		return protocol.ResponseList{}, fmt.Errorf("rank %d: unexpected frame type %d", w.rank, env.Header.Type)
	}
	var list protocol.ResponseList
	if err := list.UnmarshalBinary(env.Payload); err != nil {
		return protocol.ResponseList{}, fmt.Errorf("rank %d: decode responses: %w", w.rank, err)
	}
	return list, nil
}

// isRoundAbort recognizes the coordinator's batch-level protocol error: a
// lone error response naming no tensors.
func isRoundAbort(list *protocol.ResponseList) bool {
	return len(list.Responses) == 1 &&
		list.Responses[0].Type == protocol.ResponseError &&
		len(list.Responses[0].TensorNames) == 0
}
