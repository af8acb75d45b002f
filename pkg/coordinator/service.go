package coordinator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"

	"go.uber.org/zap"

	"github.com/arnoldhuanghk/horovod/pkg/protocol"
	"github.com/arnoldhuanghk/horovod/pkg/transport"
)

// Controller drives the Negotiator over a transport listener. It accepts
// one session per rank, performs the full-round rendezvous (the only
// intentionally unbounded wait in the protocol), and broadcasts the same
// response-batch bytes to every rank. Rounds are strictly sequential:
// collection for round N+1 starts only after round N's frame has been
// written to every rank.
type Controller struct {
	neg *Negotiator
	log *zap.Logger
}

// NewController creates a controller for a fixed world size.
func NewController(size int32, log *zap.Logger) *Controller {
	if log == nil {
		log = zap.NewNop()
	}
	return &Controller{neg: NewNegotiator(size, log), log: log}
}

// submission is one decoded inbound frame, or a terminal stream error.
type submission struct {
	rank  uint32
	round uint64
	list  protocol.RequestList
	src   transport.Stream
	err   error
}

// Serve accepts rank sessions and negotiates rounds until shutdown is
// granted or ctx is canceled.
func (c *Controller) Serve(ctx context.Context, ln transport.Listener) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	subCh := make(chan submission)
	go c.acceptLoop(ctx, ln, subCh)

	streams := make(map[uint32]transport.Stream, c.neg.Size())
	defer func() {
		for _, st := range streams {
			_ = st.Close()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case sub := <-subCh:
			if sub.err != nil {
				if errors.Is(sub.err, io.EOF) || errors.Is(sub.err, net.ErrClosed) {
					c.log.Warn("rank stream closed", zap.Error(sub.err))
					continue
				}
				// A frame that cannot be decoded is fatal to the round.
				c.abortRound(streams, nil, fmt.Sprintf("bad frame: %v", sub.err))
				continue
			}
			if int32(sub.rank) >= c.neg.Size() {
				c.abortRound(streams, sub.src, fmt.Sprintf("rank %d outside world of size %d", sub.rank, c.neg.Size()))
				continue
			}
			streams[sub.rank] = sub.src
			if sub.round != c.neg.Round() {
				c.abortRound(streams, sub.src, fmt.Sprintf("rank %d submitted round %d during round %d", sub.rank, sub.round, c.neg.Round()))
				continue
			}
			if err := c.neg.SubmitBatch(int32(sub.rank), sub.list); err != nil {
				c.abortRound(streams, sub.src, err.Error())
				continue
			}
			if !c.neg.RoundComplete() {
				continue
			}
			round := c.neg.Round()
			list, err := c.neg.CloseRound()
			if err != nil {
				return err
			}
			if err := c.broadcast(streams, round, list); err != nil {
				return err
			}
			if list.Shutdown {
				c.log.Info("shutdown granted, negotiation complete", zap.Uint64("rounds", round))
				return nil
			}
		}
	}
}

func (c *Controller) acceptLoop(ctx context.Context, ln transport.Listener, subCh chan<- submission) {
	for {
		sess, err := ln.Accept(ctx)
		if err != nil {
			return
		}
		go c.readLoop(ctx, sess, subCh)
	}
}

// readLoop decodes frames from one rank session. It terminates on the
// first undecodable frame since the stream may be desynchronized past it.
func (c *Controller) readLoop(ctx context.Context, sess transport.Session, subCh chan<- submission) {
	st, err := sess.OpenStream(ctx)
	if err != nil {
		c.log.Warn("open stream", zap.String("peer", string(sess.Peer().ID)), zap.Error(err))
		return
	}
	for {
		buf, err := st.RecvBytes()
		if err != nil {
			c.report(ctx, subCh, submission{err: err})
			return
		}
		var env protocol.Envelope
		if err := env.DecodeFrame(buf); err != nil {
			c.report(ctx, subCh, submission{err: fmt.Errorf("envelope: %w", err)})
			return
		}
		if env.Header.Type != protocol.MsgRequestList {
			c.report(ctx, subCh, submission{err: fmt.Errorf("unexpected frame type %d", env.Header.Type)})
			return
		}
		var list protocol.RequestList
		if err := list.UnmarshalBinary(env.Payload); err != nil {
			c.report(ctx, subCh, submission{err: err})
			return
		}
		c.report(ctx, subCh, submission{rank: env.Header.Rank, round: env.Header.Round, list: list, src: st})
	}
}

func (c *Controller) report(ctx context.Context, subCh chan<- submission, sub submission) {
	select {
	case subCh <- sub:
	case <-ctx.Done():
	}
}

// abortRound rolls the negotiator back and signals resubmission with a
// batch-level protocol error. The signal goes only to ranks blocked on this
// round attempt (current submitters plus the offending stream): a rank that
// has not submitted yet is not waiting, and a queued abort frame would be
// read as the stale answer to its next submission.
func (c *Controller) abortRound(streams map[uint32]transport.Stream, src transport.Stream, reason string) {
	c.log.Error("protocol error, aborting round", zap.Uint64("round", c.neg.Round()), zap.String("reason", reason))

	targets := make([]transport.Stream, 0, len(streams)+1)
	for _, rank := range c.neg.SubmittedRanks() {
		if st, ok := streams[uint32(rank)]; ok {
			targets = append(targets, st)
		}
	}
	if src != nil {
		seen := false
		for _, st := range targets {
			if st == src {
				seen = true
				break
			}
		}
		if !seen {
			targets = append(targets, src)
		}
	}
	c.neg.AbortRound()

	list := ProtocolErrorList(reason)
	env, err := protocol.NewEnvelope(protocol.MsgResponseList, 0, c.neg.Round(), &list)
	if err != nil {
		c.log.Error("encode abort", zap.Error(err))
		return
	}
	frame, err := env.EncodeFrame()
	if err != nil {
		c.log.Error("encode abort", zap.Error(err))
		return
	}
	for _, st := range targets {
		if err := st.SendBytes(frame); err != nil {
			c.log.Warn("send abort failed", zap.Error(err))
		}
	}
}

// broadcast sends one identical encoded frame to every connected rank.
func (c *Controller) broadcast(streams map[uint32]transport.Stream, round uint64, list protocol.ResponseList) error {
	env, err := protocol.NewEnvelope(protocol.MsgResponseList, 0, round, &list)
	if err != nil {
		return err
	}
	frame, err := env.EncodeFrame()
	if err != nil {
		return err
	}
	for rank := uint32(0); int32(rank) < c.neg.Size(); rank++ {
		st, ok := streams[rank]
		if !ok {
			continue
		}
		if err := st.SendBytes(frame); err != nil {
			c.log.Warn("send to rank failed", zap.Uint32("rank", rank), zap.Error(err))
		}
	}
	return nil
}

// ProtocolErrorList builds the batch-level error broadcast for an aborted
// round. It carries no tensor names; ranks resubmit their batches for the
// same round on receiving it.
func ProtocolErrorList(reason string) protocol.ResponseList {
	return protocol.ResponseList{Responses: []protocol.Response{{
		Type:         protocol.ResponseError,
		ErrorMessage: "protocol error: " + reason,
	}}}
}
