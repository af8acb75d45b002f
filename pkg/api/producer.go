package api

import (
	"context"

	"github.com/arnoldhuanghk/horovod/pkg/protocol"
)

// Producer yields the batch of requests a rank offers for the next
// negotiation round. A framework binding layer implements this by draining
// whatever tensor operations were enqueued since the previous round; an
// empty batch keeps the rank participating in the round barrier.
//
// Setting Shutdown on a returned batch votes to terminate; the rank keeps
// submitting batches until the coordinator grants shutdown.
type Producer interface {
	NextBatch(ctx context.Context) (protocol.RequestList, error)
}

// ProducerFunc adapts a function to the Producer interface.
type ProducerFunc func(ctx context.Context) (protocol.RequestList, error)

func (f ProducerFunc) NextBatch(ctx context.Context) (protocol.RequestList, error) {
	return f(ctx)
}
