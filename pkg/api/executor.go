package api

import (
	"context"

	"github.com/arnoldhuanghk/horovod/pkg/protocol"
)

// Executor runs one agreed collective against the named tensors and device
// list, in the order responses appear in a batch. Implementations wrap a
// real collective-communication backend; an error response should be
// surfaced to whoever requested the tensors rather than executed.
type Executor interface {
	Execute(ctx context.Context, resp protocol.Response) error
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, resp protocol.Response) error

func (f ExecutorFunc) Execute(ctx context.Context, resp protocol.Response) error {
	return f(ctx, resp)
}
