package hook

import (
	"context"
	"fmt"

	"github.com/cuemby/burrow/pkg/types"
)

// PreWriteHook runs before a staged operation is logged. It may
// normalize the operation in place or reject it by returning an error,
// which aborts the whole transaction with zero side effects.
type PreWriteHook interface {
	PreWrite(ctx context.Context, op *types.Operation) error
}

// PostWriteHook runs synchronously after a transaction commits, once
// per committed operation. Post-write hooks cannot fail the commit.
type PostWriteHook interface {
	PostWrite(ctx context.Context, op types.CommittedOperation)
}

// PreWriteFunc adapts a function to PreWriteHook.
type PreWriteFunc func(ctx context.Context, op *types.Operation) error

func (f PreWriteFunc) PreWrite(ctx context.Context, op *types.Operation) error {
	return f(ctx, op)
}

// PostWriteFunc adapts a function to PostWriteHook.
type PostWriteFunc func(ctx context.Context, op types.CommittedOperation)

func (f PostWriteFunc) PostWrite(ctx context.Context, op types.CommittedOperation) {
	f(ctx, op)
}

// Pipeline holds the ordered hook registrations for a collection. The
// set is fixed at collection-open time; the engine invokes hooks
// synchronously within the commit path and implements no hook business
// logic itself.
type Pipeline struct {
	pre  []PreWriteHook
	post []PostWriteHook
}

// NewPipeline builds a pipeline from ordered hook lists.
func NewPipeline(pre []PreWriteHook, post []PostWriteHook) *Pipeline {
	return &Pipeline{pre: pre, post: post}
}

// RunPre invokes every pre-write hook in registration order. The first
// rejection stops the chain.
func (p *Pipeline) RunPre(ctx context.Context, op *types.Operation) error {
	if p == nil {
		return nil
	}
	for i, h := range p.pre {
		if err := h.PreWrite(ctx, op); err != nil {
			return fmt.Errorf("pre-write hook %d rejected %s of %q: %w", i, op.Kind, op.DocID, err)
		}
	}
	return nil
}

// RunPost invokes every post-write hook in registration order.
func (p *Pipeline) RunPost(ctx context.Context, op types.CommittedOperation) {
	if p == nil {
		return
	}
	for _, h := range p.post {
		h.PostWrite(ctx, op)
	}
}
