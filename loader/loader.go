package loader

import (
	"context"
	"errors"

	"github.com/kroma-labs/sentinel-loader/request"
)

// ErrNotLinked is returned by a stage that was used without being linked
// into a chain.
var ErrNotLinked = errors.New("loader: stage has no successor")

// Loader resolves a request into a Result.
//
// Implementations must be safe for concurrent use. The descriptor is a value
// owned by the call; a loader that wants to change it forwards a copy.
type Loader interface {
	Load(ctx context.Context, req request.Descriptor) Result
}

// LoaderFunc adapts a function to the Loader interface.
type LoaderFunc func(ctx context.Context, req request.Descriptor) Result

// Load implements Loader.
func (f LoaderFunc) Load(ctx context.Context, req request.Descriptor) Result {
	return f(ctx, req)
}

// Stage is a pipeline link that wraps the next loader.
//
// Link returns a new loader bound to next and leaves the receiver untouched,
// so one configured stage value can be linked into several chains.
type Stage interface {
	Link(next Loader) Loader
}

// StageFunc adapts a function to the Stage interface.
type StageFunc func(next Loader) Loader

// Link implements Stage.
func (f StageFunc) Link(next Loader) Loader {
	return f(next)
}

// Chain is an immutable pipeline of stages ending in a terminal loader.
type Chain struct {
	head  Loader
	depth int
}

// Compile-time interface check.
var _ Loader = (*Chain)(nil)

// NewChain links stages in front of terminal. stages[0] is the outermost
// stage and sees the request first; terminal sees it last. Nil stages are
// skipped.
func NewChain(terminal Loader, stages ...Stage) *Chain {
	next := guard(terminal)
	depth := 1
	for i := len(stages) - 1; i >= 0; i-- {
		if stages[i] == nil {
			continue
		}
		next = guard(stages[i].Link(next))
		depth++
	}
	return &Chain{head: next, depth: depth}
}

// Load sends req through the chain.
func (c *Chain) Load(ctx context.Context, req request.Descriptor) Result {
	return c.head.Load(ctx, req)
}

// Depth returns the number of loaders in the chain, terminal included.
func (c *Chain) Depth() int {
	return c.depth
}

type guarded struct {
	next Loader
}

func guard(next Loader) Loader {
	if g, ok := next.(guarded); ok {
		return g
	}
	return guarded{next: next}
}

// Load fails fast when ctx is done: Cancelled on cancellation,
// CannotConnect on an expired deadline.
func (g guarded) Load(ctx context.Context, req request.Descriptor) Result {
	if err := ctx.Err(); err != nil {
		return Failure(NewError(contextKind(err), req, err))
	}
	return g.next.Load(ctx, req)
}

func notLinked(req request.Descriptor) Result {
	return Failure(NewError(Unknown, req, ErrNotLinked))
}
