package loader

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/kroma-labs/sentinel-loader/request"
)

// ErrResetInProgress is wrapped by failures of requests refused during a
// reset.
var ErrResetInProgress = errors.New("loader: reset in progress")

// ResetGate refuses traffic while the client resets its state, for example
// during logout or an account switch. Requests made while the gate is
// closed fail with ResetInProgress.
type ResetGate struct {
	closed *atomic.Bool
	next   Loader
}

// NewResetGate returns an open gate.
func NewResetGate() *ResetGate {
	return &ResetGate{closed: &atomic.Bool{}}
}

// BeginReset closes the gate.
func (g *ResetGate) BeginReset() {
	g.closed.Store(true)
}

// EndReset opens the gate.
func (g *ResetGate) EndReset() {
	g.closed.Store(false)
}

// Resetting reports whether the gate is closed.
func (g *ResetGate) Resetting() bool {
	return g.closed.Load()
}

// Reset closes the gate, runs fn and opens the gate again.
func (g *ResetGate) Reset(fn func()) {
	g.BeginReset()
	defer g.EndReset()
	fn()
}

// Link implements Stage. Linked gates share the switch.
func (g *ResetGate) Link(next Loader) Loader {
	return &ResetGate{closed: g.closed, next: next}
}

// Load implements Loader.
func (g *ResetGate) Load(ctx context.Context, req request.Descriptor) Result {
	if g.next == nil {
		return notLinked(req)
	}
	if g.closed.Load() {
		return Failure(NewError(ResetInProgress, req, ErrResetInProgress))
	}
	return g.next.Load(ctx, req)
}
