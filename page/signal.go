package page

import (
	"context"
	"sync"
)

// readySignal is a one-shot pulse/wait/is_pulsed signal: exactly one pulse,
// any number of waiters. Realized as a channel closed exactly once under a
// sync.Once, the standard Go broadcast-once idiom (the same one
// context.Context.Done() relies on) rather than a sync.Cond broadcast, which
// cannot tell a waiter arriving after the broadcast to return immediately
// without extra bookkeeping of its own.
type readySignal struct {
	once sync.Once
	ch   chan struct{}
	err  error
}

func newReadySignal() *readySignal {
	return &readySignal{ch: make(chan struct{})}
}

// Pulse fires the signal with a terminal result. Only the first call has any
// effect; err may be nil for a successful load.
func (s *readySignal) Pulse(err error) {
	s.once.Do(func() {
		s.err = err
		close(s.ch)
	})
}

// IsPulsed reports whether Pulse has already been called.
func (s *readySignal) IsPulsed() bool {
	select {
	case <-s.ch:
		return true
	default:
		return false
	}
}

// Wait blocks until Pulse is called (returning immediately if it already
// was) or ctx is done, whichever happens first.
func (s *readySignal) Wait(ctx context.Context) error {
	select {
	case <-s.ch:
		return s.err
	case <-ctx.Done():
		return ctx.Err()
	}
}
