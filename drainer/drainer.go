// Package drainer implements a scoped drainer guard: a
// scoped lifetime token that blocks shutdown while any load task holds one.
// Grounded on the sync.WaitGroup worker-lifecycle pattern used by
// utkarsh5026-StoreMy's parallel sequential scan and by Carmen's
// database/mpt/io parallel visitor, generalized from "wait for N workers" to
// "block Drain until every outstanding guard is released".
package drainer

import (
	"context"
	"errors"
	"sync"
)

// ErrDraining is returned by Acquire once Drain has been called.
var ErrDraining = errors.New("drainer: shutting down, no new guards accepted")

// Guard is a scoped acquisition. Release must be called to return it; calls
// after the first have no effect.
type Guard struct {
	once sync.Once
	d    *Drainer
}

// Release returns the guard to its Drainer. Safe to call more than once;
// only the first call has any effect.
func (g *Guard) Release() {
	g.once.Do(func() {
		g.d.wg.Done()
	})
}

// Drainer tracks outstanding guards and lets a shutdown path wait for all of
// them to be released.
type Drainer struct {
	mu       sync.Mutex
	wg       sync.WaitGroup
	draining bool
}

// New creates a Drainer accepting guards.
func New() *Drainer {
	return &Drainer{}
}

// Acquire takes one guard, blocking the eventual Drain call until it is
// released. Returns ErrDraining if Drain has already started.
func (d *Drainer) Acquire() (*Guard, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.draining {
		return nil, ErrDraining
	}
	d.wg.Add(1)
	return &Guard{d: d}, nil
}

// Drain marks the Drainer as shutting down (no further Acquire calls
// succeed) and blocks until every outstanding guard has been released, or
// until ctx is done.
func (d *Drainer) Drain(ctx context.Context) error {
	d.mu.Lock()
	d.draining = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
