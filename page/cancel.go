package page

import "sync/atomic"

// cancelFlag is a small cancellation handle shared between a Page and the
// load goroutine it spawned. The Page sets it on destruction; the load
// goroutine checks it after its I/O completes, and checks it again under the
// Page's lock before publishing or reporting a failure.
//
// This is an ordinary heap value the Go garbage collector keeps alive for as
// long as either side holds a reference, so there is no dangling-pointer
// hazard, but the flag itself is still required: without it a load that
// outlives its Page's last snapshot reference would resurrect state nobody
// owns anymore.
type cancelFlag struct {
	cancelled atomic.Bool
}

func newCancelFlag() *cancelFlag {
	return &cancelFlag{}
}

func (c *cancelFlag) Cancel() {
	c.cancelled.Store(true)
}

func (c *cancelFlag) IsCancelled() bool {
	return c.cancelled.Load()
}
