package page

import "context"

// PageAcquisition is a transient handle a consumer holds while waiting for
// a Page's buffer to become ready, then reading or writing it. Its lifetime
// must be strictly contained within the lifetime of some PagePtr referencing
// the same Page: the snapshot refcount guarantees the Page stays alive, so
// PageAcquisition never bumps it itself.
type PageAcquisition struct {
	page     *Page
	signal   *readySignal
	attached bool
}

// Attach registers as a waiter on p. Fails if already attached. Never
// suspends.
func (a *PageAcquisition) Attach(p *Page) error {
	if a.attached {
		return ErrAlreadyAttached
	}
	a.page = p
	a.signal = newReadySignal()
	return p.addWaiter(a)
}

// WaitReady blocks until the one-shot ready signal is pulsed, or ctx is
// done. Returns immediately if the buffer was already present at Attach
// time. Returns the load's terminal error, if the load failed.
func (a *PageAcquisition) WaitReady(ctx context.Context) error {
	if a.signal == nil {
		return ErrNotAttached
	}
	return a.signal.Wait(ctx)
}

// IsReady reports whether the ready signal has already fired.
func (a *PageAcquisition) IsReady() bool {
	return a.signal != nil && a.signal.IsPulsed()
}

// BufferSize awaits ready, then returns the page's serialized size.
func (a *PageAcquisition) BufferSize(ctx context.Context) (int, error) {
	if err := a.WaitReady(ctx); err != nil {
		return 0, err
	}
	return a.page.SerializedSize(), nil
}

// ReadBuffer awaits ready, then delegates to the page's read accessor.
func (a *PageAcquisition) ReadBuffer(ctx context.Context) ([]byte, error) {
	if err := a.WaitReady(ctx); err != nil {
		return nil, err
	}
	return a.page.BufferForRead()
}

// WriteBuffer awaits ready, then delegates to the page's write accessor,
// which marks the page dirty by dropping its block token.
func (a *PageAcquisition) WriteBuffer(ctx context.Context) ([]byte, error) {
	if err := a.WaitReady(ctx); err != nil {
		return nil, err
	}
	return a.page.BufferForWrite()
}

// Close detaches the acquisition from its page. Safe to call more than
// once, and safe to call on a never-attached acquisition.
func (a *PageAcquisition) Close() error {
	if !a.attached {
		return nil
	}
	a.page.removeWaiter(a)
	return nil
}
