package page

import "context"

// PagePtr is a move-only handle owning one unit of a Page's snapshot
// refcount. Construction increments the refcount; Release
// (or being superseded by ForWrite's copy-on-write rebind) decrements it.
//
// Go has no compiler-enforced move semantics, so "move-only" is realized by
// panicking on reuse after transfer rather than silently tolerating it, the
// same panic-on-misuse idiom Page uses for its own invariant violations.
type PagePtr struct {
	page  *Page
	moved bool
}

// NewPagePtr creates a PagePtr owning one snapshot reference on p. Callers
// must already own a live reference to p (directly or transitively) when
// calling this; use TryNewPagePtr for a Page reached through a lookup table
// that a concurrent RemoveSnapshotter might be destroying.
func NewPagePtr(p *Page) *PagePtr {
	p.AddSnapshotter()
	return &PagePtr{page: p}
}

// TryNewPagePtr acquires a snapshot reference on p and returns a PagePtr
// and true, unless p has already been destroyed, in which case it returns
// nil and false without side effects. Use this instead of NewPagePtr when p
// comes from a lookup table entry rather than an existing live reference.
func TryNewPagePtr(p *Page) (*PagePtr, bool) {
	if !p.TryAddSnapshotter() {
		return nil, false
	}
	return &PagePtr{page: p}, true
}

func (ptr *PagePtr) checkLive() {
	if ptr.moved {
		panic("page: use of PagePtr after it was released or moved")
	}
}

// Page yields the referenced Page without any state change.
func (ptr *PagePtr) Page() *Page {
	ptr.checkLive()
	return ptr.page
}

// ForWrite implements copy-on-write: if the Page's snapshot refcount is
// greater than one, it allocates a copy, rebinds this PagePtr to the copy
// (the original Page loses this PagePtr's reference but keeps every other
// holder's), and returns the copy. If the refcount is exactly one, it
// returns the current Page directly, since there is nobody else to copy
// away from.
func (ptr *PagePtr) ForWrite(ctx context.Context) (*Page, error) {
	ptr.checkLive()

	old := ptr.page
	old.mu.Lock()
	refcount := old.snapshotRefcount
	old.mu.Unlock()

	if refcount <= 1 {
		return old, nil
	}

	newPage, err := old.MakeCopy(ctx)
	if err != nil {
		return nil, err
	}

	newPage.AddSnapshotter()
	old.RemoveSnapshotter()
	ptr.page = newPage
	return newPage, nil
}

// Clone creates a second PagePtr on the same Page, raising the snapshot
// refcount: the Go rendering of a "take B = A" aliasing handle.
func (ptr *PagePtr) Clone() *PagePtr {
	ptr.checkLive()
	return NewPagePtr(ptr.page)
}

// Take transfers ownership of the snapshot reference to a new PagePtr value
// and invalidates ptr, the idiomatic Go stand-in for a move constructor.
func (ptr *PagePtr) Take() *PagePtr {
	ptr.checkLive()
	moved := &PagePtr{page: ptr.page}
	ptr.moved = true
	return moved
}

// Release gives up this PagePtr's snapshot reference. Safe to call more
// than once; only the first call has any effect.
func (ptr *PagePtr) Release() {
	if ptr.moved {
		return
	}
	ptr.moved = true
	ptr.page.RemoveSnapshotter()
}
