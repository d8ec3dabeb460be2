// Package page implements the page layer of the buffer cache: Page,
// PageAcquisition and PagePtr, and the load/copy/evict protocols that tie
// them to an external Evictor and Serializer.
//
// Grounded on thetarby-helindb's buffer/buffer_pool_v2.go (the frame/Resolve
// async-load-then-publish shape, generalized from pin counts to a
// copy-on-write snapshot refcount) and disk/pages/page.go (dirty/pin
// bookkeeping on RawPage).
package page

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"

	"pagecache/drainer"
	"pagecache/evictor"
	"pagecache/serializer"
)

var seqCounter atomic.Uint64

func nextSeq() uint64 {
	return seqCounter.Add(1)
}

// State is the derived state-machine position of a Page.
// It is never stored directly; CurrentState recomputes it from observable
// fields, same as the evictor's bag.
type State int

const (
	StateNotYetLoaded State = iota
	StateLoadedUnevictable
	StateLoadedEvictable
	StateEvicted
	StateDead
)

func (s State) String() string {
	switch s {
	case StateNotYetLoaded:
		return "not-yet-loaded"
	case StateLoadedUnevictable:
		return "loaded-unevictable"
	case StateLoadedEvictable:
		return "loaded-evictable"
	case StateEvicted:
		return "evicted"
	case StateDead:
		return "dead"
	default:
		return "unknown-state"
	}
}

// Page is one logical block's cache slot. The zero value is not usable;
// construct one with NewFromBlockID, NewFromBuffer, NewFromBufferAndToken or
// (*Page).MakeCopy.
type Page struct {
	mu sync.Mutex

	seq uint64

	ev  evictor.Evictor
	ser serializer.Serializer
	drn *drainer.Drainer

	serializedSize   int
	buffer           serializer.OwnedBuffer
	blockToken       *serializer.BlockToken
	accessTime       uint64
	snapshotRefcount int
	waiters          []*PageAcquisition
	cancel           *cancelFlag
	loadErr          error
	destroyed        bool

	bag evictor.Bag
}

var _ evictor.Page = &Page{}

func newBase(ev evictor.Evictor, ser serializer.Serializer, drn *drainer.Drainer) *Page {
	return &Page{
		seq: nextSeq(),
		ev:  ev,
		ser: ser,
		drn: drn,
	}
}

// NewFromBlockID creates a Page for a block whose contents are not yet in
// memory (the cold-load creation path). The returned Page is
// registered in the not-yet-loaded bag; a load goroutine resolves the block
// token and reads its contents in the background.
func NewFromBlockID(ctx context.Context, id serializer.BlockID, ev evictor.Evictor, ser serializer.Serializer, drn *drainer.Drainer) *Page {
	p := newBase(ev, ser, drn)
	p.accessTime = ev.NextAccessTime()
	p.bag = evictor.BagNotYetLoaded
	ev.AddNotYetLoaded(p)

	cf := newCancelFlag()
	p.cancel = cf
	go p.runColdLoad(ctx, cf, id)
	return p
}

// NewFromBuffer creates a Page directly from an in-memory buffer with no
// disk backing (the fresh/unbacked creation path).
func NewFromBuffer(buf serializer.OwnedBuffer, ev evictor.Evictor, ser serializer.Serializer, drn *drainer.Drainer) *Page {
	p := newBase(ev, ser, drn)
	p.buffer = buf
	p.serializedSize = len(buf)
	p.accessTime = ev.NextAccessTime()
	p.bag = evictor.BagEvictableUnbacked
	ev.AddEvictableUnbacked(p)
	ev.AddNowLoadedSize(len(buf))
	return p
}

// NewFromBufferAndToken creates a Page from a buffer already known to be
// backed by a disk block (the read-ahead creation path). Its
// access time is stamped with the ReadAheadAccessTime sentinel, below every
// value the evictor's counter hands out; whether that affects victim choice
// is up to the Evictor (ClockEvictor ignores access times).
func NewFromBufferAndToken(buf serializer.OwnedBuffer, tok *serializer.BlockToken, ev evictor.Evictor, ser serializer.Serializer, drn *drainer.Drainer) *Page {
	p := newBase(ev, ser, drn)
	p.buffer = buf
	p.serializedSize = len(buf)
	p.blockToken = tok
	p.accessTime = evictor.ReadAheadAccessTime
	p.bag = evictor.BagEvictableDiskBacked
	ev.AddEvictableDiskBacked(p)
	ev.AddNowLoadedSize(len(buf))
	return p
}

// MakeCopy constructs a new Page whose contents will become a copy of p's
// (the copy creation path). The new Page is returned
// immediately in the not-yet-loaded bag; the copy proceeds asynchronously,
// holding a temporary PagePtr on p so p cannot be destroyed mid-copy.
func (p *Page) MakeCopy(ctx context.Context) (*Page, error) {
	np := newBase(p.ev, p.ser, p.drn)
	np.accessTime = p.ev.NextAccessTime()
	np.bag = evictor.BagNotYetLoaded
	p.ev.AddNotYetLoaded(np)

	cf := newCancelFlag()
	np.cancel = cf

	srcPtr := NewPagePtr(p)
	go np.runCopyLoad(ctx, cf, srcPtr)
	return np, nil
}

// --- evictor.Page interface -------------------------------------------------
//
// These accessors deliberately take no lock: every bag recomputation in this
// package reaches them only while already holding p.mu (addWaiter,
// removeWaiter, BufferForWrite, EvictSelf and publishLoaded all call into
// the evictor while the page's own mutex is held), so that bag recomputation
// happens atomically alongside the state change that triggered it.
// RemoveSnapshotter and abortLoad call RemovePage after releasing p.mu; it
// only reads Key, which is fixed at construction. EvictSelf is the one
// accessor that takes the lock itself.

func (p *Page) Key() uint64 { return p.seq }

func (p *Page) HasBuffer() bool     { return p.buffer != nil }
func (p *Page) HasBlockToken() bool { return p.blockToken != nil }
func (p *Page) HasWaiters() bool    { return len(p.waiters) > 0 }
func (p *Page) IsLoading() bool     { return p.cancel != nil }

// EvictSelf drops the in-memory buffer.
// Preconditions: no attached waiters, a block token present, a buffer
// present. The page remains in the cache, reloadable via AddWaiter.
func (p *Page) EvictSelf() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.waiters) != 0 {
		panic("page: evict_self called while waiters are attached")
	}
	if p.blockToken == nil {
		panic("page: evict_self called on a page with no block token")
	}
	if p.buffer == nil {
		panic("page: evict_self called on a page with no buffer")
	}

	p.ser.ReleaseBuffer(p.buffer)
	p.buffer = nil
	p.recomputeBagLocked()
	return nil
}

// --- snapshot refcount -----------------------------------------------------

// AddSnapshotter increments the snapshot refcount. Synchronous, never
// suspends. Called by PagePtr construction.
func (p *Page) AddSnapshotter() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.snapshotRefcount++
}

// TryAddSnapshotter increments the snapshot refcount and returns true,
// unless the page has already been destroyed (refcount dropped to zero and
// removed from the evictor), in which case it does nothing and returns
// false. Unlike AddSnapshotter, this is safe to call on a Page a caller
// merely holds a pointer to without already owning a reference, e.g. a
// lookup table entry that a concurrent RemoveSnapshotter may be tearing
// down: the destroyed check and the increment happen under the same lock
// acquisition that RemoveSnapshotter uses to flip destroyed, so the two can
// never interleave to revive a dead page.
func (p *Page) TryAddSnapshotter() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.destroyed {
		return false
	}
	p.snapshotRefcount++
	return true
}

// RemoveSnapshotter decrements the snapshot refcount. On reaching zero, the
// page is destroyed: it must have no attached waiters (fatal otherwise), any
// in-flight load is cancelled, and the page is removed from the evictor.
func (p *Page) RemoveSnapshotter() {
	p.mu.Lock()

	if p.snapshotRefcount <= 0 {
		p.mu.Unlock()
		panic("page: remove_snapshotter called with refcount already zero")
	}

	p.snapshotRefcount--
	if p.snapshotRefcount > 0 {
		p.mu.Unlock()
		return
	}

	if len(p.waiters) != 0 {
		p.mu.Unlock()
		panic("page: snapshot refcount reached zero while waiters are still attached")
	}

	cf := p.cancel
	p.destroyed = true
	p.mu.Unlock()

	if cf != nil {
		cf.Cancel()
	}
	p.ev.RemovePage(p)
}

// SnapshotRefcount reports the current refcount, for tests.
func (p *Page) SnapshotRefcount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshotRefcount
}

// --- waiter list -------------------------------------------------------------

// addWaiter registers acq as a waiter and drives loading:
// pulses immediately if the buffer is already present, does nothing if a
// load is already in flight, dispatches a reload if a block token is known,
// or panics if none of those hold (an impossible, fatal state).
func (p *Page) addWaiter(acq *PageAcquisition) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if acq.attached {
		return ErrAlreadyAttached
	}
	acq.attached = true
	p.waiters = append(p.waiters, acq)

	switch {
	case p.loadErr != nil:
		acq.signal.Pulse(p.loadErr)
	case p.buffer != nil:
		acq.signal.Pulse(nil)
	case p.cancel != nil:
		// a load is already in flight; it will pulse every waiter on completion
	case p.blockToken != nil:
		p.dispatchReloadLocked()
	default:
		panic("page: add_waiter on a page with no buffer, no load in flight, and no block token")
	}

	p.recomputeBagLocked()
	return nil
}

// removeWaiter detaches acq. Always recomputes the bag: an emptied waiter
// list on a loaded page moves it back to evictable.
func (p *Page) removeWaiter(acq *PageAcquisition) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !acq.attached {
		return
	}
	acq.attached = false

	for i, w := range p.waiters {
		if w == acq {
			p.waiters = append(p.waiters[:i], p.waiters[i+1:]...)
			break
		}
	}

	p.recomputeBagLocked()
}

func (p *Page) dispatchReloadLocked() {
	cf := newCancelFlag()
	p.cancel = cf
	tok := p.blockToken
	go p.runReloadLoad(context.Background(), cf, tok)
}

// --- buffer access -----------------------------------------------------------

// BufferForRead returns the buffer and stamps the access time
// get_buf_for_read).
func (p *Page) BufferForRead() ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.buffer == nil {
		return nil, ErrBufferNotReady
	}
	p.accessTime = p.ev.NextAccessTime()
	return p.buffer, nil
}

// BufferForWrite returns the buffer, stamps the access time, drops the
// block token (the buffer now diverges from disk) and asserts the page is
// currently unevictable, i.e. has at least one attached waiter
// §4.1 get_buf_for_write).
func (p *Page) BufferForWrite() ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.buffer == nil {
		return nil, ErrBufferNotReady
	}
	if len(p.waiters) == 0 {
		panic("page: get_buf_for_write called on a page with no attached waiters")
	}

	p.accessTime = p.ev.NextAccessTime()
	if p.blockToken != nil {
		p.blockToken = nil
		p.recomputeBagLocked()
	}
	return p.buffer, nil
}

// SerializedSize reports the last published buffer size, 0 until known.
func (p *Page) SerializedSize() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.serializedSize
}

// BlockID reports the page's current disk location, if any.
func (p *Page) BlockID() (serializer.BlockID, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.blockToken == nil {
		return 0, false
	}
	return p.blockToken.ID, true
}

// CurrentState derives the State from observable fields.
func (p *Page) CurrentState() State {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch {
	case p.destroyed:
		return StateDead
	case p.cancel != nil:
		return StateNotYetLoaded
	case p.buffer != nil && len(p.waiters) > 0:
		return StateLoadedUnevictable
	case p.buffer != nil:
		return StateLoadedEvictable
	case p.buffer == nil && p.blockToken != nil:
		return StateEvicted
	default:
		return StateNotYetLoaded
	}
}

func (p *Page) recomputeBagLocked() {
	old := p.bag
	p.ev.ChangeToCorrectBag(old, p)
	p.bag = p.ev.CorrectBag(p)
}

func (p *Page) pulseOrMakeEvictableLocked() {
	if len(p.waiters) > 0 {
		for _, w := range p.waiters {
			w.signal.Pulse(nil)
		}
		p.recomputeBagLocked()
		return
	}
	p.ev.MoveUnevictableToEvictable(p)
	p.bag = p.ev.CorrectBag(p)
}

// --- load protocols ----------------------------------------------------------

// runColdLoad implements the cold-load protocol: acquire a drainer
// guard, allocate a buffer, resolve the block token, read the block,
// then publish (or abort on cancellation/failure).
func (p *Page) runColdLoad(ctx context.Context, cf *cancelFlag, id serializer.BlockID) {
	guard, err := p.drn.Acquire()
	if err != nil {
		p.abortLoad(cf, errors.Wrap(err, "acquire drainer guard"))
		return
	}
	defer guard.Release()

	buf, err := p.ser.AllocateBuffer(p.ser.BlockSize())
	if err != nil {
		p.abortLoad(cf, errors.Wrap(err, "allocate buffer"))
		return
	}

	tok, err := p.ser.IndexRead(ctx, id)
	if err != nil {
		p.ser.ReleaseBuffer(buf)
		p.abortLoad(cf, errors.Wrapf(err, "index read block %d", id))
		return
	}

	if err := p.ser.BlockRead(ctx, tok, buf); err != nil {
		p.ser.ReleaseBuffer(buf)
		p.abortLoad(cf, errors.Wrapf(err, "block read %d", id))
		return
	}

	if cf.IsCancelled() {
		p.ser.ReleaseBuffer(buf)
		return
	}
	p.publishLoaded(cf, buf, tok)
}

// runReloadLoad implements the reload-after-eviction protocol: same as cold
// load but the block token is already known, so index_read is skipped.
func (p *Page) runReloadLoad(ctx context.Context, cf *cancelFlag, tok *serializer.BlockToken) {
	guard, err := p.drn.Acquire()
	if err != nil {
		p.abortLoad(cf, errors.Wrap(err, "acquire drainer guard"))
		return
	}
	defer guard.Release()

	buf, err := p.ser.AllocateBuffer(tok.BlockSize)
	if err != nil {
		p.abortLoad(cf, errors.Wrap(err, "allocate buffer"))
		return
	}

	if err := p.ser.BlockRead(ctx, tok, buf); err != nil {
		p.ser.ReleaseBuffer(buf)
		p.abortLoad(cf, errors.Wrapf(err, "block read %d", tok.ID))
		return
	}

	if cf.IsCancelled() {
		p.ser.ReleaseBuffer(buf)
		return
	}
	p.publishLoaded(cf, buf, tok)
}

// runCopyLoad implements the copy-from-copyee protocol: await the source's
// buffer, then allocate and memcpy it into a fresh buffer of our own. The
// copy never inherits the source's block token, since a copy has no disk
// backing until something explicitly flushes it, which is outside this
// module's scope.
func (p *Page) runCopyLoad(ctx context.Context, cf *cancelFlag, src *PagePtr) {
	defer src.Release()

	guard, err := p.drn.Acquire()
	if err != nil {
		p.abortLoad(cf, errors.Wrap(err, "acquire drainer guard"))
		return
	}
	defer guard.Release()

	acq := &PageAcquisition{}
	if err := acq.Attach(src.Page()); err != nil {
		p.abortLoad(cf, errors.Wrap(err, "attach to copy source"))
		return
	}
	defer acq.Close()

	srcBuf, err := acq.ReadBuffer(ctx)
	if err != nil {
		p.abortLoad(cf, errors.Wrap(err, "await copy source"))
		return
	}

	if cf.IsCancelled() {
		return
	}

	buf, err := p.ser.AllocateBuffer(len(srcBuf))
	if err != nil {
		p.abortLoad(cf, errors.Wrap(err, "allocate buffer"))
		return
	}
	copy(buf, srcBuf)

	if cf.IsCancelled() {
		p.ser.ReleaseBuffer(buf)
		return
	}
	p.publishLoaded(cf, buf, nil)
}

// publishLoaded atomically (no suspension) publishes a completed load: sets
// serializedSize, moves the buffer and block token in, clears the cancel
// flag, informs the evictor of the newly loaded size, and pulses or makes
// evictable.
func (p *Page) publishLoaded(cf *cancelFlag, buf serializer.OwnedBuffer, tok *serializer.BlockToken) {
	p.mu.Lock()
	if cf.IsCancelled() {
		p.mu.Unlock()
		p.ser.ReleaseBuffer(buf)
		return
	}

	p.serializedSize = len(buf)
	p.buffer = buf
	p.blockToken = tok
	p.cancel = nil
	p.ev.AddNowLoadedSize(len(buf))
	p.pulseOrMakeEvictableLocked()
	p.mu.Unlock()
}

// abortLoad delivers a non-fatal terminal failure: every
// waiter observes the wrapped error on its ready signal, and the page is
// removed from the evictor entirely, since it cannot be reloaded without a
// fresh block id after never finishing its load.
func (p *Page) abortLoad(cf *cancelFlag, cause error) {
	p.mu.Lock()
	if cf.IsCancelled() {
		p.mu.Unlock()
		return
	}

	p.cancel = nil
	p.loadErr = cause
	waiters := p.waiters
	p.waiters = nil
	p.mu.Unlock()

	for _, w := range waiters {
		w.signal.Pulse(cause)
	}
	p.ev.RemovePage(p)
}
