// Package cache is the minimum glue that wires page, evictor, serializer
// and drainer into something an external consumer (a B-tree, a heap file)
// can call: look a block up by id, get a fresh unbacked page, and have
// buffers reclaimed automatically once resident memory crosses a budget.
//
// Grounded on buffer.PoolV2's shape: a single lock guarding a page map, a
// pluggable replacer, a background-driven eviction path. PoolV2 itself
// folds frame management, disk IO and pin counts into that one struct;
// here all of that has already moved into page.Page and evictor.Evictor,
// so Cache is left with just the map and the eviction ticker.
package cache

import (
	"context"
	"log"
	"sync"
	"time"

	"pagecache/drainer"
	"pagecache/evictor"
	"pagecache/page"
	"pagecache/serializer"
)

// Options configures a Cache. The zero value is not valid; use
// NewDefaultOptions or fill in Serializer yourself.
type Options struct {
	// Serializer is the external block store backing this cache. Required.
	Serializer serializer.Serializer

	// MaxLoadedBytes bounds the evictor's cumulative add_now_loaded_size
	// counter (a one-way "more memory is now resident" signal; the
	// page layer never reports bytes freed, only bytes loaded). Crossing it
	// triggers the background evictor to run clock passes over the
	// disk-backed bag until it empties or a pass finds nothing evictable.
	// Zero disables the background evictor entirely: no buffer is ever
	// evicted, and a page fetched through FetchPage stays in the lookup
	// table, buffer included, until a later FetchPage of the same block
	// finds it destroyed and replaces it.
	MaxLoadedBytes int

	// EvictionInterval is how often the background evictor checks the
	// budget. Ignored if MaxLoadedBytes is zero.
	EvictionInterval time.Duration
}

// NewDefaultOptions returns Options with an EvictionInterval suitable for
// production use and no memory budget (background eviction disabled); set
// MaxLoadedBytes to enable it.
func NewDefaultOptions(ser serializer.Serializer) Options {
	return Options{
		Serializer:       ser,
		EvictionInterval: 100 * time.Millisecond,
	}
}

// Cache maps BlockIDs to resident Pages and runs the background eviction
// loop that keeps resident memory under budget. Safe for concurrent use.
type Cache struct {
	opts Options
	ev   *evictor.ClockEvictor
	ser  serializer.Serializer
	drn  *drainer.Drainer

	mu    sync.Mutex
	pages map[serializer.BlockID]*page.Page

	stop     chan struct{}
	stopOnce sync.Once
	loopDone chan struct{}
}

// New creates a Cache. If opts.MaxLoadedBytes is positive, a background
// goroutine starts immediately and runs until Close.
func New(opts Options) *Cache {
	if opts.Serializer == nil {
		panic("cache: Options.Serializer is required")
	}

	c := &Cache{
		opts:     opts,
		ev:       evictor.NewClockEvictor(),
		ser:      opts.Serializer,
		drn:      drainer.New(),
		pages:    map[serializer.BlockID]*page.Page{},
		stop:     make(chan struct{}),
		loopDone: make(chan struct{}),
	}

	if opts.MaxLoadedBytes > 0 {
		go c.runEvictionLoop()
	} else {
		close(c.loopDone)
	}

	return c
}

// FetchPage returns a PagePtr to the page backing id, loading it from the
// Serializer on first access and reusing the resident Page on every
// subsequent call until its last snapshot reference is released and it is
// destroyed; a page whose buffer was evicted is reused and reloads on its
// next waiter (the cold-load and reload protocols, behind a lookup table).
//
// A page found in the table is acquired with TryNewPagePtr rather than a
// plain CurrentState check followed by NewPagePtr: RemoveSnapshotter can
// drive a page's refcount to zero and destroy it from any goroutine,
// without holding c.mu, so a check-then-act pair here would leave a window
// where a destroyed page gets a fresh snapshot reference and resurfaces
// outside every evictor bag. TryNewPagePtr closes that window by making the
// destroyed check and the refcount increment one atomic step under the
// page's own lock.
func (c *Cache) FetchPage(ctx context.Context, id serializer.BlockID) *page.PagePtr {
	c.mu.Lock()
	defer c.mu.Unlock()

	if p, ok := c.pages[id]; ok {
		if ptr, ok := page.TryNewPagePtr(p); ok {
			return ptr
		}
		delete(c.pages, id)
	}

	p := page.NewFromBlockID(ctx, id, c.ev, c.ser, c.drn)
	c.pages[id] = p
	return page.NewPagePtr(p)
}

// NewPage allocates a fresh unbacked page from buf, with no Serializer
// entry of its own until something explicitly assigns it one (outside this
// module's scope; block-allocation policy lives above this layer).
func (c *Cache) NewPage(buf []byte) *page.PagePtr {
	p := page.NewFromBuffer(buf, c.ev, c.ser, c.drn)
	return page.NewPagePtr(p)
}

// LoadedBytes reports the evictor's current resident-memory accounting,
// for tests and capacity-driven callers.
func (c *Cache) LoadedBytes() int {
	return c.ev.LoadedBytes()
}

// Close stops the background evictor and waits for every in-flight load to
// finish or ctx to expire, whichever comes first (the drainer
// guard, surfaced at the cache level).
func (c *Cache) Close(ctx context.Context) error {
	c.stopOnce.Do(func() { close(c.stop) })
	<-c.loopDone
	return c.drn.Drain(ctx)
}

// runEvictionLoop periodically picks a disk-backed victim and drops its
// buffer once resident memory exceeds the configured budget, mirroring
// PoolV2's on-demand chooseVictimFrame but run proactively off the request
// path instead of inline in GetPage.
func (c *Cache) runEvictionLoop() {
	defer close(c.loopDone)

	ticker := time.NewTicker(c.opts.EvictionInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.evictUntilUnderBudget()
		}
	}
}

// evictUntilUnderBudget evicts victims one at a time while the loaded-bytes
// counter is over budget. Because add_now_loaded_size only ever grows, this is necessarily
// best-effort rather than an exact budget enforcement: it stops as soon as
// the disk-backed bag has nothing left to offer, which in steady state is
// long before every resident byte is actually accounted for as freed.
func (c *Cache) evictUntilUnderBudget() {
	for c.ev.LoadedBytes() > c.opts.MaxLoadedBytes {
		victim, ok := c.ev.PickEvictable()
		if !ok {
			return
		}
		if err := victim.EvictSelf(); err != nil {
			log.Printf("cache: evict_self failed for page %d: %v", victim.Key(), err)
			return
		}
	}
}
