package evictor

import (
	"sync"
)

// entry tracks one page's clock bookkeeping alongside which bag it is
// currently recorded in.
type entry struct {
	page         Page
	bag          Bag
	secondChance bool
}

// ClockEvictor is the default Evictor: a clock/second-chance victim policy
// over the disk-backed evictable bag, generalized from a flat-pool clock
// replacer to four named bags.
//
// Only BagEvictableDiskBacked pages are ever chosen as victims: dropping a
// page's buffer is only valid while a block token is present (the page
// layer's own invariant, see page.Page.EvictSelf), so BagEvictableUnbacked
// membership is tracked for accounting but never fed to the clock scan.
type ClockEvictor struct {
	mu sync.Mutex

	accessCounter uint64
	loadedBytes   int

	// clock holds disk-backed evictable pages in clock order.
	clock    []*entry
	position int

	byKey map[uint64]*entry
}

var _ Evictor = &ClockEvictor{}

// NewClockEvictor creates an evictor whose access-time counter starts at
// evictor.InitialAccessTime.
func NewClockEvictor() *ClockEvictor {
	return &ClockEvictor{
		accessCounter: InitialAccessTime,
		clock:         make([]*entry, 0),
		byKey:         map[uint64]*entry{},
	}
}

func (c *ClockEvictor) NextAccessTime() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	t := c.accessCounter
	c.accessCounter++
	return t
}

func (c *ClockEvictor) AddNotYetLoaded(p Page) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record(p, BagNotYetLoaded)
}

func (c *ClockEvictor) AddEvictableUnbacked(p Page) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record(p, BagEvictableUnbacked)
}

func (c *ClockEvictor) AddEvictableDiskBacked(p Page) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.record(p, BagEvictableDiskBacked)
	c.clock = append(c.clock, e)
}

func (c *ClockEvictor) AddNowLoadedSize(bytes int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loadedBytes += bytes
}

// LoadedBytes reports total bytes reported loaded so far, for tests and
// capacity-driven callers.
func (c *ClockEvictor) LoadedBytes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loadedBytes
}

func (c *ClockEvictor) CorrectBag(p Page) Bag {
	switch {
	case p.IsLoading():
		return BagNotYetLoaded
	case !p.HasBuffer():
		// Not loading and no buffer: must be reloadable from disk, or the
		// page layer itself would have already panicked on the
		// "unloaded block not in loadable state" invariant.
		return BagNotYetLoaded
	case p.HasWaiters():
		return BagLoadedUnevictable
	case p.HasBlockToken():
		return BagEvictableDiskBacked
	default:
		return BagEvictableUnbacked
	}
}

func (c *ClockEvictor) ChangeToCorrectBag(old Bag, p Page) {
	c.mu.Lock()
	defer c.mu.Unlock()

	newBag := c.correctBagLocked(p)
	if newBag == old {
		return
	}
	c.moveLocked(p, newBag)
}

func (c *ClockEvictor) MoveUnevictableToEvictable(p Page) {
	c.mu.Lock()
	defer c.mu.Unlock()

	newBag := c.correctBagLocked(p)
	c.moveLocked(p, newBag)
}

func (c *ClockEvictor) RemovePage(p Page) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.byKey[p.Key()]
	if !ok {
		return
	}
	c.removeFromClockLocked(e)
	delete(c.byKey, p.Key())
}

// PickEvictable scans the disk-backed evictable bag in clock order for up to
// two passes, clearing second-chance flags as it goes, and returns the first
// entry whose flag is already clear; it returns false when the bag is empty.
// Not part of the Evictor interface: this is
// the evictor's own autonomous policy, driven by a background task (see
// cache.Cache), not by the page layer.
func (c *ClockEvictor) PickEvictable() (Page, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := len(c.clock)
	if n == 0 {
		return nil, false
	}

	start := c.position % n
	for pass := 0; pass < 2; pass++ {
		for i := 0; i < n; i++ {
			idx := (start + i) % n
			e := c.clock[idx]
			if e.bag != BagEvictableDiskBacked {
				continue
			}
			if e.secondChance {
				e.secondChance = false
				continue
			}
			c.position = (idx + 1) % n
			return e.page, true
		}
		// give every entry its second chance before giving up
		for _, e := range c.clock {
			e.secondChance = false
		}
	}
	return nil, false
}

func (c *ClockEvictor) correctBagLocked(p Page) Bag {
	return c.CorrectBag(p)
}

func (c *ClockEvictor) record(p Page, bag Bag) *entry {
	e := &entry{page: p, bag: bag, secondChance: true}
	c.byKey[p.Key()] = e
	return e
}

func (c *ClockEvictor) moveLocked(p Page, newBag Bag) {
	e, ok := c.byKey[p.Key()]
	if !ok {
		e = c.record(p, newBag)
	}

	wasClocked := e.bag == BagEvictableDiskBacked
	e.bag = newBag
	e.secondChance = true

	if wasClocked && newBag != BagEvictableDiskBacked {
		c.removeFromClockLocked(e)
	} else if !wasClocked && newBag == BagEvictableDiskBacked {
		c.clock = append(c.clock, e)
	}
}

func (c *ClockEvictor) removeFromClockLocked(e *entry) {
	for i, cand := range c.clock {
		if cand == e {
			c.clock = append(c.clock[:i], c.clock[i+1:]...)
			if c.position > i {
				c.position--
			}
			return
		}
	}
}
