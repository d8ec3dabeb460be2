// Package evictor implements the Evictor collaborator of the page layer:
// it classifies every page into one of four bags and chooses victims for
// eviction. The eviction *policy* (which victim to pick within a bag) is
// this package's own business; the page package only ever reports "my
// state changed" and asks "what bag am I in now".
package evictor

// Bag is one of the eviction categories a Page can be in.
type Bag int

const (
	// BagNotYetLoaded holds pages with no buffer in memory: a load is in
	// flight, or the buffer was evicted and a reload is dispatched when the
	// next waiter attaches.
	BagNotYetLoaded Bag = iota
	// BagLoadedUnevictable holds pages with a present buffer and at least
	// one waiter; must never be chosen as a victim.
	BagLoadedUnevictable
	// BagEvictableDiskBacked holds pages with a present buffer, no
	// waiters, and a block token: dropping the buffer is enough, the
	// page can be reloaded from disk.
	BagEvictableDiskBacked
	// BagEvictableUnbacked holds pages with a present buffer, no waiters,
	// and no block token: there is nowhere to reload from, so these pages
	// cannot actually be reclaimed by dropping the buffer (only removed
	// outright once their last snapshot reference goes away).
	BagEvictableUnbacked
)

func (b Bag) String() string {
	switch b {
	case BagNotYetLoaded:
		return "not-yet-loaded"
	case BagLoadedUnevictable:
		return "loaded-unevictable"
	case BagEvictableDiskBacked:
		return "evictable-disk-backed"
	case BagEvictableUnbacked:
		return "evictable-unbacked"
	default:
		return "unknown-bag"
	}
}

// Page is the minimal view of a page.Page that the evictor needs. It is
// defined here, not in package page, so that page can depend on evictor
// without evictor ever depending back on page.
type Page interface {
	// Key uniquely identifies this page among all pages known to the
	// evictor (page.Page uses an internal sequence number assigned at
	// construction, for disk-backed and unbacked pages alike).
	Key() uint64

	// HasBuffer reports whether the page's buffer is currently loaded.
	HasBuffer() bool
	// HasBlockToken reports whether the page has a known disk location.
	HasBlockToken() bool
	// HasWaiters reports whether any PageAcquisition is waiting on this
	// page's buffer becoming ready.
	HasWaiters() bool
	// IsLoading reports whether a load task is currently in flight.
	IsLoading() bool

	// EvictSelf asks the page to drop its in-memory buffer. Called by the
	// evictor's own victim-selection loop, never by the page layer.
	EvictSelf() error
}

// Evictor is the interface the page layer consumes. Every method here is
// synchronous and must not block the caller on I/O.
type Evictor interface {
	// NextAccessTime returns the next value of the evictor's monotonic
	// access-time counter, used to stamp Page.accessTime.
	NextAccessTime() uint64

	// AddNotYetLoaded registers a freshly created page in the
	// not-yet-loaded bag.
	AddNotYetLoaded(p Page)
	// AddEvictableUnbacked registers a freshly created, buffer-only page.
	AddEvictableUnbacked(p Page)
	// AddEvictableDiskBacked registers a freshly created, already-loaded,
	// disk-backed page (the read-ahead creation path).
	AddEvictableDiskBacked(p Page)

	// AddNowLoadedSize informs the evictor that bytes more memory is now
	// resident, for capacity accounting.
	AddNowLoadedSize(bytes int)

	// CorrectBag computes, from p's current observable state alone, which
	// bag p belongs in.
	CorrectBag(p Page) Bag
	// ChangeToCorrectBag moves p out of old and into CorrectBag(p).
	// A no-op if the two are equal.
	ChangeToCorrectBag(old Bag, p Page)
	// MoveUnevictableToEvictable moves p out of whichever bag it is recorded
	// in (BagNotYetLoaded, for a page whose load just completed) into
	// CorrectBag(p); called once a load completes and finds no waiters.
	MoveUnevictableToEvictable(p Page)

	// RemovePage removes p from whichever bag it is currently in, for
	// good: called from Page destruction and when a load fails. A call for
	// a page that is not recorded is a no-op.
	RemovePage(p Page)
}

// InitialAccessTime is the evictor's starting counter value.
const InitialAccessTime uint64 = 1

// ReadAheadAccessTime is one below InitialAccessTime, the lowest value
// NextAccessTime hands out; read-ahead pages are stamped with it until
// actually touched. ClockEvictor does not read access times: its victim
// order is clock order alone, so read-ahead pages get no eviction priority
// from this stamp.
const ReadAheadAccessTime = InitialAccessTime - 1
