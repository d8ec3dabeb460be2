// Package serializer defines the interface the page layer uses to load and
// allocate block contents. The page layer never reads or writes a file
// itself; it only ever goes through a Serializer.
package serializer

import "context"

// BlockID identifies a fixed-size block on disk.
type BlockID uint64

// BlockToken references a block's current on-disk location. It is required
// to reload a block after its in-memory buffer has been evicted. Tokens are
// handed out by IndexRead and are safe to retain for as long as needed; Go's
// garbage collector, not a manual refcount, reclaims a token once the last
// Page referencing it is gone.
type BlockToken struct {
	ID        BlockID
	BlockSize int
}

// OwnedBuffer is a heap buffer allocated through a Serializer. Ownership
// passes to whoever holds the slice; ReleaseBuffer returns it to the
// Serializer when the page layer is done with it.
type OwnedBuffer []byte

// Serializer loads and allocates block contents. Implementations are
// external collaborators of the page layer: their on-disk format,
// compression and allocator locality are out of scope for this module.
type Serializer interface {
	// AllocateBuffer returns a zeroed buffer of the given size.
	AllocateBuffer(size int) (OwnedBuffer, error)

	// ReleaseBuffer returns a buffer previously obtained from AllocateBuffer.
	// Safe to call with a nil buffer.
	ReleaseBuffer(buf OwnedBuffer)

	// IndexRead resolves a BlockID to its current on-disk location.
	IndexRead(ctx context.Context, id BlockID) (*BlockToken, error)

	// BlockRead fills into with the block's persisted contents. len(into)
	// must be >= tok.BlockSize.
	BlockRead(ctx context.Context, tok *BlockToken, into OwnedBuffer) error

	// BlockSize is the fixed size of every block this Serializer manages.
	BlockSize() int
}
