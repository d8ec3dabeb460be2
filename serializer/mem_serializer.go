package serializer

import (
	"context"
	"fmt"
	"sync"
)

// DefaultBlockSize matches a typical fixed-size disk page convention.
const DefaultBlockSize = 4096

// MemSerializer is an in-memory reference Serializer. It exists only to
// exercise the page layer's load/copy/evict protocols in tests and demos; it
// has no on-disk format, no compression and no crash-recovery semantics.
type MemSerializer struct {
	mu        sync.Mutex
	blockSize int
	blocks    map[BlockID][]byte
	nextID    BlockID
	// FailNextRead, when non-nil, is returned (and cleared) by the next
	// BlockRead call. Used by tests to exercise the non-fatal I/O failure
	// path.
	FailNextRead error
}

var _ Serializer = &MemSerializer{}

// NewMemSerializer creates an empty in-memory block store.
func NewMemSerializer() *MemSerializer {
	return &MemSerializer{
		blockSize: DefaultBlockSize,
		blocks:    map[BlockID][]byte{},
		nextID:    1,
	}
}

func (m *MemSerializer) BlockSize() int {
	return m.blockSize
}

func (m *MemSerializer) AllocateBuffer(size int) (OwnedBuffer, error) {
	return make(OwnedBuffer, size), nil
}

func (m *MemSerializer) ReleaseBuffer(buf OwnedBuffer) {
	// The Go GC reclaims the backing array; nothing to do. Kept as a no-op
	// method so callers always pair AllocateBuffer with ReleaseBuffer
	// symmetrically, the way a real disk-backed Serializer would need to.
}

// PutBlock seeds the store with contents for id, as if previously written to
// disk. Used by tests to set up cold-load scenarios.
func (m *MemSerializer) PutBlock(id BlockID, contents []byte) *BlockToken {
	m.mu.Lock()
	defer m.mu.Unlock()

	buf := make([]byte, m.blockSize)
	copy(buf, contents)
	m.blocks[id] = buf
	if id >= m.nextID {
		m.nextID = id + 1
	}
	return &BlockToken{ID: id, BlockSize: m.blockSize}
}

// AllocateBlock reserves a fresh BlockID without writing any content yet.
func (m *MemSerializer) AllocateBlock() BlockID {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextID
	m.nextID++
	m.blocks[id] = make([]byte, m.blockSize)
	return id
}

func (m *MemSerializer) IndexRead(ctx context.Context, id BlockID) (*BlockToken, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.blocks[id]; !ok {
		return nil, fmt.Errorf("serializer: block %d not found", id)
	}
	return &BlockToken{ID: id, BlockSize: m.blockSize}, nil
}

func (m *MemSerializer) BlockRead(ctx context.Context, tok *BlockToken, into OwnedBuffer) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailNextRead != nil {
		err := m.FailNextRead
		m.FailNextRead = nil
		return err
	}

	data, ok := m.blocks[tok.ID]
	if !ok {
		return fmt.Errorf("serializer: block %d not found", tok.ID)
	}
	copy(into, data)
	return nil
}

// WriteBlock persists contents for id, used by tests to overwrite a block's
// stored contents. Not part of the
// Serializer interface since the page layer itself never writes back to
// disk (that belongs to a higher layer); exposed only for test setup.
func (m *MemSerializer) WriteBlock(id BlockID, contents []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()

	buf := make([]byte, m.blockSize)
	copy(buf, contents)
	m.blocks[id] = buf
}
