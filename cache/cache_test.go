package cache

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pagecache/page"
	"pagecache/serializer"
)

// blockIDFromUUID derives a distinct BlockID per test case from a fresh
// uuid, so concurrently running test cases never collide on the same block.
func blockIDFromUUID() serializer.BlockID {
	id := uuid.New()
	b := id[:]
	var v uint64
	for i := 0; i < 8; i++ {
		v = v<<8 | uint64(b[i])
	}
	if v == 0 {
		v = 1
	}
	return serializer.BlockID(v)
}

func newTestCache() (*Cache, *serializer.MemSerializer) {
	ser := serializer.NewMemSerializer()
	c := New(NewDefaultOptions(ser))
	return c, ser
}

func TestFetchPage_CachesResidentPage(t *testing.T) {
	c, ser := newTestCache()
	defer c.Close(context.Background())

	id := blockIDFromUUID()
	ser.PutBlock(id, []byte{0xAB, 0xCD})

	first := c.FetchPage(context.Background(), id)
	defer first.Release()

	acq := &page.PageAcquisition{}
	require.NoError(t, acq.Attach(first.Page()))
	require.NoError(t, acq.WaitReady(context.Background()))
	require.NoError(t, acq.Close())

	second := c.FetchPage(context.Background(), id)
	defer second.Release()

	assert.Same(t, first.Page(), second.Page(), "a second fetch of the same block must reuse the resident page")
}

func TestNewPage_ReturnsIndependentUnbackedPage(t *testing.T) {
	c, _ := newTestCache()
	defer c.Close(context.Background())

	a := c.NewPage(make([]byte, serializer.DefaultBlockSize))
	defer a.Release()
	b := c.NewPage(make([]byte, serializer.DefaultBlockSize))
	defer b.Release()

	assert.NotSame(t, a.Page(), b.Page())
}

func TestFetchPage_ReloadsAfterDestruction(t *testing.T) {
	c, ser := newTestCache()
	defer c.Close(context.Background())

	id := blockIDFromUUID()
	ser.PutBlock(id, []byte{0x01})

	first := c.FetchPage(context.Background(), id)
	acq := &page.PageAcquisition{}
	require.NoError(t, acq.Attach(first.Page()))
	require.NoError(t, acq.WaitReady(context.Background()))
	require.NoError(t, acq.Close())

	firstPage := first.Page()
	first.Release() // drops the only reference, destroying the page

	require.Eventually(t, func() bool {
		return firstPage.CurrentState() == page.StateDead
	}, time.Second, time.Millisecond)

	second := c.FetchPage(context.Background(), id)
	defer second.Release()

	assert.NotSame(t, firstPage, second.Page(), "a destroyed page must not be reused")
}

// TestFetchPage_RaceAgainstDestructionNeverResurrectsDeadPage hammers the
// interleaving the acquire-or-revive fix closes: one goroutine releasing the
// last reference to a page (destroying it) while another concurrently
// fetches the same block id. Every PagePtr FetchPage hands back must refer
// to a live page, never the one being torn down.
func TestFetchPage_RaceAgainstDestructionNeverResurrectsDeadPage(t *testing.T) {
	c, ser := newTestCache()
	defer c.Close(context.Background())

	for i := 0; i < 200; i++ {
		id := blockIDFromUUID()
		ser.PutBlock(id, []byte{byte(i)})

		first := c.FetchPage(context.Background(), id)
		acq := &page.PageAcquisition{}
		require.NoError(t, acq.Attach(first.Page()))
		require.NoError(t, acq.WaitReady(context.Background()))
		require.NoError(t, acq.Close())

		done := make(chan *page.PagePtr)
		go func() {
			first.Release()
		}()
		go func() {
			done <- c.FetchPage(context.Background(), id)
		}()

		second := <-done
		assert.NotEqual(t, page.StateDead, second.Page().CurrentState(),
			"FetchPage must never hand back a destroyed page")
		second.Release()
	}
}

func TestBackgroundEviction_DropsDiskBackedBuffers(t *testing.T) {
	ser := serializer.NewMemSerializer()
	opts := NewDefaultOptions(ser)
	opts.MaxLoadedBytes = 1 // any residency at all counts as over budget
	opts.EvictionInterval = 5 * time.Millisecond
	c := New(opts)
	defer c.Close(context.Background())

	id := blockIDFromUUID()
	ser.PutBlock(id, []byte{0x01, 0x02})

	ptr := c.FetchPage(context.Background(), id)
	defer ptr.Release()

	acq := &page.PageAcquisition{}
	require.NoError(t, acq.Attach(ptr.Page()))
	require.NoError(t, acq.WaitReady(context.Background()))
	require.NoError(t, acq.Close())

	require.Eventually(t, func() bool {
		return ptr.Page().CurrentState() == page.StateEvicted
	}, time.Second, 5*time.Millisecond)
}

func TestClose_DrainsOutstandingLoads(t *testing.T) {
	c, ser := newTestCache()

	id := blockIDFromUUID()
	ser.PutBlock(id, []byte{0x01})

	ptr := c.FetchPage(context.Background(), id)
	defer ptr.Release()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, c.Close(ctx))
}
