package serializer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPutBlockThenIndexAndBlockRead(t *testing.T) {
	s := NewMemSerializer()
	s.PutBlock(7, []byte{0xDE, 0xAD, 0xBE, 0xEF})

	tok, err := s.IndexRead(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, BlockID(7), tok.ID)
	assert.Equal(t, DefaultBlockSize, tok.BlockSize)

	buf, err := s.AllocateBuffer(tok.BlockSize)
	require.NoError(t, err)
	require.NoError(t, s.BlockRead(context.Background(), tok, buf))
	assert.Equal(t, OwnedBuffer{0xDE, 0xAD, 0xBE, 0xEF}, buf[:4])
}

func TestIndexReadUnknownBlockFails(t *testing.T) {
	s := NewMemSerializer()
	_, err := s.IndexRead(context.Background(), 404)
	assert.Error(t, err)
}

func TestAllocateBlockThenWriteThenRead(t *testing.T) {
	s := NewMemSerializer()
	id := s.AllocateBlock()
	s.WriteBlock(id, []byte{0x01, 0x02})

	tok, err := s.IndexRead(context.Background(), id)
	require.NoError(t, err)

	buf, _ := s.AllocateBuffer(tok.BlockSize)
	require.NoError(t, s.BlockRead(context.Background(), tok, buf))
	assert.Equal(t, OwnedBuffer{0x01, 0x02}, buf[:2])
}

func TestFailNextReadIsConsumedOnce(t *testing.T) {
	s := NewMemSerializer()
	tok := s.PutBlock(1, []byte{0xFF})

	boom := assert.AnError
	s.FailNextRead = boom

	buf, _ := s.AllocateBuffer(tok.BlockSize)
	err := s.BlockRead(context.Background(), tok, buf)
	assert.ErrorIs(t, err, boom)

	// Second call succeeds: the injected failure was one-shot.
	err = s.BlockRead(context.Background(), tok, buf)
	assert.NoError(t, err)
}

func TestIndexReadRespectsCancelledContext(t *testing.T) {
	s := NewMemSerializer()
	s.PutBlock(1, []byte{0x01})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.IndexRead(ctx, 1)
	assert.ErrorIs(t, err, context.Canceled)
}
