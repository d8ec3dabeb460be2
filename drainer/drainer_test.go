package drainer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireRelease(t *testing.T) {
	d := New()

	g, err := d.Acquire()
	require.NoError(t, err)
	g.Release()
	g.Release() // idempotent

	require.NoError(t, d.Drain(context.Background()))
}

func TestDrainWaitsForOutstandingGuards(t *testing.T) {
	d := New()

	g, err := d.Acquire()
	require.NoError(t, err)

	drained := make(chan error, 1)
	go func() {
		drained <- d.Drain(context.Background())
	}()

	select {
	case <-drained:
		t.Fatal("drain returned before outstanding guard was released")
	case <-time.After(20 * time.Millisecond):
	}

	g.Release()

	select {
	case err := <-drained:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("drain did not return after guard was released")
	}
}

func TestAcquireFailsOnceDraining(t *testing.T) {
	d := New()
	require.NoError(t, d.Drain(context.Background()))

	_, err := d.Acquire()
	assert.ErrorIs(t, err, ErrDraining)
}

func TestDrainRespectsContextDeadline(t *testing.T) {
	d := New()
	_, err := d.Acquire()
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err = d.Drain(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
