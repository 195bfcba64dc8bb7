//go:build debug

package voker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPool_PushThenPop(t *testing.T) {
	p := NewPool[int](1)

	done := make(chan struct{})
	var got int
	go func() {
		v, err := p.Pop(context.Background())
		require.NoError(t, err)
		got = v
		close(done)
	}()

	// Give the goroutine time to become the waiter.
	time.Sleep(20 * time.Millisecond)
	assert.True(t, p.Push(42))

	<-done
	assert.Equal(t, 42, got)
}

func TestPool_PushWithNoWaiter_Buffers(t *testing.T) {
	p := NewPool[int](1)
	assert.True(t, p.Push(1))

	v, err := p.Pop(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, v)
}

func TestPool_PushBeyondCapacity_ReturnsFalse(t *testing.T) {
	p := NewPool[int](1)
	assert.True(t, p.Push(1))
	assert.False(t, p.Push(2))
}

func TestPool_SecondPop_WhileBusy_FailsImmediately(t *testing.T) {
	p := NewPool[int](1)

	go func() { _, _ = p.Pop(context.Background()) }()
	time.Sleep(20 * time.Millisecond)

	_, err := p.Pop(context.Background())
	assert.ErrorIs(t, err, ErrPoolBusy)
}

func TestPool_Pop_CancelledContext(t *testing.T) {
	p := NewPool[int](1)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := p.Pop(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPool_WaiterSlotFreedAfterCancel(t *testing.T) {
	p := NewPool[int](1)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := p.Pop(ctx)
	require.Error(t, err)

	// The slot should be free again for a fresh waiter, so a Push now
	// buffers rather than finding a stale waiter.
	assert.True(t, p.Push(1))
}
