package bus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBusDropOldest(t *testing.T) {
	b := New(nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub := b.Subscribe(ctx, "slow-reader", 4)

	for i := 1; i <= 8; i++ {
		b.Publish(i)
	}

	var got []int
	for i := 0; i < 4; i++ {
		recvCtx, recvCancel := context.WithTimeout(ctx, time.Second)
		v, ok := sub.Recv(recvCtx)
		recvCancel()
		require.Truef(t, ok, "Recv() #%d: ok = false, want true", i)
		got = append(got, v.(int))
	}

	assert.Equal(t, []int{5, 6, 7, 8}, got, "capacity-4 queue must retain only the newest four publishes")
}

func TestBusMultipleSubscribers(t *testing.T) {
	b := New(nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	subA := b.Subscribe(ctx, "a", 10)
	subB := b.Subscribe(ctx, "b", 10)

	b.Publish("hello")

	recvCtx, recvCancel := context.WithTimeout(ctx, time.Second)
	defer recvCancel()

	va, ok := subA.Recv(recvCtx)
	require.True(t, ok)
	assert.Equal(t, "hello", va)

	vb, ok := subB.Recv(recvCtx)
	require.True(t, ok)
	assert.Equal(t, "hello", vb)
}

func TestSubscriptionUnsubscribeOnCancel(t *testing.T) {
	b := New(nil)
	ctx, cancel := context.WithCancel(context.Background())
	sub := b.Subscribe(ctx, "transient", 10)

	cancel()

	assert.Eventually(t, sub.queue.Closed, time.Second, time.Millisecond,
		"subscription queue was not closed after context cancellation")

	assert.Eventually(t, func() bool {
		b.mu.Lock()
		defer b.mu.Unlock()
		return len(b.subs) == 0
	}, time.Second, time.Millisecond, "bus still holds subscribers after cancellation")
}
