package fanout

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/benwashere/swimfeed/internal/flightstate"
)

func TestBroadcastFiltersByFacilityCaseInsensitive(t *testing.T) {
	r := NewRegistry(nil, 10)
	zny := r.Register("c1", "ZNY")
	zdc := r.Register("c2", "ZDC")
	all := r.Register("c3", "")

	r.Broadcast(flightstate.Envelope{Type: "update", GUFI: "G1"}, "zny")

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	v, ok := zny.queue.Pop(ctx)
	require.True(t, ok, "zny client did not receive matching-facility broadcast")
	assert.Equal(t, "G1", v.(flightstate.Envelope).GUFI)

	_, ok = zdc.queue.Pop(ctx)
	assert.False(t, ok, "zdc client received a broadcast meant for ZNY")

	_, ok = all.queue.Pop(ctx)
	assert.False(t, ok, "facility-less client unexpectedly received a facility-targeted broadcast")
}

func TestBroadcastNoFacilityReachesAll(t *testing.T) {
	r := NewRegistry(nil, 10)
	a := r.Register("c1", "ZNY")
	b := r.Register("c2", "ZDC")

	r.Broadcast(flightstate.Envelope{Type: "stats"}, "")

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, ok := a.queue.Pop(ctx)
	assert.True(t, ok, "client a did not receive all-facility broadcast")
	_, ok = b.queue.Pop(ctx)
	assert.True(t, ok, "client b did not receive all-facility broadcast")
}

func TestUnregisterClosesQueue(t *testing.T) {
	r := NewRegistry(nil, 10)
	c := r.Register("c1", "ZNY")
	r.Unregister("c1")
	assert.True(t, c.queue.Closed(), "queue not closed after Unregister")
	assert.Equal(t, 0, r.Count())
}
