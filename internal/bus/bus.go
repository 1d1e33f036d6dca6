// Package bus implements the in-process publish/subscribe primitive
// described in spec.md §4.2: every subscriber gets an independent
// bounded queue; publish is always non-blocking; a full queue drops its
// oldest entry and retries the enqueue exactly once.
package bus

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultCapacity is the default per-subscriber queue capacity.
const DefaultCapacity = 10000

// Subscription is one subscriber's view of the bus: a name (used in
// backpressure log lines), a bounded queue, and the cancellation that
// tears it down.
type Subscription struct {
	Name  string
	queue *Queue
	bus   *Bus
}

// Recv blocks until a message is published, the subscription is
// cancelled, or ctx ends.
func (s *Subscription) Recv(ctx context.Context) (any, bool) {
	return s.queue.Pop(ctx)
}

// Unsubscribe removes the subscription from the bus. It is safe to call
// more than once and is also called automatically once the
// subscription's context ends.
func (s *Subscription) Unsubscribe() {
	s.bus.remove(s)
	s.queue.Close()
}

// Bus is the bounded, drop-oldest, in-process publish/subscribe hub.
type Bus struct {
	log *logrus.Entry

	mu   sync.Mutex
	subs []*Subscription

	lastWarnMu sync.Mutex
	lastWarn   map[string]int64 // subscriber name -> unix seconds of last warning
}

// New returns a Bus that logs backpressure warnings through log.
func New(log *logrus.Entry) *Bus {
	return &Bus{
		log:      log,
		lastWarn: make(map[string]int64),
	}
}

// Subscribe registers a new subscriber named name with a bounded queue
// of the given capacity. When ctx ends the subscription is torn down
// automatically, waking any blocked Recv.
func (b *Bus) Subscribe(ctx context.Context, name string, capacity int) *Subscription {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	sub := &Subscription{
		Name:  name,
		queue: NewQueue(capacity),
		bus:   b,
	}
	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		sub.Unsubscribe()
	}()
	return sub
}

// Publish snapshots the current subscriber set and offers msg to each.
// A subscriber whose queue is full has its oldest entry dropped and the
// enqueue retried exactly once; this never blocks the caller. Dead
// subscribers (already unsubscribed) are lazily collected from the live
// list during this pass.
func (b *Bus) Publish(msg any) {
	b.mu.Lock()
	snapshot := make([]*Subscription, len(b.subs))
	copy(snapshot, b.subs)
	live := b.subs[:0]
	for _, s := range b.subs {
		if !s.queue.Closed() {
			live = append(live, s)
		}
	}
	b.subs = live
	b.mu.Unlock()

	for _, sub := range snapshot {
		if sub.queue.Closed() {
			continue
		}
		if dropped := sub.queue.Push(msg); dropped {
			b.warnBackpressure(sub.Name)
		}
	}
}

func (b *Bus) remove(target *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s == target {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			return
		}
	}
}

// warnBackpressure logs at most once per second per subscriber name,
// per spec.md §7's Backpressure policy ("warn once per second per
// subscriber").
func (b *Bus) warnBackpressure(name string) {
	if b.log == nil {
		return
	}
	now := time.Now().Unix()
	b.lastWarnMu.Lock()
	last, seen := b.lastWarn[name]
	if seen && now == last {
		b.lastWarnMu.Unlock()
		return
	}
	b.lastWarn[name] = now
	b.lastWarnMu.Unlock()

	b.log.WithField("subscriber", name).Warn("bus: subscriber queue full, dropped oldest message")
}
