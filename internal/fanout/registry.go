// Package fanout implements the Client Fanout described in spec.md
// §4.5: a registry of connected clients, each with a bounded per-client
// queue, broadcast by facility, and the two wire bindings (WebSocket,
// legacy NDJSON streaming) that drain those queues.
package fanout

import (
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/benwashere/swimfeed/internal/bus"
	"github.com/benwashere/swimfeed/internal/flightstate"
)

// DefaultCapacity is the default per-client queue capacity.
const DefaultCapacity = 5000

// DefaultWriteTimeout is the per-write deadline that disconnects a slow
// client rather than letting its queue build up.
const DefaultWriteTimeout = 5 * time.Second

// Client is one connected downstream consumer's registry entry: a
// bounded queue shared by whichever wire binding drains it, tagged with
// the facility it filters on.
type Client struct {
	ID       string
	Facility string
	queue    *bus.Queue
}

// Enqueue offers an envelope to this client without blocking, dropping
// the oldest buffered envelope on overflow exactly like the event bus.
func (c *Client) Enqueue(env flightstate.Envelope) bool {
	return c.queue.Push(env)
}

// Registry tracks connected clients and fans broadcasts out to them.
type Registry struct {
	log *logrus.Entry

	mu      sync.Mutex
	clients map[string]*Client

	capacity int
}

// NewRegistry builds a Registry whose clients get queues of the given
// capacity (DefaultCapacity when <= 0).
func NewRegistry(log *logrus.Entry, capacity int) *Registry {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Registry{
		log:      log,
		clients:  make(map[string]*Client),
		capacity: capacity,
	}
}

// Register adds a new client with the given id and facility filter tag
// and returns it; the caller's writer task drains the client's queue.
func (r *Registry) Register(id, facility string) *Client {
	c := &Client{ID: id, Facility: facility, queue: bus.NewQueue(r.capacity)}
	r.mu.Lock()
	r.clients[id] = c
	r.mu.Unlock()
	return c
}

// Unregister removes and closes a client's queue, releasing its writer.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	c, ok := r.clients[id]
	delete(r.clients, id)
	r.mu.Unlock()
	if ok {
		c.queue.Close()
	}
}

// Broadcast enqueues env to every client whose facility matches
// case-insensitively, or to all clients when facility is "".
func (r *Registry) Broadcast(env flightstate.Envelope, facility string) {
	r.mu.Lock()
	snapshot := make([]*Client, 0, len(r.clients))
	for _, c := range r.clients {
		snapshot = append(snapshot, c)
	}
	r.mu.Unlock()

	for _, c := range snapshot {
		if facility != "" && !strings.EqualFold(c.Facility, facility) {
			continue
		}
		if dropped := c.Enqueue(env); dropped && r.log != nil {
			r.log.WithField("client", c.ID).Warn("fanout: client queue full, dropped oldest envelope")
		}
	}
}

// Count reports the number of connected clients, for /diag.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}
