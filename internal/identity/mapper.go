// Package identity maintains the legacy stable-id mapping described in
// spec.md §4.6: (ModeSCode, TrackNumber, Facility) tuples that have no
// GUFI get a generated id instead, stable until 5 minutes of silence.
package identity

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultTTL is the silence window after which a tuple is evicted.
const DefaultTTL = 5 * time.Minute

type key struct {
	ModeSCode   string
	TrackNumber string
	Facility    string
}

type entry struct {
	id       string
	lastSeen time.Time
}

// Mapper assigns and remembers a stable id per (ModeSCode, TrackNumber,
// Facility) tuple for legacy clients that have no GUFI to key on.
type Mapper struct {
	ttl time.Duration

	mu      sync.Mutex
	entries map[key]*entry
}

// New builds a Mapper with the given silence TTL; ttl<=0 uses DefaultTTL.
func New(ttl time.Duration) *Mapper {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Mapper{ttl: ttl, entries: make(map[key]*entry)}
}

// Lookup returns the stable id for the tuple, generating one on first
// sighting and lazily evicting it if the prior sighting is older than
// the TTL.
func (m *Mapper) Lookup(modeSCode, trackNumber, facility string) string {
	k := key{ModeSCode: modeSCode, TrackNumber: trackNumber, Facility: facility}
	now := time.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.entries[k]; ok {
		if now.Sub(e.lastSeen) <= m.ttl {
			e.lastSeen = now
			return e.id
		}
		delete(m.entries, k)
	}

	e := &entry{id: uuid.NewString(), lastSeen: now}
	m.entries[k] = e
	return e.id
}

// Sweep evicts every tuple silent longer than the TTL. Intended to run
// periodically alongside Lookup's lazy eviction.
func (m *Mapper) Sweep() {
	now := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, e := range m.entries {
		if now.Sub(e.lastSeen) > m.ttl {
			delete(m.entries, k)
		}
	}
}

// Len reports how many tuples are currently tracked, for diagnostics.
func (m *Mapper) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
