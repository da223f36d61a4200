// Package registry holds the live set of visible beacons.
package registry

import (
	"sync"
	"time"

	"beaconwatch/internal/frame"
)

// Observation is one decoded advertisement, consumed by Update.
type Observation struct {
	Identity frame.Identity
	RSSI     int
	TxPower  int
	Distance float64
	Address  string
	Name     string
	Seen     time.Time
}

// Entry is the registry's view of one beacon.
type Entry struct {
	Identity  frame.Identity
	RSSI      int
	TxPower   int
	Distance  float64
	Address   string
	Name      string
	FirstSeen time.Time
	LastSeen  time.Time
	Sightings uint64
}

// Registry is a keyed set of beacon entries that remembers insertion order.
// It is safe for concurrent use.
type Registry struct {
	mu      sync.Mutex
	entries map[frame.Identity]*Entry
	order   []frame.Identity
	window  time.Duration
}

// New creates an empty registry that expires entries unseen for longer than
// expiryWindow.
func New(expiryWindow time.Duration) *Registry {
	return &Registry{
		entries: make(map[frame.Identity]*Entry),
		window:  expiryWindow,
	}
}

// Update inserts a new entry for an unseen identity or refreshes the
// existing one in place. It reports whether a new entry was created.
func (r *Registry) Update(obs Observation) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.entries[obs.Identity]; ok {
		e.RSSI = obs.RSSI
		e.TxPower = obs.TxPower
		e.Distance = obs.Distance
		e.LastSeen = obs.Seen
		e.Sightings++
		if obs.Address != "" {
			e.Address = obs.Address
		}
		if obs.Name != "" {
			e.Name = obs.Name
		}
		return false
	}

	r.entries[obs.Identity] = &Entry{
		Identity:  obs.Identity,
		RSSI:      obs.RSSI,
		TxPower:   obs.TxPower,
		Distance:  obs.Distance,
		Address:   obs.Address,
		Name:      obs.Name,
		FirstSeen: obs.Seen,
		LastSeen:  obs.Seen,
		Sightings: 1,
	}
	r.order = append(r.order, obs.Identity)
	return true
}

// EvictExpired removes every entry whose last sighting is more than the
// expiry window before now, and returns their identities in insertion order.
func (r *Registry) EvictExpired(now time.Time) []frame.Identity {
	r.mu.Lock()
	defer r.mu.Unlock()

	var removed []frame.Identity
	kept := r.order[:0]
	for _, id := range r.order {
		e := r.entries[id]
		if now.Sub(e.LastSeen) > r.window {
			delete(r.entries, id)
			removed = append(removed, id)
			continue
		}
		kept = append(kept, id)
	}
	clear(r.order[len(kept):])
	r.order = kept
	return removed
}

// Snapshot returns a copy of all entries in insertion order.
func (r *Registry) Snapshot() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Entry, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, *r.entries[id])
	}
	return out
}

// Get returns a copy of the entry for id.
func (r *Registry) Get(id frame.Identity) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// Len returns the number of tracked beacons.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// ExpiryWindow returns the current expiry window.
func (r *Registry) ExpiryWindow() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.window
}

// SetExpiryWindow changes the expiry window used by later evictions.
func (r *Registry) SetExpiryWindow(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.window = d
}

// Clear drops every entry.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = make(map[frame.Identity]*Entry)
	r.order = nil
}
