package bridge

import (
	"context"
	"sort"
	"sync"
	"time"
)

// generation is everything owned by one device presence: the device
// handle, its connection, and the cancellation that ends it.
type generation struct {
	id     string
	device Device
	conn   Conn
	since  time.Time

	cancel     context.CancelFunc
	done       chan struct{} // closed once the publish and dispatch loops have exited
	dispatcher *Dispatcher

	retiring bool          // guarded by Registry.mu
	retired  chan struct{} // closed once retirement has finished
}

func (g *generation) presence() Presence {
	return Presence{
		DeviceID:   g.device.ID(),
		Name:       g.device.Name(),
		Generation: g.id,
		Since:      g.since,
	}
}

// Registry holds the active generation of every present device.
//
// Insert fails while an entry for the id exists, so at most one generation
// per device id can be active. Claim hands a generation to exactly one
// retiring caller; the entry stays until that caller removes it.
//
// Thread Safety: All methods are safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*generation
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*generation)}
}

func (r *Registry) insert(g *generation) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := g.device.ID()
	if _, exists := r.entries[id]; exists {
		return ErrGenerationActive
	}
	r.entries[id] = g
	return nil
}

func (r *Registry) get(deviceID string) (*generation, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.entries[deviceID]
	return g, ok
}

// claim marks the generation for deviceID as retiring and returns it.
// It fails if there is none or another caller already claimed it.
func (r *Registry) claim(deviceID string) (*generation, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.entries[deviceID]
	if !ok || g.retiring {
		return nil, false
	}
	g.retiring = true
	return g, true
}

// claimAll claims every unclaimed generation. The rest are returned as
// pending; their retirement is already under way.
func (r *Registry) claimAll() (claimed, pending []*generation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, g := range r.entries {
		if g.retiring {
			pending = append(pending, g)
			continue
		}
		g.retiring = true
		claimed = append(claimed, g)
	}
	return claimed, pending
}

// remove deletes the entry only if it still belongs to g.
func (r *Registry) remove(g *generation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.entries[g.device.ID()]; ok && cur == g {
		delete(r.entries, g.device.ID())
	}
}

func (r *Registry) all() []*generation {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*generation, 0, len(r.entries))
	for _, g := range r.entries {
		out = append(out, g)
	}
	return out
}

// Snapshot lists present devices ordered by id.
func (r *Registry) Snapshot() []Presence {
	gens := r.all()
	out := make([]Presence, 0, len(gens))
	for _, g := range gens {
		out = append(out, g.presence())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DeviceID < out[j].DeviceID })
	return out
}
