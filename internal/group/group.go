package group

import (
	"fmt"
	"sort"
	"sync"
)

// Whisper target IDs live in the five-bit header field between the
// normal channel (0) and server loopback (31).
const (
	minTargetID = 1
	maxTargetID = 30
)

// Registry maps named whisper groups onto wire target IDs. Names are
// stable for the life of the process so replies keep reaching the
// same listeners.
type Registry struct {
	mu     sync.Mutex
	byName map[string]uint8
	byID   map[uint8]string
}

// NewRegistry creates an empty whisper target registry.
func NewRegistry() *Registry {
	return &Registry{
		byName: make(map[string]uint8),
		byID:   make(map[uint8]string),
	}
}

// Resolve returns the target ID for name, allocating the lowest free
// ID for a new name. All thirty whisper slots in use is an error.
func (r *Registry) Resolve(name string) (uint8, error) {
	if name == "" {
		return 0, fmt.Errorf("group: empty name")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if id, ok := r.byName[name]; ok {
		return id, nil
	}
	for id := uint8(minTargetID); id <= maxTargetID; id++ {
		if _, taken := r.byID[id]; !taken {
			r.byName[name] = id
			r.byID[id] = name
			return id, nil
		}
	}
	return 0, fmt.Errorf("group: no free whisper targets for %q", name)
}

// Lookup returns the target ID for name without allocating.
func (r *Registry) Lookup(name string) (uint8, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byName[name]
	return id, ok
}

// Release frees the target ID held by name.
func (r *Registry) Release(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := r.byName[name]; ok {
		delete(r.byName, name)
		delete(r.byID, id)
	}
}

// Target is one named whisper slot.
type Target struct {
	Name string `json:"name"`
	ID   uint8  `json:"id"`
}

// Targets returns the current allocations ordered by ID.
func (r *Registry) Targets() []Target {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Target, 0, len(r.byName))
	for name, id := range r.byName {
		out = append(out, Target{Name: name, ID: id})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
