package device

import (
	"fmt"
	"sort"
	"sync"
)

// Registry is the in-memory device registry.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
//   - Entries are returned by value; callers never hold registry-internal
//     references.
type Registry struct {
	mu      sync.RWMutex
	devices map[string]Device
}

// NewRegistry builds a registry from the configured device list.
//
// Returns:
//   - *Registry: Ready for lookups
//   - error: If any definition is invalid or ids collide
func NewRegistry(devices []Device) (*Registry, error) {
	r := &Registry{devices: make(map[string]Device, len(devices))}
	if err := r.load(devices); err != nil {
		return nil, err
	}
	return r, nil
}

// load validates and indexes a device list. Caller must hold no lock.
func (r *Registry) load(devices []Device) error {
	next := make(map[string]Device, len(devices))
	for _, d := range devices {
		if err := d.Validate(); err != nil {
			return err
		}
		if _, exists := next[d.ID]; exists {
			return fmt.Errorf("%w: %s", ErrDuplicateID, d.ID)
		}
		next[d.ID] = d
	}

	r.mu.Lock()
	r.devices = next
	r.mu.Unlock()
	return nil
}

// Get returns the device with the given id.
func (r *Registry) Get(id string) (Device, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.devices[id]
	if !ok {
		return Device{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return d, nil
}

// List returns all devices sorted by id.
func (r *Registry) List() []Device {
	r.mu.RLock()
	out := make([]Device, 0, len(r.devices))
	for _, d := range r.devices {
		out = append(out, d)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Count returns the number of registered devices.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.devices)
}

// Replace swaps the registry contents for a new device list.
// Used by config hot reload; the gateway reconciles its per-device
// runtimes against the new snapshot afterwards.
func (r *Registry) Replace(devices []Device) error {
	return r.load(devices)
}
