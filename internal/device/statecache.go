package device

import (
	"sort"
	"sync"
)

// StateCache holds the UI-visible device state. Optimistic updates land
// here immediately; the authoritative store catches up (or the cache is
// rolled back) afterwards. Reads always return copies so callers never
// mutate shared state.
type StateCache struct {
	mu      sync.RWMutex
	devices map[string]*Device
}

func NewStateCache() *StateCache {
	return &StateCache{devices: make(map[string]*Device)}
}

// Load replaces the cache contents, typically from the store at startup.
func (c *StateCache) Load(devices []*Device) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.devices = make(map[string]*Device, len(devices))
	for _, d := range devices {
		c.devices[d.ID] = d.Copy()
	}
}

// Get returns a copy of one device.
func (c *StateCache) Get(id string) (*Device, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	d, ok := c.devices[id]
	if !ok {
		return nil, false
	}
	return d.Copy(), true
}

// Apply overwrites one device's cached state.
func (c *StateCache) Apply(d *Device) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.devices[d.ID] = d.Copy()
}

// Snapshot returns all devices ordered by id.
func (c *StateCache) Snapshot() []*Device {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]*Device, 0, len(c.devices))
	for _, d := range c.devices {
		out = append(out, d.Copy())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len returns the number of cached devices.
func (c *StateCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.devices)
}
