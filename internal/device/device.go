// ABOUTME: Device registry: the set of known remote receivers
// ABOUTME: Tracks lifecycle flags and serializes mutation under one mutex
package device

import (
	"sync"
)

// Session is the opaque handle a Device holds while a remote output is
// active; internal/remote.Session implements this from the engine's point
// of view.
type Session interface {
	Close()
}

// Device is a remote receiver, per spec.md §3. Mutations are serialized by
// the Registry's lock; fields should not be mutated directly by callers
// holding only a read reference.
type Device struct {
	ID      uint64
	Name    string
	Address string
	Port    int

	Selected    bool
	Advertised  bool
	HasPassword bool
	Password    string

	Session Session
}

// Registry is a map of known devices keyed by id, guarded by one mutex, per
// spec.md §4.D / §5. Grounded on the lifecycle rules of player.c's
// raop_device list: created on first advertisement, destroyed when neither
// advertised nor sessioned.
type Registry struct {
	mu      sync.Mutex
	devices map[uint64]*Device
}

// NewRegistry creates an empty device registry.
func NewRegistry() *Registry {
	return &Registry{devices: make(map[uint64]*Device)}
}

// Upsert inserts or refreshes a device on a discovery advertisement. If the
// device already exists, its name/address/port/password fields are
// refreshed and advertised is set true; otherwise a new Device is created.
func (r *Registry) Upsert(id uint64, name, address string, port int, hasPassword bool, password string) *Device {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.devices[id]
	if !ok {
		d = &Device{ID: id}
		r.devices[id] = d
	}
	d.Name = name
	d.Address = address
	d.Port = port
	d.HasPassword = hasPassword
	if hasPassword && password != "" {
		d.Password = password
	}
	d.Advertised = true
	return d
}

// Withdraw handles an advertisement withdrawal. If the device has no active
// session, it is unlinked and freed immediately. Otherwise it is kept alive
// (advertised=false) until the session tears down.
func (r *Registry) Withdraw(id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.devices[id]
	if !ok {
		return
	}
	if d.Session == nil {
		delete(r.devices, id)
		return
	}
	d.Advertised = false
}

// SessionEnded is called by the player thread when a device's session tears
// down (cleanly or via failure). If the device is no longer advertised, it
// is removed from the registry.
func (r *Registry) SessionEnded(id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.devices[id]
	if !ok {
		return
	}
	d.Session = nil
	d.Selected = false
	if !d.Advertised {
		delete(r.devices, id)
	}
}

// Get returns the device by id, re-verifying existence; callers that drop
// and reacquire the lock around a blocking remote-driver call must call this
// again before touching the result, per spec.md §5's re-check rule.
func (r *Registry) Get(id uint64) (*Device, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.devices[id]
	return d, ok
}

// All returns a snapshot slice of every known device.
func (r *Registry) All() []*Device {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Device, 0, len(r.devices))
	for _, d := range r.devices {
		out = append(out, d)
	}
	return out
}

// SetSession installs a session handle on a device (called by the player
// thread only).
func (r *Registry) SetSession(id uint64, s Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if d, ok := r.devices[id]; ok {
		d.Session = s
	}
}

// SetSelected marks a device's selected flag (called by the player thread
// only).
func (r *Registry) SetSelected(id uint64, selected bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if d, ok := r.devices[id]; ok {
		d.Selected = selected
	}
}
