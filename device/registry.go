package device

import (
	"fmt"
	"sync"

	"github.com/tebeka/atexit"

	"github.com/sarchlab/pmbd/config"
)

// Registry owns every Device activated within one process, keyed by
// the caller-chosen name. A single process activating several
// independent devices — one per emulated PM namespace — is a real
// usage pattern the original driver supported via multiple module
// instances; Registry gives that the same first-class support here.
type Registry struct {
	mu      sync.Mutex
	devices map[string]*Device
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{devices: make(map[string]*Device)}
}

// Activate builds a Device named name and registers it. It also
// registers a github.com/tebeka/atexit hook that flushes and closes the
// device. The hook runs only when the process exits through
// atexit.Exit or atexit.Fatal; a plain os.Exit or a return from main
// does not run it, and nothing in this package calls atexit.Exit.
func (r *Registry) Activate(name string, cfg config.Config) (*Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.devices[name]; exists {
		return nil, fmt.Errorf("pmbd: device %q already activated", name)
	}

	d, err := Activate(name, cfg)
	if err != nil {
		return nil, err
	}

	r.devices[name] = d
	atexit.Register(func() {
		_ = d.Flush()
		_ = d.Close()
	})

	return d, nil
}

// Get returns the named device, or nil if none is activated under
// that name.
func (r *Registry) Get(name string) *Device {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.devices[name]
}

// Names returns every currently activated device name.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.devices))
	for n := range r.devices {
		names = append(names, n)
	}
	return names
}

// Deactivate flushes, closes, and forgets the named device.
func (r *Registry) Deactivate(name string) error {
	r.mu.Lock()
	d, ok := r.devices[name]
	if ok {
		delete(r.devices, name)
	}
	r.mu.Unlock()

	if !ok {
		return fmt.Errorf("pmbd: device %q is not activated", name)
	}
	if err := d.Flush(); err != nil {
		return err
	}
	return d.Close()
}
