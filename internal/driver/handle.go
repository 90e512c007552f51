package driver

import "sync"

// Handle is the stable reference the registry holds per device.
//
// The scheduler and handlers always go through the handle, so a hot swap
// replaces the implementation without perturbing anything that holds the
// handle. Swap is atomic with respect to Get: a render cycle sees either
// the old driver or the new one, never a torn state.
type Handle struct {
	mu sync.RWMutex
	d  Driver
}

// NewHandle wraps a driver in a stable handle.
func NewHandle(d Driver) *Handle {
	return &Handle{d: d}
}

// Get returns the current driver implementation.
func (h *Handle) Get() Driver {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.d
}

// Swap replaces the held implementation and returns the previous one so the
// caller can close it. Identity of the handle is preserved.
func (h *Handle) Swap(d Driver) Driver {
	h.mu.Lock()
	prev := h.d
	h.d = d
	h.mu.Unlock()
	return prev
}

// Kind returns the kind of the currently held driver.
func (h *Handle) Kind() string {
	return h.Get().Kind()
}
