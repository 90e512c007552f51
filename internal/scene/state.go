package scene

import "sync"

// State is the per-(device, scene) key/value bag.
//
// A fresh bag is created when a scene is activated on a device and discarded
// when the scene is switched away or stopped. Bags are never shared across
// scenes or devices, so nothing a scene stores here can leak.
//
// All methods are safe for concurrent use; scenes may hand the bag to
// helper goroutines of their own.
type State struct {
	mu     sync.RWMutex
	values map[string]any
}

// NewState creates an empty state bag.
func NewState() *State {
	return &State{values: make(map[string]any)}
}

// Set stores a value under key.
func (s *State) Set(key string, value any) {
	s.mu.Lock()
	s.values[key] = value
	s.mu.Unlock()
}

// Get retrieves the value for key. The second return is false when absent.
func (s *State) Get(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok
}

// GetInt retrieves an int value, returning fallback when absent or not an int.
func (s *State) GetInt(key string, fallback int) int {
	if v, ok := s.Get(key); ok {
		if i, ok := v.(int); ok {
			return i
		}
	}
	return fallback
}

// GetString retrieves a string value, returning fallback when absent or not
// a string.
func (s *State) GetString(key string, fallback string) string {
	if v, ok := s.Get(key); ok {
		if str, ok := v.(string); ok {
			return str
		}
	}
	return fallback
}

// Delete removes a key. Deleting an absent key is a no-op.
func (s *State) Delete(key string) {
	s.mu.Lock()
	delete(s.values, key)
	s.mu.Unlock()
}

// Len returns the number of stored keys.
func (s *State) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.values)
}
