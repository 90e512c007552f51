package scene

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// maxNameLength bounds scene names; they appear in MQTT topics and log lines.
const maxNameLength = 64

// Registry is the scene table: every renderable module, keyed by name.
//
// Modules are registered at startup (built-ins plus any deployment-specific
// additions) and looked up on every scene switch. Registration validates the
// module shape immediately so a malformed module is rejected at load time,
// never at first render.
//
// All public methods are thread-safe.
type Registry struct {
	mu      sync.RWMutex
	modules map[string]*Module
}

// NewRegistry creates an empty scene registry.
func NewRegistry() *Registry {
	return &Registry{modules: make(map[string]*Module)}
}

// Register validates and adds a module to the table.
//
// Returns ErrInvalidModule when the shape is wrong (empty or oversized name,
// slashes or wildcards in the name, nil Render), or ErrExists when the name
// is already taken.
func (r *Registry) Register(m *Module) error {
	if err := validateModule(m); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.modules[m.Name]; ok {
		return fmt.Errorf("%w: %q", ErrExists, m.Name)
	}
	r.modules[m.Name] = m
	return nil
}

// Get resolves a scene name. Returns ErrNotFound for unknown names.
func (r *Registry) Get(name string) (*Module, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, ok := r.modules[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	return m, nil
}

// Resolve is Get plus the device-type allow-list check.
// Returns ErrDeviceNotAllowed when the module excludes the device type.
func (r *Registry) Resolve(name, deviceType string) (*Module, error) {
	m, err := r.Get(name)
	if err != nil {
		return nil, err
	}
	if !m.Allows(deviceType) {
		return nil, fmt.Errorf("%w: scene %q, device type %q", ErrDeviceNotAllowed, name, deviceType)
	}
	return m, nil
}

// Has reports whether a scene name exists.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.modules[name]
	return ok
}

// List returns all registered modules sorted by name.
func (r *Registry) List() []*Module {
	r.mu.RLock()
	defer r.mu.RUnlock()

	modules := make([]*Module, 0, len(r.modules))
	for _, m := range r.modules {
		modules = append(modules, m)
	}
	sort.Slice(modules, func(i, j int) bool {
		return modules[i].Name < modules[j].Name
	})
	return modules
}

// Count returns the number of registered modules.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.modules)
}

// validateModule checks a module's shape at registration time.
func validateModule(m *Module) error {
	if m == nil {
		return fmt.Errorf("%w: nil module", ErrInvalidModule)
	}
	if m.Name == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidModule)
	}
	if len(m.Name) > maxNameLength {
		return fmt.Errorf("%w: name %q exceeds %d characters", ErrInvalidModule, m.Name, maxNameLength)
	}
	// Scene names end up as MQTT topic segments and JSON fields.
	if strings.ContainsAny(m.Name, "/+#") || strings.ContainsAny(m.Name, " \t\n") {
		return fmt.Errorf("%w: name %q contains reserved characters", ErrInvalidModule, m.Name)
	}
	if m.Render == nil {
		return fmt.Errorf("%w: %q has no render function", ErrInvalidModule, m.Name)
	}
	return nil
}
