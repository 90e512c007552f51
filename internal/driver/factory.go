package driver

import (
	"fmt"
	"sort"
	"sync"
)

// Config is the device-side information a constructor receives.
// Address interpretation is driver-specific (URL for HTTP drivers, topic
// segment for bus drivers, ignored by noop/sim).
type Config struct {
	DeviceID string
	Address  string
	Width    int
	Height   int

	// Brightness/Power declare which optional capabilities the physical
	// device offers; drivers expose at most what the device supports.
	Brightness bool
	Power      bool

	// Logger for driver diagnostics. Optional.
	Logger Logger
}

// Constructor builds a driver instance for one device.
type Constructor func(cfg Config) (Driver, error)

// Factory is the constructor registry keyed by driver-kind string.
//
// Kinds are registered at startup (built-ins plus deployment-specific
// drivers); New is called on device creation and on every hot swap.
//
// All public methods are thread-safe.
type Factory struct {
	mu    sync.RWMutex
	ctors map[string]Constructor
}

// NewFactory creates an empty driver factory.
func NewFactory() *Factory {
	return &Factory{ctors: make(map[string]Constructor)}
}

// Register adds a constructor under a kind string.
func (f *Factory) Register(kind string, ctor Constructor) error {
	if kind == "" || ctor == nil {
		return fmt.Errorf("%w: kind and constructor are required", ErrInvalidConfig)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.ctors[kind]; ok {
		return fmt.Errorf("%w: %q", ErrKindExists, kind)
	}
	f.ctors[kind] = ctor
	return nil
}

// New constructs a driver of the given kind.
// Returns ErrUnknownKind without side effects for unregistered kinds, so a
// failed swap never disturbs the device's previous driver.
func (f *Factory) New(kind string, cfg Config) (Driver, error) {
	f.mu.RLock()
	ctor, ok := f.ctors[kind]
	f.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	if cfg.Logger == nil {
		cfg.Logger = noopLogger{}
	}

	d, err := ctor(cfg)
	if err != nil {
		return nil, fmt.Errorf("constructing %q driver: %w", kind, err)
	}
	return d, nil
}

// Has reports whether a kind is registered.
func (f *Factory) Has(kind string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	_, ok := f.ctors[kind]
	return ok
}

// Kinds returns all registered kind strings, sorted.
func (f *Factory) Kinds() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()

	kinds := make([]string, 0, len(f.ctors))
	for k := range f.ctors {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// RegisterBuiltins adds the always-available driver kinds (noop, sim).
// Protocol drivers (httpmatrix, mqttmatrix) are registered by the caller
// because they need runtime collaborators.
func (f *Factory) RegisterBuiltins() error {
	if err := f.Register(KindNoop, NewNoop); err != nil {
		return err
	}
	return f.Register(KindSim, NewSim)
}
