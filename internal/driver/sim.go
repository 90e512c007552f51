package driver

import (
	"context"
	"fmt"
	"sync"

	"github.com/nerrad567/pixelgrid-core/internal/frame"
)

// KindSim is the driver kind for the in-memory simulator.
const KindSim = "sim"

// Sim is an in-memory display simulator. It retains the last pushed frame,
// counts pushes and clears, and honours both optional capabilities, which
// makes it the standard stand-in for real hardware in tests and for
// previewing a device from the admin UI.
type Sim struct {
	deviceID string

	mu         sync.Mutex
	last       *frame.Frame
	pushes     int
	clears     int
	brightness int
	powered    bool
	closed     bool
}

// NewSim constructs a simulator driver.
func NewSim(cfg Config) (Driver, error) {
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("%w: sim requires a canvas size", ErrInvalidConfig)
	}
	return &Sim{
		deviceID:   cfg.DeviceID,
		brightness: 100,
		powered:    true,
	}, nil
}

// Kind returns "sim".
func (*Sim) Kind() string { return KindSim }

// Initialize resets the simulated display state.
func (s *Sim) Initialize(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.last = nil
	return nil
}

// Push stores a copy of the frame and returns the changed-pixel count
// relative to the previously pushed frame.
func (s *Sim) Push(_ context.Context, f *frame.Frame) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}

	changed := f.DiffCount(s.last)
	s.last = f.Clone()
	s.pushes++
	return changed, nil
}

// Clear blanks the simulated display.
func (s *Sim) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.last = nil
	s.clears++
	return nil
}

// Capabilities reports both optional capabilities.
func (*Sim) Capabilities() Capabilities {
	return Capabilities{Brightness: true, Power: true}
}

// SetBrightness records the requested level.
func (s *Sim) SetBrightness(_ context.Context, level int) bool {
	if level < 0 {
		level = 0
	}
	if level > 100 {
		level = 100
	}
	s.mu.Lock()
	s.brightness = level
	s.mu.Unlock()
	return true
}

// SetPower records the requested power state.
func (s *Sim) SetPower(_ context.Context, on bool) bool {
	s.mu.Lock()
	s.powered = on
	s.mu.Unlock()
	return true
}

// Close marks the simulator closed; further operations fail with ErrClosed.
func (s *Sim) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// LastFrame returns a copy of the most recently pushed frame, or nil if the
// display is blank. Test/inspection helper.
func (s *Sim) LastFrame() *frame.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return nil
	}
	return s.last.Clone()
}

// PushCount returns the number of successful pushes.
func (s *Sim) PushCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pushes
}

// ClearCount returns the number of clears.
func (s *Sim) ClearCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clears
}

// Brightness returns the last requested brightness level.
func (s *Sim) Brightness() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.brightness
}

// Powered returns the last requested power state.
func (s *Sim) Powered() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.powered
}
