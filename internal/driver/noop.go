package driver

import (
	"context"

	"github.com/nerrad567/pixelgrid-core/internal/frame"
)

// KindNoop is the driver kind for the discard driver.
const KindNoop = "noop"

// Noop discards every operation. It is the default driver for devices
// created on first reference, so a command for a never-configured device
// exercises the full scheduling path without touching hardware.
type Noop struct{}

// NewNoop constructs a noop driver. The config is ignored.
func NewNoop(_ Config) (Driver, error) {
	return &Noop{}, nil
}

// Kind returns "noop".
func (*Noop) Kind() string { return KindNoop }

// Initialize does nothing.
func (*Noop) Initialize(_ context.Context) error { return nil }

// Push discards the frame and reports zero changed pixels.
func (*Noop) Push(_ context.Context, _ *frame.Frame) (int, error) { return 0, nil }

// Clear does nothing.
func (*Noop) Clear(_ context.Context) error { return nil }

// Capabilities reports no optional capabilities.
func (*Noop) Capabilities() Capabilities { return Capabilities{} }

// SetBrightness is an unsupported no-op.
func (*Noop) SetBrightness(_ context.Context, _ int) bool { return false }

// SetPower is an unsupported no-op.
func (*Noop) SetPower(_ context.Context, _ bool) bool { return false }

// Close does nothing.
func (*Noop) Close() error { return nil }
