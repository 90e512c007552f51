package driver

import (
	"context"

	"github.com/nerrad567/pixelgrid-core/internal/frame"
)

// Capabilities describes the optional operations a driver supports.
// Handlers probe these defensively; calling an unsupported operation is
// always a silent, false-returning no-op, never an error.
type Capabilities struct {
	Brightness bool
	Power      bool
}

// Driver translates abstract push/clear/capability calls into a
// device-specific protocol. Implementations are swappable at runtime behind
// a Handle without the scheduler noticing.
//
// All methods must be safe for sequential use from the device's render loop
// plus occasional calls from command handlers; implementations that keep
// internal state guard it themselves.
type Driver interface {
	// Kind returns the driver-kind string this driver was constructed under.
	Kind() string

	// Initialize prepares the device connection. Called once after
	// construction and again after a swap, before the first push.
	Initialize(ctx context.Context) error

	// Push sends a frame to the device and returns the changed-pixel count
	// (or the full pixel count when the protocol cannot report deltas).
	Push(ctx context.Context, f *frame.Frame) (int, error)

	// Clear blanks the device's display buffer.
	Clear(ctx context.Context) error

	// Capabilities reports which optional operations this driver supports.
	Capabilities() Capabilities

	// SetBrightness adjusts display brightness (0-100). Returns false as a
	// silent no-op when the capability is unsupported.
	SetBrightness(ctx context.Context, level int) bool

	// SetPower switches the display on or off. Returns false as a silent
	// no-op when the capability is unsupported.
	SetPower(ctx context.Context, on bool) bool

	// Close releases the device connection. The driver must not be used
	// after Close.
	Close() error
}

// Publisher is the narrow message-bus contract the MQTT frame driver needs.
// Satisfied by infrastructure/mqtt.Client.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// Logger defines the logging interface used by drivers.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}
