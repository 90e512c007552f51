package scene

import (
	"time"

	"github.com/nerrad567/pixelgrid-core/internal/frame"
)

// Module is a pluggable unit of display logic.
//
// Render is the only required capability; Init and Cleanup are optional
// lifecycle hooks. Module shape is validated when the module is registered
// (see Registry.Register), never at first render.
type Module struct {
	// Name uniquely identifies the module in the scene table.
	Name string

	// Category groups modules for UI listing (e.g. "clock", "info", "ambient").
	Category string

	// WantsLoop marks an animated module. One-shot modules render a single
	// frame and return Done(); the scheduler keeps the frame on display.
	WantsLoop bool

	// DeviceTypes is an optional allow-list of device types this module
	// supports. Empty means the module runs on any device.
	DeviceTypes []string

	// Init is called once when the scene is activated on a device, with a
	// fresh state bag. Optional.
	Init func(ctx *Context) error

	// Render draws one frame into ctx.Frame and returns either the delay
	// until the next frame or a terminal result. Required.
	Render func(ctx *Context) (Result, error)

	// Cleanup is called when the scene is deactivated (switch or stop).
	// Optional.
	Cleanup func(ctx *Context) error

	// Meta is informational only; the engine never branches on it.
	Meta Meta
}

// Meta carries informational module metadata.
type Meta struct {
	Author  string
	Version string
	Tags    []string
}

// Allows reports whether the module may run on the given device type.
// An empty allow-list permits every device type.
func (m *Module) Allows(deviceType string) bool {
	if len(m.DeviceTypes) == 0 {
		return true
	}
	for _, t := range m.DeviceTypes {
		if t == deviceType {
			return true
		}
	}
	return false
}

// Result is the outcome of one render call: either "render again after a
// delay" or "terminal, stop looping". A terminal result is a normal outcome,
// not an error - the last frame stays on display.
type Result struct {
	delay    time.Duration
	terminal bool
}

// Next requests another render after the given delay. The scheduler clamps
// the delay into its configured sane range.
func Next(after time.Duration) Result {
	return Result{delay: after}
}

// Done signals a terminal result: the scene has rendered its final frame.
func Done() Result {
	return Result{terminal: true}
}

// Terminal reports whether this result ends the render loop.
func (r Result) Terminal() bool { return r.terminal }

// Delay returns the requested delay until the next render.
// Only meaningful when Terminal() is false.
func (r Result) Delay() time.Duration { return r.delay }

// Logger is the logging interface scenes receive in their render context.
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

// Context is the ephemeral value passed into each lifecycle call.
// It is rebuilt for every call and never persisted.
type Context struct {
	// DeviceID identifies the device being rendered for.
	DeviceID string

	// DeviceType is the device's type string, matched against the module's
	// allow-list at switch time.
	DeviceType string

	// Frame is the device's scratch buffer. Render draws into it; the
	// scheduler decides whether the result ever reaches hardware.
	Frame *frame.Frame

	// State is the per-(device, scene) bag. Fresh at Init, discarded at
	// Cleanup, never shared with any other scene or device.
	State *State

	// Log is scoped to the device and scene.
	Log Logger

	// Generation is the device generation this call was started under.
	// Informational: the scheduler does all gating.
	Generation uint64
}

// NewContext builds a render context. A nil logger is replaced with a no-op.
func NewContext(deviceID, deviceType string, f *frame.Frame, state *State, log Logger, generation uint64) *Context {
	if log == nil {
		log = noopLogger{}
	}
	return &Context{
		DeviceID:   deviceID,
		DeviceType: deviceType,
		Frame:      f,
		State:      state,
		Log:        log,
		Generation: generation,
	}
}
