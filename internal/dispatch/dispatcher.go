package dispatch

import (
	"context"
	"fmt"

	"github.com/nerrad567/pixelgrid-core/internal/device"
	"github.com/nerrad567/pixelgrid-core/internal/driver"
	"github.com/nerrad567/pixelgrid-core/internal/scheduler"
)

// SceneScheduler is the slice of the scheduler the dispatcher depends on.
// Satisfied by *scheduler.Scheduler.
type SceneScheduler interface {
	SwitchScene(ctx context.Context, deviceID, sceneName string, src scheduler.Source) (scheduler.SceneState, error)
	StopScene(ctx context.Context, deviceID string) (scheduler.SceneState, error)
	PauseScene(ctx context.Context, deviceID string) error
	ResumeScene(ctx context.Context, deviceID string) error
	Redraw(ctx context.Context, deviceID string) error
	DeviceSceneState(ctx context.Context, deviceID string) (scheduler.SceneState, error)
}

// DeviceManager is the slice of the device registry the dispatcher depends
// on. Satisfied by *device.Registry.
type DeviceManager interface {
	GetOrCreate(ctx context.Context, id string) (*device.Record, error)
	Handle(id string) (*driver.Handle, bool)
	SetDriver(ctx context.Context, id, kind, address string) error
	SetDefaultScene(ctx context.Context, id, scene string) error
	ResetMetrics(ctx context.Context, id string) error
}

// SceneTable answers scene-name existence checks for validation.
// Satisfied by *scene.Registry.
type SceneTable interface {
	Has(name string) bool
}

// Notifier publishes command confirmations and structured errors.
// Satisfied by the same fanout publisher the scheduler uses.
type Notifier interface {
	PublishSceneState(st scheduler.SceneState)
	PublishDeviceError(deviceID, message, errContext string)
}

// Logger defines the logging interface used by the Dispatcher.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Dispatcher routes command envelopes to the section handlers.
//
// Cross-cutting contract, uniform for all four sections:
//
//   - Required fields are validated first; malformed input is rejected with
//     ErrValidation before any scheduler or registry call.
//
//   - No panic or internal error escapes to the transport boundary. Panics
//     are recovered, logged with context and converted to a structured
//     error publication.
//
//   - Every command yields exactly one terminal status publication. Scene
//     transitions are announced by the scheduler; commands that cause no
//     transition (pause, resume, setDefault, reset) are confirmed here with
//     a scene-state publication, and failures are published as structured
//     errors. The single intentional silent outcome is dropping a stale
//     animation-frame continuation.
type Dispatcher struct {
	sched    SceneScheduler
	devices  DeviceManager
	scenes   SceneTable
	notifier Notifier
	logger   Logger
}

// NewDispatcher creates a command dispatcher.
func NewDispatcher(sched SceneScheduler, devices DeviceManager, scenes SceneTable, notifier Notifier) *Dispatcher {
	return &Dispatcher{
		sched:    sched,
		devices:  devices,
		scenes:   scenes,
		notifier: notifier,
		logger:   noopLogger{},
	}
}

// SetLogger sets the logger for the dispatcher.
func (d *Dispatcher) SetLogger(l Logger) {
	if l != nil {
		d.logger = l
	}
}

// Dispatch routes one command envelope. The returned error mirrors what was
// published so programmatic callers (HTTP API) can map it to a response;
// bus callers can ignore it.
func (d *Dispatcher) Dispatch(ctx context.Context, env CommandEnvelope) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("dispatch: handler panic: %v", r)
			d.logger.Error("handler panic recovered",
				"device_id", env.DeviceID, "section", env.Section, "action", env.Action,
				"command_id", env.CommandID, "panic", r)
			d.notifier.PublishDeviceError(env.DeviceID, fmt.Sprintf("internal error: %v", r),
				commandContext(env))
		}
	}()

	if err := env.Validate(); err != nil {
		d.reject(env, err)
		return err
	}

	switch env.Section {
	case "state":
		err = d.handleState(ctx, env)
	case "scene":
		err = d.handleScene(ctx, env)
	case "driver":
		err = d.handleDriver(ctx, env)
	case "reset":
		err = d.handleReset(ctx, env)
	default:
		err = fmt.Errorf("%w: %q", ErrUnknownSection, env.Section)
		d.reject(env, err)
		return err
	}

	if err != nil {
		d.logger.Warn("command failed",
			"device_id", env.DeviceID, "section", env.Section, "action", env.Action,
			"command_id", env.CommandID, "error", err)
	}
	return err
}

// reject logs and publishes a validation failure.
func (d *Dispatcher) reject(env CommandEnvelope, cause error) {
	d.logger.Warn("command rejected",
		"device_id", env.DeviceID, "section", env.Section, "action", env.Action,
		"command_id", env.CommandID, "error", cause)
	if env.DeviceID != "" {
		d.notifier.PublishDeviceError(env.DeviceID, cause.Error(), commandContext(env))
	}
}

// fail publishes a structured error for a command that passed validation
// but failed in the scheduler or registry, and returns the cause.
func (d *Dispatcher) fail(env CommandEnvelope, cause error) error {
	d.notifier.PublishDeviceError(env.DeviceID, cause.Error(), commandContext(env))
	return cause
}

// confirm publishes the device's current scene state as the terminal
// publication for a command that caused no scheduler transition.
func (d *Dispatcher) confirm(ctx context.Context, env CommandEnvelope) {
	st, err := d.sched.DeviceSceneState(ctx, env.DeviceID)
	if err != nil {
		d.logger.Warn("reading state for confirmation",
			"device_id", env.DeviceID, "command_id", env.CommandID, "error", err)
		return
	}
	d.notifier.PublishSceneState(st)
}

func commandContext(env CommandEnvelope) string {
	return fmt.Sprintf("command %s/%s id=%s", env.Section, env.Action, env.CommandID)
}
