package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/pixelgrid-core/internal/device"
	"github.com/nerrad567/pixelgrid-core/internal/driver"
	"github.com/nerrad567/pixelgrid-core/internal/frame"
	"github.com/nerrad567/pixelgrid-core/internal/infrastructure/config"
	"github.com/nerrad567/pixelgrid-core/internal/scene"
)

// DeviceStore is the slice of the device registry the scheduler depends on.
// Satisfied by *device.Registry.
type DeviceStore interface {
	Get(ctx context.Context, id string) (*device.Record, error)
	GetOrCreate(ctx context.Context, id string) (*device.Record, error)
	Handle(id string) (*driver.Handle, bool)
	SetScene(ctx context.Context, id, activeScene string, status device.Status, generation uint64) error
	RecordRender(ctx context.Context, id string, renderedAt time.Time, pushDelta, errorDelta, frameMS int64) error
}

// Notifier receives every externally visible playback transition. The
// scheduler is the single source of scene state publications: command
// handlers and the watchdog trigger transitions but never publish them,
// so each transition is announced exactly once.
type Notifier interface {
	PublishSceneState(st SceneState)
	PublishDeviceError(deviceID, message, errContext string)
}

// MetricsSink records per-frame timing. Satisfied by the InfluxDB adapter;
// a no-op sink is used when time-series storage is disabled.
type MetricsSink interface {
	FrameRendered(deviceID, sceneName string, duration time.Duration, pixelsChanged int)
	RenderFailed(deviceID, sceneName, stage string)
}

// Logger defines the logging interface used by the Scheduler.
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

type noopNotifier struct{}

func (noopNotifier) PublishSceneState(SceneState)            {}
func (noopNotifier) PublishDeviceError(string, string, string) {}

type noopMetrics struct{}

func (noopMetrics) FrameRendered(string, string, time.Duration, int) {}
func (noopMetrics) RenderFailed(string, string, string)              {}

// Source identifies who asked for a scene switch. Manual selections open a
// grace window during which automated switches are suppressed.
type Source int

// Source constants.
const (
	SourceManual Source = iota
	SourceAutomated
)

func (s Source) String() string {
	if s == SourceManual {
		return "manual"
	}
	return "automated"
}

// SceneState is the externally visible playback state of one device.
type SceneState struct {
	DeviceID     string        `json:"deviceId"`
	CurrentScene string        `json:"currentScene"`
	TargetScene  string        `json:"targetScene,omitempty"`
	Status       device.Status `json:"status"`
	Generation   uint64        `json:"generationId"`
	Timestamp    time.Time     `json:"timestamp"`
}

// Scheduler owns every device's render loop.
//
// All per-device operations are serialised through a per-device mutex, so
// concurrent commands for one device execute one at a time while different
// devices proceed independently. Every accepted switch increments the
// device generation; render cycles capture the generation they started
// under and frames whose generation is stale by push time are discarded
// silently. A misbehaving scene or driver affects only its own device.
type Scheduler struct {
	devices DeviceStore
	scenes  *scene.Registry
	cfg     config.SchedulerConfig

	notifier Notifier
	metrics  MetricsSink
	logger   Logger

	mu     sync.Mutex
	units  map[string]*unit
	closed bool

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a scheduler. Devices and scenes are required; notifier,
// metrics and logger default to no-ops.
func New(devices DeviceStore, scenes *scene.Registry, cfg config.SchedulerConfig) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		devices:  devices,
		scenes:   scenes,
		cfg:      cfg,
		notifier: noopNotifier{},
		metrics:  noopMetrics{},
		logger:   noopLogger{},
		units:    make(map[string]*unit),
		baseCtx:  ctx,
		cancel:   cancel,
	}
}

// SetNotifier sets the playback transition notifier.
func (s *Scheduler) SetNotifier(n Notifier) {
	if n != nil {
		s.notifier = n
	}
}

// SetMetrics sets the per-frame metrics sink.
func (s *Scheduler) SetMetrics(m MetricsSink) {
	if m != nil {
		s.metrics = m
	}
}

// SetLogger sets the logger for the scheduler.
func (s *Scheduler) SetLogger(l Logger) {
	if l != nil {
		s.logger = l
	}
}

// SwitchScene activates a scene on a device.
//
// An empty sceneName resolves through the device's default scene, then the
// configured fallback. The scene is resolved before anything is mutated, so
// an unknown name leaves the device's state completely unchanged. On
// acceptance the device generation increments, any previous loop is stopped
// and cleaned up, and the new scene is initialised with a fresh state bag.
//
// Manual switches open the grace window; automated switches inside an open
// window are rejected with ErrSwitchSuppressed.
func (s *Scheduler) SwitchScene(ctx context.Context, deviceID, sceneName string, src Source) (SceneState, error) {
	if s.isClosed() {
		return SceneState{}, ErrShuttingDown
	}

	rec, err := s.devices.GetOrCreate(ctx, deviceID)
	if err != nil {
		return SceneState{}, err
	}

	name := s.resolveName(sceneName, rec)
	module, err := s.scenes.Resolve(name, rec.DriverKind)
	if err != nil {
		return stateOf(rec), err
	}

	u := s.unitFor(deviceID)
	u.mu.Lock()
	defer u.mu.Unlock()

	now := time.Now()
	if src == SourceAutomated && now.Before(u.graceUntil) {
		s.logger.Debug("automated switch suppressed",
			"device_id", deviceID, "scene", name, "grace_until", u.graceUntil)
		return stateOf(rec), ErrSwitchSuppressed
	}

	// Re-read under the device lock; a concurrent switch may have moved the
	// generation since the unlocked read above.
	rec, err = s.devices.GetOrCreate(ctx, deviceID)
	if err != nil {
		return SceneState{}, err
	}

	newGen := rec.Generation + 1
	prevScene := rec.ActiveScene

	// Persist the switching state before touching the previous activation;
	// a store failure here leaves the old scene playing, untouched.
	if err := s.devices.SetScene(ctx, deviceID, name, device.StatusSwitching, newGen); err != nil {
		return SceneState{}, err
	}
	s.notifier.PublishSceneState(SceneState{
		DeviceID:     deviceID,
		CurrentScene: prevScene,
		TargetScene:  name,
		Status:       device.StatusSwitching,
		Generation:   newGen,
		Timestamp:    time.Now().UTC(),
	})

	// From here the switch is committed: invalidate in-flight frames, stop
	// and clean up whatever was playing, then bring up the new scene.
	u.gen.Store(newGen)
	u.stopActivation(s.logger)

	a := &activation{
		deviceID: deviceID,
		module:   module,
		name:     name,
		state:    scene.NewState(),
		frame:    frame.New(rec.Width, rec.Height),
		gen:      newGen,
		resumeCh: make(chan struct{}),
		wakeCh:   make(chan struct{}, 1),
		done:     make(chan struct{}),
		log:      s.logger,
	}

	if module.Init != nil {
		if err := s.runHook(module.Init, a); err != nil {
			s.failActivation(deviceID, name, newGen, "init", err)
			return SceneState{
				DeviceID:   deviceID,
				Status:     device.StatusError,
				Generation: newGen,
				Timestamp:  time.Now().UTC(),
			}, fmt.Errorf("%w: scene %q on %s: %w", ErrSceneInit, name, deviceID, err)
		}
	}

	if err := s.devices.SetScene(ctx, deviceID, name, device.StatusRunning, newGen); err != nil {
		return SceneState{}, err
	}

	if src == SourceManual && s.cfg.ManualGraceWindow > 0 {
		u.graceUntil = now.Add(s.cfg.ManualGraceWindow)
	}

	u.active = a
	loopCtx, loopCancel := context.WithCancel(s.baseCtx)
	a.cancel = loopCancel

	// Announce running before the loop starts so a scene that finishes on
	// its first render cannot publish stopped ahead of it.
	st := SceneState{
		DeviceID:     deviceID,
		CurrentScene: name,
		Status:       device.StatusRunning,
		Generation:   newGen,
		Timestamp:    time.Now().UTC(),
	}
	s.notifier.PublishSceneState(st)

	s.wg.Add(1)
	go s.runLoop(loopCtx, u, a)
	s.logger.Info("scene switched",
		"device_id", deviceID, "scene", name, "generation", newGen, "source", src.String())
	return st, nil
}

// StopScene stops playback on a device and discards the scene's state bag.
// The last-rendered frame stays on the display; clearing it is a reset
// operation, not a stop. The generation is left unchanged; the cancelled
// loop cannot push again regardless.
func (s *Scheduler) StopScene(ctx context.Context, deviceID string) (SceneState, error) {
	u := s.unitFor(deviceID)
	u.mu.Lock()
	defer u.mu.Unlock()

	rec, err := s.devices.Get(ctx, deviceID)
	if err != nil {
		return SceneState{}, err
	}

	if u.active == nil && rec.Status != device.StatusRunning {
		return stateOf(rec), ErrNoActiveScene
	}

	u.stopActivation(s.logger)

	if err := s.devices.SetScene(ctx, deviceID, rec.ActiveScene, device.StatusStopped, rec.Generation); err != nil {
		return SceneState{}, err
	}

	st := SceneState{
		DeviceID:     deviceID,
		CurrentScene: rec.ActiveScene,
		Status:       device.StatusStopped,
		Generation:   rec.Generation,
		Timestamp:    time.Now().UTC(),
	}
	s.notifier.PublishSceneState(st)
	s.logger.Info("scene stopped", "device_id", deviceID, "scene", rec.ActiveScene)
	return st, nil
}

// PauseScene freezes a running loop at its next cycle boundary. The last
// pushed frame stays on display and the reported status remains running.
func (s *Scheduler) PauseScene(_ context.Context, deviceID string) error {
	u := s.unitFor(deviceID)
	u.mu.Lock()
	defer u.mu.Unlock()

	a := u.liveActivation()
	if a == nil {
		return ErrNoActiveScene
	}
	a.pause()
	s.logger.Debug("scene paused", "device_id", deviceID, "scene", a.name)
	return nil
}

// ResumeScene releases a paused loop.
func (s *Scheduler) ResumeScene(_ context.Context, deviceID string) error {
	u := s.unitFor(deviceID)
	u.mu.Lock()
	defer u.mu.Unlock()

	a := u.liveActivation()
	if a == nil {
		return ErrNoActiveScene
	}
	if !a.resume() {
		return ErrNotPaused
	}
	s.logger.Debug("scene resumed", "device_id", deviceID, "scene", a.name)
	return nil
}

// Redraw forces a fresh render of the current scene, used after a driver
// swap so the new hardware shows content immediately. A live loop is woken
// for an immediate cycle; a finished scene is re-rendered in place.
func (s *Scheduler) Redraw(ctx context.Context, deviceID string) error {
	u := s.unitFor(deviceID)
	u.mu.Lock()
	defer u.mu.Unlock()

	if a := u.liveActivation(); a != nil && a.module.WantsLoop {
		a.wake()
		return nil
	}

	// A finished scene still owns the display; re-render it synchronously
	// with its preserved state bag.
	if a := u.active; a != nil && u.gen.Load() == a.gen {
		return s.renderOnce(ctx, u, a)
	}

	return ErrNoActiveScene
}

// DeviceSceneState reports the current playback state of a device.
func (s *Scheduler) DeviceSceneState(ctx context.Context, deviceID string) (SceneState, error) {
	rec, err := s.devices.Get(ctx, deviceID)
	if err != nil {
		return SceneState{}, err
	}
	return stateOf(rec), nil
}

// Shutdown stops every render loop and waits for them to exit, bounded by
// the context deadline.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.cancel()

	doneCh := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(doneCh)
	}()

	select {
	case <-doneCh:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for render loops: %w", ctx.Err())
	}
}

// resolveName applies the scene fallback chain: explicit name, device
// default, configured fallback.
func (s *Scheduler) resolveName(sceneName string, rec *device.Record) string {
	if sceneName != "" {
		return sceneName
	}
	if rec.DefaultScene != "" {
		return rec.DefaultScene
	}
	return s.cfg.FallbackScene
}

// unitFor returns the per-device serialisation unit, creating it on first
// reference.
func (s *Scheduler) unitFor(deviceID string) *unit {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.units[deviceID]
	if !ok {
		u = &unit{id: deviceID}
		s.units[deviceID] = u
	}
	return u
}

func (s *Scheduler) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// failActivation records and announces a scene failure during bring-up.
func (s *Scheduler) failActivation(deviceID, sceneName string, gen uint64, stage string, cause error) {
	ctx, cancelFn := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelFn()

	if err := s.devices.SetScene(ctx, deviceID, "", device.StatusError, gen); err != nil {
		s.logger.Error("persisting error status", "device_id", deviceID, "error", err)
	}
	s.notifier.PublishSceneState(SceneState{
		DeviceID:   deviceID,
		Status:     device.StatusError,
		Generation: gen,
		Timestamp:  time.Now().UTC(),
	})
	s.notifier.PublishDeviceError(deviceID, cause.Error(), "scene "+sceneName+" "+stage)
	s.metrics.RenderFailed(deviceID, sceneName, stage)
	s.logger.Error("scene activation failed",
		"device_id", deviceID, "scene", sceneName, "stage", stage, "error", cause)
}

// stateOf maps a device record onto its externally visible scene state.
func stateOf(rec *device.Record) SceneState {
	return SceneState{
		DeviceID:     rec.ID,
		CurrentScene: rec.ActiveScene,
		Status:       rec.Status,
		Generation:   rec.Generation,
		Timestamp:    time.Now().UTC(),
	}
}
