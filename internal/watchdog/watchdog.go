package watchdog

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/nerrad567/pixelgrid-core/internal/device"
	"github.com/nerrad567/pixelgrid-core/internal/infrastructure/config"
	"github.com/nerrad567/pixelgrid-core/internal/scene"
	"github.com/nerrad567/pixelgrid-core/internal/scheduler"
)

// DeviceLister is the slice of the device registry the watchdog reads.
// Satisfied by *device.Registry.
type DeviceLister interface {
	List(ctx context.Context) ([]device.Record, error)
}

// SceneSwitcher submits recovery switches. Satisfied by *scheduler.Scheduler.
type SceneSwitcher interface {
	SwitchScene(ctx context.Context, deviceID, sceneName string, src scheduler.Source) (scheduler.SceneState, error)
}

// SceneTable resolves scene names so the sweep can tell animated scenes from
// one-shot scenes. Satisfied by *scene.Registry.
type SceneTable interface {
	Get(name string) (*scene.Module, error)
}

// Logger defines the logging interface used by the Watchdog.
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

// sweepTimeout bounds one full sweep including any recovery switches.
const sweepTimeout = 30 * time.Second

// Watchdog periodically checks every device and forces unhealthy ones back
// to a known-good scene.
//
// Two conditions mark a device unhealthy:
//
//   - status is "error": its render loop died and published an error state
//
//   - status is "running" with an animated scene, but the last render is
//     older than the staleness threshold
//
// One-shot scenes render a single frame and legitimately stay silent, so
// staleness only applies to scenes that want a render loop.
//
// Recovery goes through the scheduler as an automated switch with an empty
// scene name, resolving through the device default and configured fallback.
// The scheduler's manual grace window applies: a device someone just
// switched by hand is left alone.
type Watchdog struct {
	cfg     config.WatchdogConfig
	devices DeviceLister
	sched   SceneSwitcher
	scenes  SceneTable
	logger  Logger

	cancel context.CancelFunc
	done   chan struct{}

	mu        sync.Mutex
	sweeps    int64
	recovered int64
}

// New creates a watchdog. It does not start sweeping until Start is called.
func New(cfg config.WatchdogConfig, devices DeviceLister, sched SceneSwitcher, scenes SceneTable) *Watchdog {
	return &Watchdog{
		cfg:     cfg,
		devices: devices,
		sched:   sched,
		scenes:  scenes,
		logger:  noopLogger{},
	}
}

// SetLogger sets the logger for the watchdog.
func (w *Watchdog) SetLogger(l Logger) {
	if l != nil {
		w.logger = l
	}
}

// Start launches the sweep loop in a background goroutine.
// A disabled watchdog starts nothing and Close is still safe to call.
func (w *Watchdog) Start(ctx context.Context) {
	if !w.cfg.Enabled {
		w.logger.Info("watchdog disabled")
		return
	}

	var loopCtx context.Context
	loopCtx, w.cancel = context.WithCancel(ctx)
	w.done = make(chan struct{})

	go w.run(loopCtx)
	w.logger.Info("watchdog started",
		"interval", w.cfg.Interval, "stale_after", w.cfg.StaleAfter)
}

// Close stops the sweep loop and waits for an in-flight sweep to finish.
func (w *Watchdog) Close() {
	if w.cancel == nil {
		return
	}
	w.cancel()
	<-w.done
}

// Stats returns the total sweep and recovery counts.
func (w *Watchdog) Stats() (sweeps, recovered int64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.sweeps, w.recovered
}

func (w *Watchdog) run(ctx context.Context) {
	defer close(w.done)

	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sweepCtx, cancel := context.WithTimeout(ctx, sweepTimeout)
			w.sweep(sweepCtx)
			cancel()
		}
	}
}

// sweep checks every device once and recovers the unhealthy ones.
func (w *Watchdog) sweep(ctx context.Context) {
	w.mu.Lock()
	w.sweeps++
	w.mu.Unlock()

	records, err := w.devices.List(ctx)
	if err != nil {
		w.logger.Error("watchdog listing devices", "error", err)
		return
	}

	for i := range records {
		rec := &records[i]
		reason, unhealthy := w.diagnose(rec)
		if !unhealthy {
			continue
		}
		w.recover(ctx, rec, reason)
	}
}

// diagnose reports whether a device needs recovery and why.
func (w *Watchdog) diagnose(rec *device.Record) (string, bool) {
	if rec.Status == device.StatusError {
		return "error status", true
	}

	if rec.Status != device.StatusRunning || rec.ActiveScene == "" {
		return "", false
	}

	m, err := w.scenes.Get(rec.ActiveScene)
	if err != nil || !m.WantsLoop {
		// Unknown or one-shot scene: no frame cadence to judge.
		return "", false
	}

	if rec.LastRenderAt == nil {
		return "running with no recorded render", true
	}
	if age := time.Since(*rec.LastRenderAt); age > w.cfg.StaleAfter {
		return "stale render loop", true
	}
	return "", false
}

func (w *Watchdog) recover(ctx context.Context, rec *device.Record, reason string) {
	w.logger.Warn("watchdog recovering device",
		"device_id", rec.ID, "status", rec.Status, "scene", rec.ActiveScene, "reason", reason)

	_, err := w.sched.SwitchScene(ctx, rec.ID, "", scheduler.SourceAutomated)
	switch {
	case err == nil:
		w.mu.Lock()
		w.recovered++
		w.mu.Unlock()
	case errors.Is(err, scheduler.ErrSwitchSuppressed):
		w.logger.Debug("recovery suppressed by manual grace window", "device_id", rec.ID)
	case errors.Is(err, scheduler.ErrShuttingDown):
		// Shutdown race; the next sweep never happens.
	default:
		w.logger.Error("watchdog recovery failed", "device_id", rec.ID, "error", err)
	}
}
