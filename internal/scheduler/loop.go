package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/pixelgrid-core/internal/device"
	"github.com/nerrad567/pixelgrid-core/internal/frame"
	"github.com/nerrad567/pixelgrid-core/internal/scene"
)

// unit is the per-device serialisation point. Commands for one device take
// u.mu one at a time; the render loop itself never takes it, so a command
// can cancel and wait for a loop without deadlocking.
type unit struct {
	id string

	mu     sync.Mutex
	active *activation
	// graceUntil is the end of the manual grace window. Guarded by mu.
	graceUntil time.Time

	// gen is the device's authoritative generation, readable lock-free from
	// the render loop's push gate.
	gen atomic.Uint64
}

// liveActivation returns the current activation if its loop is still
// running, nil otherwise. Caller holds u.mu.
func (u *unit) liveActivation() *activation {
	a := u.active
	if a == nil {
		return nil
	}
	select {
	case <-a.done:
		return nil
	default:
		return a
	}
}

// stopActivation cancels the current loop, waits for it to exit and runs
// the scene's Cleanup hook. Caller holds u.mu.
func (u *unit) stopActivation(log Logger) {
	a := u.active
	if a == nil {
		return
	}
	u.active = nil

	if a.cancel != nil {
		a.cancel()
	}
	<-a.done

	if a.module.Cleanup != nil {
		if err := a.module.Cleanup(a.sceneContext()); err != nil {
			log.Warn("scene cleanup failed",
				"device_id", u.id, "scene", a.name, "error", err)
		}
	}
}

// activation is one (device, scene) run: the module, its private state bag,
// the device's scratch frame and the generation it was started under.
type activation struct {
	deviceID string
	module   *scene.Module
	name     string
	state    *scene.State
	frame    *frame.Frame
	gen      uint64

	cancel context.CancelFunc
	done   chan struct{}

	pauseMu  sync.Mutex
	paused   bool
	resumeCh chan struct{}

	wakeCh chan struct{}

	log scene.Logger
}

func (a *activation) sceneContext() *scene.Context {
	return scene.NewContext(a.deviceID, a.module.Category, a.frame, a.state, a.log, a.gen)
}

// pause freezes the loop at its next cycle boundary.
func (a *activation) pause() {
	a.pauseMu.Lock()
	a.paused = true
	a.pauseMu.Unlock()
}

// resume releases a paused loop. Returns false if the loop was not paused.
func (a *activation) resume() bool {
	a.pauseMu.Lock()
	defer a.pauseMu.Unlock()
	if !a.paused {
		return false
	}
	a.paused = false
	close(a.resumeCh)
	a.resumeCh = make(chan struct{})
	return true
}

// waitIfPaused blocks while the activation is paused.
func (a *activation) waitIfPaused(ctx context.Context) {
	for {
		a.pauseMu.Lock()
		if !a.paused {
			a.pauseMu.Unlock()
			return
		}
		ch := a.resumeCh
		a.pauseMu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return
		}
	}
}

// wake requests an immediate render cycle. Non-blocking; a pending wake is
// enough.
func (a *activation) wake() {
	select {
	case a.wakeCh <- struct{}{}:
	default:
	}
}

// runLoop is the per-device render loop. Exactly one loop runs per device
// at a time; a scene switch cancels the old loop and waits for it before
// starting the new one.
//
// Each cycle: render under the configured timeout, re-check the generation,
// push, record metrics, then sleep for the clamped delay. A stale
// generation at push time means a newer switch owns the device; the frame
// is discarded without error.
func (s *Scheduler) runLoop(ctx context.Context, u *unit, a *activation) {
	defer s.wg.Done()
	defer close(a.done)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		a.waitIfPaused(ctx)
		if ctx.Err() != nil {
			return
		}

		res, dur, pushed, changed, err := s.renderCycle(ctx, u, a)
		if err != nil {
			s.loopFailed(u, a, err)
			return
		}
		if ctx.Err() != nil {
			return
		}

		if pushed {
			s.metrics.FrameRendered(a.deviceID, a.name, dur, changed)
			s.recordRender(a.deviceID, dur)
		}

		if res.Terminal() || !a.module.WantsLoop {
			s.sceneFinished(u, a)
			return
		}

		delay := s.clampDelay(res.Delay())
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-a.wakeCh:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// renderCycle runs one render-gate-push cycle. The boolean reports whether
// a frame actually reached the driver; a stale generation returns
// (res, dur, false, 0, nil).
func (s *Scheduler) renderCycle(ctx context.Context, u *unit, a *activation) (scene.Result, time.Duration, bool, int, error) {
	start := time.Now()

	res, err := s.runRender(ctx, a)
	dur := time.Since(start)
	if err != nil {
		return scene.Result{}, dur, false, 0, fmt.Errorf("render: %w", err)
	}
	if ctx.Err() != nil {
		return res, dur, false, 0, nil
	}

	// Generation gate: a switch that happened mid-render owns the device
	// now. The frame is discarded, never an error.
	if u.gen.Load() != a.gen {
		s.logger.Debug("stale frame discarded",
			"device_id", a.deviceID, "scene", a.name, "generation", a.gen)
		return res, dur, false, 0, nil
	}

	h, ok := s.devices.Handle(a.deviceID)
	if !ok {
		return res, dur, false, 0, fmt.Errorf("push: no driver handle for %s", a.deviceID)
	}

	changed, err := h.Get().Push(ctx, a.frame)
	if err != nil {
		if ctx.Err() != nil {
			return res, dur, false, 0, nil
		}
		return res, dur, false, 0, fmt.Errorf("push: %w", err)
	}

	return res, time.Since(start), true, changed, nil
}

// runRender invokes the scene's render function under the configured
// timeout. The timeout context is advisory for well-behaved scenes; a
// scene that ignores it still cannot block other devices.
func (s *Scheduler) runRender(ctx context.Context, a *activation) (scene.Result, error) {
	if s.cfg.RenderTimeout <= 0 {
		return a.module.Render(a.sceneContext())
	}

	rctx, cancelFn := context.WithTimeout(ctx, s.cfg.RenderTimeout)
	defer cancelFn()

	type outcome struct {
		res scene.Result
		err error
	}
	ch := make(chan outcome, 1)
	go func() {
		res, err := a.module.Render(a.sceneContext())
		ch <- outcome{res, err}
	}()

	select {
	case out := <-ch:
		return out.res, out.err
	case <-rctx.Done():
		if ctx.Err() != nil {
			return scene.Result{}, nil
		}
		return scene.Result{}, fmt.Errorf("timed out after %v", s.cfg.RenderTimeout)
	}
}

// renderOnce performs a single synchronous render-gate-push, used by Redraw
// for finished scenes whose loop has exited. Caller holds u.mu.
func (s *Scheduler) renderOnce(ctx context.Context, u *unit, a *activation) error {
	_, err := s.runRender(ctx, a)
	if err != nil {
		return fmt.Errorf("render: %w", err)
	}
	if u.gen.Load() != a.gen {
		return nil
	}

	h, ok := s.devices.Handle(a.deviceID)
	if !ok {
		return fmt.Errorf("no driver handle for %s", a.deviceID)
	}
	if _, err := h.Get().Push(ctx, a.frame); err != nil {
		return fmt.Errorf("push: %w", err)
	}
	return nil
}

// runHook executes an Init lifecycle hook under the render timeout.
func (s *Scheduler) runHook(hook func(*scene.Context) error, a *activation) error {
	if s.cfg.RenderTimeout <= 0 {
		return hook(a.sceneContext())
	}

	ch := make(chan error, 1)
	go func() { ch <- hook(a.sceneContext()) }()

	select {
	case err := <-ch:
		return err
	case <-time.After(s.cfg.RenderTimeout):
		return fmt.Errorf("timed out after %v", s.cfg.RenderTimeout)
	}
}

// loopFailed handles a render or push failure: the device enters error
// status, the failure is announced, and the loop exits. Other devices are
// unaffected.
func (s *Scheduler) loopFailed(u *unit, a *activation, cause error) {
	ctx, cancelFn := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelFn()

	// Only the owning generation may move the device to error; if a newer
	// switch took over mid-failure, its state stands.
	if u.gen.Load() != a.gen {
		return
	}

	if err := s.devices.SetScene(ctx, a.deviceID, "", device.StatusError, a.gen); err != nil {
		s.logger.Error("persisting error status", "device_id", a.deviceID, "error", err)
	}
	s.devices.RecordRender(ctx, a.deviceID, time.Now(), 0, 1, 0) //nolint:errcheck // metrics write, device already in error state

	s.notifier.PublishSceneState(SceneState{
		DeviceID:   a.deviceID,
		Status:     device.StatusError,
		Generation: a.gen,
		Timestamp:  time.Now().UTC(),
	})
	s.notifier.PublishDeviceError(a.deviceID, cause.Error(), "scene "+a.name)
	s.metrics.RenderFailed(a.deviceID, a.name, failureStage(cause))
	s.logger.Error("render loop failed",
		"device_id", a.deviceID, "scene", a.name, "error", cause)
}

// sceneFinished handles a terminal render result: the loop exits, the last
// frame stays on display and the device moves to stopped with its scene
// still recorded. The activation is retained so a redraw after a driver
// swap can repaint the frame.
func (s *Scheduler) sceneFinished(u *unit, a *activation) {
	ctx, cancelFn := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelFn()

	if u.gen.Load() != a.gen {
		return
	}

	if err := s.devices.SetScene(ctx, a.deviceID, a.name, device.StatusStopped, a.gen); err != nil {
		s.logger.Error("persisting stopped status", "device_id", a.deviceID, "error", err)
	}
	s.notifier.PublishSceneState(SceneState{
		DeviceID:     a.deviceID,
		CurrentScene: a.name,
		Status:       device.StatusStopped,
		Generation:   a.gen,
		Timestamp:    time.Now().UTC(),
	})
	s.logger.Info("scene finished", "device_id", a.deviceID, "scene", a.name)
}

// recordRender persists frame metrics, best-effort.
func (s *Scheduler) recordRender(deviceID string, dur time.Duration) {
	ctx, cancelFn := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelFn()

	if err := s.devices.RecordRender(ctx, deviceID, time.Now(), 1, 0, dur.Milliseconds()); err != nil {
		s.logger.Warn("recording render metrics", "device_id", deviceID, "error", err)
	}
}

// clampDelay bounds a scene-requested delay into the configured range.
func (s *Scheduler) clampDelay(d time.Duration) time.Duration {
	if d < s.cfg.MinFrameDelay {
		return s.cfg.MinFrameDelay
	}
	if d > s.cfg.MaxFrameDelay {
		return s.cfg.MaxFrameDelay
	}
	return d
}

// failureStage extracts a coarse stage label from a loop failure for
// metrics tagging.
func failureStage(err error) string {
	if err == nil {
		return "unknown"
	}
	msg := err.Error()
	if len(msg) >= 5 && msg[:5] == "push:" {
		return "push"
	}
	return "render"
}
