package dispatch

import (
	"context"
	"errors"
	"fmt"

	"github.com/nerrad567/pixelgrid-core/internal/scheduler"
)

// handleState processes state/update: either a genuine content update or an
// internally produced animation-frame continuation.
//
// Continuations are the high-frequency path: one arrives per rendered frame
// of an externally driven animation, and after a scene switch a tail of
// them still carries the old {scene, generation}. Those are dropped before
// any scheduler call - intentionally silent, the one exception to the
// one-publication rule.
func (d *Dispatcher) handleState(ctx context.Context, env CommandEnvelope) error {
	if env.Action != "update" {
		err := fmt.Errorf("%w: state/%s", ErrUnknownAction, env.Action)
		d.reject(env, err)
		return err
	}

	var p statePayload
	if err := decodePayload(env.Payload, &p); err != nil {
		d.reject(env, err)
		return err
	}

	if p.IsAnimationFrame {
		st, err := d.sched.DeviceSceneState(ctx, env.DeviceID)
		if err != nil || st.CurrentScene != p.Scene || st.Generation != p.GenerationID {
			d.logger.Debug("stale animation frame dropped",
				"device_id", env.DeviceID, "scene", p.Scene, "generation", p.GenerationID)
			return nil
		}
		if err := d.sched.Redraw(ctx, env.DeviceID); err != nil {
			// The scene moved between the check and the redraw; still stale,
			// still silent.
			if errors.Is(err, scheduler.ErrNoActiveScene) {
				return nil
			}
			return d.fail(env, err)
		}
		return nil
	}

	// Genuine update: the scheduler resolves the target through the chain
	// explicit name -> device default -> configured fallback, and publishes
	// switching/running/error itself.
	if _, err := d.sched.SwitchScene(ctx, env.DeviceID, p.Scene, scheduler.SourceManual); err != nil {
		return d.fail(env, err)
	}
	return nil
}

// handleScene processes playback transport and default-scene commands.
func (d *Dispatcher) handleScene(ctx context.Context, env CommandEnvelope) error {
	var p scenePayload
	if err := decodePayload(env.Payload, &p); err != nil {
		d.reject(env, err)
		return err
	}

	switch env.Action {
	case "play":
		if _, err := d.sched.SwitchScene(ctx, env.DeviceID, p.Scene, scheduler.SourceManual); err != nil {
			return d.fail(env, err)
		}
		return nil

	case "pause":
		if err := d.sched.PauseScene(ctx, env.DeviceID); err != nil {
			return d.fail(env, err)
		}
		d.confirm(ctx, env)
		return nil

	case "resume":
		if err := d.sched.ResumeScene(ctx, env.DeviceID); err != nil {
			return d.fail(env, err)
		}
		d.confirm(ctx, env)
		return nil

	case "stop":
		if _, err := d.sched.StopScene(ctx, env.DeviceID); err != nil {
			return d.fail(env, err)
		}
		return nil

	case "restart":
		st, err := d.sched.DeviceSceneState(ctx, env.DeviceID)
		if err != nil {
			return d.fail(env, err)
		}
		if st.CurrentScene == "" {
			err := fmt.Errorf("%w: nothing to restart", ErrValidation)
			d.reject(env, err)
			return err
		}
		if _, err := d.sched.SwitchScene(ctx, env.DeviceID, st.CurrentScene, scheduler.SourceManual); err != nil {
			return d.fail(env, err)
		}
		return nil

	case "setDefault":
		if p.Scene == "" {
			err := fmt.Errorf("%w: scene is required for setDefault", ErrValidation)
			d.reject(env, err)
			return err
		}
		if !d.scenes.Has(p.Scene) {
			err := fmt.Errorf("%w: unknown scene %q", ErrValidation, p.Scene)
			d.reject(env, err)
			return err
		}
		if err := d.devices.SetDefaultScene(ctx, env.DeviceID, p.Scene); err != nil {
			return d.fail(env, err)
		}
		d.confirm(ctx, env)
		return nil

	default:
		err := fmt.Errorf("%w: scene/%s", ErrUnknownAction, env.Action)
		d.reject(env, err)
		return err
	}
}

// handleDriver processes driver/set: hot-swap the device's driver. A
// successful swap triggers one redraw so the new driver immediately shows
// current content; an unknown kind is rejected with the previous driver
// left in effect.
func (d *Dispatcher) handleDriver(ctx context.Context, env CommandEnvelope) error {
	if env.Action != "set" {
		err := fmt.Errorf("%w: driver/%s", ErrUnknownAction, env.Action)
		d.reject(env, err)
		return err
	}

	var p driverPayload
	if err := decodePayload(env.Payload, &p); err != nil {
		d.reject(env, err)
		return err
	}
	if p.Driver == "" {
		err := fmt.Errorf("%w: driver kind is required", ErrValidation)
		d.reject(env, err)
		return err
	}

	// Materialise the device first so a swap can target a device that has
	// never been configured.
	if _, err := d.devices.GetOrCreate(ctx, env.DeviceID); err != nil {
		return d.fail(env, err)
	}

	if err := d.devices.SetDriver(ctx, env.DeviceID, p.Driver, p.Address); err != nil {
		return d.fail(env, err)
	}

	if err := d.sched.Redraw(ctx, env.DeviceID); err != nil && !errors.Is(err, scheduler.ErrNoActiveScene) {
		d.logger.Warn("redraw after driver swap failed",
			"device_id", env.DeviceID, "driver", p.Driver, "error", err)
	}

	d.confirm(ctx, env)
	return nil
}

// handleReset processes reset/soft and reset/hard.
//
// Soft clears the display and leaves the active scene running (its next
// frame repaints). Hard stops the scene, clears the display and zeroes the
// device counters.
func (d *Dispatcher) handleReset(ctx context.Context, env CommandEnvelope) error {
	switch env.Action {
	case "soft":
		if _, err := d.devices.GetOrCreate(ctx, env.DeviceID); err != nil {
			return d.fail(env, err)
		}
		if h, ok := d.devices.Handle(env.DeviceID); ok {
			if err := h.Get().Clear(ctx); err != nil {
				return d.fail(env, fmt.Errorf("clearing display: %w", err))
			}
		}
		d.confirm(ctx, env)
		return nil

	case "hard":
		if _, err := d.devices.GetOrCreate(ctx, env.DeviceID); err != nil {
			return d.fail(env, err)
		}
		stopped := true
		if _, err := d.sched.StopScene(ctx, env.DeviceID); err != nil {
			if !errors.Is(err, scheduler.ErrNoActiveScene) {
				return d.fail(env, err)
			}
			stopped = false
		}
		// The stop leaves the last frame on display; hard reset blanks it.
		if h, ok := d.devices.Handle(env.DeviceID); ok {
			if err := h.Get().Clear(ctx); err != nil {
				return d.fail(env, fmt.Errorf("clearing display: %w", err))
			}
		}
		if err := d.devices.ResetMetrics(ctx, env.DeviceID); err != nil {
			return d.fail(env, err)
		}
		// StopScene already published the stopped transition; only confirm
		// when there was nothing to stop.
		if !stopped {
			d.confirm(ctx, env)
		}
		return nil

	default:
		err := fmt.Errorf("%w: reset/%s", ErrUnknownAction, env.Action)
		d.reject(env, err)
		return err
	}
}
