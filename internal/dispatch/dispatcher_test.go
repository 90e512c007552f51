package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/nerrad567/pixelgrid-core/internal/device"
	"github.com/nerrad567/pixelgrid-core/internal/driver"
	"github.com/nerrad567/pixelgrid-core/internal/scheduler"
)

// fakeScheduler records scheduler calls and serves configurable state.
type fakeScheduler struct {
	state    scheduler.SceneState
	stateErr error

	switchCalls []switchCall
	switchErr   error

	stopCalls int
	stopErr   error

	pauseCalls  int
	pauseErr    error
	resumeCalls int
	resumeErr   error

	redrawCalls int
	redrawErr   error

	panicOn string
}

type switchCall struct {
	deviceID string
	scene    string
	src      scheduler.Source
}

func (f *fakeScheduler) SwitchScene(_ context.Context, deviceID, sceneName string, src scheduler.Source) (scheduler.SceneState, error) {
	if f.panicOn == "switch" {
		panic("scene table corrupted")
	}
	f.switchCalls = append(f.switchCalls, switchCall{deviceID, sceneName, src})
	return f.state, f.switchErr
}

func (f *fakeScheduler) StopScene(_ context.Context, deviceID string) (scheduler.SceneState, error) {
	f.stopCalls++
	return f.state, f.stopErr
}

func (f *fakeScheduler) PauseScene(context.Context, string) error {
	f.pauseCalls++
	return f.pauseErr
}

func (f *fakeScheduler) ResumeScene(context.Context, string) error {
	f.resumeCalls++
	return f.resumeErr
}

func (f *fakeScheduler) Redraw(context.Context, string) error {
	f.redrawCalls++
	return f.redrawErr
}

func (f *fakeScheduler) DeviceSceneState(context.Context, string) (scheduler.SceneState, error) {
	return f.state, f.stateErr
}

// fakeDevices records registry calls.
type fakeDevices struct {
	handle *driver.Handle

	getOrCreateCalls int
	getOrCreateErr   error

	setDriverCalls []driverCall
	setDriverErr   error

	setDefaultCalls []string
	setDefaultErr   error

	resetCalls int
	resetErr   error
}

type driverCall struct {
	id, kind, address string
}

func (f *fakeDevices) GetOrCreate(_ context.Context, id string) (*device.Record, error) {
	f.getOrCreateCalls++
	if f.getOrCreateErr != nil {
		return nil, f.getOrCreateErr
	}
	return &device.Record{ID: id, Width: 8, Height: 8}, nil
}

func (f *fakeDevices) Handle(string) (*driver.Handle, bool) {
	if f.handle == nil {
		return nil, false
	}
	return f.handle, true
}

func (f *fakeDevices) SetDriver(_ context.Context, id, kind, address string) error {
	f.setDriverCalls = append(f.setDriverCalls, driverCall{id, kind, address})
	return f.setDriverErr
}

func (f *fakeDevices) SetDefaultScene(_ context.Context, _ string, scene string) error {
	f.setDefaultCalls = append(f.setDefaultCalls, scene)
	return f.setDefaultErr
}

func (f *fakeDevices) ResetMetrics(context.Context, string) error {
	f.resetCalls++
	return f.resetErr
}

// fakeScenes answers Has from a fixed set.
type fakeScenes struct {
	names map[string]bool
}

func (f *fakeScenes) Has(name string) bool { return f.names[name] }

// recordingNotifier captures publications.
type recordingNotifier struct {
	states []scheduler.SceneState
	errs   []string
}

func (n *recordingNotifier) PublishSceneState(st scheduler.SceneState) {
	n.states = append(n.states, st)
}

func (n *recordingNotifier) PublishDeviceError(_, message, _ string) {
	n.errs = append(n.errs, message)
}

type fixture struct {
	sched    *fakeScheduler
	devices  *fakeDevices
	notifier *recordingNotifier
	d        *Dispatcher
}

func setup(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		sched:    &fakeScheduler{},
		devices:  &fakeDevices{},
		notifier: &recordingNotifier{},
	}
	scenes := &fakeScenes{names: map[string]bool{"clock": true, "rainbow": true}}
	f.d = NewDispatcher(f.sched, f.devices, scenes, f.notifier)
	return f
}

func rawPayload(t *testing.T, v any) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshaling payload: %v", err)
	}
	return raw
}

func TestDispatchRejectsInvalidEnvelope(t *testing.T) {
	f := setup(t)

	env := NewEnvelope("dev-1", "", "update", nil)
	err := f.d.Dispatch(context.Background(), env)
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	if len(f.sched.switchCalls) != 0 {
		t.Error("scheduler should not be called for invalid envelope")
	}
	if len(f.notifier.errs) != 1 {
		t.Fatalf("expected 1 error publication, got %d", len(f.notifier.errs))
	}
}

func TestDispatchUnknownSection(t *testing.T) {
	f := setup(t)

	err := f.d.Dispatch(context.Background(), NewEnvelope("dev-1", "telemetry", "get", nil))
	if !errors.Is(err, ErrUnknownSection) {
		t.Fatalf("expected ErrUnknownSection, got %v", err)
	}
}

func TestDispatchUnknownAction(t *testing.T) {
	f := setup(t)

	tests := []struct {
		section, action string
	}{
		{"state", "delete"},
		{"scene", "rewind"},
		{"driver", "list"},
		{"reset", "factory"},
	}
	for _, tt := range tests {
		err := f.d.Dispatch(context.Background(), NewEnvelope("dev-1", tt.section, tt.action, nil))
		if !errors.Is(err, ErrUnknownAction) {
			t.Errorf("%s/%s: expected ErrUnknownAction, got %v", tt.section, tt.action, err)
		}
	}
}

func TestStateUpdateSwitchesScene(t *testing.T) {
	f := setup(t)

	payload := rawPayload(t, map[string]any{"scene": "rainbow"})
	if err := f.d.Dispatch(context.Background(), NewEnvelope("dev-1", "state", "update", payload)); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	if len(f.sched.switchCalls) != 1 {
		t.Fatalf("expected 1 switch call, got %d", len(f.sched.switchCalls))
	}
	call := f.sched.switchCalls[0]
	if call.deviceID != "dev-1" || call.scene != "rainbow" || call.src != scheduler.SourceManual {
		t.Errorf("unexpected switch call %+v", call)
	}
	// The scheduler publishes the transition; the dispatcher stays quiet.
	if len(f.notifier.states) != 0 {
		t.Errorf("expected no dispatcher publication, got %d", len(f.notifier.states))
	}
}

func TestStateUpdateMalformedPayload(t *testing.T) {
	f := setup(t)

	err := f.d.Dispatch(context.Background(),
		NewEnvelope("dev-1", "state", "update", json.RawMessage(`{"scene":`)))
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	if len(f.sched.switchCalls) != 0 {
		t.Error("scheduler should not see malformed payloads")
	}
}

func TestAnimationFrameStaleDrop(t *testing.T) {
	f := setup(t)
	f.sched.state = scheduler.SceneState{
		DeviceID:     "dev-1",
		CurrentScene: "rainbow",
		Status:       device.StatusRunning,
		Generation:   7,
	}

	tests := []struct {
		name    string
		payload map[string]any
	}{
		{"wrong scene", map[string]any{"isAnimationFrame": true, "scene": "clock", "generationId": 7}},
		{"wrong generation", map[string]any{"isAnimationFrame": true, "scene": "rainbow", "generationId": 6}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := NewEnvelope("dev-1", "state", "update", rawPayload(t, tt.payload))
			if err := f.d.Dispatch(context.Background(), env); err != nil {
				t.Fatalf("stale drop should not error: %v", err)
			}
		})
	}

	if f.sched.redrawCalls != 0 {
		t.Error("stale frames must be dropped before any scheduler call")
	}
	if len(f.sched.switchCalls) != 0 {
		t.Error("animation frames must never trigger a switch")
	}
	if len(f.notifier.states)+len(f.notifier.errs) != 0 {
		t.Error("stale drop must be silent")
	}
}

func TestAnimationFrameMatchingRedraws(t *testing.T) {
	f := setup(t)
	f.sched.state = scheduler.SceneState{
		DeviceID:     "dev-1",
		CurrentScene: "rainbow",
		Status:       device.StatusRunning,
		Generation:   7,
	}

	payload := rawPayload(t, map[string]any{
		"isAnimationFrame": true, "scene": "rainbow", "generationId": 7,
	})
	if err := f.d.Dispatch(context.Background(), NewEnvelope("dev-1", "state", "update", payload)); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if f.sched.redrawCalls != 1 {
		t.Fatalf("expected 1 redraw, got %d", f.sched.redrawCalls)
	}
}

func TestAnimationFrameRedrawRace(t *testing.T) {
	f := setup(t)
	f.sched.state = scheduler.SceneState{
		DeviceID: "dev-1", CurrentScene: "rainbow", Generation: 7,
	}
	f.sched.redrawErr = scheduler.ErrNoActiveScene

	payload := rawPayload(t, map[string]any{
		"isAnimationFrame": true, "scene": "rainbow", "generationId": 7,
	})
	if err := f.d.Dispatch(context.Background(), NewEnvelope("dev-1", "state", "update", payload)); err != nil {
		t.Fatalf("scene gone between check and redraw should stay silent: %v", err)
	}
	if len(f.notifier.errs) != 0 {
		t.Error("expected no error publication")
	}
}

func TestScenePauseConfirms(t *testing.T) {
	f := setup(t)
	f.sched.state = scheduler.SceneState{
		DeviceID: "dev-1", CurrentScene: "clock", Status: device.StatusRunning, Generation: 3,
	}

	if err := f.d.Dispatch(context.Background(), NewEnvelope("dev-1", "scene", "pause", nil)); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if f.sched.pauseCalls != 1 {
		t.Fatalf("expected 1 pause call, got %d", f.sched.pauseCalls)
	}
	if len(f.notifier.states) != 1 {
		t.Fatalf("expected 1 confirmation, got %d", len(f.notifier.states))
	}
	if f.notifier.states[0].Generation != 3 {
		t.Errorf("confirmation should carry current generation, got %d", f.notifier.states[0].Generation)
	}
}

func TestScenePauseFailurePublishesError(t *testing.T) {
	f := setup(t)
	f.sched.pauseErr = scheduler.ErrNoActiveScene

	err := f.d.Dispatch(context.Background(), NewEnvelope("dev-1", "scene", "pause", nil))
	if !errors.Is(err, scheduler.ErrNoActiveScene) {
		t.Fatalf("expected ErrNoActiveScene, got %v", err)
	}
	if len(f.notifier.errs) != 1 {
		t.Fatalf("expected 1 error publication, got %d", len(f.notifier.errs))
	}
	if len(f.notifier.states) != 0 {
		t.Error("failed command must not also confirm")
	}
}

func TestSceneRestart(t *testing.T) {
	f := setup(t)

	t.Run("replays current scene", func(t *testing.T) {
		f.sched.state = scheduler.SceneState{DeviceID: "dev-1", CurrentScene: "rainbow"}
		if err := f.d.Dispatch(context.Background(), NewEnvelope("dev-1", "scene", "restart", nil)); err != nil {
			t.Fatalf("dispatch: %v", err)
		}
		if len(f.sched.switchCalls) != 1 || f.sched.switchCalls[0].scene != "rainbow" {
			t.Fatalf("expected restart to replay rainbow, calls %+v", f.sched.switchCalls)
		}
	})

	t.Run("nothing to restart", func(t *testing.T) {
		f.sched.state = scheduler.SceneState{DeviceID: "dev-1"}
		err := f.d.Dispatch(context.Background(), NewEnvelope("dev-1", "scene", "restart", nil))
		if !errors.Is(err, ErrValidation) {
			t.Fatalf("expected ErrValidation, got %v", err)
		}
	})
}

func TestSceneSetDefault(t *testing.T) {
	f := setup(t)

	t.Run("known scene persists", func(t *testing.T) {
		payload := rawPayload(t, map[string]any{"scene": "clock"})
		if err := f.d.Dispatch(context.Background(), NewEnvelope("dev-1", "scene", "setDefault", payload)); err != nil {
			t.Fatalf("dispatch: %v", err)
		}
		if len(f.devices.setDefaultCalls) != 1 || f.devices.setDefaultCalls[0] != "clock" {
			t.Fatalf("expected setDefault(clock), got %v", f.devices.setDefaultCalls)
		}
		if len(f.notifier.states) != 1 {
			t.Fatalf("expected 1 confirmation, got %d", len(f.notifier.states))
		}
	})

	t.Run("unknown scene rejected", func(t *testing.T) {
		payload := rawPayload(t, map[string]any{"scene": "nonexistent"})
		err := f.d.Dispatch(context.Background(), NewEnvelope("dev-1", "scene", "setDefault", payload))
		if !errors.Is(err, ErrValidation) {
			t.Fatalf("expected ErrValidation, got %v", err)
		}
		if len(f.devices.setDefaultCalls) != 1 {
			t.Error("unknown scene must not reach the registry")
		}
	})

	t.Run("missing scene rejected", func(t *testing.T) {
		err := f.d.Dispatch(context.Background(), NewEnvelope("dev-1", "scene", "setDefault", nil))
		if !errors.Is(err, ErrValidation) {
			t.Fatalf("expected ErrValidation, got %v", err)
		}
	})
}

func TestDriverSet(t *testing.T) {
	f := setup(t)
	f.sched.redrawErr = scheduler.ErrNoActiveScene

	payload := rawPayload(t, map[string]any{"driver": "sim", "address": ""})
	if err := f.d.Dispatch(context.Background(), NewEnvelope("dev-9", "driver", "set", payload)); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	if f.devices.getOrCreateCalls != 1 {
		t.Error("driver set should materialise the device first")
	}
	if len(f.devices.setDriverCalls) != 1 {
		t.Fatalf("expected 1 SetDriver call, got %d", len(f.devices.setDriverCalls))
	}
	if got := f.devices.setDriverCalls[0]; got.id != "dev-9" || got.kind != "sim" {
		t.Errorf("unexpected SetDriver call %+v", got)
	}
	if f.sched.redrawCalls != 1 {
		t.Errorf("expected redraw attempt after swap, got %d", f.sched.redrawCalls)
	}
	if len(f.notifier.states) != 1 {
		t.Fatalf("expected 1 confirmation, got %d", len(f.notifier.states))
	}
}

func TestDriverSetRequiresKind(t *testing.T) {
	f := setup(t)

	err := f.d.Dispatch(context.Background(),
		NewEnvelope("dev-1", "driver", "set", rawPayload(t, map[string]any{"address": "tcp://x"})))
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	if len(f.devices.setDriverCalls) != 0 {
		t.Error("missing driver kind must not reach the registry")
	}
}

func TestDriverSetUnknownKindPublishesError(t *testing.T) {
	f := setup(t)
	f.devices.setDriverErr = driver.ErrUnknownKind

	err := f.d.Dispatch(context.Background(),
		NewEnvelope("dev-1", "driver", "set", rawPayload(t, map[string]any{"driver": "warp"})))
	if !errors.Is(err, driver.ErrUnknownKind) {
		t.Fatalf("expected ErrUnknownKind, got %v", err)
	}
	if len(f.notifier.errs) != 1 {
		t.Fatalf("expected 1 error publication, got %d", len(f.notifier.errs))
	}
	if f.sched.redrawCalls != 0 {
		t.Error("failed swap must not redraw")
	}
}

func TestResetSoftClearsDisplay(t *testing.T) {
	f := setup(t)
	sim, err := driver.NewSim(driver.Config{DeviceID: "dev-1", Width: 8, Height: 8})
	if err != nil {
		t.Fatalf("creating sim: %v", err)
	}
	f.devices.handle = driver.NewHandle(sim)

	if err := f.d.Dispatch(context.Background(), NewEnvelope("dev-1", "reset", "soft", nil)); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if got := sim.(*driver.Sim).ClearCount(); got != 1 {
		t.Errorf("expected 1 clear, got %d", got)
	}
	if f.sched.stopCalls != 0 {
		t.Error("soft reset must leave the scene running")
	}
	if len(f.notifier.states) != 1 {
		t.Fatalf("expected 1 confirmation, got %d", len(f.notifier.states))
	}
}

func TestResetHard(t *testing.T) {
	t.Run("active scene stopped", func(t *testing.T) {
		f := setup(t)
		sim, err := driver.NewSim(driver.Config{DeviceID: "dev-1", Width: 8, Height: 8})
		if err != nil {
			t.Fatalf("creating sim: %v", err)
		}
		f.devices.handle = driver.NewHandle(sim)

		if err := f.d.Dispatch(context.Background(), NewEnvelope("dev-1", "reset", "hard", nil)); err != nil {
			t.Fatalf("dispatch: %v", err)
		}
		if f.sched.stopCalls != 1 {
			t.Fatalf("expected 1 stop call, got %d", f.sched.stopCalls)
		}
		// The stop itself retains the frame; blanking is hard reset's job.
		if got := sim.(*driver.Sim).ClearCount(); got != 1 {
			t.Errorf("expected 1 clear, got %d", got)
		}
		if f.devices.resetCalls != 1 {
			t.Fatalf("expected metrics reset, got %d calls", f.devices.resetCalls)
		}
		// StopScene publishes the stopped transition through the scheduler's
		// own notifier; a second confirmation here would double-publish.
		if len(f.notifier.states) != 0 {
			t.Errorf("expected no extra confirmation, got %d", len(f.notifier.states))
		}
	})

	t.Run("idle device confirms", func(t *testing.T) {
		f := setup(t)
		f.sched.stopErr = scheduler.ErrNoActiveScene
		if err := f.d.Dispatch(context.Background(), NewEnvelope("dev-1", "reset", "hard", nil)); err != nil {
			t.Fatalf("dispatch: %v", err)
		}
		if f.devices.resetCalls != 1 {
			t.Fatalf("expected metrics reset, got %d calls", f.devices.resetCalls)
		}
		if len(f.notifier.states) != 1 {
			t.Fatalf("expected 1 confirmation, got %d", len(f.notifier.states))
		}
	})
}

func TestDispatchRecoversPanic(t *testing.T) {
	f := setup(t)
	f.sched.panicOn = "switch"

	err := f.d.Dispatch(context.Background(),
		NewEnvelope("dev-1", "state", "update", rawPayload(t, map[string]any{"scene": "clock"})))
	if err == nil {
		t.Fatal("expected error from recovered panic")
	}
	if len(f.notifier.errs) != 1 {
		t.Fatalf("expected 1 error publication, got %d", len(f.notifier.errs))
	}
}
