package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/pixelgrid-core/internal/device"
	"github.com/nerrad567/pixelgrid-core/internal/driver"
	"github.com/nerrad567/pixelgrid-core/internal/infrastructure/config"
	"github.com/nerrad567/pixelgrid-core/internal/scene"
)

// fakeStore is an in-memory DeviceStore with a sim driver per device.
type fakeStore struct {
	mu      sync.Mutex
	records map[string]*device.Record
	handles map[string]*driver.Handle

	// setSceneErr fails the next SetScene call once, then clears itself.
	setSceneErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		records: make(map[string]*device.Record),
		handles: make(map[string]*driver.Handle),
	}
}

func (f *fakeStore) Get(_ context.Context, id string) (*device.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[id]
	if !ok {
		return nil, device.ErrDeviceNotFound
	}
	return rec.DeepCopy(), nil
}

func (f *fakeStore) GetOrCreate(_ context.Context, id string) (*device.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[id]
	if !ok {
		rec = &device.Record{
			ID:         id,
			DriverKind: driver.KindSim,
			Width:      8,
			Height:     8,
			Brightness: 100,
			Status:     device.StatusIdle,
		}
		f.records[id] = rec
		d, _ := driver.NewSim(driver.Config{DeviceID: id, Width: 8, Height: 8})
		f.handles[id] = driver.NewHandle(d)
	}
	return rec.DeepCopy(), nil
}

func (f *fakeStore) Handle(id string) (*driver.Handle, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	h, ok := f.handles[id]
	return h, ok
}

func (f *fakeStore) SetScene(_ context.Context, id, activeScene string, status device.Status, generation uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.setSceneErr != nil {
		err := f.setSceneErr
		f.setSceneErr = nil
		return err
	}
	rec, ok := f.records[id]
	if !ok {
		return device.ErrDeviceNotFound
	}
	rec.ActiveScene = activeScene
	rec.Status = status
	rec.Generation = generation
	return nil
}

func (f *fakeStore) RecordRender(_ context.Context, id string, renderedAt time.Time, pushDelta, errorDelta, frameMS int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[id]
	if !ok {
		return device.ErrDeviceNotFound
	}
	at := renderedAt.UTC()
	rec.LastRenderAt = &at
	rec.PushCount += pushDelta
	rec.ErrorCount += errorDelta
	rec.LastFrameMS = frameMS
	return nil
}

// sim returns the device's simulator driver for push inspection.
func (f *fakeStore) sim(t *testing.T, id string) *driver.Sim {
	t.Helper()
	h, ok := f.Handle(id)
	require.True(t, ok, "no handle for %s", id)
	return h.Get().(*driver.Sim)
}

// recordingNotifier captures published transitions.
type recordingNotifier struct {
	mu     sync.Mutex
	states []SceneState
	errs   []string
}

func (n *recordingNotifier) PublishSceneState(st SceneState) {
	n.mu.Lock()
	n.states = append(n.states, st)
	n.mu.Unlock()
}

func (n *recordingNotifier) PublishDeviceError(deviceID, message, _ string) {
	n.mu.Lock()
	n.errs = append(n.errs, deviceID+": "+message)
	n.mu.Unlock()
}

func (n *recordingNotifier) statuses() []device.Status {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]device.Status, len(n.states))
	for i, st := range n.states {
		out[i] = st.Status
	}
	return out
}

func testConfig() config.SchedulerConfig {
	return config.SchedulerConfig{
		MinFrameDelay:     time.Millisecond,
		MaxFrameDelay:     50 * time.Millisecond,
		RenderTimeout:     time.Second,
		ManualGraceWindow: 100 * time.Millisecond,
		FallbackScene:     "fallback",
	}
}

// testScenes builds a registry with a one-shot "fallback" scene plus any
// extra modules.
func testScenes(t *testing.T, extra ...*scene.Module) *scene.Registry {
	t.Helper()
	reg := scene.NewRegistry()
	mods := append([]*scene.Module{{
		Name: "fallback",
		Render: func(ctx *scene.Context) (scene.Result, error) {
			ctx.Frame.Fill(1, 1, 1)
			return scene.Done(), nil
		},
	}}, extra...)
	for _, m := range mods {
		require.NoError(t, reg.Register(m), "registering %q", m.Name)
	}
	return reg
}

func newTestScheduler(t *testing.T, scenes *scene.Registry) (*Scheduler, *fakeStore, *recordingNotifier) {
	t.Helper()
	store := newFakeStore()
	s := New(store, scenes, testConfig())
	n := &recordingNotifier{}
	s.SetNotifier(n)
	t.Cleanup(func() {
		ctx, cancelFn := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancelFn()
		s.Shutdown(ctx) //nolint:errcheck // best-effort test teardown
	})
	return s, store, n
}

// waitFor polls until cond returns true or the deadline passes.
func waitFor(t *testing.T, d time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestSwitchSceneOneShot(t *testing.T) {
	s, store, n := newTestScheduler(t, testScenes(t))
	ctx := context.Background()

	st, err := s.SwitchScene(ctx, "dev-1", "fallback", SourceManual)
	require.NoError(t, err)
	assert.Equal(t, device.StatusRunning, st.Status)
	assert.Equal(t, "fallback", st.CurrentScene)
	assert.Equal(t, uint64(1), st.Generation)

	// A terminal first render means exactly one push and a final status of
	// stopped, with the frame and the scene name retained.
	waitFor(t, time.Second, func() bool {
		st, err := s.DeviceSceneState(ctx, "dev-1")
		return err == nil && st.Status == device.StatusStopped
	})

	got, err := s.DeviceSceneState(ctx, "dev-1")
	require.NoError(t, err)
	assert.Equal(t, device.StatusStopped, got.Status)
	assert.Equal(t, "fallback", got.CurrentScene)
	assert.Equal(t, 1, store.sim(t, "dev-1").PushCount())
	assert.NotNil(t, store.sim(t, "dev-1").LastFrame(), "frame must stay on display")

	assert.Equal(t, []device.Status{device.StatusSwitching, device.StatusRunning, device.StatusStopped}, n.statuses())
}

func TestSwitchSceneUnknownLeavesStateUnchanged(t *testing.T) {
	s, store, _ := newTestScheduler(t, testScenes(t))
	ctx := context.Background()

	_, err := s.SwitchScene(ctx, "dev-1", "fallback", SourceManual)
	require.NoError(t, err)
	waitFor(t, time.Second, func() bool {
		rec, _ := store.Get(ctx, "dev-1")
		return rec.Status == device.StatusStopped
	})
	before, _ := store.Get(ctx, "dev-1")

	_, err = s.SwitchScene(ctx, "dev-1", "no-such-scene", SourceManual)
	require.ErrorIs(t, err, scene.ErrNotFound)

	after, _ := store.Get(ctx, "dev-1")
	assert.Equal(t, before.Generation, after.Generation, "generation moved on failed switch")
	assert.Equal(t, before.ActiveScene, after.ActiveScene)
	assert.Equal(t, before.Status, after.Status)
}

func TestSwitchSceneEmptyNameUsesFallbackChain(t *testing.T) {
	s, store, _ := newTestScheduler(t, testScenes(t, &scene.Module{
		Name: "preferred",
		Render: func(ctx *scene.Context) (scene.Result, error) {
			return scene.Done(), nil
		},
	}))
	ctx := context.Background()

	// No default scene: empty resolves to the configured fallback.
	st, err := s.SwitchScene(ctx, "dev-1", "", SourceManual)
	require.NoError(t, err)
	assert.Equal(t, "fallback", st.CurrentScene)

	// With a default scene, the default wins over the fallback.
	store.mu.Lock()
	store.records["dev-1"].DefaultScene = "preferred"
	store.mu.Unlock()

	st, err = s.SwitchScene(ctx, "dev-1", "", SourceManual)
	require.NoError(t, err)
	assert.Equal(t, "preferred", st.CurrentScene)
}

func TestGenerationGatingDiscardsStaleFrame(t *testing.T) {
	renderStarted := make(chan struct{})
	releaseRender := make(chan struct{})
	var once sync.Once

	slow := &scene.Module{
		Name:      "slow",
		WantsLoop: true,
		Render: func(ctx *scene.Context) (scene.Result, error) {
			once.Do(func() {
				close(renderStarted)
				<-releaseRender
			})
			ctx.Frame.Fill(255, 0, 0)
			return scene.Next(10 * time.Millisecond), nil
		},
	}

	s, store, _ := newTestScheduler(t, testScenes(t, slow))
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		_, err := s.SwitchScene(ctx, "dev-1", "slow", SourceManual)
		done <- err
	}()

	<-renderStarted

	// While the first render is blocked, a second switch takes over the
	// device and bumps the generation.
	go func() {
		time.Sleep(5 * time.Millisecond)
		close(releaseRender)
	}()
	_, err := s.SwitchScene(ctx, "dev-1", "fallback", SourceManual)
	require.NoError(t, err, "second SwitchScene")
	require.NoError(t, <-done, "first SwitchScene")

	waitFor(t, time.Second, func() bool {
		return store.sim(t, "dev-1").PushCount() >= 1
	})

	// The slow scene's red frame must never have reached the display: only
	// the fallback's fill may be present.
	time.Sleep(20 * time.Millisecond)
	last := store.sim(t, "dev-1").LastFrame()
	require.NotNil(t, last, "no frame on display")
	r, _, _ := last.At(0, 0)
	assert.NotEqual(t, byte(255), r, "stale frame from superseded scene reached the display")

	rec, _ := store.Get(ctx, "dev-1")
	assert.Equal(t, "fallback", rec.ActiveScene)
	assert.Equal(t, uint64(2), rec.Generation)
}

func TestManualGraceWindowSuppressesAutomated(t *testing.T) {
	s, _, _ := newTestScheduler(t, testScenes(t))
	ctx := context.Background()

	_, err := s.SwitchScene(ctx, "dev-1", "fallback", SourceManual)
	require.NoError(t, err)

	// Automated switch inside the window is rejected.
	_, err = s.SwitchScene(ctx, "dev-1", "fallback", SourceAutomated)
	assert.ErrorIs(t, err, ErrSwitchSuppressed)

	// A second manual switch is always allowed.
	_, err = s.SwitchScene(ctx, "dev-1", "fallback", SourceManual)
	assert.NoError(t, err, "second manual switch")

	// After the window expires, automated switches go through.
	time.Sleep(120 * time.Millisecond)
	_, err = s.SwitchScene(ctx, "dev-1", "fallback", SourceAutomated)
	assert.NoError(t, err, "automated switch after window")
}

func TestRenderErrorIsolatesDevice(t *testing.T) {
	failing := &scene.Module{
		Name:      "broken",
		WantsLoop: true,
		Render: func(ctx *scene.Context) (scene.Result, error) {
			return scene.Result{}, errors.New("boom")
		},
	}
	looping := &scene.Module{
		Name:      "steady",
		WantsLoop: true,
		Render: func(ctx *scene.Context) (scene.Result, error) {
			return scene.Next(5 * time.Millisecond), nil
		},
	}

	s, store, n := newTestScheduler(t, testScenes(t, failing, looping))
	ctx := context.Background()

	_, err := s.SwitchScene(ctx, "healthy", "steady", SourceManual)
	require.NoError(t, err)
	_, err = s.SwitchScene(ctx, "sick", "broken", SourceManual)
	require.NoError(t, err)

	waitFor(t, time.Second, func() bool {
		rec, _ := store.Get(ctx, "sick")
		return rec.Status == device.StatusError
	})

	rec, _ := store.Get(ctx, "sick")
	assert.Equal(t, int64(1), rec.ErrorCount)

	n.mu.Lock()
	errCount := len(n.errs)
	n.mu.Unlock()
	assert.Equal(t, 1, errCount, "published device errors")

	// The healthy device keeps rendering.
	healthyBefore := store.sim(t, "healthy").PushCount()
	waitFor(t, time.Second, func() bool {
		return store.sim(t, "healthy").PushCount() > healthyBefore
	})
}

func TestLoopedSceneDoneTransitionsToStopped(t *testing.T) {
	finite := &scene.Module{
		Name:      "three-frames",
		WantsLoop: true,
		Render: func(ctx *scene.Context) (scene.Result, error) {
			n := ctx.State.GetInt("n", 0) + 1
			ctx.State.Set("n", n)
			if n >= 3 {
				return scene.Done(), nil
			}
			return scene.Next(time.Millisecond), nil
		},
	}

	s, store, _ := newTestScheduler(t, testScenes(t, finite))
	ctx := context.Background()

	_, err := s.SwitchScene(ctx, "dev-1", "three-frames", SourceManual)
	require.NoError(t, err)

	waitFor(t, time.Second, func() bool {
		rec, _ := store.Get(ctx, "dev-1")
		return rec.Status == device.StatusStopped
	})

	assert.Equal(t, 3, store.sim(t, "dev-1").PushCount())

	rec, _ := store.Get(ctx, "dev-1")
	assert.Equal(t, "three-frames", rec.ActiveScene, "finished scene stays recorded")
	assert.NotNil(t, store.sim(t, "dev-1").LastFrame(), "frame must stay on display")
}

func TestPauseAndResume(t *testing.T) {
	looping := &scene.Module{
		Name:      "steady",
		WantsLoop: true,
		Render: func(ctx *scene.Context) (scene.Result, error) {
			return scene.Next(time.Millisecond), nil
		},
	}

	s, store, _ := newTestScheduler(t, testScenes(t, looping))
	ctx := context.Background()

	_, err := s.SwitchScene(ctx, "dev-1", "steady", SourceManual)
	require.NoError(t, err)
	waitFor(t, time.Second, func() bool {
		return store.sim(t, "dev-1").PushCount() > 0
	})

	require.NoError(t, s.PauseScene(ctx, "dev-1"))

	// Let any in-flight cycle drain, then confirm the loop is frozen.
	time.Sleep(20 * time.Millisecond)
	frozen := store.sim(t, "dev-1").PushCount()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, frozen, store.sim(t, "dev-1").PushCount(), "push count moved while paused")

	// Status stays running while paused.
	st, _ := s.DeviceSceneState(ctx, "dev-1")
	assert.Equal(t, device.StatusRunning, st.Status)

	require.NoError(t, s.ResumeScene(ctx, "dev-1"))
	waitFor(t, time.Second, func() bool {
		return store.sim(t, "dev-1").PushCount() > frozen
	})

	assert.ErrorIs(t, s.ResumeScene(ctx, "dev-1"), ErrNotPaused, "second resume")
}

func TestStopSceneRetainsFrame(t *testing.T) {
	looping := &scene.Module{
		Name:      "steady",
		WantsLoop: true,
		Render: func(ctx *scene.Context) (scene.Result, error) {
			ctx.Frame.Fill(9, 9, 9)
			return scene.Next(time.Millisecond), nil
		},
	}

	s, store, _ := newTestScheduler(t, testScenes(t, looping))
	ctx := context.Background()

	_, err := s.SwitchScene(ctx, "dev-1", "steady", SourceManual)
	require.NoError(t, err)
	waitFor(t, time.Second, func() bool {
		return store.sim(t, "dev-1").PushCount() > 0
	})

	st, err := s.StopScene(ctx, "dev-1")
	require.NoError(t, err)
	assert.Equal(t, device.StatusStopped, st.Status)
	assert.Equal(t, "steady", st.CurrentScene, "stopped scene stays recorded")

	// Stop cancels the loop and keeps the last-rendered frame on display.
	assert.Equal(t, 0, store.sim(t, "dev-1").ClearCount(), "stop must not blank the display")
	last := store.sim(t, "dev-1").LastFrame()
	require.NotNil(t, last, "frame must stay on display after stop")
	r, _, _ := last.At(0, 0)
	assert.Equal(t, byte(9), r)

	_, err = s.StopScene(ctx, "dev-1")
	assert.ErrorIs(t, err, ErrNoActiveScene, "second stop")
}

func TestRedrawOneShot(t *testing.T) {
	s, store, _ := newTestScheduler(t, testScenes(t))
	ctx := context.Background()

	_, err := s.SwitchScene(ctx, "dev-1", "fallback", SourceManual)
	require.NoError(t, err)
	waitFor(t, time.Second, func() bool {
		st, err := s.DeviceSceneState(ctx, "dev-1")
		return err == nil && st.Status == device.StatusStopped
	})
	require.Equal(t, 1, store.sim(t, "dev-1").PushCount())

	require.NoError(t, s.Redraw(ctx, "dev-1"))
	assert.Equal(t, 2, store.sim(t, "dev-1").PushCount(), "push count after redraw")

	assert.ErrorIs(t, s.Redraw(ctx, "never-played"), ErrNoActiveScene)
}

func TestClampDelay(t *testing.T) {
	s := New(newFakeStore(), scene.NewRegistry(), testConfig())

	tests := []struct {
		name string
		in   time.Duration
		want time.Duration
	}{
		{"below minimum", 0, time.Millisecond},
		{"negative", -time.Second, time.Millisecond},
		{"within range", 10 * time.Millisecond, 10 * time.Millisecond},
		{"above maximum", time.Minute, 50 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, s.clampDelay(tt.in))
		})
	}
}

func TestShutdownStopsLoops(t *testing.T) {
	looping := &scene.Module{
		Name:      "steady",
		WantsLoop: true,
		Render: func(ctx *scene.Context) (scene.Result, error) {
			return scene.Next(time.Millisecond), nil
		},
	}

	store := newFakeStore()
	s := New(store, testScenes(t, looping), testConfig())
	ctx := context.Background()

	_, err := s.SwitchScene(ctx, "dev-1", "steady", SourceManual)
	require.NoError(t, err)

	sctx, cancelFn := context.WithTimeout(ctx, 2*time.Second)
	defer cancelFn()
	require.NoError(t, s.Shutdown(sctx))

	_, err = s.SwitchScene(ctx, "dev-1", "steady", SourceManual)
	assert.ErrorIs(t, err, ErrShuttingDown, "switch after shutdown")
}

func TestSwitchRunsCleanupBeforeNextInit(t *testing.T) {
	var mu sync.Mutex
	var events []string
	record := func(e string) {
		mu.Lock()
		events = append(events, e)
		mu.Unlock()
	}

	secondBagLen := -1
	first := &scene.Module{
		Name:      "first",
		WantsLoop: true,
		Init: func(ctx *scene.Context) error {
			record("init:first")
			ctx.State.Set("residue", true)
			return nil
		},
		Render: func(ctx *scene.Context) (scene.Result, error) {
			return scene.Next(2 * time.Millisecond), nil
		},
		Cleanup: func(ctx *scene.Context) error {
			record("cleanup:first")
			return nil
		},
	}
	second := &scene.Module{
		Name:      "second",
		WantsLoop: true,
		Init: func(ctx *scene.Context) error {
			record("init:second")
			return nil
		},
		Render: func(ctx *scene.Context) (scene.Result, error) {
			mu.Lock()
			if secondBagLen == -1 {
				secondBagLen = ctx.State.Len()
			}
			mu.Unlock()
			return scene.Next(2 * time.Millisecond), nil
		},
	}

	s, store, _ := newTestScheduler(t, testScenes(t, first, second))
	ctx := context.Background()

	_, err := s.SwitchScene(ctx, "dev-1", "first", SourceManual)
	require.NoError(t, err)
	waitFor(t, time.Second, func() bool {
		return store.sim(t, "dev-1").PushCount() > 0
	})

	_, err = s.SwitchScene(ctx, "dev-1", "second", SourceManual)
	require.NoError(t, err)
	waitFor(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return secondBagLen != -1
	})

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"init:first", "cleanup:first", "init:second"}, events,
		"previous scene's cleanup must complete before the next scene's init")
	assert.Equal(t, 0, secondBagLen, "next scene must start with an empty state bag")
}

func TestBackToBackSwitchesSingleWinner(t *testing.T) {
	var violations atomic.Int32
	mk := func(name string) *scene.Module {
		return &scene.Module{
			Name:      name,
			WantsLoop: true,
			Init: func(ctx *scene.Context) error {
				if ctx.State.Len() != 0 {
					violations.Add(1)
				}
				ctx.State.Set("owner", name)
				return nil
			},
			Render: func(ctx *scene.Context) (scene.Result, error) {
				if ctx.State.GetString("owner", "") != name {
					violations.Add(1)
				}
				return scene.Next(2 * time.Millisecond), nil
			},
		}
	}

	s, store, _ := newTestScheduler(t, testScenes(t, mk("a"), mk("b")))
	ctx := context.Background()

	var wg sync.WaitGroup
	for _, name := range []string{"a", "b"} {
		wg.Add(1)
		go func(n string) {
			defer wg.Done()
			_, err := s.SwitchScene(ctx, "dev-1", n, SourceManual)
			assert.NoError(t, err, "switch to %s", n)
		}(name)
	}
	wg.Wait()

	rec, _ := store.Get(ctx, "dev-1")
	assert.Contains(t, []string{"a", "b"}, rec.ActiveScene)
	assert.Equal(t, device.StatusRunning, rec.Status)
	assert.Equal(t, uint64(2), rec.Generation)

	// Let the winner render a few frames; the loser must leave no residue
	// in the winner's state bag.
	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, violations.Load(), "state bag residue across switches")
}

func TestSwitchPersistFailureLeavesCurrentSceneRunning(t *testing.T) {
	looping := &scene.Module{
		Name:      "steady",
		WantsLoop: true,
		Render: func(ctx *scene.Context) (scene.Result, error) {
			return scene.Next(time.Millisecond), nil
		},
	}

	s, store, _ := newTestScheduler(t, testScenes(t, looping))
	ctx := context.Background()

	_, err := s.SwitchScene(ctx, "dev-1", "steady", SourceManual)
	require.NoError(t, err)
	waitFor(t, time.Second, func() bool {
		return store.sim(t, "dev-1").PushCount() > 0
	})

	store.mu.Lock()
	store.setSceneErr = errors.New("store offline")
	store.mu.Unlock()

	_, err = s.SwitchScene(ctx, "dev-1", "fallback", SourceManual)
	require.Error(t, err)

	rec, _ := store.Get(ctx, "dev-1")
	assert.Equal(t, "steady", rec.ActiveScene)
	assert.Equal(t, device.StatusRunning, rec.Status)
	assert.Equal(t, uint64(1), rec.Generation)

	// The previous activation is untouched and keeps rendering.
	before := store.sim(t, "dev-1").PushCount()
	waitFor(t, time.Second, func() bool {
		return store.sim(t, "dev-1").PushCount() > before
	})
}
