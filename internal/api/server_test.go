package api

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/nerrad567/pixelgrid-core/internal/device"
	"github.com/nerrad567/pixelgrid-core/internal/dispatch"
	"github.com/nerrad567/pixelgrid-core/internal/driver"
	"github.com/nerrad567/pixelgrid-core/internal/infrastructure/config"
	"github.com/nerrad567/pixelgrid-core/internal/infrastructure/logging"
	"github.com/nerrad567/pixelgrid-core/internal/scene"
	"github.com/nerrad567/pixelgrid-core/internal/scheduler"
)

// stubScheduler satisfies dispatch.SceneScheduler and api.SceneStates with
// canned responses.
type stubScheduler struct {
	state       scheduler.SceneState
	stateErr    error
	switchCalls int
	stopCalls   int
}

func (s *stubScheduler) SwitchScene(_ context.Context, deviceID, sceneName string, _ scheduler.Source) (scheduler.SceneState, error) {
	s.switchCalls++
	return scheduler.SceneState{
		DeviceID:     deviceID,
		CurrentScene: sceneName,
		Status:       device.StatusRunning,
		Generation:   1,
		Timestamp:    time.Now().UTC(),
	}, nil
}

func (s *stubScheduler) StopScene(_ context.Context, deviceID string) (scheduler.SceneState, error) {
	s.stopCalls++
	return scheduler.SceneState{DeviceID: deviceID, Status: device.StatusStopped}, nil
}

func (s *stubScheduler) PauseScene(context.Context, string) error  { return nil }
func (s *stubScheduler) ResumeScene(context.Context, string) error { return nil }
func (s *stubScheduler) Redraw(context.Context, string) error {
	return scheduler.ErrNoActiveScene
}

func (s *stubScheduler) DeviceSceneState(context.Context, string) (scheduler.SceneState, error) {
	return s.state, s.stateErr
}

// stubNotifier satisfies dispatch.Notifier.
type stubNotifier struct{}

func (stubNotifier) PublishSceneState(scheduler.SceneState)    {}
func (stubNotifier) PublishDeviceError(string, string, string) {}

func setupDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}

	schema := `
		CREATE TABLE devices (
			id                  TEXT PRIMARY KEY,
			name                TEXT NOT NULL DEFAULT '',
			address             TEXT NOT NULL DEFAULT '',
			driver              TEXT NOT NULL DEFAULT 'noop',
			width               INTEGER NOT NULL DEFAULT 32,
			height              INTEGER NOT NULL DEFAULT 8,
			supports_brightness INTEGER NOT NULL DEFAULT 0,
			supports_power      INTEGER NOT NULL DEFAULT 0,
			brightness          INTEGER NOT NULL DEFAULT 100,
			default_scene       TEXT NOT NULL DEFAULT '',
			active_scene        TEXT NOT NULL DEFAULT '',
			status              TEXT NOT NULL DEFAULT 'idle',
			generation          INTEGER NOT NULL DEFAULT 0,
			last_render_at      TEXT,
			push_count          INTEGER NOT NULL DEFAULT 0,
			error_count         INTEGER NOT NULL DEFAULT 0,
			last_frame_ms       INTEGER NOT NULL DEFAULT 0,
			created_at          TEXT NOT NULL,
			updated_at          TEXT NOT NULL
		);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		t.Fatalf("failed to create test schema: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	return db
}

type testServer struct {
	server *Server
	router http.Handler
	sched  *stubScheduler
}

func setupServer(t *testing.T) *testServer {
	t.Helper()

	factory := driver.NewFactory()
	if err := factory.RegisterBuiltins(); err != nil {
		t.Fatalf("registering drivers: %v", err)
	}

	registry := device.NewRegistry(device.NewSQLiteRepository(setupDB(t)), factory, device.Defaults{
		Width: 32, Height: 8, DefaultScene: "clock",
	})

	scenes := scene.NewRegistry()
	if err := scenes.Register(&scene.Module{
		Name:     "clock",
		Category: "clock",
		Render: func(ctx *scene.Context) (scene.Result, error) {
			ctx.Frame.Fill(0, 0, 0)
			return scene.Done(), nil
		},
	}); err != nil {
		t.Fatalf("registering scene: %v", err)
	}

	sched := &stubScheduler{
		state: scheduler.SceneState{
			DeviceID:     "dev-1",
			CurrentScene: "clock",
			Status:       device.StatusRunning,
			Generation:   1,
		},
	}
	dispatcher := dispatch.NewDispatcher(sched, registry, scenes, stubNotifier{})

	srv, err := New(Deps{
		Config:     config.APIConfig{Host: "127.0.0.1", Port: 0},
		WS:         config.WebSocketConfig{MaxMessageSize: 8192, PingInterval: 30, PongTimeout: 10},
		Logger:     logging.Default(),
		Registry:   registry,
		Scenes:     scenes,
		Drivers:    factory,
		Dispatcher: dispatcher,
		States:     sched,
		Version:    "test",
	})
	if err != nil {
		t.Fatalf("creating server: %v", err)
	}
	srv.hub = NewHub(srv.wsCfg, srv.logger)

	return &testServer{server: srv, router: srv.buildRouter(), sched: sched}
}

func (ts *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshaling body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decoding response %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestHealthEndpoint(t *testing.T) {
	ts := setupServer(t)

	rec := ts.do(t, http.MethodGet, "/api/v1/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["status"] != "ok" || body["version"] != "test" {
		t.Errorf("unexpected health body %v", body)
	}
}

func TestListScenes(t *testing.T) {
	ts := setupServer(t)

	rec := ts.do(t, http.MethodGet, "/api/v1/scenes", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["count"] != float64(1) {
		t.Errorf("expected 1 scene, got %v", body["count"])
	}
}

func TestListDrivers(t *testing.T) {
	ts := setupServer(t)

	rec := ts.do(t, http.MethodGet, "/api/v1/drivers", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["count"] != float64(2) {
		t.Errorf("expected noop and sim kinds, got %v", body["drivers"])
	}
}

func TestDeviceLifecycle(t *testing.T) {
	ts := setupServer(t)

	create := map[string]any{
		"id": "lobby-matrix", "name": "Lobby Matrix", "driver": "sim",
		"width": 64, "height": 32, "defaultScene": "clock",
	}

	rec := ts.do(t, http.MethodPost, "/api/v1/devices", create)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = ts.do(t, http.MethodPost, "/api/v1/devices", create)
	if rec.Code != http.StatusConflict {
		t.Fatalf("duplicate create: expected 409, got %d", rec.Code)
	}

	rec = ts.do(t, http.MethodGet, "/api/v1/devices/lobby-matrix", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get: expected 200, got %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["driver"] != "sim" || body["width"] != float64(64) {
		t.Errorf("unexpected device body %v", body)
	}

	rec = ts.do(t, http.MethodPatch, "/api/v1/devices/lobby-matrix", map[string]any{"name": "Lobby"})
	if rec.Code != http.StatusOK {
		t.Fatalf("patch: expected 200, got %d", rec.Code)
	}
	if decodeBody(t, rec)["name"] != "Lobby" {
		t.Error("patch should update the name")
	}

	rec = ts.do(t, http.MethodGet, "/api/v1/devices", nil)
	if decodeBody(t, rec)["count"] != float64(1) {
		t.Error("expected one device in list")
	}

	rec = ts.do(t, http.MethodDelete, "/api/v1/devices/lobby-matrix", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete: expected 200, got %d", rec.Code)
	}

	rec = ts.do(t, http.MethodGet, "/api/v1/devices/lobby-matrix", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("get after delete: expected 404, got %d", rec.Code)
	}
}

func TestCreateDeviceValidation(t *testing.T) {
	ts := setupServer(t)

	tests := []struct {
		name string
		body map[string]any
	}{
		{"bad id", map[string]any{"id": "has spaces", "driver": "sim", "width": 8, "height": 8}},
		{"zero canvas", map[string]any{"id": "dev-1", "driver": "sim", "width": 0, "height": 8}},
		{"oversized canvas", map[string]any{"id": "dev-1", "driver": "sim", "width": 4096, "height": 8}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(t, http.MethodPost, "/api/v1/devices", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("expected 400, got %d", rec.Code)
			}
		})
	}
}

func TestScenePlayCommand(t *testing.T) {
	ts := setupServer(t)

	rec := ts.do(t, http.MethodPost, "/api/v1/devices/dev-1/scene/play", map[string]any{"scene": "clock"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if ts.sched.switchCalls != 1 {
		t.Errorf("expected 1 switch call, got %d", ts.sched.switchCalls)
	}
	body := decodeBody(t, rec)
	if body["commandId"] == "" || body["accepted"] != true {
		t.Errorf("unexpected command response %v", body)
	}
}

func TestUnknownSceneAction(t *testing.T) {
	ts := setupServer(t)

	rec := ts.do(t, http.MethodPost, "/api/v1/devices/dev-1/scene/rewind", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if ts.sched.switchCalls != 0 {
		t.Error("unknown action must not reach the scheduler")
	}
}

func TestResetCommand(t *testing.T) {
	ts := setupServer(t)

	rec := ts.do(t, http.MethodPost, "/api/v1/devices/dev-1/reset/hard", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if ts.sched.stopCalls != 1 {
		t.Errorf("expected 1 stop call, got %d", ts.sched.stopCalls)
	}

	rec = ts.do(t, http.MethodPost, "/api/v1/devices/dev-1/reset/factory", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown reset action, got %d", rec.Code)
	}
}

func TestGetSceneState(t *testing.T) {
	ts := setupServer(t)

	rec := ts.do(t, http.MethodGet, "/api/v1/devices/dev-1/scene", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["currentScene"] != "clock" || body["generationId"] != float64(1) {
		t.Errorf("unexpected scene state %v", body)
	}
}

func TestSetBrightness(t *testing.T) {
	ts := setupServer(t)

	ts.do(t, http.MethodPost, "/api/v1/devices", map[string]any{
		"id": "dev-1", "driver": "sim", "width": 8, "height": 8, "supportsBrightness": true,
	})

	rec := ts.do(t, http.MethodPut, "/api/v1/devices/dev-1/brightness", map[string]any{"brightness": 40})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = ts.do(t, http.MethodPut, "/api/v1/devices/dev-1/brightness", map[string]any{"brightness": 150})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for out-of-range brightness, got %d", rec.Code)
	}
}

func TestRequestIDHeader(t *testing.T) {
	ts := setupServer(t)

	rec := ts.do(t, http.MethodGet, "/api/v1/health", nil)
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID header on responses")
	}
}
