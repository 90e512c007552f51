package scene

import (
	"errors"
	"testing"

	"github.com/nerrad567/pixelgrid-core/internal/frame"
)

func testModule(name string) *Module {
	return &Module{
		Name: name,
		Render: func(_ *Context) (Result, error) {
			return Done(), nil
		},
	}
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	r := NewRegistry()

	if err := r.Register(testModule("demo")); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	m, err := r.Get("demo")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if m.Name != "demo" {
		t.Errorf("Name = %q, want %q", m.Name, "demo")
	}

	if !r.Has("demo") {
		t.Error("Has(demo) = false, want true")
	}
	if r.Count() != 1 {
		t.Errorf("Count() = %d, want 1", r.Count())
	}
}

func TestRegistry_GetUnknown(t *testing.T) {
	r := NewRegistry()

	_, err := r.Get("ghost")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(ghost) error = %v, want ErrNotFound", err)
	}
}

func TestRegistry_DuplicateName(t *testing.T) {
	r := NewRegistry()

	if err := r.Register(testModule("demo")); err != nil {
		t.Fatalf("first Register() error = %v", err)
	}
	err := r.Register(testModule("demo"))
	if !errors.Is(err, ErrExists) {
		t.Errorf("duplicate Register() error = %v, want ErrExists", err)
	}
}

func TestRegistry_ValidationRejectsAtLoadTime(t *testing.T) {
	r := NewRegistry()

	tests := []struct {
		name   string
		module *Module
	}{
		{"nil module", nil},
		{"empty name", testModule("")},
		{"name with slash", testModule("a/b")},
		{"name with wildcard", testModule("a+b")},
		{"name with space", testModule("a b")},
		{"missing render", &Module{Name: "norender"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := r.Register(tt.module)
			if !errors.Is(err, ErrInvalidModule) {
				t.Errorf("Register() error = %v, want ErrInvalidModule", err)
			}
		})
	}
}

func TestRegistry_ResolveAllowList(t *testing.T) {
	r := NewRegistry()

	m := testModule("matrix-only")
	m.DeviceTypes = []string{"matrix64"}
	if err := r.Register(m); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	if _, err := r.Resolve("matrix-only", "matrix64"); err != nil {
		t.Errorf("Resolve(allowed type) error = %v", err)
	}

	_, err := r.Resolve("matrix-only", "ring12")
	if !errors.Is(err, ErrDeviceNotAllowed) {
		t.Errorf("Resolve(forbidden type) error = %v, want ErrDeviceNotAllowed", err)
	}
}

func TestRegistry_ListSorted(t *testing.T) {
	r := NewRegistry()
	for _, name := range []string{"zeta", "alpha", "mid"} {
		if err := r.Register(testModule(name)); err != nil {
			t.Fatalf("Register(%s) error = %v", name, err)
		}
	}

	list := r.List()
	want := []string{"alpha", "mid", "zeta"}
	if len(list) != len(want) {
		t.Fatalf("List() length = %d, want %d", len(list), len(want))
	}
	for i, m := range list {
		if m.Name != want[i] {
			t.Errorf("List()[%d] = %q, want %q", i, m.Name, want[i])
		}
	}
}

func TestRegisterBuiltins(t *testing.T) {
	r := NewRegistry()
	if err := RegisterBuiltins(r); err != nil {
		t.Fatalf("RegisterBuiltins() error = %v", err)
	}

	for _, name := range []string{SceneClock, SceneSolid, SceneCounter, SceneSysinfo} {
		if !r.Has(name) {
			t.Errorf("builtin %q not registered", name)
		}
	}
}

func TestBuiltin_ClockRendersAndLoops(t *testing.T) {
	r := NewRegistry()
	if err := RegisterBuiltins(r); err != nil {
		t.Fatalf("RegisterBuiltins() error = %v", err)
	}

	m, err := r.Get(SceneClock)
	if err != nil {
		t.Fatalf("Get(clock) error = %v", err)
	}

	ctx := NewContext("d1", "matrix", frame.New(32, 8), NewState(), nil, 1)
	res, err := m.Render(ctx)
	if err != nil {
		t.Fatalf("clock Render() error = %v", err)
	}
	if res.Terminal() {
		t.Error("clock should loop, got terminal result")
	}
	if res.Delay() <= 0 {
		t.Errorf("clock delay = %v, want positive", res.Delay())
	}
}

func TestBuiltin_SolidIsOneShot(t *testing.T) {
	r := NewRegistry()
	if err := RegisterBuiltins(r); err != nil {
		t.Fatalf("RegisterBuiltins() error = %v", err)
	}

	m, _ := r.Get(SceneSolid)
	ctx := NewContext("d1", "matrix", frame.New(4, 4), NewState(), nil, 1)

	res, err := m.Render(ctx)
	if err != nil {
		t.Fatalf("solid Render() error = %v", err)
	}
	if !res.Terminal() {
		t.Error("solid should be terminal after one render")
	}
	if rr, _, _ := ctx.Frame.At(0, 0); rr == 0 {
		t.Error("solid should have filled the frame")
	}
}
