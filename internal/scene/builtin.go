package scene

import (
	"runtime"
	"time"
)

// Built-in scene names referenced elsewhere in the system.
const (
	// SceneClock is the default fallback scene: always registered, runs on
	// any device, and cannot fail to render.
	SceneClock = "clock"

	SceneSolid   = "solid"
	SceneCounter = "counter"
	SceneSysinfo = "sysinfo"
)

// RegisterBuiltins adds the built-in scene modules to a registry.
// Called once at startup; an error here is a programming bug, not a
// runtime condition.
func RegisterBuiltins(r *Registry) error {
	builtins := []*Module{
		clockModule(),
		solidModule(),
		counterModule(),
		sysinfoModule(),
	}
	for _, m := range builtins {
		if err := r.Register(m); err != nil {
			return err
		}
	}
	return nil
}

// clockModule renders a binary clock: one column per time component, lit
// pixels from the bottom. Deliberately primitive - no font rendering - but
// visibly alive, which is what a fallback scene needs to be.
func clockModule() *Module {
	return &Module{
		Name:      SceneClock,
		Category:  "clock",
		WantsLoop: true,
		Meta:      Meta{Author: "pixelgrid", Version: "1.0", Tags: []string{"builtin", "fallback"}},
		Render: func(ctx *Context) (Result, error) {
			now := time.Now()
			ctx.Frame.Clear()

			components := []int{now.Hour() / 10, now.Hour() % 10, now.Minute() / 10, now.Minute() % 10, now.Second() % 10}
			h := ctx.Frame.Height()
			for col, v := range components {
				x := col * 2
				for bit := 0; bit < h && bit < 4; bit++ {
					if v&(1<<bit) != 0 {
						ctx.Frame.SetPixel(x, h-1-bit, 0, 160, 255)
					}
				}
			}
			return Next(time.Second), nil
		},
	}
}

// solidModule fills the display with a single colour and stops. The colour
// can be seeded through the state bag ("r", "g", "b"); defaults to warm white.
func solidModule() *Module {
	return &Module{
		Name:     SceneSolid,
		Category: "ambient",
		Meta:     Meta{Author: "pixelgrid", Version: "1.0", Tags: []string{"builtin"}},
		Render: func(ctx *Context) (Result, error) {
			r := byte(ctx.State.GetInt("r", 255))
			g := byte(ctx.State.GetInt("g", 180))
			b := byte(ctx.State.GetInt("b", 80))
			ctx.Frame.Fill(r, g, b)
			return Done(), nil
		},
	}
}

// counterModule animates a progress sweep across the top row. Exercises the
// loop path with per-frame state mutation; mostly useful for soak testing
// devices and drivers.
func counterModule() *Module {
	return &Module{
		Name:      SceneCounter,
		Category:  "test",
		WantsLoop: true,
		Meta:      Meta{Author: "pixelgrid", Version: "1.0", Tags: []string{"builtin", "test"}},
		Init: func(ctx *Context) error {
			ctx.State.Set("pos", 0)
			return nil
		},
		Render: func(ctx *Context) (Result, error) {
			pos := ctx.State.GetInt("pos", 0)
			w := ctx.Frame.Width()

			ctx.Frame.Clear()
			for x := 0; x <= pos%w; x++ {
				ctx.Frame.SetPixel(x, 0, 0, 255, 80)
			}
			ctx.State.Set("pos", pos+1)

			return Next(100 * time.Millisecond), nil
		},
	}
}

// sysinfoModule renders a one-shot host snapshot: one lit pixel per running
// goroutine (capped at the canvas), green when the count is modest.
func sysinfoModule() *Module {
	return &Module{
		Name:     SceneSysinfo,
		Category: "info",
		Meta:     Meta{Author: "pixelgrid", Version: "1.0", Tags: []string{"builtin"}},
		Render: func(ctx *Context) (Result, error) {
			n := runtime.NumGoroutine()
			w, h := ctx.Frame.Width(), ctx.Frame.Height()

			ctx.Frame.Clear()
			var r, g byte = 0, 255
			if n > w*h/2 {
				r, g = 255, 80
			}
			for i := 0; i < n && i < w*h; i++ {
				ctx.Frame.SetPixel(i%w, i/w, r, g, 0)
			}
			return Done(), nil
		},
	}
}
