// Package scene defines the pluggable display modules and the scene table.
//
// A scene module implements one required capability - Render, which draws a
// frame and returns either a delay until the next frame or a terminal
// result - plus optional Init and Cleanup lifecycle hooks. Module shape is
// validated at registration, so a malformed module is rejected at load time
// rather than at first render.
//
// Scenes are isolated from each other through the State bag: every
// (device, scene) activation gets a fresh bag that is discarded when the
// scene is switched away or stopped. A scene can never observe another
// scene's state, nor its own state from a previous activation.
//
// The scheduler (internal/scheduler) owns all invocation, timing and
// generation gating; this package only describes what a scene is.
package scene
