// Package scheduler runs the per-device render loops.
//
// One loop per device, strictly serialised: commands for a device take a
// per-device mutex, so concurrent switches execute one at a time and the
// latest accepted switch wins. Devices never share loops, frames or state,
// and a failing scene or driver puts only its own device into error status.
//
// Correctness under concurrent switching rests on generations. Every
// accepted switch increments the device's generation before the old loop is
// stopped; each render cycle captures the generation it started under and
// re-checks it immediately before pushing. A frame whose generation has
// gone stale is discarded silently - by then a newer scene owns the
// display, and a late frame from the old scene must never flash onto it.
//
// The scheduler is also the single publisher of scene state transitions
// (switching, running, stopped, error) through its Notifier, so every
// transition is announced exactly once regardless of which command or
// failure caused it.
//
// Manual scene selections open a configurable grace window during which
// automated switches (watchdog, schedules) are rejected with
// ErrSwitchSuppressed, so a person's choice is not immediately overridden
// by machinery.
package scheduler
