// Package driver abstracts display hardware behind a swappable interface.
//
// A Driver translates push/clear/capability calls into a device-specific
// protocol. Kinds are registered in a Factory keyed by a string ("noop",
// "sim", "httpmatrix", "mqttmatrix", plus any deployment-specific kinds);
// the device registry constructs a driver per device and holds it behind a
// stable Handle so the implementation can be hot-swapped at runtime without
// the render loop noticing.
//
// Optional capabilities (brightness, power) are probed through
// Capabilities; calling an unsupported operation is a silent false-returning
// no-op, never an error. Unknown kinds fail at construction with
// ErrUnknownKind and no side effects, which is what lets a bad swap leave
// the previous driver untouched.
package driver
