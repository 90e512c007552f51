// Package device manages the display fleet's device records and their
// runtime driver bindings.
//
// A Record is the durable half of a device: identity, canvas size, driver
// kind, declared capabilities and last-known playback state, persisted in
// SQLite through the Repository interface. The Registry wraps a Repository
// with an in-memory cache (deep-copied on every read so callers can never
// mutate cached state) and holds one stable driver.Handle per device.
//
// Two behaviours distinguish this registry from a plain CRUD cache:
//
//   - First-reference materialisation. A command addressed to a device
//     nobody created yet materialises a record with defaults and a noop
//     driver, so the full scheduling path works before hardware exists.
//
//   - Hot swap. SetDriver constructs and initialises the replacement driver
//     before touching anything; a failed swap leaves the previous driver
//     active and the record unchanged. The Handle identity is stable across
//     swaps, so render loops never hold a stale driver reference.
//
// Reconcile rebuilds cache and handles at startup and reports which devices
// were playing when the process last stopped, so their scenes can resume.
package device
