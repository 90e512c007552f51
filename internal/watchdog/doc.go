// Package watchdog sweeps the device fleet and recovers unhealthy devices.
//
// A device is unhealthy when its render loop died with an error, or when an
// animated scene has stopped producing frames for longer than the configured
// staleness threshold. Recovery is a scene switch back through the normal
// resolution chain (device default, then configured fallback), submitted as
// an automated switch so a recent manual choice suppresses it.
package watchdog
