// Package api provides the HTTP REST API and WebSocket server for
// Pixelgrid Core.
//
// It exposes the device fleet, the scene table and the command surface to
// admin UIs. Commands submitted over HTTP run through the same dispatcher
// as MQTT commands, so both surfaces share validation, error handling and
// status publication. The WebSocket endpoint relays the scene-state fanout
// to connected clients in real time.
//
// The server follows the same lifecycle pattern as other infrastructure
// components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
package api
