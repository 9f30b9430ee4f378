// Package api implements the HTTP REST API and WebSocket server for the device hub.
//
// This package provides:
//   - REST endpoints for listing devices, reading state and history, and
//     executing commands through the same dispatch pipeline as the bus
//   - the command log, filtered per device or across the hub
//   - a WebSocket hub relaying device.state_changed events
//   - the middleware stack (request ID, logging, recovery, CORS, body limit)
//
// # Live updates
//
// Server implements device.Observer. Adding it to the registry makes every
// state change visible to WebSocket clients subscribed to device.state_changed:
//
//	srv, _ := api.New(deps)
//	registry.AddObserver(srv)
//	srv.Start(ctx)
//	defer srv.Close()
//
// # Graceful Degradation
//
// The server operates without the bus. Commands still run their handlers and
// update state, only bus publishes fail. History and command log endpoints
// answer 503 when their repositories are not configured.
package api
