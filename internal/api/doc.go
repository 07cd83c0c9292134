// Package api implements the HTTP REST API and WebSocket server for Relay Core.
//
// This package provides:
//   - REST endpoints for device state, toggles, bulk toggles, commands,
//     conflicts and schedules
//   - a WebSocket hub where each UI client is its own fanout observer and
//     receives a state snapshot before live events
//   - the mount point for the device push channel
//   - middleware (request ID, logging, recovery, CORS, body limit, per-IP
//     rate limiting)
//
// # Error mapping
//
// Core sentinel errors map onto structured JSON errors: unknown devices and
// switches are 404, validation failures are 400, and everything else is 500.
// A toggle against an offline device is not an error; it answers 202 with
// status "queued".
package api
