// Package server provides the HTTP badge feed for leadpulse.
//
// Routes:
//
//   - GET /api/counts: all collection counts as JSON
//   - GET /api/counts/{collection}: one collection's count, 404 if unknown
//   - GET /api/sse: Server-Sent Events stream of count updates
//   - GET /healthz: liveness probe
//
// The server shuts down gracefully when its context is cancelled, with a
// 5-second timeout for in-flight requests.
//
// Users of the leadpulse library should not need to interact with this
// package directly. The server is started by [leadpulse.Board.Start].
package server
