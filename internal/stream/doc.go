// Package stream serves live hub events to clients over SSE or
// WebSocket. Each connection is one subscription, created when the client
// attaches and released on every exit path.
package stream
