// Package gateway wires the session layer, broadcast hub, stream
// adapters, and notifier behind the HTTP API, and owns server lifecycle.
package gateway
