// Package session implements the write-behind session layer. The cache
// is the source of truth for live conversations; the durable store trails
// behind via background upserts and is only consulted on cache misses.
// Losing queued writes on a crash is an accepted trade for never blocking
// the conversation path on storage.
package session
